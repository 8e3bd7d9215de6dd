package data

import "github.com/google/uuid"

// NewID returns a time-sortable identifier for generated record ids.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
