package backend

import "slices"

// BackendCapability represents a capability that a backend can provide
type BackendCapability string

const (
	// Core capabilities by backend
	CapabilityDocuments   BackendCapability = "documents"
	CapabilityCollections BackendCapability = "collections"

	// Change feed capabilities
	CapabilityWatch       BackendCapability = "watch"
	CapabilityRemoteWatch BackendCapability = "remote_watch"

	// Durability
	CapabilityPersistent BackendCapability = "persistent"
)

// BackendCapabilities describes what a backend supports
type BackendCapabilities struct {
	Capabilities    []BackendCapability `json:"capabilities"`
	MaxDocumentSize int64               `json:"max_document_size"`
}

// Contains checks if a capability is supported
func (vbc *BackendCapabilities) Contains(cap BackendCapability) bool {
	return slices.Contains(vbc.Capabilities, cap)
}
