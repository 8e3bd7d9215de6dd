package cmd

import "time"

// CommandArgs contains parsed command arguments
type CommandArgs struct {
	// Positional arguments (command-specific)
	Args []string

	// Parsed flags
	Flags map[string]any

	// Raw unparsed arguments (for custom parsing)
	Raw []string
}

// CommandFlagSet defines the expected flags for a command
type CommandFlagSet struct {
	Flags map[string]*CommandFlag
}

// CommandFlag represents a single command-line flag
type CommandFlag struct {
	Name        string `json:"name"`              // e.g., "type" or "t"
	Short       string `json:"short"`             // Single-char shorthand (e.g., "t")
	Type        string `json:"type"`              // "string", "bool", "int", "duration"
	Default     any    `json:"default,omitempty"` // Default value
	Required    bool   `json:"required"`          // Must be provided
	Description string `json:"description"`       // Help text
	Multiple    bool   `json:"multiple"`          // Can be specified multiple times
}

// String returns the flag value, or "" when unset.
func (a *CommandArgs) String(name string) string {
	v, _ := a.Flags[name].(string)
	return v
}

func (a *CommandArgs) Bool(name string) bool {
	v, _ := a.Flags[name].(bool)
	return v
}

// Int accepts both parsed (int64) and default (int) values.
func (a *CommandArgs) Int(name string) int {
	switch v := a.Flags[name].(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (a *CommandArgs) Duration(name string) time.Duration {
	v, _ := a.Flags[name].(time.Duration)
	return v
}

// Arg returns the positional argument at i, or fallback.
func (a *CommandArgs) Arg(i int, fallback string) string {
	if i < len(a.Args) {
		return a.Args[i]
	}
	return fallback
}
