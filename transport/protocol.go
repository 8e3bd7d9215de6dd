// Package transport carries namespace operations over a websocket. Every
// frame is one JSON text message: clients send Requests, servers answer with
// a Message holding the request id, and stream subscription notifications
// as Messages holding only the subscription id.
package transport

import (
	"errors"
	"fmt"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
)

type Op string

const (
	OpGet          Op = "get"
	OpPut          Op = "put"
	OpEnumerate    Op = "enumerate"
	OpSubscribe    Op = "subscribe"
	OpUnsubscribe  Op = "unsubscribe"
	OpInvoke       Op = "invoke"
	OpCapabilities Op = "capabilities"
)

type Request struct {
	ID    string      `json:"id"`
	Op    Op          `json:"op"`
	Path  string      `json:"path"`
	Depth int         `json:"depth,omitempty"`
	Input *data.Entry `json:"input,omitempty"`
	// Sub names the subscription to cancel for OpUnsubscribe.
	Sub string `json:"sub,omitempty"`
}

// Message is a response when ID is set and a stream frame otherwise. A
// stream frame with Done or Error set is the last one of its subscription.
type Message struct {
	ID string `json:"id,omitempty"`
	OK bool   `json:"ok,omitempty"`

	Entry        *data.Entry        `json:"entry,omitempty"`
	Entries      []*data.Entry      `json:"entries,omitempty"`
	Capabilities []entry.Capability `json:"capabilities,omitempty"`

	Sub          string             `json:"sub,omitempty"`
	Notification *data.Notification `json:"notification,omitempty"`
	Done         bool               `json:"done,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func (m *Message) Terminal() bool {
	return m.ID == "" && (m.Done || m.Error != "")
}

// Err rebuilds the error carried by the message, nil when there is none.
func (m *Message) Err() error {
	if m.Error == "" && m.Code == "" {
		return nil
	}
	return &RemoteError{Code: m.Code, Message: m.Error}
}

const (
	CodeInvalidPath    = "invalid_path"
	CodeNotMounted     = "not_mounted"
	CodeAlreadyMounted = "already_mounted"
	CodeMountBusy      = "mount_busy"
	CodeUnsupported    = "unsupported"
	CodeReadOnly       = "read_only"
	CodeInvalid        = "invalid"
	CodeValidation     = "validation"
	CodeTypeMismatch   = "type_mismatch"
	CodeBackingStore   = "backing_store"
	CodeDetached       = "detached"
	CodeSlowConsumer   = "slow_consumer"
	CodeClosed         = "closed"
	CodeProtocolBug    = "protocol_bug"
	CodeInternal       = "internal"
)

var codes = []struct {
	code     string
	sentinel error
}{
	{CodeInvalidPath, data.ErrInvalidPath},
	{CodeNotMounted, data.ErrNotMounted},
	{CodeAlreadyMounted, data.ErrAlreadyMounted},
	{CodeMountBusy, data.ErrMountBusy},
	{CodeUnsupported, data.ErrUnsupported},
	{CodeReadOnly, data.ErrReadOnly},
	{CodeValidation, data.ErrValidation},
	{CodeTypeMismatch, data.ErrTypeMismatch},
	{CodeBackingStore, data.ErrBackingStore},
	{CodeDetached, data.ErrDetached},
	{CodeSlowConsumer, data.ErrSlowConsumer},
	{CodeClosed, data.ErrClosed},
	{CodeInvalid, data.ErrInvalid},
}

// ErrorCode classifies err by the sentinel it wraps.
func ErrorCode(err error) string {
	var bug *data.ProtocolBug
	if errors.As(err, &bug) {
		return CodeProtocolBug
	}
	for _, c := range codes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return CodeInternal
}

// RemoteError is an error reported by the peer. It unwraps to the matching
// sentinel so errors.Is works across the connection.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("skylink: remote error (%s)", e.Code)
	}
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	for _, c := range codes {
		if c.code == e.Code {
			return c.sentinel
		}
	}
	return nil
}

func failure(id string, err error) *Message {
	return &Message{ID: id, Error: err.Error(), Code: ErrorCode(err)}
}
