package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingType is returned for a frame without a "type" field.
	ErrMissingType = errors.New("protocol: missing message type")

	// ErrUnknownType is returned for a frame whose type is not in the protocol.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// DecodeError wraps a failure to decode an inbound frame.
type DecodeError struct {
	Type MessageType // may be empty if the envelope itself was unreadable
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: decode: %v", e.Err)
	}
	return fmt.Sprintf("protocol: decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
