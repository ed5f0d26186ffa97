package protocol

import (
	"encoding/json"
)

// Encode serializes an outbound message. Every message type in this
// package marshals without error; the error is returned for callers
// passing arbitrary values.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// TypeOf returns the type tag of an outbound message built by this
// package, or "" for anything else.
func TypeOf(msg any) MessageType {
	switch m := msg.(type) {
	case *Init:
		return m.Type
	case *StateUpdate:
		return m.Type
	case *DisplaysUpdate:
		return m.Type
	case *LibraryUpdate:
		return m.Type
	case *ImageUploaded:
		return m.Type
	case *SyncStatus:
		return m.Type
	case *Error:
		return m.Type
	}
	return ""
}
