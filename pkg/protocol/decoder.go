package protocol

import (
	"encoding/json"
	"errors"

	"github.com/Giorgiomufen/display-sync/pkg/state"
)

// Payload defaults carried over from the reference clients.
const (
	DefaultDisplayID   = 1
	DefaultLibraryName = "Untitled"
	DefaultLiveName    = "Live"
)

var (
	errMissingPayload = errors.New("missing payload")
	errBadDisplayID   = errors.New("displayId must be >= 1")
)

// Decode parses one inbound frame. It rejects frames without a known
// type and fills per-type defaults, so the hub can act on the result
// without further nil checks on required fields.
func Decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		// Try to recover the type for a better error.
		var env struct {
			Type MessageType `json:"type"`
		}
		_ = json.Unmarshal(data, &env)
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	if in.Type == "" {
		return nil, &DecodeError{Err: ErrMissingType}
	}
	if !in.Type.Inbound() {
		return nil, &DecodeError{Type: in.Type, Err: ErrUnknownType}
	}
	if err := in.normalize(); err != nil {
		return nil, &DecodeError{Type: in.Type, Err: err}
	}
	return &in, nil
}

func (in *Inbound) normalize() error {
	if in.CanvasLayout != nil {
		if err := in.CanvasLayout.Validate(state.MaxDisplayCount); err != nil {
			return err
		}
	}

	switch in.Type {
	case TypeRegisterDisplay:
		if in.DisplayID == nil {
			id := DefaultDisplayID
			in.DisplayID = &id
		}
		if *in.DisplayID < 1 {
			return errBadDisplayID
		}

	case TypeUpdateState:
		if in.State == nil {
			return errMissingPayload
		}
		return in.State.Validate()

	case TypeSetCanvasMode:
		if in.CanvasMode == nil {
			off := false
			in.CanvasMode = &off
		}

	case TypeUpdateCanvasLayout:
		if in.CanvasLayout == nil {
			in.CanvasLayout = &state.Layout{}
		}

	case TypeCanvasElements:
		if in.Elements == nil {
			in.Elements = []state.Element{}
		}
		p := state.Patch{CanvasElements: &in.Elements}
		return p.Validate()

	case TypeCanvasUpload:
		if in.Image == "" && in.URL == "" {
			return errMissingPayload
		}

	case TypeUploadImage, TypeUploadSceneImage:
		if in.Image == "" {
			return errMissingPayload
		}

	case TypeSaveToLibrary:
		if in.Name == nil || *in.Name == "" {
			name := DefaultLibraryName
			in.Name = &name
		}

	case TypeBroadcastHTML:
		if in.Name == nil || *in.Name == "" {
			name := DefaultLiveName
			in.Name = &name
		}

	case TypeDeleteFromLibrary, TypeLoadFromLibrary:
		if in.ID == "" {
			return errMissingPayload
		}
	}
	return nil
}

// NameOrEmpty returns the decoded name, or "" when absent.
func (in *Inbound) NameOrEmpty() string {
	if in.Name == nil {
		return ""
	}
	return *in.Name
}
