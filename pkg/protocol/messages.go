package protocol

import (
	"time"

	"github.com/Giorgiomufen/display-sync/pkg/state"
)

// MessageType is the value of the "type" field.
type MessageType string

// Client → Server.
const (
	TypeRegisterControl    MessageType = "register_control"
	TypeRegisterDisplay    MessageType = "register_display"
	TypeUpdateState        MessageType = "update_state"
	TypeSetCanvasMode      MessageType = "set_canvas_mode"
	TypeUpdateCanvasLayout MessageType = "update_canvas_layout"
	TypeCanvasElements     MessageType = "canvas_elements"
	TypeCanvasUpload       MessageType = "canvas_upload"
	TypeCanvasContent      MessageType = "canvas_content"
	TypeUploadImage        MessageType = "upload_image"
	TypeUploadSceneImage   MessageType = "upload_scene_image"
	TypeSaveToLibrary      MessageType = "save_to_library"
	TypeDeleteFromLibrary  MessageType = "delete_from_library"
	TypeLoadFromLibrary    MessageType = "load_from_library"
	TypeBroadcastHTML      MessageType = "broadcast_html"
)

// Server → Client.
const (
	TypeInit               MessageType = "init"
	TypeStateUpdate        MessageType = "state_update"
	TypeDisplaysUpdate     MessageType = "displays_update"
	TypeLibraryUpdate      MessageType = "library_update"
	TypeSyncStatus         MessageType = "sync_status"
	TypeImageUploaded      MessageType = "image_uploaded"
	TypeSceneImageUploaded MessageType = "scene_image_uploaded"
	TypeError              MessageType = "error"
)

// IsMutation reports whether t requires the control role.
func (t MessageType) IsMutation() bool {
	switch t {
	case TypeRegisterControl, TypeRegisterDisplay:
		return false
	}
	return t.Inbound()
}

// Inbound reports whether t is a client → server type.
func (t MessageType) Inbound() bool {
	switch t {
	case TypeRegisterControl, TypeRegisterDisplay, TypeUpdateState,
		TypeSetCanvasMode, TypeUpdateCanvasLayout, TypeCanvasElements,
		TypeCanvasUpload, TypeCanvasContent, TypeUploadImage,
		TypeUploadSceneImage, TypeSaveToLibrary, TypeDeleteFromLibrary,
		TypeLoadFromLibrary, TypeBroadcastHTML:
		return true
	}
	return false
}

// Inbound is a decoded client message. Which fields are meaningful
// depends on Type; Decode fills defaults and rejects missing payloads.
type Inbound struct {
	Type MessageType `json:"type"`

	// register_display
	DisplayID *int `json:"displayId,omitempty"`

	// update_state
	State *state.Patch `json:"state,omitempty"`

	// set_canvas_mode
	CanvasMode *bool `json:"canvasMode,omitempty"`

	// update_canvas_layout, and optionally canvas_elements/upload/content
	CanvasLayout *state.Layout `json:"canvasLayout,omitempty"`

	// canvas_elements
	Elements []state.Element `json:"elements,omitempty"`

	// canvas_content
	Content *state.Content `json:"content,omitempty"`

	// canvas_upload, upload_image, upload_scene_image
	Image     string `json:"image,omitempty"`
	URL       string `json:"url,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	// save_to_library, broadcast_html
	HTML string  `json:"html,omitempty"`
	Name *string `json:"name,omitempty"`

	// delete_from_library, load_from_library
	ID string `json:"id,omitempty"`
}

// LibraryEntry is the listing form of a library item; content is loaded
// on demand through load_from_library.
type LibraryEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int       `json:"size"`
}

// Init is the first snapshot sent to a newly registered connection.
type Init struct {
	Type              MessageType    `json:"type"`
	DisplayID         int            `json:"displayId,omitempty"`
	State             *state.State   `json:"state"`
	ConnectedDisplays []int          `json:"connectedDisplays"`
	Library           []LibraryEntry `json:"library"`
	LanIP             string         `json:"lanIP"`
	HTTPPort          int            `json:"httpPort"`
}

// StateUpdate carries the full state after any accepted mutation.
type StateUpdate struct {
	Type  MessageType  `json:"type"`
	State *state.State `json:"state"`
}

// DisplaysUpdate carries the roster of connected display indices.
type DisplaysUpdate struct {
	Type              MessageType `json:"type"`
	ConnectedDisplays []int       `json:"connectedDisplays"`
}

// LibraryUpdate carries the full library listing.
type LibraryUpdate struct {
	Type    MessageType    `json:"type"`
	Library []LibraryEntry `json:"library"`
}

// ImageUploaded answers an upload with the servable URL.
// Type is image_uploaded or scene_image_uploaded.
type ImageUploaded struct {
	Type      MessageType `json:"type"`
	URL       string      `json:"url"`
	RequestID string      `json:"requestId,omitempty"`
}

// Sync phases reported in SyncStatus.
const (
	SyncStarted  = "started"
	SyncComplete = "complete"
	SyncFailed   = "failed"
)

// SyncStatus reports progress of a content push to the control that
// started it.
type SyncStatus struct {
	Type      MessageType `json:"type"`
	Phase     string      `json:"phase"`
	Op        MessageType `json:"op"`
	RequestID string      `json:"requestId,omitempty"`
	Displays  int         `json:"displays"`
}

// Error reports a failed operation to the control that requested it.
type Error struct {
	Type      MessageType `json:"type"`
	Op        MessageType `json:"op"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
}

// NewStateUpdate builds a state_update for s.
func NewStateUpdate(s *state.State) *StateUpdate {
	return &StateUpdate{Type: TypeStateUpdate, State: s}
}

// NewDisplaysUpdate builds a displays_update for roster.
func NewDisplaysUpdate(roster []int) *DisplaysUpdate {
	if roster == nil {
		roster = []int{}
	}
	return &DisplaysUpdate{Type: TypeDisplaysUpdate, ConnectedDisplays: roster}
}

// NewLibraryUpdate builds a library_update for entries.
func NewLibraryUpdate(entries []LibraryEntry) *LibraryUpdate {
	if entries == nil {
		entries = []LibraryEntry{}
	}
	return &LibraryUpdate{Type: TypeLibraryUpdate, Library: entries}
}

// NewError builds an error message for op.
func NewError(op MessageType, requestID string, err error) *Error {
	return &Error{Type: TypeError, Op: op, Message: err.Error(), RequestID: requestID}
}
