package hub

import "errors"

// Sentinel errors for hub and connection conditions.
var (
	// ErrHubClosed is returned when the hub loop is no longer running.
	ErrHubClosed = errors.New("hub: closed")

	// ErrUploadQueueFull is reported when too many uploads are pending.
	ErrUploadQueueFull = errors.New("hub: upload queue full")

	// ErrPersistQueueFull is reported when too many store writes are
	// pending.
	ErrPersistQueueFull = errors.New("hub: persistence queue full")

	// ErrMediaDisabled is reported when an upload arrives and no media
	// store is configured.
	ErrMediaDisabled = errors.New("hub: media storage not configured")
)
