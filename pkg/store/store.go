package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Giorgiomufen/display-sync/pkg/state"
)

// ErrClosed is returned when operations are attempted on a closed store.
var ErrClosed = errors.New("store: closed")

// Item is a named piece of custom content. Items are immutable once
// saved; saving the same content again creates a new item.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	HTMLContent string    `json:"htmlContent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	// Size is len(HTMLContent) in bytes. It is set even when List
	// leaves HTMLContent empty.
	Size int `json:"size"`
}

// Library persists library items. Implementations must be safe for
// concurrent use.
type Library interface {
	// Save creates a new item with a generated ID.
	Save(ctx context.Context, name, htmlContent string) (*Item, error)

	// Get returns (nil, nil) if the item doesn't exist.
	Get(ctx context.Context, id string) (*Item, error)

	// Delete removes an item. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every item in creation order without HTMLContent.
	// Size still reports the content length.
	List(ctx context.Context) ([]Item, error)
}

// Layouts persists the canvas layout offsets across restarts.
type Layouts interface {
	// LoadLayout returns an empty layout if none was saved.
	LoadLayout(ctx context.Context) (state.Layout, error)

	// SaveLayout replaces the saved layout wholesale.
	SaveLayout(ctx context.Context, l state.Layout) error
}

// Store is a complete persistence backend.
type Store interface {
	Library
	Layouts

	// Close releases any resources held by the store.
	Close() error
}

// NewID returns a time-ordered unique item ID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
