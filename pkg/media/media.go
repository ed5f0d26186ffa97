package media

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrEmpty is returned when an image payload has no data.
var ErrEmpty = errors.New("media: empty image")

// ErrTooLarge is returned when a decoded image exceeds the size limit.
var ErrTooLarge = errors.New("media: image too large")

// ErrNotFound is returned when an object doesn't exist.
var ErrNotFound = errors.New("media: object not found")

// Store is the interface for media storage backends.
type Store interface {
	// Put stores data under name and returns a URL displays can load.
	// Putting the same name twice overwrites the object.
	Put(ctx context.Context, name, contentType string, data []byte) (url string, err error)

	// Cleanup removes objects older than maxAge and returns how many
	// were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// Image is a decoded inline image.
type Image struct {
	Data        []byte
	ContentType string
	Ext         string
}

// DecodeDataURL decodes a "data:image/...;base64,..." string. A bare
// base64 payload without a header is accepted and treated as PNG.
func DecodeDataURL(s string) (*Image, error) {
	if s == "" {
		return nil, ErrEmpty
	}

	img := &Image{ContentType: "image/png", Ext: ".png"}
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("media: malformed data url")
		}
		payload = rest
		img.ContentType, img.Ext = typeFromHeader(header)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("media: decode base64: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img.Data = data
	return img, nil
}

func typeFromHeader(header string) (contentType, ext string) {
	switch {
	case strings.Contains(header, "image/jpeg"), strings.Contains(header, "image/jpg"):
		return "image/jpeg", ".jpg"
	case strings.Contains(header, "image/gif"):
		return "image/gif", ".gif"
	case strings.Contains(header, "image/webp"):
		return "image/webp", ".webp"
	}
	return "image/png", ".png"
}

// ObjectName returns a content-addressed name for img: prefix, the
// first 32 hex digits of its BLAKE3 hash, then the extension.
func ObjectName(prefix string, img *Image) string {
	sum := blake3.Sum256(img.Data)
	return prefix + hex.EncodeToString(sum[:16]) + img.Ext
}

// Resolver turns upload payloads into servable URLs.
type Resolver struct {
	store   Store
	maxSize int
}

// NewResolver creates a resolver writing to store. maxSize limits the
// decoded image size in bytes (0 = no limit).
func NewResolver(store Store, maxSize int) *Resolver {
	return &Resolver{store: store, maxSize: maxSize}
}

// Put decodes an inline image and stores it under a name starting with
// prefix.
func (r *Resolver) Put(ctx context.Context, prefix, dataURL string) (string, error) {
	img, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if r.maxSize > 0 && len(img.Data) > r.maxSize {
		return "", ErrTooLarge
	}
	return r.store.Put(ctx, ObjectName(prefix, img), img.ContentType, img.Data)
}

// Resolve stores image when present, otherwise returns remoteURL
// unchanged.
func (r *Resolver) Resolve(ctx context.Context, prefix, image, remoteURL string) (string, error) {
	if image != "" {
		return r.Put(ctx, prefix, image)
	}
	if remoteURL == "" {
		return "", ErrEmpty
	}
	return remoteURL, nil
}
