package hub

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/Giorgiomufen/display-sync/pkg/media"
	"github.com/Giorgiomufen/display-sync/pkg/state"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

// Config configures a Hub.
type Config struct {
	// Store persists the library and the canvas layout.
	// Default: an in-memory store.
	Store store.Store

	// Media stores uploaded images. When nil, uploads are answered
	// with an error message.
	Media *media.Resolver

	// Logger receives hub logs. Default: slog.Default().
	Logger *slog.Logger

	// Registerer receives the hub's Prometheus collectors.
	// Default: nil (metrics are collected but not registered).
	Registerer prometheus.Registerer

	// Tracer creates one span per dispatched message.
	// Default: the global otel tracer named "displaysync/hub".
	Tracer trace.Tracer

	// DisplayCount is the initial number of displays.
	// Default: 3.
	DisplayCount int

	// MaxDisplayCount caps displayCount and layout keys set by controls.
	// It can only lower state.MaxDisplayCount.
	// Default: state.MaxDisplayCount.
	MaxDisplayCount int

	// LanIP and HTTPPort are reported in init snapshots so controls can
	// show display URLs.
	LanIP    string
	HTTPPort int

	// SendQueueSize is the per-connection outbound buffer. A connection
	// whose buffer is full when a broadcast arrives is dropped.
	// Default: 64.
	SendQueueSize int

	// WriteTimeout bounds each frame write. Default: 10s.
	WriteTimeout time.Duration

	// MaxMessageSize is the largest inbound frame in bytes.
	// Default: 50 MiB.
	MaxMessageSize int64

	// ReadBufferSize and WriteBufferSize size the websocket buffers.
	// Default: 4096 each.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the Origin header on upgrade.
	// Default: AllowAllOrigins, since pages and the sync channel are
	// served on different ports.
	CheckOrigin func(r *http.Request) bool

	// UploadWorkers is the number of goroutines storing images.
	// Default: 2.
	UploadWorkers int

	// UploadQueueSize bounds pending uploads. Default: 16.
	UploadQueueSize int

	// PersistQueueSize bounds store writes waiting for the persistence
	// worker. Default: 64.
	PersistQueueSize int

	// PersistTimeout bounds each store call. Default: 10s.
	PersistTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DisplayCount:     state.DefaultDisplayCount,
		MaxDisplayCount:  state.MaxDisplayCount,
		SendQueueSize:    64,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   50 << 20,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      AllowAllOrigins,
		UploadWorkers:    2,
		UploadQueueSize:  16,
		PersistQueueSize: 64,
		PersistTimeout:   10 * time.Second,
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		return defaults
	}
	cfg := *c
	if cfg.MaxDisplayCount <= 0 || cfg.MaxDisplayCount > state.MaxDisplayCount {
		cfg.MaxDisplayCount = defaults.MaxDisplayCount
	}
	if cfg.DisplayCount < 1 {
		cfg.DisplayCount = defaults.DisplayCount
	}
	if cfg.DisplayCount > cfg.MaxDisplayCount {
		cfg.DisplayCount = cfg.MaxDisplayCount
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaults.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaults.WriteBufferSize
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = defaults.CheckOrigin
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = defaults.UploadWorkers
	}
	if cfg.UploadQueueSize <= 0 {
		cfg.UploadQueueSize = defaults.UploadQueueSize
	}
	if cfg.PersistQueueSize <= 0 {
		cfg.PersistQueueSize = defaults.PersistQueueSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaults.PersistTimeout
	}
	return &cfg
}

// AllowAllOrigins accepts every upgrade request.
func AllowAllOrigins(r *http.Request) bool { return true }

// AllowOrigins returns a CheckOrigin func accepting requests without an
// Origin header and those whose origin host matches one of hosts.
// A host without a port matches any port.
func AllowOrigins(hosts ...string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, h := range hosts {
			if strings.EqualFold(u.Host, h) || (!strings.Contains(h, ":") && strings.EqualFold(u.Hostname(), h)) {
				return true
			}
		}
		return false
	}
}
