// Package web serves the HTTP side of displaysync: control and display
// pages, the library API, uploaded media and metrics. The sync channel
// itself is served by hub.Hub on its own listener.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Giorgiomufen/display-sync/pkg/hub"
	"github.com/Giorgiomufen/display-sync/pkg/protocol"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

// Page files looked up in the public directory.
const (
	ControlPage = "control.html"
	DisplayPage = "display.html"
)

// Backend is the hub surface the HTTP side reads from.
type Backend interface {
	Snapshot() *hub.Snapshot
	Library(ctx context.Context) ([]protocol.LibraryEntry, error)
	Store() store.Store
}

// Options configures the router.
type Options struct {
	Backend Backend

	// Media serves uploaded images under MediaPrefix. Nil disables it.
	Media       http.Handler
	MediaPrefix string

	// PublicDir holds control.html, display.html and their assets.
	PublicDir string

	// ScenesDir is served under /scenes/.
	ScenesDir string

	// Gatherer is exposed on MetricsPath. Nil disables metrics.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// RequestTimeout bounds API handlers. Default: 15s.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MediaPrefix == "" {
		opts.MediaPrefix = "/canvas/"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	logger := opts.Logger.With("component", "web")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.Backend != nil {
		api := &apiHandler{backend: opts.Backend, logger: logger}
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			r.Get("/state", api.state)
			r.Get("/library", api.library)
			r.Get("/library/{id}", api.libraryItem)
		})
	}

	if opts.Media != nil {
		prefix := "/" + strings.Trim(opts.MediaPrefix, "/") + "/"
		r.Handle(prefix+"*", http.StripPrefix(prefix, opts.Media))
	}

	if opts.ScenesDir != "" {
		r.Handle("/scenes/*", http.StripPrefix("/scenes/", http.FileServer(noListing{http.Dir(opts.ScenesDir)})))
	}

	if opts.PublicDir != "" {
		control := pageHandler(filepath.Join(opts.PublicDir, ControlPage))
		display := pageHandler(filepath.Join(opts.PublicDir, DisplayPage))
		r.Get("/", control)
		r.Get("/control", control)
		r.Get("/d{index:[0-9]+}", display)
		r.Handle("/*", http.FileServer(noListing{http.Dir(opts.PublicDir)}))
	}

	return r
}

type apiHandler struct {
	backend Backend
	logger  *slog.Logger
}

func (a *apiHandler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.backend.Snapshot())
}

func (a *apiHandler) library(w http.ResponseWriter, r *http.Request) {
	entries, err := a.backend.Library(r.Context())
	if err != nil {
		a.logger.Warn("library listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "library unavailable")
		return
	}
	if entries == nil {
		entries = []protocol.LibraryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// libraryItemResponse includes the body, unlike LibraryEntry.
type libraryItemResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *apiHandler) libraryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := a.backend.Store().Get(r.Context(), id)
	if err != nil {
		a.logger.Warn("library get failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "library unavailable")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, libraryItemResponse{
		ID:        item.ID,
		Name:      item.Name,
		HTML:      item.HTMLContent,
		CreatedAt: item.CreatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pageHandler serves one HTML file, answering 404 when it is missing.
func pageHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

// noListing hides directory indexes and dotfiles.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, os.ErrNotExist
		}
	}
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		index, err := n.fs.Open(strings.TrimSuffix(name, "/") + "/index.html")
		if err != nil {
			f.Close()
			return nil, os.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}

// requestLogger logs one debug line per request and warns on 5xx.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
