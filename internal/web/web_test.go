package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Giorgiomufen/display-sync/pkg/hub"
	"github.com/Giorgiomufen/display-sync/pkg/media"
	"github.com/Giorgiomufen/display-sync/pkg/protocol"
	"github.com/Giorgiomufen/display-sync/pkg/state"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

type fakeBackend struct {
	store *store.MemoryStore
	err   error
}

func (f *fakeBackend) Snapshot() *hub.Snapshot {
	s := state.Default()
	s.Mode = state.ModeCustom
	return &hub.Snapshot{State: s, ConnectedDisplays: []int{1, 2}, Controls: 1}
}

func (f *fakeBackend) Library(ctx context.Context) ([]protocol.LibraryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	items, err := f.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var entries []protocol.LibraryEntry
	for _, it := range items {
		entries = append(entries, protocol.LibraryEntry{ID: it.ID, Name: it.Name, CreatedAt: it.CreatedAt, Size: it.Size})
	}
	return entries, nil
}

func (f *fakeBackend) Store() store.Store { return f.store }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Options{})
	rec := get(t, h, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAPI_State(t *testing.T) {
	h := NewRouter(Options{Backend: &fakeBackend{store: store.NewMemoryStore()}})

	rec := get(t, h, "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var snap struct {
		State             map[string]any `json:"state"`
		ConnectedDisplays []int          `json:"connectedDisplays"`
		Controls          int            `json:"controls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.ConnectedDisplays) != 2 || snap.Controls != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.State["displayCount"] != float64(3) {
		t.Errorf("state = %v", snap.State)
	}
}

func TestAPI_Library(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	h := NewRouter(Options{Backend: &fakeBackend{store: st}})

	rec := get(t, h, "/api/library")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty library = %d %q", rec.Code, rec.Body.String())
	}

	item, err := st.Save(ctx, "Menu", "<p>menu</p>")
	if err != nil {
		t.Fatal(err)
	}

	rec = get(t, h, "/api/library")
	var entries []protocol.LibraryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != item.ID || entries[0].Size != len("<p>menu</p>") {
		t.Fatalf("entries = %+v", entries)
	}
	if strings.Contains(rec.Body.String(), "<p>menu</p>") {
		t.Error("listing includes item body")
	}

	rec = get(t, h, "/api/library/"+item.ID)
	var full libraryItemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &full); err != nil {
		t.Fatal(err)
	}
	if full.HTML != "<p>menu</p>" || full.Name != "Menu" {
		t.Errorf("item = %+v", full)
	}

	rec = get(t, h, "/api/library/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing item status = %d", rec.Code)
	}
}

func TestAPI_LibraryError(t *testing.T) {
	h := NewRouter(Options{Backend: &fakeBackend{store: store.NewMemoryStore(), err: errors.New("db down")}})
	rec := get(t, h, "/api/library")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("internal error leaked to client")
	}
}

func TestPages(t *testing.T) {
	public := t.TempDir()
	writeFile(t, filepath.Join(public, ControlPage), "control")
	writeFile(t, filepath.Join(public, DisplayPage), "display")
	writeFile(t, filepath.Join(public, "js", "display.js"), "js")
	writeFile(t, filepath.Join(public, ".env"), "secret")

	h := NewRouter(Options{PublicDir: public})

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "control"},
		{"/control", http.StatusOK, "control"},
		{"/d1", http.StatusOK, "display"},
		{"/d12", http.StatusOK, "display"},
		{"/js/display.js", http.StatusOK, "js"},
		{"/js/", http.StatusNotFound, ""},
		{"/.env", http.StatusNotFound, ""},
		{"/nope.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestPages_Disabled(t *testing.T) {
	h := NewRouter(Options{})
	if rec := get(t, h, "/control"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMedia(t *testing.T) {
	ds, err := media.NewDiskStore(t.TempDir(), "/canvas/")
	if err != nil {
		t.Fatal(err)
	}
	url, err := ds.Put(context.Background(), "abc.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewRouter(Options{Media: ds.Handler(), MediaPrefix: "/canvas/"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "png-bytes" {
		t.Fatalf("GET %s = %d %q", url, resp.StatusCode, body)
	}

	resp2, err := http.Get(srv.URL + "/canvas/missing.png")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("missing media status = %d", resp2.StatusCode)
	}
}

func TestScenes(t *testing.T) {
	scenes := t.TempDir()
	writeFile(t, filepath.Join(scenes, "default", "aurora.html"), "aurora")

	h := NewRouter(Options{ScenesDir: scenes})
	rec := get(t, h, "/scenes/default/aurora.html")
	if rec.Code != http.StatusOK || rec.Body.String() != "aurora" {
		t.Fatalf("scene = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "displaysync_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewRouter(Options{Gatherer: reg})
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "displaysync_test_total 1") {
		t.Fatalf("metrics = %d %q", rec.Code, rec.Body.String())
	}

	h = NewRouter(Options{})
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer = %d", rec.Code)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
