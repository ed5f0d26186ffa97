package media

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DiskStore stores media on the local filesystem and serves it over HTTP.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates a new DiskStore.
//
// Parameters:
//   - dir: Directory to store files in
//   - baseURL: URL prefix the files are served under (e.g. "/canvas/")
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &DiskStore{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the storage directory.
func (s *DiskStore) Dir() string { return s.dir }

// Put writes data to dir/name. The file is written to a temp file and
// renamed so readers never see a partial image.
func (s *DiskStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	// Content-addressed names repeat; refresh the age for retention.
	now := time.Now()
	_ = os.Chtimes(dst, now, now)

	return s.baseURL + name, nil
}

// Cleanup removes files older than maxAge.
func (s *DiskStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(s.dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Handler serves stored files. Mount it under the base URL with the
// prefix stripped:
//
//	r.Handle("/canvas/*", http.StripPrefix("/canvas/", store.Handler()))
func (s *DiskStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := cleanName(r.URL.Path)
		if err != nil || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		p := filepath.Join(s.dir, name)
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeFile(w, r, p)
	})
}

// cleanName rejects anything that isn't a single path element.
func cleanName(name string) (string, error) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", ErrNotFound
	}
	return name, nil
}
