// Package importer watches a drop folder and adds every *.html file that
// lands there to the library.
//
// Files already present when Run starts are imported first. After a
// successful import a file is moved into the imported/ subdirectory, or
// deleted when Remove is set, so restarts do not import it twice.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Giorgiomufen/display-sync/pkg/store"
)

// ImportedDir is the subdirectory processed files are moved into.
const ImportedDir = "imported"

// Sink receives imported items. *hub.Hub implements it.
type Sink interface {
	ImportLibraryItem(ctx context.Context, name, html string) (*store.Item, error)
}

// Options configures an Importer.
type Options struct {
	// Dir is the watched folder. It is created if missing.
	Dir string

	// Remove deletes files after import instead of moving them.
	Remove bool

	// Settle is how long a file must stay unchanged before it is read.
	// Default: 250ms.
	Settle time.Duration

	Logger *slog.Logger
}

// Importer moves HTML files from a folder into the library.
type Importer struct {
	dir    string
	remove bool
	settle time.Duration
	sink   Sink
	logger *slog.Logger
}

// New returns an Importer feeding sink.
func New(sink Sink, opts Options) (*Importer, error) {
	if opts.Dir == "" {
		return nil, errors.New("importer: dir is required")
	}
	if opts.Settle <= 0 {
		opts.Settle = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Importer{
		dir:    opts.Dir,
		remove: opts.Remove,
		settle: opts.Settle,
		sink:   sink,
		logger: opts.Logger.With("component", "importer", "dir", opts.Dir),
	}, nil
}

// Run imports existing files, then watches until ctx is done.
func (im *Importer) Run(ctx context.Context) error {
	if err := os.MkdirAll(im.dir, 0o755); err != nil {
		return fmt.Errorf("importer: create dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("importer: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(im.dir); err != nil {
		return fmt.Errorf("importer: watch %s: %w", im.dir, err)
	}
	im.logger.Info("watching drop folder")

	im.scan(ctx)

	pending := make(map[string]*time.Timer)
	ready := make(chan string)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isHTML(event.Name) {
				continue
			}
			if t, ok := pending[event.Name]; ok {
				t.Reset(im.settle)
				continue
			}
			path := event.Name
			pending[path] = time.AfterFunc(im.settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case path := <-ready:
			delete(pending, path)
			im.importFile(ctx, path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			im.logger.Warn("watcher error", "error", err)
		}
	}
}

// scan imports every HTML file already in the folder, in name order.
func (im *Importer) scan(ctx context.Context) {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		im.logger.Warn("scan failed", "error", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isHTML(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		im.importFile(ctx, filepath.Join(im.dir, name))
	}
}

func (im *Importer) importFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		im.logger.Warn("read failed", "file", path, "error", err)
		return
	}
	html := strings.TrimSpace(string(data))
	if html == "" {
		im.logger.Warn("skipping empty file", "file", path)
		return
	}

	item, err := im.sink.ImportLibraryItem(ctx, NameFromPath(path), html)
	if err != nil {
		im.logger.Warn("import failed", "file", path, "error", err)
		return
	}
	im.logger.Info("imported", "file", path, "id", item.ID, "name", item.Name)

	if err := im.finish(path); err != nil {
		im.logger.Warn("cleanup failed", "file", path, "error", err)
	}
}

// finish removes path from the drop folder.
func (im *Importer) finish(path string) error {
	if im.remove {
		return os.Remove(path)
	}
	done := filepath.Join(im.dir, ImportedDir)
	if err := os.MkdirAll(done, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(done, filepath.Base(path)))
}

// NameFromPath derives a library name from a file path by dropping the
// directory and extension: "drop/Lobby Welcome.html" is "Lobby Welcome".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isHTML(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	return ext == ".html" || ext == ".htm"
}
