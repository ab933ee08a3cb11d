package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/synvo-ai/Local-Cocoa/pkg/parser"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

// Watcher registers files from the configured roots and keeps the
// store in sync as the filesystem changes. A new or modified file is
// upserted with both stages pending so the scheduler picks it up.
type Watcher struct {
	store *store.Store
	sched *Scheduler
	roots []string
	log   *slog.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher prepares a watcher over the given roots.
func NewWatcher(st *store.Store, sched *Scheduler, roots []string, log *slog.Logger) *Watcher {
	return &Watcher{store: st, sched: sched, roots: roots, log: log}
}

// FileIDForPath derives the stable file identifier from the absolute
// path. The same path always maps to the same file record.
func FileIDForPath(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// Start scans all roots, then watches them for changes until ctx is
// canceled. The initial scan runs before Start returns so callers
// can rely on the catalog being populated.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	for _, root := range w.roots {
		if err := w.scanRoot(root); err != nil {
			w.log.Warn("initial scan failed", "root", root, "error", err)
		}
	}
	w.sched.Kick()

	go w.loop(ctx)
	return nil
}

// scanRoot registers every regular file under root and subscribes
// each directory to change events.
func (w *Watcher) scanRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	folderID := FileIDForPath(abs)
	if err := w.store.UpsertFolder(&store.FolderRecord{
		ID:   folderID,
		Path: abs,
		Name: filepath.Base(abs),
	}); err != nil {
		return err
	}

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("scan error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) && path != abs {
				return filepath.SkipDir
			}
			if werr := w.fsw.Add(path); werr != nil {
				w.log.Warn("could not watch directory", "path", path, "error", werr)
			}
			return nil
		}
		if skipFile(d.Name()) {
			return nil
		}
		w.register(path, folderID)
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(event.Name)
	if skipFile(name) {
		return
	}

	// A created directory needs its own subscription and scan.
	if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
		if event.Has(fsnotify.Create) && !skipDir(name) {
			if err := w.scanRoot(event.Name); err != nil {
				w.log.Warn("could not scan new directory", "path", event.Name, "error", err)
			}
			w.sched.Kick()
		}
		return
	}

	w.register(event.Name, w.folderFor(event.Name))
	w.sched.Kick()
}

// register records the file for indexing. A new or modified file is
// upserted with both stages pending; re-discovering an unchanged file
// keeps its stage progress, so a restart never forces a reindex.
func (w *Watcher) register(path, folderID string) {
	fi, err := os.Stat(path)
	if err != nil {
		w.log.Warn("could not stat file", "path", path, "error", err)
		return
	}
	id := FileIDForPath(path)

	existing, err := w.store.GetFile(id)
	if err != nil {
		w.log.Warn("could not look up file", "path", path, "error", err)
		return
	}
	if existing != nil && existing.Size == fi.Size() && existing.ModifiedAt.Equal(fi.ModTime().UTC()) {
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	rec := &store.FileRecord{
		ID:         id,
		Path:       path,
		Name:       filepath.Base(path),
		Extension:  ext,
		Kind:       parser.KindForPath(path),
		Size:       fi.Size(),
		ModifiedAt: fi.ModTime().UTC(),
		FolderID:   folderID,
		FastStage:  store.StagePending,
		DeepStage:  store.StagePending,
	}
	if err := w.store.UpsertFile(rec); err != nil {
		w.log.Warn("could not register file", "path", path, "error", err)
	}
}

// folderFor maps a path to the root it lives under.
func (w *Watcher) folderFor(path string) string {
	for _, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if strings.HasPrefix(path, abs+string(filepath.Separator)) || path == abs {
			return FileIDForPath(abs)
		}
	}
	return ""
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__"
}

func skipFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".swp", ".part", ".crdownload", ".ds_store":
		return true
	}
	return false
}
