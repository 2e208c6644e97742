package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LocalSource exposes documents from a directory tree, mainly for
// development setups without an object store. Source versions are
// derived from file size and modification time.
type LocalSource struct {
	root   string
	logger *slog.Logger
}

// NewLocalSource creates a LocalSource rooted at dir, creating it if
// needed.
func NewLocalSource(dir string, logger *slog.Logger) (*LocalSource, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create source directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}
	return &LocalSource{root: abs, logger: logger}, nil
}

// AllRefs walks the directory tree.
func (s *LocalSource) AllRefs(ctx context.Context) ([]Ref, error) {
	var refs []Ref
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		refs = append(refs, Ref{
			URI:           s.uri(path),
			SourceVersion: fileVersion(info),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source directory: %w", err)
	}
	return refs, nil
}

// GetObject reads a file's content and version.
func (s *LocalSource) GetObject(ctx context.Context, uri string) (*Object, error) {
	path := s.path(uri)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", uri, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return &Object{Data: data, SourceVersion: fileVersion(info)}, nil
}

// PutObject writes a file, creating parent directories as needed.
func (s *LocalSource) PutObject(ctx context.Context, uri string, data []byte) error {
	path := s.path(uri)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", uri, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", uri, err)
	}
	return nil
}

// DeleteObject removes a file.
func (s *LocalSource) DeleteObject(ctx context.Context, uri string) error {
	if err := os.Remove(s.path(uri)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", uri, err)
	}
	return nil
}

// Subscribe watches the directory tree for changes. New subdirectories
// are added to the watch as they appear.
func (s *LocalSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch source directory: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fsEvent, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.handleFsEvent(ctx, watcher, fsEvent, events)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("file watcher error", "error", watchErr)
			}
		}
	}()

	return events, nil
}

func (s *LocalSource) handleFsEvent(ctx context.Context, watcher *fsnotify.Watcher, fsEvent fsnotify.Event, events chan<- Event) {
	if strings.HasPrefix(filepath.Base(fsEvent.Name), ".") {
		return
	}

	switch {
	case fsEvent.Op.Has(fsnotify.Create) || fsEvent.Op.Has(fsnotify.Write):
		info, err := os.Stat(fsEvent.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := watcher.Add(fsEvent.Name); err != nil {
				s.logger.Warn("failed to watch new directory", "path", fsEvent.Name, "error", err)
			}
			return
		}
		select {
		case events <- Event{Type: EventUpsert, Ref: Ref{URI: s.uri(fsEvent.Name), SourceVersion: fileVersion(info)}}:
		case <-ctx.Done():
		}
	case fsEvent.Op.Has(fsnotify.Remove) || fsEvent.Op.Has(fsnotify.Rename):
		select {
		case events <- Event{Type: EventDelete, Ref: Ref{URI: s.uri(fsEvent.Name)}}:
		case <-ctx.Done():
		}
	}
}

func (s *LocalSource) path(uri string) string {
	return filepath.Join(s.root, filepath.FromSlash(uri))
}

func (s *LocalSource) uri(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func fileVersion(info fs.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

var _ Source = (*LocalSource)(nil)
