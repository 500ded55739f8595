package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reconagent/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Storage persists the reflection store.
//
// AppendAndSave receives the new entry together with the full store after
// the entry was applied. A wholesale-rewrite backend saves the snapshot; an
// append-log backend may persist only the entry.
type Storage interface {
	Load() (*Store, error)
	AppendAndSave(entry Entry, snapshot *Store) error
}

// Watcher is implemented by storages that can report external changes.
// Watch blocks until ctx is done, calling onChange after each settled change.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// =============================================================================
// FILE STORAGE
// =============================================================================

// FileStorage keeps the store as a single JSON document, rewritten in full
// on every save.
type FileStorage struct {
	path     string
	debounce time.Duration
}

// NewFileStorage creates a JSON file storage at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path, debounce: 200 * time.Millisecond}
}

// Path returns the backing file.
func (f *FileStorage) Path() string { return f.path }

// Load reads the document. A missing file is an empty store. A corrupt file
// is moved aside to <path>.corrupt and an empty store is returned, so the
// next save does not destroy it.
func (f *FileStorage) Load() (*Store, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reflections: %w", err)
	}

	store := NewStore()
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, store); err != nil {
		backup := f.path + ".corrupt"
		logging.MemoryWarn("reflection file %s is corrupt (%v), moving to %s", f.path, err, backup)
		if rerr := os.Rename(f.path, backup); rerr != nil {
			return nil, fmt.Errorf("parse reflections: %w", err)
		}
		return NewStore(), nil
	}
	store.normalize()
	return store, nil
}

// AppendAndSave rewrites the file with snapshot. The write goes to a temp
// file in the same directory and is renamed over the target.
func (f *FileStorage) AppendAndSave(_ Entry, snapshot *Store) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reflections: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create reflection dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write reflections: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close reflections: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace reflections: %w", err)
	}
	return nil
}

// Watch observes the file's directory and calls onChange once events for
// the file have been quiet for the debounce window.
func (f *FileStorage) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create reflection dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logging.Memory("watching reflection file %s", f.path)

	target := filepath.Clean(f.path)
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logging.MemoryDebug("reflection file event: %s", event.Op)
			settle = time.After(f.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.MemoryWarn("reflection watcher error: %v", err)

		case <-settle:
			settle = nil
			onChange()
		}
	}
}

// =============================================================================
// IN-MEMORY STORAGE
// =============================================================================

// InMemoryStorage keeps the last snapshot in process. Used when no memory
// path is configured and in tests.
type InMemoryStorage struct {
	mu       sync.Mutex
	snapshot *Store
	appends  int
}

// NewInMemoryStorage creates an empty in-process storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{snapshot: NewStore()}
}

func (s *InMemoryStorage) Load() (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone(), nil
}

func (s *InMemoryStorage) AppendAndSave(_ Entry, snapshot *Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot.clone()
	s.appends++
	return nil
}

// Appends returns how many entries have been saved.
func (s *InMemoryStorage) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}
