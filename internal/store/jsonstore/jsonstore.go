package jsonstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/Makepad-fr/tada/internal/store"
)

// JSON-backed storage. Single file, human-readable, portable.
// No file locking; fine for a local single-user CLI.

// FileName is the data file created inside the data directory.
const FileName = "todos.json"

// Store keeps every key in one JSON object.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Open loads the file in dir, if any. A missing file is an empty store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, store.Error.Wrap(fmt.Errorf("mkdir: %w", err))
	}
	s := &Store{path: filepath.Join(dir, FileName), values: map[string]string{}}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, store.Error.Wrap(fmt.Errorf("read file: %w", err))
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.values); err != nil {
		return nil, store.Error.Wrap(fmt.Errorf("json unmarshal: %w", err))
	}
	return s, nil
}

// Path returns the data file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

// Set stores value and rewrites the file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

// save writes through a temp file so a crash never leaves half a file.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return store.Error.Wrap(fmt.Errorf("json marshal: %w", err))
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return store.Error.Wrap(fmt.Errorf("write file: %w", err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return store.Error.Wrap(fmt.Errorf("rename: %w", err))
	}
	return nil
}
