// Package store provides crash-safe, collection-level persistence. Every
// mutation re-reads the backing file, applies an in-memory transformation
// and atomically replaces the file (write to a temp path, then rename), so
// a reader never observes a partial collection and a crash mid-write leaves
// the previous version intact. Mutations are serialized per collection.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"outreach-dispatch-service/internal/types"
)

const tmpSuffix = ".tmp"

type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open prepares a store rooted at dir, creating it if needed and sweeping
// any temp artifacts left behind by a crashed write.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty data directory", types.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", types.ErrStoreUnavailable, err)
	}
	s := &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
	if err := s.sweepTemp(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// sweepTemp removes leftover "<collection>.json.tmp" files. A temp file only
// exists when a previous write crashed before its rename; the original
// collection file is still the authoritative version.
func (s *Store) sweepTemp() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: read data directory: %v", types.ErrStoreUnavailable, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), tmpSuffix) {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// readFile unmarshals the collection file into out. A missing file is an
// empty collection, not an error.
func (s *Store) readFile(name string, out any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", types.ErrStoreUnavailable, name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", types.ErrStoreUnavailable, name, err)
	}
	return nil
}

// replaceFile writes v to "<path>.tmp" and renames it into place. A failure
// before the rename leaves the original untouched.
func (s *Store) replaceFile(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrStoreUnavailable, name, err)
	}
	target := s.path(name)
	tmp := target + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", types.ErrStoreUnavailable, name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: replace %s: %v", types.ErrStoreUnavailable, name, err)
	}
	return nil
}

// Collection is a typed view over one named collection file.
type Collection[T any] struct {
	store *Store
	name  string
}

func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

func (c *Collection[T]) Name() string { return c.name }

// ReadAll returns the current contents of the collection.
func (c *Collection[T]) ReadAll() ([]T, error) {
	items := []T{}
	if err := c.store.readFile(c.name, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Update serializes writers to this collection: it re-reads the file fresh
// under the collection lock, applies fn and atomically replaces the file
// with fn's result. fn returning an error aborts with nothing written.
func (c *Collection[T]) Update(fn func(items []T) ([]T, error)) error {
	lock := c.store.lockFor(c.name)
	lock.Lock()
	defer lock.Unlock()

	items := []T{}
	if err := c.store.readFile(c.name, &items); err != nil {
		return err
	}
	next, err := fn(items)
	if err != nil {
		return err
	}
	return c.store.replaceFile(c.name, next)
}

// Append adds records to the end of the collection.
func (c *Collection[T]) Append(records ...T) error {
	return c.Update(func(items []T) ([]T, error) {
		return append(items, records...), nil
	})
}

// UpdateWhere mutates every record matching pred in place and reports how
// many were mutated.
func (c *Collection[T]) UpdateWhere(pred func(*T) bool, mut func(*T)) (int, error) {
	mutated := 0
	err := c.Update(func(items []T) ([]T, error) {
		for i := range items {
			if pred(&items[i]) {
				mut(&items[i])
				mutated++
			}
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	return mutated, nil
}
