// Package persistence provides repository implementations for session
// export records: a directory of JSON files and a SQLite database.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sipeed/agentc/pkg/domain"
	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
)

// ---------------------------------------------------------------------------
// Generic JSON file store - reusable building block
// ---------------------------------------------------------------------------

// JSONStore provides generic JSON file-based persistence for any serializable type.
// It keeps an in-memory cache and persists to disk on every Put/Remove.
type JSONStore[T any] struct {
	baseDir string
	items   map[domain.EntityID]*T
	mu      sync.RWMutex
}

// NewJSONStore creates a new file-backed store rooted at baseDir.
func NewJSONStore[T any](baseDir string) (*JSONStore[T], error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", baseDir, err)
	}
	return &JSONStore[T]{
		baseDir: baseDir,
		items:   make(map[domain.EntityID]*T),
	}, nil
}

// Load reads all JSON files from the base directory into memory. Files
// that cannot be decoded are skipped and reported in the returned count.
func (s *JSONStore[T]) Load() (skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			skipped++
			continue
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			skipped++
			continue
		}

		// Use filename (without .json) as ID
		id := domain.EntityID(strings.TrimSuffix(entry.Name(), ".json"))
		s.items[id] = &item
	}

	return skipped, nil
}

// Get retrieves an item by ID.
func (s *JSONStore[T]) Get(id domain.EntityID) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	return item, ok
}

// Put saves an item to memory and disk. The file is written to a
// temporary name and renamed so readers never see a partial record.
func (s *JSONStore[T]) Put(id domain.EntityID, item *T) error {
	if err := validID(id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	s.items[id] = item
	return nil
}

// Remove deletes an item from memory and disk.
func (s *JSONStore[T]) Remove(id domain.EntityID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false, nil
	}

	delete(s.items, id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("remove %s: %w", id, err)
	}
	return true, nil
}

// All returns all items sorted by ID.
func (s *JSONStore[T]) All() []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	result := make([]*T, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.items[domain.EntityID(id)])
	}
	return result
}

// Count returns the number of stored items.
func (s *JSONStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *JSONStore[T]) path(id domain.EntityID) string {
	return filepath.Join(s.baseDir, string(id)+".json")
}

// validID rejects ids that would escape the store directory.
func validID(id domain.EntityID) error {
	str := string(id)
	if str == "" || str == "." || str == ".." || strings.ContainsAny(str, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, str)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Session repository implementation
// ---------------------------------------------------------------------------

// SessionFileRepository is the filesystem-backed implementation of
// session.Repository. Each session is one <id>.json file holding its
// export record.
type SessionFileRepository struct {
	store *JSONStore[sessiondomain.Export]
}

// NewSessionFileRepository opens (or creates) a session directory under
// baseDir and loads every record in it.
func NewSessionFileRepository(baseDir string) (*SessionFileRepository, error) {
	store, err := NewJSONStore[sessiondomain.Export](filepath.Join(baseDir, "sessions"))
	if err != nil {
		return nil, err
	}
	if _, err := store.Load(); err != nil {
		return nil, err
	}
	return &SessionFileRepository{store: store}, nil
}

func (r *SessionFileRepository) FindByID(id string) (*sessiondomain.Export, error) {
	e, ok := r.store.Get(domain.EntityID(id))
	if !ok {
		return nil, sessiondomain.ErrSessionNotFound
	}
	cp := *e
	return &cp, nil
}

// FindAll returns every record ordered by creation time.
func (r *SessionFileRepository) FindAll() ([]sessiondomain.Export, error) {
	items := r.store.All()
	out := make([]sessiondomain.Export, 0, len(items))
	for _, e := range items {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionFileRepository) Save(e sessiondomain.Export) error {
	if e.ID == "" {
		return sessiondomain.ErrMissingID
	}
	return r.store.Put(domain.EntityID(e.ID), &e)
}

func (r *SessionFileRepository) Delete(id string) error {
	found, err := r.store.Remove(domain.EntityID(id))
	if err != nil {
		return err
	}
	if !found {
		return sessiondomain.ErrSessionNotFound
	}
	return nil
}

// Count returns the number of stored sessions.
func (r *SessionFileRepository) Count() int { return r.store.Count() }

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type StoreError string

func (e StoreError) Error() string { return string(e) }

const (
	ErrInvalidID     StoreError = "invalid record id"
	ErrUnknownDriver StoreError = "unknown storage driver"
)

// Verify interface compliance at compile time.
var _ sessiondomain.Repository = (*SessionFileRepository)(nil)
