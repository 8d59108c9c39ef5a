// Package session implements the client-side session lifecycle: token
// storage, state resolution against the server, and route/permission
// guards for embedding applications.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/condogate/condogate/internal/authz"
)

// Record is the persisted session: the token pair plus the actor
// snapshot it was issued for. It is always stored and replaced as a
// whole; a record with only one token half never exists. The actor
// may be absent in records written before the first profile fetch.
type Record struct {
	Access  string       `json:"access"`
	Refresh string       `json:"refresh"`
	User    *authz.Actor `json:"user,omitempty"`
}

// Store persists the token record between runs.
type Store interface {
	// Load returns the stored record and whether one exists.
	Load() (Record, bool, error)
	// Save replaces the record atomically.
	Save(Record) error
	// Clear removes the record.
	Clear() error
}

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	record Record
	set    bool
}

// NewMemoryStore builds MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.set, nil
}

func (s *MemoryStore) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = r
	s.set = true
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = Record{}
	s.set = false
	return nil
}

// FileStore persists the record as a JSON file readable only by the
// owner. Writes go through a temp file and rename so a crash never
// leaves a half-written record.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore builds FileStore instance.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("session: read store: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt store behaves like an empty one.
		return Record{}, false, nil
	}
	if record.Access == "" || record.Refresh == "" {
		return Record{}, false, nil
	}
	return record, true, nil
}

func (s *FileStore) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("session: encode store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("session: temp store: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("session: chmod store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("session: replace store: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: clear store: %w", err)
	}
	return nil
}
