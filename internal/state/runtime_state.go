// Package state persists the start-of-day counter baselines so a restart mid-day
// keeps reporting consumption since midnight instead of since boot.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

// Baselines maps meter_id to the counter value recorded at local midnight.
type Baselines map[string]uint32

// Clone returns an independent copy.
func (b Baselines) Clone() Baselines {
	out := make(Baselines, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// RuntimeStore reads and writes the baselines as a single JSON object.
type RuntimeStore struct {
	path string
	mu   sync.Mutex
}

func NewRuntimeStore(path string) *RuntimeStore {
	return &RuntimeStore{path: path}
}

// Path returns the backing file.
func (s *RuntimeStore) Path() string {
	return s.path
}

// Load returns the stored baselines. found is false when no file exists yet.
func (s *RuntimeStore) Load() (baselines Baselines, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read runtime state: %v", models.ErrPersistence, err)
	}

	baselines = make(Baselines)
	if err := json.Unmarshal(data, &baselines); err != nil {
		return nil, false, fmt.Errorf("%w: decode runtime state: %v", models.ErrPersistence, err)
	}
	return baselines, true, nil
}

// Save overwrites the file. The write goes to a temp file in the same directory
// and is renamed into place so a crash never leaves a truncated blob behind.
func (s *RuntimeStore) Save(baselines Baselines) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baselines == nil {
		baselines = Baselines{}
	}
	data, err := json.MarshalIndent(baselines, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode runtime state: %v", models.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create state dir: %v", models.ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, ".runtime-state-*")
	if err != nil {
		return fmt.Errorf("%w: create temp state: %v", models.ErrPersistence, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp state: %v", models.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp state: %v", models.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp state: %v", models.ErrPersistence, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: replace runtime state: %v", models.ErrPersistence, err)
	}
	return nil
}
