// Package checkpoint records where a failed scrape stopped so the operator
// can resume it from the same page.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version is the schema version written by this package.
const Version = 1

// DefaultPath is where checkpoints are written unless configured otherwise.
const DefaultPath = "checkpoint.json"

var (
	// ErrNotFound is returned by Load when no checkpoint exists.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrUnsupportedVersion is returned by Load for a schema newer than Version.
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
)

// Checkpoint is the last page a run was working on when it stopped.
type Checkpoint struct {
	Version    int       `json:"version"`
	RunID      string    `json:"run_id,omitempty"`
	Time       time.Time `json:"time"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason"`
	LastPage   int       `json:"last_page"`
	Category   string    `json:"category,omitempty"`
	RegionID   int       `json:"region_id,omitempty"`
}

// FileStore keeps a single checkpoint in a JSON file.
type FileStore struct {
	Path string
}

// NewFileStore returns a store writing to path, or DefaultPath when empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{Path: path}
}

// Save overwrites the checkpoint file. The write goes through a temporary
// file and a rename so a crash never leaves a truncated record.
func (s *FileStore) Save(cp Checkpoint) error {
	if cp.Version == 0 {
		cp.Version = Version
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint file. Files written before versioning (no
// version field) are read as version 1.
func (s *FileStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.Path, err)
	}
	if cp.Version == 0 {
		cp.Version = Version
	}
	if cp.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cp.Version)
	}
	if cp.LastPage < 1 {
		return nil, fmt.Errorf("checkpoint %s has invalid last_page %d", s.Path, cp.LastPage)
	}
	return &cp, nil
}
