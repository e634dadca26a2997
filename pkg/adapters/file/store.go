// Package file keeps instance snapshots as JSON files, one per instance.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/stepflow/pkg/domain"
)

const ext = ".json"

// Store implements ports.StateStore on the local filesystem.
type Store struct {
	dir string
}

// New creates a Store writing under dir, or ".stepflow/instances" when dir is empty.
func New(dir string) *Store {
	if dir == "" {
		dir = filepath.Join(".stepflow", "instances")
	}
	return &Store{dir: dir}
}

// Dir returns the directory holding the snapshots.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(instanceID string) (string, error) {
	if instanceID == "" {
		return "", errors.New("instance id cannot be empty")
	}
	if strings.ContainsAny(instanceID, `/\`) || instanceID == "." || instanceID == ".." {
		return "", fmt.Errorf("invalid instance id %q", instanceID)
	}
	return filepath.Join(s.dir, instanceID+ext), nil
}

// Save writes the snapshot to a temporary file, syncs it and renames it into place.
func (s *Store) Save(ctx context.Context, instanceID string, state *domain.State) error {
	dest, err := s.path(instanceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Same directory, so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(s.dir, "tmp-"+instanceID+"-*"+ext)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Windows refuses to rename over an existing file.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("replace snapshot: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot. Missing files map to domain.ErrInstanceNotFound.
func (s *Store) Load(ctx context.Context, instanceID string) (*domain.State, error) {
	p, err := s.path(instanceID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", instanceID, err)
	}
	return &state, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (s *Store) Delete(ctx context.Context, instanceID string) error {
	p, err := s.path(instanceID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List returns the stored instance IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ext || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}
