package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const latestFileName = "latest.json"

// FileStore persists checkpoints as JSON files under
// <base>/checkpoints/<investigationId>/<checkpointId>.json with a sibling
// latest.json. Writes go through a temp file plus rename so readers never
// observe a partial checkpoint; per-investigation writes are serialized.
type FileStore struct {
	base string
	max  int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithMaxPerInvestigation overrides the retained-checkpoint cap.
func WithMaxPerInvestigation(n int) FileOption {
	return func(s *FileStore) {
		if n > 0 {
			s.max = n
		}
	}
}

// NewFileStore creates a file-backed store rooted at base.
func NewFileStore(base string, opts ...FileOption) *FileStore {
	s := &FileStore{
		base:  base,
		max:   DefaultMaxPerInvestigation,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) dir(investigationID string) string {
	return filepath.Join(s.base, "checkpoints", investigationID)
}

// lockFor returns the write lock for one investigation directory.
func (s *FileStore) lockFor(investigationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[investigationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[investigationID] = l
	}
	return l
}

// Save writes the checkpoint, updates the latest pointer, and prunes the
// oldest checkpoints past the cap. A missing id or timestamp is filled in.
func (s *FileStore) Save(ctx context.Context, cp Checkpoint) (string, error) {
	if cp.InvestigationID == "" {
		return "", errors.New("checkpoint: missing investigation id")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if cp.ID == "" {
		cp.ID = GenerateCheckpointID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	lock := s.lockFor(cp.InvestigationID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(cp.InvestigationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("checkpoint: create dir: %w", err)
	}

	if cp.Seq == 0 {
		entries := s.listLocked(cp.InvestigationID)
		maxSeq := 0
		for _, e := range entries {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}
		cp.Seq = maxSeq + 1
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, cp.ID+".json"), data); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, latestFileName), data); err != nil {
		return "", err
	}

	s.pruneLocked(cp.InvestigationID)
	return cp.ID, nil
}

// Load reads one checkpoint. Missing or corrupt files yield (nil, nil).
func (s *FileStore) Load(ctx context.Context, investigationID, checkpointID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readCheckpoint(filepath.Join(s.dir(investigationID), checkpointID+".json")), nil
}

// LoadLatest reads the latest pointer. Missing or corrupt yields (nil, nil).
func (s *FileStore) LoadLatest(ctx context.Context, investigationID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readCheckpoint(filepath.Join(s.dir(investigationID), latestFileName)), nil
}

// List returns entries sorted newest-first, skipping unreadable files.
func (s *FileStore) List(ctx context.Context, investigationID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.listLocked(investigationID), nil
}

func (s *FileStore) listLocked(investigationID string) []Entry {
	dirEntries, err := os.ReadDir(s.dir(investigationID))
	if err != nil {
		return nil
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == latestFileName || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		cp := readCheckpoint(filepath.Join(s.dir(investigationID), de.Name()))
		if cp == nil {
			continue
		}
		out = append(out, Entry{ID: cp.ID, Seq: cp.Seq, Phase: cp.Phase, CreatedAt: cp.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

// ListInvestigations returns every investigation id with a checkpoint dir.
func (s *FileStore) ListInvestigations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(filepath.Join(s.base, "checkpoints"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: list investigations: %w", err)
	}
	var out []string
	for _, de := range dirEntries {
		if de.IsDir() {
			out = append(out, de.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes one checkpoint file. Missing files are not an error.
func (s *FileStore) Delete(ctx context.Context, investigationID, checkpointID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(investigationID)
	lock.Lock()
	defer lock.Unlock()
	err := os.Remove(filepath.Join(s.dir(investigationID), checkpointID+".json"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

// DeleteAll removes the whole per-investigation directory.
func (s *FileStore) DeleteAll(ctx context.Context, investigationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.lockFor(investigationID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(s.dir(investigationID)); err != nil {
		return fmt.Errorf("checkpoint: delete all: %w", err)
	}
	return nil
}

// pruneLocked drops the oldest checkpoints beyond the cap. Caller holds
// the investigation lock.
func (s *FileStore) pruneLocked(investigationID string) {
	entries := s.listLocked(investigationID)
	if len(entries) <= s.max {
		return
	}
	for _, e := range entries[s.max:] {
		path := filepath.Join(s.dir(investigationID), e.ID+".json")
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to prune checkpoint", "investigation", investigationID, "checkpoint", e.ID, "error", err)
		}
	}
}

// readCheckpoint returns nil on any read or decode failure.
func readCheckpoint(path string) *Checkpoint {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("Skipping corrupt checkpoint file", "path", path, "error", err)
		return nil
	}
	return &cp
}

// writeAtomic writes via a temp file in the same directory plus rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}
