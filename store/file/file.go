package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/smallnest/docqa/store"
)

// FileCheckpointStore writes one JSON file per checkpoint into a directory.
// Each thread also gets a small .latest file naming its highest-turn checkpoint,
// so Latest does not have to read the whole directory.
type FileCheckpointStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileCheckpointStore creates the directory if needed and returns a store rooted there
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (f *FileCheckpointStore) path(id string) string {
	return filepath.Join(f.dir, sanitize(id)+".json")
}

// sanitize keeps ids usable as file names; thread ids contain ':'.
func sanitize(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(id)
}

// latestRef is the content of a thread's .latest file.
type latestRef struct {
	ID   string `json:"id"`
	Turn int    `json:"turn"`
}

func (f *FileCheckpointStore) latestPath(threadID string) string {
	return filepath.Join(f.dir, sanitize(threadID)+".latest")
}

func (f *FileCheckpointStore) readLatest(threadID string) (latestRef, bool) {
	var ref latestRef
	data, err := os.ReadFile(f.latestPath(threadID))
	if err != nil || json.Unmarshal(data, &ref) != nil || ref.ID == "" {
		return latestRef{}, false
	}
	return ref, true
}

func (f *FileCheckpointStore) writeLatest(threadID string, ref latestRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	tmp := f.latestPath(threadID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write latest index: %w", err)
	}
	if err := os.Rename(tmp, f.latestPath(threadID)); err != nil {
		return fmt.Errorf("failed to write latest index: %w", err)
	}
	return nil
}

// Save stores a checkpoint, replacing any file with the same ID
func (f *FileCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if checkpoint == nil || checkpoint.ID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := f.path(checkpoint.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, f.path(checkpoint.ID)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	if ref, ok := f.readLatest(checkpoint.ThreadID); ok && ref.Turn > checkpoint.Turn {
		return nil
	}
	return f.writeLatest(checkpoint.ThreadID, latestRef{ID: checkpoint.ID, Turn: checkpoint.Turn})
}

// Load retrieves a checkpoint by ID
func (f *FileCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.read(f.path(checkpointID), checkpointID)
}

func (f *FileCheckpointStore) read(path, id string) (*store.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Latest returns the highest-turn checkpoint of a thread. A missing or stale
// .latest file falls back to scanning the directory and is rewritten.
func (f *FileCheckpointStore) Latest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	f.mu.RLock()
	if ref, ok := f.readLatest(threadID); ok {
		cp, err := f.read(f.path(ref.ID), ref.ID)
		if err == nil && cp.ThreadID == threadID && cp.Turn == ref.Turn {
			f.mu.RUnlock()
			return cp, nil
		}
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.list(threadID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		if err := os.Remove(f.latestPath(threadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove latest index: %w", err)
		}
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	latest := list[len(list)-1]
	if err := f.writeLatest(threadID, latestRef{ID: latest.ID, Turn: latest.Turn}); err != nil {
		return nil, err
	}
	return latest, nil
}

// List returns all checkpoints for a thread ordered by turn
func (f *FileCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.list(threadID)
}

func (f *FileCheckpointStore) list(threadID string) ([]*store.Checkpoint, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var out []*store.Checkpoint
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		cp, err := f.read(filepath.Join(f.dir, e.Name()), e.Name())
		if err != nil {
			return nil, err
		}
		if cp.ThreadID == threadID {
			out = append(out, cp)
		}
	}
	store.SortByTurn(out)
	return out, nil
}

// Delete removes a checkpoint file
func (f *FileCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(checkpointID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (f *FileCheckpointStore) Clear(ctx context.Context, threadID string) error {
	list, err := f.List(ctx, threadID)
	if err != nil {
		return err
	}
	for _, cp := range list {
		if err := f.Delete(ctx, cp.ID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.latestPath(threadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove latest index: %w", err)
	}
	return nil
}
