package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallnest/docqa/store"
)

// MemoryCheckpointStore keeps checkpoints in process memory. It is the default
// store and loses everything on restart.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*store.Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*store.Checkpoint),
	}
}

// Save stores a copy of the checkpoint
func (m *MemoryCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if checkpoint == nil || checkpoint.ID == "" {
		return fmt.Errorf("checkpoint id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[checkpoint.ID] = clone(checkpoint)
	return nil
}

// Load retrieves a checkpoint by ID
func (m *MemoryCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
	}
	return clone(cp), nil
}

// Latest returns the highest-turn checkpoint of a thread
func (m *MemoryCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	list, err := m.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return list[len(list)-1], nil
}

// List returns all checkpoints for a thread ordered by turn
func (m *MemoryCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*store.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.ThreadID == threadID {
			out = append(out, clone(cp))
		}
	}
	store.SortByTurn(out)
	return out, nil
}

// Delete removes a checkpoint
func (m *MemoryCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, checkpointID)
	return nil
}

// Clear removes all checkpoints for a thread
func (m *MemoryCheckpointStore) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cp := range m.checkpoints {
		if cp.ThreadID == threadID {
			delete(m.checkpoints, id)
		}
	}
	return nil
}

func clone(cp *store.Checkpoint) *store.Checkpoint {
	c := *cp
	c.State = append([]byte(nil), cp.State...)
	if cp.Metadata != nil {
		c.Metadata = make(map[string]any, len(cp.Metadata))
		for k, v := range cp.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
