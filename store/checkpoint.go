package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a checkpoint or thread has nothing stored.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one saved conversation state. Turn increases by one per completed
// question; the latest checkpoint of a thread is the one with the highest Turn.
type Checkpoint struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Turn      int            `json:"turn"`
	State     []byte         `json:"state"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// CheckpointStore defines the interface for checkpoint persistence
type CheckpointStore interface {
	// Save stores a checkpoint, replacing one with the same ID
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// Latest returns the checkpoint with the highest turn for a thread
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns all checkpoints for a thread ordered by turn
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints for a thread
	Clear(ctx context.Context, threadID string) error
}

// LatestOf picks the highest-turn checkpoint, breaking ties by timestamp.
func LatestOf(checkpoints []*Checkpoint) *Checkpoint {
	var latest *Checkpoint
	for _, cp := range checkpoints {
		if latest == nil || cp.Turn > latest.Turn ||
			(cp.Turn == latest.Turn && cp.Timestamp.After(latest.Timestamp)) {
			latest = cp
		}
	}
	return latest
}

// SortByTurn orders checkpoints by turn, oldest first.
func SortByTurn(list []*Checkpoint) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Turn != list[j].Turn {
			return list[i].Turn < list[j].Turn
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
}
