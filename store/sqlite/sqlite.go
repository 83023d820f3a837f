package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/docqa/store"
)

// SqliteCheckpointStore implements store.CheckpointStore using SQLite
type SqliteCheckpointStore struct {
	db        *sql.DB
	tableName string
}

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "checkpoints"
}

// NewSqliteCheckpointStore creates a new SQLite checkpoint store
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}

	s := &SqliteCheckpointStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the checkpoint table if it doesn't exist
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_turn ON %s (thread_id, turn);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

// Save stores a checkpoint
func (s *SqliteCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, turn, state, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			turn = excluded.turn,
			state = excluded.state,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.Turn,
		string(checkpoint.State),
		string(metadataJSON),
		checkpoint.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

const columns = "id, thread_id, turn, state, metadata, timestamp"

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*store.Checkpoint, error) {
	var (
		cp           store.Checkpoint
		stateJSON    string
		metadataJSON sql.NullString
		ts           time.Time
	)
	if err := row.Scan(&cp.ID, &cp.ThreadID, &cp.Turn, &stateJSON, &metadataJSON, &ts); err != nil {
		return nil, err
	}
	cp.State = []byte(stateJSON)
	cp.Timestamp = ts
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// Load retrieves a checkpoint by ID
func (s *SqliteCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", columns, s.tableName)
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, checkpointID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the highest-turn checkpoint of a thread
func (s *SqliteCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = ? ORDER BY turn DESC, timestamp DESC LIMIT 1", columns, s.tableName)
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
		}
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints for a thread ordered by turn
func (s *SqliteCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = ? ORDER BY turn ASC, timestamp ASC", columns, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *SqliteCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, checkpointID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (s *SqliteCheckpointStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
