package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/docqa/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresCheckpointStore implements store.CheckpointStore using PostgreSQL
type PostgresCheckpointStore struct {
	pool      DBPool
	tableName string
}

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store and makes sure
// its table exists
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	s := NewPostgresCheckpointStoreWithPool(pool, opts.TableName)
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
// Useful for testing with mocks
func NewPostgresCheckpointStoreWithPool(pool DBPool, tableName string) *PostgresCheckpointStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresCheckpointStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			state JSONB NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_turn ON %s (thread_id, turn);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() {
	s.pool.Close()
}

// Save stores a checkpoint
func (s *PostgresCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (id, thread_id, turn, state, metadata, timestamp) VALUES ($1, $2, $3, $4, $5, $6) "+
		"ON CONFLICT (id) DO UPDATE SET thread_id = EXCLUDED.thread_id, turn = EXCLUDED.turn, state = EXCLUDED.state, "+
		"metadata = EXCLUDED.metadata, timestamp = EXCLUDED.timestamp", s.tableName)

	_, err = s.pool.Exec(ctx, query,
		checkpoint.ID,
		checkpoint.ThreadID,
		checkpoint.Turn,
		checkpoint.State,
		metadataJSON,
		checkpoint.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

const columns = "id, thread_id, turn, state, metadata, timestamp"

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var (
		cp           store.Checkpoint
		metadataJSON []byte
	)
	if err := row.Scan(&cp.ID, &cp.ThreadID, &cp.Turn, &cp.State, &metadataJSON, &cp.Timestamp); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// Load retrieves a checkpoint by ID
func (s *PostgresCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, s.tableName)
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, checkpointID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the highest-turn checkpoint of a thread
func (s *PostgresCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = $1 ORDER BY turn DESC, timestamp DESC LIMIT 1", columns, s.tableName)
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
		}
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints for a thread ordered by turn
func (s *PostgresCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = $1 ORDER BY turn ASC, timestamp ASC", columns, s.tableName)

	rows, err := s.pool.Query(ctx, query, threadID)
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
func (s *PostgresCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, checkpointID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for a thread
func (s *PostgresCheckpointStore) Clear(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
