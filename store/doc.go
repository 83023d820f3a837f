// Package store persists conversation checkpoints.
//
// A checkpoint captures the full conversation state of a thread after a completed
// turn. The conversation pipeline loads the latest checkpoint of its thread before
// each question and saves a new one only when the turn succeeded, so a failed turn
// never leaves a partial transcript behind.
//
// Backends live in sub-packages and share the CheckpointStore interface:
//   - memory: process-local map, the default
//   - file: one JSON file per checkpoint in a directory
//   - sqlite: a single SQLite database file
//   - redis: keys with optional TTL, indexed per thread
//   - postgres: a JSONB table behind a pgx pool
//
// Example:
//
//	st, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//	    Path: "./files/checkpoints.db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	cp, err := st.Latest(ctx, "default:1")
//	if errors.Is(err, store.ErrNotFound) {
//	    // fresh thread
//	}
package store
