// Package local implements a vector collection stored in a single SQLite file.
package local

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// FileName is the database file created inside a collection directory.
const FileName = "collection.sqlite3"

var (
	// ErrNoEmbedder is returned when neither the collection nor the call supplies one.
	ErrNoEmbedder = errors.New("no embedder configured")
	// ErrNotExist is returned by Open when the directory holds no collection.
	ErrNotExist = errors.New("collection does not exist")
)

// Collection is a vectorstores.VectorStore over SQLite. Similarity is cosine,
// computed in process over every stored chunk.
type Collection struct {
	db       *sql.DB
	dir      string
	embedder embeddings.Embedder
}

var _ vectorstores.VectorStore = (*Collection)(nil)

// Create opens or creates the collection in dir.
func Create(dir string, embedder embeddings.Embedder) (*Collection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection directory: %w", err)
	}
	return open(dir, embedder)
}

// Open reopens an existing collection in dir.
func Open(dir string, embedder embeddings.Embedder) (*Collection, error) {
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
		}
		return nil, err
	}
	return open(dir, embedder)
}

func open(dir string, embedder embeddings.Embedder) (*Collection, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("unable to open collection: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Collection{db: db, dir: dir, embedder: embedder}, nil
}

// Dir returns the collection directory.
func (c *Collection) Dir() string { return c.dir }

// Close closes the database.
func (c *Collection) Close() error { return c.db.Close() }

// SetEmbedder replaces the embedder used for queries and inserts.
func (c *Collection) SetEmbedder(e embeddings.Embedder) { c.embedder = e }

func (c *Collection) pickEmbedder(opts vectorstores.Options) (embeddings.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if c.embedder != nil {
		return c.embedder, nil
	}
	return nil, ErrNoEmbedder
}

func applyOptions(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, o := range options {
		o(&opts)
	}
	return opts
}

// AddDocuments embeds docs and stores them in order.
func (c *Collection) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := applyOptions(options)
	embedder, err := c.pickEmbedder(opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), -1) + 1 FROM chunks").Scan(&next); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (id, seq, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, len(docs))
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		ids[i] = uuid.NewString()
		if _, err := stmt.ExecContext(ctx, ids[i], next+i, d.PageContent, string(meta), encodeVector(vectors[i])); err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SimilaritySearch returns the k chunks closest to query, best first. Score holds
// the cosine similarity.
func (c *Collection) SimilaritySearch(ctx context.Context, query string, k int, options ...vectorstores.Option) ([]schema.Document, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	opts := applyOptions(options)
	embedder, err := c.pickEmbedder(opts)
	if err != nil {
		return nil, err
	}

	qv, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, "SELECT content, metadata, embedding FROM chunks ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	defer rows.Close()

	var results []schema.Document
	for rows.Next() {
		var (
			content string
			meta    sql.NullString
			blob    []byte
		)
		if err := rows.Scan(&content, &meta, &blob); err != nil {
			return nil, err
		}
		score := cosineSimilarity32(qv, decodeVector(blob))
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		doc := schema.Document{PageContent: content, Score: score}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func cosineSimilarity32(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
