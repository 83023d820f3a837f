package rag

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/rag/local"
)

// ErrNoEmbedder is returned when indexing is attempted before an embedding model is set.
var ErrNoEmbedder = errors.New("embedding model not configured")

// Collection backends.
const (
	BackendLocal    = "local"
	BackendChroma   = "chroma"
	BackendPgvector = "pgvector"
)

// Options configures an Indexer.
type Options struct {
	CacheDir     string
	ChunkSize    int
	ChunkOverlap int
	Backend      string
	ChromaURL    string
	PgvectorURL  string
	Logger       log.Logger
}

// Index is a built collection.
type Index struct {
	Store     vectorstores.VectorStore
	CachePath string
	Chunks    int
	Backend   string
}

// Close releases the collection when its backend holds resources.
func (ix *Index) Close() error {
	if ix == nil || ix.Store == nil {
		return nil
	}
	if c, ok := ix.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Indexer loads, splits, embeds and stores documents.
type Indexer struct {
	opts   Options
	logger log.Logger
}

// NewIndexer returns an Indexer. Zero chunk settings default to 1000/200 and an
// empty backend means BackendLocal.
func NewIndexer(opts Options) *Indexer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
		if opts.ChunkOverlap == 0 {
			opts.ChunkOverlap = 200
		}
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = min(200, opts.ChunkSize/5)
	}
	if opts.Backend == "" {
		opts.Backend = BackendLocal
	}
	return &Indexer{opts: opts, logger: log.OrDefault(opts.Logger)}
}

// CollectionDir returns the directory used for the document at path: the base name
// without its extension, under the cache root.
func (ix *Indexer) CollectionDir(path string) string {
	base := filepath.Base(path)
	return filepath.Join(ix.opts.CacheDir, strings.TrimSuffix(base, filepath.Ext(base)))
}

// Split chunks docs with the configured recursive character splitter.
func (ix *Indexer) Split(docs []schema.Document) ([]schema.Document, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ix.opts.ChunkSize),
		textsplitter.WithChunkOverlap(ix.opts.ChunkOverlap),
	)
	chunks, err := textsplitter.SplitDocuments(splitter, docs)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		meta := make(map[string]any, len(chunks[i].Metadata)+1)
		maps.Copy(meta, chunks[i].Metadata)
		meta["chunk"] = i
		chunks[i].Metadata = meta
	}
	return chunks, nil
}

// Index builds a fresh collection for the document at path. Any collection
// previously built for the same base name is replaced.
func (ix *Indexer) Index(ctx context.Context, path string, embedder embeddings.Embedder) (*Index, error) {
	start := time.Now()

	docs, err := LoadDocument(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("load document: %s has no extractable text", filepath.Base(path))
	}

	chunks, err := ix.Split(docs)
	if err != nil {
		return nil, fmt.Errorf("split document: %w", err)
	}

	if embedder == nil {
		return nil, ErrNoEmbedder
	}

	dir := ix.CollectionDir(path)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset collection directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection directory: %w", err)
	}

	store, err := ix.create(ctx, dir, embedder)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	if _, err := store.AddDocuments(ctx, chunks); err != nil {
		if c, ok := store.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	if err := writeManifest(dir, Manifest{
		Backend:    ix.opts.Backend,
		Collection: collectionName(filepath.Base(dir)),
		Source:     filepath.Base(path),
		Pages:      len(docs),
		Chunks:     len(chunks),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		ix.logger.Warn("write manifest for %s: %v", dir, err)
	}

	ix.logger.Info("indexed %s: %d pages, %d chunks into %s (%s) in %v",
		filepath.Base(path), len(docs), len(chunks), dir, ix.opts.Backend, time.Since(start))

	return &Index{Store: store, CachePath: dir, Chunks: len(chunks), Backend: ix.opts.Backend}, nil
}

// Open reattaches to a collection built earlier in dir.
func (ix *Indexer) Open(ctx context.Context, dir string, embedder embeddings.Embedder) (*Index, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}

	m, err := readManifest(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	backend := BackendLocal
	if m != nil && m.Backend != "" {
		backend = m.Backend
	}

	var store vectorstores.VectorStore
	switch backend {
	case BackendLocal:
		store, err = local.Open(dir, embedder)
	case BackendChroma:
		store, err = newChroma(ctx, ix.opts.ChromaURL, m.Collection, embedder, false)
	case BackendPgvector:
		store, err = newPgvector(ctx, ix.opts.PgvectorURL, m.Collection, embedder, false)
	default:
		err = fmt.Errorf("unknown backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", dir, err)
	}

	chunks := 0
	if m != nil {
		chunks = m.Chunks
	}
	return &Index{Store: store, CachePath: dir, Chunks: chunks, Backend: backend}, nil
}

func (ix *Indexer) create(ctx context.Context, dir string, embedder embeddings.Embedder) (vectorstores.VectorStore, error) {
	name := collectionName(filepath.Base(dir))
	switch ix.opts.Backend {
	case BackendLocal:
		return local.Create(dir, embedder)
	case BackendChroma:
		return newChroma(ctx, ix.opts.ChromaURL, name, embedder, true)
	case BackendPgvector:
		return newPgvector(ctx, ix.opts.PgvectorURL, name, embedder, true)
	default:
		return nil, fmt.Errorf("unknown backend %q", ix.opts.Backend)
	}
}
