package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/chroma"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
)

// ManifestFile describes a collection inside its directory.
const ManifestFile = "manifest.json"

// Manifest records where a collection lives and what it was built from.
type Manifest struct {
	Backend    string    `json:"backend"`
	Collection string    `json:"collection"`
	Source     string    `json:"source"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

var invalidCollectionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// collectionName maps a file base name onto the character set remote stores accept.
func collectionName(base string) string {
	name := strings.Trim(invalidCollectionChars.ReplaceAllString(base, "_"), "_-")
	if len(name) > 60 {
		name = name[:60]
	}
	return "docqa_" + name
}

func newChroma(ctx context.Context, url, name string, embedder embeddings.Embedder, reset bool) (vectorstores.VectorStore, error) {
	if url == "" {
		return nil, fmt.Errorf("chroma url is not configured")
	}
	opts := []chroma.Option{
		chroma.WithChromaURL(url),
		chroma.WithEmbedder(embedder),
		chroma.WithDistanceFunction("cosine"),
		chroma.WithNameSpace(name),
	}

	store, err := chroma.New(opts...)
	if err != nil {
		return nil, err
	}
	if !reset {
		return store, nil
	}
	if err := store.RemoveCollection(); err != nil {
		return nil, fmt.Errorf("remove previous chroma collection: %w", err)
	}
	return chroma.New(opts...)
}

func newPgvector(ctx context.Context, url, name string, embedder embeddings.Embedder, reset bool) (vectorstores.VectorStore, error) {
	if url == "" {
		return nil, fmt.Errorf("pgvector url is not configured")
	}
	opts := []pgvector.Option{
		pgvector.WithConnectionURL(url),
		pgvector.WithEmbedder(embedder),
		pgvector.WithCollectionName(name),
	}
	if reset {
		opts = append(opts, pgvector.WithPreDeleteCollection(true))
	}
	return pgvector.New(ctx, opts...)
}
