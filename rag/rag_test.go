package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"

	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/rag/local"
)

type letterEmbedder struct{}

func (letterEmbedder) vector(s string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func (e letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	docs, err := LoadDocument(ctx, writeFile(t, dir, "notes.txt", "alpha beta"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "alpha beta", docs[0].PageContent)
	assert.Equal(t, "notes.txt", docs[0].Metadata["source"])

	docs, err = LoadDocument(ctx, writeFile(t, dir, "readme.MD", "# Title\n\nbody"))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	html := `<html><head><title>Guide</title><style>p{}</style></head>
<body><h1>Install</h1>

<p>Run   the tool.</p><script>var x = 1;</script></body></html>`
	docs, err = LoadDocument(ctx, writeFile(t, dir, "guide.html", html))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Guide", docs[0].Metadata["title"])
	assert.Contains(t, docs[0].PageContent, "Install")
	assert.Contains(t, docs[0].PageContent, "Run   the tool.")
	assert.NotContains(t, docs[0].PageContent, "var x")

	_, err = LoadDocument(ctx, writeFile(t, dir, "sheet.xlsx", "x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorContains(t, err, ".pdf, .txt, .md, .html, .htm")

	_, err = LoadDocument(ctx, filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadDocument_PDFPages(t *testing.T) {
	docs, err := LoadDocument(context.Background(), filepath.Join("testdata", "warranty.pdf"))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Contains(t, docs[0].PageContent, "forty two months")
	assert.Contains(t, docs[1].PageContent, "thirty days")
	for i, d := range docs {
		assert.Equal(t, i+1, d.Metadata["page"])
		assert.Equal(t, 2, d.Metadata["total_pages"])
		assert.Equal(t, "warranty.pdf", d.Metadata["source"])
	}
}

func TestIndexer_IndexPDF(t *testing.T) {
	ctx := context.Background()
	ix := NewIndexer(Options{CacheDir: t.TempDir(), Logger: &log.NoOpLogger{}})

	idx, err := ix.Index(ctx, filepath.Join("testdata", "warranty.pdf"), letterEmbedder{})
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, 2, idx.Chunks)
	assert.Equal(t, "warranty", filepath.Base(idx.CachePath))

	docs, err := idx.Store.SimilaritySearch(ctx, "returns accepted within thirty days", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PageContent, "thirty days")
	assert.EqualValues(t, 2, docs[0].Metadata["page"])
}

func TestCollapseBlankLines(t *testing.T) {
	assert.Equal(t, "a\n\nb\nc", collapseBlankLines("\n  a \n\n\n\n b\nc  \n\n"))
}

func TestIndexer_Split(t *testing.T) {
	ix := NewIndexer(Options{ChunkSize: 50, ChunkOverlap: 10})
	text := strings.Repeat("word ", 60)
	chunks, err := ix.Split([]schema.Document{{PageContent: text, Metadata: map[string]any{"page": 1}}})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.PageContent), 50)
		assert.Equal(t, i, c.Metadata["chunk"])
		assert.Equal(t, 1, c.Metadata["page"])
	}
}

func TestNewIndexer_Defaults(t *testing.T) {
	ix := NewIndexer(Options{})
	assert.Equal(t, 1000, ix.opts.ChunkSize)
	assert.Equal(t, 200, ix.opts.ChunkOverlap)
	assert.Equal(t, BackendLocal, ix.opts.Backend)

	ix = NewIndexer(Options{ChunkSize: 100, ChunkOverlap: 100})
	assert.Equal(t, 20, ix.opts.ChunkOverlap)
}

func TestIndexer_RequiresEmbedderBeforeDirectoryWork(t *testing.T) {
	cache := t.TempDir()
	src := writeFile(t, t.TempDir(), "report.txt", "some text")
	ix := NewIndexer(Options{CacheDir: cache, Logger: &log.NoOpLogger{}})

	_, err := ix.Index(context.Background(), src, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)

	_, statErr := os.Stat(filepath.Join(cache, "report"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestIndexer_IndexAndReplace(t *testing.T) {
	cache := t.TempDir()
	srcDir := t.TempDir()
	ctx := context.Background()
	ix := NewIndexer(Options{CacheDir: cache, ChunkSize: 40, ChunkOverlap: 5, Logger: &log.NoOpLogger{}})

	src := writeFile(t, srcDir, "report.txt", strings.Repeat("apples and oranges. ", 10))
	idx, err := ix.Index(ctx, src, letterEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, "report"), idx.CachePath)
	assert.Equal(t, BackendLocal, idx.Backend)
	assert.Greater(t, idx.Chunks, 1)
	assert.FileExists(t, filepath.Join(idx.CachePath, local.FileName))
	assert.FileExists(t, filepath.Join(idx.CachePath, ManifestFile))

	stale := filepath.Join(idx.CachePath, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, idx.Close())

	src = writeFile(t, srcDir, "report.txt", "zebra zone")
	idx, err = ix.Index(ctx, src, letterEmbedder{})
	require.NoError(t, err)
	defer idx.Close()

	assert.NoFileExists(t, stale)
	assert.Equal(t, 1, idx.Chunks)

	docs, err := idx.Store.SimilaritySearch(ctx, "zebra", 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "zebra zone", docs[0].PageContent)
}

func TestIndexer_Open(t *testing.T) {
	cache := t.TempDir()
	ctx := context.Background()
	ix := NewIndexer(Options{CacheDir: cache, Logger: &log.NoOpLogger{}})

	src := writeFile(t, t.TempDir(), "manual.md", "install the package then run it")
	idx, err := ix.Index(ctx, src, letterEmbedder{})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := ix.Open(ctx, idx.CachePath, letterEmbedder{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Chunks)

	docs, err := reopened.Store.SimilaritySearch(ctx, "install", 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = ix.Open(ctx, filepath.Join(cache, "nothing"), letterEmbedder{})
	assert.ErrorIs(t, err, local.ErrNotExist)

	_, err = ix.Open(ctx, idx.CachePath, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestIndexer_UnsupportedFormat(t *testing.T) {
	ix := NewIndexer(Options{CacheDir: t.TempDir(), Logger: &log.NoOpLogger{}})
	src := writeFile(t, t.TempDir(), "data.csv", "a,b")
	_, err := ix.Index(context.Background(), src, letterEmbedder{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "docqa_my_report_v2", collectionName("my report.v2"))
	assert.Equal(t, "docqa_abc", collectionName("--abc--"))
}
