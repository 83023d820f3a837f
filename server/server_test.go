package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/urfave/negroni"

	"github.com/smallnest/docqa/config"
	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/models"
	"github.com/smallnest/docqa/result"
	"github.com/smallnest/docqa/service"
	"github.com/smallnest/docqa/store/memory"
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

type markdownLLM struct{}

func (markdownLLM) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "**Forty two** months."}}}, nil
}

func (m markdownLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func newTestServer(t *testing.T) (*httptest.Server, *config.Config) {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.TempDir = filepath.Join(root, "Temp")
	cfg.Paths.VectorCacheDir = filepath.Join(root, "VectorCache")
	cfg.Paths.HistoryDir = filepath.Join(root, "HistoryDocs")
	cfg.Server.FrontendDir = filepath.Join(root, "frontend")
	require.NoError(t, cfg.EnsureDirs())

	logger := &log.NoOpLogger{}
	svc := service.New(cfg, memory.NewMemoryCheckpointStore(), logger)
	svc.BuildEmbedder = func(name, _ string) (embeddings.Embedder, error) {
		if name != models.EmbeddingLlama3 {
			return nil, models.ErrUnsupportedModel
		}
		return letterEmbedder{}, nil
	}
	svc.BuildLLM = func(name, apiKey string) (llms.Model, error) {
		if apiKey == "" {
			return nil, models.ErrMissingCredential
		}
		return markdownLLM{}, nil
	}

	ts := httptest.NewServer(New(cfg, svc, logger).Handler())
	t.Cleanup(ts.Close)
	return ts, cfg
}

func decodeEnvelope(t *testing.T, resp *http.Response) (result.Envelope, map[string]any) {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw struct {
		result.Envelope
		AdditionArgs json.RawMessage `json:"addition_args"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))

	args := map[string]any{}
	if bytes.HasPrefix(raw.AdditionArgs, []byte("{")) {
		require.NoError(t, json.Unmarshal(raw.AdditionArgs, &args))
	}
	return raw.Envelope, args
}

func post(t *testing.T, ts *httptest.Server, sid, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set(SessionHeader, sid)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func upload(t *testing.T, ts *httptest.Server, sid, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if sid != "" {
		req.Header.Set(SessionHeader, sid)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

const guide = "The warranty covers forty two months of service."

func TestFullScenario(t *testing.T) {
	ts, cfg := newTestServer(t)

	env, args := decodeEnvelope(t, upload(t, ts, "", "guide.txt", guide))
	require.True(t, env.State, env.Message)
	assert.Equal(t, "upload", env.Source)
	assert.Equal(t, "guide.txt", args["file_name"])
	assert.Equal(t, filepath.Join(cfg.Paths.TempDir, "guide.txt"), args["tmp_file_path"])

	env, _ = decodeEnvelope(t, post(t, ts, "", "/api/set_models",
		`{"embedding_model_name":"llama3","llm_name":"gpt-4","llm_api_key":"sk-test"}`))
	require.True(t, env.State, env.Message)

	env, args = decodeEnvelope(t, post(t, ts, "", "/api/embedding", ""))
	require.True(t, env.State, env.Message)
	assert.Equal(t, filepath.Join(cfg.Paths.VectorCacheDir, "guide"), args["vector_store_cache_path"])

	env, _ = decodeEnvelope(t, post(t, ts, "", "/api/set_lanuage", `{"lanuage":"English"}`))
	require.True(t, env.State, env.Message)

	env, args = decodeEnvelope(t, post(t, ts, "", "/api/chat", `{"question":"How long is the warranty?"}`))
	require.True(t, env.State, env.Message)
	assert.Equal(t, "chat", env.Source)
	assert.Equal(t, "ai", args["role"])
	assert.Equal(t, "**Forty two** months.", args["message"])
	assert.Contains(t, args["html"], "<strong>Forty two</strong>")

	resp, err := http.Get(ts.URL + "/Temp/guide.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, guide, string(body))

	env, _ = decodeEnvelope(t, upload(t, ts, "", "next.txt", "next"))
	require.True(t, env.State)

	resp, err = http.Get(ts.URL + "/api/history")
	require.NoError(t, err)
	env, _ = decodeEnvelope(t, resp)
	assert.True(t, env.State)

	resp, err = http.Get(ts.URL + "/api/history/guide.json")
	require.NoError(t, err)
	env, args = decodeEnvelope(t, resp)
	require.True(t, env.State, env.Message)
	assert.Equal(t, "guide.txt", args["file_name"])
	assert.Equal(t, "English", args["lanuage"])

	env, args = decodeEnvelope(t, post(t, ts, "", "/api/restore", `{"file_name":"guide.json"}`))
	require.True(t, env.State, env.Message)
	assert.Equal(t, true, args["index_restored"])
}

func TestFailuresAreEnvelopes(t *testing.T) {
	ts, _ := newTestServer(t)

	env, _ := decodeEnvelope(t, post(t, ts, "", "/api/chat", `{"question":`))
	assert.False(t, env.State)
	assert.Equal(t, "chat", env.Source)
	assert.Contains(t, env.Message, "malformed request")

	env, _ = decodeEnvelope(t, post(t, ts, "", "/api/chat", `{"question":"hi"}`))
	assert.False(t, env.State)
	assert.Contains(t, env.Message, "build_pipeline")

	env, _ = decodeEnvelope(t, post(t, ts, "", "/api/embedding", ""))
	assert.False(t, env.State)
	assert.Equal(t, "embedding", env.Source)

	env, _ = decodeEnvelope(t, post(t, ts, "", "/api/set_lanuage", `{"lanuage":""}`))
	assert.False(t, env.State)

	env, _ = decodeEnvelope(t, post(t, ts, "", "/api/set_models", `{"llm_name":"gpt-4"}`))
	assert.False(t, env.State)
	assert.Contains(t, env.Message, "EmbeddingModelName")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/upload", strings.NewReader("not multipart"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	env, _ = decodeEnvelope(t, resp)
	assert.False(t, env.State)
}

func TestSessionHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	env, _ := decodeEnvelope(t, upload(t, ts, "alice", "guide.txt", guide))
	require.True(t, env.State)

	env, _ = decodeEnvelope(t, post(t, ts, "bob", "/api/embedding", ""))
	assert.False(t, env.State)
	assert.Contains(t, env.Message, "upload a file")

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	env, args := decodeEnvelope(t, resp)
	assert.True(t, env.State)
	assert.EqualValues(t, 2, args["sessions"])
}

func TestCORS(t *testing.T) {
	ts, _ := newTestServer(t)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), SessionHeader)

	resp = preflight("http://evil.example")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown("# Title\n\n[link](https://example.com)\n\n<script>alert(1)</script>")
	assert.Contains(t, out, "Title</h1>")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.NotContains(t, out, "<script>")
}

func TestRecoveryLogsPanicsThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	glogger := golog.New()
	glogger.SetOutput(&buf)
	logger := log.NewGologLogger(glogger)

	assert.Same(t, logger, recoveryLogger(logger))
	assert.Nil(t, recoveryLogger(&log.NoOpLogger{}))

	n := negroni.New(newRecovery(logger))
	n.UseHandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("index exploded")
	})

	rec := httptest.NewRecorder()
	n.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "index exploded")

	// the NoOp logger falls back to negroni's own logger
	assert.NotNil(t, newRecovery(&log.NoOpLogger{}).Logger)
}
