package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/docqa/conversation"
)

func sampleSession() *Session {
	s := New("")
	s.FileName = "paper.pdf"
	s.TmpFilePath = "files/Temp/paper.pdf"
	s.Language = "English"
	s.EmbeddingModelName = "llama3"
	s.LLMName = "gpt-4"
	s.LLMAPIKey = "sk-secret"
	s.VectorCachePath = "files/VectorCache/paper"
	s.Transcript = []conversation.Message{
		{Role: conversation.RoleSystem, Content: "persona"},
		{Role: conversation.RoleHuman, Content: "what?"},
		{Role: conversation.RoleTool, Content: "chunk", ToolName: "retrieve", ToolCallID: "node_force_call"},
		{Role: conversation.RoleAI, Content: "this."},
	}
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := sampleSession()

	path, err := SaveRecord(dir, s.Record())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "paper.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lanuage": "English"`)
	assert.NotContains(t, string(raw), "sk-secret")

	r, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", r.FileName)
	assert.Equal(t, "llama3", r.EmbeddingModelName)
	assert.Equal(t, "gpt-4", r.LLMName)
	assert.Equal(t, s.Transcript, r.Messages())
	assert.Equal(t, Entry{Role: "ai", Message: "this."}, r.ChatHistory[3])
}

func TestSaveRecord_NoDocument(t *testing.T) {
	_, err := SaveRecord(t.TempDir(), New("x").Record())
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestSaveRecord_EmptyHistoryIsArray(t *testing.T) {
	dir := t.TempDir()
	s := New("x")
	s.FileName = "notes.md"
	path, err := SaveRecord(dir, s.Record())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"chat_history": []`)
}

func TestRecordName(t *testing.T) {
	assert.Equal(t, "paper.json", RecordName("paper.pdf"))
	assert.Equal(t, "my.pdf.notes.json", RecordName("my.pdf.notes.txt"))
	assert.Equal(t, "x.json", RecordName("../../x.pdf"))
}

func TestListRecords(t *testing.T) {
	dir := t.TempDir()

	list, err := ListRecords(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = SaveRecord(dir, sampleSession().Record())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	list, err = ListRecords(dir)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "paper.json", list[0].Name)
	assert.Equal(t, "paper.pdf", list[0].FileName)
	assert.Equal(t, 4, list[0].Messages)
}

func TestSession_Reset(t *testing.T) {
	s := sampleSession()
	s.Lock()
	require.NoError(t, s.Reset())
	s.Unlock()

	assert.Equal(t, DefaultID, s.ID)
	assert.Empty(t, s.FileName)
	assert.Empty(t, s.LLMName)
	assert.Nil(t, s.Pipeline)
	assert.Nil(t, s.Index)
	assert.Empty(t, s.History())
}

func TestManager_GetCreatesOnce(t *testing.T) {
	m := NewManager(0, nil)

	a := m.Get("")
	b := m.Get(DefaultID)
	c := m.Get("other")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, m.Len())

	var ids []string
	m.Each(func(s *Session) { ids = append(ids, s.ID) })
	assert.ElementsMatch(t, []string{"default", "other"}, ids)
}

func TestManager_EvictionCallback(t *testing.T) {
	var mu sync.Mutex
	var evicted []string
	m := NewManager(20*time.Millisecond, func(s *Session) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, s.ID)
	})

	m.Get("a")
	m.Get("b")
	m.Evict("b")

	time.Sleep(40 * time.Millisecond)
	m.Sweep()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, evicted)
	assert.Zero(t, m.Len())
}

func TestManager_GetAfterExpiryEvictsOldSession(t *testing.T) {
	var mu sync.Mutex
	var evicted []string
	m := NewManager(50*time.Millisecond, func(s *Session) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, s.FileName)
	})

	old := m.Get("a")
	old.FileName = "paper.pdf"

	// well before the janitor's first run
	time.Sleep(80 * time.Millisecond)
	fresh := m.Get("a")

	assert.NotSame(t, old, fresh)
	assert.Empty(t, fresh.FileName)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"paper.pdf"}, evicted)
}
