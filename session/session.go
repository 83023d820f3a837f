package session

import (
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/docqa/conversation"
	"github.com/smallnest/docqa/rag"
)

// DefaultID is used when a request names no session.
const DefaultID = "default"

// Session is the state of one user's current document. Callers hold the lock
// for the duration of an operation.
type Session struct {
	sync.Mutex

	ID string

	FileName    string
	TmpFilePath string
	Digest      string
	Language    string

	EmbeddingModelName string
	EmbeddingAPIKey    string
	Embedder           embeddings.Embedder

	LLMName   string
	LLMAPIKey string
	LLM       llms.Model

	Pipeline        *conversation.Pipeline
	Index           *rag.Index
	VectorCachePath string

	// Transcript holds a restored conversation until a pipeline takes it over.
	Transcript []conversation.Message
}

// New returns an empty session.
func New(id string) *Session {
	if id == "" {
		id = DefaultID
	}
	return &Session{ID: id}
}

// Reset clears every field except the id and releases the vector collection.
func (s *Session) Reset() error {
	var err error
	if s.Index != nil {
		err = s.Index.Close()
	}
	s.FileName, s.TmpFilePath, s.Digest, s.Language = "", "", "", ""
	s.EmbeddingModelName, s.EmbeddingAPIKey, s.Embedder = "", "", nil
	s.LLMName, s.LLMAPIKey, s.LLM = "", "", nil
	s.Pipeline, s.Index, s.VectorCachePath = nil, nil, ""
	s.Transcript = nil
	return err
}

// History returns the conversation so far: the pipeline's transcript when one
// exists, otherwise the restored one.
func (s *Session) History() []conversation.Message {
	if s.Pipeline != nil {
		return s.Pipeline.Messages()
	}
	return append([]conversation.Message(nil), s.Transcript...)
}

// Record returns the persisted form of the session.
func (s *Session) Record() Record {
	history := s.History()
	entries := make([]Entry, len(history))
	for i, m := range history {
		entries[i] = Entry{Role: string(m.Role), Message: m.Content}
	}
	return Record{
		FileName:           s.FileName,
		TmpFilePath:        s.TmpFilePath,
		Language:           s.Language,
		EmbeddingModelName: s.EmbeddingModelName,
		LLMName:            s.LLMName,
		VectorCachePath:    s.VectorCachePath,
		ChatHistory:        entries,
	}
}
