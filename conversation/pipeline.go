package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/store"
	"github.com/smallnest/docqa/store/memory"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 3

// Options configures a Pipeline.
type Options struct {
	ThreadID string
	TopK     int
	Store    store.CheckpointStore
	Logger   log.Logger
	// Document names the file the conversation is about. It is recorded in
	// every checkpoint's metadata under DocumentKey.
	Document string
}

// DocumentKey is the checkpoint metadata key holding Options.Document.
const DocumentKey = "document"

// Pipeline answers questions about one document: each turn rewrites the question
// into keywords, retrieves matching chunks and asks the model to answer from them.
// Committed state lives in a checkpoint store; a failed turn commits nothing.
type Pipeline struct {
	mu        sync.Mutex
	llm       llms.Model
	retriever vectorstores.VectorStore
	store     store.CheckpointStore
	threadID  string
	topK      int
	document  string
	logger    log.Logger
	state     State
}

// New creates a pipeline. The model and the retriever are both required.
func New(llm llms.Model, retriever vectorstores.VectorStore, opts Options) (*Pipeline, error) {
	if llm == nil {
		return nil, errors.New("llm is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if opts.ThreadID == "" {
		opts.ThreadID = "1"
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Store == nil {
		opts.Store = memory.NewMemoryCheckpointStore()
	}
	return &Pipeline{
		llm:       llm,
		retriever: retriever,
		store:     opts.Store,
		threadID:  opts.ThreadID,
		topK:      opts.TopK,
		document:  opts.Document,
		logger:    log.OrDefault(opts.Logger),
		state:     State{ThreadID: opts.ThreadID},
	}, nil
}

// ThreadID returns the conversation thread this pipeline writes to.
func (p *Pipeline) ThreadID() string { return p.threadID }

// SetModel swaps the chat model; the conversation is kept.
func (p *Pipeline) SetModel(llm llms.Model) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llm = llm
}

// SetRetriever swaps the vector collection; the conversation is kept.
func (p *Pipeline) SetRetriever(r vectorstores.VectorStore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retriever = r
}

// Messages returns a copy of the committed transcript.
func (p *Pipeline) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.state.Messages...)
}

// Turn returns the number of committed turns.
func (p *Pipeline) Turn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Turn
}

// Resume loads the latest checkpoint of the thread. It reports false when the
// thread has none.
func (p *Pipeline) Resume(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	p.state = st
	return true, nil
}

// Reset drops every checkpoint of the thread and empties the conversation.
func (p *Pipeline) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Clear(ctx, p.threadID); err != nil {
		return fmt.Errorf("clear thread %s: %w", p.threadID, err)
	}
	p.state = State{ThreadID: p.threadID}
	return nil
}

// Seed starts the conversation with the persona system message. The turn calls no model.
func (p *Pipeline) Seed(ctx context.Context, persona Persona) error {
	return p.Append(ctx, persona.Message())
}

// Append commits messages as a turn without calling the model. It is used for
// seeding and for restoring a saved transcript.
func (p *Pipeline) Append(ctx context.Context, msgs ...Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.current(ctx)
	if err != nil {
		return err
	}
	next := current.Clone()
	next.Messages = append(next.Messages, msgs...)
	next.Turn = current.Turn + 1
	return p.commit(ctx, next, "append")
}

// Ask runs one turn for question and returns the final message of the turn.
func (p *Pipeline) Ask(ctx context.Context, question string) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	current, err := p.current(ctx)
	if err != nil {
		return Message{}, err
	}

	next := current.Clone()
	next.Messages = append(next.Messages, Message{Role: RoleHuman, Content: question})

	next, err = p.Retrieve(ctx, next)
	if err != nil {
		return Message{}, fmt.Errorf("retrieve: %w", err)
	}
	next, err = p.Generate(ctx, next)
	if err != nil {
		return Message{}, fmt.Errorf("generate: %w", err)
	}

	next.Turn = current.Turn + 1
	if err := p.commit(ctx, next, "ask"); err != nil {
		return Message{}, err
	}

	last, _ := next.Last()
	p.logger.Info("thread %s turn %d answered in %v", p.threadID, next.Turn, time.Since(start))
	return last, nil
}

// Retrieve finds the most recent question, rewrites it into keywords and appends
// the matching chunks as a tool message. Without a question it appends the fixed
// reply and marks the state so Generate does nothing.
func (p *Pipeline) Retrieve(ctx context.Context, st State) (State, error) {
	next := st.Clone()
	next.skipGenerate = false

	human, ok := st.LastHuman()
	if !ok {
		next.Messages = append(next.Messages, Message{Role: RoleAI, Content: NoQuestionReply})
		next.skipGenerate = true
		return next, nil
	}

	p.logger.Debug("retrieve: question %q", human.Content)
	keywords, err := p.complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, KeywordPrompt(human.Content)),
	})
	if err != nil {
		return st, fmt.Errorf("rewrite question: %w", err)
	}
	keywords = strings.TrimSpace(keywords)
	p.logger.Debug("retrieve: keywords %q", keywords)

	docs, err := p.retriever.SimilaritySearch(ctx, keywords, p.topK)
	if err != nil {
		return st, fmt.Errorf("similarity search: %w", err)
	}
	chunks := make([]string, len(docs))
	for i, d := range docs {
		chunks[i] = d.PageContent
	}
	p.logger.Debug("retrieve: %d chunks", len(docs))

	next.Messages = append(next.Messages, Message{
		Role:       RoleTool,
		Content:    strings.Join(chunks, "\n\n"),
		ToolCallID: RetrieveToolCallID,
		ToolName:   RetrieveToolName,
	})
	return next, nil
}

// Generate answers from the trailing tool messages and the visible history and
// appends the reply.
func (p *Pipeline) Generate(ctx context.Context, st State) (State, error) {
	if st.skipGenerate {
		return st, nil
	}
	next := st.Clone()

	prompt := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, AnswerInstruction(st.TrailingTools())),
	}
	for _, m := range st.Messages {
		switch m.Role {
		case RoleHuman, RoleSystem, RoleAI:
			prompt = append(prompt, toContent(m))
		}
	}

	reply, err := p.complete(ctx, prompt)
	if err != nil {
		return st, err
	}
	p.logger.Debug("generate: %d prompt messages, %d reply chars", len(prompt), len(reply))

	next.Messages = append(next.Messages, Message{Role: RoleAI, Content: reply})
	return next, nil
}

func (p *Pipeline) complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := p.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// current returns the latest committed state, falling back to memory for a thread
// the store has never seen.
func (p *Pipeline) current(ctx context.Context) (State, error) {
	st, err := p.load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return p.state, nil
	}
	return st, err
}

func (p *Pipeline) load(ctx context.Context) (State, error) {
	cp, err := p.store.Latest(ctx, p.threadID)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return State{}, fmt.Errorf("decode checkpoint %s: %w", cp.ID, err)
	}
	st.ThreadID = p.threadID
	st.Turn = cp.Turn
	return st, nil
}

// commit saves next as a checkpoint and only then makes it the in-memory state.
func (p *Pipeline) commit(ctx context.Context, next State, source string) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp := &store.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  p.threadID,
		Turn:      next.Turn,
		State:     data,
		Metadata:  map[string]any{"source": source, "messages": len(next.Messages)},
		Timestamp: time.Now(),
	}
	if p.document != "" {
		cp.Metadata[DocumentKey] = p.document
	}
	if err := p.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	next.skipGenerate = false
	p.state = next
	return nil
}
