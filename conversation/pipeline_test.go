package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/store"
	"github.com/smallnest/docqa/store/memory"
)

// scriptedLLM answers keyword prompts with "keywords" and everything else with
// the next scripted reply.
type scriptedLLM struct {
	replies []string
	prompts [][]llms.MessageContent
	fail    error
}

func (m *scriptedLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.prompts = append(m.prompts, messages)
	if m.fail != nil {
		return nil, m.fail
	}
	text := partText(messages[0])
	if strings.HasPrefix(text, "You are a language assistant") {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: " keywords \n"}}}, nil
	}
	reply := "default answer"
	if len(m.replies) > 0 {
		reply, m.replies = m.replies[0], m.replies[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func partText(mc llms.MessageContent) string {
	var b strings.Builder
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

type fakeRetriever struct {
	docs    []schema.Document
	queries []string
	k       int
	err     error
}

func (f *fakeRetriever) AddDocuments(context.Context, []schema.Document, ...vectorstores.Option) ([]string, error) {
	return nil, nil
}

func (f *fakeRetriever) SimilaritySearch(_ context.Context, query string, k int, _ ...vectorstores.Option) ([]schema.Document, error) {
	f.queries = append(f.queries, query)
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type failingStore struct {
	store.CheckpointStore
}

func (failingStore) Save(context.Context, *store.Checkpoint) error {
	return errors.New("disk full")
}

func newTestPipeline(t *testing.T, llm llms.Model, r vectorstores.VectorStore, st store.CheckpointStore) *Pipeline {
	t.Helper()
	p, err := New(llm, r, Options{ThreadID: "default:1", Store: st, Logger: &log.NoOpLogger{}})
	require.NoError(t, err)
	return p
}

func chunks() []schema.Document {
	return []schema.Document{{PageContent: "chunk one"}, {PageContent: "chunk two"}}
}

func TestNew_RequiresModelAndRetriever(t *testing.T) {
	_, err := New(nil, &fakeRetriever{}, Options{})
	assert.Error(t, err)
	_, err = New(&scriptedLLM{}, nil, Options{})
	assert.Error(t, err)

	p, err := New(&scriptedLLM{}, &fakeRetriever{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "1", p.ThreadID())
	assert.Equal(t, DefaultTopK, p.topK)
}

func TestPipeline_SeedCallsNoModel(t *testing.T) {
	llm := &scriptedLLM{}
	st := memory.NewMemoryCheckpointStore()
	p := newTestPipeline(t, llm, &fakeRetriever{}, st)

	require.NoError(t, p.Seed(context.Background(), Persona{AssistantName: "gpt-4", Language: "English", FileName: "paper.pdf"}))

	assert.Empty(t, llm.prompts)
	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "gpt-4")
	assert.Contains(t, msgs[0].Content, "an English document")
	assert.Contains(t, msgs[0].Content, "paper.pdf")
	assert.Equal(t, 1, p.Turn())

	cp, err := st.Latest(context.Background(), "default:1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Turn)
}

func TestPipeline_Ask(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"The paper studies ranking."}}
	r := &fakeRetriever{docs: chunks()}
	p := newTestPipeline(t, llm, r, nil)
	ctx := context.Background()
	require.NoError(t, p.Seed(ctx, Persona{AssistantName: "gpt-4", FileName: "paper.pdf"}))

	reply, err := p.Ask(ctx, "What is this paper about?")
	require.NoError(t, err)
	assert.Equal(t, Message{Role: RoleAI, Content: "The paper studies ranking."}, reply)

	assert.Equal(t, []string{"keywords"}, r.queries)
	assert.Equal(t, 3, r.k)

	msgs := p.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, Message{Role: RoleHuman, Content: "What is this paper about?"}, msgs[1])
	assert.Equal(t, Message{
		Role:       RoleTool,
		Content:    "chunk one\n\nchunk two",
		ToolCallID: "node_force_call",
		ToolName:   "retrieve",
	}, msgs[2])
	assert.Equal(t, RoleAI, msgs[3].Role)
	assert.Equal(t, 2, p.Turn())

	// keyword rewrite, then generation
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, partText(llm.prompts[0][0]), "User: What is this paper about?")

	gen := llm.prompts[1]
	require.Len(t, gen, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, gen[0].Role)
	assert.True(t, strings.HasSuffix(partText(gen[0]), "chunk one\n\nchunk two"))
	assert.Equal(t, llms.ChatMessageTypeSystem, gen[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, gen[2].Role)
}

func TestPipeline_GenerateUsesOnlyLatestToolRun(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"first", "second"}}
	r := &fakeRetriever{docs: chunks()}
	p := newTestPipeline(t, llm, r, nil)
	ctx := context.Background()

	_, err := p.Ask(ctx, "q1")
	require.NoError(t, err)
	r.docs = []schema.Document{{PageContent: "fresh chunk"}}
	_, err = p.Ask(ctx, "q2")
	require.NoError(t, err)

	gen := llm.prompts[len(llm.prompts)-1]
	instruction := partText(gen[0])
	assert.True(t, strings.HasSuffix(instruction, "fresh chunk"))
	assert.NotContains(t, instruction, "chunk one")

	var roles []llms.ChatMessageType
	for _, m := range gen[1:] {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []llms.ChatMessageType{
		llms.ChatMessageTypeHuman, llms.ChatMessageTypeAI, llms.ChatMessageTypeHuman,
	}, roles)
}

func TestPipeline_RetrieveWithoutQuestion(t *testing.T) {
	llm := &scriptedLLM{}
	p := newTestPipeline(t, llm, &fakeRetriever{}, nil)
	ctx := context.Background()

	st, err := p.Retrieve(ctx, State{Messages: []Message{{Role: RoleSystem, Content: "persona"}}})
	require.NoError(t, err)
	last, _ := st.Last()
	assert.Equal(t, Message{Role: RoleAI, Content: NoQuestionReply}, last)

	st, err = p.Generate(ctx, st)
	require.NoError(t, err)
	assert.Len(t, st.Messages, 2)
	assert.Empty(t, llm.prompts)
}

func TestPipeline_RetrievePicksMostRecentQuestion(t *testing.T) {
	llm := &scriptedLLM{}
	p := newTestPipeline(t, llm, &fakeRetriever{}, nil)

	in := State{Messages: []Message{
		{Role: RoleHuman, Content: "old question"},
		{Role: RoleAI, Content: "old answer"},
		{Role: RoleHuman, Content: "new question"},
	}}
	out, err := p.Retrieve(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, partText(llm.prompts[0][0]), "User: new question")
	assert.Len(t, in.Messages, 3)
	assert.Len(t, out.Messages, 4)
}

func TestPipeline_FailedTurnCommitsNothing(t *testing.T) {
	ctx := context.Background()

	t.Run("model failure", func(t *testing.T) {
		llm := &scriptedLLM{}
		st := memory.NewMemoryCheckpointStore()
		p := newTestPipeline(t, llm, &fakeRetriever{docs: chunks()}, st)
		require.NoError(t, p.Seed(ctx, Persona{AssistantName: "x"}))

		llm.fail = errors.New("rate limited")
		_, err := p.Ask(ctx, "q")
		assert.ErrorContains(t, err, "rate limited")
		assert.Len(t, p.Messages(), 1)

		list, err := st.List(ctx, "default:1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("retriever failure", func(t *testing.T) {
		p := newTestPipeline(t, &scriptedLLM{}, &fakeRetriever{err: errors.New("index gone")}, nil)
		_, err := p.Ask(ctx, "q")
		assert.ErrorContains(t, err, "index gone")
		assert.Empty(t, p.Messages())
		assert.Zero(t, p.Turn())
	})

	t.Run("save failure", func(t *testing.T) {
		st := failingStore{memory.NewMemoryCheckpointStore()}
		p := newTestPipeline(t, &scriptedLLM{}, &fakeRetriever{docs: chunks()}, st)
		_, err := p.Ask(ctx, "q")
		assert.ErrorContains(t, err, "disk full")
		assert.Empty(t, p.Messages())
	})
}

func TestPipeline_ResumeAndReset(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryCheckpointStore()

	p := newTestPipeline(t, &scriptedLLM{replies: []string{"a1"}}, &fakeRetriever{docs: chunks()}, st)
	_, err := p.Ask(ctx, "q1")
	require.NoError(t, err)

	resumed := newTestPipeline(t, &scriptedLLM{}, &fakeRetriever{}, st)
	ok, err := resumed.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, p.Messages(), resumed.Messages())
	assert.Equal(t, 1, resumed.Turn())

	require.NoError(t, resumed.Reset(ctx))
	assert.Empty(t, resumed.Messages())
	ok, err = resumed.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPipeline_CheckpointsRecordDocument(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryCheckpointStore()

	p, err := New(&scriptedLLM{}, &fakeRetriever{docs: chunks()}, Options{
		ThreadID: "a:1",
		Store:    st,
		Logger:   &log.NoOpLogger{},
		Document: "paper.pdf",
	})
	require.NoError(t, err)
	require.NoError(t, p.Seed(ctx, Persona{AssistantName: "gpt-4", FileName: "paper.pdf"}))
	_, err = p.Ask(ctx, "q")
	require.NoError(t, err)

	list, err := st.List(ctx, "a:1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, cp := range list {
		assert.Equal(t, "paper.pdf", cp.Metadata[DocumentKey])
	}
}

func TestPipeline_SwapModelAndRetriever(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, &scriptedLLM{replies: []string{"old"}}, &fakeRetriever{docs: chunks()}, nil)
	_, err := p.Ask(ctx, "q1")
	require.NoError(t, err)

	r := &fakeRetriever{docs: []schema.Document{{PageContent: "new index"}}}
	p.SetRetriever(r)
	p.SetModel(&scriptedLLM{replies: []string{"new"}})

	reply, err := p.Ask(ctx, "q2")
	require.NoError(t, err)
	assert.Equal(t, "new", reply.Content)
	assert.Len(t, r.queries, 1)
	assert.Len(t, p.Messages(), 6)
}

func TestPipeline_AppendRestoresTranscript(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, &scriptedLLM{}, &fakeRetriever{}, nil)

	history := []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleHuman, Content: "q"},
		{Role: RoleAI, Content: "a"},
	}
	require.NoError(t, p.Append(ctx, history...))
	assert.Equal(t, history, p.Messages())
}

func TestState_Helpers(t *testing.T) {
	s := State{Messages: []Message{
		{Role: RoleHuman, Content: "q"},
		{Role: RoleTool, Content: "t1"},
		{Role: RoleTool, Content: "t2"},
	}}
	assert.Equal(t, []Message{{Role: RoleTool, Content: "t1"}, {Role: RoleTool, Content: "t2"}}, s.TrailingTools())

	h, ok := s.LastHuman()
	assert.True(t, ok)
	assert.Equal(t, "q", h.Content)

	_, ok = State{}.Last()
	assert.False(t, ok)
	assert.Empty(t, State{}.TrailingTools())
}

func TestPrompts(t *testing.T) {
	assert.True(t, strings.HasSuffix(KeywordPrompt("why?"), "User: why?\nOutput:"))
	assert.True(t, strings.HasSuffix(AnswerInstruction([]Message{{Content: "a"}, {Content: "b"}}), "a\n\nb"))

	m := Persona{AssistantName: "DeepSeek-V3", Language: "Chinese", FileName: "x.pdf"}.Message()
	assert.Contains(t, m.Content, "a Chinese document")
	m = Persona{AssistantName: "DeepSeek-V3", FileName: "x.pdf"}.Message()
	assert.Contains(t, m.Content, "uploaded a document \"x.pdf\"")
}
