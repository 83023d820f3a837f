// Package service implements the document QA operations on top of sessions.
//
// Every operation returns a result.Result and never an error: failures are
// classified by Reason and carry a message prefixed with the step that failed.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/docqa/config"
	"github.com/smallnest/docqa/conversation"
	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/models"
	"github.com/smallnest/docqa/rag"
	"github.com/smallnest/docqa/result"
	"github.com/smallnest/docqa/session"
	"github.com/smallnest/docqa/store"
	"github.com/smallnest/docqa/store/memory"
)

// EmbedderBuilder builds an embedding model by identifier.
type EmbedderBuilder func(name, apiKey string) (embeddings.Embedder, error)

// LLMBuilder builds a chat model by identifier.
type LLMBuilder func(name, apiKey string) (llms.Model, error)

// Service owns the session registry and the shared infrastructure.
type Service struct {
	cfg         *config.Config
	sessions    *session.Manager
	indexer     *rag.Indexer
	checkpoints store.CheckpointStore
	validate    *validator.Validate
	logger      log.Logger

	BuildEmbedder EmbedderBuilder
	BuildLLM      LLMBuilder
}

// New creates a Service. A nil checkpoint store keeps conversations in memory.
func New(cfg *config.Config, checkpoints store.CheckpointStore, logger log.Logger) *Service {
	logger = log.OrDefault(logger)
	if checkpoints == nil {
		checkpoints = memory.NewMemoryCheckpointStore()
	}

	modelOpts := models.Options{
		OllamaURL:       cfg.Models.OllamaURL,
		OpenAIBaseURL:   cfg.Models.OpenAIBaseURL,
		DeepSeekBaseURL: cfg.Models.DeepSeekBaseURL,
		Retry:           models.DefaultRetryConfig(),
	}
	modelOpts.Retry.MaxRetries = cfg.Models.MaxRetries

	s := &Service{
		cfg:         cfg,
		checkpoints: checkpoints,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
		indexer: rag.NewIndexer(rag.Options{
			CacheDir:     cfg.Paths.VectorCacheDir,
			ChunkSize:    cfg.Indexing.ChunkSize,
			ChunkOverlap: cfg.Indexing.ChunkOverlap,
			Backend:      cfg.VectorStore.Backend,
			ChromaURL:    cfg.VectorStore.ChromaURL,
			PgvectorURL:  cfg.VectorStore.PgvectorURL,
			Logger:       logger,
		}),
		BuildEmbedder: func(name, apiKey string) (embeddings.Embedder, error) {
			return models.BuildEmbedder(name, apiKey, modelOpts)
		},
		BuildLLM: func(name, apiKey string) (llms.Model, error) {
			return models.BuildLLM(name, apiKey, modelOpts)
		},
	}
	s.sessions = session.NewManager(cfg.Session.IdleTTL, s.onEvict)
	return s
}

// Sessions exposes the registry.
func (s *Service) Sessions() *session.Manager { return s.sessions }

func (s *Service) onEvict(sess *session.Session) {
	sess.Lock()
	defer sess.Unlock()

	if r := s.saveCurrent(sess); !r.OK && r.Reason != result.ReasonPrecondition {
		s.logger.Warn("session %s evicted: %s", sess.ID, r.Trace())
	}
	if err := sess.Reset(); err != nil {
		s.logger.Warn("session %s evicted: close index: %v", sess.ID, err)
	}
	s.logger.Info("session %s evicted", sess.ID)
}

// Close persists every live session and releases its resources.
func (s *Service) Close() {
	s.sessions.Each(func(sess *session.Session) {
		sess.Lock()
		defer sess.Unlock()
		if r := s.saveCurrent(sess); r.OK {
			s.logger.Info("session %s saved to %s", sess.ID, r.Value)
		}
		if sess.Index != nil {
			sess.Index.Close()
		}
	})
}

// UploadInfo is returned by Upload.
type UploadInfo struct {
	FileName           string `json:"file_name"`
	TmpFilePath        string `json:"tmp_file_path"`
	SaveLastFileResult any    `json:"save_last_file_result,omitempty"`
}

// Upload caches an uploaded file as the session's document. A file with the
// current document's name is treated as the same document and changes nothing.
// Otherwise the outgoing session is persisted and reset first.
func (s *Service) Upload(ctx context.Context, sessionID, fileName string, body io.Reader) result.Result[UploadInfo] {
	const source = "upload"

	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return result.Fail[UploadInfo](source, result.ReasonValidation, "save_tmp_upload_file: the uploaded file has no file name")
	}

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	if name == sess.FileName {
		h := sha256.New()
		if _, err := io.Copy(h, body); err == nil {
			if digest := hex.EncodeToString(h.Sum(nil)); digest != sess.Digest {
				s.logger.Warn("upload %s: same name as current document but different content; keeping current", name)
			}
		}
		return result.Ok(source, "the uploaded file has the same name as the current one; treated as identical, file and vector store not updated",
			UploadInfo{FileName: sess.FileName, TmpFilePath: sess.TmpFilePath})
	}

	// nothing to save is still a success
	saved := s.saveCurrent(sess)
	var saveResult any = true
	if !saved.OK && saved.Reason != result.ReasonPrecondition {
		saveResult = saved.Trace()
	}

	if err := sess.Reset(); err != nil {
		s.logger.Warn("upload: close previous index: %v", err)
	}

	cached := s.cacheFile(name, body)
	if !cached.OK {
		return result.Nest[UploadInfo](source, cached)
	}

	sess.FileName = name
	sess.TmpFilePath = cached.Value.path
	sess.Digest = cached.Value.digest
	s.dropStaleThread(ctx, sess)

	s.logger.Info("session %s: uploaded %s (%s)", sess.ID, name, sess.TmpFilePath)
	return result.Ok(source, "upload succeeded", UploadInfo{
		FileName:           sess.FileName,
		TmpFilePath:        sess.TmpFilePath,
		SaveLastFileResult: saveResult,
	})
}

type cachedFile struct {
	path   string
	digest string
}

func (s *Service) cacheFile(name string, body io.Reader) result.Result[cachedFile] {
	const source = "save_tmp_upload_file"

	if err := os.MkdirAll(s.cfg.Paths.TempDir, 0o755); err != nil {
		return result.Upstream[cachedFile](source, "failed to create the temp directory", err)
	}
	path := filepath.Join(s.cfg.Paths.TempDir, name)
	f, err := os.Create(path)
	if err != nil {
		return result.Upstream[cachedFile](source, "failed to cache the file", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), body); err != nil {
		return result.Upstream[cachedFile](source, "failed to cache the file", err)
	}
	return result.Ok(source, "file cached", cachedFile{path: path, digest: hex.EncodeToString(h.Sum(nil))})
}

// saveCurrent writes the session record. The caller holds the session lock.
func (s *Service) saveCurrent(sess *session.Session) result.Result[string] {
	const source = "save_current_doc"

	path, err := session.SaveRecord(s.cfg.Paths.HistoryDir, sess.Record())
	if err != nil {
		if errors.Is(err, session.ErrNoDocument) {
			return result.Fail[string](source, result.ReasonPrecondition, "no file")
		}
		return result.Upstream[string](source, "failed to save the previous document record", err)
	}
	return result.Ok(source, "saved the previous document record", path)
}

// EmbedInfo is returned by Embed.
type EmbedInfo struct {
	VectorStoreCachePath string `json:"vector_store_cache_path"`
	Chunks               int    `json:"chunks"`
}

// Embed indexes the session's cached file with its embedding model.
func (s *Service) Embed(ctx context.Context, sessionID string) result.Result[EmbedInfo] {
	const source = "embedding"

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	if sess.TmpFilePath == "" {
		return result.Fail[EmbedInfo](source, result.ReasonPrecondition, "please upload a file first")
	}

	indexed := s.indexDocument(ctx, sess.TmpFilePath, sess.Embedder)
	if !indexed.OK {
		return result.Nest[EmbedInfo](source, indexed)
	}

	idx := indexed.Value
	if sess.Index != nil {
		if err := sess.Index.Close(); err != nil {
			s.logger.Warn("embedding: close previous index: %v", err)
		}
	}
	sess.Index = idx
	sess.VectorCachePath = idx.CachePath
	if sess.Pipeline != nil {
		sess.Pipeline.SetRetriever(idx.Store)
	}

	return result.Ok(source, "vector store built", EmbedInfo{VectorStoreCachePath: idx.CachePath, Chunks: idx.Chunks})
}

func (s *Service) indexDocument(ctx context.Context, path string, embedder embeddings.Embedder) result.Result[*rag.Index] {
	const source = "index_document"

	idx, err := s.indexer.Index(ctx, path, embedder)
	switch {
	case err == nil:
		return result.Ok(source, "vector store built", idx)
	case errors.Is(err, rag.ErrNoEmbedder):
		return result.Fail[*rag.Index](source, result.ReasonPrecondition, "please set an embedding model first")
	case errors.Is(err, rag.ErrUnsupportedFormat):
		return result.Fail[*rag.Index](source, result.ReasonUnsupported, err.Error())
	default:
		return result.Upstream[*rag.Index](source, "failed to build the vector store", err)
	}
}

// SetModelsRequest selects the models of a session.
type SetModelsRequest struct {
	EmbeddingModelName   string `json:"embedding_model_name" validate:"required"`
	EmbeddingModelAPIKey string `json:"embedding_model_api_key"`
	LLMName              string `json:"llm_name" validate:"required"`
	LLMAPIKey            string `json:"llm_api_key"`
}

// ModelsInfo is returned by SetModels.
type ModelsInfo struct {
	LLMName            string `json:"llm_name"`
	EmbeddingModelName string `json:"embedding_model_name"`
	LLMUpdated         bool   `json:"llm_updated"`
	EmbeddingUpdated   bool   `json:"embedding_updated"`
}

// SetModels rebuilds the chat model, then the embedding model, each only when its
// name or key changed. The first failure stops and leaves earlier models in place.
func (s *Service) SetModels(ctx context.Context, sessionID string, req SetModelsRequest) result.Result[ModelsInfo] {
	const source = "set_models"

	if err := s.validate.StructCtx(ctx, req); err != nil {
		return result.Fail[ModelsInfo](source, result.ReasonValidation, validationMessage(err))
	}

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	info := ModelsInfo{}

	if sess.LLM == nil || req.LLMName != sess.LLMName || req.LLMAPIKey != sess.LLMAPIKey {
		built := s.buildLLM(req.LLMName, req.LLMAPIKey)
		if !built.OK {
			return result.Nest[ModelsInfo](source, built)
		}
		sess.LLM, sess.LLMName, sess.LLMAPIKey = built.Value, req.LLMName, req.LLMAPIKey
		if sess.Pipeline != nil {
			sess.Pipeline.SetModel(built.Value)
		}
		info.LLMUpdated = true
	}

	if sess.Embedder == nil || req.EmbeddingModelName != sess.EmbeddingModelName || req.EmbeddingModelAPIKey != sess.EmbeddingAPIKey {
		built := s.buildEmbedder(req.EmbeddingModelName, req.EmbeddingModelAPIKey)
		if !built.OK {
			return result.Nest[ModelsInfo](source, built)
		}
		sess.Embedder, sess.EmbeddingModelName, sess.EmbeddingAPIKey = built.Value, req.EmbeddingModelName, req.EmbeddingModelAPIKey
		info.EmbeddingUpdated = true
	}

	info.LLMName, info.EmbeddingModelName = sess.LLMName, sess.EmbeddingModelName
	s.logger.Info("session %s: models llm=%s embedding=%s", sess.ID, info.LLMName, info.EmbeddingModelName)
	return result.Ok(source, "models configured", info)
}

func (s *Service) buildLLM(name, apiKey string) result.Result[llms.Model] {
	const source = "build_llm"
	llm, err := s.BuildLLM(name, apiKey)
	if err != nil {
		return modelFailure[llms.Model](source, name, err)
	}
	return result.Ok(source, fmt.Sprintf("connected to %s", name), llm)
}

func (s *Service) buildEmbedder(name, apiKey string) result.Result[embeddings.Embedder] {
	const source = "build_embedding_model"
	emb, err := s.BuildEmbedder(name, apiKey)
	if err != nil {
		return modelFailure[embeddings.Embedder](source, name, err)
	}
	return result.Ok(source, fmt.Sprintf("connected to %s", name), emb)
}

func modelFailure[T any](source, name string, err error) result.Result[T] {
	switch {
	case errors.Is(err, models.ErrUnsupportedModel):
		return result.Failf[T](source, result.ReasonUnsupported, "%s is not supported yet", name)
	case errors.Is(err, models.ErrMissingCredential):
		return result.Failf[T](source, result.ReasonPrecondition, "%s requires an api key", name)
	default:
		return result.Upstream[T](source, fmt.Sprintf("failed to connect to %s", name), err)
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

// SetLanguage records the document's display language. Blank values are rejected
// and leave the previous value.
func (s *Service) SetLanguage(sessionID, language string) result.Result[string] {
	const source = "set_lanuage"

	language = strings.TrimSpace(language)
	if language == "" {
		return result.Fail[string](source, result.ReasonValidation, "language must not be empty")
	}

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	sess.Language = language
	return result.Ok(source, "language set to "+language, language)
}

// ChatReply is the final message of a chat turn.
type ChatReply struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Chat answers question, building the session's pipeline on first use.
func (s *Service) Chat(ctx context.Context, sessionID, question string) result.Result[ChatReply] {
	const source = "chat"

	if strings.TrimSpace(question) == "" {
		return result.Fail[ChatReply](source, result.ReasonValidation, "question must not be empty")
	}

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	if sess.Pipeline == nil {
		built := s.buildPipeline(ctx, sess)
		if !built.OK {
			return result.Nest[ChatReply](source, built)
		}
		sess.Pipeline = built.Value
		sess.Transcript = nil
	}

	answered := s.answer(ctx, sess.Pipeline, question)
	if !answered.OK {
		return result.Nest[ChatReply](source, answered)
	}
	return result.Ok(source, answered.Trace(), answered.Value)
}

func (s *Service) buildPipeline(ctx context.Context, sess *session.Session) result.Result[*conversation.Pipeline] {
	const source = "build_pipeline"

	if sess.LLM == nil {
		return result.Fail[*conversation.Pipeline](source, result.ReasonPrecondition, "please configure the models first")
	}
	if sess.Index == nil {
		return result.Fail[*conversation.Pipeline](source, result.ReasonPrecondition, "please upload a file and build the vector store first")
	}

	thread := s.threadID(sess)
	p, err := conversation.New(sess.LLM, sess.Index.Store, conversation.Options{
		ThreadID: thread,
		TopK:     s.cfg.Conversation.TopK,
		Store:    s.checkpoints,
		Logger:   s.logger,
		Document: sess.FileName,
	})
	if err != nil {
		return result.Upstream[*conversation.Pipeline](source, "failed to build the pipeline", err)
	}

	same, err := s.sameDocument(ctx, thread, sess.FileName)
	if err != nil {
		return result.Upstream[*conversation.Pipeline](source, "failed to read the conversation store", err)
	}
	if same {
		resumed, err := p.Resume(ctx)
		if err != nil {
			return result.Upstream[*conversation.Pipeline](source, "failed to resume the conversation", err)
		}
		if resumed {
			s.logger.Info("thread %s: resumed at turn %d", thread, p.Turn())
			return result.Ok(source, "pipeline resumed", p)
		}
	}

	if err := p.Reset(ctx); err != nil {
		return result.Upstream[*conversation.Pipeline](source, "failed to build the pipeline", err)
	}

	if len(sess.Transcript) > 0 {
		err = p.Append(ctx, sess.Transcript...)
	} else {
		err = p.Seed(ctx, conversation.Persona{
			AssistantName: sess.LLMName,
			Language:      sess.Language,
			FileName:      sess.FileName,
		})
	}
	if err != nil {
		return result.Upstream[*conversation.Pipeline](source, "failed to build the pipeline", err)
	}
	return result.Ok(source, "pipeline built", p)
}

func (s *Service) threadID(sess *session.Session) string {
	return sess.ID + ":" + s.cfg.Conversation.ThreadID
}

// sameDocument reports whether the latest checkpoint of thread is about document.
func (s *Service) sameDocument(ctx context.Context, thread, document string) (bool, error) {
	cp, err := s.checkpoints.Latest(ctx, thread)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	doc, _ := cp.Metadata[conversation.DocumentKey].(string)
	return doc == document, nil
}

// dropStaleThread clears the session's thread when it holds a conversation about
// another document. A thread about the same document is kept so it can be resumed.
func (s *Service) dropStaleThread(ctx context.Context, sess *session.Session) {
	thread := s.threadID(sess)
	same, err := s.sameDocument(ctx, thread, sess.FileName)
	if err == nil && !same {
		err = s.checkpoints.Clear(ctx, thread)
	}
	if err != nil {
		s.logger.Warn("thread %s: drop previous conversation: %v", thread, err)
	}
}

func (s *Service) answer(ctx context.Context, p *conversation.Pipeline, question string) result.Result[ChatReply] {
	const source = "qa_answer"

	start := time.Now()
	reply, err := p.Ask(ctx, question)
	if err != nil {
		s.logger.Error("thread %s: %v", p.ThreadID(), err)
		return result.Upstream[ChatReply](source, "the model failed to respond", err)
	}
	s.logger.Debug("thread %s: answered in %v", p.ThreadID(), time.Since(start))
	return result.Ok(source, "the model responded", ChatReply{Role: string(reply.Role), Message: reply.Content})
}
