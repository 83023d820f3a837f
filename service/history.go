package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/smallnest/docqa/result"
	"github.com/smallnest/docqa/session"
)

// History lists the persisted session records, newest first.
func (s *Service) History() result.Result[[]session.RecordInfo] {
	const source = "history"

	records, err := session.ListRecords(s.cfg.Paths.HistoryDir)
	if err != nil {
		return result.Upstream[[]session.RecordInfo](source, "failed to list history", err)
	}
	return result.Ok(source, "history listed", records)
}

// HistoryRecord loads one persisted record by record or document file name.
func (s *Service) HistoryRecord(name string) result.Result[*session.Record] {
	const source = "history"

	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return result.Fail[*session.Record](source, result.ReasonValidation, "record name must not be empty")
	}
	r, err := session.LoadRecord(filepath.Join(s.cfg.Paths.HistoryDir, session.RecordName(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result.Failf[*session.Record](source, result.ReasonPrecondition, "no history for %s", name)
		}
		return result.Upstream[*session.Record](source, "failed to read history", err)
	}
	return result.Ok(source, "history loaded", r)
}

// RestoreInfo is returned by Restore.
type RestoreInfo struct {
	FileName           string `json:"file_name"`
	EmbeddingModelName string `json:"embedding_model_name"`
	LLMName            string `json:"llm_name"`
	Messages           int    `json:"messages"`
	IndexRestored      bool   `json:"index_restored"`
}

// Restore makes a persisted record the session's current document. The current
// session is persisted first. The transcript and names come back; the collection
// is reopened when its embedding model needs no credential. Chat models always
// need one, so set_models must run before the next chat.
func (s *Service) Restore(ctx context.Context, sessionID, fileName string) result.Result[RestoreInfo] {
	const source = "restore"

	loaded := s.HistoryRecord(fileName)
	if !loaded.OK {
		return result.Nest[RestoreInfo](source, loaded)
	}
	rec := loaded.Value

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	if r := s.saveCurrent(sess); !r.OK && r.Reason != result.ReasonPrecondition {
		return result.Nest[RestoreInfo](source, r)
	}
	if err := sess.Reset(); err != nil {
		s.logger.Warn("restore: close previous index: %v", err)
	}

	sess.FileName = rec.FileName
	sess.TmpFilePath = rec.TmpFilePath
	sess.Language = rec.Language
	sess.EmbeddingModelName = rec.EmbeddingModelName
	sess.LLMName = rec.LLMName
	sess.Transcript = rec.Messages()
	s.dropStaleThread(ctx, sess)

	info := RestoreInfo{
		FileName:           rec.FileName,
		EmbeddingModelName: rec.EmbeddingModelName,
		LLMName:            rec.LLMName,
		Messages:           len(rec.ChatHistory),
	}

	if rec.VectorCachePath == "" || rec.EmbeddingModelName == "" {
		return result.Ok(source, "history restored", info)
	}
	if _, err := os.Stat(rec.VectorCachePath); err != nil {
		s.logger.Warn("restore %s: vector cache %s unavailable: %v", rec.FileName, rec.VectorCachePath, err)
		return result.Ok(source, "history restored; the vector store must be rebuilt", info)
	}

	emb, err := s.BuildEmbedder(rec.EmbeddingModelName, "")
	if err != nil {
		s.logger.Info("restore %s: embedding model %s not rebuilt: %v", rec.FileName, rec.EmbeddingModelName, err)
		return result.Ok(source, "history restored; set the models to continue", info)
	}
	idx, err := s.indexer.Open(ctx, rec.VectorCachePath, emb)
	if err != nil {
		s.logger.Warn("restore %s: %v", rec.FileName, err)
		return result.Ok(source, "history restored; the vector store must be rebuilt", info)
	}

	sess.Embedder = emb
	sess.Index = idx
	sess.VectorCachePath = idx.CachePath
	info.IndexRestored = true

	s.logger.Info("session %s: restored %s with %d messages", sess.ID, rec.FileName, info.Messages)
	return result.Ok(source, "history restored", info)
}
