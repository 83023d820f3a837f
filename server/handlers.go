package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/smallnest/docqa/result"
	"github.com/smallnest/docqa/service"
)

func writeEnvelope(w http.ResponseWriter, env result.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(env)
}

// respond writes r, with its value as addition_args on success.
func respond[T any](w http.ResponseWriter, r result.Result[T]) {
	if !r.OK {
		writeEnvelope(w, r.Envelope(struct{}{}))
		return
	}
	writeEnvelope(w, r.Envelope(r.Value))
}

func invalid(w http.ResponseWriter, source string, err error) {
	respond(w, result.Fail[struct{}](source, result.ReasonValidation, fmt.Sprintf("malformed request: %v", err)))
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const source = "upload"

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		invalid(w, source, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		invalid(w, source, err)
		return
	}
	defer file.Close()

	respond(w, s.svc.Upload(r.Context(), sessionID(r), header.Filename, file))
}

func (s *Server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	respond(w, s.svc.Embed(r.Context(), sessionID(r)))
}

func (s *Server) handleSetModels(w http.ResponseWriter, r *http.Request) {
	var req service.SetModelsRequest
	if err := decode(r, &req); err != nil {
		invalid(w, "set_models", err)
		return
	}
	respond(w, s.svc.SetModels(r.Context(), sessionID(r), req))
}

type languageRequest struct {
	Language string `json:"lanuage"`
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := decode(r, &req); err != nil {
		invalid(w, "set_lanuage", err)
		return
	}
	respond(w, s.svc.SetLanguage(sessionID(r), req.Language))
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Role    string `json:"role"`
	Message string `json:"message"`
	HTML    string `json:"html"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		invalid(w, "chat", err)
		return
	}

	res := s.svc.Chat(r.Context(), sessionID(r), req.Question)
	if !res.OK {
		respond(w, res)
		return
	}
	writeEnvelope(w, res.Envelope(chatResponse{
		Role:    res.Value.Role,
		Message: res.Value.Message,
		HTML:    RenderMarkdown(res.Value.Message),
	}))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	respond(w, s.svc.History())
}

func (s *Server) handleHistoryRecord(w http.ResponseWriter, r *http.Request) {
	respond(w, s.svc.HistoryRecord(mux.Vars(r)["name"]))
}

type restoreRequest struct {
	FileName string `json:"file_name"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		invalid(w, "restore", err)
		return
	}
	respond(w, s.svc.Restore(r.Context(), sessionID(r), req.FileName))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, result.Ok("health", "ok", map[string]any{
		"sessions": s.svc.Sessions().Len(),
	}))
}
