// Package server exposes the docqa service over HTTP.
//
// Every JSON endpoint answers 200 with the {source, state, message, addition_args}
// envelope; failures are reported through state and message. The session is
// chosen by the X-Session-ID header.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"

	"github.com/smallnest/docqa/config"
	"github.com/smallnest/docqa/log"
	"github.com/smallnest/docqa/service"
	"github.com/smallnest/docqa/session"
)

// SessionHeader names the request header carrying the session id.
const SessionHeader = "X-Session-ID"

// Server routes HTTP requests to the service.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	logger log.Logger
}

// New creates a Server.
func New(cfg *config.Config, svc *service.Service, logger log.Logger) *Server {
	return &Server{cfg: cfg, svc: svc, logger: log.OrDefault(logger)}
}

// Routes registers the API and the static mounts.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/embedding", s.handleEmbedding).Methods(http.MethodPost)
	api.HandleFunc("/set_models", s.handleSetModels).Methods(http.MethodPost)
	api.HandleFunc("/set_lanuage", s.handleSetLanguage).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{name}", s.handleHistoryRecord).Methods(http.MethodGet)
	api.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.PathPrefix("/frontend/").Handler(http.StripPrefix("/frontend/", http.FileServer(http.Dir(s.cfg.Server.FrontendDir))))
	r.PathPrefix("/Temp/").Handler(http.StripPrefix("/Temp/", http.FileServer(http.Dir(s.cfg.Paths.TempDir))))
	r.Handle("/", http.RedirectHandler("/frontend/", http.StatusFound))

	return r
}

// Handler wraps the routes with recovery, request logging and CORS.
func (s *Server) Handler() http.Handler {
	n := negroni.New()
	n.Use(newRecovery(s.logger))
	n.Use(requestLogger(s.logger))
	n.Use(cors(s.cfg.Server.AllowedOrigins))
	n.UseHandler(s.Routes())
	return n
}

func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return session.DefaultID
}
