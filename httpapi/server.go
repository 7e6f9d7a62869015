// Package httpapi is a development backend speaking the dashboard's real-time
// and streaming protocols: SSE and WebSocket push, NDJSON import and chat.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wapikit/wapikit-sub000/internal/logx"
	"github.com/wapikit/wapikit-sub000/schema"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxUploadBytes    = 32 << 20
	maxPublishBytes   = 1 << 20
)

// Authenticator maps a bearer token to a user.
type Authenticator interface {
	Authenticate(token string) (schema.UserID, error)
}

// Server serves the development backend.
type Server struct {
	cfg      Config
	auth     Authenticator
	hub      *Hub
	basePath string
	pace     rate.Limit
}

// NewServer constructs a backend server. A nil hub gets a fresh one.
func NewServer(cfg Config, auth Authenticator, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	pace := rate.Inf
	if cfg.RecordsPerSecond > 0 {
		pace = rate.Limit(cfg.RecordsPerSecond)
	}
	return &Server{
		cfg:      cfg,
		auth:     auth,
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
		pace:     pace,
	}
}

// Hub returns the event hub backing the push endpoints.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", s.requireToken(s.handleEvents))
	mux.HandleFunc("POST /api/events/publish", s.requireToken(s.handlePublish))
	mux.HandleFunc("GET /api/ws", s.requireToken(s.handleWebSocket))
	mux.HandleFunc("POST /api/contacts/bulk-import", s.requireToken(s.handleImport))
	mux.HandleFunc("POST /api/ai-chat/{id}/messages", s.requireToken(s.handleChat))

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var env schema.Envelope
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxPublishBytes), &env); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	event, err := schema.DecodeEvent(env.Event, env.Data)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, schema.ErrUnknownEvent) {
			status = http.StatusBadRequest
		}
		logx.WithEvent(logx.Ctx(r.Context()), env.Event, "").Warn("http publish rejected", "err", err)
		writeError(w, status, err)
		return
	}
	published, err := s.hub.Publish(userID, event)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"seq": published.Seq, "event": published.Name})
}

func (s *Server) requireToken(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token := requestToken(r)
		if token == "" {
			log.Warn("http token missing")
			writeError(w, http.StatusUnauthorized, schema.ErrMissingToken)
			return
		}
		userID, err := s.auth.Authenticate(token)
		if err != nil {
			log.Warn("http token invalid")
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		setUser(w, userID)
		log = log.With("user", userID)
		ctx := logx.ContextWithUserLogger(r.Context(), log, userID)
		next(w, r.WithContext(ctx), userID)
	}
}

// requestToken reads a bearer header, falling back to the token query
// parameter that EventSource and browser WebSocket clients must use.
func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
