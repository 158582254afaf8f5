package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vnnguyen/kidshelf/internal/contentstore"
)

type ServerConfig struct {
	MaxBodyBytes int64
}

type Logger interface {
	Printf(format string, args ...any)
}

// Server exposes the content store over HTTP. Routes are hand-matched in
// ServeHTTP; mutations broadcast a change event to websocket subscribers.
type Server struct {
	store  *contentstore.Store
	cfg    ServerConfig
	hub    *eventHub
	logger Logger
}

func NewServer(store *contentstore.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *contentstore.Store, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		store: store,
		cfg:   cfg,
		hub:   newEventHub(),
	}
}

func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	switch r.URL.Path {
	case "/health":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case "/api/content":
		s.handleContent(w, r)
	case "/api/progress":
		s.handleProgress(w, r)
	case "/api/seed":
		s.handleSeed(w, r)
	case "/api/clear":
		s.handleClear(w, r)
	case "/api/events":
		s.handleEvents(w, r)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, s.store.List(deviceID))
	case http.MethodPost:
		body, ok := s.readRequestBody(w, r)
		if !ok {
			return
		}
		if !validateBody(w, createContentSchema, body) {
			return
		}
		var req struct {
			Title   string `json:"title"`
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rec, err := s.store.Create(req.Title, req.Type, req.Content)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.broadcast("content.created")
		writeJSON(w, http.StatusCreated, rec)
	case http.MethodPut:
		body, ok := s.readRequestBody(w, r)
		if !ok {
			return
		}
		if !validateBody(w, updateContentSchema, body) {
			return
		}
		var req struct {
			ID      int64   `json:"id"`
			Title   *string `json:"title"`
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rec, err := s.store.UpdateContent(contentstore.UpdateContentRequest{
			ID:      req.ID,
			Title:   req.Title,
			Content: req.Content,
		})
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.broadcast("content.updated")
		writeJSON(w, http.StatusOK, rec)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, s.store.ListProgress(deviceID))
	case http.MethodPost:
		body, ok := s.readRequestBody(w, r)
		if !ok {
			return
		}
		if !validateBody(w, updateProgressSchema, body) {
			return
		}
		var req struct {
			DeviceID  string                      `json:"deviceId"`
			ContentID int64                       `json:"contentId"`
			Action    string                      `json:"action"`
			Value     *contentstore.ProgressValue `json:"value"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		p, err := s.store.ApplyProgress(req.DeviceID, req.ContentID, req.Action, req.Value)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.broadcast("progress.updated")
		writeJSON(w, http.StatusOK, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if !validateBody(w, seedContentSchema, body) {
		return
	}
	var req struct {
		DeviceID string                  `json:"deviceId"`
		Items    []contentstore.SeedItem `json:"items"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result := s.store.Seed(req.Items, strings.TrimSpace(req.DeviceID))
	s.broadcast("content.seeded")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
	result, err := s.store.Clear(deviceID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.broadcast("content.cleared")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) broadcast(event string) {
	if s.hub == nil {
		return
	}
	s.hub.broadcast(event)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contentstore.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, contentstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "content not found")
	default:
		s.logf("store error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
