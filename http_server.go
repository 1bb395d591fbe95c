package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HTTPServer wires the chat hub, the session registry, and the AI proxy to
// HTTP routes. A nil completer means the AI endpoint reports unavailable.
type HTTPServer struct {
	name      string
	hub       *Hub
	registry  *Registry
	completer Completer
	upgrader  websocket.Upgrader
}

func NewHTTPServer(name string, hub *Hub, registry *Registry, completer Completer) *HTTPServer {
	return &HTTPServer{
		name:      name,
		hub:       hub,
		registry:  registry,
		completer: completer,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Router exposes the HTTP mux used for local serving and relay listeners.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWebSocket)
	r.Post("/api/ai", s.handleAI)
	r.Get("/api/status", s.handleStatus)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *HTTPServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTmpl.Execute(w, struct{ Name string }{Name: s.name})
}

// handleWebSocket upgrades the connection and hands it to the hub. A client
// that reconnects gets a brand new connection id and guest name; transport
// retries never preserve identity.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[chat] upgrade websocket")
		return
	}
	client := NewClient(uuid.NewString(), conn, s.hub)
	s.hub.Attach(client)
	go client.writeLoop()
	client.readLoop()
}

type aiRequest struct {
	Message string `json:"message"`
}

type aiResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *HTTPServer) handleAI(w http.ResponseWriter, r *http.Request) {
	var req aiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, aiResponse{Error: "메시지가 필요합니다."})
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSONStatus(w, http.StatusBadRequest, aiResponse{Error: "메시지가 필요합니다."})
		return
	}
	if s.completer == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, aiResponse{
			Error: "AI 서비스가 현재 사용할 수 없습니다. API 키가 설정되지 않았습니다.",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), aiRequestTimeout)
	defer cancel()
	text, err := s.completer.Complete(ctx, message)
	if err != nil {
		log.Error().Err(err).Msg("[chat] ai completion failed")
		var aiErr *AIError
		if errors.As(err, &aiErr) {
			writeJSONStatus(w, aiErr.HTTPStatus(), aiResponse{Error: aiErr.Message})
			return
		}
		writeJSONStatus(w, http.StatusInternalServerError, aiResponse{
			Error: "AI 서비스 처리 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요.",
		})
		return
	}
	writeJSONStatus(w, http.StatusOK, aiResponse{Response: text})
}

type statusResponse struct {
	Status         string `json:"status"`
	AIAvailable    bool   `json:"aiAvailable"`
	ConnectedUsers int    `json:"connectedUsers"`
	Timestamp      string `json:"timestamp"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, statusResponse{
		Status:         "running",
		AIAvailable:    s.completer != nil,
		ConnectedUsers: s.registry.Len(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("[chat] write json response")
	}
}
