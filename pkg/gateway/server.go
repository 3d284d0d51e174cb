// Package gateway exposes the execution registry over HTTP and pushes
// lifecycle notifications to WebSocket subscribers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/yudha/arus/internal/observability"
	"github.com/yudha/arus/internal/tracing"
	"github.com/yudha/arus/pkg/stream"
)

// Dispatcher supplies the producer that drives a newly created execution.
// The gateway never interprets what the producer does; it only starts it.
type Dispatcher func(execution *stream.Execution, req CreateRequest) stream.Producer

// Server is the HTTP and WebSocket daemon surface
type Server struct {
	port           int
	sharedSecret   string
	manager        *stream.Manager
	dispatcher     Dispatcher
	server         *http.Server
	mux            *http.ServeMux
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	broadcaster    *EventBroadcaster
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// Config holds server configuration
type Config struct {
	Port         int
	SharedSecret string
	Manager      *stream.Manager
	Dispatcher   Dispatcher
	Logger       zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("execution manager is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	clients := NewClientRegistry()

	s := &Server{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		manager:      cfg.Manager,
		dispatcher:   cfg.Dispatcher,
		clients:      clients,
		broadcaster:  NewEventBroadcaster(clients, cfg.Logger),
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local daemon, secret check gates access
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/executions", s.withSecret(s.handleCreate))
	mux.HandleFunc("GET /v1/executions/{id}/events", s.withSecret(s.handleEvents))
	mux.HandleFunc("POST /v1/executions/{id}/cancel", s.withSecret(s.handleCancel))
	mux.HandleFunc("DELETE /v1/executions/{id}", s.withSecret(s.handleRemove))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.mux = mux

	return s, nil
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on the configured port
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.mux,
	}

	s.logger.Info().Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server and closes client connections
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Broadcast pushes an event to all connected WebSocket clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// GetConnectedClients returns information about connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) withSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SecretHeader) != s.sharedSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "project_id and conversation_id are required")
		return
	}

	execution := s.manager.Create(req.ProjectID, req.ConversationID)

	ctx := tracing.WithExecutionID(tracing.NewRequestContext(r.Context()), execution.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("project_id", req.ProjectID).
		Str("conversation_id", req.ConversationID).
		Msg("Execution created")

	s.manager.Start(execution, s.dispatcher(execution, req))
	s.broadcaster.Broadcast("execution.created", map[string]interface{}{
		"execution_id":    execution.ID,
		"project_id":      req.ProjectID,
		"conversation_id": req.ConversationID,
	})

	writeJSON(w, http.StatusCreated, CreateResponse{ExecutionID: execution.ID})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	execution := s.manager.Get(r.PathValue("id"))
	if execution == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	cursor := 0.0
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = parsed
	}

	events, newCursor := execution.EventsSince(cursor)
	writeJSON(w, http.StatusOK, EventsResponse{
		Events:      events,
		Cursor:      newCursor,
		IsComplete:  execution.IsComplete(),
		IsCancelled: execution.IsCancelled(),
		Error:       execution.Err(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	execution := s.manager.Get(r.PathValue("id"))
	if execution == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	cancelled := execution.Cancel()
	if cancelled {
		s.logger.Info().Str("execution_id", execution.ID).Msg("Execution cancelled")
		s.broadcaster.Broadcast("execution.cancelled", map[string]interface{}{
			"execution_id": execution.ID,
		})
	}

	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.manager.Get(id) == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	s.manager.Remove(id)
	s.broadcaster.Broadcast("execution.removed", map[string]interface{}{
		"execution_id": id,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	if r.Header.Get(SecretHeader) != s.sharedSecret && r.URL.Query().Get("secret") != s.sharedSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.readClient(client)
}

// readClient drains inbound frames so pings and close frames are
// processed; the push surface is one-way.
func (s *Server) readClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
		s.clients.UpdateActivity(client.ID)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
