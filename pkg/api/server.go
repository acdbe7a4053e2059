// Agent C UI bridge: REST endpoints for session state plus a WebSocket that
// relays outbound client events to local UI processes.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sipeed/agentc/pkg/app"
	"github.com/sipeed/agentc/pkg/domain"
	"github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/logger"
)

// Config configures the UI bridge server.
type Config struct {
	Addr   string
	APIKey string
}

// Server is the HTTP bridge between an app.Client and local UI processes.
type Server struct {
	config      Config
	client      *app.Client
	metrics     http.Handler
	wsHub       *WSHub
	eventBridge *EventBridge
	startTime   time.Time
	server      *http.Server
}

// NewServer creates a bridge for client. metrics may be nil.
func NewServer(cfg Config, client *app.Client, metrics http.Handler) *Server {
	// Random key per process when none is configured, printed once.
	if cfg.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.APIKey = hex.EncodeToString(raw)
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, "agentc UI bridge key (session token):")
			fmt.Fprintf(os.Stderr, "  %s\n", cfg.APIKey)
			fmt.Fprintln(os.Stderr, "Set ui.api_key or AGENTC_UI_API_KEY to make it permanent.")
			fmt.Fprintln(os.Stderr)
		}
	}
	s := &Server{
		config:    cfg,
		client:    client,
		metrics:   metrics,
		startTime: time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.eventBridge = NewEventBridge(client.Outbound, s.wsHub)
	return s
}

// APIKey returns the key requests must present.
func (s *Server) APIKey() string { return s.config.APIKey }

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/system/info", s.handleSystemInfo)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleImportSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/select", s.handleSelectSession)

	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("POST /api/voice", s.handleSetVoice)
	mux.HandleFunc("GET /api/avatars", s.handleAvatars)
	mux.HandleFunc("POST /api/input", s.handleInput)

	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return corsMiddleware(authMiddleware(s.config.APIKey, mux))
}

// Start begins listening on the configured address. The hub and event
// bridge run until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "UI bridge starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)
	go s.eventBridge.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status is the snapshot served by /api/status and sent to new WebSocket
// clients.
type Status struct {
	UptimeSeconds    int             `json:"uptime_seconds"`
	Uptime           string          `json:"uptime_human"`
	CanSendInput     bool            `json:"can_send_input"`
	TurnState        string          `json:"turn_state"`
	Voice            interface{}     `json:"voice"`
	AvatarSession    interface{}     `json:"avatar_session"`
	CurrentSessionID domain.EntityID `json:"current_session_id,omitempty"`
	Sessions         int             `json:"sessions"`
	Streaming        bool            `json:"streaming"`
}

func (s *Server) status() Status {
	uptime := time.Since(s.startTime)
	st := Status{
		UptimeSeconds:    int(uptime.Seconds()),
		Uptime:           formatDuration(uptime),
		CanSendInput:     s.client.Turn.CanSendInput(),
		TurnState:        s.client.Turn.State().String(),
		CurrentSessionID: s.client.Sessions.CurrentSessionID(),
		Sessions:         s.client.Sessions.SessionCount(),
		Streaming:        s.client.Sessions.IsStreaming(),
	}
	if v := s.client.Voices.GetCurrentVoice(); v != nil {
		st.Voice = v
	}
	if a := s.client.Avatars.GetAvatarSession(); a != nil {
		st.AvatarSession = a
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":   hostname,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"goroutines": runtime.NumGoroutine(),
		"memory_mb":  float64(m.Alloc) / 1024 / 1024,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.client.Sessions.ListSessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	export, err := s.client.Sessions.ExportSession(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	if !s.client.Sessions.DeleteSession(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleImportSession(w http.ResponseWriter, r *http.Request) {
	var export session.Export
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&export); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	id, err := s.client.Sessions.ImportSession(export)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	if err := s.client.SwitchSession(r.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current_session_id": id.String()})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"voices":       s.client.Voices.GetAvailableVoices(),
		"current":      s.client.Voices.GetCurrentVoice(),
		"capabilities": s.client.Voices.GetVoiceCapabilities(),
	})
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VoiceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "voice_id required"})
		return
	}
	if err := s.client.SetVoice(r.Context(), req.VoiceID); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"voice_id": req.VoiceID})
}

func (s *Server) handleAvatars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"avatars": s.client.Avatars.GetAvailableAvatars(),
		"session": s.client.Avatars.GetAvatarSession(),
	})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text required"})
		return
	}
	if err := s.client.SendText(r.Context(), req.Text); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// writeCommandError maps client command failures onto HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, app.ErrCannotSendInput):
		status = http.StatusConflict
	case errors.Is(err, app.ErrUnknownVoice), errors.Is(err, app.ErrUnknownAvatar):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrNotConnected):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
