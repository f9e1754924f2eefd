package api

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/hub"
	"chatrelay/internal/ratelimit"
	"chatrelay/pkg/types"
)

// RoomRegistry is the read side of the room registry the API reports on
type RoomRegistry interface {
	Rooms() []string
	RoomSize(roomID string) int
	Presence(roomID string) []types.Identity
	GetStats() map[string]int
}

// HubStats exposes broadcast counters
type HubStats interface {
	Stats() hub.Stats
}

// LimiterStats exposes rate limiter state
type LimiterStats interface {
	Stats() ratelimit.Stats
}

// HealthCheck probes one backing service
type HealthCheck func(ctx context.Context) error

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	registry RoomRegistry
	hub      HubStats
	limiter  LimiterStats
	logger   *zap.Logger
	started  time.Time
	router   *http.ServeMux

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewServer wires the read-only monitoring API
func NewServer(registry RoomRegistry, hub HubStats, limiter LimiterStats, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		hub:      hub,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "api")),
		started:  time.Now(),
		router:   http.NewServeMux(),
		checks:   make(map[string]HealthCheck),
	}

	s.setupRoutes()
	return s
}

// AddHealthCheck registers a named probe reported by /health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listRooms))))
	s.router.Handle("/api/rooms/{conversationID}", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.getRoom))))
}

// Register mounts the API on mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/health", s)
	mux.Handle("/api/", s)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type RoomSummary struct {
	RoomID  string `json:"room_id"`
	Members int    `json:"members"`
}

type ListRoomsResponse struct {
	Rooms   []RoomSummary   `json:"rooms"`
	Hub     hub.Stats       `json:"hub"`
	Limiter ratelimit.Stats `json:"limiter"`
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks"`
	Connections map[string]int    `json:"connections"`
	System      map[string]any    `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/rooms - Active rooms with member counts and broadcast counters
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := s.registry.Rooms()
	slices.Sort(ids)
	rooms := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, RoomSummary{RoomID: id, Members: s.registry.RoomSize(id)})
	}

	s.writeJSON(w, http.StatusOK, ListRoomsResponse{
		Rooms:   rooms,
		Hub:     s.hub.Stats(),
		Limiter: s.limiter.Stats(),
	})
}

// FUNCTIONAL DISCOVERY: GET /api/rooms/{id} - Members currently present; an idle room is empty, not missing
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := r.PathValue("conversationID")
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	members := s.registry.Presence(roomID)
	slices.SortFunc(members, func(a, b types.Identity) int { return cmp.Compare(a.UserID, b.UserID) })
	s.writeJSON(w, http.StatusOK, types.RoomStats{RoomID: roomID, Members: members})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	status := "healthy"
	results := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(ctx); err != nil {
			status = "unhealthy"
			results[name] = "error: " + err.Error()
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "healthy"
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Checks:      results,
		Connections: s.registry.GetStats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access to the monitoring API
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
