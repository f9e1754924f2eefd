package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/session"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Route is the WebSocket endpoint, keyed by conversation id
const Route = "GET /ws/chat/{conversationID}/{$}"

// Handler upgrades chat connections and pumps their frames into sessions
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// the handler only resolves who and where, the session decides what frames mean
type Handler struct {
	sessions  *session.Manager
	identity  interfaces.IdentityProvider
	directory interfaces.Directory
	cfg       Config
	upgrader  websocket.Upgrader
	logger    *zap.Logger

	mu      sync.Mutex
	conns   map[*Connection]struct{}
	readers sync.WaitGroup
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(sessions *session.Manager, identity interfaces.IdentityProvider, directory interfaces.Directory, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		sessions:  sessions,
		identity:  identity,
		directory: directory,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "websocket")),
		conns:     make(map[*Connection]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// Register mounts the handler on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(Route, h.HandleWebSocket)
}

// HandleWebSocket validates, authorizes and upgrades one connection
// ARCHITECTURAL DISCOVERY: Multi-stage validation (room -> identity -> directory -> upgrade)
// keeps rejected requests on plain HTTP with a meaningful status code
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("conversationID")
	if !types.IsValidRoomID(roomID) {
		http.Error(w, ErrInvalidConversationID.Error(), http.StatusBadRequest)
		return
	}

	identity, err := h.identity.Identify(r)
	if err != nil {
		h.logger.Debug("rejected unauthenticated upgrade", zap.String("room", roomID), zap.Error(err))
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	if err := h.directory.Authorize(r.Context(), roomID, identity.UserID); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrConversationNotFound):
			http.Error(w, "Conversation not found", http.StatusNotFound)
		case errors.Is(err, interfaces.ErrUnauthorized):
			http.Error(w, "Not authorized to join this conversation", http.StatusForbidden)
		default:
			h.logger.Error("conversation lookup failed", zap.String("room", roomID), zap.Error(err))
			http.Error(w, "Conversation lookup failed", http.StatusInternalServerError)
		}
		return
	}

	// FUNCTIONAL DISCOVERY: Upgrade after validation prevents resource waste on invalid requests
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if h.cfg.MaxFrameSize > 0 {
		ws.SetReadLimit(h.cfg.MaxFrameSize)
	}

	conn := NewConnection(ws, identity, roomID, h.cfg, h.logger)
	h.track(conn)

	sess, err := h.sessions.Open(context.Background(), conn)
	if err != nil {
		h.logger.Warn("failed to open session", zap.String("room", roomID), zap.Error(err))
		_ = conn.Close()
		h.untrack(conn)
		return
	}
	go h.readLoop(ws, conn, sess)
}

// track registers conn with the shutdown set before any frame is sent on it
func (h *Handler) track(conn *Connection) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.readers.Add(1)
	h.mu.Unlock()
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.readers.Done()
}

// readLoop feeds inbound frames to the session until the socket fails
// TECHNICAL DISCOVERY: Read deadline is refreshed by every pong, so a silent
// peer is dropped after ReadTimeout without application traffic
func (h *Handler) readLoop(ws *websocket.Conn, conn *Connection, sess *session.Session) {
	defer func() {
		_ = sess.Close()
		_ = conn.Close()
		h.untrack(conn)
	}()

	logger := h.logger.With(
		zap.String("room", conn.RoomID()),
		zap.String("user_id", conn.Identity().UserID),
		zap.String("conn_id", conn.ID()),
	)

	if h.cfg.ReadTimeout > 0 {
		extend := func() error { return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)) }
		if err := extend(); err != nil {
			logger.Debug("failed to set read deadline", zap.Error(err))
			return
		}
		ws.SetPongHandler(func(string) error { return extend() })
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			logger.Debug("ignoring non-text frame", zap.Int("message_type", messageType))
			continue
		}

		if err := sess.Handle(ctx, data); err != nil {
			logHandleError(logger, err)
		}
	}
}

func logHandleError(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, interfaces.ErrRateLimited), errors.Is(err, session.ErrLeftRoom):
		logger.Debug("frame not dispatched", zap.Error(err))
	case errors.Is(err, interfaces.ErrMalformedEvent):
		logger.Info("malformed frame", zap.Error(err))
	default:
		logger.Warn("frame handling failed", zap.Error(err))
	}
}

// Active returns the number of live connections
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every live connection and waits for the read loops to
// exit or ctx to expire
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	open := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		open = append(open, conn)
	}
	h.mu.Unlock()

	for _, conn := range open {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkOrigin accepts same-host requests, requests without an Origin header
// (non-browser clients), and any host listed in AllowedOrigins
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.Info("rejected cross-origin upgrade", zap.String("origin", origin), zap.Error(ErrOriginNotAllowed))
	return false
}
