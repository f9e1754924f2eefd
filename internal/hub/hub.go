package hub

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"chatrelay/internal/registry"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// stripeCount bounds the number of room sequencing locks
const stripeCount = 64

// Hub fans events out to every member of a room
// ARCHITECTURAL DISCOVERY: Publishing is synchronous on the caller's goroutine;
// per-connection writer goroutines absorb slow sockets, so the hub never
// needs its own queue
type Hub struct {
	registry *registry.Registry
	logger   *zap.Logger

	// RACE CONDITION FIX: Serialize+fanout for one room happens under that
	// room's stripe so concurrent publishers cannot interleave deliveries
	stripes [stripeCount]sync.Mutex

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// Stats is a point-in-time view of hub counters
type Stats struct {
	Running     bool   `json:"running"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

// NewHub creates a hub over reg
func NewHub(reg *registry.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		registry: reg,
		logger:   logger.With(zap.String("component", "hub")),
	}
}

// Start enables publishing
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.logger.Info("hub started")
	return nil
}

// Stop disables publishing; later events are dropped
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	h.logger.Info("hub stopped")
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) stripe(roomID string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(roomID))
	return &h.stripes[f.Sum32()%stripeCount]
}

// Publish delivers event to every current member of roomID and returns the
// number of handles that accepted it. Handles whose Send fails are removed
// from the room and closed. Publish never fails; problems are logged.
func (h *Hub) Publish(roomID string, event *types.Event) int {
	if event == nil {
		return 0
	}
	if !h.isRunning() {
		h.dropped.Add(1)
		h.logger.Debug("publish after stop dropped", zap.String("room", roomID), zap.Stringer("kind", event.Kind))
		return 0
	}

	// FUNCTIONAL DISCOVERY: Serialize once per publish, not once per recipient
	payload, err := json.Marshal(event)
	if err != nil {
		h.dropped.Add(1)
		h.logger.Error("failed to encode event", zap.String("room", roomID), zap.Stringer("kind", event.Kind), zap.Error(err))
		return 0
	}

	mu := h.stripe(roomID)
	mu.Lock()
	delivered, failed := h.registry.Fanout(roomID, func(conn interfaces.Connection) error {
		return conn.Send(payload)
	})
	mu.Unlock()

	h.published.Add(1)
	h.delivered.Add(uint64(delivered))

	for _, conn := range failed {
		h.evict(roomID, conn, fmt.Errorf("%w: publish %s", interfaces.ErrTransportFailure, event.Kind))
	}
	return delivered
}

// SendTo delivers event to one handle only
func (h *Hub) SendTo(conn interfaces.Connection, event *types.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Kind, err)
	}
	if err := conn.Send(payload); err != nil {
		h.evict(conn.RoomID(), conn, err)
		return err
	}
	h.delivered.Add(1)
	return nil
}

// evict treats a failed push as an implicit disconnect
func (h *Hub) evict(roomID string, conn interfaces.Connection, cause error) {
	h.failed.Add(1)
	removed := h.registry.Leave(roomID, conn)
	if err := conn.Close(); err != nil {
		h.logger.Debug("close after failed send", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	h.logger.Warn("evicted connection after failed send",
		zap.String("room", roomID),
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", conn.Identity().UserID),
		zap.Bool("was_member", removed),
		zap.Error(cause),
	)
}

// Stats returns the hub counters together with registry totals
func (h *Hub) Stats() Stats {
	reg := h.registry.GetStats()
	return Stats{
		Running:     h.isRunning(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Failed:      h.failed.Load(),
		Dropped:     h.dropped.Load(),
		Rooms:       reg["active_rooms"],
		Connections: reg["total_connections"],
	}
}
