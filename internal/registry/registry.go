package registry

import (
	"sync"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Registry maps rooms to their active connection handles
// ARCHITECTURAL DISCOVERY: Pure membership tracking without delivery logic;
// the hub reads it through Fanout and never mutates it directly
type Registry struct {
	mu    sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex lets concurrent fan-outs share the read side
	rooms map[string]map[string]interfaces.Connection // roomID -> handleID -> Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]interfaces.Connection),
	}
}

// Join adds conn to roomID, creating the room on first use.
// Re-adding a present handle is a no-op; the return value reports whether
// the handle was newly added.
func (r *Registry) Join(roomID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	if !exists {
		members = make(map[string]interfaces.Connection)
		r.rooms[roomID] = members
	}
	if _, present := members[conn.ID()]; present {
		return false
	}
	members[conn.ID()] = conn
	return true
}

// Leave removes conn from roomID and prunes the room once it is empty.
// Idempotent; the return value reports whether a handle was removed.
func (r *Registry) Leave(roomID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	if !exists {
		return false
	}

	// RACE CONDITION FIX: Only remove the exact handle instance that is registered
	registered, present := members[conn.ID()]
	if !present || registered != conn {
		return false
	}
	delete(members, conn.ID())

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// Members returns a point-in-time snapshot of the room's handles
func (r *Registry) Members(roomID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	snapshot := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// Contains reports whether conn is currently registered in roomID
func (r *Registry) Contains(roomID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	registered, present := r.rooms[roomID][conn.ID()]
	return present && registered == conn
}

// Fanout calls send for every member of roomID while holding the read lock.
// No handle sees a payload after its Leave has returned, and every handle
// joined before the call is included. send must not block.
// Handles whose send failed are returned so the caller can evict them
// after the lock is released.
func (r *Registry) Fanout(roomID string, send func(interfaces.Connection) error) (delivered int, failed []interfaces.Connection) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.rooms[roomID] {
		if err := send(conn); err != nil {
			failed = append(failed, conn)
			continue
		}
		delivered++
	}
	return delivered, failed
}

// RoomSize returns the number of handles in roomID
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Presence lists the distinct identities connected to roomID
func (r *Registry) Presence(roomID string) []types.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	identities := make([]types.Identity, 0, len(r.rooms[roomID]))
	for _, conn := range r.rooms[roomID] {
		id := conn.Identity()
		if seen[id.UserID] {
			continue
		}
		seen[id.UserID] = true
		identities = append(identities, id)
	}
	return identities
}

// Rooms lists the ids of rooms with at least one member
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		ids = append(ids, roomID)
	}
	return ids
}

// Drain removes every handle from every room and returns them
func (r *Registry) Drain() []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []interfaces.Connection
	for _, members := range r.rooms {
		for _, conn := range members {
			all = append(all, conn)
		}
	}
	r.rooms = make(map[string]map[string]interfaces.Connection)
	return all
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}
	return map[string]int{
		"total_connections": total,
		"active_rooms":      len(r.rooms),
	}
}
