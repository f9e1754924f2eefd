package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind tags an Event variant
type EventKind int

const (
	EventUnknown EventKind = iota
	EventJoin
	EventMessage
	EventTyping
	EventStopTyping
	EventLeave
	EventHistory
	EventRateLimited
)

// Inbound type strings sent by clients
const (
	InboundJoin       = "join"
	InboundMessage    = "message"
	InboundTyping     = "typing"
	InboundStopTyping = "stop_typing"
	InboundLeave      = "leave"
	InboundHistory    = "history"
)

// Outbound type strings, dot-qualified under the chat namespace
const (
	OutboundJoin        = "chat.join"
	OutboundMessage     = "chat.message"
	OutboundTyping      = "chat.typing"
	OutboundStopTyping  = "chat.stop_typing"
	OutboundLeave       = "chat.leave"
	OutboundHistory     = "chat.history"
	OutboundRateLimited = "chat.rate_limited"
)

// RateLimitNotice is the text delivered to a sender whose message was throttled
const RateLimitNotice = "You are sending messages too quickly. Please slow down."

// ParseEventKind maps an inbound type string to its EventKind.
// Unrecognized strings map to EventUnknown.
func ParseEventKind(s string) EventKind {
	switch s {
	case InboundJoin:
		return EventJoin
	case InboundMessage:
		return EventMessage
	case InboundTyping:
		return EventTyping
	case InboundStopTyping:
		return EventStopTyping
	case InboundLeave:
		return EventLeave
	case InboundHistory:
		return EventHistory
	default:
		return EventUnknown
	}
}

// OutboundType returns the dot-qualified wire type for the kind.
func (k EventKind) OutboundType() string {
	switch k {
	case EventJoin:
		return OutboundJoin
	case EventMessage:
		return OutboundMessage
	case EventTyping:
		return OutboundTyping
	case EventStopTyping:
		return OutboundStopTyping
	case EventLeave:
		return OutboundLeave
	case EventHistory:
		return OutboundHistory
	case EventRateLimited:
		return OutboundRateLimited
	default:
		return ""
	}
}

func (k EventKind) String() string {
	if t := k.OutboundType(); t != "" {
		return t
	}
	return "unknown"
}

// InboundEvent is the envelope clients send over the socket
type InboundEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Kind returns the tag of the inbound envelope.
func (e InboundEvent) Kind() EventKind {
	return ParseEventKind(e.Type)
}

// DecodeInbound parses a raw client frame. Any structural problem is
// reported as ErrMalformedPayload; an unknown type is not an error.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var in InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return in, nil
}

// Event is an immutable outbound event bound to a room
// ARCHITECTURAL DISCOVERY: One struct with a Kind tag instead of an interface
// hierarchy; MarshalJSON produces the exact wire shape per kind
type Event struct {
	Kind    EventKind
	RoomID  string
	Actor   Identity
	Message StoredMessage
	Text    string
	History []StoredMessage
}

// NewJoinEvent builds the presence announcement for actor.
func NewJoinEvent(roomID string, actor Identity, at time.Time) *Event {
	return &Event{
		Kind:   EventJoin,
		RoomID: roomID,
		Actor:  actor,
		Message: StoredMessage{
			User:      actor.DisplayName,
			Content:   actor.DisplayName + " joined the chat",
			Timestamp: at,
		},
	}
}

// NewMessageEvent wraps a stored chat message for broadcast.
func NewMessageEvent(roomID string, actor Identity, msg StoredMessage) *Event {
	return &Event{Kind: EventMessage, RoomID: roomID, Actor: actor, Message: msg}
}

// NewSignalEvent builds a typing, stop_typing or leave event.
func NewSignalEvent(kind EventKind, roomID string, actor Identity) *Event {
	return &Event{Kind: kind, RoomID: roomID, Actor: actor}
}

// NewHistoryEvent carries a snapshot of the room log. A nil history is
// encoded as an empty list.
func NewHistoryEvent(roomID string, history []StoredMessage) *Event {
	if history == nil {
		history = []StoredMessage{}
	}
	return &Event{Kind: EventHistory, RoomID: roomID, History: history}
}

// NewRateLimitedEvent is the self-only notice for a throttled sender.
func NewRateLimitedEvent(roomID string, actor Identity) *Event {
	return &Event{Kind: EventRateLimited, RoomID: roomID, Actor: actor, Text: RateLimitNotice}
}

type joinPayload struct {
	User      string    `json:"user"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type joinWire struct {
	Type    string      `json:"type"`
	Message joinPayload `json:"message"`
}

type messageWire struct {
	Type    string        `json:"type"`
	Message StoredMessage `json:"message"`
}

type signalWire struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	UserID string `json:"user_id"`
}

type historyWire struct {
	Type     string          `json:"type"`
	Messages []StoredMessage `json:"messages"`
}

type noticeWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MarshalJSON encodes the event in its outbound envelope.
func (e *Event) MarshalJSON() ([]byte, error) {
	typ := e.Kind.OutboundType()
	switch e.Kind {
	case EventJoin:
		return json.Marshal(joinWire{
			Type: typ,
			Message: joinPayload{
				User:      e.Message.User,
				UserID:    e.Actor.UserID,
				Message:   e.Message.Content,
				Timestamp: e.Message.Timestamp,
			},
		})
	case EventMessage:
		return json.Marshal(messageWire{Type: typ, Message: e.Message})
	case EventTyping, EventStopTyping, EventLeave:
		return json.Marshal(signalWire{Type: typ, User: e.Actor.DisplayName, UserID: e.Actor.UserID})
	case EventHistory:
		history := e.History
		if history == nil {
			history = []StoredMessage{}
		}
		return json.Marshal(historyWire{Type: typ, Messages: history})
	case EventRateLimited:
		return json.Marshal(noticeWire{Type: typ, Message: e.Text})
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownEventKind, e.Kind)
	}
}
