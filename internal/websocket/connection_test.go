package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var ann = types.Identity{UserID: "u1", DisplayName: "Ann"}

// peer is the far end of a test socket; it records text frames and pings
type peer struct {
	frames chan string
	pings  atomic.Int32
	server *httptest.Server
}

func newPeer(t *testing.T) (*peer, *websocket.Conn) {
	t.Helper()
	p := &peer{frames: make(chan string, 256)}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error {
			p.pings.Add(1)
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			p.frames <- string(data)
		}
	}))
	t.Cleanup(p.server.Close)

	url := "ws" + strings.TrimPrefix(p.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return p, conn
}

func (p *peer) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-p.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestConnection_Accessors(t *testing.T) {
	_, ws := newPeer(t)
	conn := NewConnection(ws, ann, "42", DefaultConfig(), zaptest.NewLogger(t))
	defer conn.Close()

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, ann, conn.Identity())
	assert.Equal(t, "42", conn.RoomID())

	other := NewConnection(ws, ann, "42", DefaultConfig(), nil)
	defer other.Close()
	assert.NotEqual(t, conn.ID(), other.ID(), "ids are unique per handle")
}

// FUNCTIONAL VALIDATION TEST: Payloads reach the peer in enqueue order
func TestConnection_SendDeliversInOrder(t *testing.T) {
	p, ws := newPeer(t)
	conn := NewConnection(ws, ann, "42", DefaultConfig(), nil)
	defer conn.Close()

	for _, payload := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Send([]byte(payload)))
	}
	assert.Equal(t, "one", p.next(t))
	assert.Equal(t, "two", p.next(t))
	assert.Equal(t, "three", p.next(t))
}

func TestConnection_CloseIdempotent(t *testing.T) {
	_, ws := newPeer(t)
	conn := NewConnection(ws, ann, "42", DefaultConfig(), nil)

	require.NoError(t, conn.Close())
	assert.NotPanics(t, func() {
		_ = conn.Close()
		_ = conn.Close()
	})

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	_, ws := newPeer(t)
	conn := NewConnection(ws, ann, "42", DefaultConfig(), nil)
	require.NoError(t, conn.Close())

	err := conn.Send([]byte("late"))
	assert.ErrorIs(t, err, interfaces.ErrTransportFailure)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

// A full queue fails fast instead of blocking the broadcaster
func TestConnection_SendNeverBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{writeCh: make(chan []byte, 1), ctx: ctx, cancel: cancel}

	require.NoError(t, conn.Send([]byte("fits")))

	done := make(chan error, 1)
	go func() { done <- conn.Send([]byte("overflow")) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, interfaces.ErrTransportFailure)
		assert.ErrorIs(t, err, ErrSendBufferFull)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full buffer")
	}
}

func TestConnection_WriteFailureShutsDown(t *testing.T) {
	_, ws := newPeer(t)
	conn := NewConnection(ws, ann, "42", DefaultConfig(), nil)
	defer conn.Close()

	require.NoError(t, ws.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		_ = conn.Send([]byte("ping?"))
		select {
		case <-conn.Done():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, conn.Send([]byte("after")), interfaces.ErrTransportFailure)
}

// TECHNICAL VALIDATION TEST: Heartbeat pings share the single writer
func TestConnection_SendsPings(t *testing.T) {
	p, ws := newPeer(t)
	cfg := DefaultConfig()
	cfg.PingInterval = 20 * time.Millisecond
	conn := NewConnection(ws, ann, "42", cfg, nil)
	defer conn.Close()

	assert.Eventually(t, func() bool { return p.pings.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

// Technical Validation Tests (Race Detection)
func TestConnection_ConcurrentSends(t *testing.T) {
	p, ws := newPeer(t)
	cfg := DefaultConfig()
	cfg.BufferSize = 200
	conn := NewConnection(ws, ann, "42", cfg, nil)
	defer conn.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				assert.NoError(t, conn.Send([]byte("x")))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < numGoroutines*messagesPerGoroutine; i++ {
		p.next(t)
	}
}
