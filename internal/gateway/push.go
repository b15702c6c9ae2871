package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Frame is a push-channel message, per spec §6's wire format list.
type Frame struct {
	Type          string    `json:"type"`
	RunID         string    `json:"runId,omitempty"`
	Data          any       `json:"data,omitempty"`
	Error         string    `json:"error,omitempty"`
	ScheduledTime time.Time `json:"scheduledTime,omitempty"`
}

// Broadcaster fans out status frames to multiple websocket clients. Its
// Send/Subscribe/Close trio and "full channel buffer ⇒ close & drop the
// slow subscriber" policy is kept verbatim from the teacher's
// server.Broadcaster (internal/server/sse.go), adapted here to carry
// Frame values instead of raw progress maps and over a bidirectional
// websocket instead of one-way SSE.
type Broadcaster struct {
	mu      sync.Mutex
	history []Frame
	clients map[uint64]chan Frame
	nextID  uint64
	closed  bool
	doneCh  chan struct{}
}

// NewBroadcaster creates a new push-channel broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan Frame),
		doneCh:  make(chan struct{}),
	}
}

// Send broadcasts a frame to every connected client, dropping (and
// disconnecting) any client whose buffer is full rather than blocking.
func (b *Broadcaster) Send(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, f)
	if len(b.history) > 64 {
		b.history = b.history[len(b.history)-64:]
	}
	for id, ch := range b.clients {
		select {
		case ch <- f:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns a replay-then-live channel, a done channel (closed
// only when Close is called, not on a slow-client drop), and an
// unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan Frame, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Frame, len(b.history)+32)
	id := b.nextID
	b.nextID++

	for _, f := range b.history {
		ch <- f
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close flushes close frames to every client and marks the broadcaster
// terminated.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handlePush implements the bidirectional push channel of spec §4.I: on
// open the server sends the current status, then every scheduler event
// is forwarded as a typed frame; clients may send {"type":"status"} to
// request an on-demand refresh. No periodic health frames are sent.
func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := ulid.Make().String()
	g.logger.Info("push channel client connected", "clientId", clientID, "remoteAddr", r.RemoteAddr)
	defer g.logger.Info("push channel client disconnected", "clientId", clientID)

	status := g.buildStatusResponse(r.Context())
	if err := conn.WriteJSON(Frame{Type: "status", Data: status}); err != nil {
		return
	}

	events, doneCh, unsub := g.broadcaster.Subscribe()
	defer unsub()

	inbound := make(chan Frame)
	go g.readLoop(conn, inbound)

	for {
		select {
		case f, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
				default:
				}
				return
			}
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case f, ok := <-inbound:
			if !ok {
				return
			}
			if f.Type == "status" {
				status := g.buildStatusResponse(r.Context())
				if err := conn.WriteJSON(Frame{Type: "status", Data: status}); err != nil {
					return
				}
			}
		}
	}
}

// readLoop reads inbound control frames from a client connection; it
// exits (closing inbound) on any read error, including a normal client
// disconnect.
func (g *Gateway) readLoop(conn *websocket.Conn, inbound chan<- Frame) {
	defer close(inbound)
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		inbound <- f
	}
}
