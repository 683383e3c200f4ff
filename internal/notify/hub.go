package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second

	// sendBuffer is how many messages may wait for one connection before the
	// hub gives up on it as too slow.
	sendBuffer = 16
)

// client is one open websocket of one buyer. Its writer goroutine is the only
// one that writes to conn; Run is the only one that sends on or closes send.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Message is a payload addressed to every connection of one buyer.
type Message struct {
	UserID  string
	Payload []byte
}

// Hub keeps the open websockets per buyer and routes messages to them. Run
// never touches the network, so a slow connection only ever delays itself.
type Hub struct {
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	deliver    chan Message
	done       chan struct{}
	mu         sync.Mutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan Message, 64),
		done:       make(chan struct{}),
		log:        log.With("component", "hub"),
	}
}

// Run processes register, unregister and deliver events until ctx is done,
// then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[c.userID]
			if !ok {
				conns = make(map[*client]struct{})
				h.clients[c.userID] = conns
			}
			conns[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		case msg := <-h.deliver:
			h.route(msg)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Deliver queues payload for the buyer's connections. A buyer with no open
// connection simply misses it; the order poll is the fallback.
func (h *Hub) Deliver(userID string, payload []byte) {
	select {
	case h.deliver <- Message{UserID: userID, Payload: payload}:
	default:
		h.log.Warn("delivery queue full, message dropped", "user_id", userID)
	}
}

// Publish delivers the event to the buyer's connections on this instance.
func (h *Hub) Publish(_ context.Context, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Deliver(event.UserID, payload)
	return nil
}

// Serve registers conn for userID and blocks reading from it until the peer
// goes away. Incoming messages are ignored.
func (h *Hub) Serve(ctx context.Context, userID string, conn *websocket.Conn) {
	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-ctx.Done():
		conn.Close()
		return
	}

	go h.writeLoop(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Connected reports how many connections the buyer has open.
func (h *Hub) Connected(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// route queues msg on each of the buyer's connections without blocking. A
// connection whose queue is full is dropped.
func (h *Hub) route(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[msg.UserID] {
		select {
		case c.send <- msg.Payload:
		default:
			h.log.Warn("websocket too slow, dropping connection", "user_id", msg.UserID)
			h.remove(c)
		}
	}
}

// writeLoop drains c.send onto the socket. It closes the connection when the
// hub closes send or a write fails; the read loop in Serve then ends.
func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug("websocket write failed", "user_id", c.userID, "error", err)
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// remove forgets c and stops its writer. Callers hold h.mu.
func (h *Hub) remove(c *client) {
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.clients {
		for c := range conns {
			h.remove(c)
		}
	}
}
