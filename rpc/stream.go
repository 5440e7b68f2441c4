package rpc

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/tolelom/tolstake/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffered = 256
)

// Stream pushes committed events to websocket clients. A client that falls
// more than clientBuffered events behind is disconnected.
type Stream struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan events.Event
	filter map[events.EventType]bool // nil → all types
	once   sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewStream creates a Stream fed by em. origins restricts the websocket
// Origin header; empty or "*" allows any.
func NewStream(em *events.Emitter, origins []string) *Stream {
	s := &Stream{clients: make(map[*streamClient]struct{})}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin(origins)}
	em.SubscribeAll(s.broadcast)
	return s
}

func checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = true
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 || allowed["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.ToLower(origin)]
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. ?types=a,b limits the stream to the listed event types.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &streamClient{conn: conn, send: make(chan events.Event, clientBuffered), filter: filter}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	log.Debug("Stream client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(c)
}

func parseTypes(raw string) (map[events.EventType]bool, error) {
	if raw == "" {
		return nil, nil
	}
	known := make(map[events.EventType]bool, len(events.Types))
	for _, t := range events.Types {
		known[t] = true
	}
	filter := make(map[events.EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if !known[t] {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		filter[t] = true
	}
	return filter, nil
}

func (s *Stream) broadcast(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c.filter != nil && !c.filter[ev.Type] {
			continue
		}
		select {
		case c.send <- ev:
		default:
			log.Warn("Stream client too slow, disconnecting", "remote", c.conn.RemoteAddr())
			delete(s.clients, c)
			c.close()
		}
	}
}

func (s *Stream) remove(c *streamClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// readLoop discards client messages and keeps the pong deadline fresh.
func (s *Stream) readLoop(c *streamClient) {
	defer s.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				s.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(c)
				return
			}
		}
	}
}

// Close disconnects every client and rejects new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}
