// Package liveserver implements C8, a component this service adds
// beyond the distilled specification: a read-only websocket broadcast
// of scan progress events, for a dashboard to watch a long-running
// load_gadgets call without polling. It is an observer only — nothing
// it receives ever feeds back into the orchestrator — grounded on the
// teacher's own websocket hub pattern (one write-only broadcast
// channel fanned out to every connected client).
package liveserver

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ropsvc/internal/gadget"
	"ropsvc/internal/progress"
)

// Event is one progress notification broadcast to every connected
// client, tagged with the scan-session ID the triggering LoadGadgets
// call returned.
type Event struct {
	Session  string  `json:"session"`
	Kind     string  `json:"kind"` // "gadget", "dedup", or "chain"
	Address  string  `json:"address,omitempty"`
	Index    int     `json:"index,omitempty"`
	Total    int     `json:"total,omitempty"`
	WasAdded bool    `json:"was_added,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	Message  string  `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans Events out to every currently connected websocket client.
// Slow or disconnected clients are dropped rather than allowed to
// block the broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
	session string
}

// NewHub returns an empty, ready-to-use Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan Event)}
}

// SetSession tags every subsequent broadcast with id, until the next
// call. A service wires this as its session-start hook (see
// service.Service.OnSessionStart) so each LoadGadgets invocation's
// events carry the session ID that call returned.
func (h *Hub) SetSession(id string) {
	h.mu.Lock()
	h.session = id
	h.mu.Unlock()
}

func (h *Hub) currentSession() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// ServeHTTP upgrades the connection and streams every broadcast Event
// to it until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("liveserver: upgrade failed: %v", err)
		return
	}
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		// Broadcast may already have dropped this client and closed ch.
		if _, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(ch)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Broadcast sends ev to every connected client without blocking on
// any one of them; a client whose buffer is full is dropped.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			delete(h.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

// Subscribers builds a progress.Subscribers bundle that relays every
// event to h tagged with whatever session SetSession last recorded.
// Pass the result as the Subscribers argument to service.New (once,
// at construction — the session tag on each event comes from
// SetSession, not from rebuilding this bundle per call).
func (h *Hub) Subscribers() progress.Subscribers {
	return progress.Subscribers{
		GadgetScan: func(g *gadget.Gadget, index, total int) {
			h.Broadcast(Event{Session: h.currentSession(), Kind: "gadget", Address: g.SimpleString(), Index: index, Total: total})
		},
		Dedup: func(g *gadget.Gadget, wasAdded bool, fraction float64) {
			h.Broadcast(Event{Session: h.currentSession(), Kind: "dedup", Address: g.SimpleString(), WasAdded: wasAdded, Fraction: fraction})
		},
		ChainMessage: func(message string) {
			h.Broadcast(Event{Session: h.currentSession(), Kind: "chain", Message: message})
		},
	}
}
