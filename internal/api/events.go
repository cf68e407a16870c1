package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/engram-memory/engram/internal/store"
)

// Hub fans store mutation events out to websocket subscribers. Slow clients
// are dropped rather than allowed to stall the broadcast loop.
type Hub struct {
	broadcast  chan store.Event
	register   chan *client
	unregister chan *client
	clients    map[*client]bool
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates the hub; call Run in a goroutine before serving.
func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		broadcast:  make(chan store.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug().Int("clients", len(h.clients)).Msg("event subscriber connected")
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Msg("event marshal failed")
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues an event for delivery. Never blocks the mutation path: a
// full queue drops the event.
func (h *Hub) Broadcast(ev store.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn().Msg("event queue full, dropping broadcast")
	}
}

// Shutdown closes every subscriber and stops the loop.
func (h *Hub) Shutdown() {
	h.once.Do(h.cancel)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.register <- c

	ctx := r.Context()
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
