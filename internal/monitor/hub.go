package monitor

import (
	"sync"

	"github.com/aulachat/aulachat/internal/chat"
	"github.com/aulachat/aulachat/internal/logger"
)

// Hub maintains the set of connected event feed clients and fans chat
// events out to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan chat.Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	quit       chan struct{}
	quitOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan chat.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		quit:       make(chan struct{}),
	}
}

// Run processes registrations and event fan-out until Stop.
func (h *Hub) Run() {
	logger.Info("Monitor event hub started")
	defer logger.Info("Monitor event hub stopped")

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.Debug("Monitor client registered: %s", c.remote)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			logger.Debug("Monitor client unregistered: %s", c.remote)

		case event := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- event:
				default:
					// Slow consumer, drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.quitOnce.Do(func() { close(h.quit) })
}

// Register hands a client to the hub loop. It reports false when the hub has
// already stopped, in which case the caller owns the connection.
func (h *Hub) Register(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client. After Stop the hub loop no longer drains the
// channel, so the send must not be waited on.
func (h *Hub) Unregister(c *client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Publish queues an event for fan-out. It never blocks; callers sit on the
// chat broadcast path.
func (h *Hub) Publish(event chat.Event) {
	select {
	case h.broadcast <- event:
	default:
		logger.Warn("Monitor event channel full, dropping event")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
