package signaling

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/stranga/stranga-server/internal/lifecycle"
	"github.com/stranga/stranga-server/internal/metrics"
)

// Registry maps connection ids to live connections and implements
// lifecycle.Deliverer.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[string]*conn),
		logger:  logger,
		metrics: m,
	}
}

// Deliver queues msg on the connection's send queue. A full queue closes the
// connection and drops msg.
func (r *Registry) Deliver(id string, msg lifecycle.Message) bool {
	r.mu.RLock()
	c := r.conns[id]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	if c.enqueue(msg) {
		return true
	}
	if !c.isClosed() {
		r.metrics.Inc(metrics.SendQueueFull)
		r.logger.Warn("send queue full; closing connection", "client_id", id, "type", msg.Type)
		c.closeWith(websocket.ClosePolicyViolation, "send queue full")
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) add(c *conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// CloseAll asks every live connection to close. Their pumps then run the
// normal disconnect path.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.closeWith(code, reason)
	}
}
