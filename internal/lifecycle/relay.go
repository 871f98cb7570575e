package lifecycle

import (
	"log/slog"

	"github.com/stranga/stranga-server/internal/metrics"
)

// Deliverer hands a message to a live connection. It must not block; it
// reports false when id has no live connection or the message could not be
// queued.
type Deliverer interface {
	Deliver(id string, msg Message) bool
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(id string, msg Message) bool

func (f DelivererFunc) Deliver(id string, msg Message) bool { return f(id, msg) }

// Relay forwards addressed negotiation messages. Undeliverable messages are
// dropped without retry.
type Relay struct {
	deliver Deliverer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRelay(d Deliverer, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{deliver: d, logger: logger, metrics: m}
}

// Relay forwards msg to target and reports whether it was queued.
func (r *Relay) Relay(target string, msg Message) bool {
	if r.deliver.Deliver(target, msg) {
		r.metrics.Inc(metrics.RelayForwarded)
		return true
	}
	r.metrics.Inc(metrics.RelayDropped)
	r.logger.Debug("relay target unavailable; dropped",
		"type", msg.Type,
		"from", msg.From,
		"to", target,
	)
	return false
}
