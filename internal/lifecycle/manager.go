package lifecycle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/stranga/stranga-server/internal/matching"
	"github.com/stranga/stranga-server/internal/metrics"
)

var ErrNilDeliverer = errors.New("lifecycle: deliverer is required")

// State is the per-connection position in the pairing lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateIdle
	StateWaiting
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// Config wires a Manager to its engine and delivery path.
type Config struct {
	// Engine holds the pool and pair registry. If nil, a fresh engine is used.
	Engine    *matching.Engine
	Deliverer Deliverer
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// Interest normalization limits; <= 0 disables a limit.
	MaxInterests      int
	MaxInterestLength int
}

// Stats is a snapshot of the manager for the /stats endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Waiting     int `json:"waiting"`
	Pairs       int `json:"pairs"`
}

type clientState struct {
	state     State
	interests []string
}

// Manager drives the pairing state machine for every connection.
//
// All engine mutations and the notifications they cause happen under one
// mutex, so both match-found messages are queued before either member can
// address the other. Relaying does not take that mutex.
type Manager struct {
	mu      sync.Mutex
	engine  *matching.Engine
	clients map[string]*clientState

	deliver Deliverer
	relay   *Relay
	logger  *slog.Logger
	metrics *metrics.Metrics

	maxInterests      int
	maxInterestLength int
}

// NewManager returns a Manager with no connected clients.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Deliverer == nil {
		return nil, ErrNilDeliverer
	}
	engine := cfg.Engine
	if engine == nil {
		engine = matching.NewEngine()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:            engine,
		clients:           make(map[string]*clientState),
		deliver:           cfg.Deliverer,
		relay:             NewRelay(cfg.Deliverer, logger, cfg.Metrics),
		logger:            logger,
		metrics:           cfg.Metrics,
		maxInterests:      cfg.MaxInterests,
		maxInterestLength: cfg.MaxInterestLength,
	}, nil
}

// Connect registers id as Idle. Connecting an id twice is a no-op.
func (m *Manager) Connect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[id]; ok {
		return
	}
	m.clients[id] = &clientState{state: StateIdle, interests: []string{}}
	m.metrics.Inc(metrics.ClientConnected)
	m.metrics.SetConnections(len(m.clients))
}

// Join puts id into the pool or pairs it. Unknown ids are ignored.
func (m *Manager) Join(id string, interests []string) {
	tags := matching.NormalizeInterests(interests, m.maxInterests, m.maxInterestLength)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return
	}
	m.joinLocked(id, c, tags)
}

// Next leaves the current pool entry or pair, notifying a former partner, and
// joins again. A nil interests slice reuses the tags of the previous join.
func (m *Manager) Next(id string, interests []string) {
	var tags []string
	if interests != nil {
		tags = matching.NormalizeInterests(interests, m.maxInterests, m.maxInterestLength)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return
	}
	if tags == nil {
		tags = c.interests
	}
	m.dissolveLocked(id)
	m.joinLocked(id, c, tags)
}

// Stop leaves the pool or pair without joining again.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return
	}
	m.dissolveLocked(id)
	c.state = StateIdle
	m.updateGaugesLocked()
}

// Disconnect removes id from the pool or its pair and forgets it. A former
// partner is notified and returns to Idle; it is not re-queued.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[id]; !ok {
		return
	}
	m.dissolveLocked(id)
	delete(m.clients, id)

	m.metrics.Inc(metrics.ClientDisconnected)
	m.metrics.SetConnections(len(m.clients))
	m.updateGaugesLocked()
	m.logger.Debug("client disconnected", "client_id", id)
}

// Signal relays an SDP payload from one client to another. Pairing is not
// checked; an unreachable target drops the message.
func (m *Manager) Signal(from, to string, payload json.RawMessage) bool {
	return m.relay.Relay(to, Message{Type: MessageTypeSignal, From: from, Signal: payload})
}

// ICECandidate relays an ICE candidate payload like Signal.
func (m *Manager) ICECandidate(from, to string, payload json.RawMessage) bool {
	return m.relay.Relay(to, Message{Type: MessageTypeICECandidate, From: from, Candidate: payload})
}

// State reports where id is in the lifecycle; unknown ids are Disconnected.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return StateDisconnected
	}
	return c.state
}

// PartnerOf returns the current partner of id, if any.
func (m *Manager) PartnerOf(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.PartnerOf(id)
}

// Stats returns connection, waiting and pair counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	es := m.engine.Stats()
	return Stats{
		Connections: len(m.clients),
		Waiting:     es.Waiting,
		Pairs:       es.Pairs,
	}
}

func (m *Manager) joinLocked(id string, c *clientState, tags []string) {
	if c.state == StatePaired {
		m.dissolveLocked(id)
	}
	c.interests = tags

	pair, ok := m.engine.AddUser(id, tags)
	if !ok {
		c.state = StateWaiting
		m.metrics.Inc(metrics.PoolEnqueued)
		m.updateGaugesLocked()
		m.logger.Debug("client waiting", "client_id", id, "interests", tags)
		return
	}

	c.state = StatePaired
	if partner, ok := m.clients[pair.Partner]; ok {
		partner.state = StatePaired
	}

	if len(pair.CommonInterests) > 0 {
		m.metrics.Inc(metrics.MatchInterest)
	} else {
		m.metrics.Inc(metrics.MatchFallback)
	}
	m.updateGaugesLocked()
	m.logger.Info("pair formed",
		"client_id", pair.Initiator,
		"partner_id", pair.Partner,
		"common_interests", pair.CommonInterests,
	)

	// The partner hears first so the initiator's offer never overtakes it.
	m.deliver.Deliver(pair.Partner, matchFoundMessage(pair.Initiator, false, pair.CommonInterests))
	m.deliver.Deliver(pair.Initiator, matchFoundMessage(pair.Partner, true, pair.CommonInterests))
}

// dissolveLocked removes id from the engine. If id was paired, the partner
// becomes Idle and is told.
func (m *Manager) dissolveLocked(id string) {
	partnerID, ok := m.engine.RemoveUser(id)
	if c, known := m.clients[id]; known && c.state != StateDisconnected {
		c.state = StateIdle
	}
	if !ok {
		return
	}
	if partner, known := m.clients[partnerID]; known {
		partner.state = StateIdle
	}
	m.metrics.Inc(metrics.PairDissolved)
	m.logger.Info("pair dissolved", "client_id", id, "partner_id", partnerID)
	m.deliver.Deliver(partnerID, partnerDisconnectedMessage())
}

func (m *Manager) updateGaugesLocked() {
	es := m.engine.Stats()
	m.metrics.SetMatching(es.Waiting, es.Pairs)
}
