package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stranga/stranga-server/internal/lifecycle"
	"github.com/stranga/stranga-server/internal/metrics"
	"github.com/stranga/stranga-server/internal/origin"
	"github.com/stranga/stranga-server/internal/ratelimit"
)

const (
	defaultIdleTimeout     = 60 * time.Second
	defaultPingInterval    = 20 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	defaultSendQueueSize   = 64
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Manager  *lifecycle.Manager
	Registry *Registry

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is passed to origin.NewPolicy. Empty means same-host only.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int

	// MaxConnections caps concurrent WebSocket connections; 0 is unlimited.
	MaxConnections int

	// NewID overrides connection id generation in tests.
	NewID func() string
}

// Server implements the signaling surface.
//
// Endpoints:
//   - GET /ws    : WebSocket signaling
//   - GET /stats : connection and pairing counts
type Server struct {
	manager  *lifecycle.Manager
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	origins  origin.Policy
	upgrader websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueSize        int
	maxConnections       int64
	newID                func() string

	active atomic.Int64

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

var ErrMissingManager = errors.New("signaling: manager and registry are required")

func NewServer(cfg Config) (*Server, error) {
	if cfg.Manager == nil || cfg.Registry == nil {
		return nil, ErrMissingManager
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manager:              cfg.Manager,
		registry:             cfg.Registry,
		logger:               logger,
		metrics:              cfg.Metrics,
		origins:              origin.NewPolicy(cfg.AllowedOrigins),
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		sendQueueSize:        cfg.SendQueueSize,
		maxConnections:       int64(cfg.MaxConnections),
		newID:                cfg.NewID,
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = min(defaultPingInterval, s.idleTimeout/2)
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.sendQueueSize <= 0 {
		s.sendQueueSize = defaultSendQueueSize
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s, nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /stats", s.handleStats)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close asks every connection to close and waits for their disconnect
// transitions to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")
	s.wg.Wait()
}

// track counts a connection handler in wg unless Close has started.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if _, err := s.origins.Check(r); err != nil {
		s.metrics.Inc(metrics.OriginRejected)
		s.logger.Debug("websocket origin rejected", "origin", r.Header.Get("Origin"), "err", err)
		return false
	}
	return true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	if s.maxConnections > 0 && n > s.maxConnections {
		s.metrics.Inc(metrics.TooManyConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if !s.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConn(s.newID(), ws, s.sendQueueSize)
	logger := s.logger.With("client_id", c.id)

	s.registry.add(c)
	// CloseAll may have run between track and add.
	if s.isClosing() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.manager.Connect(c.id)
	c.enqueue(lifecycle.WelcomeMessage(c.id))
	logger.Debug("client connected", "remote_addr", r.RemoteAddr)

	go c.writePump(s.pingInterval)
	s.readPump(c, logger)

	s.registry.remove(c.id)
	s.manager.Disconnect(c.id)
	<-c.writeDone
}

func (s *Server) readPump(c *conn, logger *slog.Logger) {
	defer close(c.readDone)

	c.ws.SetReadLimit(s.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	limiter := ratelimit.NewMessageLimiter(ratelimit.RealClock{}, s.maxMessagesPerSecond)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.metrics.Inc(metrics.BadMessage)
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			default:
				c.closeWith(websocket.CloseNormalClosure, "")
			}
			return
		}
		// Keep draining after a close was requested so the peer's close
		// echo is read instead of reset.
		if c.isClosed() {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))

		// Rate limit after reading so bytes already buffered are consumed and
		// the client reliably observes the close code.
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			logger.Info("signaling rate limit exceeded")
			c.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			continue
		}
		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.BadMessage)
			c.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			continue
		}

		s.handleFrame(c, logger, data)
	}
}

func (s *Server) handleFrame(c *conn, logger *slog.Logger, data []byte) {
	cmd, err := parseCommand(data)
	if err != nil {
		s.metrics.Inc(metrics.BadMessage)
		logger.Debug("bad signaling message", "err", err)
		c.enqueue(lifecycle.ErrorMessage("bad_message", err.Error()))
		return
	}

	switch cmd.kind {
	case inboundJoinPool:
		s.manager.Join(c.id, cmd.interests)
	case inboundLeavePool:
		s.manager.Next(c.id, cmd.interests)
	case inboundStop:
		s.manager.Stop(c.id)
	case inboundSignal:
		s.manager.Signal(c.id, cmd.to, cmd.payload)
	case inboundICECandidate:
		s.manager.ICECandidate(c.id, cmd.to, cmd.payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
