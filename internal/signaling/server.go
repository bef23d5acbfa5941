// Package signaling exposes the relay over WebSocket and owns per-connection
// transport concerns: upgrade, keepalive, read limits, rate limiting, and the
// single-writer discipline gorilla requires.
package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshcall/signal-relay/internal/httpserver"
	"github.com/meshcall/signal-relay/internal/metrics"
	"github.com/meshcall/signal-relay/internal/ratelimit"
	"github.com/meshcall/signal-relay/internal/relay"
)

const writeWait = 10 * time.Second

// Config wires the runtime dependencies for the WebSocket signaling surface.
type Config struct {
	Router  *relay.Router
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Clock feeds the per-connection rate limiter; nil means wall clock.
	Clock ratelimit.Clock

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	IdleTimeout          time.Duration
	PingInterval         time.Duration
}

type Server struct {
	router  *relay.Router
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	maxMessageBytes      int64
	maxMessagesPerSecond int
	idleTimeout          time.Duration
	pingInterval         time.Duration

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}

	s := &Server{
		router:  cfg.Router,
		log:     log,
		metrics: cfg.Metrics,
		clock:   clock,

		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay carries no credentials and all payloads are opaque;
			// origin policy is left to the deployment's edge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = 64 * 1024
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = 50
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = 60 * time.Second
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 20 * time.Second
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /stats", s.handleStats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rooms, conns := s.router.Registry().Stats()
	httpserver.WriteJSON(w, http.StatusOK, map[string]int{"rooms": rooms, "clients": conns})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	sess := newSession(s, conn)
	s.log.Debug("connection opened", "conn", sess.id, "remote_addr", r.RemoteAddr)
	sess.run()
}
