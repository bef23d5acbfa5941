package signaling

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meshcall/signal-relay/internal/metrics"
	"github.com/meshcall/signal-relay/internal/protocol"
	"github.com/meshcall/signal-relay/internal/ratelimit"
)

// session adapts one WebSocket connection to relay.Conn. The read loop runs
// on the HTTP handler goroutine; a ticker goroutine sends keepalive pings.
// All frame writes go through writeMu so router fan-out from other
// connections' handler goroutines stays safe.
type session struct {
	srv  *Server
	id   string
	conn *websocket.Conn

	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex
	closed  atomic.Bool

	pingStop chan struct{}
}

func newSession(s *Server, conn *websocket.Conn) *session {
	return &session{
		srv:  s,
		id:   uuid.NewString(),
		conn: conn,
		limiter: ratelimit.NewTokenBucket(
			s.clock,
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
		pingStop: make(chan struct{}),
	}
}

// Send implements relay.Conn.
func (sess *session) Send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		sess.closed.Store(true)
		return err
	}
	return nil
}

// Open implements relay.Conn.
func (sess *session) Open() bool {
	return !sess.closed.Load()
}

func (sess *session) run() {
	defer func() {
		sess.closed.Store(true)
		close(sess.pingStop)
		// Transport close is an implicit leave; explicit leave already made
		// this a no-op.
		sess.srv.router.HandleDisconnect(sess)
		_ = sess.conn.Close()
		sess.srv.log.Debug("connection closed", "conn", sess.id)
	}()

	go sess.pingLoop()

	sess.conn.SetReadLimit(sess.srv.maxMessageBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(sess.srv.idleTimeout))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(sess.srv.idleTimeout))
	})

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sess.srv.log.Debug("read error", "conn", sess.id, "err", err)
			}
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(sess.srv.idleTimeout))

		// Resource abuse closes the connection; protocol errors inside the
		// router only drop the message.
		if !sess.limiter.Allow() {
			sess.srv.metrics.Inc(metrics.DropRateLimited)
			sess.srv.log.Warn("rate limit exceeded, closing connection", "conn", sess.id)
			sess.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			sess.srv.metrics.Inc(metrics.DropBadMessage)
			sess.srv.log.Debug("dropping non-text frame", "conn", sess.id)
			continue
		}

		sess.srv.router.HandleMessage(sess, data)
	}
}

func (sess *session) pingLoop() {
	ticker := time.NewTicker(sess.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sess.writeMu.Lock()
			err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-sess.pingStop:
			return
		}
	}
}

func (sess *session) closeWith(code int, reason string) {
	sess.closed.Store(true)
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
