package relay

import (
	"log/slog"

	"github.com/meshcall/signal-relay/internal/metrics"
	"github.com/meshcall/signal-relay/internal/protocol"
)

// Router interprets inbound signaling messages against connection state and
// drives the registry plus targeted delivery.
//
// Per-connection states are implicit in registry contents: a connection with
// no bound identity is unjoined, one with an identity is joined, and a
// disconnected connection (HandleDisconnect ran) never reaches the router
// again because its transport loop has exited.
//
// The protocol is fire-and-forget: protocol violations, unknown targets, and
// closed targets are dropped and logged, never reported to the sender.
type Router struct {
	reg     *Registry
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(reg *Registry, sink Sink, log *slog.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{reg: reg, sink: sink, log: log, metrics: m}
}

// Registry exposes the routing state for read-only surfaces such as /stats.
func (rt *Router) Registry() *Registry {
	return rt.reg
}

// HandleMessage processes one raw inbound message from conn.
func (rt *Router) HandleMessage(conn Conn, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		rt.metrics.Inc(metrics.DropBadMessage)
		rt.log.Debug("dropping malformed message", "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		rt.handleJoin(conn, msg)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		rt.handleRelay(conn, msg)
	case protocol.TypeLeave:
		rt.handleLeave(conn)
	}
}

// HandleDisconnect is invoked by the transport when a connection closes
// without an explicit leave. It is idempotent with handleLeave.
func (rt *Router) HandleDisconnect(conn Conn) {
	rt.handleLeave(conn)
}

func (rt *Router) handleJoin(conn Conn, msg protocol.Message) {
	// A second join switches rooms: leave the previous room first so its
	// members see a departure and the old membership doesn't orphan.
	if id, ok := rt.reg.IdentityOf(conn); ok {
		rt.log.Debug("rejoin, leaving previous room", "clientId", id.ClientID, "room", id.RoomID)
		rt.handleLeave(conn)
	}

	res := rt.reg.Join(msg.RoomID, msg.ClientID, conn)

	priorIDs := make([]string, 0, len(res.Prior))
	for _, m := range res.Prior {
		priorIDs = append(priorIDs, m.ClientID)
	}
	rt.send(conn, protocol.ExistingClients(priorIDs))
	rt.broadcast(res.Prior, protocol.NewClient(msg.ClientID))

	rt.metrics.Inc(metrics.ClientJoined)
	rt.log.Info("client joined", "room", msg.RoomID, "clientId", msg.ClientID, "peers", len(res.Prior))
	rt.persist(res.Snapshot)
}

func (rt *Router) handleRelay(conn Conn, msg protocol.Message) {
	sender, ok := rt.reg.IdentityOf(conn)
	if !ok {
		rt.metrics.Inc(metrics.DropUnjoined)
		rt.log.Debug("dropping message from unjoined connection", "type", msg.Type)
		return
	}

	var target Member
	found := false
	for _, m := range rt.reg.MembersOf(sender.RoomID) {
		if m.ClientID == msg.TargetID {
			target = m
			found = true
			break
		}
	}
	if !found {
		rt.metrics.Inc(metrics.DropUnknownTarget)
		rt.log.Debug("dropping message for unknown target",
			"room", sender.RoomID, "from", sender.ClientID, "target", msg.TargetID, "type", msg.Type)
		return
	}
	if !target.Conn.Open() {
		rt.metrics.Inc(metrics.DropClosedTarget)
		rt.log.Debug("dropping message for closed target",
			"room", sender.RoomID, "target", msg.TargetID, "type", msg.Type)
		return
	}

	// Forward verbatim; the only change is the sender identity stamp.
	msg.FromID = sender.ClientID
	if err := target.Conn.Send(msg); err != nil {
		rt.log.Debug("relay write failed", "room", sender.RoomID, "target", msg.TargetID, "err", err)
		return
	}
	rt.metrics.Inc(metrics.MessageRelayed)
}

func (rt *Router) handleLeave(conn Conn) {
	res, ok := rt.reg.Leave(conn)
	if !ok {
		return
	}

	rt.broadcast(res.Remaining, protocol.ClientLeft(res.Identity.ClientID))

	rt.metrics.Inc(metrics.ClientLeft)
	rt.log.Info("client left",
		"room", res.Identity.RoomID, "clientId", res.Identity.ClientID, "remaining", len(res.Remaining))
	rt.persist(res.Snapshot)
}

func (rt *Router) broadcast(members []Member, msg protocol.Message) {
	for _, m := range members {
		if !m.Conn.Open() {
			continue
		}
		if err := m.Conn.Send(msg); err != nil {
			rt.log.Debug("broadcast write failed", "clientId", m.ClientID, "err", err)
		}
	}
}

func (rt *Router) send(conn Conn, msg protocol.Message) {
	if !conn.Open() {
		return
	}
	if err := conn.Send(msg); err != nil {
		rt.log.Debug("reply write failed", "err", err)
	}
}

func (rt *Router) persist(snap Snapshot) {
	if rt.sink == nil {
		return
	}
	rt.sink.Persist(snap)
}
