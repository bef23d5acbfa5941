// Package relay holds the live signaling state: which connections exist,
// which room each one joined, and the routing rules that move negotiation
// messages between members of the same room.
package relay

import (
	"time"

	"github.com/meshcall/signal-relay/internal/protocol"
)

// Conn is the registry's handle to one transport-level session. The transport
// layer owns the connection lifecycle; the relay only writes to it and checks
// liveness before fan-out.
type Conn interface {
	// Send writes one protocol message to the peer. Safe for concurrent use.
	Send(msg protocol.Message) error

	// Open reports whether the transport can still accept writes. Writes to a
	// closed connection are skipped, not retried.
	Open() bool
}

// Identity is what a connection claimed on join. ClientID is client-generated
// and not validated for uniqueness; RoomID is the room last joined.
type Identity struct {
	ClientID string
	RoomID   string
}

// Member pairs a live connection with its identity for broadcast fan-out and
// target lookup.
type Member struct {
	Conn     Conn
	ClientID string
}

// Snapshot is a point-in-time copy of one room's membership, captured under
// the registry lock and handed to the persistence sink. A snapshot with zero
// participants records that the room emptied out.
type Snapshot struct {
	RoomID       string
	Participants []string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Sink receives membership snapshots after every change. Implementations must
// not block: the router fires and forgets.
type Sink interface {
	Persist(snap Snapshot)
}
