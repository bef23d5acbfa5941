package relay

import (
	"sync"
	"time"
)

type room struct {
	members      map[Conn]struct{}
	createdAt    time.Time
	lastActivity time.Time
}

// Registry tracks connection identities and room membership.
//
// Both maps live under one mutex: join and leave mutate identity and
// membership together, and the prior-members read returned to the joiner must
// reflect the room exactly as it was before the join. A room exists iff its
// member set is non-empty.
type Registry struct {
	mu    sync.Mutex
	conns map[Conn]Identity
	rooms map[string]*room

	// now is swappable for deterministic snapshot timestamps in tests.
	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[Conn]Identity),
		rooms: make(map[string]*room),
		now:   time.Now,
	}
}

// IdentityOf returns the identity bound to conn. ok is false while the
// connection has not joined any room (pre-join or post-leave).
func (r *Registry) IdentityOf(conn Conn) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conns[conn]
	return id, ok
}

// JoinResult reports the outcome of a Join: the members that were already in
// the room before this connection was added, and the post-join snapshot for
// the persistence sink.
type JoinResult struct {
	Prior    []Member
	Snapshot Snapshot
}

// Join binds the identity and adds conn to the room in one critical section.
// roomID and clientID must be non-empty; the router validates both before
// calling.
func (r *Registry) Join(roomID, clientID string, conn Conn) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			members:   make(map[Conn]struct{}),
			createdAt: now,
		}
		r.rooms[roomID] = rm
	}

	prior := r.membersLocked(rm)

	r.conns[conn] = Identity{ClientID: clientID, RoomID: roomID}
	rm.members[conn] = struct{}{}
	rm.lastActivity = now

	return JoinResult{
		Prior:    prior,
		Snapshot: r.snapshotLocked(roomID, rm),
	}
}

// LeaveResult reports the outcome of a Leave: who left, who remains for the
// departure broadcast, and the post-leave snapshot.
type LeaveResult struct {
	Identity  Identity
	Remaining []Member
	Snapshot  Snapshot
}

// Leave removes conn from its room and unbinds its identity. If the member
// set becomes empty the room is deleted. Leaving with no bound identity is a
// no-op with ok == false.
func (r *Registry) Leave(conn Conn) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.conns[conn]
	if !ok {
		return LeaveResult{}, false
	}
	delete(r.conns, conn)

	res := LeaveResult{Identity: id}
	rm, ok := r.rooms[id.RoomID]
	if !ok {
		// Should be unreachable while the bidirectional invariant holds.
		res.Snapshot = Snapshot{RoomID: id.RoomID, Participants: []string{}, LastActivity: r.now()}
		return res, true
	}

	delete(rm.members, conn)
	rm.lastActivity = r.now()
	res.Remaining = r.membersLocked(rm)
	res.Snapshot = r.snapshotLocked(id.RoomID, rm)

	if len(rm.members) == 0 {
		delete(r.rooms, id.RoomID)
	}
	return res, true
}

// MembersOf returns a snapshot of the room's membership for fan-out. The
// result reflects one instant; iteration order carries no meaning.
func (r *Registry) MembersOf(roomID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return r.membersLocked(rm)
}

// Stats returns the current room and connection counts.
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.conns)
}

func (r *Registry) membersLocked(rm *room) []Member {
	members := make([]Member, 0, len(rm.members))
	for c := range rm.members {
		id := r.conns[c]
		members = append(members, Member{Conn: c, ClientID: id.ClientID})
	}
	return members
}

func (r *Registry) snapshotLocked(roomID string, rm *room) Snapshot {
	participants := make([]string, 0, len(rm.members))
	for c := range rm.members {
		participants = append(participants, r.conns[c].ClientID)
	}
	return Snapshot{
		RoomID:       roomID,
		Participants: participants,
		CreatedAt:    rm.createdAt,
		LastActivity: rm.lastActivity,
	}
}
