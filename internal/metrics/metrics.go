package metrics

import "sync"

// Event counter names used across the relay. Drops are labelled by reason so
// protocol-level drops, which never surface to the sender, remain observable.
const (
	ClientJoined        = "client_joined"
	ClientLeft          = "client_left"
	MessageRelayed      = "message_relayed"
	DropBadMessage      = "drop_bad_message"
	DropUnjoined        = "drop_unjoined"
	DropUnknownTarget   = "drop_unknown_target"
	DropClosedTarget    = "drop_closed_target"
	DropRateLimited     = "drop_rate_limited"
	SnapshotWritten     = "snapshot_written"
	SnapshotFailed      = "snapshot_failed"
	SnapshotQueueFull   = "snapshot_queue_full"
	VisionRequestOK     = "vision_request_ok"
	VisionRequestFailed = "vision_request_failed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It exists so the routing and sink code paths stay observable without pulling
// in a full metrics backend; the /metrics endpoint exposes it in Prometheus
// text format.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is nil-safe so call sites don't have to guard against an unconfigured
// registry.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
