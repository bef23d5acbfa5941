package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshcall/signal-relay/internal/metrics"
	"github.com/meshcall/signal-relay/internal/relay"
)

// Sink consumes membership snapshots from a bounded queue on a single worker
// goroutine. Enqueueing never blocks the routing path: a full queue drops the
// snapshot and counts it, and with no store configured the sink is a
// permanent no-op.
type Sink struct {
	store        Store
	writeTimeout time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics

	mu     sync.Mutex
	closed bool

	queue chan relay.Snapshot
	done  chan struct{}
}

// NewSink starts the worker. store may be nil, which disables persistence
// entirely without affecting callers.
func NewSink(store Store, queueSize int, writeTimeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	s := &Sink{
		store:        store,
		writeTimeout: writeTimeout,
		log:          log,
		metrics:      m,
		queue:        make(chan relay.Snapshot, queueSize),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// Persist enqueues a snapshot write. It never blocks and never reports
// failure to the caller.
func (s *Sink) Persist(snap relay.Snapshot) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- snap:
	default:
		s.metrics.Inc(metrics.SnapshotQueueFull)
		s.log.Warn("snapshot queue full, dropping write", "room", snap.RoomID)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for snap := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.store.UpsertRoomSnapshot(ctx, snap)
		cancel()
		if err != nil {
			// Best-effort: log and move on, no retry.
			s.metrics.Inc(metrics.SnapshotFailed)
			s.log.Warn("room snapshot write failed", "room", snap.RoomID, "err", err)
			continue
		}
		s.metrics.Inc(metrics.SnapshotWritten)
	}
}

// Close stops accepting snapshots and waits for queued writes to drain, up to
// the context deadline.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
