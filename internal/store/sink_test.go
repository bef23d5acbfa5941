package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshcall/signal-relay/internal/metrics"
	"github.com/meshcall/signal-relay/internal/relay"
)

type fakeStore struct {
	mu      sync.Mutex
	snaps   []relay.Snapshot
	err     error
	block   chan struct{} // if non-nil, writes wait until closed
	written chan struct{}
}

func (f *fakeStore) UpsertRoomSnapshot(ctx context.Context, snap relay.Snapshot) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.snaps = append(f.snaps, snap)
	err := f.err
	f.mu.Unlock()
	if f.written != nil {
		f.written <- struct{}{}
	}
	return err
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

func TestSinkWritesSnapshots(t *testing.T) {
	fs := &fakeStore{written: make(chan struct{}, 4)}
	s := NewSink(fs, 4, time.Second, nil, metrics.New())
	defer s.Close(context.Background())

	snap := relay.Snapshot{RoomID: "demo", Participants: []string{"a", "b"}}
	s.Persist(snap)

	select {
	case <-fs.written:
	case <-time.After(2 * time.Second):
		t.Fatalf("snapshot never written")
	}
	fs.mu.Lock()
	got := fs.snaps[0]
	fs.mu.Unlock()
	if got.RoomID != "demo" || len(got.Participants) != 2 {
		t.Fatalf("written snapshot = %#v", got)
	}
}

func TestSinkSwallowsStoreErrors(t *testing.T) {
	fs := &fakeStore{err: errors.New("store down"), written: make(chan struct{}, 4)}
	m := metrics.New()
	s := NewSink(fs, 4, time.Second, nil, m)
	defer s.Close(context.Background())

	s.Persist(relay.Snapshot{RoomID: "demo"})
	<-fs.written

	// A later write still goes through; no retry of the failed one.
	fs.mu.Lock()
	fs.err = nil
	fs.mu.Unlock()
	s.Persist(relay.Snapshot{RoomID: "demo"})
	<-fs.written

	if fs.count() != 2 {
		t.Fatalf("writes = %d, want 2", fs.count())
	}
	if m.Get(metrics.SnapshotFailed) != 1 {
		t.Fatalf("failed counter = %d", m.Get(metrics.SnapshotFailed))
	}
}

func TestSinkNeverBlocksWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	fs := &fakeStore{block: block}
	m := metrics.New()
	s := NewSink(fs, 1, time.Minute, nil, m)
	defer func() {
		close(block)
		s.Close(context.Background())
	}()

	// First snapshot occupies the worker, second fills the queue, the rest
	// must drop immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Persist(relay.Snapshot{RoomID: "demo"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Persist blocked on a full queue")
	}
	if m.Get(metrics.SnapshotQueueFull) == 0 {
		t.Fatalf("expected queue-full drops to be counted")
	}
}

func TestSinkNoStoreIsNoop(t *testing.T) {
	s := NewSink(nil, 1, time.Second, nil, metrics.New())
	for i := 0; i < 100; i++ {
		s.Persist(relay.Snapshot{RoomID: "demo"})
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSinkCloseDrainsAndIsIdempotent(t *testing.T) {
	fs := &fakeStore{written: make(chan struct{}, 8)}
	s := NewSink(fs, 8, time.Second, nil, metrics.New())

	for i := 0; i < 3; i++ {
		s.Persist(relay.Snapshot{RoomID: "demo"})
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fs.count() != 3 {
		t.Fatalf("drained %d writes, want 3", fs.count())
	}

	// Close again and Persist after close are both harmless.
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	s.Persist(relay.Snapshot{RoomID: "demo"})
}
