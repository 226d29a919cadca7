package audit

import (
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/model"
)

func TestEmitNeverBlocks(t *testing.T) {
	// No consumer running: fill the buffer past capacity and make sure
	// Emit returns promptly and counts drops.
	e := NewEmitter(Options{BufferSize: 4})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.Emit(model.AuditEvent{Kind: "test"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	if got := e.Dropped(); got != 6 {
		t.Fatalf("dropped = %d, want 6", got)
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	e := NewEmitter(Options{BufferSize: 16})
	e.Start()
	for i := 0; i < 8; i++ {
		e.Emit(model.AuditEvent{Kind: "drain"})
	}
	e.Stop()

	if len(e.ch) != 0 {
		t.Fatalf("buffer not drained, %d left", len(e.ch))
	}
	if e.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", e.Dropped())
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	e := NewEmitter(Options{BufferSize: 1})
	e.Emit(model.AuditEvent{Kind: "ts"})
	ev := <-e.ch
	if ev.Timestamp == 0 {
		t.Fatal("timestamp not stamped")
	}
}
