package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/shopspring/decimal"
)

func openPosition(t *testing.T, s PositionStore) model.Position {
	t.Helper()
	p := model.Position{
		ID:            "pos-1",
		TokenID:       "tok",
		EntryPrice:    decimal.NewFromFloat(1.5),
		SizeRemaining: decimal.NewFromInt(100),
		RiskTier:      model.TierMid,
		Status:        model.PositionOpen,
		CreatedAt:     time.Now(),
	}
	if err := s.Save(context.Background(), p); err != nil {
		t.Fatalf("save: %v", err)
	}
	return p
}

func TestCompareAndSwapStatus(t *testing.T) {
	s := NewMemoryPositionStore()
	p := openPosition(t, s)
	ctx := context.Background()

	won, err := s.CompareAndSwapStatus(ctx, p.ID, model.PositionOpen, model.PositionClosing)
	if err != nil || !won {
		t.Fatalf("expected CAS win, got won=%v err=%v", won, err)
	}

	// Same transition again must lose: the position is no longer OPEN.
	won, err = s.CompareAndSwapStatus(ctx, p.ID, model.PositionOpen, model.PositionClosing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Fatal("second CAS from OPEN must lose")
	}

	won, _ = s.CompareAndSwapStatus(ctx, p.ID, model.PositionClosing, model.PositionClosed)
	if !won {
		t.Fatal("CLOSING -> CLOSED should win")
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Status != model.PositionClosed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ClosedAt == nil {
		t.Fatal("ClosedAt should be stamped on close")
	}
}

func TestCompareAndSwapMissingPosition(t *testing.T) {
	s := NewMemoryPositionStore()
	_, err := s.CompareAndSwapStatus(context.Background(), "nope", model.PositionOpen, model.PositionClosing)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Many goroutines race the OPEN -> CLOSING transition; exactly one may win.
// This is the property that guarantees a single exit order per position.
func TestCompareAndSwapExactlyOneWinner(t *testing.T) {
	s := NewMemoryPositionStore()
	p := openPosition(t, s)
	ctx := context.Background()

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.CompareAndSwapStatus(ctx, p.ID, model.PositionOpen, model.PositionClosing)
			if err != nil {
				t.Errorf("CAS error: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestGetOpenByToken(t *testing.T) {
	s := NewMemoryPositionStore()
	p := openPosition(t, s)
	ctx := context.Background()

	got, err := s.GetOpenByToken(ctx, "tok")
	if err != nil || got.ID != p.ID {
		t.Fatalf("expected open position, got %v err=%v", got.ID, err)
	}

	_, _ = s.CompareAndSwapStatus(ctx, p.ID, model.PositionOpen, model.PositionClosing)
	if _, err := s.GetOpenByToken(ctx, "tok"); err != ErrNotFound {
		t.Fatalf("closing position should not match open lookup, err=%v", err)
	}
}

func TestCountOpenIncludesClosing(t *testing.T) {
	s := NewMemoryPositionStore()
	p := openPosition(t, s)
	ctx := context.Background()

	n, _ := s.CountOpen(ctx)
	if n != 1 {
		t.Fatalf("count = %d", n)
	}

	// CLOSING still holds exposure and must count against position limits.
	_, _ = s.CompareAndSwapStatus(ctx, p.ID, model.PositionOpen, model.PositionClosing)
	n, _ = s.CountOpen(ctx)
	if n != 1 {
		t.Fatalf("closing position dropped from count: %d", n)
	}

	_, _ = s.CompareAndSwapStatus(ctx, p.ID, model.PositionClosing, model.PositionClosed)
	n, _ = s.CountOpen(ctx)
	if n != 0 {
		t.Fatalf("closed position still counted: %d", n)
	}
}

func TestEventLogAppendAndList(t *testing.T) {
	s := NewMemoryPositionStore()
	p := openPosition(t, s)
	ctx := context.Background()

	for i, typ := range []model.PositionEventType{model.EventPositionCreated, model.EventFill, model.EventPositionClosed} {
		err := s.AppendEvent(ctx, model.PositionEvent{
			ID:         string(rune('a' + i)),
			PositionID: p.ID,
			Type:       typ,
			Payload:    "{}",
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != model.EventPositionCreated || events[2].Type != model.EventPositionClosed {
		t.Fatalf("event order not preserved: %v", events)
	}
}
