package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/pkg/apperrors"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Now()
	b := New("test", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 2,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(b *Breaker) error {
	return b.Call(context.Background(), func(ctx context.Context) error { return errUpstream })
}

func succeed(b *Breaker) error {
	return b.Call(context.Background(), func(ctx context.Context) error { return nil })
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 2; i++ {
		if err := fail(b); !errors.Is(err, errUpstream) {
			t.Fatalf("attempt %d: expected upstream error, got %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("expected closed below threshold, got %v", b.State())
	}

	_ = fail(b)
	if b.State() != Open {
		t.Fatalf("expected open at threshold, got %v", b.State())
	}

	err := succeed(b)
	if !apperrors.IsType(err, apperrors.ErrCircuit) {
		t.Fatalf("expected circuit-open rejection, got %v", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}

	*now = now.Add(61 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after recovery timeout, got %v", b.State())
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	*now = now.Add(61 * time.Second)

	for i := 0; i < 2; i++ {
		if err := succeed(b); err != nil {
			t.Fatalf("trial call %d rejected: %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after trial successes, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	*now = now.Add(61 * time.Second)

	_ = fail(b)
	if b.State() != Open {
		t.Fatalf("expected reopen on trial failure, got %v", b.State())
	}
}

func TestBreakerHalfOpenLimitsTrialCalls(t *testing.T) {
	b, now := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	*now = now.Add(61 * time.Second)

	block := make(chan struct{})
	started := make(chan struct{}, 3)
	for i := 0; i < 2; i++ {
		go func() {
			_ = b.Call(context.Background(), func(ctx context.Context) error {
				started <- struct{}{}
				<-block
				return nil
			})
		}()
	}
	<-started
	<-started

	// Trial slots exhausted; the next call must be rejected outright.
	err := succeed(b)
	if !apperrors.IsType(err, apperrors.ErrCircuit) {
		t.Fatalf("expected rejection past half-open budget, got %v", err)
	}
	close(block)
}

func TestGroupKeysAreIndependent(t *testing.T) {
	g := NewGroup(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1})

	a := g.Get("submit:provider-a")
	_ = a.Call(context.Background(), func(ctx context.Context) error { return errUpstream })
	if a.State() != Open {
		t.Fatalf("expected provider-a submit breaker open")
	}

	// Same class on another provider, and another class on the same
	// provider, both stay closed.
	if st := g.Get("submit:provider-b").State(); st != Closed {
		t.Fatalf("provider-b breaker tripped by provider-a: %v", st)
	}
	if st := g.Get("quote:provider-a").State(); st != Closed {
		t.Fatalf("quote breaker tripped by submit failures: %v", st)
	}
}
