package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/pkg/metrics"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	RecoveryTimeout  time.Duration // Open -> HalfOpen after this elapses
	HalfOpenMaxCalls int           // concurrent trial calls while HalfOpen
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 2
	}
	return c
}

// Breaker guards one upstream call class. While Open, Call fails fast with
// ErrCircuitOpen without invoking fn; that is what keeps a degraded provider
// from being hammered by retries.
type Breaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      int       // consecutive failures while Closed
	openedAt      time.Time // when the circuit last opened
	halfOpenInFly int       // trial calls currently running
	halfOpenOK    int       // trial successes this half-open round
	now           func() time.Time
}

func New(name string, cfg Config) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: Closed,
		now:   time.Now,
	}
	b.publishState()
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionLocked()
	return b.state
}

// Call runs fn under the breaker's admission rules.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeTransitionLocked()

	switch b.state {
	case Open:
		return apperrors.ErrCircuitOpen
	case HalfOpen:
		if b.halfOpenInFly >= b.cfg.HalfOpenMaxCalls {
			return apperrors.ErrCircuitOpen
		}
		b.halfOpenInFly++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFly--
		if err != nil {
			// One failed trial re-opens the circuit and restarts the timer.
			b.toOpenLocked()
			return
		}
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenMaxCalls {
			b.toClosedLocked()
		}
	case Closed:
		if err != nil {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.toOpenLocked()
			}
		} else {
			b.failures = 0
		}
	case Open:
		// A call admitted just before the circuit opened; outcome is moot.
	}
}

// maybeTransitionLocked moves Open -> HalfOpen once the recovery timeout has
// elapsed. Caller holds b.mu.
func (b *Breaker) maybeTransitionLocked() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.state = HalfOpen
		b.halfOpenInFly = 0
		b.halfOpenOK = 0
		b.publishState()
	}
}

func (b *Breaker) toOpenLocked() {
	b.state = Open
	b.openedAt = b.now()
	b.failures = 0
	b.halfOpenInFly = 0
	b.halfOpenOK = 0
	b.publishState()
}

func (b *Breaker) toClosedLocked() {
	b.state = Closed
	b.failures = 0
	b.halfOpenInFly = 0
	b.halfOpenOK = 0
	b.publishState()
}

func (b *Breaker) publishState() {
	var v float64
	switch b.state {
	case HalfOpen:
		v = 1
	case Open:
		v = 2
	}
	metrics.CircuitState.WithLabelValues(b.name).Set(v)
}

// Group lazily creates one breaker per key. Keys combine call class and
// provider so one provider's open submit circuit does not suspend another's.
type Group struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewGroup(cfg Config) *Group {
	return &Group{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[key]; ok {
		return b
	}
	b := New(key, g.cfg)
	g.breakers[key] = b
	return b
}
