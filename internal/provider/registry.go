package provider

import (
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

// Score weights. Failure dominates latency so a fast-but-failing endpoint
// never outranks a slow healthy one; tier breaks ties toward primaries.
const (
	latencyWeight     = 0.01
	failurePenalty    = 100.0
	tierPenalty       = 5.0
	staleProbeMaxAge  = 5 * time.Minute
)

// state holds the mutable health record for one provider. Each provider has
// its own lock so unrelated call paths never serialize on a registry-wide
// mutex.
type state struct {
	mu       sync.Mutex
	provider model.Provider

	latencyMs   float64
	successRate float64
	lastError   string
	lastChecked time.Time
	blockHeight uint64

	limiter *rate.Limiter
}

// Registry tracks configured providers and their rolling health. It is the
// exclusive owner of ProviderHealth state; readers get value snapshots.
type Registry struct {
	mu             sync.RWMutex
	providers      map[string]*state
	order          []string // registration order, for stable iteration
	decayAlpha     float64
	minSuccessRate float64
	maxLatencyMs   float64
	concurrency    int
}

type Option func(*Registry)

func WithDecayAlpha(a float64) Option {
	return func(r *Registry) { r.decayAlpha = a }
}

func WithHealthyThresholds(minSuccessRate, maxLatencyMs float64) Option {
	return func(r *Registry) {
		r.minSuccessRate = minSuccessRate
		r.maxLatencyMs = maxLatencyMs
	}
}

// WithConcurrency bounds in-flight outbound calls per provider.
func WithConcurrency(n int) Option {
	return func(r *Registry) { r.concurrency = n }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		providers:      make(map[string]*state),
		decayAlpha:     0.2,
		minSuccessRate: 0.5,
		maxLatencyMs:   3000,
		concurrency:    10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(p model.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID]; exists {
		return
	}
	r.providers[p.ID] = &state{
		provider:    p,
		successRate: 1.0, // optimistic start, first failures decay it fast
		limiter:     rate.NewLimiter(rate.Limit(r.concurrency), r.concurrency),
	}
	r.order = append(r.order, p.ID)
}

func (r *Registry) Get(id string) (model.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.providers[id]
	if !ok {
		return model.Provider{}, false
	}
	return s.provider, true
}

// Limiter returns the outbound rate limiter for a provider, or nil if the
// provider is unknown.
func (r *Registry) Limiter(id string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.providers[id]; ok {
		return s.limiter
	}
	return nil
}

// ReportOutcome folds a real call result into the provider's rolling stats.
// Called by the reliable layer after every outbound call, and by the health
// monitor after every probe.
func (r *Registry) ReportOutcome(id string, latency time.Duration, err error) {
	r.mu.RLock()
	s, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	alpha := r.decayAlpha
	sample := 1.0
	if err != nil {
		sample = 0.0
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.successRate = alpha*sample + (1-alpha)*s.successRate

	ms := float64(latency.Milliseconds())
	if s.latencyMs == 0 {
		s.latencyMs = ms
	} else {
		s.latencyMs = alpha*ms + (1-alpha)*s.latencyMs
	}
	s.lastChecked = time.Now()

	metrics.ProviderScore.WithLabelValues(id).Set(r.scoreLocked(s))
}

// ReportProbe records a health-probe result including the observed block
// height.
func (r *Registry) ReportProbe(id string, latency time.Duration, blockHeight uint64, err error) {
	r.ReportOutcome(id, latency, err)
	if err != nil {
		return
	}
	r.mu.RLock()
	s, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.blockHeight = blockHeight
	s.mu.Unlock()
}

// scoreLocked computes the score; caller holds s.mu.
func (r *Registry) scoreLocked(s *state) float64 {
	return s.latencyMs*latencyWeight +
		(1-s.successRate)*failurePenalty +
		float64(s.provider.Tier)*tierPenalty
}

func (r *Registry) healthyLocked(s *state) bool {
	if s.successRate < r.minSuccessRate {
		return false
	}
	if s.latencyMs > r.maxLatencyMs {
		return false
	}
	if !s.lastChecked.IsZero() && time.Since(s.lastChecked) > staleProbeMaxAge {
		return false
	}
	return true
}

// Health returns a snapshot for one provider.
func (r *Registry) Health(id string) (model.ProviderHealth, bool) {
	r.mu.RLock()
	s, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return model.ProviderHealth{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.snapshotLocked(s), true
}

// Snapshot returns health snapshots for all providers in registration order.
func (r *Registry) Snapshot() []model.ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ProviderHealth, 0, len(r.order))
	for _, id := range r.order {
		s := r.providers[id]
		s.mu.Lock()
		out = append(out, r.snapshotLocked(s))
		s.mu.Unlock()
	}
	return out
}

func (r *Registry) snapshotLocked(s *state) model.ProviderHealth {
	return model.ProviderHealth{
		ProviderID:    s.provider.ID,
		LatencyMs:     s.latencyMs,
		SuccessRate:   s.successRate,
		LastError:     s.lastError,
		LastCheckedAt: s.lastChecked,
		BlockHeight:   s.blockHeight,
		Healthy:       r.healthyLocked(s),
		Score:         r.scoreLocked(s),
	}
}

// BestProvider returns the healthy provider with the lowest score among
// tiers <= maxTier (0 means any tier). If none is healthy it degrades
// gracefully: the lowest-score provider is returned anyway with degraded
// set. ErrNoProviders only when the registry is empty.
func (r *Registry) BestProvider(maxTier int) (model.Provider, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return model.Provider{}, false, apperrors.ErrNoProviders
	}

	var bestHealthy, bestAny *state
	var bestHealthyScore, bestAnyScore float64

	for _, id := range r.order {
		s := r.providers[id]
		if maxTier > 0 && s.provider.Tier > maxTier {
			continue
		}
		s.mu.Lock()
		score := r.scoreLocked(s)
		healthy := r.healthyLocked(s)
		s.mu.Unlock()

		if bestAny == nil || score < bestAnyScore {
			bestAny, bestAnyScore = s, score
		}
		if healthy && (bestHealthy == nil || score < bestHealthyScore) {
			bestHealthy, bestHealthyScore = s, score
		}
	}

	if bestAny == nil {
		// Tier filter excluded everything; fall back to the full set.
		return r.bestIgnoringTier()
	}
	if bestHealthy != nil {
		return bestHealthy.provider, false, nil
	}
	return bestAny.provider, true, nil
}

func (r *Registry) bestIgnoringTier() (model.Provider, bool, error) {
	var best *state
	var bestScore float64
	for _, id := range r.order {
		s := r.providers[id]
		s.mu.Lock()
		score := r.scoreLocked(s)
		s.mu.Unlock()
		if best == nil || score < bestScore {
			best, bestScore = s, score
		}
	}
	if best == nil {
		return model.Provider{}, false, apperrors.ErrNoProviders
	}
	return best.provider, true, nil
}
