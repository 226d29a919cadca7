package provider

import (
	"context"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/logger"
)

// ProbeFunc issues one cheap read-only call (current slot) against a
// provider and returns the observed block height.
type ProbeFunc func(ctx context.Context, p model.Provider) (uint64, error)

// HealthMonitor probes every registered provider on a fixed interval,
// independent of trading activity. Probe failures only affect scoring; they
// never surface to callers.
type HealthMonitor struct {
	registry *Registry
	probe    ProbeFunc
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthMonitor(registry *Registry, probe ProbeFunc, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		registry: registry,
		probe:    probe,
		interval: interval,
	}
}

func (m *HealthMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runOnce(ctx)
			}
		}
	}()
}

func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// runOnce probes all providers concurrently. A panic in one probe iteration
// is logged and swallowed so the loop keeps running.
func (m *HealthMonitor) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("health probe tick panicked", "panic", rec)
		}
	}()

	snaps := m.registry.Snapshot()
	var wg sync.WaitGroup
	for _, snap := range snaps {
		p, ok := m.registry.Get(snap.ProviderID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(p model.Provider) {
			defer wg.Done()
			m.probeOne(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (m *HealthMonitor) probeOne(ctx context.Context, p model.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	start := time.Now()
	height, err := m.probe(probeCtx, p)
	elapsed := time.Since(start)

	m.registry.ReportProbe(p.ID, elapsed, height, err)
	if err != nil {
		logger.Debug("provider probe failed", "provider", p.ID, "error", err)
	}
}
