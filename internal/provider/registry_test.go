package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
)

func newRegistryWith(t *testing.T, ids ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for i, id := range ids {
		r.Register(model.Provider{ID: id, EndpointURL: "http://" + id, Tier: i + 1})
	}
	return r
}

func TestBestProviderEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.BestProvider(0)
	if !errors.Is(err, apperrors.ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestBestProviderPrefersLowerTier(t *testing.T) {
	r := newRegistryWith(t, "primary", "backup")

	p, degraded, err := r.BestProvider(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if degraded {
		t.Fatal("fresh providers should not be degraded")
	}
	if p.ID != "primary" {
		t.Fatalf("expected tier to break the tie toward primary, got %s", p.ID)
	}
}

func TestFailoverOnRepeatedFailures(t *testing.T) {
	r := newRegistryWith(t, "primary", "backup")

	// Hammer the primary with failures until its EWMA success rate drops
	// below the healthy floor.
	for i := 0; i < 10; i++ {
		r.ReportOutcome("primary", 50*time.Millisecond, errors.New("connection refused"))
	}
	r.ReportOutcome("backup", 80*time.Millisecond, nil)

	p, degraded, err := r.BestProvider(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if degraded {
		t.Fatal("backup is healthy, selection should not be degraded")
	}
	if p.ID != "backup" {
		t.Fatalf("expected failover to backup, got %s", p.ID)
	}

	h, _ := r.Health("primary")
	if h.Healthy {
		t.Fatal("primary should be unhealthy after repeated failures")
	}
	if h.LastError == "" {
		t.Fatal("last error should be recorded")
	}
}

func TestGracefulDegradationWhenAllUnhealthy(t *testing.T) {
	r := newRegistryWith(t, "a", "b")
	for i := 0; i < 10; i++ {
		r.ReportOutcome("a", 50*time.Millisecond, errors.New("timeout"))
		r.ReportOutcome("b", 500*time.Millisecond, errors.New("timeout"))
	}

	p, degraded, err := r.BestProvider(0)
	if err != nil {
		t.Fatalf("degradation must still return a provider, got %v", err)
	}
	if !degraded {
		t.Fatal("expected degraded selection")
	}
	// Equal failure penalty; latency and tier decide.
	if p.ID != "a" {
		t.Fatalf("expected least-bad provider a, got %s", p.ID)
	}
}

func TestRecoveryRestoresHealth(t *testing.T) {
	r := newRegistryWith(t, "a")
	for i := 0; i < 10; i++ {
		r.ReportOutcome("a", 50*time.Millisecond, errors.New("503"))
	}
	if h, _ := r.Health("a"); h.Healthy {
		t.Fatal("expected unhealthy after failures")
	}

	// Sustained successes decay the failure history away.
	for i := 0; i < 20; i++ {
		r.ReportOutcome("a", 40*time.Millisecond, nil)
	}
	h, _ := r.Health("a")
	if !h.Healthy {
		t.Fatalf("expected recovery, success rate %.3f", h.SuccessRate)
	}
	if h.LastError != "" {
		t.Fatalf("last error should clear on success, got %q", h.LastError)
	}
}

func TestTierFilterFallsBackToFullSet(t *testing.T) {
	r := NewRegistry()
	r.Register(model.Provider{ID: "only", Tier: 3})

	p, degraded, err := r.BestProvider(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "only" || !degraded {
		t.Fatalf("expected degraded fallback to the only provider, got %s degraded=%v", p.ID, degraded)
	}
}

func TestReportProbeRecordsBlockHeight(t *testing.T) {
	r := newRegistryWith(t, "a")
	r.ReportProbe("a", 30*time.Millisecond, 250_000_000, nil)

	h, ok := r.Health("a")
	if !ok {
		t.Fatal("provider missing")
	}
	if h.BlockHeight != 250_000_000 {
		t.Fatalf("block height not recorded: %d", h.BlockHeight)
	}

	// A failed probe must not clobber the last good height.
	r.ReportProbe("a", 30*time.Millisecond, 0, errors.New("timeout"))
	h, _ = r.Health("a")
	if h.BlockHeight != 250_000_000 {
		t.Fatalf("failed probe overwrote block height: %d", h.BlockHeight)
	}
}

func TestSnapshotKeepsRegistrationOrder(t *testing.T) {
	r := newRegistryWith(t, "one", "two", "three")
	snaps := r.Snapshot()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	for i, want := range []string{"one", "two", "three"} {
		if snaps[i].ProviderID != want {
			t.Fatalf("snapshot %d: got %s, want %s", i, snaps[i].ProviderID, want)
		}
	}
}
