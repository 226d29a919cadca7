package reliable

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dexgate/dexgate/internal/breaker"
	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/dexgate/dexgate/internal/pkg/metrics"
	"github.com/dexgate/dexgate/internal/provider"
	"github.com/dexgate/dexgate/internal/rpc"
)

// Call classes. Breakers are keyed class+provider so a provider whose
// submit path is failing still serves quotes, and an open circuit on one
// provider routes the next attempt to another without waiting out timeouts.
const (
	ClassQuote    = "quote"
	ClassSimulate = "simulate"
	ClassSubmit   = "submit"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 1 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	return c
}

// PrepareFunc builds and signs a fresh transaction for a submission attempt.
// It is re-invoked on every retry so transient simulation failures (expired
// blockhash, fee headroom) are repaired transparently with fresh state.
type PrepareFunc func(ctx context.Context, p model.Provider, attempt int) (signedTxB64 string, err error)

// Caller composes provider selection, per-class circuit breaking and
// classified retry into one reliable call primitive.
type Caller struct {
	registry *provider.Registry
	breakers *breaker.Group
	client   *rpc.Client
	cfg      Config
}

func NewCaller(registry *provider.Registry, breakers *breaker.Group, client *rpc.Client, cfg Config) *Caller {
	return &Caller{
		registry: registry,
		breakers: breakers,
		client:   client,
		cfg:      cfg.withDefaults(),
	}
}

func (c *Caller) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.Multiplier = c.cfg.Multiplier
	bo.MaxElapsedTime = 0 // retry count is the budget, not wall time
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)
}

// Call runs fn with retries, selecting the best provider fresh on every
// attempt. Classified-permanent errors stop the retry loop immediately.
func (c *Caller) Call(ctx context.Context, class string, fn func(ctx context.Context, p model.Provider) error) error {
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.ReliableRetries.WithLabelValues(class).Inc()
		}

		p, degraded, err := c.registry.BestProvider(0)
		if err != nil {
			return backoff.Permanent(err) // registry empty, fatal for this call
		}
		if degraded {
			logger.Warn("no healthy provider, using degraded", "provider", p.ID, "class", class)
		}

		err = c.callOn(ctx, class, p, fn)
		if err == nil {
			return nil
		}
		if Classify(err) == Permanent {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, c.newBackoff(ctx))
}

// callOn performs a single attempt against one provider: limiter, breaker,
// outcome accounting.
func (c *Caller) callOn(ctx context.Context, class string, p model.Provider, fn func(ctx context.Context, p model.Provider) error) error {
	if lim := c.registry.Limiter(p.ID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	br := c.breakers.Get(class + ":" + p.ID)
	start := time.Now()
	err := br.Call(ctx, func(ctx context.Context) error {
		return fn(ctx, p)
	})
	elapsed := time.Since(start)

	// A short-circuited call never reached the provider; scoring it would
	// punish an endpoint that was not even tried.
	if !apperrors.IsType(err, apperrors.ErrCircuit) {
		c.registry.ReportOutcome(p.ID, elapsed, err)
		metrics.ProviderLatency.WithLabelValues(p.ID, class).Observe(elapsed.Seconds())
	}
	return err
}

// GetQuote fetches a quote through the reliable path.
func (c *Caller) GetQuote(ctx context.Context, req rpc.QuoteRequest) (rpc.Quote, error) {
	var quote rpc.Quote
	err := c.Call(ctx, ClassQuote, func(ctx context.Context, p model.Provider) error {
		q, err := c.client.GetQuote(ctx, p, req)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	return quote, err
}

// GetLatestBlockhash fetches a fresh blockhash through the reliable path.
func (c *Caller) GetLatestBlockhash(ctx context.Context) (rpc.Blockhash, error) {
	var bh rpc.Blockhash
	err := c.Call(ctx, ClassQuote, func(ctx context.Context, p model.Provider) error {
		got, err := c.client.GetLatestBlockhash(ctx, p)
		if err != nil {
			return err
		}
		bh = got
		return nil
	})
	return bh, err
}

// SuggestPriorityFee samples the network's recent prioritization fees.
// Best effort: a failed sample returns zero and the quote endpoint falls
// back to its own fee estimate.
func (c *Caller) SuggestPriorityFee(ctx context.Context) uint64 {
	p, _, err := c.registry.BestProvider(0)
	if err != nil {
		return 0
	}
	fee, err := c.client.GetPriorityFee(ctx, p)
	if err != nil {
		logger.Debug("priority fee sample failed", "provider", p.ID, "error", err)
		return 0
	}
	return fee
}

// SubmitTransaction runs the simulate-then-send submission flow. Each
// attempt re-prepares the transaction (fresh quote, blockhash and priority
// fee) so transient simulation failures are repaired without surfacing to
// the caller; permanent failures return immediately.
func (c *Caller) SubmitTransaction(ctx context.Context, prep PrepareFunc) (rpc.SubmitResult, error) {
	var result rpc.SubmitResult
	attempt := 0

	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.ReliableRetries.WithLabelValues(ClassSubmit).Inc()
		}

		p, degraded, err := c.registry.BestProvider(0)
		if err != nil {
			return backoff.Permanent(err)
		}
		if degraded {
			logger.Warn("no healthy provider, submitting via degraded", "provider", p.ID)
		}

		signedTx, err := prep(ctx, p, attempt)
		if err != nil {
			if Classify(err) == Permanent {
				return backoff.Permanent(err)
			}
			return err
		}

		// Simulate first; a permanent simulation failure means the
		// transaction can never land and must not be sent.
		err = c.callOn(ctx, ClassSimulate, p, func(ctx context.Context, p model.Provider) error {
			return c.client.SimulateTransaction(ctx, p, signedTx)
		})
		if err != nil {
			if Classify(err) == Permanent {
				return backoff.Permanent(err)
			}
			logger.Debug("simulation transient failure, re-preparing", "provider", p.ID, "attempt", attempt, "error", err)
			return err
		}

		err = c.callOn(ctx, ClassSubmit, p, func(ctx context.Context, p model.Provider) error {
			res, sendErr := c.client.SendTransaction(ctx, p, signedTx)
			if sendErr != nil {
				return sendErr
			}
			result = res
			return nil
		})
		if err != nil {
			if Classify(err) == Permanent {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return rpc.SubmitResult{}, err
	}
	return result, nil
}
