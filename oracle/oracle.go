// Package oracle wires the feeder pipeline end to end: fan out to the
// enabled providers, aggregate per symbol, wrap into a batch, publish
// with retries and prune old attestations.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/neoracle/price-feeder/aggregate"
	"github.com/neoracle/price-feeder/provider"
	"github.com/neoracle/price-feeder/types"
)

// ErrNoEnabledProviders is returned when every configured adapter reports
// itself disabled, usually for lack of credentials.
var ErrNoEnabledProviders = errors.New("no enabled providers")

// ErrNoData is returned when the harvest or the aggregation yields nothing
// publishable.
var ErrNoData = errors.New("no price data collected")

// Publisher is the slice of the batch publisher the runner drives.
type Publisher interface {
	Publish(ctx context.Context, batch types.PriceBatch) error
	Wait()
}

// Pruner removes attestations past the retention window.
type Pruner interface {
	PruneOlderThan(days int) (int, error)
}

// Config tunes one pipeline run.
type Config struct {
	Symbols         []string
	PublishAttempts int           // default 3
	RetryBase       time.Duration // default 1s, doubles per attempt
	JitterMax       time.Duration // default 500ms, added to every retry delay
	RetentionDays   int           // default 7
}

func (c Config) withDefaults() Config {
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.JitterMax <= 0 {
		c.JitterMax = 500 * time.Millisecond
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	return c
}

// Runner executes one harvest-aggregate-publish cycle.
type Runner struct {
	adapters []provider.Adapter
	agg      *aggregate.Aggregator
	pub      Publisher
	pruner   Pruner
	cfg      Config
	log      zerolog.Logger
}

// New builds a runner over the given adapters.
func New(adapters []provider.Adapter, agg *aggregate.Aggregator, pub Publisher, pruner Pruner, cfg Config, log zerolog.Logger) *Runner {
	return &Runner{
		adapters: adapters,
		agg:      agg,
		pub:      pub,
		pruner:   pruner,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("module", "oracle").Logger(),
	}
}

// Run executes one full cycle and blocks until confirmation tracking for
// the published batch has settled. Attestation pruning runs regardless of
// how the cycle ends.
func (r *Runner) Run(ctx context.Context) error {
	defer r.prune()

	enabled := make([]provider.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Enabled() {
			enabled = append(enabled, a)
			continue
		}
		r.log.Debug().Str("provider", a.Name()).Msg("provider disabled, skipping")
	}
	if len(enabled) == 0 {
		return ErrNoEnabledProviders
	}

	bySymbol := r.harvest(ctx, enabled)
	if len(bySymbol) == 0 {
		return ErrNoData
	}

	aggregated := r.agg.AggregateAll(ctx, bySymbol)
	if len(aggregated) == 0 {
		return ErrNoData
	}

	batch, err := types.NewBatch(aggregated)
	if err != nil {
		return fmt.Errorf("assemble batch: %w", err)
	}
	r.log.Info().
		Str("batch", batch.ID.String()).
		Int("symbols", len(batch.Quotes)).
		Int("providers", len(enabled)).
		Msg("batch assembled")

	if err := r.publishWithRetry(ctx, batch); err != nil {
		return err
	}
	r.pub.Wait()
	return nil
}

// harvest fans the symbol list out to every enabled adapter and groups the
// returned quotes by canonical symbol. Adapters that come back empty only
// cost a log line.
func (r *Runner) harvest(ctx context.Context, adapters []provider.Adapter) map[string][]types.Quote {
	var (
		mu       sync.Mutex
		bySymbol = make(map[string][]types.Quote)
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			quotes := a.FetchBatch(ctx, r.cfg.Symbols)
			if len(quotes) == 0 {
				r.log.Warn().Str("provider", a.Name()).Msg("provider returned no quotes")
				return nil
			}
			mu.Lock()
			for _, q := range quotes {
				bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
			}
			mu.Unlock()
			r.log.Debug().Str("provider", a.Name()).Int("quotes", len(quotes)).Msg("harvest complete")
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-adapter failures are absorbed above
	return bySymbol
}

// publishWithRetry retries the whole publish with exponential backoff and
// jitter. The batch keeps its identity across attempts.
func (r *Runner) publishWithRetry(ctx context.Context, batch types.PriceBatch) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.PublishAttempts; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryBase<<uint(attempt-1) + time.Duration(rand.Int63n(int64(r.cfg.JitterMax)))
			r.log.Warn().Err(lastErr).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("publish failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = r.pub.Publish(ctx, batch)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("publish after %d attempts: %w", r.cfg.PublishAttempts, lastErr)
}

func (r *Runner) prune() {
	removed, err := r.pruner.PruneOlderThan(r.cfg.RetentionDays)
	if err != nil {
		r.log.Warn().Err(err).Msg("attestation pruning failed")
		return
	}
	if removed > 0 {
		r.log.Info().Int("removed", removed).Msg("attestations pruned")
	}
}
