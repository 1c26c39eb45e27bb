// Package resilience wraps outbound provider calls in a composed policy
// chain: retry with exponential backoff and jitter, a per-provider circuit
// breaker, a per-call timeout and a token-bucket rate limit, applied in
// that order from the outside in.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// StatusError carries a non-2xx HTTP response through the policy chain so
// the retry and breaker layers can classify it.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Config tunes one provider's policy chain. Zero values fall back to the
// defaults below.
type Config struct {
	MaxAttempts     int           // total call attempts, default 3
	RetryBase       time.Duration // backoff unit, default 1s (delay = base·2^attempt + jitter)
	Timeout         time.Duration // per-call wall clock bound, default 10s
	RPS             float64       // sustained requests per second, default 5
	Burst           int           // bucket size, default 1
	BreakerFailures uint32        // consecutive failures to open, default 5
	BreakerOpenFor  time.Duration // open interval, default 30s
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RPS <= 0 {
		c.RPS = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

// Executor applies the policy chain for a single provider. Safe for
// concurrent use; the breaker and limiter are shared across all calls
// going to that provider.
type Executor struct {
	provider string
	cfg      Config
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// New builds an executor for the named provider.
func New(provider string, cfg Config, log zerolog.Logger) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:      log.With().Str("module", "resilience").Str("provider", provider).Logger(),
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only transport-class failures trip the breaker; a cancelled
		// context or a permanent application error must not.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return e
}

// BreakerState exposes the breaker state, for logs and tests.
func (e *Executor) BreakerState() gobreaker.State { return e.breaker.State() }

// Do runs op through the policy chain. The context passed to op carries
// the per-call timeout; ctx cancellation aborts retries as well as any
// rate-limiter wait.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := func() error {
		_, err := e.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
			if err := e.limiter.Wait(callCtx); err != nil {
				return nil, err
			}
			return nil, op(callCtx)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		e.log.Debug().Err(err).Msg("transient failure, will retry")
		return err
	}

	sched := backoff.WithContext(
		backoff.WithMaxRetries(&jitterBackoff{base: e.cfg.RetryBase}, uint64(e.cfg.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(attempt, sched)
}

// jitterBackoff yields base·2^attempt plus a uniform jitter in [0, base).
type jitterBackoff struct {
	base    time.Duration
	attempt int
}

func (b *jitterBackoff) NextBackOff() time.Duration {
	b.attempt++
	d := b.base * time.Duration(1<<uint(b.attempt))
	return d + time.Duration(rand.Int63n(int64(b.base)))
}

func (b *jitterBackoff) Reset() { b.attempt = 0 }

// IsTransient reports whether the error is worth retrying: 5xx or 429
// responses, network/DNS failures, timeouts, and short-circuits from an
// open breaker. Everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}
