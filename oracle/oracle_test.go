package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/neoracle/price-feeder/aggregate"
	"github.com/neoracle/price-feeder/provider"
	"github.com/neoracle/price-feeder/types"
)

type fakeAdapter struct {
	name    string
	enabled bool
	quotes  []types.Quote
}

func (f *fakeAdapter) Name() string  { return f.name }
func (f *fakeAdapter) Enabled() bool { return f.enabled }

func (f *fakeAdapter) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	for _, q := range f.quotes {
		if q.Symbol == symbol {
			return q, nil
		}
	}
	return types.Quote{}, errors.New("no quote")
}

func (f *fakeAdapter) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	return f.quotes
}

type fakePublisher struct {
	mu       sync.Mutex
	batches  []types.PriceBatch
	failures int // fail this many leading calls
}

func (f *fakePublisher) Publish(ctx context.Context, batch types.PriceBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	if len(f.batches) <= f.failures {
		return errors.New("chain unavailable")
	}
	return nil
}

func (f *fakePublisher) Wait() {}

func (f *fakePublisher) calls() []types.PriceBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PriceBatch(nil), f.batches...)
}

type fakePruner struct {
	mu   sync.Mutex
	days []int
}

func (f *fakePruner) PruneOlderThan(days int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, days)
	return 0, nil
}

func (f *fakePruner) pruneCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.days...)
}

func quote(provider, symbol, price string) types.Quote {
	return types.Quote{
		Symbol:     symbol,
		Price:      decimal.RequireFromString(price),
		Provider:   provider,
		ObservedAt: time.Now().UTC(),
	}
}

func fastConfig() Config {
	return Config{
		Symbols:   []string{"BTCUSDT"},
		RetryBase: time.Millisecond,
		JitterMax: time.Millisecond,
	}
}

func newRunner(adapters []*fakeAdapter, pub *fakePublisher, pruner *fakePruner, cfg Config) *Runner {
	out := make([]provider.Adapter, len(adapters))
	for i, a := range adapters {
		out[i] = a
	}
	return New(out, aggregate.New(zerolog.Nop()), pub, pruner, cfg, zerolog.Nop())
}

func TestRunHappyPath(t *testing.T) {
	adapters := []*fakeAdapter{
		{name: "binance", enabled: true, quotes: []types.Quote{quote("binance", "BTCUSDT", "50000")}},
		{name: "kraken", enabled: true, quotes: []types.Quote{quote("kraken", "BTCUSDT", "50001")}},
		{name: "okx", enabled: true, quotes: []types.Quote{quote("okx", "BTCUSDT", "50000.5")}},
	}
	pub := &fakePublisher{}
	pruner := &fakePruner{}
	r := newRunner(adapters, pub, pruner, fastConfig())

	require.NoError(t, r.Run(context.Background()))

	calls := pub.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Quotes, 1)
	agg := calls[0].Quotes[0]
	require.Equal(t, "BTCUSDT", agg.Symbol)
	require.Equal(t, "50000.5", agg.Price.String(), "median of three quotes")
	require.Equal(t, 100, agg.Confidence)
	require.Equal(t, []int{7}, pruner.pruneCalls(), "default retention is seven days")
}

func TestRunNoEnabledProviders(t *testing.T) {
	adapters := []*fakeAdapter{
		{name: "binance", enabled: false},
		{name: "coinmarketcap", enabled: false},
	}
	pub := &fakePublisher{}
	pruner := &fakePruner{}
	r := newRunner(adapters, pub, pruner, fastConfig())

	require.ErrorIs(t, r.Run(context.Background()), ErrNoEnabledProviders)
	require.Empty(t, pub.calls())
	require.Len(t, pruner.pruneCalls(), 1, "pruning runs even on failed cycles")
}

func TestRunNoData(t *testing.T) {
	adapters := []*fakeAdapter{{name: "okx", enabled: true}}
	pub := &fakePublisher{}
	r := newRunner(adapters, pub, &fakePruner{}, fastConfig())

	require.ErrorIs(t, r.Run(context.Background()), ErrNoData)
	require.Empty(t, pub.calls())
}

func TestRunToleratesEmptyProvider(t *testing.T) {
	adapters := []*fakeAdapter{
		{name: "binance", enabled: true, quotes: []types.Quote{quote("binance", "BTCUSDT", "50000")}},
		{name: "kraken", enabled: true}, // upstream down, nothing returned
	}
	pub := &fakePublisher{}
	r := newRunner(adapters, pub, &fakePruner{}, fastConfig())

	require.NoError(t, r.Run(context.Background()))
	calls := pub.calls()
	require.Len(t, calls, 1)
	require.Equal(t, 60, calls[0].Quotes[0].Confidence, "single surviving source")
}

func TestRunRetriesPublish(t *testing.T) {
	adapters := []*fakeAdapter{
		{name: "okx", enabled: true, quotes: []types.Quote{quote("okx", "BTCUSDT", "50000")}},
	}
	pub := &fakePublisher{failures: 2}
	r := newRunner(adapters, pub, &fakePruner{}, fastConfig())

	require.NoError(t, r.Run(context.Background()))
	calls := pub.calls()
	require.Len(t, calls, 3, "two failures then success")
	require.Equal(t, calls[0].ID, calls[2].ID, "batch identity is stable across retries")
}

func TestRunPublishExhausted(t *testing.T) {
	adapters := []*fakeAdapter{
		{name: "okx", enabled: true, quotes: []types.Quote{quote("okx", "BTCUSDT", "50000")}},
	}
	pub := &fakePublisher{failures: 99}
	pruner := &fakePruner{}
	r := newRunner(adapters, pub, pruner, fastConfig())

	err := r.Run(context.Background())
	require.Error(t, err)
	require.Len(t, pub.calls(), 3, "default attempt budget")
	require.Len(t, pruner.pruneCalls(), 1)
}
