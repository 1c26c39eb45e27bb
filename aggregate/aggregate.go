// Package aggregate fuses per-provider quotes for one symbol into a single
// quote with a confidence score. The filter is a median-absolute-deviation
// outlier cut; the estimator is the median (mean for two survivors).
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/neoracle/price-feeder/types"
)

// ErrNoQuotes is returned when a symbol has no quotes to aggregate.
var ErrNoQuotes = errors.New("no quotes to aggregate")

// ErrSymbolMismatch is returned when the input mixes symbols.
var ErrSymbolMismatch = errors.New("quotes for different symbols")

var (
	madTight     = decimal.RequireFromString("0.01")
	tightFactor  = decimal.RequireFromString("0.1")
	thresholdLo  = decimal.RequireFromString("2.5") // n == 3
	thresholdMid = decimal.RequireFromString("3")   // 3 < n <= 5
	thresholdHi  = decimal.RequireFromString("2")   // n > 5
)

// Aggregator combines quotes. It holds no state beyond its logger and is
// safe for concurrent use.
type Aggregator struct {
	log zerolog.Logger
}

// New returns an aggregator.
func New(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("module", "aggregate").Logger()}
}

// Aggregate fuses all quotes for one symbol. The result is a pure function
// of the input multiset.
func (a *Aggregator) Aggregate(symbol string, quotes []types.Quote) (types.AggregatedQuote, error) {
	if len(quotes) == 0 {
		return types.AggregatedQuote{}, fmt.Errorf("%w: %s", ErrNoQuotes, symbol)
	}
	for _, q := range quotes {
		if q.Symbol != symbol {
			return types.AggregatedQuote{}, fmt.Errorf("%w: got %s, want %s", ErrSymbolMismatch, q.Symbol, symbol)
		}
		if err := q.Validate(); err != nil {
			return types.AggregatedQuote{}, err
		}
	}

	prices := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	survivors := FilterOutliers(prices)
	if len(survivors) < len(prices) {
		a.log.Debug().Str("symbol", symbol).
			Int("total", len(prices)).Int("survivors", len(survivors)).
			Msg("dropped outlier quotes")
	}

	price := centralEstimate(survivors)
	agg := types.AggregatedQuote{
		Symbol:       symbol,
		Price:        price,
		AggregatedAt: time.Now().UTC(),
		Confidence:   confidence(len(quotes)),
		StdDev:       stdDev(survivors),
		Sources:      quotes,
	}
	return agg, nil
}

// AggregateAll aggregates each symbol in parallel. Symbols that fail are
// skipped and logged; the surviving quotes come back sorted by symbol.
func (a *Aggregator) AggregateAll(ctx context.Context, bySymbol map[string][]types.Quote) []types.AggregatedQuote {
	var (
		mu  sync.Mutex
		out []types.AggregatedQuote
	)
	g, ctx := errgroup.WithContext(ctx)
	for symbol, quotes := range bySymbol {
		symbol, quotes := symbol, quotes
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			agg, err := a.Aggregate(symbol, quotes)
			if err != nil {
				a.log.Warn().Err(err).Str("symbol", symbol).Msg("aggregation failed, skipping symbol")
				return nil
			}
			mu.Lock()
			out = append(out, agg)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.Warn().Err(err).Msg("aggregation cancelled")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// FilterOutliers drops prices whose absolute deviation from the median
// exceeds a MAD-scaled threshold. Fewer than three prices pass through
// unchanged; if the cut would remove half or more of the sample the
// original set is kept. The filter is idempotent.
func FilterOutliers(prices []decimal.Decimal) []decimal.Decimal {
	n := len(prices)
	if n <= 2 {
		return prices
	}

	m := median(prices)
	deviations := make([]decimal.Decimal, n)
	for i, p := range prices {
		deviations[i] = p.Sub(m).Abs()
	}
	mad := median(deviations)

	var t decimal.Decimal
	switch {
	case mad.LessThan(madTight.Mul(m)):
		// Prices are very tight; a MAD-based cut would be hair-trigger.
		t = tightFactor.Mul(m)
	case n == 3:
		t = thresholdLo.Mul(mad)
	case n <= 5:
		t = thresholdMid.Mul(mad)
	default:
		t = thresholdHi.Mul(mad)
	}

	survivors := make([]decimal.Decimal, 0, n)
	for _, p := range prices {
		if p.Sub(m).Abs().LessThanOrEqual(t) {
			survivors = append(survivors, p)
		}
	}
	if len(survivors) < (n+1)/2 {
		return prices
	}
	return survivors
}

// median returns the middle value, or the mean of the two middle values
// for even-sized input. The input slice is not modified.
func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return decimal.Avg(sorted[mid-1], sorted[mid])
}

func centralEstimate(prices []decimal.Decimal) decimal.Decimal {
	switch len(prices) {
	case 1:
		return prices[0]
	case 2:
		return decimal.Avg(prices[0], prices[1])
	default:
		return median(prices)
	}
}

// stdDev is the population standard deviation of the survivor prices.
func stdDev(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) <= 1 {
		return decimal.Zero
	}
	mean := decimal.Avg(prices[0], prices[1:]...)
	var sum float64
	for _, p := range prices {
		d := p.Sub(mean).InexactFloat64()
		sum += d * d
	}
	return decimal.NewFromFloat(math.Sqrt(sum / float64(len(prices))))
}

// confidence maps the number of contributing sources to the baseline
// confidence score.
func confidence(sources int) int {
	switch {
	case sources >= 3:
		return 100
	case sources == 2:
		return 80
	default:
		return 60
	}
}
