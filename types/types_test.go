package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func aggQuote(symbol string, price string) AggregatedQuote {
	return AggregatedQuote{
		Symbol:       symbol,
		Price:        decimal.RequireFromString(price),
		AggregatedAt: time.Now().UTC(),
		Confidence:   100,
	}
}

func TestQuoteValidate(t *testing.T) {
	q := Quote{
		Symbol:     "BTCUSDT",
		Price:      decimal.RequireFromString("50000.5"),
		Provider:   "Binance",
		ObservedAt: time.Now(),
	}
	require.NoError(t, q.Validate())

	q.Price = decimal.Zero
	require.Error(t, q.Validate())

	q.Price = decimal.RequireFromString("1")
	q.Volume = decimal.RequireFromString("-3")
	require.Error(t, q.Validate())

	q.Volume = decimal.Zero
	q.Symbol = ""
	require.Error(t, q.Validate())
}

func TestNewBatch(t *testing.T) {
	_, err := NewBatch(nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = NewBatch([]AggregatedQuote{aggQuote("BTCUSDT", "1"), aggQuote("BTCUSDT", "2")})
	require.ErrorIs(t, err, ErrDuplicateSymbol)

	b, err := NewBatch([]AggregatedQuote{aggQuote("BTCUSDT", "1"), aggQuote("ETHUSDT", "2")})
	require.NoError(t, err)
	require.Len(t, b.Quotes, 2)
	require.NotEqual(t, b.ID.String(), "00000000-0000-0000-0000-000000000000")

	// Consecutive batches get distinct IDs.
	b2, err := NewBatch([]AggregatedQuote{aggQuote("BTCUSDT", "1")})
	require.NoError(t, err)
	require.NotEqual(t, b.ID, b2.ID)
}

func TestBatchSplit(t *testing.T) {
	quotes := make([]AggregatedQuote, 120)
	for i := range quotes {
		quotes[i] = aggQuote("SYM"+string(rune('A'+i%26))+string(rune('A'+i/26)), "1")
	}
	b := PriceBatch{ID: uuid.New(), Quotes: quotes}

	subs := b.Split(50)
	require.Len(t, subs, 3)
	require.Len(t, subs[0].Quotes, 50)
	require.Len(t, subs[1].Quotes, 50)
	require.Len(t, subs[2].Quotes, 20)
	for _, sb := range subs {
		require.Equal(t, b.ID, sb.ID)
	}
	// Order preserved across the cut points.
	require.Equal(t, quotes[49].Symbol, subs[0].Quotes[49].Symbol)
	require.Equal(t, quotes[50].Symbol, subs[1].Quotes[0].Symbol)

	small := PriceBatch{Quotes: quotes[:10]}
	require.Len(t, small.Split(50), 1)
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusUnknown.CanTransition(StatusProcessing))
	require.True(t, StatusProcessing.CanTransition(StatusSent))
	require.True(t, StatusSent.CanTransition(StatusConfirmed))
	require.True(t, StatusSent.CanTransition(StatusPending))
	require.True(t, StatusSent.CanTransition(StatusFailed))

	require.False(t, StatusSent.CanTransition(StatusProcessing))
	require.False(t, StatusConfirmed.CanTransition(StatusProcessing))
	require.False(t, StatusFailed.CanTransition(StatusSent))
	require.False(t, StatusPending.CanTransition(StatusConfirmed))

	require.True(t, StatusConfirmed.Terminal())
	require.True(t, StatusPending.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusSent.Terminal())
}
