// Package types holds the data model shared by the feeder pipeline:
// provider quotes, aggregated quotes, price batches and batch status.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDuplicateSymbol is returned when a batch would contain the same
// canonical symbol twice.
var ErrDuplicateSymbol = errors.New("duplicate symbol in batch")

// ErrEmptyBatch is returned when a batch is created or published with no
// quotes.
var ErrEmptyBatch = errors.New("empty price batch")

// Quote is a single normalized price observation from one provider.
// Price is denominated in the quote currency of the canonical symbol
// (USDT for *USDT pairs, BTC for *BTC pairs). Volume is the 24h base
// currency volume and is zero when the provider does not report one.
type Quote struct {
	Symbol     string            `json:"symbol"`
	Price      decimal.Decimal   `json:"price"`
	Volume     decimal.Decimal   `json:"volume"`
	Provider   string            `json:"provider"`
	ObservedAt time.Time         `json:"observed_at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Validate checks the quote invariants.
func (q Quote) Validate() error {
	if q.Symbol == "" {
		return errors.New("quote has empty symbol")
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("quote %s from %s has non-positive price %s", q.Symbol, q.Provider, q.Price)
	}
	if q.Volume.IsNegative() {
		return fmt.Errorf("quote %s from %s has negative volume %s", q.Symbol, q.Provider, q.Volume)
	}
	return nil
}

// AggregatedQuote is the fused quote for one canonical symbol across
// providers.
type AggregatedQuote struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	AggregatedAt time.Time       `json:"aggregated_at"`
	Confidence   int             `json:"confidence"`
	StdDev       decimal.Decimal `json:"std_dev"`
	Sources      []Quote         `json:"sources"`
}

// PriceBatch is an ordered set of aggregated quotes published as a unit.
// Sub-batches produced by splitting keep the parent's ID.
type PriceBatch struct {
	ID        uuid.UUID         `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Quotes    []AggregatedQuote `json:"quotes"`
}

// NewBatch wraps quotes into a batch with a fresh random ID. It rejects
// empty input and duplicate canonical symbols.
func NewBatch(quotes []AggregatedQuote) (PriceBatch, error) {
	if len(quotes) == 0 {
		return PriceBatch{}, ErrEmptyBatch
	}
	seen := make(map[string]struct{}, len(quotes))
	for _, q := range quotes {
		if _, ok := seen[q.Symbol]; ok {
			return PriceBatch{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, q.Symbol)
		}
		seen[q.Symbol] = struct{}{}
	}
	return PriceBatch{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Quotes:    quotes,
	}, nil
}

// Split cuts the batch into sub-batches of at most size quotes, in order.
// Every sub-batch carries the parent batch ID.
func (b PriceBatch) Split(size int) []PriceBatch {
	if size <= 0 || len(b.Quotes) <= size {
		return []PriceBatch{b}
	}
	var out []PriceBatch
	for start := 0; start < len(b.Quotes); start += size {
		end := start + size
		if end > len(b.Quotes) {
			end = len(b.Quotes)
		}
		out = append(out, PriceBatch{
			ID:        b.ID,
			CreatedAt: b.CreatedAt,
			Quotes:    b.Quotes[start:end],
		})
	}
	return out
}

// Status tracks a batch through submission. Transitions are monotonic:
// Unknown → Processing → Sent → {Confirmed, Pending, Failed}.
type Status int

const (
	StatusUnknown Status = iota
	StatusProcessing
	StatusSent
	StatusConfirmed
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusSent:
		return "sent"
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusPending, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next respects the
// monotonic status order.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUnknown:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusConfirmed || next == StatusPending || next == StatusFailed
	}
	return false
}

// StatusInfo is the publisher's view of one batch: the plain status enum
// plus the submission hash and progress counters.
type StatusInfo struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
}
