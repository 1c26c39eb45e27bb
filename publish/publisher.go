// Package publish turns an aggregated price batch into one or more signed
// updatePriceBatch transactions: optional asset sweep, sub-batch
// splitting, satoshi scaling, dual-signed submission, attestation and
// background confirmation tracking.
package publish

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/neoracle/price-feeder/attest"
	"github.com/neoracle/price-feeder/chain"
	"github.com/neoracle/price-feeder/types"
)

// ErrChainReject is wrapped around submission failures so callers can
// trigger the outer publish retry.
var ErrChainReject = errors.New("transaction rejected by chain")

// ErrAttestation marks a publish that went on-chain but could not be
// receipted; without a receipt the publish counts as failed.
var ErrAttestation = errors.New("attestation failed")

// gasReserve is kept on the TEE account during sweeps so it can keep
// paying its own fees: 1 GAS in its smallest unit.
var gasReserve = big.NewInt(100_000_000)

// maxScaledPrice caps the satoshi-scaled price at what an int64 can hold.
var maxScaledPrice = new(big.Int).SetInt64(math.MaxInt64)

var priceScale = decimal.New(1, 8)

// Chain is the slice of the chain client the publisher uses.
type Chain interface {
	SubmitDualSigned(ctx context.Context, script []byte) (util.Uint256, error)
	SubmitTEESigned(ctx context.Context, script []byte) (util.Uint256, error)
	TransactionStatus(ctx context.Context, hash util.Uint256) (chain.TxStatus, error)
	TokenBalances(ctx context.Context, account util.Uint160) ([]chain.TokenBalance, error)
	ContractHash() util.Uint160
	TEEScriptHash() util.Uint160
	MasterScriptHash() util.Uint160
}

// Attestor is the receipt writer for published sub-batches.
type Attestor interface {
	CreateBatch(batchID uuid.UUID, txHash string, summaries []attest.PriceSummary) (attest.BatchAttestation, error)
}

// Config tunes the publisher.
type Config struct {
	MaxBatchSize int           // quotes per transaction, default 50
	SweepAssets  bool          // transfer TEE holdings to master before publishing
	PollInterval time.Duration // confirmation poll spacing, default 2s
	PollAttempts int           // confirmation poll budget, default 30
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 30
	}
	return c
}

// Publisher submits price batches. It exclusively owns the per-run status
// and batch→tx maps; the submit path and the confirmation poller both
// mutate them under the same lock.
type Publisher struct {
	chain    Chain
	attestor Attestor
	cfg      Config
	log      zerolog.Logger

	mu       sync.Mutex
	statuses map[uuid.UUID]types.StatusInfo
	txs      map[uuid.UUID][]util.Uint256

	wg sync.WaitGroup
}

// New builds a publisher.
func New(ch Chain, att Attestor, cfg Config, log zerolog.Logger) *Publisher {
	return &Publisher{
		chain:    ch,
		attestor: att,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("module", "publish").Logger(),
		statuses: make(map[uuid.UUID]types.StatusInfo),
		txs:      make(map[uuid.UUID][]util.Uint256),
	}
}

// Publish pushes the batch on-chain. It returns once every sub-batch has
// been submitted and attested; confirmation tracking continues in the
// background until Wait is called or the poll budget runs out.
func (p *Publisher) Publish(ctx context.Context, batch types.PriceBatch) error {
	if len(batch.Quotes) == 0 {
		return types.ErrEmptyBatch
	}
	// Each Publish call starts a fresh lifecycle for the batch; a retry
	// after a failed attempt begins again at Processing.
	p.mu.Lock()
	p.statuses[batch.ID] = types.StatusInfo{
		BatchID:   batch.ID,
		Status:    types.StatusProcessing,
		Total:     len(batch.Quotes),
		Timestamp: time.Now().UTC(),
	}
	p.txs[batch.ID] = nil
	p.mu.Unlock()

	if p.cfg.SweepAssets {
		p.sweep(ctx)
	}

	subs := batch.Split(p.cfg.MaxBatchSize)
	processed := 0
	for i, sub := range subs {
		script, err := p.buildUpdateScript(sub.Quotes)
		if err != nil {
			p.fail(batch.ID)
			return fmt.Errorf("build update script (sub-batch %d/%d): %w", i+1, len(subs), err)
		}
		hash, err := p.chain.SubmitDualSigned(ctx, script)
		if err != nil {
			p.fail(batch.ID)
			return fmt.Errorf("%w: sub-batch %d/%d: %v", ErrChainReject, i+1, len(subs), err)
		}
		p.recordTx(batch.ID, hash)

		summaries := make([]attest.PriceSummary, len(sub.Quotes))
		for j, q := range sub.Quotes {
			summaries[j] = attest.PriceSummary{Symbol: q.Symbol, Price: q.Price, Confidence: q.Confidence}
		}
		if _, err := p.attestor.CreateBatch(batch.ID, hash.StringLE(), summaries); err != nil {
			p.fail(batch.ID)
			return fmt.Errorf("%w: sub-batch %d/%d: %v", ErrAttestation, i+1, len(subs), err)
		}

		processed += len(sub.Quotes)
		p.setStatus(batch.ID, types.StatusProcessing, processed, len(batch.Quotes))
		p.log.Info().
			Str("batch", batch.ID.String()).
			Str("tx", hash.StringLE()).
			Int("quotes", len(sub.Quotes)).
			Int("processed", processed).
			Msg("sub-batch submitted")
	}

	p.setStatus(batch.ID, types.StatusSent, processed, len(batch.Quotes))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.monitor(ctx, batch.ID)
	}()
	return nil
}

// Wait blocks until all background confirmation pollers are done.
func (p *Publisher) Wait() { p.wg.Wait() }

// Status reports the publisher's view of a batch; StatusUnknown when it
// has no record.
func (p *Publisher) Status(batchID uuid.UUID) types.StatusInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.statuses[batchID]
	if !ok {
		return types.StatusInfo{BatchID: batchID, Status: types.StatusUnknown}
	}
	return info
}

// monitor polls the batch's transactions until every one has at least one
// confirmation, the poll budget runs out (Pending), or a poll fails
// (Failed).
func (p *Publisher) monitor(ctx context.Context, batchID uuid.UUID) {
	p.mu.Lock()
	hashes := append([]util.Uint256(nil), p.txs[batchID]...)
	p.mu.Unlock()
	if len(hashes) == 0 {
		return
	}

	for attempt := 0; attempt < p.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.log.Warn().Str("batch", batchID.String()).Msg("confirmation polling cancelled")
			p.transition(batchID, types.StatusPending)
			return
		case <-time.After(p.cfg.PollInterval):
		}

		confirmed := 0
		for _, hash := range hashes {
			st, err := p.chain.TransactionStatus(ctx, hash)
			if err != nil {
				p.log.Warn().Err(err).Str("tx", hash.StringLE()).Msg("confirmation poll failed")
				p.transition(batchID, types.StatusFailed)
				return
			}
			if st.VMState == "FAULT" {
				p.log.Error().Str("tx", hash.StringLE()).Msg("transaction faulted on chain")
				p.transition(batchID, types.StatusFailed)
				return
			}
			if st.Confirmations >= 1 {
				confirmed++
			}
		}
		if confirmed == len(hashes) {
			p.transition(batchID, types.StatusConfirmed)
			return
		}
	}
	p.log.Warn().Str("batch", batchID.String()).Int("attempts", p.cfg.PollAttempts).Msg("confirmation budget exhausted")
	p.transition(batchID, types.StatusPending)
}

// sweep moves every NEP-17 holding of the TEE account to the master
// account, keeping a GAS reserve for fees. Sweep failures never fail the
// publish.
func (p *Publisher) sweep(ctx context.Context) {
	tee := p.chain.TEEScriptHash()
	balances, err := p.chain.TokenBalances(ctx, tee)
	if err != nil {
		p.log.Warn().Err(err).Msg("asset sweep: cannot list balances")
		return
	}
	for _, bal := range balances {
		amount := new(big.Int).Set(bal.Amount)
		if bal.Asset.Equals(gas.Hash) {
			amount.Sub(amount, gasReserve)
		}
		if amount.Sign() <= 0 {
			continue
		}
		b := smartcontract.NewBuilder()
		b.InvokeWithAssert(bal.Asset, "transfer", tee, p.chain.MasterScriptHash(), amount, "TEE to Master transfer")
		script, err := b.Script()
		if err != nil {
			p.log.Warn().Err(err).Str("asset", bal.Asset.StringLE()).Msg("asset sweep: cannot build transfer")
			continue
		}
		hash, err := p.chain.SubmitTEESigned(ctx, script)
		if err != nil {
			p.log.Warn().Err(err).Str("asset", bal.Asset.StringLE()).Msg("asset sweep: transfer failed")
			continue
		}
		p.log.Info().
			Str("asset", bal.Asset.StringLE()).
			Str("amount", amount.String()).
			Str("tx", hash.StringLE()).
			Msg("asset sweep: transfer submitted")
	}
}

// buildUpdateScript assembles the updatePriceBatch invocation with four
// index-aligned arrays.
func (p *Publisher) buildUpdateScript(quotes []types.AggregatedQuote) ([]byte, error) {
	symbols := make([]interface{}, len(quotes))
	prices := make([]interface{}, len(quotes))
	timestamps := make([]interface{}, len(quotes))
	confidences := make([]interface{}, len(quotes))
	for i, q := range quotes {
		symbols[i] = q.Symbol
		prices[i] = p.scalePrice(q)
		timestamps[i] = q.AggregatedAt.Unix()
		confidences[i] = int64(q.Confidence)
	}
	b := smartcontract.NewBuilder()
	b.InvokeMethod(p.chain.ContractHash(), "updatePriceBatch", symbols, prices, timestamps, confidences)
	return b.Script()
}

// scalePrice converts a decimal price to integer satoshi units (×10⁸,
// truncating). Values beyond int64 clamp with a warning instead of
// failing the batch.
func (p *Publisher) scalePrice(q types.AggregatedQuote) *big.Int {
	scaled := q.Price.Mul(priceScale).BigInt()
	if scaled.Cmp(maxScaledPrice) > 0 {
		p.log.Warn().
			Str("symbol", q.Symbol).
			Str("price", q.Price.String()).
			Msg("scaled price overflows int64, clamping")
		return new(big.Int).Set(maxScaledPrice)
	}
	return scaled
}

func (p *Publisher) recordTx(batchID uuid.UUID, hash util.Uint256) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs[batchID] = append(p.txs[batchID], hash)
	info := p.statuses[batchID]
	info.TxHash = hash.StringLE()
	info.Timestamp = time.Now().UTC()
	p.statuses[batchID] = info
}

// setStatus moves a batch to next, keeping progress counters. Transitions
// that would violate the monotonic order are dropped.
func (p *Publisher) setStatus(batchID uuid.UUID, next types.Status, processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.statuses[batchID]
	if !ok {
		info = types.StatusInfo{BatchID: batchID, Status: types.StatusUnknown}
	}
	if info.Status != next && !info.Status.CanTransition(next) {
		p.log.Warn().
			Str("batch", batchID.String()).
			Str("from", info.Status.String()).
			Str("to", next.String()).
			Msg("illegal status transition dropped")
		return
	}
	info.Status = next
	info.Processed = processed
	info.Total = total
	info.Timestamp = time.Now().UTC()
	p.statuses[batchID] = info
}

func (p *Publisher) transition(batchID uuid.UUID, next types.Status) {
	p.mu.Lock()
	info := p.statuses[batchID]
	p.mu.Unlock()
	p.setStatus(batchID, next, info.Processed, info.Total)
}

func (p *Publisher) fail(batchID uuid.UUID) {
	p.transition(batchID, types.StatusFailed)
}
