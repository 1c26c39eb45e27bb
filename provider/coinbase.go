package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/resilience"
	"github.com/neoracle/price-feeder/types"
)

const coinbaseBaseURL = "https://api.coinbase.com"

// Coinbase reads the public exchange-rates endpoint, which returns every
// rate for one base currency per call. No volume data is available there.
//
// Catalog entries for Coinbase use the form "<base>:<quote>", e.g.
// "BTC:USDT".
type Coinbase struct {
	baseURL string
	client  *http.Client
	cat     *catalog.Catalog
	exec    *resilience.Executor
	log     zerolog.Logger
}

// NewCoinbase builds the Coinbase adapter.
func NewCoinbase(cfg Config) *Coinbase {
	base := cfg.BaseURL
	if base == "" {
		base = coinbaseBaseURL
	}
	return &Coinbase{
		baseURL: base,
		client:  cfg.httpClient(),
		cat:     cfg.Catalog,
		exec:    resilience.New(string(catalog.Coinbase), cfg.Resilience, cfg.Log),
		log:     cfg.Log.With().Str("module", "provider").Str("provider", string(catalog.Coinbase)).Logger(),
	}
}

func (c *Coinbase) Name() string { return string(catalog.Coinbase) }

func (c *Coinbase) Enabled() bool { return true }

type coinbaseRates struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

func (c *Coinbase) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	native, ok := c.cat.SourceSymbol(symbol, catalog.Coinbase)
	if !ok {
		return types.Quote{}, fmt.Errorf("%w: %s at %s", ErrUnsupported, symbol, c.Name())
	}
	parts := strings.SplitN(native, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return types.Quote{}, fmt.Errorf("coinbase mapping for %s: malformed catalog entry %q", symbol, native)
	}
	base, quote := sanitize(parts[0]), sanitize(parts[1])

	url := fmt.Sprintf("%s/v2/exchange-rates?currency=%s", c.baseURL, base)
	var resp coinbaseRates
	if err := getJSON(ctx, c.client, c.exec, url, nil, &resp); err != nil {
		return types.Quote{}, fmt.Errorf("coinbase rates %s: %w", symbol, err)
	}

	raw, ok := resp.Data.Rates[quote]
	if !ok {
		return types.Quote{}, fmt.Errorf("coinbase rates %s: no %s rate for %s", symbol, quote, base)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return types.Quote{}, fmt.Errorf("coinbase price for %s: %w", symbol, err)
	}

	q := types.Quote{
		Symbol:     symbol,
		Price:      price,
		Provider:   c.Name(),
		ObservedAt: time.Now().UTC(),
		Meta:       map[string]string{"source_symbol": base + ":" + quote},
	}
	if err := q.Validate(); err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

func (c *Coinbase) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	return batchViaSingles(ctx, c, c.cat, symbols, c.log)
}
