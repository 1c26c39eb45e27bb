package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/resilience"
	"github.com/neoracle/price-feeder/types"
)

const binanceBaseURL = "https://api.binance.com"

// Binance serves spot tickers from the Binance REST API. The adapter is
// only enabled when an API key is configured; the key is attached as the
// X-MBX-APIKEY header on every request.
type Binance struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cat     *catalog.Catalog
	exec    *resilience.Executor
	log     zerolog.Logger
}

// NewBinance builds the Binance adapter.
func NewBinance(cfg Config) *Binance {
	base := cfg.BaseURL
	if base == "" {
		base = binanceBaseURL
	}
	return &Binance{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  cfg.httpClient(),
		cat:     cfg.Catalog,
		exec:    resilience.New(string(catalog.Binance), cfg.Resilience, cfg.Log),
		log:     cfg.Log.With().Str("module", "provider").Str("provider", string(catalog.Binance)).Logger(),
	}
}

func (b *Binance) Name() string { return string(catalog.Binance) }

func (b *Binance) Enabled() bool { return b.apiKey != "" }

type binanceTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
}

func (b *Binance) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	native, ok := b.cat.SourceSymbol(symbol, catalog.Binance)
	if !ok {
		return types.Quote{}, fmt.Errorf("%w: %s at %s", ErrUnsupported, symbol, b.Name())
	}

	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", b.baseURL, sanitize(native))
	var ticker binanceTicker
	headers := map[string]string{"X-MBX-APIKEY": b.apiKey}
	if err := getJSON(ctx, b.client, b.exec, url, headers, &ticker); err != nil {
		return types.Quote{}, fmt.Errorf("binance ticker %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		return types.Quote{}, fmt.Errorf("binance price for %s: %w", symbol, err)
	}
	volume, err := decimal.NewFromString(ticker.Volume)
	if err != nil {
		volume = decimal.Zero
	}

	q := types.Quote{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		Provider:   b.Name(),
		ObservedAt: time.Now().UTC(),
		Meta:       map[string]string{"source_symbol": native},
	}
	if err := q.Validate(); err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

func (b *Binance) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	return batchViaSingles(ctx, b, b.cat, symbols, b.log)
}
