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

const krakenBaseURL = "https://api.kraken.com"

// Kraken serves spot tickers from the public Kraken REST API. The Ticker
// endpoint accepts a comma-separated pair list, so batch requests go out
// as a single call. Kraken's public rate limit is tight (1 rps by
// default in the feeder config).
type Kraken struct {
	baseURL string
	client  *http.Client
	cat     *catalog.Catalog
	exec    *resilience.Executor
	log     zerolog.Logger
}

// NewKraken builds the Kraken adapter.
func NewKraken(cfg Config) *Kraken {
	base := cfg.BaseURL
	if base == "" {
		base = krakenBaseURL
	}
	return &Kraken{
		baseURL: base,
		client:  cfg.httpClient(),
		cat:     cfg.Catalog,
		exec:    resilience.New(string(catalog.Kraken), cfg.Resilience, cfg.Log),
		log:     cfg.Log.With().Str("module", "provider").Str("provider", string(catalog.Kraken)).Logger(),
	}
}

func (k *Kraken) Name() string { return string(catalog.Kraken) }

func (k *Kraken) Enabled() bool { return true }

type krakenTicker struct {
	Close  []string `json:"c"` // [price, lot volume]
	Volume []string `json:"v"` // [today, last 24h]
}

type krakenResponse struct {
	Error  []string                `json:"error"`
	Result map[string]krakenTicker `json:"result"`
}

func (k *Kraken) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	quotes, err := k.fetch(ctx, []string{symbol})
	if err != nil {
		return types.Quote{}, err
	}
	if len(quotes) == 0 {
		return types.Quote{}, fmt.Errorf("kraken ticker %s: pair missing from response", symbol)
	}
	return quotes[0], nil
}

func (k *Kraken) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	supported := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if k.cat.IsSupported(s, catalog.Kraken) {
			supported = append(supported, s)
		} else {
			k.log.Debug().Str("symbol", s).Msg("symbol not supported, skipping")
		}
	}
	if len(supported) == 0 {
		return nil
	}
	quotes, err := k.fetch(ctx, supported)
	if err != nil {
		k.log.Warn().Err(err).Msg("batch fetch failed")
		return nil
	}
	return quotes
}

// fetch issues one Ticker call for the given canonical symbols, which must
// all be supported.
func (k *Kraken) fetch(ctx context.Context, symbols []string) ([]types.Quote, error) {
	natives := make([]string, 0, len(symbols))
	byNative := make(map[string]string, len(symbols))
	for _, s := range symbols {
		native, ok := k.cat.SourceSymbol(s, catalog.Kraken)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %s", ErrUnsupported, s, k.Name())
		}
		native = sanitize(native)
		natives = append(natives, native)
		byNative[native] = s
	}

	url := fmt.Sprintf("%s/0/public/Ticker?pair=%s", k.baseURL, strings.Join(natives, ","))
	var resp krakenResponse
	if err := getJSON(ctx, k.client, k.exec, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("kraken ticker: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("kraken ticker: %s", strings.Join(resp.Error, "; "))
	}

	now := time.Now().UTC()
	quotes := make([]types.Quote, 0, len(resp.Result))
	for pair, ticker := range resp.Result {
		canonical, ok := byNative[pair]
		if !ok {
			k.log.Debug().Str("pair", pair).Msg("unrequested pair in response, skipping")
			continue
		}
		if len(ticker.Close) == 0 {
			k.log.Warn().Str("pair", pair).Msg("ticker has no close price, skipping")
			continue
		}
		price, err := decimal.NewFromString(ticker.Close[0])
		if err != nil {
			k.log.Warn().Err(err).Str("pair", pair).Msg("bad close price, skipping")
			continue
		}
		volume := decimal.Zero
		if len(ticker.Volume) > 1 {
			if v, err := decimal.NewFromString(ticker.Volume[1]); err == nil {
				volume = v
			}
		}
		q := types.Quote{
			Symbol:     canonical,
			Price:      price,
			Volume:     volume,
			Provider:   k.Name(),
			ObservedAt: now,
			Meta:       map[string]string{"source_symbol": pair},
		}
		if err := q.Validate(); err != nil {
			k.log.Warn().Err(err).Str("pair", pair).Msg("invalid quote, skipping")
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}
