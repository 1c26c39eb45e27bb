package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/resilience"
	"github.com/neoracle/price-feeder/types"
)

const (
	cmcBaseURL = "https://pro-api.coinmarketcap.com"

	// btcLegTTL bounds how stale the cached BTC/USD leg may be when
	// cross-converting *BTC symbols inside one run.
	btcLegTTL = 30 * time.Second
)

// CoinMarketCap quotes everything in USD, so canonical symbols quoted in
// BTC are derived by dividing the base asset's USD price by the BTC/USD
// price. The BTC leg is cached briefly to avoid refetching it for every
// *BTC symbol in a batch. An API key is mandatory; without one the
// adapter reports itself disabled.
type CoinMarketCap struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cat     *catalog.Catalog
	exec    *resilience.Executor
	legs    *gocache.Cache
	log     zerolog.Logger
}

// NewCoinMarketCap builds the CoinMarketCap adapter.
func NewCoinMarketCap(cfg Config) *CoinMarketCap {
	base := cfg.BaseURL
	if base == "" {
		base = cmcBaseURL
	}
	return &CoinMarketCap{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  cfg.httpClient(),
		cat:     cfg.Catalog,
		exec:    resilience.New(string(catalog.CoinMarketCap), cfg.Resilience, cfg.Log),
		legs:    gocache.New(btcLegTTL, time.Minute),
		log:     cfg.Log.With().Str("module", "provider").Str("provider", string(catalog.CoinMarketCap)).Logger(),
	}
}

func (m *CoinMarketCap) Name() string { return string(catalog.CoinMarketCap) }

func (m *CoinMarketCap) Enabled() bool { return m.apiKey != "" }

type cmcResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Quote map[string]struct {
			Price     decimal.Decimal `json:"price"`
			Volume24h decimal.Decimal `json:"volume_24h"`
		} `json:"quote"`
	} `json:"data"`
}

// usdQuote fetches the USD price and 24h USD volume for one base asset.
func (m *CoinMarketCap) usdQuote(ctx context.Context, base string) (price, volume decimal.Decimal, err error) {
	url := fmt.Sprintf("%s/v1/cryptocurrency/quotes/latest?symbol=%s&convert=USD", m.baseURL, sanitize(base))
	headers := map[string]string{"X-CMC_PRO_API_KEY": m.apiKey}
	var resp cmcResponse
	if err := getJSON(ctx, m.client, m.exec, url, headers, &resp); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if resp.Status.ErrorCode != 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("cmc error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}
	entry, ok := resp.Data[base]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("cmc: %s missing from response", base)
	}
	usd, ok := entry.Quote["USD"]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("cmc: no USD quote for %s", base)
	}
	if !usd.Price.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("cmc: non-positive USD price for %s", base)
	}
	return usd.Price, usd.Volume24h, nil
}

// btcLeg returns the BTC/USD price, reusing a recent value when present.
func (m *CoinMarketCap) btcLeg(ctx context.Context) (decimal.Decimal, error) {
	if v, ok := m.legs.Get("BTCUSD"); ok {
		return v.(decimal.Decimal), nil
	}
	price, _, err := m.usdQuote(ctx, "BTC")
	if err != nil {
		return decimal.Zero, fmt.Errorf("btc leg: %w", err)
	}
	m.legs.Set("BTCUSD", price, gocache.DefaultExpiration)
	return price, nil
}

func (m *CoinMarketCap) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	base, ok := m.cat.SourceSymbol(symbol, catalog.CoinMarketCap)
	if !ok {
		return types.Quote{}, fmt.Errorf("%w: %s at %s", ErrUnsupported, symbol, m.Name())
	}

	price, usdVolume, err := m.usdQuote(ctx, base)
	if err != nil {
		return types.Quote{}, fmt.Errorf("cmc quote %s: %w", symbol, err)
	}
	volume := decimal.Zero
	if usdVolume.IsPositive() {
		volume = usdVolume.Div(price)
	}

	meta := map[string]string{"source_symbol": base}
	if strings.HasSuffix(symbol, "BTC") {
		btcUSD, err := m.btcLeg(ctx)
		if err != nil {
			return types.Quote{}, fmt.Errorf("cmc quote %s: %w", symbol, err)
		}
		price = price.Div(btcUSD)
		meta["cross"] = base + "/USD / BTC/USD"
	}

	q := types.Quote{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		Provider:   m.Name(),
		ObservedAt: time.Now().UTC(),
		Meta:       meta,
	}
	if err := q.Validate(); err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

func (m *CoinMarketCap) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	return batchViaSingles(ctx, m, m.cat, symbols, m.log)
}
