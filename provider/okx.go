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

const okxBaseURL = "https://www.okx.com"

// OKX serves spot tickers from the public OKX v5 market API. No key is
// required, so the adapter is always enabled.
type OKX struct {
	baseURL string
	client  *http.Client
	cat     *catalog.Catalog
	exec    *resilience.Executor
	log     zerolog.Logger
}

// NewOKX builds the OKX adapter.
func NewOKX(cfg Config) *OKX {
	base := cfg.BaseURL
	if base == "" {
		base = okxBaseURL
	}
	return &OKX{
		baseURL: base,
		client:  cfg.httpClient(),
		cat:     cfg.Catalog,
		exec:    resilience.New(string(catalog.OKX), cfg.Resilience, cfg.Log),
		log:     cfg.Log.With().Str("module", "provider").Str("provider", string(catalog.OKX)).Logger(),
	}
}

func (o *OKX) Name() string { return string(catalog.OKX) }

func (o *OKX) Enabled() bool { return true }

type okxResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Vol24h string `json:"vol24h"`
	} `json:"data"`
}

func (o *OKX) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	native, ok := o.cat.SourceSymbol(symbol, catalog.OKX)
	if !ok {
		return types.Quote{}, fmt.Errorf("%w: %s at %s", ErrUnsupported, symbol, o.Name())
	}

	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", o.baseURL, sanitizeID(native))
	var resp okxResponse
	if err := getJSON(ctx, o.client, o.exec, url, nil, &resp); err != nil {
		return types.Quote{}, fmt.Errorf("okx ticker %s: %w", symbol, err)
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return types.Quote{}, fmt.Errorf("okx ticker %s: code=%s msg=%q", symbol, resp.Code, resp.Msg)
	}

	price, err := decimal.NewFromString(resp.Data[0].Last)
	if err != nil {
		return types.Quote{}, fmt.Errorf("okx price for %s: %w", symbol, err)
	}
	volume, err := decimal.NewFromString(resp.Data[0].Vol24h)
	if err != nil {
		volume = decimal.Zero
	}

	q := types.Quote{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		Provider:   o.Name(),
		ObservedAt: time.Now().UTC(),
		Meta:       map[string]string{"source_symbol": native},
	}
	if err := q.Validate(); err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

func (o *OKX) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	return batchViaSingles(ctx, o, o.cat, symbols, o.log)
}
