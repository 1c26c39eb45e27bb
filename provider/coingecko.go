package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/resilience"
	"github.com/neoracle/price-feeder/types"
)

const (
	coingeckoBaseURL    = "https://api.coingecko.com"
	coingeckoProBaseURL = "https://pro-api.coingecko.com"
)

// CoinGecko serves prices from the CoinGecko simple/price endpoint, which
// natively accepts many ids and vs-currencies per call. The adapter works
// without credentials; a pro key switches it to the pro host.
//
// Catalog entries for CoinGecko use the form "<coin-id>:<vs-currency>",
// e.g. "bitcoin:usd" or "neo:btc".
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cat     *catalog.Catalog
	exec    *resilience.Executor
	log     zerolog.Logger
}

// NewCoinGecko builds the CoinGecko adapter.
func NewCoinGecko(cfg Config) *CoinGecko {
	base := cfg.BaseURL
	if base == "" {
		if cfg.APIKey != "" {
			base = coingeckoProBaseURL
		} else {
			base = coingeckoBaseURL
		}
	}
	return &CoinGecko{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  cfg.httpClient(),
		cat:     cfg.Catalog,
		exec:    resilience.New(string(catalog.CoinGecko), cfg.Resilience, cfg.Log),
		log:     cfg.Log.With().Str("module", "provider").Str("provider", string(catalog.CoinGecko)).Logger(),
	}
}

func (g *CoinGecko) Name() string { return string(catalog.CoinGecko) }

func (g *CoinGecko) Enabled() bool { return true }

// splitMapping splits a "<coin-id>:<vs-currency>" catalog entry.
func splitMapping(native string) (id, vs string, err error) {
	parts := strings.SplitN(native, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed catalog entry %q", native)
	}
	return sanitizeID(parts[0]), strings.ToLower(sanitize(parts[1])), nil
}

func (g *CoinGecko) FetchOne(ctx context.Context, symbol string) (types.Quote, error) {
	quotes, err := g.fetch(ctx, []string{symbol})
	if err != nil {
		return types.Quote{}, err
	}
	if len(quotes) == 0 {
		return types.Quote{}, fmt.Errorf("coingecko price %s: missing from response", symbol)
	}
	return quotes[0], nil
}

func (g *CoinGecko) FetchBatch(ctx context.Context, symbols []string) []types.Quote {
	supported := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if g.cat.IsSupported(s, catalog.CoinGecko) {
			supported = append(supported, s)
		} else {
			g.log.Debug().Str("symbol", s).Msg("symbol not supported, skipping")
		}
	}
	if len(supported) == 0 {
		return nil
	}
	quotes, err := g.fetch(ctx, supported)
	if err != nil {
		g.log.Warn().Err(err).Msg("batch fetch failed")
		return nil
	}
	return quotes
}

func (g *CoinGecko) fetch(ctx context.Context, symbols []string) ([]types.Quote, error) {
	type leg struct {
		id, vs string
	}
	legs := make(map[string]leg, len(symbols))
	idSet := make(map[string]struct{})
	vsSet := make(map[string]struct{})
	for _, s := range symbols {
		native, ok := g.cat.SourceSymbol(s, catalog.CoinGecko)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %s", ErrUnsupported, s, g.Name())
		}
		id, vs, err := splitMapping(native)
		if err != nil {
			return nil, fmt.Errorf("coingecko mapping for %s: %w", s, err)
		}
		legs[s] = leg{id: id, vs: vs}
		idSet[id] = struct{}{}
		vsSet[vs] = struct{}{}
	}

	ids := keys(idSet)
	vs := keys(vsSet)
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=%s&include_24hr_vol=true",
		g.baseURL, strings.Join(ids, ","), strings.Join(vs, ","))

	var headers map[string]string
	if g.apiKey != "" {
		headers = map[string]string{"x-cg-pro-api-key": g.apiKey}
	}
	resp := make(map[string]map[string]decimal.Decimal)
	if err := getJSON(ctx, g.client, g.exec, url, headers, &resp); err != nil {
		return nil, fmt.Errorf("coingecko simple/price: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]types.Quote, 0, len(symbols))
	for _, s := range symbols {
		l := legs[s]
		row, ok := resp[l.id]
		if !ok {
			g.log.Warn().Str("symbol", s).Str("id", l.id).Msg("coin missing from response, skipping")
			continue
		}
		price, ok := row[l.vs]
		if !ok || !price.IsPositive() {
			g.log.Warn().Str("symbol", s).Str("vs", l.vs).Msg("price missing or non-positive, skipping")
			continue
		}
		// 24h volume is reported in the vs currency; normalize to base units.
		volume := decimal.Zero
		if quoteVol, ok := row[l.vs+"_24h_vol"]; ok && quoteVol.IsPositive() {
			volume = quoteVol.Div(price)
		}
		q := types.Quote{
			Symbol:     s,
			Price:      price,
			Volume:     volume,
			Provider:   g.Name(),
			ObservedAt: now,
			Meta:       map[string]string{"source_symbol": l.id + ":" + l.vs},
		}
		if err := q.Validate(); err != nil {
			g.log.Warn().Err(err).Str("symbol", s).Msg("invalid quote, skipping")
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
