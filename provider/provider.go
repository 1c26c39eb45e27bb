// Package provider contains the market-data adapters. Each adapter turns a
// list of canonical symbols into normalized quotes for one upstream
// provider, going through the shared resilience policy chain for every
// HTTP call.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/resilience"
	"github.com/neoracle/price-feeder/types"
)

// ErrUnsupported is returned by FetchOne when the provider has no native
// symbol for the requested canonical one.
var ErrUnsupported = errors.New("symbol not supported by provider")

// maxResponseBody bounds how much of a provider response is read.
const maxResponseBody = 4 << 20

// Adapter is the capability set every provider adapter implements. The set
// of adapters is open: anything satisfying this interface can join the
// fan-out.
type Adapter interface {
	// Name returns the stable provider name.
	Name() string
	// Enabled reports whether the adapter has the credentials and
	// endpoints it needs to serve requests.
	Enabled() bool
	// FetchOne fetches the current quote for one canonical symbol.
	FetchOne(ctx context.Context, symbol string) (types.Quote, error)
	// FetchBatch fetches quotes for many canonical symbols, skipping
	// unsupported ones and tolerating per-symbol failures. The result is
	// best-effort and may be shorter than the request.
	FetchBatch(ctx context.Context, symbols []string) []types.Quote
}

// Config carries the knobs shared by all adapters. BaseURL overrides the
// provider's public endpoint (tests point it at a local server), APIKey is
// only meaningful for adapters that use one.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Resilience resilience.Config
	Catalog    *catalog.Catalog
	Log        zerolog.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// getJSON performs one GET through the resilience chain and decodes the
// JSON payload into out.
func getJSON(ctx context.Context, client *http.Client, exec *resilience.Executor, url string, headers map[string]string, out interface{}) error {
	return exec.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck
			return &resilience.StatusError{Code: resp.StatusCode, URL: url}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
		return nil
	})
}

// sanitize strips everything but alphanumerics from a symbol before it is
// interpolated into a URL path or query string.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return -1
	}, s)
}

// sanitizeID is sanitize but keeps '-', for providers whose native
// identifiers legitimately contain one (OKX instruments, CoinGecko ids).
func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return -1
	}, s)
}

// batchViaSingles implements FetchBatch for providers without a native
// batch endpoint: filter unsupported symbols, fan out individual calls,
// log per-symbol failures and return the quotes that succeeded.
func batchViaSingles(ctx context.Context, a Adapter, cat *catalog.Catalog, symbols []string, log zerolog.Logger) []types.Quote {
	p := catalog.Provider(a.Name())
	quotes := make([]types.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		if !cat.IsSupported(symbol, p) {
			log.Debug().Str("symbol", symbol).Msg("symbol not supported, skipping")
			continue
		}
		q, err := a.FetchOne(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("fetch failed, skipping symbol")
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes
}
