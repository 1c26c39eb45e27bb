// Package catalog maps canonical trading symbols to the native symbol
// form of each market-data provider. The table is built once from
// configuration and never mutated afterwards.
package catalog

import "sort"

// Provider identifies one upstream market-data source.
type Provider string

// The closed set of providers the feeder ships adapters for.
const (
	Binance       Provider = "Binance"
	CoinGecko     Provider = "CoinGecko"
	Kraken        Provider = "Kraken"
	Coinbase      Provider = "Coinbase"
	CoinMarketCap Provider = "CoinMarketCap"
	OKX           Provider = "OKX"
)

func (p Provider) String() string { return string(p) }

// AllProviders lists every known provider in a stable order.
func AllProviders() []Provider {
	return []Provider{Binance, CoinGecko, Kraken, Coinbase, CoinMarketCap, OKX}
}

// Catalog is an immutable canonical-symbol → provider-symbol lookup table.
// Lookups never fail; an unknown pair simply reports unsupported.
type Catalog struct {
	table map[string]map[Provider]string
}

// New builds a catalog from a mapping table. The input is copied so later
// mutation of the argument cannot leak into the catalog.
func New(table map[string]map[Provider]string) *Catalog {
	c := &Catalog{table: make(map[string]map[Provider]string, len(table))}
	for canonical, perProvider := range table {
		row := make(map[Provider]string, len(perProvider))
		for p, native := range perProvider {
			if native == "" {
				continue
			}
			row[p] = native
		}
		if len(row) > 0 {
			c.table[canonical] = row
		}
	}
	return c
}

// SourceSymbol returns the provider-native symbol for a canonical symbol,
// with ok=false when the provider does not list it.
func (c *Catalog) SourceSymbol(canonical string, p Provider) (string, bool) {
	native, ok := c.table[canonical][p]
	return native, ok
}

// IsSupported reports whether the provider has a native symbol for the
// canonical one.
func (c *Catalog) IsSupported(canonical string, p Provider) bool {
	_, ok := c.table[canonical][p]
	return ok
}

// SupportedSymbols returns the canonical symbols the provider can serve,
// sorted for deterministic iteration.
func (c *Catalog) SupportedSymbols(p Provider) []string {
	var out []string
	for canonical, row := range c.table {
		if _, ok := row[p]; ok {
			out = append(out, canonical)
		}
	}
	sort.Strings(out)
	return out
}

// Default returns the catalog for the symbols the feeder ships with.
// Deployments override it through configuration.
func Default() *Catalog {
	return New(map[string]map[Provider]string{
		"BTCUSDT": {
			Binance:       "BTCUSDT",
			OKX:           "BTC-USDT",
			Kraken:        "XBTUSDT",
			Coinbase:      "BTC:USDT",
			CoinGecko:     "bitcoin:usd",
			CoinMarketCap: "BTC",
		},
		"ETHUSDT": {
			Binance:       "ETHUSDT",
			OKX:           "ETH-USDT",
			Kraken:        "ETHUSDT",
			Coinbase:      "ETH:USDT",
			CoinGecko:     "ethereum:usd",
			CoinMarketCap: "ETH",
		},
		"NEOUSDT": {
			Binance:       "NEOUSDT",
			OKX:           "NEO-USDT",
			Coinbase:      "NEO:USDT",
			CoinGecko:     "neo:usd",
			CoinMarketCap: "NEO",
		},
		"GASUSDT": {
			Binance:       "GASUSDT",
			OKX:           "GAS-USDT",
			CoinGecko:     "gas:usd",
			CoinMarketCap: "GAS",
		},
		"FLMUSDT": {
			Binance:       "FLMUSDT",
			OKX:           "FLM-USDT",
			CoinGecko:     "flamingo-finance:usd",
			CoinMarketCap: "FLM",
		},
		"ETHBTC": {
			Binance:       "ETHBTC",
			OKX:           "ETH-BTC",
			Kraken:        "ETHXBT",
			Coinbase:      "ETH:BTC",
			CoinGecko:     "ethereum:btc",
			CoinMarketCap: "ETH",
		},
		"NEOBTC": {
			Binance:       "NEOBTC",
			CoinGecko:     "neo:btc",
			CoinMarketCap: "NEO",
		},
	})
}
