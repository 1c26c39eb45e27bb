package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neoracle/price-feeder/catalog"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ORACLE_RPC_ENDPOINT", "http://seed1.neo.org:10332")
	t.Setenv("ORACLE_CONTRACT_HASH", "0xd2a4cff31913016155e38e474a2c06d08be276cf")
	t.Setenv("ORACLE_TEE_WIF", "KxhEDBQyyEFymvfJD96q8stMbJMbZUb6D1PmXqBWZDU2WvbvVs9o")
	t.Setenv("ORACLE_MASTER_WIF", "KzjaqMvqzF1uup6KrTKRxTgjcXE7PbKLRH84e6ckyXDt3fu7afUb")
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ORACLE_SYMBOLS", "BTCUSDT,ETHUSDT , NEOUSDT")
	t.Setenv("ORACLE_MAX_BATCH_SIZE", "25")
	t.Setenv("ORACLE_ASSET_SWEEP", "true")
	t.Setenv("ORACLE_PROVIDERS_BINANCE_API_KEY", "binance-key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT", "NEOUSDT"}, cfg.Symbols)
	require.Equal(t, 25, cfg.MaxBatchSize)
	require.True(t, cfg.AssetSweep)
	require.Equal(t, 7, cfg.RetentionDays)
	require.Equal(t, "binance-key", cfg.Provider("binance").APIKey)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 50, cfg.MaxBatchSize)
	require.False(t, cfg.AssetSweep)
	require.Equal(t, "attestations", cfg.AttestationDir)
	require.Contains(t, cfg.Symbols, "BTCUSDT")
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("ORACLE_RPC_ENDPOINT", "")
	t.Setenv("ORACLE_CONTRACT_HASH", "")
	t.Setenv("ORACLE_TEE_WIF", "")
	t.Setenv("ORACLE_MASTER_WIF", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "feeder.yaml")
	body := `
symbols: [BTCUSDT, ETHBTC]
max_batch_size: 10
providers:
  coinmarketcap:
    api_key: cmc-key
    rps: 0.5
symbol_mappings:
  DOGEUSDT:
    Binance: DOGEUSDT
  BTCUSDT:
    Kraken: XXBTZUSDT
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT", "ETHBTC"}, cfg.Symbols)
	require.Equal(t, 10, cfg.MaxBatchSize)
	require.Equal(t, "cmc-key", cfg.Provider("CoinMarketCap").APIKey)

	cat := cfg.Catalog()
	// New symbol added on top of the defaults.
	require.True(t, cat.IsSupported("DOGEUSDT", catalog.Binance))
	// Existing entry overridden, others untouched.
	native, ok := cat.SourceSymbol("BTCUSDT", catalog.Kraken)
	require.True(t, ok)
	require.Equal(t, "XXBTZUSDT", native)
	require.True(t, cat.IsSupported("BTCUSDT", catalog.Binance))
}

func TestCatalogWithoutOverrides(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.Catalog().IsSupported("BTCUSDT", catalog.OKX))
}
