// Package config loads the feeder's runtime inputs once at startup: chain
// endpoints and keys, provider credentials and limits, the canonical
// symbol list and mapping overrides, and attestation settings. Values come
// from an optional YAML file overlaid with ORACLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/neoracle/price-feeder/catalog"
)

var validate = validator.New()

// ErrNoSymbols is returned when the canonical symbol list is empty.
var ErrNoSymbols = errors.New("no canonical symbols configured")

// Provider tunes one adapter: credentials plus its resilience knobs.
type Provider struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

// Config is the full runtime configuration of one feeder run.
type Config struct {
	RPCEndpoint  string `mapstructure:"rpc_endpoint" validate:"required,url"`
	ContractHash string `mapstructure:"contract_hash" validate:"required"`
	TEEWIF       string `mapstructure:"tee_wif" validate:"required"`
	MasterWIF    string `mapstructure:"master_wif" validate:"required"`

	Symbols      []string `mapstructure:"symbols" validate:"min=1,dive,required,uppercase"`
	MaxBatchSize int      `mapstructure:"max_batch_size" validate:"min=1"`
	AssetSweep   bool     `mapstructure:"asset_sweep"`

	AttestationDir  string `mapstructure:"attestation_dir" validate:"required"`
	RetentionDays   int    `mapstructure:"retention_days" validate:"min=1"`
	BuildCommit     string `mapstructure:"build_commit"`
	Invoker         string `mapstructure:"invoker"`
	RunToken        string `mapstructure:"run_token"`

	LogLevel string `mapstructure:"log_level"`

	Providers map[string]Provider `mapstructure:"providers"`

	// SymbolMappings overrides or extends the built-in catalog:
	// canonical symbol → provider name → native symbol.
	SymbolMappings map[string]map[string]string `mapstructure:"symbol_mappings"`
}

// envKeys are the flat settings that may arrive via ORACLE_* environment
// variables without a config file present.
var envKeys = []string{
	"rpc_endpoint", "contract_hash", "tee_wif", "master_wif",
	"max_batch_size", "asset_sweep", "attestation_dir", "retention_days",
	"build_commit", "invoker", "run_token", "log_level", "symbols",
	"providers.binance.api_key", "providers.coinmarketcap.api_key",
	"providers.coingecko.api_key",
}

// Load reads configuration from path (optional, "" skips the file) plus
// the environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		v.MustBindEnv(key)
	}

	v.SetDefault("max_batch_size", 50)
	v.SetDefault("asset_sweep", false)
	v.SetDefault("attestation_dir", "attestations")
	v.SetDefault("retention_days", 7)
	v.SetDefault("log_level", "info")
	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT", "NEOUSDT", "GASUSDT"})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Symbols = normalizeSymbols(cfg.Symbols)
	if len(cfg.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// normalizeSymbols flattens comma-separated entries (the env form), trims
// whitespace and uppercases everything.
func normalizeSymbols(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, s := range strings.Split(entry, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
	}
	return out
}

// Provider returns the named provider's settings; the zero value when
// absent. Lookup is case-insensitive.
func (c *Config) Provider(name string) Provider {
	if p, ok := c.Providers[name]; ok {
		return p
	}
	return c.Providers[strings.ToLower(name)]
}

// Catalog materializes the symbol catalog: the built-in table with any
// configured overrides applied on top.
func (c *Config) Catalog() *catalog.Catalog {
	if len(c.SymbolMappings) == 0 {
		return catalog.Default()
	}
	merged := make(map[string]map[catalog.Provider]string)
	for _, p := range catalog.AllProviders() {
		for _, symbol := range catalog.Default().SupportedSymbols(p) {
			native, _ := catalog.Default().SourceSymbol(symbol, p)
			row, ok := merged[symbol]
			if !ok {
				row = make(map[catalog.Provider]string)
				merged[symbol] = row
			}
			row[p] = native
		}
	}
	for symbol, perProvider := range c.SymbolMappings {
		symbol = strings.ToUpper(symbol)
		row, ok := merged[symbol]
		if !ok {
			row = make(map[catalog.Provider]string)
			merged[symbol] = row
		}
		for name, native := range perProvider {
			row[catalog.Provider(name)] = native
		}
	}
	return catalog.New(merged)
}
