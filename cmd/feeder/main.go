// feeder runs one harvest-aggregate-publish cycle against the configured
// Neo N3 oracle contract and exits. Scheduling recurring runs is the
// operator's business (cron, systemd timers).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/neoracle/price-feeder/aggregate"
	"github.com/neoracle/price-feeder/attest"
	"github.com/neoracle/price-feeder/catalog"
	"github.com/neoracle/price-feeder/chain"
	"github.com/neoracle/price-feeder/config"
	"github.com/neoracle/price-feeder/internal/logx"
	"github.com/neoracle/price-feeder/oracle"
	"github.com/neoracle/price-feeder/provider"
	"github.com/neoracle/price-feeder/publish"
	"github.com/neoracle/price-feeder/resilience"
)

func main() {
	app := &cli.App{
		Name:  "feeder",
		Usage: "harvest market prices and publish them to a Neo N3 oracle contract",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file (environment variables still apply)",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "feeder:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log := logx.New(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpc, err := rpcclient.New(ctx, cfg.RPCEndpoint, rpcclient.Options{})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.RPCEndpoint, err)
	}
	defer rpc.Close()
	if err := rpc.Init(); err != nil {
		return fmt.Errorf("initialize RPC client: %w", err)
	}

	chainClient, err := chain.New(rpc, cfg.TEEWIF, cfg.MasterWIF, cfg.ContractHash, log)
	if err != nil {
		return err
	}

	attestor := attest.New(cfg.AttestationDir, attest.Secrets{
		BuildCommit: cfg.BuildCommit,
		Invoker:     cfg.Invoker,
		Token:       cfg.RunToken,
	}, log)

	publisher := publish.New(chainClient, attestor, publish.Config{
		MaxBatchSize: cfg.MaxBatchSize,
		SweepAssets:  cfg.AssetSweep,
	}, log)

	runner := oracle.New(
		buildAdapters(cfg, log),
		aggregate.New(log),
		publisher,
		attestor,
		oracle.Config{Symbols: cfg.Symbols, RetentionDays: cfg.RetentionDays},
		log,
	)
	return runner.Run(ctx)
}

// buildAdapters instantiates every known adapter with its configured
// credentials and limits. Adapters missing required credentials stay in
// the list but report themselves disabled.
func buildAdapters(cfg *config.Config, log zerolog.Logger) []provider.Adapter {
	cat := cfg.Catalog()
	mk := func(name string) provider.Config {
		p := cfg.Provider(name)
		return provider.Config{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Resilience: resilience.Config{
				Timeout: p.Timeout,
				RPS:     p.RPS,
				Burst:   p.Burst,
			},
			Catalog: cat,
			Log:     log,
		}
	}
	return []provider.Adapter{
		provider.NewBinance(mk(string(catalog.Binance))),
		provider.NewCoinGecko(mk(string(catalog.CoinGecko))),
		provider.NewKraken(mk(string(catalog.Kraken))),
		provider.NewCoinbase(mk(string(catalog.Coinbase))),
		provider.NewCoinMarketCap(mk(string(catalog.CoinMarketCap))),
		provider.NewOKX(mk(string(catalog.OKX))),
	}
}
