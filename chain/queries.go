package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/unwrap"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// The read-only oracle contract surface. These are observability helpers
// for health checks and integration tests; the publish path never depends
// on them.

// PriceData mirrors the contract's getPriceData return value.
type PriceData struct {
	Price      *big.Int
	Timestamp  *big.Int
	Confidence *big.Int
}

func (c *Client) invoker() *invoker.Invoker {
	return invoker.New(c.rpc, nil)
}

// GetPrice test-invokes getPrice(symbol) on the oracle contract.
func (c *Client) GetPrice(ctx context.Context, symbol string) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return unwrap.BigInt(c.invoker().Call(c.contract, "getPrice", symbol))
}

// GetPriceData test-invokes getPriceData(symbol) on the oracle contract.
func (c *Client) GetPriceData(ctx context.Context, symbol string) (PriceData, error) {
	if err := ctx.Err(); err != nil {
		return PriceData{}, err
	}
	items, err := unwrap.Array(c.invoker().Call(c.contract, "getPriceData", symbol))
	if err != nil {
		return PriceData{}, fmt.Errorf("getPriceData %s: %w", symbol, err)
	}
	if len(items) < 3 {
		return PriceData{}, fmt.Errorf("getPriceData %s: want 3 fields, got %d", symbol, len(items))
	}
	var out PriceData
	if out.Price, err = items[0].TryInteger(); err != nil {
		return PriceData{}, fmt.Errorf("getPriceData %s price: %w", symbol, err)
	}
	if out.Timestamp, err = items[1].TryInteger(); err != nil {
		return PriceData{}, fmt.Errorf("getPriceData %s timestamp: %w", symbol, err)
	}
	if out.Confidence, err = items[2].TryInteger(); err != nil {
		return PriceData{}, fmt.Errorf("getPriceData %s confidence: %w", symbol, err)
	}
	return out, nil
}

// IsPaused test-invokes isPaused() on the oracle contract.
func (c *Client) IsPaused(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return unwrap.Bool(c.invoker().Call(c.contract, "isPaused"))
}

// GetOwner test-invokes getOwner() on the oracle contract.
func (c *Client) GetOwner(ctx context.Context) (util.Uint160, error) {
	if err := ctx.Err(); err != nil {
		return util.Uint160{}, err
	}
	return unwrap.Uint160(c.invoker().Call(c.contract, "getOwner"))
}

// IsOracle test-invokes isOracle(addr) on the oracle contract.
func (c *Client) IsOracle(ctx context.Context, addr util.Uint160) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return unwrap.Bool(c.invoker().Call(c.contract, "isOracle", addr))
}
