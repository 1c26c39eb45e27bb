// Package chain owns all Neo N3 interaction: transaction building, dual
// signing and submission, confirmation polling and NEP-17 balance queries.
// It wraps the neo-go RPC client behind a narrow interface so the
// publisher and tests never touch the transport directly.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RPC is the slice of the neo-go RPC surface the client needs. The
// concrete *rpcclient.Client satisfies it; tests plug in a fake.
type RPC interface {
	actor.RPCActor
	GetNEP17Balances(acc util.Uint160) (*result.NEP17Balances, error)
	GetRawTransactionVerbose(hash util.Uint256) (*result.TransactionOutputRaw, error)
}

// Protocol is the subset of chain parameters the feeder cares about,
// copied from getversion on first use.
type Protocol struct {
	Magic          netmode.Magic
	AddressVersion byte
}

// TokenBalance is one NEP-17 holding in raw token units.
type TokenBalance struct {
	Asset  util.Uint160
	Amount *big.Int
}

// Client is the feeder's chain gateway. Keys are loaded once at
// construction and only ever used for signing; they are never logged.
type Client struct {
	rpc      RPC
	tee      *wallet.Account
	master   *wallet.Account
	contract util.Uint160
	log      zerolog.Logger

	sf    singleflight.Group
	proto atomic.Pointer[Protocol]
}

// New builds a client from the two WIFs and the oracle contract hash
// ("0x"-prefixed or bare little-endian hex).
func New(rpc RPC, teeWIF, masterWIF, contractHash string, log zerolog.Logger) (*Client, error) {
	tee, err := wallet.NewAccountFromWIF(teeWIF)
	if err != nil {
		return nil, fmt.Errorf("parse TEE key: %w", err)
	}
	master, err := wallet.NewAccountFromWIF(masterWIF)
	if err != nil {
		return nil, fmt.Errorf("parse master key: %w", err)
	}
	contract, err := util.Uint160DecodeStringLE(strings.TrimPrefix(contractHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse oracle contract hash: %w", err)
	}
	return &Client{
		rpc:      rpc,
		tee:      tee,
		master:   master,
		contract: contract,
		log:      log.With().Str("module", "chain").Logger(),
	}, nil
}

// ContractHash returns the oracle contract script hash.
func (c *Client) ContractHash() util.Uint160 { return c.contract }

// TEEAddress returns the TEE account address.
func (c *Client) TEEAddress() string { return c.tee.Address }

// TEEScriptHash returns the TEE account script hash.
func (c *Client) TEEScriptHash() util.Uint160 { return c.tee.ScriptHash() }

// MasterScriptHash returns the master account script hash.
func (c *Client) MasterScriptHash() util.Uint160 { return c.master.ScriptHash() }

// ProtocolSettings returns the chain parameters, querying getversion at
// most once per process; concurrent callers share one flight.
func (c *Client) ProtocolSettings(ctx context.Context) (Protocol, error) {
	if p := c.proto.Load(); p != nil {
		return *p, nil
	}
	v, err, _ := c.sf.Do("getversion", func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		version, err := c.rpc.GetVersion()
		if err != nil {
			return nil, fmt.Errorf("getversion: %w", err)
		}
		p := &Protocol{
			Magic:          version.Protocol.Network,
			AddressVersion: version.Protocol.AddressVersion,
		}
		c.proto.Store(p)
		c.log.Debug().Uint32("magic", uint32(p.Magic)).Msg("protocol settings initialized")
		return p, nil
	})
	if err != nil {
		return Protocol{}, err
	}
	return *(v.(*Protocol)), nil
}

// SubmitDualSigned submits a script carrying both witnesses: the master
// account is the sender (it pays the fees), the TEE account countersigns
// as the authenticity witness. Both signers use called-by-entry scope.
func (c *Client) SubmitDualSigned(ctx context.Context, script []byte) (util.Uint256, error) {
	return c.submit(ctx, script, []*wallet.Account{c.master, c.tee})
}

// SubmitTEESigned submits a script signed by the TEE account alone; used
// for the asset sweep, where the TEE pays its own fee from the reserve.
func (c *Client) SubmitTEESigned(ctx context.Context, script []byte) (util.Uint256, error) {
	return c.submit(ctx, script, []*wallet.Account{c.tee})
}

func (c *Client) submit(ctx context.Context, script []byte, accounts []*wallet.Account) (util.Uint256, error) {
	if err := ctx.Err(); err != nil {
		return util.Uint256{}, err
	}
	if _, err := c.ProtocolSettings(ctx); err != nil {
		return util.Uint256{}, err
	}

	signers := make([]actor.SignerAccount, len(accounts))
	for i, acc := range accounts {
		signers[i] = actor.SignerAccount{
			Signer: transaction.Signer{
				Account: acc.ScriptHash(),
				Scopes:  transaction.CalledByEntry,
			},
			Account: acc,
		}
	}
	act, err := actor.New(c.rpc, signers)
	if err != nil {
		return util.Uint256{}, fmt.Errorf("create transaction actor: %w", err)
	}
	tx, err := act.MakeRun(script)
	if err != nil {
		return util.Uint256{}, fmt.Errorf("build transaction: %w", err)
	}
	hash, vub, err := act.Send(tx)
	if err != nil {
		return util.Uint256{}, fmt.Errorf("send transaction: %w", err)
	}
	c.log.Info().
		Str("tx", hash.StringLE()).
		Uint32("valid_until", vub).
		Int("signers", len(accounts)).
		Msg("transaction submitted")
	return hash, nil
}

// TxStatus is the on-chain view of a submitted transaction.
type TxStatus struct {
	Confirmations int
	VMState       string
}

// TransactionStatus returns the confirmation count and VM state for a
// transaction; a mempool transaction reports zero confirmations.
func (c *Client) TransactionStatus(ctx context.Context, hash util.Uint256) (TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return TxStatus{}, err
	}
	tx, err := c.rpc.GetRawTransactionVerbose(hash)
	if err != nil {
		return TxStatus{}, fmt.Errorf("getrawtransaction %s: %w", hash.StringLE(), err)
	}
	return TxStatus{Confirmations: tx.Confirmations, VMState: tx.VMState}, nil
}

// TokenBalances lists the account's non-zero NEP-17 holdings.
func (c *Client) TokenBalances(ctx context.Context, account util.Uint160) ([]TokenBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.rpc.GetNEP17Balances(account)
	if err != nil {
		return nil, fmt.Errorf("getnep17balances: %w", err)
	}
	out := make([]TokenBalance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		amount, ok := new(big.Int).SetString(b.Amount, 10)
		if !ok {
			c.log.Warn().Str("asset", b.Asset.StringLE()).Str("amount", b.Amount).Msg("unparseable balance, skipping")
			continue
		}
		if amount.Sign() <= 0 {
			continue
		}
		out = append(out, TokenBalance{Asset: b.Asset, Amount: amount})
	}
	return out, nil
}
