// Package identity provisions the TEE signing account: a fresh Neo N3 key
// pair written to disk with owner-only permissions, plus a signed
// attestation of the event. The WIF never reaches a log line.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/rs/zerolog"

	"github.com/neoracle/price-feeder/attest"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// Account is the provisioning result handed back to the caller. The WIF
// is included so the caller can load it into its secret store; it is the
// caller's job not to persist it anywhere else.
type Account struct {
	Address string
	WIF     string
	Path    string
}

// Attestor writes the receipt for a provisioning event.
type Attestor interface {
	CreateAccount(address string) (attest.AccountAttestation, error)
}

// Provisioner generates and records TEE accounts.
type Provisioner struct {
	attestor Attestor
	log      zerolog.Logger
}

// New builds a provisioner.
func New(attestor Attestor, log zerolog.Logger) *Provisioner {
	return &Provisioner{
		attestor: attestor,
		log:      log.With().Str("module", "identity").Logger(),
	}
}

// Generate creates a new key pair, writes the key file to path and
// attests the new address. The key file holds the address and the WIF,
// readable by the owner only.
func (p *Provisioner) Generate(path string) (Account, error) {
	key, err := keys.NewPrivateKey()
	if err != nil {
		return Account{}, fmt.Errorf("generate private key: %w", err)
	}
	acc := Account{
		Address: key.Address(),
		WIF:     key.WIF(),
		Path:    path,
	}

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return Account{}, fmt.Errorf("create key dir: %w", err)
	}
	body := fmt.Sprintf("Address: %s\nWIF: %s\n", acc.Address, acc.WIF)
	if err := os.WriteFile(path, []byte(body), fileMode); err != nil {
		return Account{}, fmt.Errorf("write key file: %w", err)
	}

	if _, err := p.attestor.CreateAccount(acc.Address); err != nil {
		return Account{}, fmt.Errorf("attest account: %w", err)
	}
	p.log.Info().Str("address", acc.Address).Str("path", path).Msg("account provisioned")
	return acc, nil
}
