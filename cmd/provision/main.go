// provision manages the feeder's TEE identity: key generation plus
// creation and verification of the signed attestation records.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/neoracle/price-feeder/attest"
	"github.com/neoracle/price-feeder/identity"
	"github.com/neoracle/price-feeder/internal/logx"
)

func main() {
	app := &cli.App{
		Name:  "provision",
		Usage: "generate and attest the feeder's signing identity",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "attestation-dir",
				Value: "attestations",
				Usage: "directory holding attestation records",
			},
			&cli.StringFlag{
				Name:    "build-commit",
				EnvVars: []string{"ORACLE_BUILD_COMMIT"},
				Usage:   "build commit mixed into attestation signatures",
			},
			&cli.StringFlag{
				Name:    "invoker",
				EnvVars: []string{"ORACLE_INVOKER"},
				Usage:   "invoker identity mixed into attestation signatures",
			},
			&cli.StringFlag{
				Name:    "token",
				EnvVars: []string{"ORACLE_RUN_TOKEN"},
				Usage:   "shared secret mixed into attestation signatures",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "generate-key",
				Usage: "generate a new key pair, write the key file and attest the address",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Required: true,
						Usage:    "path for the key file (owner-only permissions)",
					},
				},
				Action: generateKey,
			},
			{
				Name:  "create-attestation",
				Usage: "write an account attestation for an existing address",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Required: true},
				},
				Action: createAttestation,
			},
			{
				Name:  "verify-attestation",
				Usage: "verify the stored account attestation, or a specific record file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "verify this batch attestation instead of the account record",
					},
				},
				Action: verifyAttestation,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "provision:", err)
		os.Exit(1)
	}
}

func attestor(c *cli.Context) *attest.Service {
	log := logx.New(os.Stderr, c.String("log-level"))
	return attest.New(c.String("attestation-dir"), attest.Secrets{
		BuildCommit: c.String("build-commit"),
		Invoker:     c.String("invoker"),
		Token:       c.String("token"),
	}, log)
}

func generateKey(c *cli.Context) error {
	log := logx.New(os.Stderr, c.String("log-level"))
	p := identity.New(attestor(c), log)
	acc, err := p.Generate(c.String("out"))
	if err != nil {
		return err
	}
	fmt.Printf("Address: %s\nKey file: %s\n", acc.Address, acc.Path)
	return nil
}

func createAttestation(c *cli.Context) error {
	rec, err := attestor(c).CreateAccount(c.String("address"))
	if err != nil {
		return err
	}
	fmt.Printf("Attested %s (signature %s)\n", rec.Address, rec.Signature)
	return nil
}

func verifyAttestation(c *cli.Context) error {
	s := attestor(c)
	if file := c.String("file"); file != "" {
		body, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		var rec attest.BatchAttestation
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("parse %s: %w", file, err)
		}
		if !s.VerifyBatch(rec) {
			return fmt.Errorf("%s: signature mismatch", file)
		}
		fmt.Printf("%s: OK (batch %s, %d prices)\n", file, rec.BatchID, rec.Count)
		return nil
	}

	rec, err := s.LoadAccount()
	if err != nil {
		return err
	}
	if !s.VerifyAccount(rec) {
		return errors.New("account attestation: signature mismatch")
	}
	fmt.Printf("account attestation: OK (%s)\n", rec.Address)
	return nil
}
