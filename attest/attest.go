// Package attest writes tamper-evident receipts for identity provisioning
// and for every published price batch. A receipt is pretty-printed JSON
// whose trailing signature is the SHA-256 of the record body concatenated
// with a run-secret triplet, so any byte flip in the body is detectable by
// whoever holds the same secrets.
package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	accountFile  = "account_attestation.json"
	batchSubdir  = "price_feed"
	timeLayout   = "20060102_150405"
	typeAccount  = "account_generation"
	typeBatch    = "price_feed_update"
	dirMode      = 0o700
	fileMode     = 0o600
)

// Secrets is the run-secret triplet mixed into every signature.
type Secrets struct {
	BuildCommit string
	Invoker     string
	Token       string
}

func (s Secrets) suffix() string {
	return strings.Join([]string{s.BuildCommit, s.Invoker, s.Token}, "|")
}

// RunMetadata describes the run that produced a receipt.
type RunMetadata struct {
	BuildCommit string `json:"build_commit,omitempty"`
	Invoker     string `json:"invoker,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// AccountAttestation is the receipt for one identity-provisioning event.
type AccountAttestation struct {
	Type      string      `json:"type"`
	Address   string      `json:"address"`
	CreatedAt time.Time   `json:"created_at"`
	Metadata  RunMetadata `json:"run_metadata"`
	Signature string      `json:"signature"`
}

// PriceSummary is one symbol's entry in a batch receipt.
type PriceSummary struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Confidence int             `json:"confidence"`
}

// BatchAttestation is the receipt for one published sub-batch.
type BatchAttestation struct {
	Type      string         `json:"type"`
	BatchID   uuid.UUID      `json:"batch_id"`
	TxHash    string         `json:"tx_hash"`
	Count     int            `json:"count"`
	Summaries []PriceSummary `json:"price_summaries"`
	CreatedAt time.Time      `json:"timestamp"`
	Metadata  RunMetadata    `json:"run_metadata"`
	Signature string         `json:"signature"`
}

// Service owns the attestation directory tree.
type Service struct {
	baseDir string
	secrets Secrets
	log     zerolog.Logger
	now     func() time.Time
}

// New builds an attestation service rooted at baseDir.
func New(baseDir string, secrets Secrets, log zerolog.Logger) *Service {
	return &Service{
		baseDir: baseDir,
		secrets: secrets,
		log:     log.With().Str("module", "attest").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// defaultMetadata fills run metadata from the secret triplet's non-secret
// halves.
func (s *Service) defaultMetadata() RunMetadata {
	return RunMetadata{BuildCommit: s.secrets.BuildCommit, Invoker: s.secrets.Invoker}
}

// CreateAccount writes the identity receipt with default run metadata.
func (s *Service) CreateAccount(address string) (AccountAttestation, error) {
	return s.CreateAccountWithMetadata(address, s.defaultMetadata())
}

// CreateAccountWithMetadata writes the identity receipt for address.
func (s *Service) CreateAccountWithMetadata(address string, meta RunMetadata) (AccountAttestation, error) {
	rec := AccountAttestation{
		Type:      typeAccount,
		Address:   address,
		CreatedAt: s.now().Truncate(time.Second),
		Metadata:  meta,
	}
	sig, err := s.sign(rec)
	if err != nil {
		return AccountAttestation{}, err
	}
	rec.Signature = sig

	path := filepath.Join(s.baseDir, accountFile)
	if err := s.write(path, rec); err != nil {
		return AccountAttestation{}, err
	}
	s.log.Info().Str("path", path).Msg("account attestation written")
	return rec, nil
}

// CreateBatch writes the receipt for one published sub-batch.
func (s *Service) CreateBatch(batchID uuid.UUID, txHash string, summaries []PriceSummary) (BatchAttestation, error) {
	rec := BatchAttestation{
		Type:      typeBatch,
		BatchID:   batchID,
		TxHash:    txHash,
		Count:     len(summaries),
		Summaries: summaries,
		CreatedAt: s.now().Truncate(time.Second),
		Metadata:  s.defaultMetadata(),
	}
	sig, err := s.sign(rec)
	if err != nil {
		return BatchAttestation{}, err
	}
	rec.Signature = sig

	name := fmt.Sprintf("attestation_%s_%s.json", rec.CreatedAt.Format(timeLayout), batchID)
	path := filepath.Join(s.baseDir, batchSubdir, name)
	if err := s.write(path, rec); err != nil {
		return BatchAttestation{}, err
	}
	s.log.Info().Str("path", path).Int("count", rec.Count).Msg("batch attestation written")
	return rec, nil
}

// VerifyAccount recomputes the signature over the record body.
func (s *Service) VerifyAccount(rec AccountAttestation) bool {
	want := rec.Signature
	rec.Signature = ""
	got, err := s.sign(rec)
	return err == nil && got == want
}

// VerifyBatch recomputes the signature over the record body.
func (s *Service) VerifyBatch(rec BatchAttestation) bool {
	want := rec.Signature
	rec.Signature = ""
	got, err := s.sign(rec)
	return err == nil && got == want
}

// LoadAccount reads the identity receipt back from disk.
func (s *Service) LoadAccount() (AccountAttestation, error) {
	var rec AccountAttestation
	body, err := os.ReadFile(filepath.Join(s.baseDir, accountFile))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return rec, fmt.Errorf("parse account attestation: %w", err)
	}
	return rec, nil
}

// PruneOlderThan removes batch receipts created more than the given number
// of days ago and returns how many were deleted. Per-file failures are
// logged and do not stop the sweep.
func (s *Service) PruneOlderThan(days int) (int, error) {
	dir := filepath.Join(s.baseDir, batchSubdir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attestation dir: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -days)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "attestation_") {
			continue
		}
		created, ok := createdFromName(entry.Name())
		if !ok {
			info, err := entry.Info()
			if err != nil {
				s.log.Warn().Err(err).Str("file", entry.Name()).Msg("cannot stat attestation, skipping")
				continue
			}
			created = info.ModTime()
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("cannot remove attestation")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Int("days", days).Msg("pruned batch attestations")
	}
	return removed, nil
}

// createdFromName parses the timestamp out of
// "attestation_<yyyyMMdd_HHmmss>_<id>.json".
func createdFromName(name string) (time.Time, bool) {
	trimmed := strings.TrimPrefix(name, "attestation_")
	if len(trimmed) < len(timeLayout) {
		return time.Time{}, false
	}
	ts, err := time.Parse(timeLayout, trimmed[:len(timeLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// sign serializes the record with an empty signature field, appends the
// secret triplet and hashes the result.
func (s *Service) sign(rec interface{}) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("serialize attestation: %w", err)
	}
	sum := sha256.Sum256([]byte(string(body) + "|" + s.secrets.suffix()))
	return hex.EncodeToString(sum[:]), nil
}

// write stores a pretty-printed record, creating directories with owner-only
// permissions.
func (s *Service) write(path string, rec interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create attestation dir: %w", err)
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize attestation: %w", err)
	}
	if err := os.WriteFile(path, append(body, '\n'), fileMode); err != nil {
		return fmt.Errorf("write attestation: %w", err)
	}
	return nil
}
