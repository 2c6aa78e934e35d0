package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// SignatureHeader carries the hex HMAC of a response body.
	SignatureHeader = "X-Signature"
	// VerdictSignatureHeader carries SignVerdict of the returned verdict.
	VerdictSignatureHeader = "X-Verdict-Signature"
)

var ErrInvalidSignature = errors.New("invalid signature")

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

// NewSigner returns nil for an empty secret. A nil *Signer is valid and
// signs nothing.
func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if secretKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Enabled() bool {
	return s != nil
}

func (s *Signer) Sign(data []byte) string {
	if s == nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(data []byte, signature string) error {
	if s == nil {
		return nil
	}
	expected := s.Sign(data)

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		s.logger.Warn("Signature verification failed", slog.Int("body_bytes", len(data)))
		return ErrInvalidSignature
	}
	return nil
}

// SignVerdict binds the verdict identity and outcome, independent of JSON
// formatting.
func (s *Signer) SignVerdict(eventID, label string, finalScore float64) string {
	return s.Sign([]byte(fmt.Sprintf("%s:%s:%.2f", eventID, label, finalScore)))
}
