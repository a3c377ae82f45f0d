package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/turtacn/secstate/internal/domain/service"
)

var _ service.EventSigner = (*HMACSigner)(nil)

// HMACSigner signs security events with HMAC-SHA256, Base64 encoded.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer for secretKey.
func NewHMACSigner(secretKey string) *HMACSigner {
	return &HMACSigner{key: []byte(secretKey)}
}

// Sign implements service.EventSigner.
func (s *HMACSigner) Sign(payload []byte) (string, error) {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Verify implements service.EventSigner in constant time.
func (s *HMACSigner) Verify(payload []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), got)
}
