package crypto

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/turtacn/secstate/internal/domain/service"
	secerrors "github.com/turtacn/secstate/pkg/errors"
)

var _ service.Hasher = SHA256Hasher{}

// SHA256Hasher hashes the JSON encoding of the ordered values, so component
// boundaries are unambiguous. The result is lower-case hex.
type SHA256Hasher struct{}

// Hash implements service.Hasher.
func (SHA256Hasher) Hash(ctx context.Context, values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return "", secerrors.ErrCrypto("failed to encode hash input").WithCause(err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
