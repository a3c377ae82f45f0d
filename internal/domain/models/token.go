package models

import (
	"encoding/json"
	"time"
)

// TokenData is the access/refresh credential pair owned by the token vault.
// ExpiresAt is the authoritative expiry; the pair is valid iff now < ExpiresAt.
type TokenData struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type tokenDataJSON struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// MarshalJSON encodes ExpiresAt as Unix milliseconds.
func (t TokenData) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenDataJSON{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes the wire and at-rest shape.
func (t *TokenData) UnmarshalJSON(data []byte) error {
	var raw tokenDataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.AccessToken = raw.AccessToken
	t.RefreshToken = raw.RefreshToken
	t.ExpiresAt = time.UnixMilli(raw.ExpiresAt)
	return nil
}

// IsExpired reports whether the pair has expired at now.
func (t *TokenData) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TimeToExpiry returns the remaining lifetime at now, never negative.
func (t *TokenData) TimeToExpiry(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
