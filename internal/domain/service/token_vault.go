package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/repository"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// TokenVault owns the persisted token pair. The entry is encrypted with the
// configured Cipher and refreshed transparently once it expires.
//
// Token lifecycle: Absent -> Valid -> Expired -> Refreshing -> Valid, or
// Refreshing -> Absent when the server refuses the credential. A transient
// failure leaves the pair Expired.
type TokenVault struct {
	mu      sync.Mutex
	store   repository.KVStore
	cipher  Cipher
	client  SessionClient
	events  *EventLog
	clock   Clock
	metrics Metrics
	logger  logger.Logger
	sf      singleflight.Group

	refreshTimeout time.Duration
}

// TokenVaultOption configures a TokenVault.
type TokenVaultOption func(*TokenVault)

// WithRefreshTimeout bounds one shared refresh call. The bound is independent
// of the callers waiting on it.
func WithRefreshTimeout(d time.Duration) TokenVaultOption {
	return func(v *TokenVault) {
		if d > 0 {
			v.refreshTimeout = d
		}
	}
}

// NewTokenVault creates a TokenVault persisting under constants.StoreKeyToken.
func NewTokenVault(store repository.KVStore, cipher Cipher, client SessionClient, events *EventLog, clock Clock, metrics Metrics, log logger.Logger, opts ...TokenVaultOption) *TokenVault {
	if clock == nil {
		clock = time.Now
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	v := &TokenVault{
		store:          store,
		cipher:         cipher,
		client:         client,
		events:         events,
		clock:          clock,
		metrics:        metrics,
		logger:         log.WithComponent("TokenVault"),
		refreshTimeout: constants.DefaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GetToken returns the current access token, refreshing it at most once when
// it has expired. It reports false when no usable token exists.
func (v *TokenVault) GetToken(ctx context.Context) (string, bool) {
	data := v.read(ctx)
	if data == nil {
		return "", false
	}
	if !data.IsExpired(v.clock()) {
		return data.AccessToken, true
	}

	if !v.RefreshToken(ctx) {
		return "", false
	}
	data = v.read(ctx)
	if data == nil || data.IsExpired(v.clock()) {
		return "", false
	}
	return data.AccessToken, true
}

// SetToken encrypts and persists data. It is the only vault operation that
// returns its failure to the caller.
func (v *TokenVault) SetToken(ctx context.Context, data *models.TokenData) error {
	if data == nil || data.AccessToken == "" {
		err := secerrors.ErrInvalidRequest("token data requires an access token")
		v.events.Log(ctx, models.TokenSetFailedDetails{Reason: err.Description()})
		return err
	}

	v.mu.Lock()
	err := v.write(ctx, data)
	v.mu.Unlock()
	if err != nil {
		v.logger.Error(ctx, "failed to store token", err)
		v.events.Log(ctx, models.TokenSetFailedDetails{Reason: err.Error()})
		return err
	}

	v.events.Log(ctx, models.TokenSetDetails{ExpiresAt: data.ExpiresAt.UTC()})
	return nil
}

// RemoveToken deletes the stored pair. Removing an absent pair succeeds.
func (v *TokenVault) RemoveToken(ctx context.Context) {
	v.mu.Lock()
	err := v.store.Remove(ctx, constants.StoreKeyToken)
	v.mu.Unlock()
	if err != nil {
		v.metrics.RecordStoreError("token_remove")
		v.logger.Error(ctx, "failed to remove token", err)
		return
	}
	v.events.Log(ctx, models.TokenRemovedDetails{})
}

// IsTokenValid reports whether token is a JWT whose exp claim lies in the
// future. The signature is not verified; that is the server's job.
func (v *TokenVault) IsTokenValid(token string) bool {
	if token == "" {
		return false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return v.clock().Before(exp.Time)
}

// RefreshToken exchanges the stored refresh credential for a new pair.
// Concurrent callers holding the same credential share one network call.
// The shared call runs detached from ctx: a caller that gives up stops
// waiting and reports false, while the refresh itself completes for everyone
// else. The stored pair is discarded only when the credential is refused;
// transient faults keep it for a later attempt. Nothing is retried here.
func (v *TokenVault) RefreshToken(ctx context.Context) bool {
	data := v.read(ctx)
	if data == nil || data.RefreshToken == "" {
		return false
	}

	sum := sha256.Sum256([]byte(data.RefreshToken))
	ch := v.sf.DoChan(hex.EncodeToString(sum[:]), func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.refreshTimeout)
		defer cancel()
		return v.refresh(refreshCtx, data.RefreshToken), nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		v.logger.Debug(ctx, "caller stopped waiting for token refresh", logger.Fields{"error": ctx.Err().Error()})
		return false
	}
}

func (v *TokenVault) refresh(ctx context.Context, refreshToken string) bool {
	start := v.clock()
	var (
		fresh *models.TokenData
		err   error
	)
	if v.client == nil {
		err = secerrors.ErrConfig("no session endpoint configured")
	} else {
		fresh, err = v.client.Refresh(ctx, refreshToken)
	}
	if err == nil && (fresh == nil || fresh.AccessToken == "") {
		err = secerrors.ErrDecode("refresh response", errors.New("missing access token"))
	}

	if err == nil {
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = refreshToken
		}
		v.mu.Lock()
		err = v.write(ctx, fresh)
		v.mu.Unlock()
	}

	v.metrics.RecordTokenRefresh(err == nil, v.clock().Sub(start))
	if err != nil {
		transient := secerrors.IsTransientError(err)
		v.logger.Warn(ctx, "token refresh failed", logger.Fields{"error": err.Error(), "transient": transient})
		v.events.Log(ctx, models.TokenRefreshFailedDetails{Reason: err.Error()})
		if !transient {
			v.discard(ctx, refreshToken)
		}
		return false
	}

	v.events.Log(ctx, models.TokenRefreshedDetails{ExpiresAt: fresh.ExpiresAt.UTC()})
	return true
}

// discard removes the stored pair unless it was replaced while refreshing.
func (v *TokenVault) discard(ctx context.Context, refreshToken string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	current, err := v.decode(ctx)
	if err == nil && current != nil && current.RefreshToken != refreshToken {
		return
	}
	if err := v.store.Remove(ctx, constants.StoreKeyToken); err != nil {
		v.metrics.RecordStoreError("token_remove")
		v.logger.Error(ctx, "failed to discard token after refresh failure", err)
	}
}

// read returns the stored pair, or nil when it is absent or unreadable.
func (v *TokenVault) read(ctx context.Context) *models.TokenData {
	v.mu.Lock()
	data, err := v.decode(ctx)
	v.mu.Unlock()
	if err != nil {
		v.logger.Warn(ctx, "stored token is unreadable", logger.Fields{"error": err.Error()})
		v.events.Log(ctx, models.TokenReadFailedDetails{Reason: string(secerrors.CodeOf(err))})
		return nil
	}
	return data
}

func (v *TokenVault) decode(ctx context.Context) (*models.TokenData, error) {
	raw, err := v.store.Get(ctx, constants.StoreKeyToken)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		v.metrics.RecordStoreError("token_get")
		return nil, secerrors.ErrStorage("get", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, secerrors.ErrDecode("token entry", err)
	}
	plain, err := v.cipher.Decrypt(sealed)
	if err != nil {
		return nil, secerrors.WrapError(err, secerrors.CodeCrypto, "failed to decrypt token entry")
	}

	data := &models.TokenData{}
	if err := json.Unmarshal(plain, data); err != nil {
		return nil, secerrors.ErrDecode("token entry", err)
	}
	return data, nil
}

func (v *TokenVault) write(ctx context.Context, data *models.TokenData) error {
	plain, err := json.Marshal(data)
	if err != nil {
		return secerrors.ErrDecode("token data", err)
	}
	sealed, err := v.cipher.Encrypt(plain)
	if err != nil {
		return secerrors.WrapError(err, secerrors.CodeCrypto, "failed to encrypt token entry")
	}
	if err := v.store.Set(ctx, constants.StoreKeyToken, base64.StdEncoding.EncodeToString(sealed)); err != nil {
		v.metrics.RecordStoreError("token_set")
		return secerrors.ErrStorage("set", err)
	}
	return nil
}
