package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/infrastructure/persistence/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore wraps the memory store and fails selected operations.
type faultyStore struct {
	*memory.Store
	getErr    error
	setErr    error
	removeErr error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.NewStore()}
}

func (s *faultyStore) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

func (s *faultyStore) Remove(ctx context.Context, key string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.Store.Remove(ctx, key)
}

type testSigner struct{ key []byte }

func (s testSigner) Sign(payload []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s testSigner) Verify(payload []byte, signature string) bool {
	expected, _ := s.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// xorCipher is a reversible stand-in for the production ciphers.
type xorCipher struct{ err error }

func (c xorCipher) Encrypt(p []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (c xorCipher) Decrypt(p []byte) ([]byte, error) { return c.Encrypt(p) }

type testHasher struct{}

func (testHasher) Hash(ctx context.Context, values []string) (string, error) {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, event models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func eventTypes(events []models.SecurityEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = string(ev.Type)
	}
	return types
}
