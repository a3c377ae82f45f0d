package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/secstate/internal/config"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.SessionConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, logger.NewNoopLogger())
	require.NoError(t, err)
	return c
}

func TestClient_Refresh(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"new-access","refreshToken":"new-refresh","expiresAt":1893456000000}`))
	})
	c := newTestClient(t, mux)

	token, err := c.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "Bearer old-refresh", gotAuth)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)
	assert.Equal(t, int64(1893456000000), token.ExpiresAt.UnixMilli())
}

func TestClient_RefreshFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errCode secerrors.Code
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"expired"}`, secerrors.CodeUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":"revoked"}`, secerrors.CodeUnauthorized},
		{"server error", http.StatusServiceUnavailable, `upstream down`, secerrors.CodeNetwork},
		{"throttled", http.StatusTooManyRequests, ``, secerrors.CodeNetwork},
		{"malformed body", http.StatusOK, `{not json`, secerrors.CodeDecode},
		{"missing access token", http.StatusOK, `{"refreshToken":"r","expiresAt":1}`, secerrors.CodeDecode},
		{"missing expiry", http.StatusOK, `{"accessToken":"a"}`, secerrors.CodeDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.Refresh(context.Background(), "r")
			require.Error(t, err)
			assert.Equal(t, tt.errCode, secerrors.CodeOf(err))
		})
	}
}

func TestClient_FetchCSRFTokenSendsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`{"accessToken":"a","refreshToken":"r","expiresAt":1893456000000}`))
	})
	mux.HandleFunc("/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("sid")
		if err != nil || cookie.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"token":"csrf-123"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.FetchCSRFToken(context.Background())
	require.Error(t, err, "no session cookie yet")

	_, err = c.Refresh(context.Background(), "r")
	require.NoError(t, err)
	token, err := c.FetchCSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "csrf-123", token)
}

func TestClient_FetchCSRFTokenEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":""}`))
	}))
	_, err := c.FetchCSRFToken(context.Background())
	assert.Equal(t, secerrors.CodeDecode, secerrors.CodeOf(err))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c, err := NewClient(config.SessionConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, logger.NewNoopLogger())
	require.NoError(t, err)

	_, err = c.FetchCSRFToken(context.Background())
	assert.Equal(t, secerrors.CodeNetwork, secerrors.CodeOf(err))
}

func TestClient_CancelledContextIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"a","expiresAt":1893456000000}`))
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Refresh(ctx, "r")
	require.Error(t, err)
	assert.Equal(t, secerrors.CodeNetwork, secerrors.CodeOf(err))
	assert.True(t, secerrors.IsTransientError(err))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.SessionConfig{}, logger.NewNoopLogger())
	assert.Equal(t, secerrors.CodeConfig, secerrors.CodeOf(err))
}
