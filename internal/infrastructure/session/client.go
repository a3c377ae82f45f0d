// Package session implements the network collaborator that issues refreshed
// tokens and CSRF tokens.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

const (
	refreshPath = "/refresh"
	csrfPath    = "/csrf-token"

	// maxResponseBytes caps how much of a response body is decoded.
	maxResponseBytes = 1 << 20
)

// Client talks to the session endpoints. Cookies set by the server are kept
// in a jar and sent back on every call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     logger.Logger
}

// NewClient creates a session client from cfg.
func NewClient(cfg config.SessionConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, secerrors.ErrConfig("session.base_url is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultSessionTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		tracer:     otel.Tracer(constants.ServiceName),
		logger:     log.WithComponent("SessionClient"),
	}, nil
}

type csrfResponse struct {
	Token string `json:"token"`
}

// Refresh exchanges refreshToken for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenData, error) {
	ctx, span := c.tracer.Start(ctx, "session.refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, nil)
	if err != nil {
		return nil, c.fail(span, secerrors.ErrNetwork(refreshPath, err))
	}
	req.Header.Set(constants.HeaderAuthorization, constants.TokenTypeBearer+" "+refreshToken)
	req.Header.Set("Accept", "application/json")

	var token models.TokenData
	if err := c.do(req, span, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" || token.ExpiresAt.UnixMilli() <= 0 {
		return nil, c.fail(span, secerrors.ErrDecode("refresh response", fmt.Errorf("missing accessToken or expiresAt")))
	}

	c.logger.Debug(ctx, "token refreshed", logger.Fields{"expires_at": token.ExpiresAt.UnixMilli()})
	return &token, nil
}

// FetchCSRFToken obtains a CSRF token.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "session.csrf_token", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+csrfPath, nil)
	if err != nil {
		return "", c.fail(span, secerrors.ErrNetwork(csrfPath, err))
	}
	req.Header.Set("Accept", "application/json")

	var body csrfResponse
	if err := c.do(req, span, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", c.fail(span, secerrors.ErrDecode("csrf response", fmt.Errorf("empty token")))
	}
	return body.Token, nil
}

func (c *Client) do(req *http.Request, span trace.Span, out interface{}) error {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(span, secerrors.ErrNetwork(req.URL.Path, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
	)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		// The server answered and refused the credential.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return c.fail(span, secerrors.ErrUnauthorized(fmt.Sprintf("%s rejected with status %d", req.URL.Path, resp.StatusCode)).
			WithMetadata("status", resp.StatusCode))
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return c.fail(span, secerrors.ErrNetwork(req.URL.Path, fmt.Errorf("status %d", resp.StatusCode)).
			WithMetadata("status", resp.StatusCode))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return c.fail(span, secerrors.ErrDecode(req.URL.Path, err))
	}
	return nil
}

func (c *Client) fail(span trace.Span, err secerrors.SecError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
