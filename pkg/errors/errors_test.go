package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", ErrNetwork("/refresh", stderrors.New("connection refused")), true},
		{"storage", ErrStorage("get", stderrors.New("disk full")), true},
		{"cancelled", context.Canceled, true},
		{"wrapped deadline", fmt.Errorf("refresh: %w", context.DeadlineExceeded), true},
		{"network wrapping cancel", ErrNetwork("/refresh", context.Canceled), true},
		{"rejected credential", ErrUnauthorized("refresh token rejected"), false},
		{"decode", ErrDecode("refresh response", stderrors.New("eof")), false},
		{"config", ErrConfig("no session endpoint configured"), false},
		{"plain", stderrors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransientError(tc.err))
		})
	}
}

func TestToErrorResponse(t *testing.T) {
	status, body := ToErrorResponse(ErrRateLimited("login"))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, string(CodeRateLimited), body.Error)

	status, body = ToErrorResponse(stderrors.New("raw"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, string(CodeInternal), body.Error)
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrNotFound("directive img-src"))
	assert.True(t, stderrors.Is(err, ErrNotFound("anything")))
	assert.False(t, stderrors.Is(err, ErrInvalidRequest("x")))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}
