package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
)

func TestCSPPolicy_PolicyStringOrder(t *testing.T) {
	ctx := context.Background()
	p := NewCSPPolicy(logger.NewNoopLogger())

	require.NoError(t, p.AddPolicy(ctx, "img-src", []string{"'self'", "data:", "'self'"}))
	require.NoError(t, p.AddPolicy(ctx, "prefetch-src", []string{"'self'"}))
	require.NoError(t, p.AddPolicy(ctx, "Default-Src", []string{"'self'"}))
	require.NoError(t, p.AddPolicy(ctx, "upgrade-insecure-requests", nil))
	require.NoError(t, p.AddPolicy(ctx, "script-src", []string{"'self'", "https://cdn.example.com"}))

	assert.Equal(t,
		"default-src 'self'; script-src 'self' https://cdn.example.com; img-src 'self' data:; upgrade-insecure-requests; prefetch-src 'self'",
		p.PolicyString())
	assert.True(t, ValidatePolicy(p.PolicyString()))
}

func TestCSPPolicy_ReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	p := NewCSPPolicy(logger.NewNoopLogger())

	require.NoError(t, p.AddPolicy(ctx, "script-src", []string{"'self'"}))
	require.NoError(t, p.AddPolicy(ctx, "script-src", []string{"'none'"}))
	assert.Equal(t, "script-src 'none'", p.PolicyString())

	assert.True(t, p.RemovePolicy(ctx, "script-src"))
	assert.False(t, p.RemovePolicy(ctx, "script-src"))
	assert.Equal(t, "", p.PolicyString())

	err := p.AddPolicy(ctx, "scrpt-src", []string{"'self'"})
	assert.Error(t, err)
	err = p.AddPolicy(ctx, "script-src", []string{"'unsafe-everything'"})
	assert.Error(t, err)
	assert.Empty(t, p.Directives())

	require.NoError(t, p.AddPolicy(ctx, "style-src", []string{"'self'"}))
	err = p.Replace(ctx, map[string][]string{"default-src": {"'self'"}, "bogus": {"x"}})
	assert.Error(t, err)
	assert.Equal(t, "style-src 'self'", p.PolicyString(), "failed replace leaves the policy untouched")

	require.NoError(t, p.Replace(ctx, map[string][]string{"default-src": {"'none'"}}))
	assert.Equal(t, map[string][]string{"default-src": {"'none'"}}, p.Directives())
}

func TestCSPPolicy_DirectivesIsACopy(t *testing.T) {
	p := NewCSPPolicy(logger.NewNoopLogger(), WithCSPDirectives(map[string][]string{
		"default-src": {"'self'"},
		"nope":        {"'self'"},
	}))
	d := p.Directives()
	d["default-src"][0] = "'none'"
	assert.Equal(t, "default-src 'self'", p.PolicyString())
}

func TestCSPPolicy_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	p := NewCSPPolicy(logger.NewNoopLogger(), WithCSPStore(store))
	require.NoError(t, p.AddPolicy(ctx, "frame-ancestors", []string{"'none'"}))

	raw, err := store.Get(ctx, "secstate:csp_policy")
	require.NoError(t, err)
	assert.JSONEq(t, `{"frame-ancestors":["'none'"]}`, raw)

	restored := NewCSPPolicy(logger.NewNoopLogger(), WithCSPStore(store))
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, "frame-ancestors 'none'", restored.PolicyString())

	require.NoError(t, store.Set(ctx, constants.StoreKeyCSPPolicy, "{"))
	assert.Error(t, restored.Load(ctx))
}

func TestValidatePolicy(t *testing.T) {
	valid := []string{
		"default-src 'self'",
		"default-src 'self'; script-src 'self' 'unsafe-inline' https://*.example.com:443/js/",
		"script-src 'nonce-r4nd0m==' 'sha256-abc+/def=' 'strict-dynamic'",
		"img-src * data: blob:",
		"connect-src wss://socket.example.com http://localhost:*",
		"frame-ancestors 'none'",
		"sandbox allow-scripts allow-forms",
		"report-uri /csp-report; report-to csp-endpoint",
		"upgrade-insecure-requests; block-all-mixed-content",
		"require-trusted-types-for 'script'; trusted-types default 'allow-duplicates'",
		"default-src 'self';",
		"object-src",
	}
	for _, policy := range valid {
		assert.True(t, ValidatePolicy(policy), policy)
	}

	invalid := []string{
		"",
		"   ;  ",
		"foo-src 'self'",
		"script-src 'self' 'unsafe-eval-all'",
		"script-src 'nonce-'",
		"img-src http://exa mple.com",
		"img-src https://bad_host!.com",
		"upgrade-insecure-requests 1",
		"sandbox scripts",
		"report-to a b",
		"require-trusted-types-for script",
		"default-src 'self'; default-src 'none'",
	}
	for _, policy := range invalid {
		assert.False(t, ValidatePolicy(policy), policy)
	}
}

func TestCSPPolicy_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	p := NewCSPPolicy(logger.NewNoopLogger())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := "'self'"
			if i%2 == 0 {
				src = "'none'"
			}
			_ = p.AddPolicy(ctx, "script-src", []string{src})
			_ = p.PolicyString()
		}(i)
	}
	wg.Wait()
	assert.Len(t, p.Directives()["script-src"], 1)
}
