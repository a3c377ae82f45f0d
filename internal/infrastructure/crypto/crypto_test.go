package crypto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

var roundTripInputs = [][]byte{
	{},
	[]byte("a"),
	[]byte(`{"accessToken":"eyJ","refreshToken":"r","expiresAt":1772366400000}`),
	[]byte("多字节 ünïcødé 🔐"),
	make([]byte, 4096),
}

func TestCiphers_RoundTrip(t *testing.T) {
	for _, algo := range []constants.CipherAlgorithm{constants.CipherAEAD, constants.CipherLegacyXOR} {
		c, err := NewCipher(algo, []byte("master-secret"))
		require.NoError(t, err)
		for _, in := range roundTripInputs {
			sealed, err := c.Encrypt(in)
			require.NoError(t, err)
			out, err := c.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, in, out, "%s len=%d", algo, len(in))
		}
	}

	_, err := NewCipher("rot13", []byte("k"))
	assert.Error(t, err)
}

func TestAEADCipher_Properties(t *testing.T) {
	c, err := NewAEADCipher([]byte("master-secret"))
	require.NoError(t, err)

	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per message")

	a[len(a)-1] ^= 1
	_, err = c.Decrypt(a)
	assert.Equal(t, secerrors.CodeCrypto, secerrors.CodeOf(err))

	other, err := NewAEADCipher([]byte("other-secret"))
	require.NoError(t, err)
	_, err = other.Decrypt(b)
	assert.Error(t, err)

	_, err = c.Decrypt([]byte("short"))
	assert.Error(t, err)

	_, err = NewAEADCipher(nil)
	assert.Error(t, err)
}

func TestXORCipher(t *testing.T) {
	_, err := NewXORCipher(nil)
	assert.Error(t, err)

	c, err := NewXORCipher([]byte{0x01, 0x02})
	require.NoError(t, err)
	out, err := c.Encrypt([]byte{0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x01}, out)
}

func TestSHA256Hasher(t *testing.T) {
	ctx := context.Background()
	h := SHA256Hasher{}

	a, err := h.Hash(ctx, []string{"ab", "c"})
	require.NoError(t, err)
	b, err := h.Hash(ctx, []string{"a", "bc"})
	require.NoError(t, err)
	again, err := h.Hash(ctx, []string{"ab", "c"})
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b, "component boundaries matter")

	empty, err := h.Hash(ctx, nil)
	require.NoError(t, err)
	// sha256("[]")
	assert.Equal(t, "4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945", empty)
}

func newVaultServer(t *testing.T, data map[string]interface{}, status int) *vault.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/data/secstate/token-key", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     data,
				"metadata": map[string]interface{}{"version": 1},
			},
		})
	}))
	t.Cleanup(ts.Close)

	cfg := vault.DefaultConfig()
	cfg.Address = ts.URL
	cfg.MaxRetries = 0
	client, err := vault.NewClient(cfg)
	require.NoError(t, err)
	client.SetToken("test-token")
	return client
}

func TestVaultKeySource(t *testing.T) {
	ctx := context.Background()
	cfg := config.VaultConfig{MountPath: "kv", SecretPath: "secstate/token-key"}

	src := NewVaultKeySourceWithClient(newVaultServer(t, map[string]interface{}{"key": "plain-secret"}, http.StatusOK), cfg, logger.NewNoopLogger())
	key, err := src.MasterKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain-secret"), key)

	src = NewVaultKeySourceWithClient(newVaultServer(t, map[string]interface{}{"key": "base64:AAEC"}, http.StatusOK), cfg, logger.NewNoopLogger())
	key, err = src.MasterKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, key)

	src = NewVaultKeySourceWithClient(newVaultServer(t, map[string]interface{}{"other": "x"}, http.StatusOK), cfg, logger.NewNoopLogger())
	_, err = src.MasterKey(ctx)
	assert.Equal(t, secerrors.CodeConfig, secerrors.CodeOf(err))

	src = NewVaultKeySourceWithClient(newVaultServer(t, nil, http.StatusForbidden), cfg, logger.NewNoopLogger())
	_, err = src.MasterKey(ctx)
	assert.Error(t, err)
}

func TestStaticKeySource(t *testing.T) {
	key, err := StaticKeySource("abc").MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), key)

	_, err = StaticKeySource(nil).MasterKey(context.Background())
	assert.Error(t, err)
}
