package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/secstate/internal/config"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// KeySource supplies the master key material the token cipher is derived from.
type KeySource interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKeySource returns a fixed secret, typically from configuration.
type StaticKeySource []byte

// MasterKey implements KeySource.
func (s StaticKeySource) MasterKey(ctx context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, secerrors.ErrConfig("static key source has no secret")
	}
	return []byte(s), nil
}

// VaultKeySource reads the master key from a HashiCorp Vault KV v2 secret.
// Values prefixed with "base64:" are decoded.
type VaultKeySource struct {
	client     *vault.Client
	mountPath  string
	secretPath string
	field      string
	log        logger.Logger
}

// NewVaultKeySource creates and configures a Vault client for cfg.
func NewVaultKeySource(cfg config.VaultConfig, log logger.Logger) (*VaultKeySource, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, secerrors.ErrConfig("failed to create vault client").WithCause(err)
	}
	client.SetToken(cfg.Token)
	return NewVaultKeySourceWithClient(client, cfg, log), nil
}

// NewVaultKeySourceWithClient uses an existing client.
func NewVaultKeySourceWithClient(client *vault.Client, cfg config.VaultConfig, log logger.Logger) *VaultKeySource {
	mount, field := cfg.MountPath, cfg.Field
	if mount == "" {
		mount = "secret"
	}
	if field == "" {
		field = "key"
	}
	return &VaultKeySource{
		client:     client,
		mountPath:  mount,
		secretPath: cfg.SecretPath,
		field:      field,
		log:        log.WithComponent("VaultKeySource"),
	}
}

// MasterKey implements KeySource.
func (v *VaultKeySource) MasterKey(ctx context.Context) ([]byte, error) {
	secret, err := v.client.KVv2(v.mountPath).Get(ctx, v.secretPath)
	if err != nil {
		v.log.Error(ctx, "failed to read master key from vault", err, logger.Fields{"path": v.secretPath})
		return nil, secerrors.ErrNetwork("vault", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, secerrors.ErrNotFound("vault secret " + v.secretPath)
	}

	raw, ok := secret.Data[v.field].(string)
	if !ok || raw == "" {
		return nil, secerrors.ErrConfig(fmt.Sprintf("vault secret %s has no %q field", v.secretPath, v.field))
	}
	if len(raw) > 7 && raw[:7] == "base64:" {
		key, err := base64.StdEncoding.DecodeString(raw[7:])
		if err != nil {
			return nil, secerrors.ErrDecode("vault key", err)
		}
		return key, nil
	}
	return []byte(raw), nil
}
