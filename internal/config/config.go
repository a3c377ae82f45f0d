package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/pkg/constants"
)

// Config holds the Security State Manager configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Crypto      CryptoConfig      `mapstructure:"crypto"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Session     SessionConfig     `mapstructure:"session"`
	Security    SecurityConfig    `mapstructure:"security"`
	CSP         CSPConfig         `mapstructure:"csp"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Server      ServerConfig      `mapstructure:"server"`
}

// StoreConfig selects and configures the persistent key-value store.
type StoreConfig struct {
	Driver   constants.StoreDriver `mapstructure:"driver" validate:"oneof=memory redis sqlite postgres"`
	Redis    RedisConfig           `mapstructure:"redis"`
	Database DatabaseConfig        `mapstructure:"database"`
	// SQLitePath is a file path or ":memory:".
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Mode           string        `mapstructure:"mode" validate:"omitempty,oneof=standalone cluster sentinel"`
	Addresses      []string      `mapstructure:"addresses"`
	SentinelMaster string        `mapstructure:"sentinel_master"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	MinIdleConns   int           `mapstructure:"min_idle_conns"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableTLS      bool          `mapstructure:"enable_tls"`
	TLSSkipVerify  bool          `mapstructure:"tls_skip_verify"`
	// KeyPrefix namespaces every key when several clients share one database.
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// CryptoConfig configures the token entry cipher.
type CryptoConfig struct {
	Algorithm constants.CipherAlgorithm `mapstructure:"algorithm" validate:"oneof=aead legacy-xor"`
	// KeySource is "static" (Secret) or "vault".
	KeySource string `mapstructure:"key_source" validate:"oneof=static vault"`
	Secret    string `mapstructure:"secret" validate:"required_if=KeySource static"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	Field      string `mapstructure:"field"`
}

// SessionConfig points at the endpoint issuing refreshed tokens and CSRF tokens.
type SessionConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	CSRFTokenTTL   time.Duration `mapstructure:"csrf_token_ttl" validate:"gt=0"`
	AllowedDomains []string      `mapstructure:"allowed_domains"`
}

type SecurityConfig struct {
	EventCapacity int    `mapstructure:"event_capacity" validate:"gt=0"`
	SignEvents    bool   `mapstructure:"sign_events"`
	SigningKey    string `mapstructure:"signing_key" validate:"required_if=SignEvents true"`
	// RateLimits optionally names windows for the built-in surfaces (HTTP,
	// gRPC, CLI). Library callers pass their own config on every call.
	RateLimits map[string]models.RateLimitConfig `mapstructure:"rate_limits" validate:"dive"`
	// IPBlock enables failed-attempt blocking on the built-in surfaces.
	IPBlock *models.IPBlockConfig `mapstructure:"ip_block" validate:"omitempty"`
}

// RateLimitFor returns the configured window for key. A per-client key of the
// form "<name>:<client>" falls back to the window of <name>, then "default".
// Nothing is limited unless a window is configured.
func (c *SecurityConfig) RateLimitFor(key string) (models.RateLimitConfig, bool) {
	if cfg, ok := c.RateLimits[key]; ok {
		return cfg, true
	}
	if name, _, found := strings.Cut(key, ":"); found {
		if cfg, ok := c.RateLimits[name]; ok {
			return cfg, true
		}
	}
	cfg, ok := c.RateLimits["default"]
	return cfg, ok
}

// GuardPolicy resolves what the built-in surfaces enforce for key.
func (c *SecurityConfig) GuardPolicy(key string) models.GuardPolicy {
	policy := models.GuardPolicy{IPBlock: c.IPBlock}
	if cfg, ok := c.RateLimitFor(key); ok {
		policy.RateLimit = &cfg
	}
	return policy
}

type CSPConfig struct {
	Directives map[string][]string `mapstructure:"directives"`
	// Watch reloads Directives when the config file changes.
	Watch bool `mapstructure:"watch"`
}

// FingerprintConfig overrides attributes the process cannot observe itself.
type FingerprintConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	Language       string  `mapstructure:"language"`
	ScreenWidth    int     `mapstructure:"screen_width"`
	ScreenHeight   int     `mapstructure:"screen_height"`
	ColorDepth     int     `mapstructure:"color_depth"`
	DeviceMemoryGB float64 `mapstructure:"device_memory_gb"`
	MaxTouchPoints int     `mapstructure:"max_touch_points"`
}

// AuditConfig controls the SQL archive of security events. The archive shares
// the gorm connection of the sqlite or postgres store driver.
type AuditConfig struct {
	Archive bool `mapstructure:"archive"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error fatal"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint" validate:"required_if=Enabled true"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// ServerConfig configures the local diagnostics HTTP surface.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnablePprof    bool          `mapstructure:"enable_pprof"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	// GRPCPort serves the gRPC health service when non-zero.
	GRPCPort int `mapstructure:"grpc_port" validate:"gte=0,lte=65535"`
}

// Addr returns host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr returns host:grpc_port.
func (c *ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

var validate = validator.New()

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Crypto.KeySource == "vault" && (c.Vault.Address == "" || c.Vault.SecretPath == "") {
		return fmt.Errorf("vault key source requires vault.address and vault.secret_path")
	}
	if c.Store.Driver == constants.StoreDriverRedis && len(c.Store.Redis.Addresses) == 0 {
		return fmt.Errorf("redis store requires store.redis.addresses")
	}
	if c.Audit.Archive && c.Store.Driver != constants.StoreDriverSQLite && c.Store.Driver != constants.StoreDriverPostgres {
		return fmt.Errorf("audit.archive requires the sqlite or postgres store driver")
	}
	return nil
}
