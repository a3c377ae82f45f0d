package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. SECSTATE_STORE_DRIVER.
const EnvPrefix = "SECSTATE"

// Loader reads the configuration and optionally watches the file for changes.
type Loader struct {
	v      *viper.Viper
	logger logger.Logger
}

// NewLoader creates a Loader. An empty path searches config.yaml in . and /etc/secstate/.
func NewLoader(path string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/secstate/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, logger: log.WithComponent("ConfigLoader")}
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(path string, log logger.Logger) (*Config, error) {
	return NewLoader(path, log).Load()
}

// Load reads and validates the configuration. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, secerrors.ErrConfig("failed to read config file").WithCause(err)
		}
		l.logger.Debug(context.Background(), "no config file found, using defaults and environment")
	}
	return l.decode()
}

// Watch invokes onChange with every valid configuration written to the file
// until ctx is done. Invalid revisions are logged and skipped.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.logger.Error(ctx, "ignoring invalid config revision", err, logger.Fields{"file": e.Name})
			return
		}
		l.logger.Info(ctx, "config reloaded", logger.Fields{"file": e.Name, "op": e.Op.String()})
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, secerrors.ErrConfig("failed to unmarshal config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, secerrors.ErrConfig("invalid config").WithCause(err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", string(constants.StoreDriverMemory))
	v.SetDefault("store.sqlite_path", "secstate.db")
	v.SetDefault("store.redis.mode", "standalone")
	v.SetDefault("store.redis.addresses", []string{"localhost:6379"})
	v.SetDefault("store.redis.pool_size", 10)
	v.SetDefault("store.redis.dial_timeout", 5*time.Second)
	v.SetDefault("store.redis.read_timeout", 3*time.Second)
	v.SetDefault("store.redis.write_timeout", 3*time.Second)
	v.SetDefault("store.database.host", "localhost")
	v.SetDefault("store.database.port", 5432)
	v.SetDefault("store.database.ssl_mode", "disable")
	v.SetDefault("store.database.max_conns", 10)
	v.SetDefault("store.database.max_conn_lifetime", time.Hour)

	v.SetDefault("crypto.algorithm", string(constants.CipherAEAD))
	v.SetDefault("crypto.key_source", "static")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.field", "key")

	v.SetDefault("session.timeout", constants.DefaultSessionTimeout)
	v.SetDefault("session.csrf_token_ttl", constants.DefaultCSRFTokenTTL)

	v.SetDefault("security.event_capacity", constants.MaxSecurityEvents)

	v.SetDefault("csp.directives", map[string]interface{}{
		"default-src":     []string{"'self'"},
		"script-src":      []string{"'self'"},
		"style-src":       []string{"'self'", "'unsafe-inline'"},
		"img-src":         []string{"'self'", "data:", "https:"},
		"connect-src":     []string{"'self'"},
		"frame-ancestors": []string{"'none'"},
	})

	v.SetDefault("log.level", string(constants.LogLevelInfo))
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
}
