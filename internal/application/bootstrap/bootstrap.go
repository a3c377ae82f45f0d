// Package bootstrap assembles a SecurityManager and its infrastructure from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	appservice "github.com/turtacn/secstate/internal/application/service"
	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/repository"
	domainService "github.com/turtacn/secstate/internal/domain/service"
	"github.com/turtacn/secstate/internal/infrastructure/audit"
	"github.com/turtacn/secstate/internal/infrastructure/crypto"
	"github.com/turtacn/secstate/internal/infrastructure/environment"
	"github.com/turtacn/secstate/internal/infrastructure/monitoring"
	"github.com/turtacn/secstate/internal/infrastructure/persistence/memory"
	"github.com/turtacn/secstate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/secstate/internal/infrastructure/persistence/sqlstore"
	"github.com/turtacn/secstate/internal/infrastructure/session"
	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
)

// App holds the assembled manager and the resources that must be released on shutdown.
type App struct {
	Config   *config.Config
	Manager  appservice.SecurityManager
	CSP      *domainService.CSPPolicy
	Metrics  *monitoring.Metrics
	Tracing  *monitoring.TracingManager
	Archive  *audit.GormArchive
	Health   map[string]repository.HealthChecker
	Registry *prometheus.Registry

	closers []io.Closer
	logger  logger.Logger
}

// Options tweak assembly; zero values select production behavior.
type Options struct {
	// Registry receives the Prometheus metrics; nil creates a fresh registry.
	Registry *prometheus.Registry
	// Store overrides the store selected by cfg.Store.Driver.
	Store repository.KVStore
	// Session overrides the HTTP session client.
	Session domainService.SessionClient
	// Detector overrides the runtime environment detector.
	Detector domainService.EnvironmentDetector
}

// New wires every component selected by cfg.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	app := &App{Config: cfg, Health: map[string]repository.HealthChecker{}, logger: log}

	app.Registry = opts.Registry
	if app.Registry == nil {
		app.Registry = prometheus.NewRegistry()
	}
	app.Metrics = monitoring.NewMetrics(app.Registry)
	metrics := monitoring.NewMetricsAdapter(app.Metrics)

	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	app.Tracing = tracing

	store := opts.Store
	var db *gorm.DB
	if store == nil {
		store, db, err = app.openStore(ctx, cfg)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
	}

	cipher, err := newCipher(ctx, cfg, log)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	eventOpts := []domainService.EventLogOption{
		domainService.WithEventCapacity(cfg.Security.EventCapacity),
		domainService.WithEventMetrics(metrics),
	}
	if cfg.Security.SignEvents {
		eventOpts = append(eventOpts, domainService.WithEventSigner(audit.NewHMACSigner(cfg.Security.SigningKey)))
	}
	var sinks []domainService.EventSink
	if cfg.Kafka.Enabled {
		sink := audit.NewKafkaSink(cfg.Kafka, log)
		app.closers = append(app.closers, sink)
		sinks = append(sinks, sink)
	}
	if cfg.Audit.Archive && db != nil {
		archive, err := audit.NewGormArchive(db)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.Archive = archive
		sinks = append(sinks, archive)
	}
	if len(sinks) > 0 {
		eventOpts = append(eventOpts, domainService.WithEventSinks(sinks...))
	}
	events := domainService.NewEventLog(store, log, eventOpts...)

	sessionClient := opts.Session
	if sessionClient == nil && cfg.Session.BaseURL != "" {
		client, err := session.NewClient(cfg.Session, log)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		sessionClient = client
	}

	detector := opts.Detector
	if detector == nil {
		detector = environment.NewDetector(cfg.Fingerprint, nil)
	}

	app.CSP = domainService.NewCSPPolicy(log,
		domainService.WithCSPDirectives(cfg.CSP.Directives),
		domainService.WithCSPStore(store),
	)
	if err := app.CSP.Load(ctx); err != nil {
		log.Warn(ctx, "keeping configured csp directives", logger.Fields{"error": err.Error()})
	}

	vault := domainService.NewTokenVault(store, cipher, sessionClient, events, nil, metrics, log,
		domainService.WithRefreshTimeout(cfg.Session.Timeout))
	deps := appservice.Dependencies{
		Store:       store,
		Vault:       vault,
		RateLimiter: domainService.NewRateLimiter(store, events, nil, metrics, log),
		AbuseGuard:  domainService.NewAbuseGuard(store, events, nil, metrics, log),
		CSP:         app.CSP,
		Fingerprint: domainService.NewFingerprintGenerator(detector, crypto.SHA256Hasher{}, nil),
		Events:      events,
		Session:     sessionClient,
	}
	app.Manager = appservice.NewSecurityManager(deps, cfg, log)

	log.Info(ctx, "security state manager assembled", logger.Fields{
		"store":  string(cfg.Store.Driver),
		"cipher": string(cfg.Crypto.Algorithm),
		"sinks":  len(sinks),
	})
	return app, nil
}

// WatchCSP replaces the CSP directives whenever the config file changes.
func (a *App) WatchCSP(ctx context.Context, loader *config.Loader) {
	loader.Watch(ctx, func(cfg *config.Config) {
		if err := a.Manager.ReplaceCSPPolicy(ctx, cfg.CSP.Directives); err != nil {
			a.logger.Warn(ctx, "ignoring invalid csp directives from config", logger.Fields{"error": err.Error()})
			return
		}
		a.logger.Info(ctx, "csp directives reloaded", logger.Fields{"config_file": loader.ConfigFile()})
	})
}

// Close releases every opened resource.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn(ctx, "failed to close resource", logger.Fields{"error": err.Error()})
		}
	}
	a.closers = nil
	if a.Tracing != nil {
		_ = a.Tracing.Shutdown(ctx)
	}
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (repository.KVStore, *gorm.DB, error) {
	switch cfg.Store.Driver {
	case constants.StoreDriverMemory, "":
		return memory.NewStore(), nil, nil

	case constants.StoreDriverRedis:
		conn := redis.NewConnection(cfg.Store.Redis, a.logger)
		if err := conn.Connect(ctx); err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, conn)
		a.Health["redis"] = conn
		return redis.NewStore(conn.Client(), cfg.Store.Redis.KeyPrefix), nil, nil

	case constants.StoreDriverSQLite, constants.StoreDriverPostgres:
		db, err := sqlstore.Open(ctx, cfg.Store, a.logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, sqlDB)
		store, err := sqlstore.NewStore(db)
		if err != nil {
			return nil, nil, err
		}
		a.Health["database"] = store
		return store, db, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
}

func newCipher(ctx context.Context, cfg *config.Config, log logger.Logger) (domainService.Cipher, error) {
	var source crypto.KeySource = crypto.StaticKeySource(cfg.Crypto.Secret)
	if cfg.Crypto.KeySource == "vault" {
		vaultSource, err := crypto.NewVaultKeySource(cfg.Vault, log)
		if err != nil {
			return nil, err
		}
		source = vaultSource
	}
	master, err := source.MasterKey(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.NewCipher(cfg.Crypto.Algorithm, master)
}
