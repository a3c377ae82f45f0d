// Package sqlstore provides a relational KVStore on GORM. SQLite serves
// single-host deployments; PostgreSQL serves shared ones.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/pkg/constants"
	"github.com/turtacn/secstate/pkg/logger"
)

// Open connects to the database selected by cfg.Driver and applies the pool settings.
func Open(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case constants.StoreDriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	case constants.StoreDriverPostgres:
		dialector = postgres.Open(cfg.Database.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		log.Error(ctx, "Failed to open database", err, logger.Fields{"driver": string(cfg.Driver)})
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == constants.StoreDriverSQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.Database.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxConns)
		}
		if cfg.Database.MinConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Database.MinConns)
		}
		sqlDB.SetConnMaxLifetime(cfg.Database.MaxConnLifetime)
		sqlDB.SetConnMaxIdleTime(cfg.Database.MaxConnIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		log.Error(ctx, "Database ping failed", err, logger.Fields{"driver": string(cfg.Driver)})
		return nil, err
	}

	log.Info(ctx, "Database connection established", logger.Fields{"driver": string(cfg.Driver)})
	return db, nil
}
