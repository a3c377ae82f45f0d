package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/secstate/internal/domain/repository"
)

var _ repository.KVStore = (*Store)(nil)

// Entry is one key-value row.
type Entry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:255"`
	Value     string `gorm:"column:entry_value;type:text"`
	UpdatedAt time.Time
}

// TableName implements gorm's Tabler.
func (Entry) TableName() string { return "secstate_kv" }

// Store is a KVStore on a single GORM table.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the table and returns the store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get implements repository.KVStore.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", repository.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Set implements repository.KVStore as an upsert.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at"}),
	}).Create(&Entry{Key: key, Value: value}).Error
}

// Remove implements repository.KVStore.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Entry{}).Error
}

// Keys implements repository.KVStore. The result is sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("entry_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("entry_key").
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// HealthCheck pings the database and reports pool statistics.
func (s *Store) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health := map[string]interface{}{
		"connected":  err == nil,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		health["error"] = err.Error()
		return health, err
	}
	stats := sqlDB.Stats()
	health["open_conns"] = stats.OpenConnections
	health["in_use"] = stats.InUse
	return health, nil
}
