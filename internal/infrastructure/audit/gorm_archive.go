package audit

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/service"
)

var _ service.EventSink = (*GormArchive)(nil)

// ArchivedEvent is one row of the durable security event archive. Unlike the
// bounded log it is never truncated.
type ArchivedEvent struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Type      string    `gorm:"size:64;index"`
	Timestamp time.Time `gorm:"index"`
	Payload   string    `gorm:"type:text"`
	Signature string    `gorm:"size:128"`
}

// TableName implements gorm's Tabler.
func (ArchivedEvent) TableName() string { return "security_event_archive" }

// GormArchive appends every security event to a relational table.
type GormArchive struct {
	db *gorm.DB
}

// NewGormArchive migrates the archive table and returns the sink.
func NewGormArchive(db *gorm.DB) (*GormArchive, error) {
	if err := db.AutoMigrate(&ArchivedEvent{}); err != nil {
		return nil, err
	}
	return &GormArchive{db: db}, nil
}

// Publish implements service.EventSink.
func (a *GormArchive) Publish(ctx context.Context, event models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return a.db.WithContext(ctx).Create(&ArchivedEvent{
		ID:        event.ID.String(),
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Payload:   string(payload),
		Signature: event.Signature,
	}).Error
}

// Recent returns up to limit archived events, newest first.
func (a *GormArchive) Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	var rows []ArchivedEvent
	if err := a.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]models.SecurityEvent, 0, len(rows))
	for _, row := range rows {
		var ev models.SecurityEvent
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
