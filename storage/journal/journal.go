// Package journal persists emitted events to a SQL database through gorm. It
// backs the escrow audit trail: every deposit, refund and delegation outcome
// lands as one row keyed by a random UUID.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"poolescrow/core/events"
)

// ErrDSNRequired is returned when Open is called without a data source.
var ErrDSNRequired = errors.New("journal: dsn required")

// Entry is one recorded event.
type Entry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Type       string            `gorm:"index;not null"`
	Attributes map[string]string `gorm:"serializer:json"`
	RecordedAt time.Time         `gorm:"index"`
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (Entry) TableName() string { return "escrow_events" }

// Journal writes events to the configured database. It implements
// events.Emitter; write failures are logged and never abort the emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use the Postgres
// driver; anything else is treated as a sqlite path or URI.
func Open(dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: nil database")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, logger: slog.Default(), nowFn: time.Now}, nil
}

// SetLogger configures the structured logger. Nil restores slog.Default.
func (j *Journal) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	j.logger = l
}

// SetNowFunc overrides the timestamp source.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.nowFn = now
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Record(context.Background(), evt); err != nil {
		j.logger.Error("journal write failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Record stores evt and returns the persisted entry.
func (j *Journal) Record(ctx context.Context, evt events.Event) (*Entry, error) {
	entry := &Entry{
		ID:         uuid.New(),
		Type:       evt.EventType(),
		Attributes: map[string]string{},
		RecordedAt: j.nowFn().UTC(),
	}
	if payload, ok := evt.(events.Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			entry.Attributes = rendered.Clone().Attributes
		}
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Query selects journal entries.
type Query struct {
	// Type filters on the event type when non-empty.
	Type  string
	Limit int
}

// List returns entries in recording order, oldest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	tx := j.db.WithContext(ctx).Order("recorded_at asc")
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var out []Entry
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
