package store

import (
	"context"
	"time"

	"messages/internal/msgjson"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is a relay event row: one published envelope in the sense of
// ratchet.Envelope, persisted for delivery to live and reconnecting
// subscribers. Author and PTag are stored as lowercase hex rather than
// bytea so they can be indexed and filtered the same way for both message
// and invite-acceptance kinds.
type Event struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Kind      int            `gorm:"not null;index:idx_events_kind_created,priority:1"`
	Author    string         `gorm:"size:64;not null;index:idx_events_author_created,priority:1"`
	PTag      string         `gorm:"size:64;index:idx_events_ptag"`
	Tags      msgjson.JSON   `gorm:"type:jsonb;not null"`
	Content   []byte         `gorm:"type:bytea;not null"`
	Sig       []byte         `gorm:"type:bytea;not null"`
	CreatedAt int64          `gorm:"not null;index:idx_events_kind_created,priority:2;index:idx_events_author_created,priority:2"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Event{})
}

func (s *Store) Create(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

// EventFilter mirrors ratchet.Filter for the subset a relay can serve from
// storage: authors, kinds, a #p tag, and a since cursor for backfill after
// reconnecting.
type EventFilter struct {
	Authors []string
	Kinds   []int
	PTag    []string
	Since   time.Time
	Limit   int
}

func (s *Store) Query(ctx context.Context, filter EventFilter) ([]Event, error) {
	tx := s.db.WithContext(ctx).Order("created_at asc")
	if len(filter.Authors) > 0 {
		tx = tx.Where("author IN ?", filter.Authors)
	}
	if len(filter.Kinds) > 0 {
		tx = tx.Where("kind IN ?", filter.Kinds)
	}
	if len(filter.PTag) > 0 {
		tx = tx.Where("p_tag IN ?", filter.PTag)
	}
	if !filter.Since.IsZero() {
		tx = tx.Where("created_at >= ?", filter.Since.Unix())
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var events []Event
	if err := tx.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
