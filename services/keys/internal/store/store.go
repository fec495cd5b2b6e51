package store

import (
	"context"
	"errors"

	"keys/internal/domain"

	"gorm.io/gorm"
)

// ErrRecordNotFound is the store-level not-found sentinel every lookup
// method returns in place of gorm's own, keeping service code free of a
// direct gorm import.
var ErrRecordNotFound = errors.New("record not found")

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

func (s *Store) AutoMigrate() error {
	return s.DB.AutoMigrate(&domain.User{}, &domain.Identity{}, &domain.InviteDiscovery{})
}
