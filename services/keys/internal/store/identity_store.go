package store

import (
	"context"

	"keys/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdentityStore struct{ db *gorm.DB }

func (s *Store) Identities() *IdentityStore { return &IdentityStore{db: s.DB} }

func (i *IdentityStore) Upsert(ctx context.Context, identity domain.Identity) error {
	return i.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"static_key":   identity.StaticKey,
				"display_name": identity.DisplayName,
			}),
		}).
		Create(&identity).Error
}

func (i *IdentityStore) GetByUser(ctx context.Context, userID uuid.UUID) (*domain.Identity, error) {
	var identity domain.Identity
	if err := i.db.WithContext(ctx).First(&identity, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &identity, nil
}

func (i *IdentityStore) GetByStaticKey(ctx context.Context, staticKey string) (*domain.Identity, error) {
	var identity domain.Identity
	if err := i.db.WithContext(ctx).First(&identity, "static_key = ?", staticKey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &identity, nil
}
