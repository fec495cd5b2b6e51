package store

import (
	"context"

	"keys/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InviteDiscoveryStore struct{ db *gorm.DB }

func (s *Store) InviteDiscoveries() *InviteDiscoveryStore { return &InviteDiscoveryStore{db: s.DB} }

// Put publishes or replaces the invite discovery event addressed by
// (InviterKey, DTag), mirroring how a nostr-style replaceable/addressable
// event is republished under the same coordinates.
func (v *InviteDiscoveryStore) Put(ctx context.Context, invite domain.InviteDiscovery) error {
	return v.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "inviter_key"}, {Name: "d_tag"}},
			DoUpdates: clause.Assignments(map[string]any{
				"rendezvous_key": invite.RendezvousKey,
				"link_secret":    invite.LinkSecret,
				"max_uses":       invite.MaxUses,
			}),
		}).
		Create(&invite).Error
}

func (v *InviteDiscoveryStore) Get(ctx context.Context, inviterKey, dTag string) (*domain.InviteDiscovery, error) {
	var invite domain.InviteDiscovery
	err := v.db.WithContext(ctx).
		First(&invite, "inviter_key = ? AND d_tag = ?", inviterKey, dTag).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &invite, nil
}
