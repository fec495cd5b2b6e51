package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keys/internal/domain"
	"keys/internal/dto"
	"keys/internal/store"

	"github.com/google/uuid"
)

type Service struct {
	store *store.Store
}

func New(store *store.Store) *Service {
	return &Service{store: store}
}

// RegisterIdentity binds a static X25519 public key to a user account.
// There is no prekey bundle to publish: invite discovery carries the
// per-handshake key material instead (PublishInviteDiscovery).
func (s *Service) RegisterIdentity(ctx context.Context, req dto.RegisterIdentityRequest) (dto.RegisterIdentityResponse, error) {
	staticKey := strings.TrimSpace(req.StaticKey)
	if staticKey == "" {
		return dto.RegisterIdentityResponse{}, fmt.Errorf("%w: missing staticKey", ErrInvalidRequest)
	}

	userID, err := parseOrGenerate(req.UserID)
	if err != nil {
		return dto.RegisterIdentityResponse{}, fmt.Errorf("%w: invalid userId", ErrInvalidRequest)
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, userID); err != nil {
			return err
		}
		return tx.Identities().Upsert(ctx, domain.Identity{
			UserID:      userID,
			StaticKey:   staticKey,
			DisplayName: strings.TrimSpace(req.DisplayName),
		})
	})
	if err != nil {
		return dto.RegisterIdentityResponse{}, err
	}

	return dto.RegisterIdentityResponse{UserID: userID.String()}, nil
}

func (s *Service) GetIdentity(ctx context.Context, userID uuid.UUID) (dto.IdentityResponse, error) {
	identity, err := s.store.Identities().GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.IdentityResponse{}, ErrIdentityNotFound
		}
		return dto.IdentityResponse{}, err
	}
	return dto.IdentityResponse{
		UserID:      identity.UserID.String(),
		StaticKey:   identity.StaticKey,
		DisplayName: identity.DisplayName,
	}, nil
}

// PublishInviteDiscovery stores (or replaces) the invite discovery event
// an inviter hands out indirectly by sharing its (inviterKey, dTag)
// coordinates, so an invitee can look up the rendezvous key and link
// secret instead of needing the whole InviteLink out of band.
func (s *Service) PublishInviteDiscovery(ctx context.Context, req dto.PublishInviteDiscoveryRequest) (dto.InviteDiscoveryResponse, error) {
	inviterKey := strings.TrimSpace(req.InviterKey)
	dTag := strings.TrimSpace(req.DTag)
	rendezvousKey := strings.TrimSpace(req.RendezvousKey)
	linkSecret := strings.TrimSpace(req.LinkSecret)
	if inviterKey == "" || rendezvousKey == "" || linkSecret == "" {
		return dto.InviteDiscoveryResponse{}, fmt.Errorf("%w: missing invite key material", ErrInvalidRequest)
	}
	if dTag == "" {
		dTag = "default"
	}

	record := domain.InviteDiscovery{
		InviterKey:    inviterKey,
		DTag:          dTag,
		RendezvousKey: rendezvousKey,
		LinkSecret:    linkSecret,
		MaxUses:       req.MaxUses,
	}
	if err := s.store.InviteDiscoveries().Put(ctx, record); err != nil {
		return dto.InviteDiscoveryResponse{}, err
	}

	return dto.InviteDiscoveryResponse{
		InviterKey:    record.InviterKey,
		DTag:          record.DTag,
		RendezvousKey: record.RendezvousKey,
		LinkSecret:    record.LinkSecret,
		MaxUses:       record.MaxUses,
	}, nil
}

func (s *Service) GetInviteDiscovery(ctx context.Context, inviterKey, dTag string) (dto.InviteDiscoveryResponse, error) {
	if dTag == "" {
		dTag = "default"
	}
	record, err := s.store.InviteDiscoveries().Get(ctx, inviterKey, dTag)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.InviteDiscoveryResponse{}, ErrInviteNotFound
		}
		return dto.InviteDiscoveryResponse{}, err
	}
	return dto.InviteDiscoveryResponse{
		InviterKey:    record.InviterKey,
		DTag:          record.DTag,
		RendezvousKey: record.RendezvousKey,
		LinkSecret:    record.LinkSecret,
		MaxUses:       record.MaxUses,
	}, nil
}

func parseOrGenerate(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, err
	}
	return parsed, nil
}

// DeleteUserData removes a user and the user's registered identity,
// returning how many rows of each it found. Invite discovery records are
// keyed by inviter key rather than user and are not removed.
func (s *Service) DeleteUserData(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	deleted := map[string]int64{}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		db := tx.DB.WithContext(ctx)

		var users int64
		if err := db.Model(&domain.User{}).Where("id = ?", userID).Count(&users).Error; err != nil {
			return err
		}
		deleted["users"] = users

		var identities int64
		if err := db.Model(&domain.Identity{}).Where("user_id = ?", userID).Count(&identities).Error; err != nil {
			return err
		}
		deleted["identities"] = identities
		if err := db.Where("user_id = ?", userID).Delete(&domain.Identity{}).Error; err != nil {
			return err
		}

		return db.Where("id = ?", userID).Delete(&domain.User{}).Error
	})
	return deleted, err
}
