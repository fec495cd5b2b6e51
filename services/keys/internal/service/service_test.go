package service_test

import (
	"context"
	"testing"

	"keys/internal/domain"
	"keys/internal/dto"
	"keys/internal/service"
	"keys/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*service.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&domain.User{}, &domain.Identity{}, &domain.InviteDiscovery{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	svc := service.New(store.New(db))
	return svc, db
}

func TestRegisterAndFetchIdentity(t *testing.T) {
	svc, _ := setupService(t)

	userID := uuid.New().String()
	resp, err := svc.RegisterIdentity(context.Background(), dto.RegisterIdentityRequest{
		UserID:      userID,
		StaticKey:   "static-key-1",
		DisplayName: "alice",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.UserID != userID {
		t.Fatalf("expected user id %s, got %s", userID, resp.UserID)
	}

	id, _ := uuid.Parse(userID)
	identity, err := svc.GetIdentity(context.Background(), id)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if identity.StaticKey != "static-key-1" {
		t.Fatalf("expected static key static-key-1, got %s", identity.StaticKey)
	}
	if identity.DisplayName != "alice" {
		t.Fatalf("expected display name alice, got %s", identity.DisplayName)
	}
}

func TestRegisterIdentityRejectsMissingStaticKey(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.RegisterIdentity(context.Background(), dto.RegisterIdentityRequest{UserID: uuid.New().String()})
	if err == nil {
		t.Fatalf("expected an error for missing static key")
	}
}

func TestPublishAndFetchInviteDiscovery(t *testing.T) {
	svc, _ := setupService(t)

	published, err := svc.PublishInviteDiscovery(context.Background(), dto.PublishInviteDiscoveryRequest{
		InviterKey:    "inviter-key-1",
		DTag:          "work",
		RendezvousKey: "rendezvous-key-1",
		LinkSecret:    "link-secret-1",
		MaxUses:       5,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.DTag != "work" {
		t.Fatalf("expected d-tag work, got %s", published.DTag)
	}

	fetched, err := svc.GetInviteDiscovery(context.Background(), "inviter-key-1", "work")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.RendezvousKey != "rendezvous-key-1" || fetched.LinkSecret != "link-secret-1" {
		t.Fatalf("unexpected invite discovery record: %+v", fetched)
	}
	if fetched.MaxUses != 5 {
		t.Fatalf("expected max uses 5, got %d", fetched.MaxUses)
	}
}

func TestPublishInviteDiscoveryReplacesExisting(t *testing.T) {
	svc, _ := setupService(t)

	req := dto.PublishInviteDiscoveryRequest{
		InviterKey:    "inviter-key-2",
		DTag:          "default",
		RendezvousKey: "rendezvous-v1",
		LinkSecret:    "link-v1",
		MaxUses:       1,
	}
	if _, err := svc.PublishInviteDiscovery(context.Background(), req); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	req.RendezvousKey = "rendezvous-v2"
	req.LinkSecret = "link-v2"
	if _, err := svc.PublishInviteDiscovery(context.Background(), req); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	fetched, err := svc.GetInviteDiscovery(context.Background(), "inviter-key-2", "default")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.RendezvousKey != "rendezvous-v2" {
		t.Fatalf("expected replaced rendezvous key, got %s", fetched.RendezvousKey)
	}
}

func TestGetInviteDiscoveryNotFound(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.GetInviteDiscovery(context.Background(), "nobody", "default")
	if err != service.ErrInviteNotFound {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}
}
