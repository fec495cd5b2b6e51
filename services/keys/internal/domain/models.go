package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// Identity binds a user to the one static X25519 public key their invite
// handshakes and Double Ratchet sessions authenticate against. There is no
// per-device key bundle: multi-device fan-out is out of scope.
type Identity struct {
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	StaticKey   string    `gorm:"type:text;not null;uniqueIndex"`
	DisplayName string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
}

// InviteDiscovery is the addressable, replaceable record a directory
// serves for an invite discovery event: the rendezvous
// public key and link secret an invitee needs to run AcceptInvite,
// published by the inviter under their own static key plus a caller-
// chosen d-tag so the same inviter can publish more than one invite.
//
// Publishing a link secret here is intentional, not an oversight: this
// is the public, out-of-band-shareable invite (a posted link or QR code),
// the counterpart to a link handed over a private channel. Anyone who
// finds the record can redeem it, bounded by MaxUses.
type InviteDiscovery struct {
	InviterKey    string `gorm:"type:text;primaryKey"`
	DTag          string `gorm:"type:text;primaryKey"`
	RendezvousKey string `gorm:"type:text;not null"`
	LinkSecret    string `gorm:"type:text;not null"`
	MaxUses       int    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime"`
}
