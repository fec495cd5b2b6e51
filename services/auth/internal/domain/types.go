package domain

import "github.com/google/uuid"

type (
	UserID       = uuid.UUID
	SessionID    = uuid.UUID
	CredentialID = uuid.UUID
)
