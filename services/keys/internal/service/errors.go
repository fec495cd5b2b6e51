package service

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrInviteNotFound   = errors.New("invite discovery record not found")
)
