package core

import "errors"

var (
	ErrInvalidInvite   = errors.New("invalid invite")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidResponse = errors.New("invalid response")
	ErrInviteMismatch  = errors.New("request is for a different invite")
	ErrBadSignature    = errors.New("bad request signature")
	ErrInviteExpired   = errors.New("invite expired")
)
