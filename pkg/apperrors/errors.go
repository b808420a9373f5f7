package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrMailboxUnavailable = errors.New("mailbox unavailable")
	ErrProgressAnalysis   = errors.New("progress analysis failed")
	ErrInvalidSource      = errors.New("invalid discovery source")
	ErrBackendUnusable    = errors.New("generative backend returned unusable response")
)
