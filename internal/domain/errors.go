package domain

import "errors"

var (
	ErrDuplicateRequest       = errors.New("match request already active for this time control")
	ErrPlayerNotFound         = errors.New("player not found")
	ErrInvalidTimeControl     = errors.New("invalid time control")
	ErrRatingStoreUnavailable = errors.New("rating store unavailable")
	ErrSessionNotFound        = errors.New("matchmaking session not found")
	ErrInvalidOutcome         = errors.New("invalid game outcome")
)
