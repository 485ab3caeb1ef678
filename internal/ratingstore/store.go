// Package ratingstore persists rating profiles and the per-game rating history.
package ratingstore

import (
	"context"
	"errors"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
)

// ErrAlreadyApplied is returned when a session's update for a player was
// recorded before. Callers treat it as success.
var ErrAlreadyApplied = errors.New("rating update already applied")

// Update is one side of a settled game.
type Update struct {
	PlayerID   string  `json:"player_id"`
	SessionID  string  `json:"session_id,omitempty"`
	OpponentID string  `json:"opponent_id,omitempty"`
	Delta      int     `json:"delta"`
	Score      float64 `json:"score"`
}

// HistoryEntry is one applied update.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	PlayerID     string    `json:"player_id"`
	SessionID    string    `json:"session_id,omitempty"`
	OpponentID   string    `json:"opponent_id,omitempty"`
	RatingBefore int       `json:"rating_before"`
	RatingAfter  int       `json:"rating_after"`
	Delta        int       `json:"delta"`
	Score        float64   `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	// GetProfile returns domain.ErrPlayerNotFound for unknown players.
	GetProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error)
	// EnsureProfile returns the profile, creating it at the default rating.
	EnsureProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error)
	// ApplyDelta adjusts rating and game count only.
	ApplyDelta(ctx context.Context, playerID string, delta int) (*domain.RatingProfile, error)
	// ApplyResult adjusts rating, game count and W/L/D and records history.
	// A repeated (SessionID, PlayerID) pair yields ErrAlreadyApplied.
	ApplyResult(ctx context.Context, u Update) (*domain.RatingProfile, error)
	RecentHistory(ctx context.Context, playerID string, limit int) ([]HistoryEntry, error)
}
