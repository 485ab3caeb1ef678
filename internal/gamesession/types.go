// Package gamesession creates the game once two searches are paired and
// tracks it until a result is reported.
package gamesession

import (
	"errors"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
)

var (
	ErrGameNotFound = errors.New("game session not found")
	ErrGameFinished = errors.New("game session already finished")
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Game is the stored session. Ratings are captured at creation so the result
// is settled against pre-game values.
type Game struct {
	ID               string             `json:"id"`
	WhiteID          string             `json:"white_id"`
	BlackID          string             `json:"black_id"`
	WhiteRating      int                `json:"white_rating"`
	BlackRating      int                `json:"black_rating"`
	WhiteProvisional bool               `json:"white_provisional"`
	BlackProvisional bool               `json:"black_provisional"`
	TimeControl      domain.TimeControl `json:"time_control"`
	Category         domain.Category    `json:"category"`
	FEN              string             `json:"fen"`
	Status           Status             `json:"status"`
	Result           domain.Result      `json:"result,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (g *Game) HasPlayer(playerID string) bool {
	return g.WhiteID == playerID || g.BlackID == playerID
}

// Outcome is the rating input for a finished game.
func (g *Game) Outcome() domain.GameOutcome {
	return domain.GameOutcome{
		SessionID: g.ID,
		White:     domain.Participant{PlayerID: g.WhiteID, Rating: g.WhiteRating, Provisional: g.WhiteProvisional},
		Black:     domain.Participant{PlayerID: g.BlackID, Rating: g.BlackRating, Provisional: g.BlackProvisional},
		Result:    g.Result,
	}
}
