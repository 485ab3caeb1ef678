package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProvisionalGames is the number of recorded games after which a rating stops being provisional.
const ProvisionalGames = 15

// DefaultRating is assigned to profiles created on first lookup.
const DefaultRating = 1200

// RatingProfile is the durable rating state of one player.
type RatingProfile struct {
	PlayerID    string    `json:"player_id"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Provisional bool      `json:"provisional"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsProvisional reports whether a player with the given number of games is still provisional.
func IsProvisional(gamesPlayed int) bool { return gamesPlayed < ProvisionalGames }

// NewProfile returns a fresh profile at DefaultRating.
func NewProfile(playerID string, now time.Time) *RatingProfile {
	return &RatingProfile{
		PlayerID:    playerID,
		Rating:      DefaultRating,
		Provisional: IsProvisional(0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ApplyRating adds delta for one game without touching the W/L/D counters.
// Ratings never drop below zero.
func (p *RatingProfile) ApplyRating(delta int, now time.Time) {
	p.Rating += delta
	if p.Rating < 0 {
		p.Rating = 0
	}
	p.GamesPlayed++
	p.Provisional = IsProvisional(p.GamesPlayed)
	p.UpdatedAt = now
}

// Apply adds delta to the profile for one finished game. score is the
// player's actual score (1, 0.5 or 0) and only drives the W/L/D counters.
func (p *RatingProfile) Apply(delta int, score float64, now time.Time) {
	p.ApplyRating(delta, now)
	switch {
	case score > 0.5:
		p.Wins++
	case score < 0.5:
		p.Losses++
	default:
		p.Draws++
	}
}

// Category buckets time controls by base time.
type Category string

const (
	Bullet    Category = "bullet"
	Blitz     Category = "blitz"
	Rapid     Category = "rapid"
	Classical Category = "classical"
)

// TimeControl is base minutes plus per-move increment. Two controls match
// only when both fields are equal, so the struct doubles as a map key.
type TimeControl struct {
	BaseMinutes      int `json:"base_minutes"`
	IncrementSeconds int `json:"increment_seconds"`
}

func (tc TimeControl) Valid() bool { return tc.BaseMinutes > 0 && tc.IncrementSeconds >= 0 }

func (tc TimeControl) Category() Category {
	switch {
	case tc.BaseMinutes <= 3:
		return Bullet
	case tc.BaseMinutes <= 10:
		return Blitz
	case tc.BaseMinutes <= 30:
		return Rapid
	default:
		return Classical
	}
}

func (tc TimeControl) String() string {
	return strconv.Itoa(tc.BaseMinutes) + "+" + strconv.Itoa(tc.IncrementSeconds)
}

// ParseTimeControl accepts "3+2" or a bare "10" (no increment).
func ParseTimeControl(s string) (TimeControl, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeControl{}, ErrInvalidTimeControl
	}
	base, inc, found := strings.Cut(s, "+")
	b, err := strconv.Atoi(strings.TrimSpace(base))
	if err != nil {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, s)
	}
	i := 0
	if found {
		if i, err = strconv.Atoi(strings.TrimSpace(inc)); err != nil {
			return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, s)
		}
	}
	tc := TimeControl{BaseMinutes: b, IncrementSeconds: i}
	if !tc.Valid() {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, s)
	}
	return tc, nil
}

// RatingRange is an inclusive band of acceptable opponent ratings.
type RatingRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r RatingRange) Contains(rating int) bool { return rating >= r.Min && rating <= r.Max }

// MatchRequest is one player's pending request in the match queue.
type MatchRequest struct {
	ID          string      `json:"id"`
	PlayerID    string      `json:"player_id"`
	TimeControl TimeControl `json:"time_control"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	BaseRating  int         `json:"base_rating"`
	Range       RatingRange `json:"rating_range"`
}

// Accepts reports whether r and other would accept each other as opponents.
func (r MatchRequest) Accepts(other MatchRequest) bool {
	if r.PlayerID == other.PlayerID || r.TimeControl != other.TimeControl {
		return false
	}
	return r.Range.Contains(other.BaseRating) && other.Range.Contains(r.BaseRating)
}
