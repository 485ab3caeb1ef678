// Package notify fans matchmaking and rating events out to the presentation layer.
package notify

import (
	"context"
	"time"

	"github.com/park285/wagerchess-core/internal/domain"
)

type Kind string

const (
	KindSearching     Kind = "searching-status"
	KindMatchFound    Kind = "match-found"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
	KindMatchFailed   Kind = "match-failed"
	KindRatingUpdated Kind = "rating-updated"
)

// Event is a single notification addressed to one player.
type Event struct {
	Kind           Kind                `json:"kind"`
	PlayerID       string              `json:"player_id"`
	RequestID      string              `json:"request_id,omitempty"`
	TimeControl    string              `json:"time_control,omitempty"`
	ElapsedSeconds int                 `json:"elapsed_seconds"`
	RatingRange    *domain.RatingRange `json:"rating_range,omitempty"`
	SessionID      string              `json:"session_id,omitempty"`
	OpponentID     string              `json:"opponent_id,omitempty"`
	Rating         int                 `json:"rating,omitempty"`
	RatingDelta    int                 `json:"rating_delta,omitempty"`
	Message        string              `json:"message,omitempty"`
	At             time.Time           `json:"at"`
}

// Notifier delivers events. Implementations used on the matchmaking hot path
// must not block; wrap blocking ones with Async.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, ev Event)

func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards everything.
var Nop Notifier = Func(func(context.Context, Event) {})

type multi []Notifier

// Multi delivers each event to every non-nil notifier in order.
func Multi(ns ...Notifier) Notifier {
	out := make(multi, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
