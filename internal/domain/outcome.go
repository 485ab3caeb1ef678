package domain

import (
	"fmt"
	"strings"
)

// Result is the decided result of a game from white's point of view.
type Result string

const (
	ResultWhite Result = "white"
	ResultBlack Result = "black"
	ResultDraw  Result = "draw"
)

func ParseResult(s string) (Result, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "1-0", "w":
		return ResultWhite, nil
	case "black", "0-1", "b":
		return ResultBlack, nil
	case "draw", "1/2-1/2", "d":
		return ResultDraw, nil
	}
	return "", fmt.Errorf("%w: result %q", ErrInvalidOutcome, s)
}

func (r Result) Valid() bool {
	return r == ResultWhite || r == ResultBlack || r == ResultDraw
}

// Scores returns the actual score for white and black.
func (r Result) Scores() (white, black float64) {
	switch r {
	case ResultWhite:
		return 1, 0
	case ResultBlack:
		return 0, 1
	default:
		return 0.5, 0.5
	}
}

// Participant is one side of a finished game with its pre-game rating state.
type Participant struct {
	PlayerID    string `json:"player_id"`
	Rating      int    `json:"rating"`
	Provisional bool   `json:"provisional"`
}

// GameOutcome is consumed once by the rating engine after a game ends.
type GameOutcome struct {
	SessionID string      `json:"session_id"`
	White     Participant `json:"white"`
	Black     Participant `json:"black"`
	Result    Result      `json:"result"`
}

func (o GameOutcome) Validate() error {
	if strings.TrimSpace(o.White.PlayerID) == "" || strings.TrimSpace(o.Black.PlayerID) == "" {
		return fmt.Errorf("%w: missing participant", ErrInvalidOutcome)
	}
	if o.White.PlayerID == o.Black.PlayerID {
		return fmt.Errorf("%w: self game", ErrInvalidOutcome)
	}
	if o.White.Rating < 0 || o.Black.Rating < 0 {
		return fmt.Errorf("%w: negative rating", ErrInvalidOutcome)
	}
	if !o.Result.Valid() {
		return fmt.Errorf("%w: result %q", ErrInvalidOutcome, o.Result)
	}
	return nil
}
