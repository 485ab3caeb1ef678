// Package rating computes Elo rating deltas for finished games.
//
// Everything here is a pure function of its arguments and is safe to call
// from any number of goroutines.
package rating

import (
	"math"

	"github.com/park285/wagerchess-core/internal/domain"
)

// K-factor tiers.
const (
	KProvisional = 40
	KStandard    = 32
	KStrong      = 24
	KMaster      = 16

	strongFloor = 2300
	masterFloor = 2400
)

// KFactor selects the K-factor for one side. Provisional players always get
// KProvisional regardless of rating.
func KFactor(rating int, provisional bool) int {
	switch {
	case provisional:
		return KProvisional
	case rating < strongFloor:
		return KStandard
	case rating < masterFloor:
		return KStrong
	default:
		return KMaster
	}
}

// ExpectedScore is the logistic expectation of a against b, in (0,1).
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// ComputeRatingChange returns the rating deltas for side A (white) and side B
// (black). Deltas are rounded half away from zero. The two deltas only cancel
// out when both sides use the same K-factor.
func ComputeRatingChange(ratingA, ratingB int, provisionalA, provisionalB bool, result domain.Result) (deltaA, deltaB int) {
	expectedA := ExpectedScore(ratingA, ratingB)
	expectedB := 1.0 - expectedA
	actualA, actualB := result.Scores()

	kA := float64(KFactor(ratingA, provisionalA))
	kB := float64(KFactor(ratingB, provisionalB))

	deltaA = int(math.Round(kA * (actualA - expectedA)))
	deltaB = int(math.Round(kB * (actualB - expectedB)))
	return
}

// Change is the full breakdown of one game's rating update.
type Change struct {
	WhiteDelta    int     `json:"white_delta"`
	BlackDelta    int     `json:"black_delta"`
	WhiteK        int     `json:"white_k"`
	BlackK        int     `json:"black_k"`
	WhiteExpected float64 `json:"white_expected"`
	WhiteScore    float64 `json:"white_score"`
	BlackScore    float64 `json:"black_score"`
}

// ForOutcome computes the Change for a decided game.
func ForOutcome(o domain.GameOutcome) Change {
	dw, db := ComputeRatingChange(o.White.Rating, o.Black.Rating, o.White.Provisional, o.Black.Provisional, o.Result)
	sw, sb := o.Result.Scores()
	return Change{
		WhiteDelta:    dw,
		BlackDelta:    db,
		WhiteK:        KFactor(o.White.Rating, o.White.Provisional),
		BlackK:        KFactor(o.Black.Rating, o.Black.Provisional),
		WhiteExpected: ExpectedScore(o.White.Rating, o.Black.Rating),
		WhiteScore:    sw,
		BlackScore:    sb,
	}
}
