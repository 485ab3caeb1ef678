package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTimeControlCategory(t *testing.T) {
	cases := []struct {
		base int
		want Category
	}{
		{1, Bullet}, {3, Bullet}, {4, Blitz}, {10, Blitz}, {11, Rapid}, {30, Rapid}, {31, Classical}, {90, Classical},
	}
	for _, c := range cases {
		tc := TimeControl{BaseMinutes: c.base}
		if got := tc.Category(); got != c.want {
			t.Fatalf("Category(%d) = %s, want %s", c.base, got, c.want)
		}
	}
}

func TestParseTimeControl(t *testing.T) {
	tc, err := ParseTimeControl(" 3+2 ")
	if err != nil { t.Fatalf("parse: %v", err) }
	if tc != (TimeControl{BaseMinutes: 3, IncrementSeconds: 2}) { t.Fatalf("unexpected tc %+v", tc) }
	if tc.String() != "3+2" { t.Fatalf("String() = %q", tc.String()) }

	tc, err = ParseTimeControl("10")
	if err != nil || tc.IncrementSeconds != 0 || tc.BaseMinutes != 10 { t.Fatalf("bare minutes: %+v %v", tc, err) }

	for _, bad := range []string{"", "0+0", "x+1", "5+y", "-1+0", "3+-2"} {
		if _, err := ParseTimeControl(bad); !errors.Is(err, ErrInvalidTimeControl) {
			t.Fatalf("ParseTimeControl(%q) err = %v, want ErrInvalidTimeControl", bad, err)
		}
	}
}

func TestTimeControlMatchingIsExact(t *testing.T) {
	a := TimeControl{BaseMinutes: 3, IncrementSeconds: 2}
	b := TimeControl{BaseMinutes: 3, IncrementSeconds: 0}
	if a == b { t.Fatalf("3+2 must not match 3+0") }
	if a.Category() != b.Category() { t.Fatalf("same category expected") }
}

func TestProfileApplyProvisionalAndClamp(t *testing.T) {
	now := time.Now()
	p := NewProfile("u1", now)
	if !p.Provisional { t.Fatalf("new profile must be provisional") }
	for i := 0; i < ProvisionalGames-1; i++ {
		p.Apply(0, 0.5, now)
	}
	if !p.Provisional { t.Fatalf("still provisional at %d games", p.GamesPlayed) }
	p.Apply(0, 1, now)
	if p.Provisional || p.GamesPlayed != ProvisionalGames { t.Fatalf("expected established after %d games: %+v", ProvisionalGames, p) }

	p.Rating = 10
	p.Apply(-40, 0, now)
	if p.Rating != 0 { t.Fatalf("rating must clamp at 0, got %d", p.Rating) }
	if p.Wins != 1 || p.Losses != 1 || p.Draws != ProvisionalGames-1 { t.Fatalf("unexpected W/L/D %+v", p) }
}

func TestRequestAccepts(t *testing.T) {
	tc := TimeControl{BaseMinutes: 5}
	a := MatchRequest{PlayerID: "a", TimeControl: tc, BaseRating: 1500, Range: RatingRange{1475, 1900}}
	b := MatchRequest{PlayerID: "b", TimeControl: tc, BaseRating: 1600, Range: RatingRange{1575, 2000}}
	if a.Accepts(b) || b.Accepts(a) { t.Fatalf("b's floor excludes a; must not be mutual") }
	b.Range.Min = 1500
	if !a.Accepts(b) || !b.Accepts(a) { t.Fatalf("expected mutual acceptance after widening") }
	if a.Accepts(a) { t.Fatalf("self acceptance must be false") }
	b.TimeControl = TimeControl{BaseMinutes: 5, IncrementSeconds: 3}
	if a.Accepts(b) { t.Fatalf("different increments must not match") }
}

func TestOutcomeValidate(t *testing.T) {
	ok := GameOutcome{White: Participant{PlayerID: "a", Rating: 1500}, Black: Participant{PlayerID: "b", Rating: 1500}, Result: ResultDraw}
	if err := ok.Validate(); err != nil { t.Fatalf("valid outcome rejected: %v", err) }
	bad := ok
	bad.Black.PlayerID = "a"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidOutcome) { t.Fatalf("self game accepted: %v", err) }
	bad = ok
	bad.Result = "aborted"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidOutcome) { t.Fatalf("bad result accepted: %v", err) }
	if r, err := ParseResult("1-0"); err != nil || r != ResultWhite { t.Fatalf("ParseResult(1-0) = %v %v", r, err) }
}
