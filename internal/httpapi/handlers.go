package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/park285/wagerchess-core/internal/gamesession"
	"github.com/park285/wagerchess-core/internal/matchmaking"
	"github.com/park285/wagerchess-core/internal/ratingstore"
	"github.com/park285/wagerchess-core/internal/settlement"
	"github.com/park285/wagerchess-core/pkg/matchdto"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req matchdto.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tc, err := domain.ParseTimeControl(req.TimeControl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.d.Matchmaker.Submit(r.Context(), id, tc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSearchStatus(snap))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list := s.d.Matchmaker.Active(id)
	out := make([]matchdto.SearchStatus, 0, len(list))
	for _, snap := range list {
		out = append(out, toSearchStatus(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, tc, ok := s.playerAndTC(w, r)
	if !ok {
		return
	}
	snap, err := s.d.Matchmaker.Status(id, tc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchStatus(snap))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, tc, ok := s.playerAndTC(w, r)
	if !ok {
		return
	}
	snap, err := s.d.Matchmaker.Cancel(id, tc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchStatus(snap))
}

func (s *Server) playerAndTC(w http.ResponseWriter, r *http.Request) (string, domain.TimeControl, bool) {
	id, err := playerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return "", domain.TimeControl{}, false
	}
	tc, err := timeControlParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return "", domain.TimeControl{}, false
	}
	return id, tc, true
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	tc, err := timeControlParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reqs := s.d.Queue.Snapshot(tc)
	out := matchdto.QueueStatus{
		TimeControl: tc.String(),
		Category:    string(tc.Category()),
		Waiting:     len(reqs),
		Entries:     make([]matchdto.QueueEntry, 0, len(reqs)),
	}
	for _, q := range reqs {
		out.Entries = append(out.Entries, matchdto.QueueEntry{
			PlayerID:    q.PlayerID,
			Rating:      q.BaseRating,
			RatingRange: matchdto.RatingRange{Min: q.Range.Min, Max: q.Range.Max},
			EnqueuedAt:  q.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRegister creates the caller's profile at the default rating. Repeat
// calls return the existing profile.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.d.Profiles.EnsureProfile(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, errBadRequest{msg: "limit must be a non-negative integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	p, err := s.d.Profiles.GetProfile(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := matchdto.ProfileResponse{Profile: toProfile(p), Recent: []matchdto.HistoryEntry{}}
	if limit > 0 {
		hist, err := s.d.Profiles.RecentHistory(r.Context(), id, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Recent = toHistory(hist)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResult settles a finished game. With a stored session the pre-game
// ratings captured at pairing are used; otherwise current ratings are.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	var req matchdto.ResultRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := domain.ParseResult(req.Result)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)

	var res settlement.Result
	switch {
	case s.d.Games != nil && req.SessionID != "":
		g, ferr := s.d.Games.Finish(r.Context(), req.SessionID, result)
		if errors.Is(ferr, gamesession.ErrGameNotFound) && req.WhiteID != "" && req.BlackID != "" {
			res, err = s.d.Settler.SettleByPlayers(r.Context(), req.SessionID, req.WhiteID, req.BlackID, result)
			break
		}
		if errors.Is(ferr, gamesession.ErrGameFinished) {
			// A repeat of the recorded result resumes settlement; per-player
			// idempotency keeps an already-settled side from moving twice.
			g, ferr = s.finishedWith(r, req.SessionID, result)
		}
		if ferr != nil {
			s.writeError(w, r, ferr)
			return
		}
		res, err = s.d.Settler.Settle(r.Context(), g.Outcome())
	default:
		res, err = s.d.Settler.SettleByPlayers(r.Context(), req.SessionID, req.WhiteID, req.BlackID, result)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("http_result_settled",
		zap.String("session_id", res.SessionID),
		zap.String("result", string(result)),
		zap.Bool("white_deferred", res.White.Deferred),
		zap.Bool("black_deferred", res.Black.Deferred),
	)
	status := http.StatusOK
	if res.White.Deferred || res.Black.Deferred {
		status = http.StatusAccepted
	}
	writeJSON(w, status, matchdto.ResultResponse{
		SessionID: res.SessionID,
		Result:    string(result),
		White:     toSide(res.White),
		Black:     toSide(res.Black),
	})
}

// finishedWith loads a closed game and accepts it only when its recorded
// result equals result.
func (s *Server) finishedWith(r *http.Request, id string, result domain.Result) (*gamesession.Game, error) {
	g, err := s.d.Games.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if g.Result != result {
		return nil, gamesession.ErrGameFinished
	}
	return g, nil
}

func toSearchStatus(s matchmaking.Snapshot) matchdto.SearchStatus {
	return matchdto.SearchStatus{
		RequestID:      s.RequestID,
		PlayerID:       s.PlayerID,
		TimeControl:    s.TimeControl.String(),
		Category:       string(s.TimeControl.Category()),
		State:          string(s.State),
		BaseRating:     s.BaseRating,
		ElapsedSeconds: s.ElapsedSeconds,
		RatingRange:    matchdto.RatingRange{Min: s.Range.Min, Max: s.Range.Max},
		OpponentID:     s.OpponentID,
		SessionID:      s.SessionID,
		Failure:        s.Failure,
		EnqueuedAt:     s.EnqueuedAt,
	}
}

func toProfile(p *domain.RatingProfile) matchdto.Profile {
	return matchdto.Profile{
		PlayerID:    p.PlayerID,
		Rating:      p.Rating,
		GamesPlayed: p.GamesPlayed,
		Provisional: p.Provisional,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Draws:       p.Draws,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toHistory(list []ratingstore.HistoryEntry) []matchdto.HistoryEntry {
	out := make([]matchdto.HistoryEntry, 0, len(list))
	for _, h := range list {
		out = append(out, matchdto.HistoryEntry{
			SessionID:    h.SessionID,
			OpponentID:   h.OpponentID,
			RatingBefore: h.RatingBefore,
			RatingAfter:  h.RatingAfter,
			Delta:        h.Delta,
			Score:        h.Score,
			At:           h.CreatedAt,
		})
	}
	return out
}

func toSide(sr settlement.SideResult) matchdto.SideResult {
	out := matchdto.SideResult{PlayerID: sr.PlayerID, Delta: sr.Delta, Deferred: sr.Deferred}
	if sr.Profile != nil {
		v := sr.Profile.Rating
		out.Rating = &v
	}
	return out
}
