package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/park285/wagerchess-core/internal/gamesession"
	"github.com/park285/wagerchess-core/internal/matchmaking"
	"github.com/park285/wagerchess-core/pkg/matchdto"
)

var errMissingPlayer = errors.New("missing player id")

type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

type mapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

var errorTable = []mapping{
	{domain.ErrDuplicateRequest, http.StatusConflict, "duplicate_request", false},
	{domain.ErrPlayerNotFound, http.StatusNotFound, "player_not_found", false},
	{domain.ErrInvalidTimeControl, http.StatusBadRequest, "invalid_time_control", false},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found", false},
	{domain.ErrInvalidOutcome, http.StatusBadRequest, "invalid_outcome", false},
	{domain.ErrRatingStoreUnavailable, http.StatusServiceUnavailable, "rating_store_unavailable", true},
	{gamesession.ErrGameNotFound, http.StatusNotFound, "game_not_found", false},
	{gamesession.ErrGameFinished, http.StatusConflict, "game_finished", false},
	{matchmaking.ErrClosed, http.StatusServiceUnavailable, "shutting_down", true},
	{errMissingPlayer, http.StatusUnauthorized, "missing_player_id", false},
}

// toDomainError maps err onto a status and API error body.
func toDomainError(err error) (int, matchdto.DomainError) {
	var bad errBadRequest
	if errors.As(err, &bad) {
		return http.StatusBadRequest, matchdto.DomainError{Code: "bad_request", Message: bad.msg}
	}
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, matchdto.DomainError{Code: m.code, Message: err.Error(), Retryable: m.retryable}
		}
	}
	return http.StatusInternalServerError, matchdto.DomainError{Code: "internal", Message: "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, de := toDomainError(err)
	if status >= http.StatusInternalServerError {
		s.log.Sugar().Errorw("http_error", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, matchdto.ErrorResponse{Error: de})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest{msg: "invalid json body: " + err.Error()}
	}
	return nil
}

// playerID reads the identity header, falling back to the player_id query
// parameter for browser websocket clients that cannot set headers.
func playerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(PlayerHeader))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("player_id"))
	}
	if id == "" {
		return "", errMissingPlayer
	}
	return id, nil
}

// timeControlParam accepts both "3+2" and the escaped "3%2B2".
func timeControlParam(r *http.Request) (domain.TimeControl, error) {
	raw := chi.URLParam(r, "tc")
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return domain.ParseTimeControl(raw)
}
