// Package httpapi exposes matchmaking, profiles and result reporting over
// HTTP, plus a websocket stream of a player's notifications.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/park285/wagerchess-core/internal/domain"
	"github.com/park285/wagerchess-core/internal/gamesession"
	"github.com/park285/wagerchess-core/internal/matchmaking"
	"github.com/park285/wagerchess-core/internal/notify"
	"github.com/park285/wagerchess-core/internal/obslog"
	"github.com/park285/wagerchess-core/internal/ratingstore"
	"github.com/park285/wagerchess-core/internal/settlement"
	"go.uber.org/zap"
)

// PlayerHeader carries the caller's identity. Authentication happens upstream.
const PlayerHeader = "X-Player-Id"

type Matchmaker interface {
	Submit(ctx context.Context, playerID string, tc domain.TimeControl) (matchmaking.Snapshot, error)
	Cancel(playerID string, tc domain.TimeControl) (matchmaking.Snapshot, error)
	Status(playerID string, tc domain.TimeControl) (matchmaking.Snapshot, error)
	Active(playerID string) []matchmaking.Snapshot
}

type QueueView interface {
	Snapshot(tc domain.TimeControl) []domain.MatchRequest
}

type Profiles interface {
	GetProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error)
	EnsureProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error)
	RecentHistory(ctx context.Context, playerID string, limit int) ([]ratingstore.HistoryEntry, error)
}

type Settler interface {
	Settle(ctx context.Context, o domain.GameOutcome) (settlement.Result, error)
	SettleByPlayers(ctx context.Context, sessionID, whiteID, blackID string, result domain.Result) (settlement.Result, error)
}

// Games closes stored game sessions. Optional.
type Games interface {
	Get(ctx context.Context, id string) (*gamesession.Game, error)
	Finish(ctx context.Context, id string, result domain.Result) (*gamesession.Game, error)
}

type Deps struct {
	Matchmaker Matchmaker
	Queue      QueueView
	Profiles   Profiles
	Settler    Settler
	Games      Games
	Events     *notify.Hub
	Health     func(ctx context.Context) error
	Logger     *zap.Logger

	// OriginPatterns is passed to websocket.Accept for cross-origin clients.
	OriginPatterns []string
}

type Server struct {
	d      Deps
	log    *zap.Logger
	router chi.Router
}

func New(d Deps) *Server {
	s := &Server{d: d, log: d.Logger}
	if s.log == nil {
		s.log = obslog.L()
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/match", s.handleSubmit)
		r.Get("/match", s.handleActive)
		r.Get("/match/{tc}", s.handleStatus)
		r.Delete("/match/{tc}", s.handleCancel)
		r.Get("/queue/{tc}", s.handleQueue)

		r.Post("/profiles", s.handleRegister)
		r.Get("/profiles/{id}", s.handleProfile)

		r.Post("/games/result", s.handleResult)

		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.d.Health(ctx); err != nil {
			s.log.Warn("http_health_failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
