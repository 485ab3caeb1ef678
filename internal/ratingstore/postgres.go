package ratingstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/park285/wagerchess-core/internal/domain"
)

// Schema creates the tables used by Postgres. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS rating_profiles (
	player_id    TEXT PRIMARY KEY,
	rating       INTEGER NOT NULL DEFAULT 1200 CHECK (rating >= 0),
	games_played INTEGER NOT NULL DEFAULT 0 CHECK (games_played >= 0),
	provisional  BOOLEAN NOT NULL DEFAULT TRUE,
	wins         INTEGER NOT NULL DEFAULT 0,
	losses       INTEGER NOT NULL DEFAULT 0,
	draws        INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS rating_history (
	id            BIGSERIAL PRIMARY KEY,
	player_id     TEXT NOT NULL REFERENCES rating_profiles (player_id),
	session_id    TEXT NOT NULL DEFAULT '',
	opponent_id   TEXT NOT NULL DEFAULT '',
	rating_before INTEGER NOT NULL,
	rating_after  INTEGER NOT NULL,
	delta         INTEGER NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS rating_history_session_player
	ON rating_history (session_id, player_id) WHERE session_id <> '';
CREATE INDEX IF NOT EXISTS rating_history_player_created
	ON rating_history (player_id, created_at DESC);
`

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects and verifies the connection.
func OpenPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classify("ping", err)
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return classify("migrate", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return classify("ping", p.db.PingContext(ctx))
}

const selectProfile = `
	SELECT player_id, rating, games_played, provisional, wins, losses, draws, created_at, updated_at
	FROM rating_profiles
	WHERE player_id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.RatingProfile, error) {
	var pr domain.RatingProfile
	err := row.Scan(
		&pr.PlayerID,
		&pr.Rating,
		&pr.GamesPlayed,
		&pr.Provisional,
		&pr.Wins,
		&pr.Losses,
		&pr.Draws,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *Postgres) GetProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error) {
	pr, err := scanProfile(p.db.QueryRowContext(ctx, selectProfile, strings.TrimSpace(playerID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, classify("select rating profile", err)
	}
	return pr, nil
}

const insertDefaultProfile = `
	INSERT INTO rating_profiles (player_id, rating, games_played, provisional)
	VALUES ($1, $2, 0, TRUE)
	ON CONFLICT (player_id) DO NOTHING`

func (p *Postgres) EnsureProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, domain.ErrPlayerNotFound
	}
	if _, err := p.db.ExecContext(ctx, insertDefaultProfile, playerID, domain.DefaultRating); err != nil {
		return nil, classify("insert rating profile", err)
	}
	return p.GetProfile(ctx, playerID)
}

func (p *Postgres) ApplyDelta(ctx context.Context, playerID string, delta int) (*domain.RatingProfile, error) {
	return p.apply(ctx, Update{PlayerID: playerID, Delta: delta}, false)
}

func (p *Postgres) ApplyResult(ctx context.Context, u Update) (*domain.RatingProfile, error) {
	return p.apply(ctx, u, true)
}

// apply locks the profile row, so concurrent updates for one player serialize
// while different players never contend.
func (p *Postgres) apply(ctx context.Context, u Update, counted bool) (*domain.RatingProfile, error) {
	u.PlayerID = strings.TrimSpace(u.PlayerID)
	if u.PlayerID == "" {
		return nil, domain.ErrPlayerNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertDefaultProfile, u.PlayerID, domain.DefaultRating); err != nil {
		return nil, classify("insert rating profile", err)
	}
	pr, err := scanProfile(tx.QueryRowContext(ctx, selectProfile+` FOR UPDATE`, u.PlayerID))
	if err != nil {
		return nil, classify("lock rating profile", err)
	}
	if u.SessionID != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM rating_history WHERE session_id = $1 AND player_id = $2`,
			u.SessionID, u.PlayerID).Scan(&one)
		if err == nil {
			return nil, ErrAlreadyApplied
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, classify("check rating history", err)
		}
	}

	before := pr.Rating
	now := time.Now().UTC()
	if counted {
		pr.Apply(u.Delta, u.Score, now)
	} else {
		pr.ApplyRating(u.Delta, now)
	}

	const update = `
		UPDATE rating_profiles
		SET rating = $2, games_played = $3, provisional = $4,
			wins = $5, losses = $6, draws = $7, updated_at = $8
		WHERE player_id = $1`
	if _, err := tx.ExecContext(ctx, update,
		pr.PlayerID, pr.Rating, pr.GamesPlayed, pr.Provisional,
		pr.Wins, pr.Losses, pr.Draws, pr.UpdatedAt,
	); err != nil {
		return nil, classify("update rating profile", err)
	}

	const insertHistory = `
		INSERT INTO rating_history (player_id, session_id, opponent_id, rating_before, rating_after, delta, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, insertHistory,
		pr.PlayerID, u.SessionID, u.OpponentID, before, pr.Rating, pr.Rating-before, u.Score, now,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, classify("insert rating history", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("commit", err)
	}
	return pr, nil
}

func (p *Postgres) RecentHistory(ctx context.Context, playerID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, player_id, session_id, opponent_id, rating_before, rating_after, delta, score, created_at
		FROM rating_history
		WHERE player_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	rows, err := p.db.QueryContext(ctx, query, strings.TrimSpace(playerID), limit)
	if err != nil {
		return nil, classify("select rating history", err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(
			&h.ID,
			&h.PlayerID,
			&h.SessionID,
			&h.OpponentID,
			&h.RatingBefore,
			&h.RatingAfter,
			&h.Delta,
			&h.Score,
			&h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rating history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate rating history", err)
	}
	return out, nil
}

// classify wraps err with op and marks connection-level and retryable
// server failures as domain.ErrRatingStoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrRatingStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ Store = (*Postgres)(nil)
