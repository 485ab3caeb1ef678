package gamesession

import (
    "context"
    "crypto/rand"
    "encoding/json"
    "errors"
    "fmt"
    "math/big"
    "sort"
    "strings"
    "time"

    nchess "github.com/corentings/chess/v2"
    "github.com/google/uuid"
    "github.com/park285/wagerchess-core/internal/domain"
    "github.com/park285/wagerchess-core/internal/obslog"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

// ProfileSource supplies the ratings frozen into a new game.
type ProfileSource interface {
    GetProfile(ctx context.Context, playerID string) (*domain.RatingProfile, error)
}

type RedisOption func(*RedisFactory)

func WithProfiles(p ProfileSource) RedisOption { return func(f *RedisFactory) { f.profiles = p } }

func WithTTL(d time.Duration) RedisOption { return func(f *RedisFactory) { f.ttl = d } }

// RedisFactory stores games as JSON in Redis with a per-player index.
type RedisFactory struct {
    rdb      *redis.Client
    profiles ProfileSource
    ttl      time.Duration
    prefix   string
}

func NewRedisFactory(rdb *redis.Client, opts ...RedisOption) *RedisFactory {
    f := &RedisFactory{rdb: rdb, ttl: 24 * time.Hour, prefix: "mm"}
    for _, o := range opts {
        o(f)
    }
    return f
}

func (f *RedisFactory) gameKey(id string) string { return f.prefix + ":game:" + strings.TrimSpace(id) }
func (f *RedisFactory) idxUserKey(playerID string) string {
    return f.prefix + ":index:user:" + strings.TrimSpace(playerID)
}

// CreateSession picks colours at random and stores an active game at the
// standard starting position.
func (f *RedisFactory) CreateSession(ctx context.Context, playerA, playerB string, tc domain.TimeControl) (string, error) {
    playerA, playerB = strings.TrimSpace(playerA), strings.TrimSpace(playerB)
    if playerA == "" || playerB == "" || playerA == playerB { return "", fmt.Errorf("invalid participants") }

    whiteID, blackID := playerA, playerB
    if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
        whiteID, blackID = playerB, playerA
    }
    now := time.Now()
    g := &Game{
        ID:          uuid.NewString(),
        WhiteID:     whiteID,
        BlackID:     blackID,
        TimeControl: tc,
        Category:    tc.Category(),
        FEN:         nchess.NewGame().FEN(),
        Status:      StatusActive,
        CreatedAt:   now,
        UpdatedAt:   now,
    }
    if f.profiles != nil {
        w, err := f.profiles.GetProfile(ctx, whiteID)
        if err != nil { return "", fmt.Errorf("white profile: %w", err) }
        b, err := f.profiles.GetProfile(ctx, blackID)
        if err != nil { return "", fmt.Errorf("black profile: %w", err) }
        g.WhiteRating, g.WhiteProvisional = w.Rating, w.Provisional
        g.BlackRating, g.BlackProvisional = b.Rating, b.Provisional
    }

    raw, err := json.Marshal(g)
    if err != nil { return "", err }
    pipe := f.rdb.TxPipeline()
    pipe.Set(ctx, f.gameKey(g.ID), raw, f.ttl)
    for _, p := range []string{whiteID, blackID} {
        pipe.SAdd(ctx, f.idxUserKey(p), g.ID)
        // 인덱스 TTL도 게임과 같이 갱신
        pipe.Expire(ctx, f.idxUserKey(p), f.ttl)
    }
    if _, err := pipe.Exec(ctx); err != nil { return "", fmt.Errorf("store game: %w", err) }

    obslog.L().Info("game_session_create",
        zap.String("game_id", g.ID),
        zap.String("white_id", g.WhiteID),
        zap.String("black_id", g.BlackID),
        zap.String("time_control", tc.String()),
        zap.String("category", string(g.Category)),
    )
    return g.ID, nil
}

func (f *RedisFactory) Get(ctx context.Context, id string) (*Game, error) {
    raw, err := f.rdb.Get(ctx, f.gameKey(id)).Bytes()
    if errors.Is(err, redis.Nil) { return nil, ErrGameNotFound }
    if err != nil { return nil, err }
    var g Game
    if err := json.Unmarshal(raw, &g); err != nil { return nil, err }
    return &g, nil
}

// ActiveByPlayer returns the player's active games, most recent first.
func (f *RedisFactory) ActiveByPlayer(ctx context.Context, playerID string) ([]*Game, error) {
    ids, err := f.rdb.SMembers(ctx, f.idxUserKey(playerID)).Result()
    if err != nil { return nil, err }
    list := make([]*Game, 0, len(ids))
    for _, id := range ids {
        g, gerr := f.Get(ctx, id)
        if gerr != nil || g.Status != StatusActive { continue }
        list = append(list, g)
    }
    sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
    return list, nil
}

// Finish records result on an active game. Concurrent reports race under
// WATCH, so only one caller ever sees success.
func (f *RedisFactory) Finish(ctx context.Context, id string, result domain.Result) (*Game, error) {
    if !result.Valid() { return nil, fmt.Errorf("%w: result %q", domain.ErrInvalidOutcome, result) }
    key := f.gameKey(id)
    var out *Game
    err := f.rdb.Watch(ctx, func(tx *redis.Tx) error {
        raw, err := tx.Get(ctx, key).Bytes()
        if errors.Is(err, redis.Nil) { return ErrGameNotFound }
        if err != nil { return err }
        var cur Game
        if err := json.Unmarshal(raw, &cur); err != nil { return err }
        if cur.Status != StatusActive { return ErrGameFinished }
        cur.Status = StatusFinished
        cur.Result = result
        cur.UpdatedAt = time.Now()
        newRaw, err := json.Marshal(&cur)
        if err != nil { return err }
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Set(ctx, key, newRaw, f.ttl)
            return nil
        })
        if err != nil { return err }
        out = &cur
        return nil
    }, key)
    if errors.Is(err, redis.TxFailedErr) {
        return nil, ErrGameFinished
    }
    if err != nil { return nil, err }
    obslog.L().Info("game_session_finish", zap.String("game_id", out.ID), zap.String("result", string(result)))
    return out, nil
}
