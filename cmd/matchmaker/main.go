package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	appcfg "github.com/park285/wagerchess-core/internal/config"
	"github.com/park285/wagerchess-core/internal/gamesession"
	"github.com/park285/wagerchess-core/internal/httpapi"
	"github.com/park285/wagerchess-core/internal/matchmaking"
	"github.com/park285/wagerchess-core/internal/matchqueue"
	"github.com/park285/wagerchess-core/internal/msgcat"
	"github.com/park285/wagerchess-core/internal/notify"
	"github.com/park285/wagerchess-core/internal/obslog"
	"github.com/park285/wagerchess-core/internal/ratingstore"
	"github.com/park285/wagerchess-core/internal/settlement"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("matchmaker_exit", zap.Error(err))
	}
}

func run(cfg *appcfg.AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}
	if missing := catalog.Missing(notify.MessageKeys()...); len(missing) > 0 {
		return fmt.Errorf("message catalog missing keys: %s", strings.Join(missing, ", "))
	}

	// Rating store
	var store ratingstore.Store
	var pingDB func(context.Context) error
	if cfg.DatabaseURL != "" {
		pg, err := ratingstore.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = pg.Migrate(mctx)
		cancel()
		if err != nil {
			return err
		}
		store, pingDB = pg, pg.Ping
	} else {
		logger.Warn("rating_store_memory", zap.String("reason", "DATABASE_URL not set"))
		store = ratingstore.NewMemory()
	}

	// Redis: game sessions, backlog and event fan-out
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := appcfg.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return err
		}
	}

	var factory matchmaking.SessionFactory
	var games httpapi.Games
	switch {
	case cfg.GameServiceURL != "":
		factory = gamesession.NewHTTPFactory(cfg.GameServiceURL)
	case rdb != nil:
		rf := gamesession.NewRedisFactory(rdb, gamesession.WithProfiles(store))
		factory, games = rf, rf
	default:
		return errors.New("GAME_SERVICE_URL or REDIS_URL is required")
	}

	hub := notify.NewHub(64)
	sinks := []notify.Notifier{hub}
	var backlog settlement.Backlog = settlement.NewMemoryBacklog()
	if rdb != nil {
		pub := notify.Async(notify.NewRedisPublisher(rdb, ""), 1024)
		defer pub.Close()
		sinks = append(sinks, pub)
		backlog = settlement.NewRedisBacklog(rdb, "")
	}
	notifier := notify.WithMessages(catalog, notify.Multi(sinks...))

	queue := matchqueue.New()
	mm := cfg.Matchmaking
	coord := matchmaking.New(queue, store, factory,
		matchmaking.WithConfig(matchmaking.Config{
			TickInterval:          mm.TickInterval,
			SearchTimeout:         mm.SearchTimeout,
			InitialFloor:          mm.InitialFloor,
			InitialCeiling:        mm.InitialCeiling,
			FloorWidenPerSecond:   mm.FloorWidenPerSecond,
			CeilingWidenPerSecond: mm.CeilingWidenPerSecond,
		}),
		matchmaking.WithNotifier(notifier),
		matchmaking.WithLogger(logger.Named("matchmaking")),
	)
	defer coord.Close()

	svc := settlement.NewService(store, backlog,
		settlement.WithNotifier(notifier),
		settlement.WithLogger(logger.Named("settlement")),
		settlement.WithRetry(cfg.RatingRetryMax, cfg.RatingRetryBase),
	)

	api := httpapi.New(httpapi.Deps{
		Matchmaker: coord,
		Queue:      queue,
		Profiles:   store,
		Settler:    svc,
		Games:      games,
		Events:     hub,
		Logger:     logger.Named("http"),
		Health: func(ctx context.Context) error {
			if pingDB != nil {
				if err := pingDB(ctx); err != nil {
					return err
				}
			}
			if rdb != nil {
				return rdb.Ping(ctx).Err()
			}
			return nil
		},
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return svc.Run(gctx, cfg.RatingReconcileInterval) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_start")
		// 검색 중인 요청부터 정리
		coord.Close()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	logger.Info("shutdown_done", zap.Error(err))
	return err
}
