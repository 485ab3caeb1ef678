package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL       string
	DatabaseURL    string
	GameServiceURL string
	MessagesDir    string

	Matchmaking Matchmaking

	RatingRetryMax          int
	RatingRetryBase         time.Duration
	RatingReconcileInterval time.Duration

	ShutdownTimeout time.Duration
}

// Matchmaking holds the search tunables. The same fields can be set from a
// YAML file named by MATCHMAKING_CONFIG; environment variables win.
type Matchmaking struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	SearchTimeout         time.Duration `yaml:"search_timeout"`
	InitialFloor          int           `yaml:"initial_floor"`
	InitialCeiling        int           `yaml:"initial_ceiling"`
	FloorWidenPerSecond   float64       `yaml:"floor_widen_per_sec"`
	CeilingWidenPerSecond float64       `yaml:"ceiling_widen_per_sec"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr: ":8080",
		Matchmaking: Matchmaking{
			TickInterval:          time.Second,
			SearchTimeout:         60 * time.Second,
			InitialFloor:          25,
			InitialCeiling:        400,
			FloorWidenPerSecond:   5,
			CeilingWidenPerSecond: 5,
		},
		RatingRetryMax:          4,
		RatingRetryBase:         100 * time.Millisecond,
		RatingReconcileInterval: 30 * time.Second,
		ShutdownTimeout:         10 * time.Second,
	}
}

// Load reads .env (if present), the optional YAML tunables file and the
// environment, in that order of increasing precedence.
func Load() (*AppConfig, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("MATCHMAKING_CONFIG")); path != "" {
		if err := cfg.Matchmaking.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.GameServiceURL = strings.TrimSpace(os.Getenv("GAME_SERVICE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	mm := &cfg.Matchmaking
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envDuration("MATCH_TICK_INTERVAL", &mm.TickInterval))
	collect(envDuration("MATCH_SEARCH_TIMEOUT", &mm.SearchTimeout))
	collect(envInt("MATCH_INITIAL_FLOOR", &mm.InitialFloor))
	collect(envInt("MATCH_INITIAL_CEILING", &mm.InitialCeiling))
	collect(envFloat("MATCH_FLOOR_WIDEN_PER_SEC", &mm.FloorWidenPerSecond))
	collect(envFloat("MATCH_CEIL_WIDEN_PER_SEC", &mm.CeilingWidenPerSecond))
	collect(envInt("RATING_RETRY_MAX", &cfg.RatingRetryMax))
	collect(envDuration("RATING_RETRY_BASE", &cfg.RatingRetryBase))
	collect(envDuration("RATING_RECONCILE_INTERVAL", &cfg.RatingReconcileInterval))
	collect(envDuration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	mm := c.Matchmaking
	switch {
	case mm.TickInterval <= 0:
		return errors.New("MATCH_TICK_INTERVAL must be positive")
	case mm.SearchTimeout < mm.TickInterval:
		return errors.New("MATCH_SEARCH_TIMEOUT must be at least one tick")
	case mm.InitialFloor < 0 || mm.InitialCeiling < 0:
		return errors.New("initial rating band must not be negative")
	case mm.FloorWidenPerSecond < 0 || mm.CeilingWidenPerSecond < 0:
		return errors.New("widening rates must not be negative")
	case c.RatingRetryMax <= 0:
		return errors.New("RATING_RETRY_MAX must be positive")
	}
	if c.RedisURL != "" {
		if _, err := ParseRedisURL(c.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
	}
	return nil
}

func (m *Matchmaking) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read matchmaking config: %w", err)
	}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("parse matchmaking config: %w", err)
	}
	return nil
}

// ParseRedisURL accepts redis:// and rediss:// URLs. Query options such as
// pool_size and dial_timeout are honored, and rediss enables TLS.
func ParseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}
