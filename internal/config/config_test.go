package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"HTTP_ADDR", "REDIS_URL", "DATABASE_URL", "GAME_SERVICE_URL", "MESSAGES_DIR", "MATCHMAKING_CONFIG",
		"MATCH_TICK_INTERVAL", "MATCH_SEARCH_TIMEOUT", "MATCH_INITIAL_FLOOR", "MATCH_INITIAL_CEILING",
		"MATCH_FLOOR_WIDEN_PER_SEC", "MATCH_CEIL_WIDEN_PER_SEC", "RATING_RETRY_MAX", "RATING_RETRY_BASE",
		"RATING_RECONCILE_INTERVAL", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Second, cfg.Matchmaking.TickInterval)
	assert.Equal(t, time.Minute, cfg.Matchmaking.SearchTimeout)
	assert.Equal(t, 25, cfg.Matchmaking.InitialFloor)
	assert.Equal(t, 400, cfg.Matchmaking.InitialCeiling)
	assert.Equal(t, 5.0, cfg.Matchmaking.FloorWidenPerSecond)
	assert.Equal(t, 4, cfg.RatingRetryMax)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "mm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search_timeout: 90s\ninitial_floor: 50\nfloor_widen_per_sec: 2.5\n"), 0o600))
	t.Setenv("MATCHMAKING_CONFIG", path)
	t.Setenv("MATCH_INITIAL_FLOOR", "10")
	t.Setenv("REDIS_URL", "redis://:secret@localhost:6380/2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Matchmaking.SearchTimeout)
	assert.Equal(t, 10, cfg.Matchmaking.InitialFloor)
	assert.Equal(t, 2.5, cfg.Matchmaking.FloorWidenPerSecond)
	assert.Equal(t, 400, cfg.Matchmaking.InitialCeiling)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("MATCH_TICK_INTERVAL", "soon")
	_, err := Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("MATCH_CEIL_WIDEN_PER_SEC", "-1")
	_, err = Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("REDIS_URL", "http://localhost")
	_, err = Load()
	require.Error(t, err)
}

func TestParseRedisURL(t *testing.T) {
	o, err := ParseRedisURL("redis://:pw@cache:6379/3")
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", o.Addr)
	assert.Equal(t, "pw", o.Password)
	assert.Equal(t, 3, o.DB)

	_, err = ParseRedisURL("redis://cache:6379/x")
	require.Error(t, err)

	o, err = ParseRedisURL("rediss://user:pw@cache:6380/1?pool_size=7&dial_timeout=2s")
	require.NoError(t, err)
	require.NotNil(t, o.TLSConfig)
	assert.Equal(t, "cache", o.TLSConfig.ServerName)
	assert.Equal(t, "user", o.Username)
	assert.Equal(t, 1, o.DB)
	assert.Equal(t, 7, o.PoolSize)
	assert.Equal(t, 2*time.Second, o.DialTimeout)

	o, err = ParseRedisURL("redis://cache:6379")
	require.NoError(t, err)
	assert.Nil(t, o.TLSConfig)
}
