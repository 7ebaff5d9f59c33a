package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhuccNguyen/hhsvhbvn/internal/config"
	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/repository"
	"github.com/PhuccNguyen/hhsvhbvn/internal/service"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/credentials"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:         "test",
		RateLimitMax:        5,
		RateLimitWindow:     time.Minute,
		NameRequireTwoWords: true,
		RetryAttempts:       3,
		RetryBaseDelay:      time.Millisecond,
		IndexWarmTTL:        time.Minute,
	}
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name        string
		redisURL    string
		expectRedis bool
	}{
		{
			name:        "Container with Redis configured",
			redisURL:    "redis://" + mr.Addr(),
			expectRedis: true,
		},
		{
			name:        "Container without Redis configured",
			redisURL:    "",
			expectRedis: false,
		},
		{
			name:        "Container with invalid Redis URL",
			redisURL:    "invalid://redis-url",
			expectRedis: false, // Redis client initialization fails but container creation succeeds
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RedisURL = tt.redisURL

			c, err := New(context.Background(), cfg, logger.NewNop())

			require.NoError(t, err)
			require.NotNil(t, c)
			t.Cleanup(func() { _ = c.Close(context.Background()) })

			assert.Equal(t, cfg, c.GetConfig())
			assert.NotNil(t, c.GetLogger())
			assert.Equal(t, tt.expectRedis, c.HasRedis())
			assert.Nil(t, c.DB)
			assert.NotNil(t, c.Limiter)
			assert.NotNil(t, c.Checkin)
			assert.IsType(t, &repository.SheetsStore{}, c.Store)
			assert.IsType(t, &credentials.EnvProvider{}, c.Credentials)
		})
	}
}

func TestNew_RedisBackedLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RateLimitMax = 1

	c, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	key := service.RateLimitKey(service.ActionCheckin, "198.51.100.4")
	first, err := c.Limiter.Check(context.Background(), key)
	require.NoError(t, err)
	second, err := c.Limiter.Check(context.Background(), key)
	require.NoError(t, err)

	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.NotEmpty(t, mr.Keys())
}

func TestNew_EventsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events:\n  - id: chung-ket\n    status: open\n"), 0o600))

	cfg := testConfig()
	cfg.EventsFile = path

	c, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)

	event, ok := c.Catalog.Get("chung-ket")
	require.True(t, ok)
	assert.Equal(t, domain.StateOpen, event.Status)
}

func TestNew_EventsFileMissing(t *testing.T) {
	cfg := testConfig()
	cfg.EventsFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := New(context.Background(), cfg, logger.NewNop())

	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNew_Options(t *testing.T) {
	provider := credentials.StaticProvider{Err: credentials.ErrMissingVariable}
	store := repository.NewSheetsStore(repository.SheetsStoreConfig{Credentials: provider, Catalog: domain.DefaultCatalog()})

	c, err := New(context.Background(), testConfig(), logger.NewNop(), WithCredentials(provider), WithStore(store))

	require.NoError(t, err)
	assert.Equal(t, provider, c.Credentials)
	assert.Same(t, store, c.Store)
}

func TestContainer_StartAndClose(t *testing.T) {
	c, err := New(context.Background(), testConfig(), logger.NewNop())
	require.NoError(t, err)

	c.Start(context.Background())

	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}
