package sourcecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/extract"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

func newTestRegistry(t *testing.T) (*Registry, *atomic.Int32, *fakeRunner) {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	runner := &fakeRunner{list: sampleList()}
	clock := &fakeClock{now: time.Date(2026, time.April, 7, 0, 0, 0, 0, time.UTC)}

	defaults := extract.DefaultSources()
	configs := []SourceConfig{
		{Source: defaults[observance.SourceUN], Enabled: true},
		{Source: defaults[observance.SourceWHO], Enabled: true},
		{Source: defaults[observance.SourceUNESCO], Enabled: false},
	}
	var built atomic.Int32
	reg := NewRegistry(configs, func(cfg SourceConfig) *Cache {
		built.Add(1)
		return New(cfg.Source, cfg.TTL, store, runner, clock, zap.NewNop())
	})
	return reg, &built, runner
}

func TestRegistryBuildsLazilyOnce(t *testing.T) {
	t.Parallel()
	reg, built, _ := newTestRegistry(t)
	assert.Zero(t, built.Load())

	var wg sync.WaitGroup
	caches := make([]*Cache, 10)
	for i := range caches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := reg.Get("un")
			assert.NoError(t, err)
			caches[i] = c
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, built.Load())
	for _, c := range caches {
		assert.Same(t, caches[0], c)
	}
}

func TestRegistryUnknownSource(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Get("FAO")
	require.ErrorIs(t, err, ErrUnknownSource)
	_, err = reg.Refresh(context.Background(), "FAO", true)
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestRegistryEnabledAndStatuses(t *testing.T) {
	t.Parallel()
	reg, _, runner := newTestRegistry(t)
	ctx := context.Background()

	assert.Equal(t, []string{"UN", "UNESCO", "WHO"}, reg.Names())
	assert.Equal(t, []string{"UN", "WHO"}, reg.EnabledNames())
	enabled := reg.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "UN", enabled[0].Name())
	assert.Equal(t, "WHO", enabled[1].Name())

	stats := reg.RefreshStale(ctx)
	assert.Len(t, stats, 2)
	assert.Equal(t, 2, stats["UN"].Fetched)
	assert.EqualValues(t, 2, runner.calls.Load())

	again := reg.RefreshStale(ctx)
	assert.True(t, again["WHO"].Cached)
	assert.EqualValues(t, 2, runner.calls.Load())

	statuses := reg.Statuses(ctx)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Exists)
	assert.True(t, statuses[0].Enabled)
	assert.False(t, statuses[1].Exists, "disabled source was never refreshed")
	assert.False(t, statuses[1].Enabled)

	forced, err := reg.Refresh(ctx, "unesco", true)
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Fetched)
}
