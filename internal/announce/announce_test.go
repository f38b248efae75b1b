package announce

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/storage/local"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Wednesday.
var wednesday = time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *local.Store {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: t.TempDir(), LockTimeout: 5 * time.Second})
	require.NoError(t, err)
	return store
}

func TestTryMarkOnce(t *testing.T) {
	t.Parallel()
	l := NewLedger(newStore(t), &fakeClock{now: wednesday}, 0, zap.NewNop())
	ctx := context.Background()

	ok, err := l.TryMark(ctx, KindBirthday, "2026-10-14", "U123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryMark(ctx, KindBirthday, "2026-10-14", "U123")
	require.NoError(t, err)
	assert.False(t, ok, "second mark observes already done")

	ok, err = l.TryMark(ctx, KindBirthday, "2026-10-14", "U456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryMark(ctx, KindTimezoneBirthday, "2026-10-14", "U123")
	require.NoError(t, err)
	assert.True(t, ok, "kinds are independent")

	members, err := l.Members(ctx, KindBirthday, "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, []string{"U123", "U456"}, members)

	marked, err := l.IsMarked(ctx, KindTimezoneBirthday, "2026-10-14", "U456")
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestTryMarkNowUsesKindKeys(t *testing.T) {
	t.Parallel()
	l := NewLedger(newStore(t), &fakeClock{now: wednesday}, 0, nil)
	ctx := context.Background()

	ok, err := l.TryMarkNow(ctx, KindSpecialDays, "")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.TryMarkNow(ctx, KindWeeklyDigest, "")
	require.NoError(t, err)
	assert.True(t, ok)

	marked, err := l.IsMarked(ctx, KindSpecialDays, "2026-10-14", "")
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = l.IsMarked(ctx, KindWeeklyDigest, "2026-W42", "")
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestTryMarkRejectsBadKeys(t *testing.T) {
	t.Parallel()
	l := NewLedger(newStore(t), &fakeClock{now: wednesday}, 0, nil)

	_, err := l.TryMark(context.Background(), KindWeeklyDigest, "2026-10-14", "")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = l.TryMark(context.Background(), KindSpecialDays, "2026-W42", "")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestConcurrentMarksSucceedOnce(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	clock := &fakeClock{now: wednesday}
	ctx := context.Background()

	// Two ledgers over one store behave like two handlers sharing the file.
	ledgers := []*Ledger{NewLedger(store, clock, 0, nil), NewLedger(store, clock, 0, nil)}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledgers[i%2].TryMark(ctx, KindSpecialDays, "2026-10-14", "")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestPurge(t *testing.T) {
	t.Parallel()
	l := NewLedger(newStore(t), &fakeClock{now: wednesday}, 7*24*time.Hour, nil)
	ctx := context.Background()

	for _, day := range []string{"2026-09-30", "2026-10-06", "2026-10-07", "2026-10-14"} {
		_, err := l.TryMark(ctx, KindSpecialDays, day, "")
		require.NoError(t, err)
	}
	for _, week := range []string{"2026-W40", "2026-W41", "2026-W42"} {
		_, err := l.TryMark(ctx, KindWeeklyDigest, week, "")
		require.NoError(t, err)
	}

	removed, err := l.Purge(ctx, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for day, want := range map[string]bool{"2026-09-30": false, "2026-10-06": false, "2026-10-07": true, "2026-10-14": true} {
		marked, err := l.IsMarked(ctx, KindSpecialDays, day, "")
		require.NoError(t, err)
		assert.Equal(t, want, marked, day)
	}
	marked, err := l.IsMarked(ctx, KindWeeklyDigest, "2026-W41", "")
	require.NoError(t, err)
	assert.True(t, marked, "the week containing the cutoff survives")
	marked, err = l.IsMarked(ctx, KindWeeklyDigest, "2026-W40", "")
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("anniversary")
	require.Error(t, err)
}

func ExampleKind_Key() {
	t := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
	fmt.Println(KindSpecialDays.Key(t))
	fmt.Println(KindWeeklyDigest.Key(t))
	// Output:
	// 2026-01-01
	// 2026-W01
}
