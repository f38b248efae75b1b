package holidayapi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// ErrQuotaExceeded is returned once the monthly call budget is spent.
var ErrQuotaExceeded = errors.New("monthly holiday api quota exceeded")

// Budget counts upstream calls per calendar month in a plain integer file.
type Budget struct {
	store  *local.Store
	source string
	limit  int
	warnAt int
	clock  observance.Clock
	logger *zap.Logger
}

// NewBudget builds a Budget. A non-positive limit means unlimited.
func NewBudget(store *local.Store, source string, limit, warnAt int, clock observance.Clock, logger *zap.Logger) *Budget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Budget{
		store:  store,
		source: strings.ToLower(source),
		limit:  limit,
		warnAt: warnAt,
		clock:  clock,
		logger: logger,
	}
}

// MonthKey is the current budget period, YYYY-MM.
func (b *Budget) MonthKey() string {
	return b.clock.Now().Format("2006-01")
}

func (b *Budget) file() string {
	return "holidayapi/calls/" + b.source + "-" + b.MonthKey() + ".count"
}

// Count returns the calls made this month.
func (b *Budget) Count(ctx context.Context) (int, error) {
	return b.read(ctx, b.file())
}

func (b *Budget) read(ctx context.Context, name string) (int, error) {
	data, err := b.store.ReadFile(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse call count: %w", err)
	}
	return n, nil
}

// Check returns ErrQuotaExceeded when the limit is reached. It does not
// record anything.
func (b *Budget) Check(ctx context.Context) error {
	n, err := b.Count(ctx)
	if err != nil {
		return err
	}
	if b.limit > 0 && n >= b.limit {
		return fmt.Errorf("%w: %d/%d calls in %s", ErrQuotaExceeded, n, b.limit, b.MonthKey())
	}
	return nil
}

// Reserve atomically checks the limit and records one call, returning the
// new count.
func (b *Budget) Reserve(ctx context.Context) (int, error) {
	name := b.file()
	unlock, err := b.store.Lock(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("lock call counter: %w", err)
	}
	defer unlock()

	n, err := b.read(ctx, name)
	if err != nil {
		return 0, err
	}
	if b.limit > 0 && n >= b.limit {
		return n, fmt.Errorf("%w: %d/%d calls in %s", ErrQuotaExceeded, n, b.limit, b.MonthKey())
	}
	n++
	if err := b.store.WriteFile(ctx, name, []byte(strconv.Itoa(n))); err != nil {
		return 0, fmt.Errorf("write call counter: %w", err)
	}
	if b.warnAt > 0 && n >= b.warnAt {
		b.logger.Warn("holiday api budget running low", zap.Int("calls", n), zap.Int("limit", b.limit))
	}
	metrics.SetHolidayAPIMonthlyCalls(n)
	return n, nil
}

// Release gives back one reserved call that was never sent.
func (b *Budget) Release(ctx context.Context) (int, error) {
	name := b.file()
	unlock, err := b.store.Lock(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("lock call counter: %w", err)
	}
	defer unlock()

	n, err := b.read(ctx, name)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	n--
	if err := b.store.WriteFile(ctx, name, []byte(strconv.Itoa(n))); err != nil {
		return 0, fmt.Errorf("write call counter: %w", err)
	}
	metrics.SetHolidayAPIMonthlyCalls(n)
	return n, nil
}

// Limit returns the monthly limit.
func (b *Budget) Limit() int {
	return b.limit
}
