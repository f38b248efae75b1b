// Package announce tracks what has already been dispatched and which cadence
// (daily or weekly) special-day digests currently follow.
package announce

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// ErrLockTimeout is returned when the ledger file stays locked by another
// process for longer than the configured timeout.
var ErrLockTimeout = local.ErrLockTimeout

// ErrInvalidKey marks a ledger key in the wrong format for its kind.
var ErrInvalidKey = errors.New("invalid ledger key")

// Kind selects an independent marker set.
type Kind string

// Ledger kinds. Weekly digests are keyed YYYY-Www, everything else
// YYYY-MM-DD.
const (
	KindBirthday         Kind = "birthday"
	KindTimezoneBirthday Kind = "timezone_birthday"
	KindSpecialDays      Kind = "special_days"
	KindWeeklyDigest     Kind = "weekly_digest"
)

// Kinds lists every ledger kind.
func Kinds() []Kind {
	return []Kind{KindBirthday, KindTimezoneBirthday, KindSpecialDays, KindWeeklyDigest}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !slices.Contains(Kinds(), k) {
		return "", fmt.Errorf("unknown announcement kind %q", s)
	}
	return k, nil
}

var (
	dayKeyPattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	weekKeyPattern = regexp.MustCompile(`^\d{4}-W\d{2}$`)
)

// Key returns the ledger key of kind for t.
func (k Kind) Key(t time.Time) string {
	if k == KindWeeklyDigest {
		return observance.WeekKey(t)
	}
	return observance.DateKey(t)
}

// ValidKey reports whether key has the format kind expects.
func (k Kind) ValidKey(key string) bool {
	if k == KindWeeklyDigest {
		return weekKeyPattern.MatchString(key)
	}
	return dayKeyPattern.MatchString(key)
}

const ledgerFile = "announce/ledger.json"

// DefaultRetention is how long markers are kept.
const DefaultRetention = 7 * 24 * time.Hour

type ledgerDoc struct {
	Markers     map[Kind]map[string][]string `json:"markers"`
	LastCleanup time.Time                    `json:"last_cleanup,omitzero"`
}

// Ledger records dispatch markers in one JSON file.
type Ledger struct {
	store     *local.Store
	clock     observance.Clock
	retention time.Duration
	logger    *zap.Logger
}

// NewLedger builds a Ledger. A non-positive retention uses DefaultRetention.
func NewLedger(store *local.Store, clock observance.Clock, retention time.Duration, logger *zap.Logger) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, clock: clock, retention: retention, logger: logger.Named("ledger")}
}

// TryMark marks member under (kind, key) unless it is already marked. It
// returns true when this call made the mark. The check and the write happen
// under one lock. An empty member marks the key itself, as used by digests.
func (l *Ledger) TryMark(ctx context.Context, kind Kind, key, member string) (bool, error) {
	if !kind.ValidKey(key) {
		return false, fmt.Errorf("%w: %q for %s", ErrInvalidKey, key, kind)
	}
	unlock, err := l.store.Lock(ctx, ledgerFile)
	if err != nil {
		return false, fmt.Errorf("lock ledger: %w", err)
	}
	defer unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	members := doc.Markers[kind][key]
	if slices.Contains(members, member) {
		l.logger.Debug("already marked", zap.String("kind", string(kind)), zap.String("key", key), zap.String("member", member))
		metrics.ObserveAnnouncementMark(string(kind), false)
		return false, nil
	}

	if doc.Markers[kind] == nil {
		doc.Markers[kind] = make(map[string][]string)
	}
	doc.Markers[kind][key] = append(members, member)
	if err := l.store.WriteJSON(ctx, ledgerFile, doc); err != nil {
		return false, fmt.Errorf("write ledger: %w", err)
	}
	l.logger.Info("marked", zap.String("kind", string(kind)), zap.String("key", key), zap.String("member", member))
	metrics.ObserveAnnouncementMark(string(kind), true)
	return true, nil
}

// TryMarkNow is TryMark with the key of kind for the current time.
func (l *Ledger) TryMarkNow(ctx context.Context, kind Kind, member string) (bool, error) {
	return l.TryMark(ctx, kind, kind.Key(l.clock.Now()), member)
}

// IsMarked reports whether member is marked under (kind, key).
func (l *Ledger) IsMarked(ctx context.Context, kind Kind, key, member string) (bool, error) {
	members, err := l.Members(ctx, kind, key)
	if err != nil {
		return false, err
	}
	return slices.Contains(members, member), nil
}

// Members returns the members marked under (kind, key).
func (l *Ledger) Members(ctx context.Context, kind Kind, key string) ([]string, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(doc.Markers[kind][key]), nil
}

// Purge drops every key older than the retention window relative to now and
// returns how many keys went. Keys are compared as strings against the
// cutoff key of their kind; both formats sort chronologically.
func (l *Ledger) Purge(ctx context.Context, now time.Time) (int, error) {
	unlock, err := l.store.Lock(ctx, ledgerFile)
	if err != nil {
		return 0, fmt.Errorf("lock ledger: %w", err)
	}
	defer unlock()

	doc, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	cutoffTime := now.Add(-l.retention)
	removed := 0
	for kind, keys := range doc.Markers {
		cutoff := kind.Key(cutoffTime)
		for key := range keys {
			if key < cutoff {
				delete(keys, key)
				removed++
			}
		}
	}
	doc.LastCleanup = now
	if err := l.store.WriteJSON(ctx, ledgerFile, doc); err != nil {
		return 0, fmt.Errorf("write ledger: %w", err)
	}
	if removed > 0 {
		l.logger.Info("purged old markers", zap.Int("removed", removed))
	}
	return removed, nil
}

func (l *Ledger) load(ctx context.Context) (ledgerDoc, error) {
	var doc ledgerDoc
	if err := l.store.ReadJSON(ctx, ledgerFile, &doc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ledgerDoc{}, fmt.Errorf("read ledger: %w", err)
	}
	if doc.Markers == nil {
		doc.Markers = make(map[Kind]map[string][]string)
	}
	return doc, nil
}
