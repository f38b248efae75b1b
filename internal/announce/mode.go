package announce

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// Mode is the announcement cadence.
type Mode string

// Cadences.
const (
	ModeDaily  Mode = "daily"
	ModeWeekly Mode = "weekly"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDaily, ModeWeekly:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want daily or weekly)", s)
	}
}

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if want == name || (len(want) == 3 && strings.HasPrefix(name, want)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Transition is a daily->weekly switch waiting for its effective date.
type Transition struct {
	PreviousMode  Mode   `json:"previous_mode"`
	EffectiveDate string `json:"effective_date"`
}

// State is the persisted cadence plus what applies right now.
type State struct {
	Mode      Mode        `json:"mode"`
	Effective Mode        `json:"effective_mode"`
	WeeklyDay string      `json:"weekly_day"`
	Pending   *Transition `json:"pending,omitempty"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

type modeDoc struct {
	Mode      Mode        `json:"mode"`
	WeeklyDay string      `json:"weekly_day"`
	Pending   *Transition `json:"pending,omitempty"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

const modeFile = "announce/mode.json"

// ModeConfig seeds the machine before anything is persisted.
type ModeConfig struct {
	Mode      Mode
	WeeklyDay time.Weekday
	Location  *time.Location
}

// Modes is the cadence state machine. Switching daily->weekly is deferred
// to the next weekly day on or after today; the pending record is evaluated
// and cleared on read, so no timer is needed.
type Modes struct {
	store  *local.Store
	clock  observance.Clock
	cfg    ModeConfig
	logger *zap.Logger
}

// NewModes builds the state machine.
func NewModes(store *local.Store, clock observance.Clock, cfg ModeConfig, logger *zap.Logger) *Modes {
	if cfg.Mode == "" {
		cfg.Mode = ModeDaily
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Modes{store: store, clock: clock, cfg: cfg, logger: logger.Named("mode")}
}

func (m *Modes) today() string {
	return observance.DateKey(m.clock.Now().In(m.cfg.Location))
}

// Effective returns the cadence that applies today.
func (m *Modes) Effective(ctx context.Context) (Mode, error) {
	st, err := m.State(ctx)
	if err != nil {
		return "", err
	}
	return st.Effective, nil
}

// State resolves any due transition and returns the current state.
func (m *Modes) State(ctx context.Context) (State, error) {
	unlock, err := m.store.Lock(ctx, modeFile)
	if err != nil {
		return State{}, fmt.Errorf("lock mode: %w", err)
	}
	defer unlock()

	doc, err := m.load(ctx)
	if err != nil {
		return State{}, err
	}
	if doc.Pending != nil && m.today() >= doc.Pending.EffectiveDate {
		m.logger.Info("pending transition applied",
			zap.String("mode", string(doc.Mode)),
			zap.String("effective_date", doc.Pending.EffectiveDate),
		)
		doc.Pending = nil
		doc.UpdatedAt = m.clock.Now()
		if err := m.save(ctx, doc); err != nil {
			return State{}, err
		}
	}
	return m.state(doc), nil
}

func (m *Modes) state(doc modeDoc) State {
	st := State{Mode: doc.Mode, Effective: doc.Mode, WeeklyDay: doc.WeeklyDay, Pending: doc.Pending, UpdatedAt: doc.UpdatedAt}
	if doc.Pending != nil {
		st.Effective = doc.Pending.PreviousMode
	}
	return st
}

// Set switches the cadence. weekday, when non-nil, replaces the weekly day.
// weekly->daily is immediate and cancels any pending switch; daily->weekly
// becomes effective on the next weekly day on or after today.
func (m *Modes) Set(ctx context.Context, mode Mode, weekday *time.Weekday) (State, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return State{}, err
	}
	unlock, err := m.store.Lock(ctx, modeFile)
	if err != nil {
		return State{}, fmt.Errorf("lock mode: %w", err)
	}
	defer unlock()

	doc, err := m.load(ctx)
	if err != nil {
		return State{}, err
	}
	if weekday != nil {
		doc.WeeklyDay = strings.ToLower(weekday.String())
	}
	effective := m.state(doc).Effective

	switch mode {
	case ModeDaily:
		doc.Mode = ModeDaily
		doc.Pending = nil
	case ModeWeekly:
		doc.Mode = ModeWeekly
		if effective == ModeDaily {
			day, err := ParseWeekday(doc.WeeklyDay)
			if err != nil {
				return State{}, err
			}
			doc.Pending = &Transition{PreviousMode: ModeDaily, EffectiveDate: m.nextWeekday(day)}
		}
		if doc.Pending != nil && m.today() >= doc.Pending.EffectiveDate {
			doc.Pending = nil
		}
	}
	doc.UpdatedAt = m.clock.Now()
	if err := m.save(ctx, doc); err != nil {
		return State{}, err
	}
	st := m.state(doc)
	m.logger.Info("mode set",
		zap.String("mode", string(st.Mode)),
		zap.String("effective", string(st.Effective)),
		zap.String("weekly_day", st.WeeklyDay),
	)
	return st, nil
}

// nextWeekday returns the date key of the next day on or after today that
// falls on day.
func (m *Modes) nextWeekday(day time.Weekday) string {
	now := m.clock.Now().In(m.cfg.Location)
	ahead := (int(day) - int(now.Weekday()) + 7) % 7
	return observance.DateKey(now.AddDate(0, 0, ahead))
}

// WeekStart returns the most recent weekly day on or before t, at midnight.
func (m *Modes) WeekStart(ctx context.Context, t time.Time) (time.Time, error) {
	st, err := m.State(ctx)
	if err != nil {
		return time.Time{}, err
	}
	day, err := ParseWeekday(st.WeeklyDay)
	if err != nil {
		return time.Time{}, err
	}
	t = t.In(m.cfg.Location)
	back := (int(t.Weekday()) - int(day) + 7) % 7
	start := t.AddDate(0, 0, -back)
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, m.cfg.Location), nil
}

func (m *Modes) load(ctx context.Context) (modeDoc, error) {
	doc := modeDoc{Mode: m.cfg.Mode, WeeklyDay: strings.ToLower(m.cfg.WeeklyDay.String())}
	if err := m.store.ReadJSON(ctx, modeFile, &doc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return modeDoc{}, fmt.Errorf("read mode: %w", err)
	}
	return doc, nil
}

func (m *Modes) save(ctx context.Context, doc modeDoc) error {
	if err := m.store.WriteJSON(ctx, modeFile, doc); err != nil {
		return fmt.Errorf("write mode: %w", err)
	}
	return nil
}
