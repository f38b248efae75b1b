package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

const settingsFile = "settings.json"

type settingsDoc struct {
	CategoriesEnabled map[string]bool `json:"categories_enabled"`
	LastModified      time.Time       `json:"last_modified,omitzero"`
}

// settingsStore persists runtime category toggles on top of configured
// defaults. Without a backing store toggles live in memory only.
type settingsStore struct {
	store    *local.Store
	defaults map[observance.Category]bool
	clock    observance.Clock
	logger   *zap.Logger

	mu     sync.Mutex
	memory map[observance.Category]bool
}

func newSettingsStore(store *local.Store, defaults map[observance.Category]bool, clock observance.Clock, logger *zap.Logger) *settingsStore {
	base := make(map[observance.Category]bool, len(observance.Categories()))
	for _, c := range observance.Categories() {
		base[c] = true
	}
	maps.Copy(base, defaults)
	return &settingsStore{store: store, defaults: base, clock: clock, logger: logger, memory: map[observance.Category]bool{}}
}

func (s *settingsStore) enabled(ctx context.Context) map[observance.Category]bool {
	out := maps.Clone(s.defaults)
	if s.store == nil {
		s.mu.Lock()
		maps.Copy(out, s.memory)
		s.mu.Unlock()
		return out
	}
	doc, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("read settings", zap.Error(err))
		return out
	}
	for name, on := range doc.CategoriesEnabled {
		c, err := observance.ParseCategory(name)
		if err != nil {
			continue
		}
		out[c] = on
	}
	return out
}

func (s *settingsStore) set(ctx context.Context, c observance.Category, on bool) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", observance.ErrInvalidCategory, string(c))
	}
	if s.store == nil {
		s.mu.Lock()
		s.memory[c] = on
		s.mu.Unlock()
		return nil
	}
	unlock, err := s.store.Lock(ctx, settingsFile)
	if err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	defer unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if doc.CategoriesEnabled == nil {
		doc.CategoriesEnabled = make(map[string]bool)
	}
	doc.CategoriesEnabled[string(c)] = on
	if s.clock != nil {
		doc.LastModified = s.clock.Now()
	}
	if err := s.store.WriteJSON(ctx, settingsFile, doc); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.logger.Info("category toggled", zap.String("category", string(c)), zap.Bool("enabled", on))
	return nil
}

func (s *settingsStore) load(ctx context.Context) (settingsDoc, error) {
	var doc settingsDoc
	if err := s.store.ReadJSON(ctx, settingsFile, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settingsDoc{}, nil
		}
		return settingsDoc{}, fmt.Errorf("read settings: %w", err)
	}
	return doc, nil
}
