// Package custom stores user-curated observances in a human-editable YAML
// file. Before every change the previous file is copied into a rotating set
// of timestamped backups.
package custom

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// Defaults for Config.
const (
	DefaultFile       = "custom_observances.yaml"
	DefaultBackupDir  = "backups"
	DefaultMaxBackups = 10
)

const backupStamp = "20060102T150405.000000000Z"

// Config configures the file store.
type Config struct {
	File       string `mapstructure:"file"`
	BackupDir  string `mapstructure:"backup_dir"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type document struct {
	Observances []yaml.Node `yaml:"observances"`
}

type outDocument struct {
	Observances []observance.Observance `yaml:"observances"`
}

// FileStore implements observance.CustomStore on top of a local.Store.
type FileStore struct {
	cfg    Config
	store  *local.Store
	clock  observance.Clock
	logger *zap.Logger
}

// NewFileStore builds a FileStore. Zero config fields take the defaults.
func NewFileStore(cfg Config, store *local.Store, clock observance.Clock, logger *zap.Logger) *FileStore {
	if cfg.File == "" {
		cfg.File = DefaultFile
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = DefaultBackupDir
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{cfg: cfg, store: store, clock: clock, logger: logger.Named("custom")}
}

// List returns every stored observance in file order. A missing file is an
// empty list. Entries that fail to decode are skipped and logged.
func (s *FileStore) List(ctx context.Context) ([]observance.Observance, error) {
	return s.load(ctx)
}

// Upsert replaces the entry with the same date and name, or appends a new
// one, then re-sorts the file by month and day.
func (s *FileStore) Upsert(ctx context.Context, o observance.Observance) error {
	o.Name = strings.TrimSpace(o.Name)
	if err := o.Validate(); err != nil {
		return err
	}
	unlock, err := s.store.Lock(ctx, s.cfg.File)
	if err != nil {
		return fmt.Errorf("lock custom file: %w", err)
	}
	defer unlock()

	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	updated := false
	for i := range list {
		if list[i].Date == o.Date && list[i].Name == o.Name {
			list[i] = o
			updated = true
			break
		}
	}
	if !updated {
		list = append(list, o)
	}
	slices.SortStableFunc(list, func(a, b observance.Observance) int {
		return cmp.Or(cmp.Compare(a.Date.Month, b.Date.Month), cmp.Compare(a.Date.Day, b.Date.Day))
	})

	if err := s.save(ctx, list); err != nil {
		return err
	}
	s.logger.Info("saved custom observance",
		zap.Stringer("date", o.Date),
		zap.String("name", o.Name),
		zap.Bool("updated", updated),
	)
	return nil
}

// Remove deletes entries on date. With a name only that entry goes;
// otherwise every entry on the date does. It returns observance.ErrNotFound
// when nothing matched.
func (s *FileStore) Remove(ctx context.Context, date observance.DayMonth, name string) (int, error) {
	unlock, err := s.store.Lock(ctx, s.cfg.File)
	if err != nil {
		return 0, fmt.Errorf("lock custom file: %w", err)
	}
	defer unlock()

	list, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	name = strings.TrimSpace(name)
	kept := slices.DeleteFunc(slices.Clone(list), func(o observance.Observance) bool {
		return o.Date == date && (name == "" || o.Name == name)
	})
	removed := len(list) - len(kept)
	if removed == 0 {
		return 0, fmt.Errorf("%w: custom observance on %s", observance.ErrNotFound, date)
	}
	if err := s.save(ctx, kept); err != nil {
		return 0, err
	}
	s.logger.Info("removed custom observances", zap.Stringer("date", date), zap.Int("removed", removed))
	return removed, nil
}

// Backups returns backup file names, newest first.
func (s *FileStore) Backups(ctx context.Context) ([]string, error) {
	names, err := s.store.List(ctx, s.cfg.BackupDir, s.backupPattern())
	if err != nil {
		return nil, err
	}
	slices.Reverse(names)
	return names, nil
}

// RestoreLatest replaces the file with the newest backup. The current
// contents are snapshotted first, so a restore can itself be undone.
func (s *FileStore) RestoreLatest(ctx context.Context) (string, error) {
	unlock, err := s.store.Lock(ctx, s.cfg.File)
	if err != nil {
		return "", fmt.Errorf("lock custom file: %w", err)
	}
	defer unlock()

	backups, err := s.Backups(ctx)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("%w: no custom backups", observance.ErrNotFound)
	}
	latest := backups[0]
	data, err := s.store.ReadFile(ctx, latest)
	if err != nil {
		return "", fmt.Errorf("read backup: %w", err)
	}
	if err := s.write(ctx, data); err != nil {
		return "", err
	}
	s.logger.Info("restored custom observances", zap.String("backup", latest))
	return latest, nil
}

func (s *FileStore) load(ctx context.Context) ([]observance.Observance, error) {
	data, err := s.store.ReadFile(ctx, s.cfg.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []observance.Observance{}, nil
		}
		return nil, fmt.Errorf("read custom file: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode custom file: %w", err)
	}

	out := make([]observance.Observance, 0, len(doc.Observances))
	skipped := 0
	for i := range doc.Observances {
		var o observance.Observance
		if err := doc.Observances[i].Decode(&o); err != nil {
			skipped++
			s.logger.Warn("skipping custom entry", zap.Int("line", doc.Observances[i].Line), zap.Error(err))
			continue
		}
		if err := o.Validate(); err != nil {
			skipped++
			s.logger.Warn("skipping custom entry", zap.Int("line", doc.Observances[i].Line), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	if skipped > 0 {
		s.logger.Warn("custom file has invalid entries", zap.Int("skipped", skipped))
	}
	return out, nil
}

func (s *FileStore) save(ctx context.Context, list []observance.Observance) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(outDocument{Observances: list}); err != nil {
		return fmt.Errorf("encode custom file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode custom file: %w", err)
	}
	return s.write(ctx, buf.Bytes())
}

// write snapshots the current file into the backup directory, then replaces
// it with data.
func (s *FileStore) write(ctx context.Context, data []byte) error {
	current, err := s.store.ReadFile(ctx, s.cfg.File)
	switch {
	case err == nil:
		if err := s.store.WriteFile(ctx, s.backupName(), current); err != nil {
			s.logger.Warn("create custom backup", zap.Error(err))
		} else {
			s.rotate(ctx)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read custom file: %w", err)
	}
	if err := s.store.WriteFile(ctx, s.cfg.File, data); err != nil {
		return fmt.Errorf("write custom file: %w", err)
	}
	return nil
}

func (s *FileStore) base() string {
	return strings.TrimSuffix(path.Base(s.cfg.File), path.Ext(s.cfg.File))
}

func (s *FileStore) backupPattern() string {
	return s.base() + "_*" + path.Ext(s.cfg.File)
}

func (s *FileStore) backupName() string {
	stamp := s.clock.Now().UTC().Format(backupStamp)
	return path.Join(s.cfg.BackupDir, s.base()+"_"+stamp+path.Ext(s.cfg.File))
}

// rotate keeps the newest MaxBackups snapshots.
func (s *FileStore) rotate(ctx context.Context) {
	backups, err := s.Backups(ctx)
	if err != nil {
		s.logger.Warn("list custom backups", zap.Error(err))
		return
	}
	if len(backups) <= s.cfg.MaxBackups {
		return
	}
	for _, old := range backups[s.cfg.MaxBackups:] {
		if err := s.store.Remove(ctx, old); err != nil {
			s.logger.Warn("remove old custom backup", zap.String("backup", old), zap.Error(err))
			continue
		}
		s.logger.Debug("removed old custom backup", zap.String("backup", old))
	}
}
