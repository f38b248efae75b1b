// Package postgres provides a Postgres-backed custom observance store for
// deployments that keep their state in a database instead of the data
// directory.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/specialdays/internal/observance"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "custom_observances"

// Config controls the Postgres connection pool used for custom entries.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// CustomStore implements observance.CustomStore against one table keyed by
// (month, day, name).
type CustomStore struct {
	pool  pool
	table string
}

// NewCustomStore connects to Postgres using cfg.
func NewCustomStore(ctx context.Context, cfg Config) (*CustomStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewCustomStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewCustomStoreWithPool builds a store from an existing pool (primarily for testing).
func NewCustomStoreWithPool(p pool, table string) (*CustomStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CustomStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *CustomStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table when it does not exist.
func (s *CustomStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          BIGSERIAL,
	month       SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
	day         SMALLINT NOT NULL CHECK (day BETWEEN 1 AND 31),
	name        TEXT NOT NULL,
	category    TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	emoji       TEXT NOT NULL DEFAULT '',
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	source      TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (month, day, name)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create custom table: %w", err)
	}
	return nil
}

// List returns every row ordered by month, day and insertion.
func (s *CustomStore) List(ctx context.Context) ([]observance.Observance, error) {
	query := fmt.Sprintf(`
SELECT day, month, name, category, description, emoji, enabled, source, url
FROM %s
ORDER BY month, day, id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query custom observances: %w", err)
	}
	defer rows.Close()

	out := []observance.Observance{}
	for rows.Next() {
		var (
			o        observance.Observance
			category string
		)
		if err := rows.Scan(&o.Date.Day, &o.Date.Month, &o.Name, &category,
			&o.Description, &o.Emoji, &o.Enabled, &o.Source, &o.URL); err != nil {
			return nil, fmt.Errorf("scan custom observance: %w", err)
		}
		if o.Category, err = observance.ParseCategory(category); err != nil {
			continue
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custom observances: %w", err)
	}
	return out, nil
}

// Upsert inserts o or updates the row with the same date and name.
func (s *CustomStore) Upsert(ctx context.Context, o observance.Observance) error {
	o.Name = strings.TrimSpace(o.Name)
	if err := o.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (month, day, name, category, description, emoji, enabled, source, url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (month, day, name) DO UPDATE SET
	category = EXCLUDED.category,
	description = EXCLUDED.description,
	emoji = EXCLUDED.emoji,
	enabled = EXCLUDED.enabled,
	source = EXCLUDED.source,
	url = EXCLUDED.url`, s.table)
	args := []any{
		o.Date.Month,
		o.Date.Day,
		o.Name,
		string(o.Category),
		o.Description,
		o.Emoji,
		o.Enabled,
		o.Source,
		o.URL,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert custom observance: %w", err)
	}
	return nil
}

// Remove deletes rows on date, optionally only the one named name.
func (s *CustomStore) Remove(ctx context.Context, date observance.DayMonth, name string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE month = $1 AND day = $2`, s.table)
	args := []any{date.Month, date.Day}
	if name = strings.TrimSpace(name); name != "" {
		query += ` AND name = $3`
		args = append(args, name)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete custom observance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: custom observance on %s", observance.ErrNotFound, date)
	}
	return int(tag.RowsAffected()), nil
}
