// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/specialdays/internal/announce"
	"github.com/JakeFAU/specialdays/internal/custom"
	"github.com/JakeFAU/specialdays/internal/extract"
	"github.com/JakeFAU/specialdays/internal/extract/detector"
	"github.com/JakeFAU/specialdays/internal/extract/structured"
	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/logging"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/scheduler"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
	"github.com/JakeFAU/specialdays/internal/storage/postgres"
)

// Storage backends for custom entries.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Auth       AuthConfig              `mapstructure:"auth"`
	Logging    logging.Options         `mapstructure:"logging"`
	Storage    StorageConfig           `mapstructure:"storage"`
	DB         postgres.Config         `mapstructure:"db"`
	HTTP       HTTPConfig              `mapstructure:"http"`
	Headless   HeadlessConfig          `mapstructure:"headless"`
	Extraction structured.Config       `mapstructure:"extraction"`
	Sources    map[string]SourceConfig `mapstructure:"sources"`
	HolidayAPI HolidayAPIConfig        `mapstructure:"holiday_api"`
	Categories map[string]bool         `mapstructure:"categories"`
	Dedup      DedupConfig             `mapstructure:"dedup"`
	Announce   AnnounceConfig          `mapstructure:"announce"`
	Schedule   scheduler.Config        `mapstructure:"schedule"`
	Custom     custom.Config           `mapstructure:"custom"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig locates the data directory and picks the custom entry
// backend.
type StorageConfig struct {
	DataDir     string        `mapstructure:"data_dir"`
	Backend     string        `mapstructure:"backend"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// HTTPConfig configures outbound page and API requests.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// HeadlessConfig configures the browser used for script-rendered sources.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitSelector      string        `mapstructure:"wait_selector"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	// MinTextBytes tunes when "auto" sources are promoted to the browser.
	MinTextBytes int `mapstructure:"min_text_bytes"`
}

// SourceConfig overrides one scraped source. Unset fields fall back to the
// built-in definition of a source with the same name.
type SourceConfig struct {
	URL         string `mapstructure:"url"`
	TTLDays     int    `mapstructure:"ttl_days"`
	Enabled     bool   `mapstructure:"enabled"`
	Render      string `mapstructure:"render"`
	Parser      string `mapstructure:"parser"`
	Instruction string `mapstructure:"instruction"`
}

// HolidayAPIConfig is the holiday client config plus request pacing.
type HolidayAPIConfig struct {
	holidayapi.Config `mapstructure:",squash"`
	RPS               float64 `mapstructure:"rps"`
}

// DedupConfig tunes duplicate collapsing.
type DedupConfig struct {
	ContainmentRatio float64        `mapstructure:"containment_ratio"`
	Priorities       map[string]int `mapstructure:"priorities"`
}

// AnnounceConfig seeds the cadence state machine and ledger.
type AnnounceConfig struct {
	Mode          string `mapstructure:"mode"`
	WeeklyDay     string `mapstructure:"weekly_day"`
	Timezone      string `mapstructure:"timezone"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPECIALDAYS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.lock_timeout", 10*time.Second)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "custom_observances")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "specialdays-bot/1.0")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.rps", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.min_text_bytes", detector.DefaultMinTextBytes)
	v.SetDefault("extraction.endpoint", "")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.model", "")

	for name, src := range extract.DefaultSources() {
		key := "sources." + strings.ToLower(name)
		v.SetDefault(key+".url", src.URL)
		v.SetDefault(key+".ttl_days", int(sourcecache.DefaultTTL(name)/(24*time.Hour)))
		v.SetDefault(key+".enabled", true)
		v.SetDefault(key+".render", src.Render)
		v.SetDefault(key+".parser", src.Parser)
	}

	v.SetDefault("holiday_api.enabled", true)
	v.SetDefault("holiday_api.api_key", "")
	v.SetDefault("holiday_api.base_url", holidayapi.DefaultBaseURL)
	v.SetDefault("holiday_api.country", "US")
	v.SetDefault("holiday_api.state", "")
	v.SetDefault("holiday_api.types", holidayapi.DefaultTypes)
	v.SetDefault("holiday_api.monthly_limit", 1000)
	v.SetDefault("holiday_api.warning_threshold", 800)
	v.SetDefault("holiday_api.cache_ttl", holidayapi.DefaultCacheTTL)
	v.SetDefault("holiday_api.prefetch_days", holidayapi.DefaultPrefetchDays)
	v.SetDefault("holiday_api.retention", holidayapi.DefaultRetention)
	v.SetDefault("holiday_api.rps", 1.0)

	v.SetDefault("dedup.containment_ratio", 0.5)

	v.SetDefault("announce.mode", string(announce.ModeDaily))
	v.SetDefault("announce.weekly_day", "monday")
	v.SetDefault("announce.timezone", "UTC")
	v.SetDefault("announce.retention_days", 7)

	v.SetDefault("schedule.source_refresh", scheduler.DefaultSourceRefreshSpec)
	v.SetDefault("schedule.holiday_prefetch", scheduler.DefaultHolidayPrefetchSpec)
	v.SetDefault("schedule.maintenance", scheduler.DefaultMaintenanceSpec)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.prefetch_days", holidayapi.DefaultPrefetchDays)

	v.SetDefault("custom.file", custom.DefaultFile)
	v.SetDefault("custom.backup_dir", custom.DefaultBackupDir)
	v.SetDefault("custom.max_backups", custom.DefaultMaxBackups)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	switch c.Storage.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendFile, BackendPostgres, c.Storage.Backend)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	for name, src := range c.Sources {
		if src.Enabled && src.URL == "" {
			return fmt.Errorf("sources.%s.url must be set when the source is enabled", name)
		}
	}
	if c.HolidayAPI.MonthlyLimit < 0 {
		return fmt.Errorf("holiday_api.monthly_limit must be >= 0")
	}
	if _, err := c.CategoryDefaults(); err != nil {
		return err
	}
	if c.Dedup.ContainmentRatio < 0 || c.Dedup.ContainmentRatio > 1 {
		return fmt.Errorf("dedup.containment_ratio must be within [0, 1]")
	}
	if _, err := c.ModeConfig(); err != nil {
		return err
	}
	if c.Custom.MaxBackups < 0 {
		return fmt.Errorf("custom.max_backups must be >= 0")
	}
	return nil
}

// HTTPTimeout converts the outbound timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SourceConfigs merges the configured sources over the built-in ones and
// returns them sorted by name.
func (c Config) SourceConfigs() []sourcecache.SourceConfig {
	defaults := extract.DefaultSources()
	byKey := make(map[string]extract.Source, len(defaults))
	for name, src := range defaults {
		byKey[strings.ToLower(name)] = src
	}

	out := make([]sourcecache.SourceConfig, 0, len(c.Sources))
	for key, sc := range c.Sources {
		src, ok := byKey[strings.ToLower(key)]
		if !ok {
			src = extract.Source{Name: key, Parser: extract.ParserGeneric, Render: extract.RenderStatic}
		}
		if sc.URL != "" {
			src.URL = sc.URL
		}
		if sc.Render != "" {
			src.Render = sc.Render
		}
		if sc.Parser != "" {
			src.Parser = sc.Parser
		}
		if sc.Instruction != "" {
			src.Instruction = sc.Instruction
		}
		out = append(out, sourcecache.SourceConfig{
			Source:  src,
			TTL:     time.Duration(sc.TTLDays) * 24 * time.Hour,
			Enabled: sc.Enabled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CategoryDefaults parses the categories section.
func (c Config) CategoryDefaults() (map[observance.Category]bool, error) {
	out := make(map[observance.Category]bool, len(c.Categories))
	for name, enabled := range c.Categories {
		cat, err := observance.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("categories.%s: %w", name, err)
		}
		out[cat] = enabled
	}
	return out, nil
}

// Location returns the announcement timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Announce.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Announce.Timezone)
	if err != nil {
		return nil, fmt.Errorf("announce.timezone: %w", err)
	}
	return loc, nil
}

// ModeConfig parses the announce section for the cadence state machine.
func (c Config) ModeConfig() (announce.ModeConfig, error) {
	mode, err := announce.ParseMode(c.Announce.Mode)
	if err != nil {
		return announce.ModeConfig{}, fmt.Errorf("announce.mode: %w", err)
	}
	day, err := announce.ParseWeekday(c.Announce.WeeklyDay)
	if err != nil {
		return announce.ModeConfig{}, fmt.Errorf("announce.weekly_day: %w", err)
	}
	loc, err := c.Location()
	if err != nil {
		return announce.ModeConfig{}, err
	}
	return announce.ModeConfig{Mode: mode, WeeklyDay: day, Location: loc}, nil
}

// LedgerRetention returns how long announcement markers are kept.
func (c Config) LedgerRetention() time.Duration {
	return time.Duration(c.Announce.RetentionDays) * 24 * time.Hour
}
