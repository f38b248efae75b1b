// Package local implements the file-backed persistence used for source
// caches, holiday API caches, counters and the announcement ledger.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where all files are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// LockTimeout bounds how long Lock waits for another process.
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// Store reads and writes whole files below a base directory. Writes go to a
// temporary file that is renamed into place, so readers never see a partial
// file.
type Store struct {
	baseDir     string
	lockTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

const defaultLockTimeout = 10 * time.Second

// New creates a new local filesystem-backed store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &Store{
		baseDir:     filepath.Clean(cfg.BaseDir),
		lockTimeout: timeout,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// BaseDir returns the root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path resolves name below the base directory, rejecting anything that would
// escape it.
func (s *Store) Path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, name))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// WriteFile atomically replaces name with data.
func (s *Store) WriteFile(_ context.Context, name string, data []byte) error {
	fullPath, err := s.Path(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// ReadFile returns the contents of name. A missing file yields an error
// matching fs.ErrNotExist.
func (s *Store) ReadFile(_ context.Context, name string) ([]byte, error) {
	fullPath, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to the base directory above.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// WriteJSON encodes v as indented JSON and writes it atomically.
func (s *Store) WriteJSON(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.WriteFile(ctx, name, data)
}

// ReadJSON decodes name into v.
func (s *Store) ReadJSON(ctx context.Context, name string, v any) error {
	data, err := s.ReadFile(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name is present.
func (s *Store) Exists(name string) bool {
	fullPath, err := s.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// ModTime returns the last modification time of name.
func (s *Store) ModTime(name string) (time.Time, error) {
	fullPath, err := s.Path(name)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return info.ModTime(), nil
}

// Remove deletes name. Removing a missing file is not an error.
func (s *Store) Remove(_ context.Context, name string) error {
	fullPath, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// List returns the sorted names, relative to the base directory, of regular
// files in dir whose base name matches pattern (filepath.Match syntax).
// A missing directory yields an empty list.
func (s *Store) List(_ context.Context, dir, pattern string) ([]string, error) {
	fullDir := s.baseDir
	if dir != "" {
		var err error
		if fullDir, err = s.Path(dir); err != nil {
			return nil, err
		}
	}
	entries, err := os.ReadDir(fullDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}
