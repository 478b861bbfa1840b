package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// DefaultConfigFileName is the standard configuration file name.
	DefaultConfigFileName = "vmibridge.toml"

	// XDGConfigSubdir is the subdirectory under XDG_CONFIG_HOME and XDG_DATA_HOME.
	XDGConfigSubdir = "vmibridge"

	// ConfigPathEnv names a config file when no -config flag is given.
	ConfigPathEnv = "VMI_CONFIG"
)

// LoadError represents an error that occurred while loading configuration.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load finds, decodes and validates the configuration. Sources, first match wins:
//
//  1. explicitPath, then $VMI_CONFIG
//  2. $XDG_CONFIG_HOME/vmibridge/vmibridge.toml (or ~/.config/...)
//  3. ./vmibridge.toml
//  4. Default(), written to the XDG path when createDefault is set
//
// VMI_* environment variables override whatever the file sets. The returned
// path is "" when the default could not be written.
func Load(explicitPath string, createDefault bool) (*Config, string, error) {
	if explicitPath == "" {
		explicitPath = os.Getenv(ConfigPathEnv)
	}
	if explicitPath != "" {
		cfg, err := loadFromFile(explicitPath)
		if err != nil {
			return nil, "", &LoadError{Path: explicitPath, Err: err}
		}
		return cfg, explicitPath, nil
	}

	candidates := searchPaths()
	for _, path := range candidates {
		if !fileExists(path) {
			continue
		}
		cfg, err := loadFromFile(path)
		if err != nil {
			return nil, "", &LoadError{Path: path, Err: err}
		}
		return cfg, path, nil
	}

	if !createDefault {
		return nil, "", fmt.Errorf("no configuration file found; searched: %s", strings.Join(candidates, ", "))
	}

	cfg := Default()
	target := candidates[0]

	// Written before the env overlay so credentials never reach the file.
	saveErr := Save(cfg, target)

	if err := finish(cfg); err != nil {
		return nil, "", &LoadError{Path: "environment", Err: err}
	}
	if saveErr != nil {
		return cfg, "", nil
	}
	return cfg, target, nil
}

// searchPaths lists the implicit config locations, XDG first.
func searchPaths() []string {
	var paths []string
	if p := xdgConfigPath(); p != "" {
		paths = append(paths, p)
	}
	return append(paths, filepath.Join(".", DefaultConfigFileName))
}

func loadFromFile(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies the environment overlay and validates.
func finish(cfg *Config) error {
	if err := applyEnv(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// applyEnv overlays fields tagged with env:"VMI_*" from the process environment.
// Unset variables leave the file value in place.
func applyEnv(cfg *Config) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}
	return nil
}

// Save writes cfg as TOML, replacing path atomically. The header lists the
// environment variables that override the file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# VMI Order Bridge configuration\n#\n")
	buf.WriteString("# Generated with default values. ERP credentials belong in the environment.\n")

	heading := "Environment overrides:"
	if desc, err := cleanenv.GetDescription(cfg, &heading); err == nil {
		for _, line := range strings.Split(desc, "\n") {
			if line = strings.TrimRight(line, " \t"); line != "" {
				buf.WriteString("# " + line + "\n")
			}
		}
	}
	buf.WriteString("\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0640); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// xdgConfigPath returns the XDG config file path, or "" without a home.
func xdgConfigPath() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, XDGConfigSubdir, DefaultConfigFileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", XDGConfigSubdir, DefaultConfigFileName)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// xdgDataDir returns $XDG_DATA_HOME/vmibridge (or ~/.local/share/vmibridge).
func xdgDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, XDGConfigSubdir)
}

// EnsureDataDir returns the state file path, creating its directory. A
// relative path is placed under the XDG data directory.
func EnsureDataDir(cfg *Config) (string, error) {
	dbPath := cfg.Database.Path
	if !filepath.IsAbs(dbPath) {
		if dataDir := xdgDataDir(); dataDir != "" {
			dbPath = filepath.Join(dataDir, dbPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return "", fmt.Errorf("creating database directory: %w", err)
	}
	return dbPath, nil
}

// EnsureLogDir returns the log file path, creating its directory, or "" when
// file logging is disabled.
func EnsureLogDir(cfg *Config) (string, error) {
	if cfg.Logging.File == "" {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0750); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return cfg.Logging.File, nil
}

// EnsureFolders creates the PO, forecast, output, archive and activity-log
// folders that are configured.
func EnsureFolders(cfg *Config) error {
	var errs []error
	for _, dir := range []string{cfg.Folders.PO, cfg.Folders.Forecast, cfg.Folders.Output, cfg.Folders.Archive, cfg.Audit.CSVDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			errs = append(errs, fmt.Errorf("creating folder %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// BackupDir returns the state backup directory next to the state file,
// creating it.
func BackupDir(cfg *Config) (string, error) {
	dbPath, err := EnsureDataDir(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(filepath.Dir(dbPath), "backups")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	return dir, nil
}
