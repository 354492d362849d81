package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"todo/internal/storage"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDataName       = "tasks.db"
	DefaultLogName        = "todo.log"
	AppDirName            = "todo"
	ConfigEnv             = "TODO_CONFIG"
)

type Keymap struct {
	Quit    string `toml:"quit"`
	Add     string `toml:"add"`
	Up      string `toml:"up"`
	Down    string `toml:"down"`
	Toggle  string `toml:"toggle"`
	Delete  string `toml:"delete"`
	Detail  string `toml:"detail"`
	Filter  string `toml:"filter"`
	Save    string `toml:"save"`
	Confirm string `toml:"confirm"`
	Cancel  string `toml:"cancel"`
}

type Config struct {
	DataPath         string `toml:"data_path"`
	DataFormat       string `toml:"data_format"`
	AutosaveInterval string `toml:"autosave_interval"`
	ShutdownTimeout  string `toml:"shutdown_timeout"`
	LogLevel         string `toml:"log_level"`
	LogPath          string `toml:"log_path"`
	DefaultFilter    string `toml:"default_filter"`
	Keys             Keymap `toml:"keys"`
}

// ResolveConfigPath returns $TODO_CONFIG when set, otherwise config.toml
// under the user config directory, falling back to the working directory.
func ResolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(ConfigEnv)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(dir, AppDirName, DefaultConfigFileName)
}

// LoadOrCreate reads the config at path, writing the defaults there first
// when the file does not exist. Relative data and log paths are resolved
// against the config file's directory.
func LoadOrCreate(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg.resolve(path), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.DataPath == "" {
		cfg.DataPath = DefaultDataName
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg.resolve(path), nil
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c Config) resolve(configPath string) Config {
	base := filepath.Dir(configPath)
	if c.DataPath != "" && !filepath.IsAbs(c.DataPath) {
		c.DataPath = filepath.Join(base, c.DataPath)
	}
	if c.LogPath != "" && !filepath.IsAbs(c.LogPath) {
		c.LogPath = filepath.Join(base, c.LogPath)
	}
	return c
}

// Validate normalises the free-form fields and rejects values the rest of
// the program cannot use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataFormat) == "" {
		c.DataFormat = string(storage.FormatSQLite)
	}
	format, err := storage.ParseFormat(c.DataFormat)
	if err != nil {
		return fmt.Errorf("invalid data_format %q: must be sqlite, json, toml or yaml", c.DataFormat)
	}
	c.DataFormat = string(format)

	if _, err := parsePositive("autosave_interval", c.AutosaveInterval); err != nil {
		return err
	}
	if _, err := parsePositive("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q: must be debug, info, warn or error", c.LogLevel)
	}

	c.DefaultFilter = strings.ToLower(strings.TrimSpace(c.DefaultFilter))
	switch c.DefaultFilter {
	case "":
		c.DefaultFilter = "all"
	case "all", "incomplete", "completed":
	default:
		return fmt.Errorf("invalid default_filter %q: must be all, incomplete or completed", c.DefaultFilter)
	}
	return nil
}

func (c Config) Autosave() time.Duration {
	d, err := parsePositive("autosave_interval", c.AutosaveInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (c Config) Shutdown() time.Duration {
	d, err := parsePositive("shutdown_timeout", c.ShutdownTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func parsePositive(name, v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, fmt.Errorf("%s is empty", name)
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, v)
	}
	return d, nil
}

func Default() Config {
	return Config{
		DataPath:         DefaultDataName,
		DataFormat:       "sqlite",
		AutosaveInterval: "30s",
		ShutdownTimeout:  "5s",
		LogLevel:         "info",
		LogPath:          DefaultLogName,
		DefaultFilter:    "all",
		Keys: Keymap{
			Quit:    "q",
			Add:     "a",
			Up:      "k",
			Down:    "j",
			Toggle:  " ",
			Delete:  "d",
			Detail:  "i",
			Filter:  "f",
			Save:    "s",
			Confirm: "enter",
			Cancel:  "esc",
		},
	}
}
