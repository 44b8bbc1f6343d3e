// Package config loads the host configuration: built-in defaults, an
// optional TOML file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/deskhost/internal/env"
	"github.com/loykin/deskhost/internal/logger"
	"github.com/loykin/deskhost/internal/paths"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every key, e.g.
// DESKHOST_READINESS_MAX_ATTEMPTS for readiness.max_attempts.
const EnvPrefix = "DESKHOST"

// Config is the complete host configuration.
type Config struct {
	Mode           string        `toml:"mode" mapstructure:"mode"`
	Host           string        `toml:"host" mapstructure:"host"`
	Port           int           `toml:"port" mapstructure:"port"`
	Python         string        `toml:"python" mapstructure:"python"`
	SettingsModule string        `toml:"settings_module" mapstructure:"settings_module"`
	SettingsEnvKey string        `toml:"settings_env_key" mapstructure:"settings_env_key"`
	DataDirEnvKey  string        `toml:"data_dir_env_key" mapstructure:"data_dir_env_key"`
	LogDirEnvKey   string        `toml:"log_dir_env_key" mapstructure:"log_dir_env_key"`
	ProjectRoot    string        `toml:"project_root" mapstructure:"project_root"`
	ResourceRoot   string        `toml:"resource_root" mapstructure:"resource_root"`
	StatusAddr     string        `toml:"status_addr" mapstructure:"status_addr"`
	StopTimeout    time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	OutputCapacity int           `toml:"output_capacity" mapstructure:"output_capacity"`
	Env            []string      `toml:"env" mapstructure:"env"`
	EnvFiles       []string      `toml:"env_files" mapstructure:"env_files"`

	App        AppConfig        `toml:"app" mapstructure:"app"`
	Readiness  ReadinessConfig  `toml:"readiness" mapstructure:"readiness"`
	Relocation RelocationConfig `toml:"relocation" mapstructure:"relocation"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
}

type AppConfig struct {
	Vendor       string `toml:"vendor" mapstructure:"vendor"`
	Name         string `toml:"name" mapstructure:"name"`
	RuntimeName  string `toml:"runtime_name" mapstructure:"runtime_name"`
	ServerEntry  string `toml:"server_entry" mapstructure:"server_entry"`
	ServerModule string `toml:"server_module" mapstructure:"server_module"`
}

type ReadinessConfig struct {
	Path         string        `toml:"path" mapstructure:"path"`
	UIPath       string        `toml:"ui_path" mapstructure:"ui_path"`
	MaxAttempts  int           `toml:"max_attempts" mapstructure:"max_attempts"`
	Interval     time.Duration `toml:"interval" mapstructure:"interval"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type RelocationConfig struct {
	ConfigFile string `toml:"config_file" mapstructure:"config_file"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"` // <dataDir>/deskhost-history.db when empty
}

type LogConfig struct {
	Level              string `toml:"level" mapstructure:"level"`
	Format             string `toml:"format" mapstructure:"format"`
	Color              bool   `toml:"color" mapstructure:"color"`
	TimeStamps         bool   `toml:"timestamps" mapstructure:"timestamps"`
	CaptureChildOutput bool   `toml:"capture_child_output" mapstructure:"capture_child_output"`
	MaxSizeMB          int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups         int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays         int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress           bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled          bool          `toml:"enabled" mapstructure:"enabled"`
	ResourceInterval time.Duration `toml:"resource_interval" mapstructure:"resource_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(paths.ModeAuto))
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8765)
	v.SetDefault("python", "")
	v.SetDefault("settings_module", "config.settings")
	v.SetDefault("settings_env_key", "DJANGO_SETTINGS_MODULE")
	v.SetDefault("data_dir_env_key", "APP_DATA_DIR")
	v.SetDefault("log_dir_env_key", "APP_LOG_DIR")
	v.SetDefault("project_root", "")
	v.SetDefault("resource_root", "")
	v.SetDefault("status_addr", "")
	v.SetDefault("stop_timeout", 5*time.Second)
	v.SetDefault("output_capacity", 80)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("app.vendor", "DesktopAdmin")
	v.SetDefault("app.name", "desktop-admin")
	v.SetDefault("app.runtime_name", "python")
	v.SetDefault("app.server_entry", "desktop_admin/admin_server.py")
	v.SetDefault("app.server_module", "desktop_admin.admin_server")

	v.SetDefault("readiness.path", "/admin/login/")
	v.SetDefault("readiness.ui_path", "/admin/")
	v.SetDefault("readiness.max_attempts", 20)
	v.SetDefault("readiness.interval", 500*time.Millisecond)
	v.SetDefault("readiness.probe_timeout", 2*time.Second)

	v.SetDefault("relocation.config_file", "pyvenv.cfg")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.capture_child_output", false)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.resource_interval", 5*time.Second)
}

// bindEnv wires the backend's conventional variables ahead of the prefixed
// ones: the first non-empty variable wins.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	binds := map[string][]string{
		"port":            {"DESKHOST_PORT", "DJANGO_PORT"},
		"python":          {"DESKHOST_PYTHON", "DJANGO_PYTHON", "PYTHON"},
		"settings_module": {"DESKHOST_SETTINGS_MODULE", "DJANGO_SETTINGS_MODULE"},
	}
	for key, names := range binds {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration. path may be empty to use defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the host cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := paths.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range (0 picks a free port)", c.Port))
	}
	if c.Readiness.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("readiness.max_attempts must be positive, got %d", c.Readiness.MaxAttempts))
	}
	if c.Readiness.Interval <= 0 {
		errs = append(errs, fmt.Errorf("readiness.interval must be positive, got %s", c.Readiness.Interval))
	}
	if !strings.HasPrefix(c.Readiness.Path, "/") {
		errs = append(errs, fmt.Errorf("readiness.path must start with '/', got %q", c.Readiness.Path))
	}
	if c.OutputCapacity <= 0 {
		errs = append(errs, fmt.Errorf("output_capacity must be positive, got %d", c.OutputCapacity))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch logger.Format(c.Log.Format) {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LaunchMode is the configured mode; Validate already rejected bad values.
func (c *Config) LaunchMode() paths.Mode {
	m, _ := paths.ParseMode(c.Mode)
	return m
}

// AppInfo describes the application for path resolution.
func (c *Config) AppInfo() paths.AppInfo {
	root := c.ResourceRoot
	if root == "" {
		root = paths.DefaultResourceRoot()
	}
	return paths.AppInfo{
		Vendor:       c.App.Vendor,
		Name:         c.App.Name,
		RuntimeName:  c.App.RuntimeName,
		ServerEntry:  c.App.ServerEntry,
		ResourceRoot: root,
	}
}

// HistoryPath is where lifecycle history is stored for loc.
func (c *Config) HistoryPath(loc paths.Location) string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(loc.DataDir, "deskhost-history.db")
}

// Logging builds the logger configuration; the host log goes to
// <logDir>/deskhost.log and captured child output next to it.
func (c *Config) Logging(loc paths.Location) logger.Config {
	lc := logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(c.Log.Level),
			Format:     logger.Format(c.Log.Format),
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
		},
		File: logger.FileConfig{
			HostLog:    filepath.Join(loc.LogDir, "deskhost.log"),
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
	if c.Log.CaptureChildOutput {
		lc.File.Dir = loc.LogDir
	}
	return lc
}

// ChildEnv is the base environment handed to the backend: the host's own
// environment, then env_files in order, then the env list.
func (c *Config) ChildEnv() ([]string, error) {
	e := env.FromOS()
	for _, p := range c.EnvFiles {
		vars, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.SetAll(vars)
	}
	e.SetAll(env.FromList(c.Env).Map())
	return e.List(), nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (env.Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(env.Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
