package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// AppConfig holds app-wide settings persisted in ~/.wrangler/config.yaml.
type AppConfig struct {
	// DashboardPassword, when set, seeds the dashboard's bcrypt hash
	// file the first time it's needed. Left empty (with PublicMode
	// true) for a no-auth dashboard.
	DashboardPassword string `yaml:"dashboard_password,omitempty"`
	PublicMode        bool   `yaml:"public_mode,omitempty"`

	DashboardPort    int `yaml:"dashboard_port,omitempty"`
	CoordinationPort int `yaml:"coordination_port,omitempty"`

	ProgressDirName string `yaml:"progress_dir_name,omitempty"`
	SocketPath      string `yaml:"socket_path,omitempty"` // override; default is project-local

	DefaultDurationMinutes int `yaml:"default_duration_minutes,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// DefaultAppConfig returns the built-in defaults applied where the
// loaded file (or environment) leaves a field unset.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		PublicMode:             false,
		DashboardPort:          7337,
		CoordinationPort:       7338,
		DefaultDurationMinutes: 30,
		LogLevel:               "info",
	}
}

// Load reads config.yaml from dir, merging it over the defaults. A
// missing file is not an error.
func Load(dir string) (AppConfig, error) {
	cfg := DefaultAppConfig()
	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to dir/config.yaml, creating dir if absent.
func Save(dir string, cfg AppConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// EnvOverrides holds the project/socket path overrides ApplyEnv
// returns (the project path doesn't live in AppConfig since it is
// per-invocation, not a persisted setting).
type EnvOverrides struct {
	ProjectPath string
	SocketPath  string
}

// ApplyEnv reads WRANGLER_* environment variables and overlays them
// onto cfg in place, returning any per-invocation path overrides.
func ApplyEnv(cfg *AppConfig) EnvOverrides {
	var out EnvOverrides
	if v := os.Getenv("WRANGLER_PROJECT_PATH"); v != "" {
		out.ProjectPath = v
	}
	if v := os.Getenv("WRANGLER_SOCKET_PATH"); v != "" {
		out.SocketPath = v
		cfg.SocketPath = v
	}
	if v := os.Getenv("WRANGLER_DASHBOARD_PASSWORD"); v != "" {
		cfg.DashboardPassword = v
	}
	if v := os.Getenv("WRANGLER_DASHBOARD_PUBLIC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PublicMode = b
		}
	}
	if v := os.Getenv("WRANGLER_DASHBOARD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DashboardPort = n
		}
	}
	if v := os.Getenv("WRANGLER_COORDINATION_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CoordinationPort = n
		}
	}
	if v := os.Getenv("WRANGLER_PROGRESS_DIR"); v != "" {
		cfg.ProgressDirName = v
	}
	return out
}
