package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "semplan.yaml"
	// ProjectConfigFileTOML is the TOML alternative to ProjectConfigFile
	ProjectConfigFileTOML = "semplan.toml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/semplan"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// UserDataDir holds session data when session.path is unset
	UserDataDir = ".local/share/semplan"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SEMPLAN_"
)

// KeyFunc resolves the API key for a provider. The bool reports whether
// a key was found.
type KeyFunc func(provider string) (string, bool)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger   *slog.Logger
	getenv   func(string) string
	homeDir  string
	workDir  string
	explicit string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithGetenv replaces os.Getenv, mainly for tests.
func WithGetenv(getenv func(string) string) LoaderOption {
	return func(l *Loader) { l.getenv = getenv }
}

// WithHomeDir overrides the home directory used for user config and data.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.homeDir = dir }
}

// WithWorkDir sets the directory the project config search starts from.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) { l.workDir = dir }
}

// WithConfigFile replaces the user and project layers with one file.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) { l.explicit = path }
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, getenv: os.Getenv}
	for _, opt := range opts {
		opt(l)
	}
	if l.homeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			l.homeDir = home
		}
	}
	if l.workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			l.workDir = cwd
		}
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/semplan/config.yaml)
// 3. Project config (semplan.yaml or semplan.toml in current or parent directories)
// 4. Environment variables (SEMPLAN_PROVIDER, SEMPLAN_<NAME>_MODEL, SEMPLAN_<NAME>_BASE_URL)
// An explicit file from WithConfigFile replaces layers 2 and 3 and must exist.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if l.explicit != "" {
		explicitConfig, err := LoadFromFile(l.explicit)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", l.explicit))
		config.Merge(explicitConfig)
	} else {
		l.mergeFile(config, l.userConfigPath(), "user")
		if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
			l.mergeFile(config, projectConfigPath, "project")
		} else {
			l.logger.Debug("No project config found")
		}
	}

	l.applyEnv(config)

	if config.Session.Path == "" && l.homeDir != "" {
		config.Session.Path = filepath.Join(l.homeDir, UserDataDir, "sessions")
		if config.Session.Driver == SessionDriverSQLite {
			config.Session.Path = filepath.Join(l.homeDir, UserDataDir, "sessions.db")
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) mergeFile(config *Config, path, layer string) {
	if path == "" {
		return
	}
	fileConfig, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("Loaded "+layer+" config", slog.String("path", path))
		config.Merge(fileConfig)
	case errors.Is(err, ErrNoConfig):
	default:
		l.logger.Warn("Failed to load "+layer+" config", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// applyEnv applies SEMPLAN_* overrides. API keys are not copied into the
// config; KeyFunc reads them on demand.
func (l *Loader) applyEnv(config *Config) {
	if v := l.getenv(EnvPrefix + "PROVIDER"); v != "" {
		config.DefaultProvider = v
	}
	for name, p := range config.Providers {
		if v := l.getenv(envKey(name, "MODEL")); v != "" {
			p.Model = v
		}
		if v := l.getenv(envKey(name, "BASE_URL")); v != "" {
			p.BaseURL = v
		}
		config.Providers[name] = p
	}
}

// KeyFunc returns the credential lookup for config: the api_key from the
// file if set, then SEMPLAN_<NAME>_API_KEY.
func (l *Loader) KeyFunc(config *Config) KeyFunc {
	return func(provider string) (string, bool) {
		if p, ok := config.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey, true
		}
		if v := l.getenv(envKey(provider, "API_KEY")); v != "" {
			return v, true
		}
		return "", false
	}
}

// envKey builds SEMPLAN_<NAME>_<SUFFIX> with the name upper-cased and
// dashes and dots replaced by underscores.
func envKey(provider, suffix string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider))
	return EnvPrefix + name + "_" + suffix
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for semplan.yaml or semplan.toml in the
// working directory and its parents
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		for _, name := range []string{ProjectConfigFile, ProjectConfigFileTOML} {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
