// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package config

import (
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Genesis configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Clock   ClockConfig   `mapstructure:"clock"`
	Lua     RuntimeConfig `mapstructure:"lua"`
	Wasm    WasmConfig    `mapstructure:"wasm"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PathsConfig locates state, plugins and static web assets.
type PathsConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	PluginsDir string `mapstructure:"plugins_dir"`
	WebRoot    string `mapstructure:"web_root"`
}

// ClockConfig controls the tick publisher.
type ClockConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// RuntimeConfig bounds calls into a script runtime. Zero disables the bound.
type RuntimeConfig struct {
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
}

// WasmConfig bounds wasm units. MemoryLimit caps each module's linear
// memory ("16Mi", "1Gi"); empty leaves the runtime default.
type WasmConfig struct {
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
	MemoryLimit string        `mapstructure:"memory_limit"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig controls console and file logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// JournalPath returns journal.path, or journal.db inside the data dir.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Paths.DataDir, "journal.db")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:5000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("paths.plugins_dir", filepath.Join("kernel", "plugins"))
	v.SetDefault("paths.web_root", ".")
	v.SetDefault("clock.enabled", true)
	v.SetDefault("clock.interval", 60*time.Second)
	v.SetDefault("lua.exec_timeout", 5*time.Second)
	v.SetDefault("wasm.exec_timeout", 5*time.Second)
	v.SetDefault("wasm.memory_limit", "16Mi")
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// SetupEnv maps GENESIS_SECTION_KEY environment variables onto v.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("GENESIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path, or from genesis.yaml in the
// search path when path is empty, with environment variable overrides
// (prefix GENESIS_). A missing file in the search path is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	SetupEnv(v)

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, generr.Errorf(generr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("genesis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("/etc/genesis")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, generr.Errorf(generr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, generr.Errorf(generr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, generr.Errorf(generr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validatePaths()...)
	errs = append(errs, c.validateTimers()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return generr.Errorf(generr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else if err := ValidateListen(c.Server.Listen); err != nil {
		errs = append(errs, err)
	}

	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, invalid("server.read_timeout must be greater than 0, got %s", c.Server.ReadTimeout))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, invalid("server.write_timeout must be greater than 0, got %s", c.Server.WriteTimeout))
	}

	return errs
}

// ValidateListen checks a host:port listen address.
func ValidateListen(listen string) error {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return invalid("server.listen must be a valid host:port address, got %q: %w", listen, err)
	}
	// host can be empty (e.g., ":5000"), which is valid
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return invalid("server.listen port must be a number, got %q", portStr)
	}
	if port < 1 || port > 65535 {
		return invalid("server.listen port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func (c *Config) validatePaths() []error {
	var errs []error

	for _, p := range []struct{ key, value string }{
		{"paths.data_dir", c.Paths.DataDir},
		{"paths.plugins_dir", c.Paths.PluginsDir},
		{"paths.web_root", c.Paths.WebRoot},
	} {
		if strings.TrimSpace(p.value) == "" {
			errs = append(errs, invalid("%s must not be empty", p.key))
		}
	}

	return errs
}

func (c *Config) validateTimers() []error {
	var errs []error

	if c.Clock.Enabled && c.Clock.Interval <= 0 {
		errs = append(errs, invalid("clock.interval must be greater than 0, got %s", c.Clock.Interval))
	}
	if c.Lua.ExecTimeout < 0 {
		errs = append(errs, invalid("lua.exec_timeout must not be negative, got %s", c.Lua.ExecTimeout))
	}
	if c.Wasm.ExecTimeout < 0 {
		errs = append(errs, invalid("wasm.exec_timeout must not be negative, got %s", c.Wasm.ExecTimeout))
	}
	if _, err := ParseMemoryLimit(c.Wasm.MemoryLimit); err != nil {
		errs = append(errs, invalid("wasm.memory_limit: %w", err))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}
