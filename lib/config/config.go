// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/codec"
)

// EnvironmentVariable names the variable [Load] reads.
const EnvironmentVariable = "VMS_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the broker configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// SocketPath is the broker's Unix socket.
	SocketPath string `yaml:"socket_path"`

	// StateDir holds the token signing keypair.
	StateDir string `yaml:"state_dir"`

	// MetricsAddress is the TCP address for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddress string `yaml:"metrics_address"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Tokens   TokensConfig      `yaml:"tokens"`
	Delivery DeliveryConfig    `yaml:"delivery"`
	Policy   capability.Policy `yaml:"policy"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
// Empty values leave the base value alone.
type Overrides struct {
	SocketPath     string          `yaml:"socket_path,omitempty"`
	StateDir       string          `yaml:"state_dir,omitempty"`
	MetricsAddress string          `yaml:"metrics_address,omitempty"`
	LogLevel       string          `yaml:"log_level,omitempty"`
	Tokens         *TokensConfig   `yaml:"tokens,omitempty"`
	Delivery       *DeliveryConfig `yaml:"delivery,omitempty"`
}

// TokensConfig configures capability token issuance.
type TokensConfig struct {
	// Audience is stamped into every token. Default: vms-broker.
	Audience string `yaml:"audience"`

	// RevocationRetention is how long revoked token ids stay
	// blacklisted. Default: 1h.
	RevocationRetention string `yaml:"revocation_retention"`

	// KeyIdentityFile is an age identity file. When set, the signing
	// key is stored sealed to it.
	KeyIdentityFile string `yaml:"key_identity_file"`
}

// DeliveryConfig configures pushes to subscriber streams.
type DeliveryConfig struct {
	// WriteTimeout bounds one message write to a subscriber. A
	// timed-out write is a delivery failure. Default: 5s.
	WriteTimeout string `yaml:"write_timeout"`

	// DefaultCompression applies to subscribers that do not ask for
	// one: none, lz4 or zstd.
	DefaultCompression string `yaml:"default_compression"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Environment:    Development,
		SocketPath:     "${XDG_RUNTIME_DIR:-/tmp}/vms/broker.sock",
		StateDir:       "${HOME}/.local/state/vms",
		MetricsAddress: "",
		LogLevel:       "debug",
		Tokens: TokensConfig{
			Audience:            "vms-broker",
			RevocationRetention: "1h",
		},
		Delivery: DeliveryConfig{
			WriteTimeout:       "5s",
			DefaultCompression: "none",
		},
		Policy: capability.DefaultPolicy(),
	}
}

// Load loads the file named by VMS_CONFIG. It fails if the variable is
// unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your broker config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of [Default], applies
// the environment section, and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are
		// stripped.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{LogLevel: "info"}
		}
	}
	if overrides == nil {
		return
	}

	override(&c.SocketPath, overrides.SocketPath)
	override(&c.StateDir, overrides.StateDir)
	override(&c.MetricsAddress, overrides.MetricsAddress)
	override(&c.LogLevel, overrides.LogLevel)
	if tokens := overrides.Tokens; tokens != nil {
		override(&c.Tokens.Audience, tokens.Audience)
		override(&c.Tokens.RevocationRetention, tokens.RevocationRetention)
		override(&c.Tokens.KeyIdentityFile, tokens.KeyIdentityFile)
	}
	if delivery := overrides.Delivery; delivery != nil {
		override(&c.Delivery.WriteTimeout, delivery.WriteTimeout)
		override(&c.Delivery.DefaultCompression, delivery.DefaultCompression)
	}
}

func override(field *string, value string) {
	if value != "" {
		*field = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.StateDir = expandVars(c.StateDir, vars)
	vars["VMS_STATE"] = c.StateDir

	c.SocketPath = expandVars(c.SocketPath, vars)
	c.Tokens.KeyIdentityFile = expandVars(c.Tokens.KeyIdentityFile, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// RevocationRetention parses Tokens.RevocationRetention.
func (c *Config) RevocationRetention() (time.Duration, error) {
	return parseDuration("tokens.revocation_retention", c.Tokens.RevocationRetention)
}

// WriteTimeout parses Delivery.WriteTimeout.
func (c *Config) WriteTimeout() (time.Duration, error) {
	return parseDuration("delivery.write_timeout", c.Delivery.WriteTimeout)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return duration, nil
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	environments := []Environment{Development, Staging, Production}
	if !slices.Contains(environments, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.Tokens.Audience == "" {
		errs = append(errs, errors.New("tokens.audience is required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RevocationRetention(); err != nil {
		errs = append(errs, err)
	}
	if timeout, err := c.WriteTimeout(); err != nil {
		errs = append(errs, err)
	} else if timeout == 0 {
		errs = append(errs, errors.New("delivery.write_timeout must be positive"))
	}
	if _, err := codec.ParseCompression(c.Delivery.DefaultCompression); err != nil {
		errs = append(errs, fmt.Errorf("delivery.default_compression: %w", err))
	}
	for index, rule := range c.Policy.Rules {
		if len(rule.Clients) == 0 || len(rule.Actions) == 0 {
			errs = append(errs, fmt.Errorf("policy.rules[%d]: clients and actions are required", index))
		}
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the state directory and the socket's parent
// directory.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.StateDir, filepath.Dir(c.SocketPath)} {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
