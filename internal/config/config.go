// Package config provides configuration management for the valyent CLI and
// log daemon. It uses koanf v2 to load a YAML file and then applies
// environment overrides prefixed with VALYENT_, so a token can be supplied
// without ever being written to disk.
//
// Configuration is loaded from $XDG_CONFIG_HOME/valyent/config.yaml by
// default. The file should have restricted permissions (0600) as it
// contains the API token.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/forward"
	"github.com/valyent/valyent-go/internal/stream"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: VALYENT_FORWARD__SERVERS sets forward.servers.
const EnvPrefix = "VALYENT_"

// Duration is a time.Duration written as "60s" in YAML.
type Duration time.Duration

// UnmarshalText parses a Go duration string. koanf uses it when decoding.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the client configuration.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// Endpoint is the API base URL.
	// Default: https://api.valyent.dev.
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`

	// Namespace is the organization namespace. Required for sandboxes.
	Namespace string `koanf:"namespace" yaml:"namespace"`

	// Token is the API bearer token. Required.
	Token string `koanf:"token" yaml:"token"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error".
	// Default: "info".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// LogFormat selects the log handler: "text" or "json".
	// Default: "text".
	LogFormat string `koanf:"log_format" yaml:"log_format"`

	// ConnectTimeout bounds the wait for execution response headers.
	// Default: 60s. A negative value disables the budget.
	ConnectTimeout Duration `koanf:"connect_timeout" yaml:"connect_timeout,omitempty"`

	// StreamTimeout bounds reading the execution body. Default: 60s.
	StreamTimeout Duration `koanf:"stream_timeout" yaml:"stream_timeout,omitempty"`

	// RequestTimeout bounds each request/response API call. Default: 30s.
	RequestTimeout Duration `koanf:"request_timeout" yaml:"request_timeout,omitempty"`

	// RetryMax is the number of retries for request/response API calls.
	// Streaming calls never retry. Default: 0.
	RetryMax int `koanf:"retry_max" yaml:"retry_max,omitempty"`

	// StateDir holds the log daemon's checkpoint database.
	// Default: $XDG_STATE_HOME/valyent or ~/.local/state/valyent.
	StateDir string `koanf:"state_dir" yaml:"state_dir,omitempty"`

	// MetricsAddr is the listen address of the log daemon's /metrics
	// endpoint. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr" yaml:"metrics_addr,omitempty"`

	// ReconnectDelay is the base delay before the log daemon follows a
	// machine again after its stream ended. Default: 5s.
	ReconnectDelay Duration `koanf:"reconnect_delay" yaml:"reconnect_delay,omitempty"`

	// ReconnectJitter is the maximum random delay added to ReconnectDelay.
	// Default: 5s.
	ReconnectJitter Duration `koanf:"reconnect_jitter" yaml:"reconnect_jitter,omitempty"`

	// Forward configures publishing followed log records to NATS.
	Forward ForwardConfig `koanf:"forward" yaml:"forward,omitempty"`

	// Follow lists the machines the log daemon follows.
	Follow []FollowTarget `koanf:"follow" yaml:"follow,omitempty"`
}

// ForwardConfig configures the NATS log forwarder.
type ForwardConfig struct {
	// Servers is a comma-separated list of NATS server URLs. Empty disables
	// forwarding.
	Servers string `koanf:"servers" yaml:"servers,omitempty"`

	// NKeySeed authenticates to NATS. Optional.
	NKeySeed string `koanf:"nkey_seed" yaml:"nkey_seed,omitempty"`

	// SubjectPrefix is prepended to "<fleet>.<machine>". Default: "valyent.logs".
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix,omitempty"`

	// JetStream waits for a stream acknowledgement on every publish.
	JetStream bool `koanf:"jetstream" yaml:"jetstream,omitempty"`
}

// ForwardOptions returns the forwarder configuration.
func (c *Config) ForwardOptions() forward.Config {
	return forward.Config{
		Servers:       c.Forward.Servers,
		NKeySeed:      c.Forward.NKeySeed,
		SubjectPrefix: c.Forward.SubjectPrefix,
		JetStream:     c.Forward.JetStream,
	}
}

// Enabled reports whether forwarding is configured.
func (f ForwardConfig) Enabled() bool {
	return f.Servers != ""
}

// FollowTarget names one machine to follow.
type FollowTarget struct {
	Fleet   string `koanf:"fleet" yaml:"fleet"`
	Machine string `koanf:"machine" yaml:"machine"`
}

// Validation errors returned by Load when fields are missing or invalid.
var (
	ErrTokenRequired     = errors.New("token is required (set it in the config file or VALYENT_TOKEN)")
	ErrInvalidLogLevel   = errors.New("log_level must be one of debug, info, warn, error")
	ErrInvalidLogFormat  = errors.New("log_format must be text or json")
	ErrInvalidRetryMax   = errors.New("retry_max must not be negative")
	ErrInvalidFollowItem = errors.New("follow entries need both fleet and machine")
)

// DefaultPath returns the default location of the configuration file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".valyent", "config.yaml")
	}
	return filepath.Join(dir, "valyent", "config.yaml")
}

// Load reads configuration from the YAML file at path, when it exists, and
// then applies VALYENT_ environment overrides. It applies defaults for
// optional fields and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for optional fields
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKeyValue maps VALYENT_FORWARD__NKEY_SEED to forward.nkey_seed. Empty
// variables are skipped so they never clear a value from the file.
func envKeyValue(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = client.DefaultEndpoint
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(stream.DefaultBudget)
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = Duration(stream.DefaultBudget)
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(client.DefaultTimeout)
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = Duration(5 * time.Second)
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = Duration(5 * time.Second)
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	if c.Forward.SubjectPrefix == "" {
		c.Forward.SubjectPrefix = "valyent.logs"
	}
}

// validate checks that required configuration fields are present and valid.
func (c *Config) validate() error {
	if c.Token == "" {
		return ErrTokenRequired
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	if c.RetryMax < 0 {
		return ErrInvalidRetryMax
	}
	for _, f := range c.Follow {
		if f.Fleet == "" || f.Machine == "" {
			return ErrInvalidFollowItem
		}
	}
	return nil
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "valyent")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".valyent"
	}
	return filepath.Join(home, ".local", "state", "valyent")
}

// Budgets returns the execution timeout budgets. A negative duration
// disables the corresponding budget.
func (c *Config) Budgets() stream.Budgets {
	return stream.Budgets{
		Connect: max(c.ConnectTimeout.Std(), 0),
		Stream:  max(c.StreamTimeout.Std(), 0),
	}
}

// ClientOptions returns the API client options.
func (c *Config) ClientOptions() client.Options {
	return client.Options{
		Endpoint:  c.Endpoint,
		Namespace: c.Namespace,
		Token:     c.Token,
		RetryMax:  c.RetryMax,
		Timeout:   c.RequestTimeout.Std(),
	}
}

// CheckpointPath returns the path of the log daemon's checkpoint database.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.StateDir, "checkpoints.db")
}

// Save writes the configuration to the specified YAML file path.
// The file is created with 0600 permissions (owner read/write only)
// as it contains the API token.
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write file with restricted permissions (contains secrets)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}
