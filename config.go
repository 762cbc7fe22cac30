package egta

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// authTokenFile is the conventional token file name, searched in the
// working directory and the user's home directory when the config names
// neither a token nor a token file.
const authTokenFile = ".egta_auth_token"

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("egta: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the file-loadable client configuration. Zero fields fall
// back to the package defaults.
type Config struct {
	BaseURL       string `yaml:"base_url"`
	Email         string `yaml:"email"`
	AuthToken     string `yaml:"auth_token"`
	AuthTokenFile string `yaml:"auth_token_file"`

	Quota struct {
		Requests int      `yaml:"requests"`
		Window   Duration `yaml:"window"`
	} `yaml:"quota"`

	Retry struct {
		MaxAttempts int      `yaml:"max_attempts"`
		Backoff     Duration `yaml:"backoff"`
		BackoffCap  Duration `yaml:"backoff_cap"`
	} `yaml:"retry"`

	Poll struct {
		Interval    Duration `yaml:"interval"`
		MaxInterval Duration `yaml:"max_interval"`
		Timeout     Duration `yaml:"timeout"`
	} `yaml:"poll"`

	Timeout Duration `yaml:"timeout"`
}

// LoadConfig reads a YAML config file and resolves the auth token: the
// inline token wins, then the named token file, then the conventional
// search path (./.egta_auth_token, ~/.egta_auth_token).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("egta: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("egta: parse config: %w", err)
	}
	if err := cfg.resolveToken(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveToken() error {
	if c.AuthToken != "" {
		return nil
	}
	search := []string{c.AuthTokenFile}
	if c.AuthTokenFile == "" {
		search = []string{authTokenFile}
		if home, err := os.UserHomeDir(); err == nil {
			search = append(search, filepath.Join(home, authTokenFile))
		}
	}
	for _, name := range search {
		data, err := os.ReadFile(name)
		if err == nil {
			c.AuthToken = strings.TrimSpace(string(data))
			return nil
		}
	}
	return fmt.Errorf("egta: no auth token supplied or found in any of: %s",
		strings.Join(search, ", "))
}

// Options expands the config into functional options for New.
func (c *Config) Options() []Option {
	var opts []Option
	if c.BaseURL != "" {
		opts = append(opts, WithBaseURL(c.BaseURL))
	}
	if c.Email != "" || c.AuthToken != "" {
		opts = append(opts, WithCredentials(c.Email, c.AuthToken))
	}
	if c.Quota.Requests > 0 {
		window := time.Duration(c.Quota.Window)
		if window == 0 {
			window = defaultConfig().quotaWindow
		}
		opts = append(opts, WithQuota(c.Quota.Requests, window))
	}
	if c.Retry.MaxAttempts > 0 || c.Retry.Backoff > 0 {
		backoff := time.Duration(c.Retry.Backoff)
		if backoff == 0 {
			backoff = defaultConfig().initialBackoff
		}
		opts = append(opts, WithRetry(c.Retry.MaxAttempts, backoff))
	}
	if c.Retry.BackoffCap > 0 {
		opts = append(opts, WithBackoffCap(time.Duration(c.Retry.BackoffCap)))
	}
	if c.Poll.Interval > 0 || c.Poll.MaxInterval > 0 {
		interval := time.Duration(c.Poll.Interval)
		max := time.Duration(c.Poll.MaxInterval)
		def := defaultConfig()
		if interval == 0 {
			interval = def.pollInterval
		}
		if max == 0 {
			max = def.maxPollInterval
		}
		opts = append(opts, WithPollInterval(interval, max))
	}
	if c.Poll.Timeout > 0 {
		opts = append(opts, WithPollTimeout(time.Duration(c.Poll.Timeout)))
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(time.Duration(c.Timeout)))
	}
	return opts
}
