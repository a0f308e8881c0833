package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consumed at startup
const (
	EnvBrokerURI  = "QUEUE_RUNNER_BROKER_URI"
	EnvWorkdir    = "QUEUE_RUNNER_WORKDIR"
	EnvResultsURI = "QUEUE_RUNNER_RESULTS_URI"
	EnvLedgerDSN  = "QUEUE_RUNNER_LEDGER_DSN"
)

// Defaults for the CLI surface
const (
	DefaultCondaEnv   = "base"
	DefaultResultsTTL = 500 * time.Second
)

var (
	// ErrNoQueues is returned when no queue name was given on the command line
	ErrNoQueues = errors.New("at least one queue name is required")

	// ErrBrokerURIRequired is returned when the broker URI environment variable is unset or empty
	ErrBrokerURIRequired = errors.New(EnvBrokerURI + " is required")

	// ErrWorkdirRequired is returned when the working directory environment variable is unset or empty
	ErrWorkdirRequired = errors.New(EnvWorkdir + " is required")

	// ErrHookRequired is returned when no security hook is configured and
	// unrestricted execution was not explicitly allowed
	ErrHookRequired = errors.New("a security hook is required unless --allow-unrestricted is set")
)

// Config is the immutable worker configuration, constructed once at startup
// and passed by reference to each component.
type Config struct {
	Queues            []string
	BrokerURI         string
	ResultsURI        string
	ResultsTTL        time.Duration
	CondaEnv          string
	Workdir           string
	SecurityHook      string
	AllowUnrestricted bool
	LedgerDSN         string
	Reconnect         ReconnectConfig
	DrainTimeout      time.Duration
	Logging           LoggingConfig
}

// ReconnectConfig bounds the exponential backoff used when the broker
// connection is lost or unreachable.
type ReconnectConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// fileConfig is the optional YAML overlay for settings that rarely change
// per invocation. Durations are strings in time.ParseDuration form.
type fileConfig struct {
	Reconnect struct {
		MaxAttempts     int    `yaml:"max_attempts"`
		InitialInterval string `yaml:"initial_interval"`
		MaxInterval     string `yaml:"max_interval"`
	} `yaml:"reconnect"`
	DrainTimeout string        `yaml:"drain_timeout"`
	Logging      LoggingConfig `yaml:"logging"`
	SecurityHook string        `yaml:"security_hook"`
}

// FromArgs builds the worker configuration from command-line arguments and
// the environment. args is os.Args[1:].
func FromArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("queue-runner", flag.ContinueOnError)

	condaEnv := fs.String("conda-env", DefaultCondaEnv, "Conda environment jobs execute in")
	resultsTTL := fs.Int("results-ttl", int(DefaultResultsTTL/time.Second), "Seconds each job result is retained")
	securityHook := fs.String("security-hook", "", "Path to the sandboxing hook executable")
	allowUnrestricted := fs.Bool("allow-unrestricted", false, "Run without a security hook (not recommended)")
	configPath := fs.String("config", "", "Path to optional YAML configuration file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &Config{
		Queues:            fs.Args(),
		BrokerURI:         os.Getenv(EnvBrokerURI),
		ResultsURI:        os.Getenv(EnvResultsURI),
		ResultsTTL:        time.Duration(*resultsTTL) * time.Second,
		CondaEnv:          *condaEnv,
		Workdir:           os.Getenv(EnvWorkdir),
		SecurityHook:      *securityHook,
		AllowUnrestricted: *allowUnrestricted,
		LedgerDSN:         os.Getenv(EnvLedgerDSN),
		Reconnect: ReconnectConfig{
			MaxAttempts:     10,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
		DrainTimeout: 30 * time.Second,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}

	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			return nil, err
		}
	}

	// The results store defaults to the broker when both live on Redis.
	if cfg.ResultsURI == "" {
		cfg.ResultsURI = cfg.BrokerURI
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays the YAML file settings onto the defaults.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if fc.Reconnect.MaxAttempts > 0 {
		c.Reconnect.MaxAttempts = fc.Reconnect.MaxAttempts
	}
	if err := overlayDuration(&c.Reconnect.InitialInterval, fc.Reconnect.InitialInterval); err != nil {
		return fmt.Errorf("failed to parse config file: reconnect.initial_interval: %w", err)
	}
	if err := overlayDuration(&c.Reconnect.MaxInterval, fc.Reconnect.MaxInterval); err != nil {
		return fmt.Errorf("failed to parse config file: reconnect.max_interval: %w", err)
	}
	if err := overlayDuration(&c.DrainTimeout, fc.DrainTimeout); err != nil {
		return fmt.Errorf("failed to parse config file: drain_timeout: %w", err)
	}
	if fc.Logging.Level != "" {
		c.Logging.Level = fc.Logging.Level
	}
	if fc.Logging.Format != "" {
		c.Logging.Format = fc.Logging.Format
	}
	if fc.Logging.Output != "" {
		c.Logging.Output = fc.Logging.Output
	}
	if fc.SecurityHook != "" && c.SecurityHook == "" {
		c.SecurityHook = fc.SecurityHook
	}

	return nil
}

// overlayDuration parses raw into dst when raw is non-empty.
func overlayDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Validate checks the configuration and fails fast on any malformed input.
func (c *Config) Validate() error {
	if len(c.Queues) == 0 {
		return ErrNoQueues
	}
	for _, q := range c.Queues {
		if q == "" {
			return fmt.Errorf("queue names must be non-empty: %w", ErrNoQueues)
		}
	}

	if c.BrokerURI == "" {
		return ErrBrokerURIRequired
	}
	if err := validateURI(c.BrokerURI); err != nil {
		return fmt.Errorf("broker URI: %w", err)
	}
	if err := validateURI(c.ResultsURI); err != nil {
		return fmt.Errorf("results URI: %w", err)
	}

	if c.ResultsTTL < 0 {
		return fmt.Errorf("results TTL must be non-negative, got %s", c.ResultsTTL)
	}

	if c.Workdir == "" {
		return ErrWorkdirRequired
	}

	if c.SecurityHook == "" && !c.AllowUnrestricted {
		return ErrHookRequired
	}

	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max_attempts must be greater than 0")
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be greater than 0")
	}

	return nil
}

// validateURI rejects URIs that are unparsable or missing a scheme or host.
func validateURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URI %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("malformed URI %q: scheme and host are required", raw)
	}
	return nil
}
