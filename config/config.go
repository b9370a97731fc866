// Package config loads mailer settings from defaults, an optional YAML file
// and MAILER_* environment variables, in that order of precedence.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/synqronlabs/mailer"
	"github.com/synqronlabs/mailer/queue"
	"github.com/synqronlabs/mailer/sasl"
)

const (
	defaultBatchSize      = 10
	defaultMaxAttempts    = 5
	defaultMaxMessageSize = "25MiB"
	defaultQueueDir       = "mailer-queue"
)

// Config holds the complete application configuration.
type Config struct {
	SMTP    SMTPConfig         `yaml:"smtp"`
	TLS     TLSConfig          `yaml:"tls"`
	DSN     *mailer.DSNOptions `yaml:"dsn"`
	Queue   QueueConfig        `yaml:"queue"`
	Logging LoggingConfig      `yaml:"logging"`
}

// SMTPConfig holds the session settings.
type SMTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Secure          bool          `yaml:"secure"`
	DisableStartTLS bool          `yaml:"disable_starttls"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	AuthTypes       []string      `yaml:"auth_types"`
	LocalName       string        `yaml:"local_name"`
	Proxy           string        `yaml:"proxy"`
	ResolveMX       bool          `yaml:"resolve_mx"`
	SocketTimeout   time.Duration `yaml:"socket_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// TLSConfig holds client TLS settings.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// QueueConfig holds the spool settings.
type QueueConfig struct {
	Dir         string `yaml:"dir"`
	BatchSize   int    `yaml:"batch_size"`
	MaxAttempts int    `yaml:"max_attempts"`
	// MaxMessageSize caps the size of an email file, e.g. "10MiB".
	MaxMessageSize string `yaml:"max_message_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.SMTP.Host == "" {
		errs = append(errs, errors.New("smtp.host is required"))
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port %d out of range", c.SMTP.Port))
	}
	if _, err := c.authTypes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.logLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize))
	}
	if _, err := c.MaxMessageBytes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AuthEnabled returns true if an SMTP username is set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != ""
}

// Options converts the configuration to session options.
func (c *Config) Options(logger *slog.Logger) (mailer.Options, error) {
	authTypes, err := c.authTypes()
	if err != nil {
		return mailer.Options{}, err
	}
	level, err := c.logLevel()
	if err != nil {
		return mailer.Options{}, err
	}
	tlsConfig, err := c.tlsConfig()
	if err != nil {
		return mailer.Options{}, err
	}

	opts := mailer.Options{
		Host:            c.SMTP.Host,
		Port:            c.SMTP.Port,
		Secure:          c.SMTP.Secure,
		DisableStartTLS: c.SMTP.DisableStartTLS,
		AuthTypes:       authTypes,
		DSN:             c.DSN,
		SocketTimeout:   c.SMTP.SocketTimeout,
		ResponseTimeout: c.SMTP.ResponseTimeout,
		LocalName:       c.SMTP.LocalName,
		TLSConfig:       tlsConfig,
		Proxy:           c.SMTP.Proxy,
		ResolveMX:       c.SMTP.ResolveMX,
		Logger:          logger,
		LogLevel:        level,
	}
	if c.AuthEnabled() {
		opts.Credentials = &sasl.Credentials{Username: c.SMTP.Username, Password: c.SMTP.Password}
	}
	return opts, nil
}

// BadgerConfig returns the queue database settings.
func (c *Config) BadgerConfig(logger *slog.Logger) queue.BadgerConfig {
	return queue.BadgerConfig{
		Dir:         c.Queue.Dir,
		MaxAttempts: c.Queue.MaxAttempts,
		Logger:      logger,
	}
}

// MaxMessageBytes parses Queue.MaxMessageSize. Both "10MB" and "10MiB" are
// read as binary units.
func (c *Config) MaxMessageBytes() (int64, error) {
	n, err := units.RAMInBytes(c.Queue.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("queue.max_message_size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("queue.max_message_size must be positive, got %q", c.Queue.MaxMessageSize)
	}
	return n, nil
}

// NewLogger returns a text logger on stderr at the configured level.
func (c *Config) NewLogger() (*slog.Logger, error) {
	level, err := c.logLevel()
	if err != nil {
		return nil, err
	}

	var l slog.Level
	switch level {
	case mailer.LogNone:
		return slog.New(slog.DiscardHandler), nil
	case mailer.LogDebug:
		l = slog.LevelDebug
	case mailer.LogWarn:
		l = slog.LevelWarn
	case mailer.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func (c *Config) authTypes() ([]sasl.Mechanism, error) {
	if len(c.SMTP.AuthTypes) == 0 {
		return nil, nil
	}
	out := make([]sasl.Mechanism, 0, len(c.SMTP.AuthTypes))
	for _, s := range c.SMTP.AuthTypes {
		m, ok := sasl.ParseMechanism(s)
		if !ok {
			return nil, fmt.Errorf("smtp.auth_types: unknown mechanism %q", s)
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Config) logLevel() (mailer.LogLevel, error) {
	var level mailer.LogLevel
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return "", fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.TLS == (TLSConfig{}) {
		return nil, nil
	}

	config := &tls.Config{
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.TLS.CAFile)
		}
		config.RootCAs = pool
	}
	return config, nil
}

// applyDefaults sets default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = mailer.DefaultPort
	c.SMTP.LocalName = mailer.DefaultLocalName
	c.SMTP.SocketTimeout = mailer.DefaultSocketTimeout
	c.SMTP.ResponseTimeout = mailer.DefaultResponseTimeout
	c.Queue.Dir = defaultQueueDir
	c.Queue.BatchSize = defaultBatchSize
	c.Queue.MaxAttempts = defaultMaxAttempts
	c.Queue.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = string(mailer.LogInfo)
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("MAILER_SMTP_HOST", &c.SMTP.Host)
	integer("MAILER_SMTP_PORT", &c.SMTP.Port)
	boolean("MAILER_SMTP_SECURE", &c.SMTP.Secure)
	boolean("MAILER_SMTP_DISABLE_STARTTLS", &c.SMTP.DisableStartTLS)
	str("MAILER_SMTP_USERNAME", &c.SMTP.Username)
	str("MAILER_SMTP_PASSWORD", &c.SMTP.Password)
	if v := os.Getenv("MAILER_SMTP_AUTH_TYPES"); v != "" {
		c.SMTP.AuthTypes = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.SMTP.AuthTypes = append(c.SMTP.AuthTypes, s)
			}
		}
	}
	str("MAILER_SMTP_LOCAL_NAME", &c.SMTP.LocalName)
	str("MAILER_SMTP_PROXY", &c.SMTP.Proxy)
	boolean("MAILER_SMTP_RESOLVE_MX", &c.SMTP.ResolveMX)
	duration("MAILER_SMTP_SOCKET_TIMEOUT", &c.SMTP.SocketTimeout)
	duration("MAILER_SMTP_RESPONSE_TIMEOUT", &c.SMTP.ResponseTimeout)

	str("MAILER_TLS_CA_FILE", &c.TLS.CAFile)
	str("MAILER_TLS_SERVER_NAME", &c.TLS.ServerName)
	boolean("MAILER_TLS_INSECURE_SKIP_VERIFY", &c.TLS.InsecureSkipVerify)

	str("MAILER_QUEUE_DIR", &c.Queue.Dir)
	integer("MAILER_QUEUE_BATCH_SIZE", &c.Queue.BatchSize)
	integer("MAILER_QUEUE_MAX_ATTEMPTS", &c.Queue.MaxAttempts)
	str("MAILER_QUEUE_MAX_MESSAGE_SIZE", &c.Queue.MaxMessageSize)

	if v := os.Getenv("MAILER_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return errors.Join(errs...)
}
