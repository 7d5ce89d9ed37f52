package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// ServerConfig holds the submission listener configuration.
type ServerConfig struct {
	Name           string `toml:"name"`             // Instance name used in logs
	Addr           string `toml:"addr"`             // Listen address
	Hostname       string `toml:"hostname"`         // Name announced in the greeting
	MaxMessageSize string `toml:"max_message_size"` // e.g. "25MB"; empty or "0" means unlimited
	SessionTimeout string `toml:"session_timeout"`  // Deadline for a whole session (default: 5m)
	MaxSessions    int    `toml:"max_sessions"`     // Stop after this many sessions; 0 = run until stopped
	Debug          bool   `toml:"debug"`            // Log every command and reply
}

// GetMaxMessageSize parses the maximum message size in bytes.
func (s *ServerConfig) GetMaxMessageSize() (int64, error) {
	if s.MaxMessageSize == "" || s.MaxMessageSize == "0" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(s.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_message_size %q: %w", s.MaxMessageSize, err)
	}
	return int64(size), nil
}

// GetSessionTimeout parses the session timeout duration.
func (s *ServerConfig) GetSessionTimeout() (time.Duration, error) {
	if s.SessionTimeout == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(s.SessionTimeout)
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Path         string   `toml:"path"`
	AllowedHosts []string `toml:"allowed_hosts"` // IPs or CIDR blocks; empty allows all
}

// Delivery sink types.
const (
	DeliveryLog   = "log"
	DeliveryRelay = "relay"
	DeliveryS3    = "s3"
	DeliverySpool = "spool"
)

// DeliveryConfig selects what happens to a received message.
type DeliveryConfig struct {
	Type  string      `toml:"type"` // "log", "relay", "s3" or "spool"
	Relay RelayConfig `toml:"relay"`
	S3    S3Config    `toml:"s3"`
	Spool SpoolConfig `toml:"spool"`
}

// RelayConfig configures forwarding to an upstream SMTP server.
type RelayConfig struct {
	Addr           string `toml:"addr"`            // host:port of the upstream server
	TLS            bool   `toml:"tls"`             // Use TLS (implicit unless starttls is set)
	StartTLS       bool   `toml:"starttls"`        // Upgrade with STARTTLS instead of implicit TLS
	TLSVerify      bool   `toml:"tls_verify"`      // Verify the upstream certificate
	HeloName       string `toml:"helo_name"`       // Name sent in EHLO/HELO (default: server hostname)
	MaxAttempts    int    `toml:"max_attempts"`    // Delivery attempts for temporary failures (default: 3)
	InitialBackoff string `toml:"initial_backoff"` // Delay before the first retry (default: 1s)
}

// GetInitialBackoff parses the initial retry backoff.
func (r *RelayConfig) GetInitialBackoff() (time.Duration, error) {
	if r.InitialBackoff == "" {
		return time.Second, nil
	}
	return time.ParseDuration(r.InitialBackoff)
}

// GetMaxAttempts returns the configured attempts, at least one.
func (r *RelayConfig) GetMaxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 3
	}
	return r.MaxAttempts
}

// S3Config holds S3 configuration.
type S3Config struct {
	Endpoint      string `toml:"endpoint"`
	DisableTLS    bool   `toml:"disable_tls"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Debug         bool   `toml:"debug"` // Enable detailed S3 request/response tracing
	Encrypt       bool   `toml:"encrypt"`
	EncryptionKey string `toml:"encryption_key"` // 64 hex characters
}

// SpoolConfig configures the SQLite spool.
type SpoolConfig struct {
	Path string `toml:"path"` // Database file
}

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Delivery DeliveryConfig `toml:"delivery"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Server: ServerConfig{
			Name:           "submit",
			Addr:           "127.0.0.1:2525",
			Hostname:       "localhost",
			MaxMessageSize: "25MB",
			SessionTimeout: "5m",
			MaxSessions:    1,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Delivery: DeliveryConfig{
			Type: DeliveryLog,
			Relay: RelayConfig{
				TLS:            true,
				TLSVerify:      true,
				MaxAttempts:    3,
				InitialBackoff: "1s",
			},
			Spool: SpoolConfig{
				Path: "spool.db",
			},
		},
	}
}

// Validate checks the configuration for values that would only fail later
// at runtime.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr %q: %w", c.Server.Addr, err)
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.max_sessions must not be negative")
	}
	if _, err := c.Server.GetMaxMessageSize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if _, err := c.Server.GetSessionTimeout(); err != nil {
		return fmt.Errorf("server.session_timeout: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	switch c.Delivery.Type {
	case "", DeliveryLog:
	case DeliveryRelay:
		if c.Delivery.Relay.Addr == "" {
			return fmt.Errorf("delivery.relay.addr is required for relay delivery")
		}
		if c.Delivery.Relay.StartTLS && !c.Delivery.Relay.TLS {
			return fmt.Errorf("delivery.relay.starttls requires delivery.relay.tls = true")
		}
		if _, err := c.Delivery.Relay.GetInitialBackoff(); err != nil {
			return fmt.Errorf("delivery.relay.initial_backoff: %w", err)
		}
	case DeliveryS3:
		s3 := c.Delivery.S3
		if s3.Endpoint == "" || s3.Bucket == "" || s3.AccessKey == "" || s3.SecretKey == "" {
			return fmt.Errorf("delivery.s3 requires endpoint, bucket, access_key and secret_key")
		}
		if s3.Encrypt && len(s3.EncryptionKey) != 64 {
			return fmt.Errorf("delivery.s3.encryption_key must be 64 hex characters")
		}
	case DeliverySpool:
		if c.Delivery.Spool.Path == "" {
			return fmt.Errorf("delivery.spool.path is required for spool delivery")
		}
	default:
		return fmt.Errorf("unknown delivery.type %q (want log, relay, s3 or spool)", c.Delivery.Type)
	}
	return nil
}

// LoadConfigFromFile loads configuration from a TOML file on top of the
// values already in cfg and trims whitespace from all string fields.
// Unknown keys are logged and ignored.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	metadata, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return enhanceConfigError(err)
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// enhanceConfigError provides more helpful error messages for common TOML parsing issues
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please remove or comment out the duplicate entry", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value in your TOML configuration file.\n"+
			"In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Check quoting, brackets and section headers", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
