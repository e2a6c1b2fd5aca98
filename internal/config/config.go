// Package config provides configuration management for the literature console.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/helixir/literature-console/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LITCONSOLE"

// Config holds all configuration for the literature console.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Classifier contains the classifier channel settings.
	Classifier ChannelConfig `mapstructure:"classifier"`
	// Retriever contains the retriever channel settings.
	Retriever ChannelConfig `mapstructure:"retriever"`
	// Categories is the ordered category set of classification results.
	// Empty selects the classifier's built-in set.
	Categories []domain.Category `mapstructure:"categories" validate:"dive"`
	// Gate contains request gate settings.
	Gate GateConfig `mapstructure:"gate"`
	// Pagination contains page window settings.
	Pagination PaginationConfig `mapstructure:"pagination"`
	// Import contains local document import settings.
	Import ImportConfig `mapstructure:"import"`
	// Export contains RIS export settings.
	Export ExportConfig `mapstructure:"export"`
	// Kafka contains settings for publishing settled outcomes.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port" validate:"min=1,max=65535"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port" validate:"min=1,max=65535"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response. Streams
	// are exempt.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format" validate:"oneof=json console pretty"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// ChannelConfig holds the connection settings of one service channel.
type ChannelConfig struct {
	// URL is the websocket endpoint of the service.
	URL string `mapstructure:"url" validate:"required"`
	// SendQueueSize bounds the envelopes waiting for the writer.
	SendQueueSize int `mapstructure:"send_queue_size" validate:"min=1"`
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// WriteTimeout bounds a single write on the connection.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// TextEvent overrides the outbound text classification event. Only
	// used on the classifier channel.
	TextEvent string `mapstructure:"text_event"`
}

// GateConfig holds request gate configuration.
type GateConfig struct {
	// Timeout settles a request with no terminal event. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// PaginationConfig holds page window configuration.
type PaginationConfig struct {
	// Pages is the number of selectable pages.
	Pages int `mapstructure:"pages" validate:"min=1,max=100"`
}

// ImportConfig holds local document import configuration.
type ImportConfig struct {
	// MaxDocumentBytes bounds an imported or classified document.
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes" validate:"min=1"`
}

// ExportConfig holds export configuration.
type ExportConfig struct {
	// Directory also writes materialized artifacts to disk when set.
	Directory string `mapstructure:"directory"`
	// RateLimit is the number of RIS exports allowed per second. Zero
	// disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`
	// Burst is the number of exports allowed at once.
	Burst int `mapstructure:"burst" validate:"min=1"`
}

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	// Enabled turns on publishing of settled outcomes.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka bootstrap addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives the outcome events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages per write.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`
	// BatchTimeout flushes an incomplete batch.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration like Load, reading path instead of
// searching for config.yaml when path is not empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/literature-console")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found is OK, we'll use env vars and defaults
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "litconsole")

	// Channel defaults
	v.SetDefault("classifier.url", "ws://localhost:5000/ws")
	v.SetDefault("classifier.send_queue_size", 64)
	v.SetDefault("classifier.handshake_timeout", "10s")
	v.SetDefault("classifier.write_timeout", "10s")
	v.SetDefault("classifier.text_event", domain.EventTextClassification)
	v.SetDefault("retriever.url", "ws://localhost:5001/ws")
	v.SetDefault("retriever.send_queue_size", 64)
	v.SetDefault("retriever.handshake_timeout", "10s")
	v.SetDefault("retriever.write_timeout", "10s")

	// Request lifecycle defaults
	v.SetDefault("gate.timeout", "2m")
	v.SetDefault("pagination.pages", 5)
	v.SetDefault("import.max_document_bytes", 10<<20)

	// Export defaults
	v.SetDefault("export.directory", "")
	v.SetDefault("export.rate_limit", 2.0)
	v.SetDefault("export.burst", 5)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.literature_console.outcomes")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if err := validateChannelURL("classifier", c.Classifier.URL); err != nil {
		return err
	}
	if err := validateChannelURL("retriever", c.Retriever.URL); err != nil {
		return err
	}

	switch c.Classifier.TextEvent {
	case "", domain.EventTextClassification, domain.EventLegacyTextClassification:
	default:
		return fmt.Errorf("classifier text_event must be %q or %q, got %q",
			domain.EventTextClassification, domain.EventLegacyTextClassification, c.Classifier.TextEvent)
	}

	seen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if seen[cat.Key] {
			return fmt.Errorf("duplicate category key: %s", cat.Key)
		}
		seen[cat.Key] = true
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}

// ResolvedCategories returns the configured categories, or the built-in
// set when none are configured.
func (c *Config) ResolvedCategories() []domain.Category {
	if len(c.Categories) == 0 {
		return domain.DefaultCategories()
	}
	return c.Categories
}

func validateChannelURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s url: %w", name, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s url must use ws or wss, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s url has no host: %q", name, raw)
	}
	return nil
}
