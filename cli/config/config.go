package config

import (
	"fmt"
	"time"

	"github.com/mfkiwl/dfmodules/queue"
	"github.com/mfkiwl/dfmodules/store"
	"github.com/mfkiwl/dfmodules/writer"
)

// Config represents a datawriter.yaml configuration file.
// All values are optional and act as defaults for datawriter run flags.
// CLI flags always override config values.
type Config struct {
	Queue   QueueConfig   `yaml:"queue"`
	Writer  WriterConfig  `yaml:"writer"`
	Storage StorageConfig `yaml:"storage"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// QueueConfig holds record/token transport defaults from the config file.
type QueueConfig struct {
	// Source selects the record transport: "redis" or "stdin".
	Source string `yaml:"source"`
	// URL is the redis connection URL (redis://host:port/db).
	URL string `yaml:"url"`
	// RecordList is the redis list record parts are popped from.
	RecordList string `yaml:"record_list"`
	// TokenList is the redis list completion tokens are pushed to.
	TokenList string `yaml:"token_list"`
	// SendTimeout bounds each token push attempt.
	SendTimeout Duration `yaml:"send_timeout,omitempty"`
}

// WriterConfig holds write-stage defaults from the config file.
type WriterConfig struct {
	Prescale         int      `yaml:"prescale"`
	QueueTimeout     Duration `yaml:"queue_timeout,omitempty"`
	MinBackoff       Duration `yaml:"min_backoff,omitempty"`
	MaxBackoff       Duration `yaml:"max_backoff,omitempty"`
	BackoffFactor    int      `yaml:"backoff_factor,omitempty"`
	TokenDestination string   `yaml:"token_destination"`
	AnnounceAttempts int      `yaml:"announce_attempts,omitempty"`
	AnnounceGap      Duration `yaml:"announce_gap,omitempty"`
	DisableStorage   bool     `yaml:"disable_storage"`
}

// StorageConfig holds storage defaults from the config file.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds run-summary adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks cross-section consistency before any backend is built.
func (c *Config) Validate() error {
	switch c.Queue.Source {
	case "", "redis", "stdin":
	default:
		return fmt.Errorf("unknown queue source %q", c.Queue.Source)
	}
	if c.Queue.Source != "stdin" && c.Queue.URL == "" {
		return fmt.Errorf("queue url is required for the redis source")
	}
	if c.Writer.Prescale < 0 {
		return fmt.Errorf("prescale must not be negative")
	}
	sc := c.StoreConfig()
	return sc.Validate()
}

// StoreConfig converts the storage section into the backend config blob.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Backend:     c.Storage.Backend,
		Dataset:     c.Storage.Dataset,
		Path:        c.Storage.Path,
		Bucket:      c.Storage.Bucket,
		Prefix:      c.Storage.Prefix,
		Region:      c.Storage.Region,
		Endpoint:    c.Storage.Endpoint,
		S3PathStyle: c.Storage.S3PathStyle,
	}
}

// WriterConfig converts the writer section into the configure-time blob.
func (c *Config) WriterConfig() writer.Config {
	return writer.Config{
		Storage:      c.StoreConfig(),
		QueueTimeout: c.Writer.QueueTimeout.Duration,
		Prescale:     c.Writer.Prescale,
		Backoff: writer.BackoffConfig{
			Min:    c.Writer.MinBackoff.Duration,
			Max:    c.Writer.MaxBackoff.Duration,
			Factor: c.Writer.BackoffFactor,
		},
		TokenDestination: c.Writer.TokenDestination,
		AnnounceAttempts: c.Writer.AnnounceAttempts,
		AnnounceGap:      c.Writer.AnnounceGap.Duration,
	}
}

// RecordSourceConfig is the redis transport config for the record side.
func (c *Config) RecordSourceConfig() queue.RedisConfig {
	return queue.RedisConfig{
		URL:        c.Queue.URL,
		Connection: c.Queue.RecordList,
	}
}

// TokenSinkConfig is the redis transport config for the token side.
func (c *Config) TokenSinkConfig() queue.RedisConfig {
	return queue.RedisConfig{
		URL:         c.Queue.URL,
		Connection:  c.Queue.TokenList,
		SendTimeout: c.Queue.SendTimeout.Duration,
	}
}
