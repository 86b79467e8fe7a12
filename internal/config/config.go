package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	IngestKeys      []string      `mapstructure:"ingest_keys"`
	IngestRate      float64       `mapstructure:"ingest_rate_per_second"`
	IngestBurst     int           `mapstructure:"ingest_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RelayConfig struct {
	// InstanceID prefixes every sequence identifier this process mints.
	// Empty means a random token per process start.
	InstanceID             string `mapstructure:"instance_id"`
	MaxCachedItemsPerQuery int    `mapstructure:"max_cached_items_per_query"`
	SendBufferSize         int    `mapstructure:"send_buffer_size"`
}

type FeedConfig struct {
	ZMQEnabled  bool     `mapstructure:"zmq_enabled"`
	ZMQEndpoint string   `mapstructure:"zmq_endpoint"`
	ZMQTopics   []string `mapstructure:"zmq_topics"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	FileEnabled bool   `mapstructure:"file_enabled"`
	Directory   string `mapstructure:"directory"`
}

func Load(configPath string) (*Config, error) {
	// A .env beside the binary is optional.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ingest_keys", []string{})
	v.SetDefault("server.ingest_rate_per_second", 50.0)
	v.SetDefault("server.ingest_burst", 100)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("relay.instance_id", "")
	v.SetDefault("relay.max_cached_items_per_query", 100)
	v.SetDefault("relay.send_buffer_size", 256)
	v.SetDefault("feed.zmq_enabled", false)
	v.SetDefault("feed.zmq_endpoint", "tcp://127.0.0.1:5556")
	v.SetDefault("feed.zmq_topics", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file_enabled", false)
	v.SetDefault("logging.directory", "logs")

	// Environment variable support
	v.SetEnvPrefix("WORKSHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Short aliases for the knobs operators set most
	_ = v.BindEnv("server.ingest_keys", "WORKSHOP_INGEST_KEYS")
	_ = v.BindEnv("server.port", "WORKSHOP_PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if len(c.Server.IngestKeys) == 0 {
		return fmt.Errorf("at least one ingest key is required (set WORKSHOP_INGEST_KEYS)")
	}
	if c.Server.IngestRate <= 0 {
		return fmt.Errorf("ingest_rate_per_second must be > 0, got %v", c.Server.IngestRate)
	}
	if c.Server.IngestBurst < 1 {
		return fmt.Errorf("ingest_burst must be >= 1, got %d", c.Server.IngestBurst)
	}
	if c.Relay.MaxCachedItemsPerQuery < 1 {
		return fmt.Errorf("max_cached_items_per_query must be >= 1, got %d", c.Relay.MaxCachedItemsPerQuery)
	}
	if c.Relay.SendBufferSize < 1 {
		return fmt.Errorf("send_buffer_size must be >= 1, got %d", c.Relay.SendBufferSize)
	}
	if !validLogLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Feed.ZMQEnabled && c.Feed.ZMQEndpoint == "" {
		return fmt.Errorf("zmq_endpoint is required when zmq_enabled is true")
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
