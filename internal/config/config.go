package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all dispatcher settings, populated from environment variables.
type Config struct {
	KafkaBrokers  []string
	StrikeTopic   string
	RegistryTopic string
	CommandTopic  string
	AckTopic      string
	KafkaGroupID  string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Deduplication.
	DedupRetention time.Duration

	// Spatial index.
	GridCellSizeDeg  float64
	MaxAlertRadiusKm float64

	// Dispatch coordinator.
	DispatchWorkers       int
	DispatchMaxAttempts   int
	DispatchRetryBackoff  time.Duration
	DispatchMaxBackoff    time.Duration
	DispatchQueueCapacity int
	CoalesceDepth         int
}

// GetLogLevel satisfies observability.LoggerConfig.
func (c *Config) GetLogLevel() string { return c.LogLevel }

// GetLogFormat satisfies observability.LoggerConfig.
func (c *Config) GetLogFormat() string { return c.LogFormat }

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	dedupRetention, err := parseDuration("DEDUP_RETENTION", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	retryBackoff, err := parseDuration("DISPATCH_RETRY_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, err
	}
	maxBackoff, err := parseDuration("DISPATCH_MAX_BACKOFF", 60*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:  sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		StrikeTopic:   sharedcfg.EnvOrDefault("KAFKA_STRIKE_TOPIC", "raw-lightning-strikes"),
		RegistryTopic: sharedcfg.EnvOrDefault("KAFKA_REGISTRY_TOPIC", "device-registry"),
		CommandTopic:  sharedcfg.EnvOrDefault("KAFKA_COMMAND_TOPIC", "device-commands"),
		AckTopic:      sharedcfg.EnvOrDefault("KAFKA_ACK_TOPIC", "device-acks"),
		KafkaGroupID:  sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "lightning-dispatch"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DedupRetention: dedupRetention,

		GridCellSizeDeg:  parseFloat("GRID_CELL_SIZE_DEG", 0.1),
		MaxAlertRadiusKm: parseFloat("MAX_ALERT_RADIUS_KM", 12),

		DispatchWorkers:       parseInt("DISPATCH_WORKERS", 4),
		DispatchMaxAttempts:   parseInt("DISPATCH_MAX_ATTEMPTS", 5),
		DispatchRetryBackoff:  retryBackoff,
		DispatchMaxBackoff:    maxBackoff,
		DispatchQueueCapacity: parseInt("DISPATCH_QUEUE_CAPACITY", 1024),
		CoalesceDepth:         parseInt("DISPATCH_COALESCE_DEPTH", 256),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.StrikeTopic == "" {
		return nil, errors.New("KAFKA_STRIKE_TOPIC is required")
	}
	if cfg.CommandTopic == "" {
		return nil, errors.New("KAFKA_COMMAND_TOPIC is required")
	}
	if cfg.DispatchMaxAttempts < 1 {
		return nil, errors.New("DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.DispatchWorkers < 1 {
		return nil, errors.New("DISPATCH_WORKERS must be at least 1")
	}

	return cfg, nil
}

func parseInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}
