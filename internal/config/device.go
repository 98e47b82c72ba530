package config

import (
	"errors"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// DeviceConfig holds the settings for one device agent.
type DeviceConfig struct {
	KafkaBrokers []string
	CommandTopic string
	AckTopic     string

	DeviceID     string
	StateFile    string
	TickInterval time.Duration

	LogLevel  string
	LogFormat string
}

// GetLogLevel satisfies observability.LoggerConfig.
func (c *DeviceConfig) GetLogLevel() string { return c.LogLevel }

// GetLogFormat satisfies observability.LoggerConfig.
func (c *DeviceConfig) GetLogFormat() string { return c.LogFormat }

// LoadDevice reads device-agent configuration from the environment,
// loading a local .env file first if one exists. Device installs are
// provisioned with a dropped-in .env rather than a process manager
// environment.
func LoadDevice() (*DeviceConfig, error) {
	_ = godotenv.Load()

	tick, err := parseDuration("DEVICE_TICK_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &DeviceConfig{
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		CommandTopic: sharedcfg.EnvOrDefault("KAFKA_COMMAND_TOPIC", "device-commands"),
		AckTopic:     sharedcfg.EnvOrDefault("KAFKA_ACK_TOPIC", "device-acks"),

		DeviceID:     sharedcfg.EnvOrDefault("DEVICE_ID", ""),
		StateFile:    sharedcfg.EnvOrDefault("DEVICE_STATE_FILE", "device-state.json"),
		TickInterval: tick,

		LogLevel:  sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("DEVICE_ID is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}

	return cfg, nil
}
