// Command device runs one alert device agent: it subscribes to the shared
// command topic, drives the local alert state machine, and publishes
// delivery acknowledgments. Once a command has been received, the agent
// manages its own alert lifecycle without further server contact.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kafkaadapter "github.com/couchcryptid/lightning-dispatch/internal/adapter/kafka"
	"github.com/couchcryptid/lightning-dispatch/internal/config"
	"github.com/couchcryptid/lightning-dispatch/internal/device"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.LoadDevice()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// The runner tags its own log lines with the device ID.
	baseLogger := observability.NewLogger(cfg)
	logger := baseLogger.With("device_id", cfg.DeviceID)
	clock := clockwork.NewRealClock()

	commands := kafkaadapter.NewCommandReader(cfg.KafkaBrokers, cfg.CommandTopic, cfg.DeviceID, logger)
	acks := kafkaadapter.NewAckWriter(cfg.KafkaBrokers, cfg.AckTopic, cfg.DeviceID, clock, logger)
	store := device.NewFileStore(cfg.StateFile)

	runner := device.NewRunner(cfg.DeviceID, commands, acks, store, clock, baseLogger, cfg.TickInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("device agent starting", "state_file", store.Path())

	if err := runner.Run(ctx); err != nil {
		logger.Error("device agent error", "error", err)
	}

	if err := commands.Close(); err != nil {
		logger.Error("command reader close error", "error", err)
	}
	if err := acks.Close(); err != nil {
		logger.Error("ack writer close error", "error", err)
	}

	logger.Info("device agent stopped")
}
