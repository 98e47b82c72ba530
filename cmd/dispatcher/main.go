package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/lightning-dispatch/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/lightning-dispatch/internal/adapter/kafka"
	"github.com/couchcryptid/lightning-dispatch/internal/config"
	"github.com/couchcryptid/lightning-dispatch/internal/dedup"
	"github.com/couchcryptid/lightning-dispatch/internal/dispatch"
	"github.com/couchcryptid/lightning-dispatch/internal/match"
	"github.com/couchcryptid/lightning-dispatch/internal/observability"
	"github.com/couchcryptid/lightning-dispatch/internal/pipeline"
	"github.com/couchcryptid/lightning-dispatch/internal/spatial"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	// The spatial index is owned here and injected into the matching
	// pipeline; registry updates flow through the mirror loop, never a
	// shared global.
	index := spatial.New(cfg.GridCellSizeDeg, cfg.MaxAlertRadiusKm)

	strikeReader := kafkaadapter.NewReader(cfg.KafkaBrokers, cfg.StrikeTopic, cfg.KafkaGroupID, cfg.BatchFlushInterval, logger)
	registryReader := kafkaadapter.NewReader(cfg.KafkaBrokers, cfg.RegistryTopic, cfg.KafkaGroupID+"-registry", cfg.BatchFlushInterval, logger)
	ackReader := kafkaadapter.NewReader(cfg.KafkaBrokers, cfg.AckTopic, cfg.KafkaGroupID+"-acks", cfg.BatchFlushInterval, logger)
	commandWriter := kafkaadapter.NewCommandWriter(cfg.KafkaBrokers, cfg.CommandTopic, logger)

	deduplicator := dedup.New(cfg.DedupRetention, clock)
	matcher := match.New(index, clock, logger)

	coordinator := dispatch.New(commandWriter, dispatch.Options{
		Workers:       cfg.DispatchWorkers,
		MaxAttempts:   cfg.DispatchMaxAttempts,
		RetryBackoff:  cfg.DispatchRetryBackoff,
		MaxBackoff:    cfg.DispatchMaxBackoff,
		QueueCapacity: cfg.DispatchQueueCapacity,
		CoalesceDepth: cfg.CoalesceDepth,
	}, clock, logger, metrics)

	p := pipeline.New(strikeReader, deduplicator, matcher, coordinator, logger, metrics, cfg.BatchSize)
	mirror := pipeline.NewRegistryMirror(registryReader, index, logger, metrics, cfg.BatchSize)
	acks := pipeline.NewAckDrain(ackReader, coordinator, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, coordinator, index, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start dispatch workers and the three server loops.
	go func() {
		if err := coordinator.Run(ctx); err != nil {
			logger.Error("dispatch coordinator error", "error", err)
		}
	}()
	go func() {
		if err := mirror.Run(ctx); err != nil {
			logger.Error("registry mirror error", "error", err)
		}
	}()
	go func() {
		if err := acks.Run(ctx); err != nil {
			logger.Error("ack drain error", "error", err)
		}
	}()
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("ingest pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := strikeReader.Close(); err != nil {
		logger.Error("strike reader close error", "error", err)
	}
	if err := registryReader.Close(); err != nil {
		logger.Error("registry reader close error", "error", err)
	}
	if err := ackReader.Close(); err != nil {
		logger.Error("ack reader close error", "error", err)
	}
	if err := commandWriter.Close(); err != nil {
		logger.Error("command writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
