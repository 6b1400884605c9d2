package cmd

import (
	"context"
	"errors"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/pipeline"
	"github.com/trobanga/rythmiq/internal/queue"
	"github.com/trobanga/rythmiq/internal/services"
)

// app bundles the stores every command works against
type app struct {
	config    *models.ProjectConfig
	logger    *lib.Logger
	queue     *queue.Queue
	blobs     *services.BlobStore
	artifacts *services.ArtifactStore

	closers []func() error
}

// openApp loads the configuration and opens the job store, blob store and artifact store
func openApp(ctx context.Context) (*app, error) {
	config, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := services.OpenStore(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		config:  config,
		logger:  logger,
		queue:   queue.New(store, queue.WithMaxAttempts(config.Retry.MaxAttempts), queue.WithLogger(logger)),
		closers: []func() error{closeStore},
	}

	if a.blobs, err = services.NewBlobStore(config.Storage.DataDir, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.artifacts, err = services.NewArtifactStore(config.Storage.DataDir, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases everything openApp and newWorker acquired
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// telemetry builds the configured sinks. A Redis stream that cannot be
// reached is logged and skipped; telemetry never blocks processing.
func (a *app) telemetry(ctx context.Context) services.Telemetry {
	sinks := services.MultiTelemetry{services.NewLogTelemetry(a.logger)}

	if addr := a.config.Telemetry.RedisAddr; addr != "" {
		redisSink, err := services.NewRedisTelemetry(ctx, addr, a.config.Telemetry.Stream, a.logger)
		if err != nil {
			a.logger.Warn("Redis telemetry disabled", "addr", addr, "error", err)
		} else {
			sinks = append(sinks, redisSink)
			a.closers = append(a.closers, redisSink.Close)
		}
	}
	return sinks
}

// newWorker wires a pipeline worker to the app's stores
func (a *app) newWorker(ctx context.Context, opts ...pipeline.Option) (*pipeline.Worker, error) {
	extractor, err := services.NewExtractor(a.config.Extraction, a.logger)
	if err != nil {
		return nil, err
	}

	opts = append([]pipeline.Option{
		pipeline.WithRetryPolicy(lib.NewRetryPolicyFromModel(a.config.Retry)),
		pipeline.WithNormalizeOptions(a.config.Normalize),
		pipeline.WithLogger(a.logger),
	}, opts...)

	return pipeline.NewWorker(pipeline.Dependencies{
		Queue:     a.queue,
		Blobs:     a.blobs,
		Artifacts: a.artifacts,
		Extractor: extractor,
		Schemas:   services.NewFileSchemaProvider(a.config.Schemas.Dir),
		Telemetry: a.telemetry(ctx),
	}, opts...)
}
