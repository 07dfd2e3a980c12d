// Package main provides the scheduled reconcile Lambda entry point.
//
// This Lambda runs on an EventBridge schedule as the pipeline's safety net.
// It repeats the same reconciliation pass the ingest Lambda runs, catching
// asset groups whose upload events were lost, and then sweeps the processed
// tier for strays: objects left behind when a moderated job's copy-then-
// delete move lost its delete half.
//
// Memory: 256 MB
// Timeout: 5 minutes
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/boot"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/config"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/logging"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/metrics"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/reconcile"
)

var coldStart = true

// Initialized at cold start.
var reconciler *reconcile.Reconciler

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := config.LoadLambda()
	clients := boot.InitAWS()
	jobs := boot.InitJobStore(clients.Config, cfg.JobsTable)
	objects := boot.InitObjectStore(clients.Config)
	notifier := boot.InitNotifier(clients.Config, cfg.EventBus)
	reconciler = reconcile.New(objects, cfg.Tiers(), jobs, notifier)

	boot.StartupLog("reconcile-lambda", initStart).
		S3Bucket("input", cfg.InputBucket).
		S3Bucket("processed", cfg.ProcessedBucket).
		DynamoTable("jobs", cfg.JobsTable).
		EventBus("discovery", cfg.EventBus).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "reconcile-lambda").Msg("Cold start — first invocation")
	}

	passStart := time.Now()
	result, err := reconciler.Reconcile(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation pass failed")
		return err
	}

	swept, err := reconciler.SweepStrays(ctx)
	if err != nil {
		// The reconcile half already ran; report the sweep failure so the
		// next scheduled run retries it.
		log.Error().Err(err).Msg("Stray sweep failed")
		return err
	}

	metrics.New(metrics.Namespace).
		Dimension("Operation", "reconcile").
		Metric("RowsInserted", float64(result.Inserted), metrics.UnitCount).
		Metric("RowsBackfilled", float64(result.Backfilled), metrics.UnitCount).
		Metric("StraysSwept", float64(swept), metrics.UnitCount).
		Duration("ReconcileDuration", time.Since(passStart)).
		Property("trigger", "schedule").
		Flush()

	log.Info().
		Int("inserted", result.Inserted).
		Int("backfilled", result.Backfilled).
		Int("swept", swept).
		Dur("duration", time.Since(passStart)).
		Msg("Scheduled reconciliation complete")
	return nil
}
