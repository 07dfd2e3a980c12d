// Package main provides the ingest Lambda entry point.
//
// This Lambda is triggered by S3 ObjectCreated events on the input bucket.
// The events are only a nudge: instead of trusting the event payload, each
// invocation runs one full reconciliation pass that diffs the input tier
// against the ledger and inserts a row per complete asset group. Duplicate
// and out-of-order deliveries are therefore harmless; a pass that finds
// nothing new writes nothing.
//
// Memory: 256 MB
// Timeout: 1 minute
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
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

	boot.StartupLog("ingest-lambda", initStart).
		S3Bucket("input", cfg.InputBucket).
		S3Bucket("processed", cfg.ProcessedBucket).
		DynamoTable("jobs", cfg.JobsTable).
		EventBus("discovery", cfg.EventBus).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, s3Event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "ingest-lambda").Msg("Cold start — first invocation")
	}

	for _, record := range s3Event.Records {
		log.Debug().
			Str("bucket", record.S3.Bucket.Name).
			Str("key", record.S3.Object.Key).
			Msg("Upload event received")
	}

	passStart := time.Now()
	result, err := reconciler.Reconcile(ctx)
	if err != nil {
		// Returning the error lets Lambda retry; the pass is idempotent.
		log.Error().Err(err).Msg("Reconciliation pass failed")
		return err
	}

	metrics.New(metrics.Namespace).
		Dimension("Operation", "reconcile").
		Metric("RowsInserted", float64(result.Inserted), metrics.UnitCount).
		Metric("RowsBackfilled", float64(result.Backfilled), metrics.UnitCount).
		Duration("ReconcileDuration", time.Since(passStart)).
		Property("trigger", "s3").
		Property("recordCount", len(s3Event.Records)).
		Flush()

	log.Info().
		Int("inserted", result.Inserted).
		Int("backfilled", result.Backfilled).
		Int("record_count", len(s3Event.Records)).
		Dur("duration", time.Since(passStart)).
		Msg("Reconciliation pass complete")
	return nil
}
