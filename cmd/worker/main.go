// Package main provides the video generation worker.
//
// The worker is the only process that claims PENDING ledger rows. Each pass
// claims at most one row, generates a clip through Veo, stages the result in
// the processed tier, and then cools down long enough to stay inside the Veo
// preview request quota. Reconciliation and moderation run in other
// processes; nothing here creates or moderates rows.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/boot"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/config"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/logging"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/videogen"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/worker"
)

// CLI flags
var onceFlag bool

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Polls the job ledger and generates product videos with Veo",
	Long: `Worker drives the generation stage of the video quality pipeline.

It polls the DynamoDB ledger for PENDING jobs, claims one at a time,
conditions Veo on the job's reference images, and stages the generated
clip plus its references in the processed tier for human review. Pacing
between claims keeps the process inside the Veo requests-per-minute quota.

Examples:
  worker
  worker --once
  VQT_COOLDOWN=60s worker`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().BoolVar(&onceFlag, "once", false, "Run a single polling pass and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()

	cfg := config.LoadWorker()
	clients := boot.InitAWS()
	jobs := boot.InitJobStore(clients.Config, cfg.JobsTable)
	objects := boot.InitObjectStore(clients.Config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiKey := config.GeminiAPIKey(ctx, clients.SSM)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	loop := worker.New(jobs, objects, cfg.Tiers(), videogen.NewVeoGenerator(client), worker.Config{
		Idle:              cfg.Idle,
		Cooldown:          cfg.Cooldown,
		GenerationTimeout: cfg.GenerationTimeout,
	})

	boot.StartupLog("worker", initStart).
		S3Bucket("input", cfg.InputBucket).
		S3Bucket("processed", cfg.ProcessedBucket).
		DynamoTable("jobs", cfg.JobsTable).
		Config("model", videogen.Model).
		Config("once", strconv.FormatBool(onceFlag)).
		Log()

	// First signal cancels the loop; an in-flight generation finishes or
	// times out under the same context.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	if onceFlag {
		claimed, err := loop.RunOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Polling pass failed")
		}
		log.Info().Bool("claimed", claimed).Msg("Single pass complete")
		return
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Worker loop failed")
	}
	log.Info().Msg("Worker stopped")
}
