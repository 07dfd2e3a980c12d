// Package main provides the moderation API as a long-running HTTP server.
//
// Functionally identical to cmd/moderation-lambda, but serving directly on a
// local port. Used for development and for deployments that front the API
// with a plain load balancer instead of API Gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/api"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/boot"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/config"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/logging"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/moderation"
)

// CLI flags
var portFlag int

var rootCmd = &cobra.Command{
	Use:   "moderation-api",
	Short: "HTTP server for the video review API",
	Long: `Moderation API serves the review queue and decision endpoints over
plain HTTP. Moderators' tooling lists jobs awaiting review, inspects a
job's assets, downloads review bundles, and records approve, reject, or
regenerate decisions.

Examples:
  moderation-api
  moderation-api --port 9090`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides VQT_API_PORT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()

	cfg := config.LoadAPI()
	port := cfg.Port
	if cmd.Flags().Changed("port") {
		port = portFlag
	}

	clients := boot.InitAWS()
	jobs := boot.InitJobStore(clients.Config, cfg.JobsTable)
	objects := boot.InitObjectStore(clients.Config)
	processor := moderation.New(jobs, objects, cfg.Tiers())
	server := api.NewServer(jobs, objects, processor)

	boot.StartupLog("moderation-api", initStart).
		S3Bucket("input", cfg.InputBucket).
		S3Bucket("processed", cfg.ProcessedBucket).
		S3Bucket("approved", cfg.ApprovedBucket).
		DynamoTable("jobs", cfg.JobsTable).
		Config("port", fmt.Sprintf("%d", port)).
		Log()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Int("port", port).Msg("Starting moderation API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
