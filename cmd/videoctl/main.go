// Package main provides videoctl, the operator CLI for the video pipeline.
//
// videoctl talks to the same ledger and storage tiers as the deployed
// processes, so every subcommand works against live state: trigger a
// reconciliation pass, inspect the review queue, requeue a failed job, or
// sweep stray objects out of the processed tier.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/boot"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/config"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/logging"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/moderation"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/reconcile"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// CLI flags
var remoteFlag bool

var rootCmd = &cobra.Command{
	Use:   "videoctl",
	Short: "Operator tooling for the video quality pipeline",
	Long: `videoctl administers the product video pipeline: the job ledger,
the three storage tiers, and the reconcile Lambda.

Examples:
  videoctl reconcile
  videoctl reconcile --remote
  videoctl queue
  videoctl status 4099900021331
  videoctl requeue 4099900021331
  videoctl sweep`,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a reconciliation pass over the input tier",
	Run:   runReconcile,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List jobs awaiting moderation, oldest first",
	Run:   runQueue,
}

var statusCmd = &cobra.Command{
	Use:   "status <product-id>",
	Short: "Show one job's ledger row and audit trail",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <product-id>",
	Short: "Send a FAILED job back to the generation queue",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stray processed-tier objects left by finished jobs",
	Run:   runSweep,
}

func init() {
	reconcileCmd.Flags().BoolVar(&remoteFlag, "remote", false, "Invoke the reconcile Lambda instead of running locally")
	rootCmd.AddCommand(reconcileCmd, queueCmd, statusCmd, requeueCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// pipeline bundles the clients every subcommand needs.
type pipeline struct {
	cfg     config.Process
	clients boot.AWSClients
	jobs    *store.DynamoStore
	objects *storage.S3Store
}

func initPipeline() pipeline {
	logging.Init()
	cfg := config.Load()
	clients := boot.InitAWS()
	return pipeline{
		cfg:     cfg,
		clients: clients,
		jobs:    boot.InitJobStore(clients.Config, cfg.JobsTable),
		objects: boot.InitObjectStore(clients.Config),
	}
}

func runReconcile(cmd *cobra.Command, args []string) {
	p := initPipeline()
	ctx := context.Background()

	if remoteFlag {
		fn := os.Getenv("VQT_RECONCILE_FUNCTION")
		if fn == "" {
			log.Fatal().Msg("VQT_RECONCILE_FUNCTION environment variable is required for --remote")
		}
		client := lambdasvc.NewFromConfig(p.clients.Config)
		out, err := client.Invoke(ctx, &lambdasvc.InvokeInput{
			FunctionName:   aws.String(fn),
			InvocationType: lambdatypes.InvocationTypeEvent,
		})
		if err != nil {
			log.Fatal().Err(err).Str("function", fn).Msg("Failed to invoke reconcile Lambda")
		}
		fmt.Printf("Reconcile Lambda invoked asynchronously (status %d)\n", out.StatusCode)
		return
	}

	notifier := boot.InitNotifier(p.clients.Config, p.cfg.EventBus)
	reconciler := reconcile.New(p.objects, p.cfg.Tiers(), p.jobs, notifier)

	start := time.Now()
	result, err := reconciler.Reconcile(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Reconciliation pass failed")
	}
	fmt.Printf("Reconciled in %s: %d inserted, %d backfilled\n",
		time.Since(start).Round(time.Millisecond), result.Inserted, result.Backfilled)
}

func runQueue(cmd *cobra.Command, args []string) {
	p := initPipeline()

	jobs, err := p.jobs.ListByStatus(context.Background(), store.StatusCompleted, true, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list review queue")
	}

	fmt.Println("============================================")
	fmt.Println("Review Queue")
	fmt.Println("============================================")
	if len(jobs) == 0 {
		fmt.Println("No jobs awaiting review.")
		return
	}
	for _, job := range jobs {
		fmt.Printf("%-16s  %-12s  attempts=%d  %s\n",
			job.ProductID, job.Category, job.Attempts, job.LastUpdated)
	}
	fmt.Printf("\n%d job(s) awaiting review.\n", len(jobs))
}

func runStatus(cmd *cobra.Command, args []string) {
	p := initPipeline()
	ctx := context.Background()
	productID := args[0]

	job, err := p.jobs.Get(ctx, productID)
	if err != nil {
		log.Fatal().Err(err).Str("product_id", productID).Msg("Failed to load job")
	}

	fmt.Println("============================================")
	fmt.Printf("Job %s\n", job.ProductID)
	fmt.Println("============================================")
	fmt.Printf("Status:       %s\n", job.Status)
	fmt.Printf("Category:     %s\n", job.Category)
	fmt.Printf("Attempts:     %d\n", job.Attempts)
	fmt.Printf("Last updated: %s\n", job.LastUpdated)
	if job.Prompt != "" {
		fmt.Printf("Prompt:       %s\n", job.Prompt)
	}
	if job.VideoURI != "" {
		fmt.Printf("Video:        %s\n", job.VideoURI)
	}
	for i, uri := range job.ReferenceURIs {
		fmt.Printf("Reference %d:  %s\n", i+1, uri)
	}
	if job.LastError != "" {
		fmt.Printf("Last error:   %s\n", job.LastError)
	}
	if job.Decision != "" {
		fmt.Printf("Decision:     %s (by %s)\n", job.Decision, job.ModeratorID)
	}

	decisions, err := p.jobs.ListDecisions(ctx, productID)
	if err != nil {
		log.Fatal().Err(err).Str("product_id", productID).Msg("Failed to load audit trail")
	}
	if len(decisions) > 0 {
		fmt.Println("--------------------------------------------")
		fmt.Println("Audit trail:")
		for _, d := range decisions {
			fmt.Printf("  %s  %-10s  %s\n", d.Timestamp, d.Decision, d.ModeratorID)
			if d.Notes != "" {
				fmt.Printf("    notes: %s\n", d.Notes)
			}
		}
	}
}

func runRequeue(cmd *cobra.Command, args []string) {
	p := initPipeline()
	productID := args[0]

	processor := moderation.New(p.jobs, p.objects, p.cfg.Tiers())
	if err := processor.Requeue(context.Background(), productID); err != nil {
		log.Fatal().Err(err).Str("product_id", productID).Msg("Requeue failed")
	}
	fmt.Printf("Job %s requeued for generation.\n", productID)
}

func runSweep(cmd *cobra.Command, args []string) {
	p := initPipeline()

	// Sweeping publishes nothing, so no notifier.
	reconciler := reconcile.New(p.objects, p.cfg.Tiers(), p.jobs, nil)

	swept, err := reconciler.SweepStrays(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Stray sweep failed")
	}
	fmt.Printf("Swept %d stray object(s) from the processed tier.\n", swept)
}
