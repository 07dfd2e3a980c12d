// Package main provides the moderation API Lambda entry point.
//
// This Lambda serves the review API behind an API Gateway HTTP API (payload
// v2). The same handler tree runs locally via cmd/moderation-api; here it is
// wrapped with the API Gateway proxy adapter. All AWS clients are
// initialized once at cold start.
//
// Memory: 512 MB
// Timeout: 30 seconds
package main

import (
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/api"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/boot"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/config"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/logging"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/moderation"
)

// Initialized at cold start.
var server *api.Server

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := config.LoadLambda()
	clients := boot.InitAWS()
	jobs := boot.InitJobStore(clients.Config, cfg.JobsTable)
	objects := boot.InitObjectStore(clients.Config)
	processor := moderation.New(jobs, objects, cfg.Tiers())
	server = api.NewServer(jobs, objects, processor)

	boot.StartupLog("moderation-lambda", initStart).
		S3Bucket("input", cfg.InputBucket).
		S3Bucket("processed", cfg.ProcessedBucket).
		S3Bucket("approved", cfg.ApprovedBucket).
		DynamoTable("jobs", cfg.JobsTable).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(server.Handler())
	lambda.Start(adapter.ProxyWithContext)
}
