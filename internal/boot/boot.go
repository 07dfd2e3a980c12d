// Package boot provides shared process bootstrap logic.
//
// Every binary in the project needs some subset of: AWS config, the S3
// object store, the DynamoDB ledger, the EventBridge notifier, and startup
// logging. This package extracts the common init patterns so each main (or
// Lambda init()) is a short composition of helpers.
package boot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/logging"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/notify"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/store"
)

// AWSClients holds the core AWS SDK clients shared across processes.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitObjectStore creates the S3-backed object store.
func InitObjectStore(cfg aws.Config) *storage.S3Store {
	return storage.NewS3Store(s3.NewFromConfig(cfg))
}

// InitJobStore creates the DynamoDB-backed job ledger. Fatals if the table
// name is empty.
func InitJobStore(cfg aws.Config, tableName string) *store.DynamoStore {
	if tableName == "" {
		log.Fatal().Msg("Jobs table name is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitNotifier creates the EventBridge notifier for discovery events.
// Returns nil (with a warning) when no bus is configured; callers treat a
// nil notifier as publishing disabled.
func InitNotifier(cfg aws.Config, busName string) notify.Notifier {
	if busName == "" {
		log.Warn().Msg("Event bus not configured, discovery events disabled")
		return nil
	}
	return notify.NewEventBridgeNotifier(eventbridge.NewFromConfig(cfg), busName)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
