// Package config loads per-process configuration from the environment.
// Required variables fail fast at startup; optional ones fall back to the
// defaults of the component they tune. A local .env file is honored outside
// Lambda so development runs need no exported shell state.
package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
)

// defaultAPIKeyParam is the SSM parameter holding the Gemini API key when
// GEMINI_API_KEY_SSM_PARAM does not name another one.
const defaultAPIKeyParam = "/galeria/video-quality-tool/gemini-api-key"

// Process is the configuration shared by every binary: the three asset
// tiers, the ledger table, and the optional discovery event bus.
type Process struct {
	InputBucket     string
	ProcessedBucket string
	ApprovedBucket  string
	JobsTable       string

	// EventBus is the EventBridge bus for discovery events. Empty disables
	// publishing; "default" targets the account default bus.
	EventBus string
}

// Tiers maps the bucket configuration onto the storage tier triple.
func (p Process) Tiers() storage.Tiers {
	return storage.Tiers{
		Input:     p.InputBucket,
		Processed: p.ProcessedBucket,
		Approved:  p.ApprovedBucket,
	}
}

// Worker extends Process with the generation loop pacing. Zero durations
// leave the worker package defaults in charge.
type Worker struct {
	Process
	Idle              time.Duration
	Cooldown          time.Duration
	GenerationTimeout time.Duration
}

// API extends Process with the HTTP listen port.
type API struct {
	Process
	Port int
}

// Load reads the shared process configuration.
func Load() Process {
	loadDotEnv()
	return Process{
		InputBucket:     require("VQT_INPUT_BUCKET"),
		ProcessedBucket: require("VQT_PROCESSED_BUCKET"),
		ApprovedBucket:  require("VQT_APPROVED_BUCKET"),
		JobsTable:       require("VQT_JOBS_TABLE"),
		EventBus:        os.Getenv("VQT_EVENT_BUS"),
	}
}

// LoadWorker reads the worker process configuration.
func LoadWorker() Worker {
	return Worker{
		Process:           Load(),
		Idle:              duration("VQT_IDLE_INTERVAL", 0),
		Cooldown:          duration("VQT_COOLDOWN", 0),
		GenerationTimeout: duration("VQT_GENERATION_TIMEOUT", 0),
	}
}

// LoadAPI reads the moderation API process configuration.
func LoadAPI() API {
	return API{
		Process: Load(),
		Port:    port("VQT_API_PORT", 8080),
	}
}

// LoadLambda reads the configuration for the Lambda processes. The Lambda
// environment is assembled by the deployment, so this is the shared set.
func LoadLambda() Process {
	return Load()
}

// GeminiAPIKey returns the Veo API key: GEMINI_API_KEY when set, otherwise
// the decrypted SSM parameter named by GEMINI_API_KEY_SSM_PARAM.
func GeminiAPIKey(ctx context.Context, ssmClient *ssm.Client) string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		log.Debug().Msg("Using Gemini API key from environment")
		return key
	}

	param := os.Getenv("GEMINI_API_KEY_SSM_PARAM")
	if param == "" {
		param = defaultAPIKeyParam
	}
	start := time.Now()
	out, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Fatal().Err(err).Str("param", param).Msg("Failed to read Gemini API key from SSM")
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return aws.ToString(out.Parameter.Value)
}

// loadDotEnv loads a local .env file when one exists. Inside Lambda the
// environment is already complete and the file never exists.
func loadDotEnv() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return
	}
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}
}

func require(envVar string) string {
	v := os.Getenv(envVar)
	if v == "" {
		log.Fatal().Str("envVar", envVar).Msg("Required environment variable is not set")
	}
	return v
}

func duration(envVar string, def time.Duration) time.Duration {
	v := os.Getenv(envVar)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatal().Err(err).Str("envVar", envVar).Str("value", v).Msg("Invalid duration in environment")
	}
	return d
}

func port(envVar string, def int) int {
	v := os.Getenv(envVar)
	if v == "" {
		return def
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		log.Fatal().Str("envVar", envVar).Str("value", v).Msg("Invalid port in environment")
	}
	return p
}
