package config

import (
	"context"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VQT_INPUT_BUCKET", "input-bucket")
	t.Setenv("VQT_PROCESSED_BUCKET", "processed-bucket")
	t.Setenv("VQT_APPROVED_BUCKET", "approved-bucket")
	t.Setenv("VQT_JOBS_TABLE", "video-jobs")
}

func TestLoad(t *testing.T) {
	setRequired(t)
	t.Setenv("VQT_EVENT_BUS", "asset-events")

	cfg := Load()
	if cfg.InputBucket != "input-bucket" {
		t.Errorf("InputBucket = %q, want input-bucket", cfg.InputBucket)
	}
	if cfg.ProcessedBucket != "processed-bucket" {
		t.Errorf("ProcessedBucket = %q, want processed-bucket", cfg.ProcessedBucket)
	}
	if cfg.ApprovedBucket != "approved-bucket" {
		t.Errorf("ApprovedBucket = %q, want approved-bucket", cfg.ApprovedBucket)
	}
	if cfg.JobsTable != "video-jobs" {
		t.Errorf("JobsTable = %q, want video-jobs", cfg.JobsTable)
	}
	if cfg.EventBus != "asset-events" {
		t.Errorf("EventBus = %q, want asset-events", cfg.EventBus)
	}
}

func TestLoad_EventBusOptional(t *testing.T) {
	setRequired(t)
	t.Setenv("VQT_EVENT_BUS", "")

	if cfg := Load(); cfg.EventBus != "" {
		t.Errorf("EventBus = %q, want empty", cfg.EventBus)
	}
}

func TestLoadWorker_DefaultsLeavePacingZero(t *testing.T) {
	setRequired(t)
	t.Setenv("VQT_IDLE_INTERVAL", "")
	t.Setenv("VQT_COOLDOWN", "")
	t.Setenv("VQT_GENERATION_TIMEOUT", "")

	cfg := LoadWorker()
	if cfg.Idle != 0 || cfg.Cooldown != 0 || cfg.GenerationTimeout != 0 {
		t.Errorf("pacing = %v/%v/%v, want zeros for unset env", cfg.Idle, cfg.Cooldown, cfg.GenerationTimeout)
	}
}

func TestLoadWorker_PacingOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("VQT_IDLE_INTERVAL", "3s")
	t.Setenv("VQT_COOLDOWN", "45s")
	t.Setenv("VQT_GENERATION_TIMEOUT", "20m")

	cfg := LoadWorker()
	if cfg.Idle != 3*time.Second {
		t.Errorf("Idle = %v, want 3s", cfg.Idle)
	}
	if cfg.Cooldown != 45*time.Second {
		t.Errorf("Cooldown = %v, want 45s", cfg.Cooldown)
	}
	if cfg.GenerationTimeout != 20*time.Minute {
		t.Errorf("GenerationTimeout = %v, want 20m", cfg.GenerationTimeout)
	}
}

func TestLoadAPI_Port(t *testing.T) {
	setRequired(t)

	t.Setenv("VQT_API_PORT", "")
	if cfg := LoadAPI(); cfg.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Port)
	}

	t.Setenv("VQT_API_PORT", "9090")
	if cfg := LoadAPI(); cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
}

func TestGeminiAPIKey_FromEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	// The env var short-circuits before any SSM call.
	if key := GeminiAPIKey(context.Background(), nil); key != "test-key" {
		t.Errorf("GeminiAPIKey() = %q, want test-key", key)
	}
}
