package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.StreamReadBatch != 111 {
		t.Fatalf("stream batch: %d", cfg.StreamReadBatch)
	}
	if cfg.CheckpointReadBatch != 100 {
		t.Fatalf("checkpoint batch: %d", cfg.CheckpointReadBatch)
	}
	if cfg.TfReadBatch != 111 {
		t.Fatalf("tf batch: %d", cfg.TfReadBatch)
	}
	if cfg.RetryDelay() != 250*time.Millisecond {
		t.Fatalf("retry delay: %v", cfg.RetryDelay())
	}
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faro.json")
	if err := os.WriteFile(path, []byte(`{"streamReadBatch": 10, "logLevel": "debug"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StreamReadBatch != 10 {
		t.Fatalf("override missed: %d", cfg.StreamReadBatch)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	// untouched fields keep defaults
	if cfg.TfReadBatch != 111 {
		t.Fatalf("tf batch changed: %d", cfg.TfReadBatch)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("FARO_STREAM_READ_BATCH", "7")
	t.Setenv("FARO_RETRY_DELAY_MS", "10")
	t.Setenv("FARO_LOG_FORMAT", "json")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.StreamReadBatch != 7 || cfg.RetryDelayMs != 10 || cfg.LogFormat != "json" {
		t.Fatalf("env overlay missed: %+v", cfg)
	}
}

func TestFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("FARO_STREAM_READ_BATCH", "zero")
	t.Setenv("FARO_MAILBOX_DEPTH", "-1")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.StreamReadBatch != 111 || cfg.MailboxDepth != 4096 {
		t.Fatalf("invalid env applied: %+v", cfg)
	}
}
