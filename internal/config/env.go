package config

import (
	"os"
	"strconv"
)

// FromEnv overlays FARO_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("FARO_STREAM_READ_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StreamReadBatch = n
		}
	}
	if v := os.Getenv("FARO_CHECKPOINT_READ_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CheckpointReadBatch = n
		}
	}
	if v := os.Getenv("FARO_TF_READ_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TfReadBatch = n
		}
	}
	if v := os.Getenv("FARO_RETRY_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryDelayMs = n
		}
	}
	if v := os.Getenv("FARO_MAILBOX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MailboxDepth = n
		}
	}
	if v := os.Getenv("FARO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FARO_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
