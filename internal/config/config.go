package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// StreamReadBatch is the max events fetched per type-index stream read.
	StreamReadBatch int `json:"streamReadBatch"`
	// CheckpointReadBatch is the max entries fetched per checkpoint-stream read.
	CheckpointReadBatch int `json:"checkpointReadBatch"`
	// TfReadBatch is the max events fetched per TF-log read.
	TfReadBatch int `json:"tfReadBatch"`
	// RetryDelayMs is the delayed-republish backoff after an empty read, in ms.
	RetryDelayMs int `json:"retryDelayMs"`
	// MailboxDepth bounds the dispatch queue of the in-process bus.
	MailboxDepth int `json:"mailboxDepth"`
	// LogLevel is the minimum log level: debug|info|warn|error.
	LogLevel string `json:"logLevel"`
	// LogFormat selects log output rendering: text|json.
	LogFormat string `json:"logFormat"`
}

// Default returns built-in defaults. The read batch sizes and retry delay
// match the reader's wire contract and should rarely change.
func Default() Config {
	return Config{
		StreamReadBatch:     111,
		CheckpointReadBatch: 100,
		TfReadBatch:         111,
		RetryDelayMs:        250,
		MailboxDepth:        4096,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// RetryDelay returns the configured delayed-republish backoff as a Duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
