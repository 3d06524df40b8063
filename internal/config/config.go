// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and CGMRISK_ environment variables over the defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// History policies for serving windows shorter than MinHistoryMinutes.
const (
	HistoryPolicyReject  = "reject"
	HistoryPolicyDegrade = "degrade"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// SpikeThreshold is the glucose level (mg/dL) a future maximum must exceed
	// for a training row to be labelled as a spike.
	SpikeThreshold float64 `koanf:"spike_threshold"`

	// HistoryPolicy decides what happens to serving windows that are too short:
	// "reject" fails the call, "degrade" serves a zero-filled vector flagged as degraded.
	HistoryPolicy string `koanf:"history_policy"`

	// MinHistoryMinutes is the minimum glucose span a serving call must cover.
	MinHistoryMinutes int `koanf:"min_history_minutes"`

	// ModelPath points at the JSON classifier artifact used by /predict.
	ModelPath string `koanf:"model_path"`

	// DatasetDir holds the session XML files read by the training pipeline.
	DatasetDir string `koanf:"dataset_dir"`

	// OutputDir receives exported datasets.
	OutputDir string `koanf:"output_dir"`

	// TrainMarker and TestMarker are filename substrings selecting the partition.
	TrainMarker string `koanf:"train_marker"`
	TestMarker  string `koanf:"test_marker"`

	// WorkerCount sets the number of session workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory session job queue.
	QueueSize int `koanf:"queue_size"`

	// Explainer backend (OpenAI-compatible chat completions). An empty API key
	// selects the rule-based explainer only.
	ExplainerBaseURL   string `koanf:"explainer_base_url"`
	ExplainerModel     string `koanf:"explainer_model"`
	ExplainerAPIKey    string `koanf:"explainer_api_key"`
	ExplainerTimeoutMS int    `koanf:"explainer_timeout_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":8000",
		SpikeThreshold:     180,
		HistoryPolicy:      HistoryPolicyReject,
		MinHistoryMinutes:  60,
		ModelPath:          "models/spike_model.json",
		DatasetDir:         "dataset",
		OutputDir:          "out",
		TrainMarker:        "training",
		TestMarker:         "testing",
		WorkerCount:        runtime.NumCPU(),
		QueueSize:          1024,
		ExplainerBaseURL:   "https://api.groq.com/openai/v1",
		ExplainerModel:     "moonshotai/kimi-k2-instruct-0905",
		ExplainerTimeoutMS: 10_000,
	}
}

// MinHistory returns MinHistoryMinutes as a duration.
func (c *Config) MinHistory() time.Duration {
	return time.Duration(c.MinHistoryMinutes) * time.Minute
}

// ExplainerTimeout returns ExplainerTimeoutMS as a duration.
func (c *Config) ExplainerTimeout() time.Duration {
	return time.Duration(c.ExplainerTimeoutMS) * time.Millisecond
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.SpikeThreshold <= 0:
		return fmt.Errorf("%w: spike_threshold must be positive", ErrInvalidConfig)
	case c.MinHistoryMinutes < 0:
		return fmt.Errorf("%w: min_history_minutes must not be negative", ErrInvalidConfig)
	case c.TrainMarker == "" || c.TestMarker == "":
		return fmt.Errorf("%w: train_marker and test_marker must be set", ErrInvalidConfig)
	case strings.EqualFold(c.TrainMarker, c.TestMarker):
		return fmt.Errorf("%w: train_marker and test_marker must differ", ErrInvalidConfig)
	}
	switch c.HistoryPolicy {
	case HistoryPolicyReject, HistoryPolicyDegrade:
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnknownPolicy, c.HistoryPolicy)
	}
	return nil
}
