// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// DispatchConfig holds tuning parameters for the dispatch engine.
type DispatchConfig struct {
	// Workers is the number of worker goroutines to spawn. Zero is
	// valid: the batch then completes entirely through local
	// reconstruction after the trailing timeout elapses. The CLI
	// defaults to 3.
	Workers int `json:"workers" yaml:"workers"`

	// InputQueueSize bounds the work-order channel (default 100000).
	// The feeder blocks when it is full.
	InputQueueSize int `json:"input_queue_size" yaml:"input_queue_size"`

	// OutputQueueSize bounds the result channel (default 65536). Sized
	// generously so workers can flush their final results and sentinel
	// even after the collector has stopped reading.
	OutputQueueSize int `json:"output_queue_size" yaml:"output_queue_size"`

	// PollInterval is the collector's timed-receive interval on the
	// result channel (default 1s). One empty read is one strike.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// WorkerPollInterval is the workers' timed-receive interval on the
	// work-order channel (default 5s).
	WorkerPollInterval time.Duration `json:"worker_poll_interval" yaml:"worker_poll_interval"`

	// PostSearchTrailingTimeout is the strike budget once every worker
	// has sent its sentinel but results are still missing (default 150).
	PostSearchTrailingTimeout int `json:"post_search_trailing_timeout" yaml:"post_search_trailing_timeout"`

	// ChildFailureTimeout is the base strike budget while workers are
	// presumed running. The effective budget is
	// ChildFailureTimeout * (1 + Workers mod 4); note the modulo wraps
	// at every multiple of four workers, so pools of 4, 8, 12, ...
	// get the base budget only (default 250).
	ChildFailureTimeout int `json:"child_failure_timeout" yaml:"child_failure_timeout"`

	// JoinTimeout bounds the per-worker wait during teardown. A worker
	// that does not finish within it is logged and abandoned, never
	// force-killed.
	JoinTimeout time.Duration `json:"join_timeout" yaml:"join_timeout"`
}

// WithDefaults returns a copy of c with zero values replaced by
// defaults.
func (c DispatchConfig) WithDefaults() DispatchConfig {
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.InputQueueSize <= 0 {
		c.InputQueueSize = 100000
	}
	if c.OutputQueueSize <= 0 {
		c.OutputQueueSize = 65536
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.WorkerPollInterval <= 0 {
		c.WorkerPollInterval = 5 * time.Second
	}
	if c.PostSearchTrailingTimeout <= 0 {
		c.PostSearchTrailingTimeout = 150
	}
	if c.ChildFailureTimeout <= 0 {
		c.ChildFailureTimeout = 250
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
	return c
}

// ScoringConfig holds settings for the built-in peak scorer.
type ScoringConfig struct {
	// Tolerance is the absolute m/z window for fragment-peak matching
	// (default 0.02).
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

// WithDefaults returns a copy of c with zero values replaced by
// defaults.
func (c ScoringConfig) WithDefaults() ScoringConfig {
	if c.Tolerance <= 0 {
		c.Tolerance = 0.02
	}
	return c
}

// OutputConfig holds settings for batch result output.
type OutputConfig struct {
	// DatabasePath is the SQLite file matches are persisted to.
	// Empty disables persistence.
	DatabasePath string `json:"database_path" yaml:"database_path"`

	// JSON switches the batch summary to JSON on stdout.
	JSON bool `json:"json" yaml:"json"`
}

// PipelineConfig groups all configuration for the engine.
type PipelineConfig struct {
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Scoring  ScoringConfig  `json:"scoring" yaml:"scoring"`
	Output   OutputConfig   `json:"output" yaml:"output"`
}
