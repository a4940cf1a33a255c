// Package config defines the external configuration surface the design
// pins but does not specify the implementation of (§6): listening port,
// document root, idle timeout, worker count, edge-vs-level trigger mode,
// and log level, plus the two demo-feature knobs for the auxiliary
// SQL-backed registration/login handler.
package config

import "time"

// TriggerMode selects between the design's primary edge-triggered,
// one-shot notifier discipline and the documented level-triggered
// fallback (design §9, "Edge-triggered correctness").
type TriggerMode string

const (
	TriggerEdge  TriggerMode = "edge"
	TriggerLevel TriggerMode = "level"
)

// Config is the fully-parsed configuration surface consumed once at
// startup by cmd/webserver.
type Config struct {
	Port            int
	DocRoot         string
	IndexPath       string
	IdleTimeout     time.Duration
	Workers         int
	TaskQueueSize   int
	Trigger         TriggerMode
	LogLevel        string
	ReadBufferSize  int

	// Demo auxiliary feature (design §1: "auxiliary demo feature", not
	// specified in detail beyond its interface).
	MySQLDSN        string
	EnableDemoLogin bool
}

// Default returns the configuration the design's scenario tests assume
// when not overridden by CLI flags.
func Default() Config {
	return Config{
		Port:           8080,
		DocRoot:        "./resources",
		IndexPath:      "/index.html",
		IdleTimeout:    60 * time.Second,
		Workers:        8,
		TaskQueueSize:  4096,
		Trigger:        TriggerEdge,
		LogLevel:       "info",
		ReadBufferSize: 4096,
	}
}
