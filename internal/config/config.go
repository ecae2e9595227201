// Package config implements the three-layer configuration priority of
// SPEC_FULL.md §6: defaults, then environment variables, then
// explicit flags, the same layering as the teacher's core.Config
// (DefaultConfig → LoadFromEnv → functional Options), generalized from
// per-field struct tags to ORION's handful of binaries.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/orion-homelab/orion/internal/orionerr"
)

// Config holds every setting any ORION binary might need; each binary
// reads only the fields relevant to it and calls the matching
// Validate* method.
type Config struct {
	BusURL       string
	BusPassword  string
	ContractsDir string
	PolicyDir    string
	DataRoot     string
	StreamPrefix string
	HTTPPort     int
	LogLevel     string
	LogFormat    string

	AutonomyLevel string // N0 | N2 | N3

	DeviceID                 string
	MQTTBrokerURL            string
	HeartbeatIntervalSeconds int
	WatchdogTimeoutSeconds   int

	NodeID         string
	RuntimeBaseURL string
}

// Default returns the lowest-priority layer: hardcoded defaults.
func Default() *Config {
	return &Config{
		BusURL:                   "redis://localhost:6379/0",
		ContractsDir:             "./contracts/schemas",
		PolicyDir:                "./policy",
		DataRoot:                 "./data",
		StreamPrefix:             "orion",
		HTTPPort:                 8080,
		LogLevel:                 "INFO",
		LogFormat:                "text",
		AutonomyLevel:            "N2",
		MQTTBrokerURL:            "tcp://localhost:1883",
		HeartbeatIntervalSeconds: 5,
		WatchdogTimeoutSeconds:   5,
		RuntimeBaseURL:           "http://localhost:11434",
	}
}

// LoadFromEnv overlays the medium-priority layer: ORION_* environment
// variables, each overriding the default only if set.
func (c *Config) LoadFromEnv() {
	strOpt(&c.BusURL, "ORION_BUS_URL")
	strOpt(&c.BusPassword, "ORION_BUS_PASSWORD")
	strOpt(&c.ContractsDir, "ORION_CONTRACTS_DIR")
	strOpt(&c.PolicyDir, "ORION_POLICY_DIR")
	strOpt(&c.DataRoot, "ORION_DATA_ROOT")
	strOpt(&c.StreamPrefix, "ORION_STREAM_PREFIX")
	intOpt(&c.HTTPPort, "ORION_HTTP_PORT")
	strOpt(&c.LogLevel, "ORION_LOG_LEVEL")
	strOpt(&c.LogFormat, "ORION_LOG_FORMAT")
	strOpt(&c.AutonomyLevel, "ORION_AUTONOMY_LEVEL")
	strOpt(&c.DeviceID, "ORION_DEVICE_ID")
	strOpt(&c.MQTTBrokerURL, "ORION_MQTT_BROKER_URL")
	intOpt(&c.HeartbeatIntervalSeconds, "ORION_HEARTBEAT_INTERVAL_SECONDS")
	intOpt(&c.WatchdogTimeoutSeconds, "ORION_WATCHDOG_TIMEOUT_SECONDS")
	strOpt(&c.NodeID, "ORION_NODE_ID")
	strOpt(&c.RuntimeBaseURL, "ORION_RUNTIME_BASE_URL")
}

func strOpt(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intOpt(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// HeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// WatchdogTimeout returns the watchdog timeout as a Duration.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutSeconds) * time.Second
}

// ValidateBrain checks the fields orion-brain requires.
func (c *Config) ValidateBrain() error {
	if c.BusURL == "" {
		return missing("bus_url")
	}
	if c.ContractsDir == "" {
		return missing("contracts_dir")
	}
	if c.PolicyDir == "" {
		return missing("policy_dir")
	}
	if c.AutonomyLevel != "N0" && c.AutonomyLevel != "N2" && c.AutonomyLevel != "N3" {
		return invalid("autonomy_level")
	}
	return nil
}

// ValidateEdge checks the fields orion-edge requires. device_id is
// mandatory and has no default, per SPEC_FULL.md §6.
func (c *Config) ValidateEdge() error {
	if c.DeviceID == "" {
		return missing("device_id")
	}
	if c.BusURL == "" {
		return missing("bus_url")
	}
	if c.MQTTBrokerURL == "" {
		return missing("mqtt_broker_url")
	}
	if c.WatchdogTimeoutSeconds <= 0 {
		return invalid("watchdog_timeout_seconds")
	}
	return nil
}

// ValidateInferenceRouter checks the fields orion-inference-router
// requires.
func (c *Config) ValidateInferenceRouter() error {
	if c.BusURL == "" {
		return missing("bus_url")
	}
	return nil
}

// ValidateInferenceWorker checks the fields orion-inference-worker
// requires. node_id is mandatory.
func (c *Config) ValidateInferenceWorker() error {
	if c.NodeID == "" {
		return missing("node_id")
	}
	if c.BusURL == "" {
		return missing("bus_url")
	}
	if c.RuntimeBaseURL == "" {
		return missing("runtime_base_url")
	}
	return nil
}

func missing(field string) error {
	return orionerr.New("config.Validate", "config", orionerr.ErrMissingConfiguration).WithID(field)
}

func invalid(field string) error {
	return orionerr.New("config.Validate", "config", orionerr.ErrInvalidConfiguration).WithID(field)
}
