// Package messages defines the ORION wire types: one Go struct per
// message type named in SPEC_FULL.md §3, each embedding envelope.Envelope.
// These are tagged-sum types per SPEC_FULL.md §9 — decision_type,
// command_type, telemetry_type etc. select which payload fields are
// meaningful; internal/contracts enforces the tag-to-payload relation
// at the JSON Schema level so Go code never has to guess.
package messages

import (
	"time"

	"github.com/orion-homelab/orion/internal/envelope"
)

// Message type name constants, matching the stream suffix and schema
// file name (internal/contracts loads "<Type>.json" for each).
const (
	TypeEvent             = "event"
	TypeIncident          = "incident"
	TypeDecision          = "decision"
	TypeApprovalRequest   = "approval_request"
	TypeApprovalDecision  = "approval_decision"
	TypeAction            = "action"
	TypeOutcome           = "outcome"
	TypeValidation        = "validation"
	TypeEdgeCommand       = "edge_command"
	TypeEdgeTelemetry     = "edge_telemetry"
	TypeEdgeHealth        = "edge_health"
	TypeInferenceRequest  = "inference_request"
	TypeInferenceResponse = "inference_response"
)

// Severity levels shared by Event and Incident.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is a raw observation emitted by a watcher.
type Event struct {
	envelope.Envelope
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Data      map[string]interface{} `json:"data"`
}

// CorrelationWindow bounds the events an Incident may absorb.
type CorrelationWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Incident is a correlated situation derived from one or more Events.
type Incident struct {
	envelope.Envelope
	IncidentID        string            `json:"incident_id"`
	IncidentType      string            `json:"incident_type"`
	Severity          Severity          `json:"severity"`
	CorrelationWindow CorrelationWindow `json:"correlation_window"`
	EventIDs          []string          `json:"event_ids"`
	Fingerprint       string            `json:"fingerprint"`
}

// DecisionType enumerates what the decider chose to do.
type DecisionType string

const (
	DecisionNoAction       DecisionType = "NO_ACTION"
	DecisionExecuteSafe    DecisionType = "EXECUTE_SAFE_ACTION"
	DecisionRequestApproval DecisionType = "REQUEST_APPROVAL"
)

// SafetyClassification is the policy store's verdict on an action type.
type SafetyClassification string

const (
	ClassificationSafe    SafetyClassification = "SAFE"
	ClassificationRisky   SafetyClassification = "RISKY"
	ClassificationUnknown SafetyClassification = "UNKNOWN"
)

// AutonomyLevel gates what the decider is allowed to emit.
type AutonomyLevel string

const (
	AutonomyN0 AutonomyLevel = "N0"
	AutonomyN2 AutonomyLevel = "N2"
	AutonomyN3 AutonomyLevel = "N3"
)

// Decision is the decider's reasoning output for one incident.
type Decision struct {
	envelope.Envelope
	DecisionID           string               `json:"decision_id"`
	IncidentID           string               `json:"incident_id"`
	DecisionType         DecisionType         `json:"decision_type"`
	ActionType           string               `json:"action_type,omitempty"`
	SafetyClassification SafetyClassification `json:"safety_classification"`
	Reasoning            string               `json:"reasoning"`
	AutonomyLevel        AutonomyLevel        `json:"autonomy_level"`
	ExpiresAt            *time.Time           `json:"expires_at,omitempty"`
}

// ApprovalRequest is published when the decider needs a human sign-off.
type ApprovalRequest struct {
	envelope.Envelope
	RequestID  string    `json:"request_id"`
	DecisionID string    `json:"decision_id"`
	ActionType string    `json:"action_type"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ApprovalDecision is a human's (or rejected-identity) response to an
// ApprovalRequest.
type ApprovalDecision struct {
	envelope.Envelope
	RequestID  string `json:"request_id"`
	ApproverID string `json:"approver_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
}

// Action is the command the executor dispatches.
type Action struct {
	envelope.Envelope
	ActionID   string                 `json:"action_id"`
	DecisionID string                 `json:"decision_id"`
	ActionType string                 `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters"`
}

// OutcomeStatus enumerates the result of executing an Action.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeRolledBack  OutcomeStatus = "rolled_back"
	OutcomeRejected    OutcomeStatus = "rejected"
)

// Outcome is the result of executing an Action.
type Outcome struct {
	envelope.Envelope
	OutcomeID         string        `json:"outcome_id"`
	ActionID          string        `json:"action_id"`
	Status            OutcomeStatus `json:"status"`
	ExecutionTimeMs   int64         `json:"execution_time_ms"`
	ExecutionStartedAt time.Time    `json:"execution_started_at"`
	Error             string        `json:"error,omitempty"`
}

// ValidationResult is the optional advisory/blocking overlay record.
type ValidationResult string

const (
	ValidationApproved ValidationResult = "APPROVED"
	ValidationBlocked  ValidationResult = "BLOCKED"
)

// Validation is the optional review-layer record attached to a Decision.
type Validation struct {
	envelope.Envelope
	ValidationID     string           `json:"validation_id"`
	DecisionID       string           `json:"decision_id"`
	Result           ValidationResult `json:"result"`
	Confidence       float64          `json:"confidence"`
	Critique         string           `json:"critique"`
	ValidatorsUsed   []string         `json:"validators_used"`
	SafetyVetoTriggered bool          `json:"safety_veto_triggered"`
}

// EdgeCommandType enumerates the commands the brain may send an edge agent.
type EdgeCommandType string

const (
	CommandMove      EdgeCommandType = "MOVE"
	CommandStop      EdgeCommandType = "STOP"
	CommandCalibrate EdgeCommandType = "CALIBRATE"
	CommandStatus    EdgeCommandType = "STATUS"
	CommandResume    EdgeCommandType = "RESUME"
)

// safeWhileInSafeMode is the always-accepted subset of command types.
var safeWhileInSafeMode = map[EdgeCommandType]bool{
	CommandStop:   true,
	CommandStatus: true,
	CommandResume: true,
}

// AllowedInSafeMode reports whether a command type may be accepted
// while the edge agent is in safe mode.
func AllowedInSafeMode(t EdgeCommandType) bool {
	return safeWhileInSafeMode[t]
}

// EdgeCommand is dispatched to a specific device's command stream.
type EdgeCommand struct {
	envelope.Envelope
	CommandID   string                 `json:"command_id"`
	CommandType EdgeCommandType        `json:"command_type"`
	DeviceID    string                 `json:"device_id"`
	Parameters  map[string]interface{} `json:"parameters"`
	Priority    int                    `json:"priority"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
}

// EdgeTelemetryType enumerates the kinds of telemetry samples an edge
// agent reports.
type EdgeTelemetryType string

const (
	TelemetryPosition    EdgeTelemetryType = "POSITION"
	TelemetryBattery     EdgeTelemetryType = "BATTERY"
	TelemetryTemperature EdgeTelemetryType = "TEMPERATURE"
	TelemetryServoStatus EdgeTelemetryType = "SERVO_STATUS"
	TelemetryNetwork     EdgeTelemetryType = "NETWORK"
)

// EdgeTelemetry carries one typed sample.
type EdgeTelemetry struct {
	envelope.Envelope
	TelemetryID   string                 `json:"telemetry_id"`
	DeviceID      string                 `json:"device_id"`
	TelemetryType EdgeTelemetryType      `json:"telemetry_type"`
	Value         map[string]interface{} `json:"value"`
}

// EdgeState enumerates the lifecycle state reported in EdgeHealth.
type EdgeState string

const (
	StateRunning  EdgeState = "RUNNING"
	StateIdle     EdgeState = "IDLE"
	StateSafeMode EdgeState = "SAFE_MODE"
	StateError    EdgeState = "ERROR"
	StateOffline  EdgeState = "OFFLINE"
)

// EdgeSafety is the safety sub-object of EdgeHealth.
type EdgeSafety struct {
	DeadManSwitchActive bool  `json:"dead_man_switch_active"`
	WatchdogRemainingMs int64 `json:"watchdog_remaining_ms"`
	InSafePosition      bool  `json:"in_safe_position"`
}

// EdgeConnectionStatus reports edge transport connectivity.
type EdgeConnectionStatus struct {
	MQTTConnected    bool      `json:"mqtt_connected"`
	RedisConnected   bool      `json:"redis_connected"`
	LastBrainContact time.Time `json:"last_brain_contact"`
}

// EdgeHealth is the periodic heartbeat published by an edge agent.
type EdgeHealth struct {
	envelope.Envelope
	HealthID         string               `json:"health_id"`
	DeviceID         string               `json:"device_id"`
	State            EdgeState            `json:"state"`
	UptimeSeconds    int64                `json:"uptime_seconds"`
	ConnectionStatus EdgeConnectionStatus `json:"connection_status"`
	Safety           EdgeSafety           `json:"safety"`
	Errors           []string             `json:"errors,omitempty"`
}

// ChatMessage is one entry in an InferenceRequest's ordered message list.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InferenceRequest asks the router to dispatch an inference job.
type InferenceRequest struct {
	envelope.Envelope
	RequestID        string        `json:"request_id"`
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	KeepAliveSeconds int           `json:"keep_alive_seconds"`
	Callback         string        `json:"callback"`
}

// InferenceResponse is a worker's reply to an InferenceRequest.
type InferenceResponse struct {
	envelope.Envelope
	RequestID        string `json:"request_id"`
	Response         string `json:"response"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	LoadDurationMs   int64  `json:"load_duration_ms"`
	TotalDurationMs  int64  `json:"total_duration_ms"`
	Error            string `json:"error,omitempty"`
}

// NodeHealth is a worker's self-reported health record in the registry.
type NodeHealth struct {
	NodeID       string    `json:"node_id"`
	CPUPercent   float64   `json:"cpu_percent"`
	RAMPercent   float64   `json:"ram_percent"`
	RAMUsedMB    int64     `json:"ram_used_mb"`
	RAMTotalMB   int64     `json:"ram_total_mb"`
	TempCelsius  float64   `json:"temp_celsius"`
	Models       []string  `json:"models"`
	Available    bool      `json:"available"`
	LastSeen     time.Time `json:"last_seen"`
}
