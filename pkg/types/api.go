package types

import "time"

// LaunchRequest is the payload of POST /api/model/launch.
type LaunchRequest struct {
	// Zoo that lists the model.
	// example: SSD
	ZooName string `json:"zoo_name"`
	// Model identifier within the zoo.
	ModelID string `json:"model_id"`
	// Optional name override; routing and history use the effective name.
	CustomName string `json:"custom_name,omitempty"`
	// Runtime to launch the model with.
	// example: LlamaRuntime
	Runtime string `json:"runtime"`
	// Ordered environment selection; duplicate variables comma-join in this
	// order.
	Environment []string `json:"environment,omitempty"`
	// TCP port the backend will listen on.
	// example: 8001
	Port int `json:"port"`
	// Runtime parameters, validated against the runtime's schema.
	Params map[string]any `json:"params,omitempty"`
}

// LaunchResponse returns the stable instance identifier assigned at launch.
type LaunchResponse struct {
	InstanceID string `json:"instance_id"`
}

// InstanceRef addresses one instance by id in stop/logs/status requests.
type InstanceRef struct {
	ID string `json:"id"`
}

// InstanceInfo is a read-only projection of one running (or terminated)
// instance. Peer-sourced entries carry Source "peer:<host>" and no PID.
type InstanceInfo struct {
	ID          string          `json:"id"`
	Model       ModelDescriptor `json:"model"`
	Runtime     string          `json:"runtime"`
	Environment string          `json:"environment,omitempty"`
	Listener    Listener        `json:"listener"`
	Status      InstanceStatus  `json:"status"`
	// Protocol spoken by the backend (openai, a1111); determines image
	// generation eligibility.
	Protocol  string    `json:"protocol,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	PID       int       `json:"pid,omitempty"`
}

// RunningModelsResponse is the shape peers exchange: the responder's own
// local instance list.
type RunningModelsResponse struct {
	RunningModels []InstanceInfo `json:"running_models"`
}

// LogsResponse returns the instance's captured output, most-recent-last.
type LogsResponse struct {
	Logs []string `json:"logs"`
}

// CatalogModel decorates a zoo descriptor with launch-history pre-fill data
// for the dashboard.
type CatalogModel struct {
	ModelDescriptor
	LaunchCount     int            `json:"launch_count"`
	LastLaunch      *time.Time     `json:"last_launch,omitempty"`
	LastRuntime     string         `json:"last_runtime,omitempty"`
	LastEnvironment []string       `json:"last_environment,omitempty"`
	LastParams      map[string]any `json:"last_params,omitempty"`
}

// PeerStatus is one peer's cached snapshot plus reachability.
type PeerStatus struct {
	Host      string         `json:"host"`
	Port      int            `json:"port"`
	Reachable bool           `json:"reachable"`
	FetchedAt time.Time      `json:"fetched_at,omitempty"`
	Models    []InstanceInfo `json:"models"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Hostname       string         `json:"hostname"`
	Instances      []InstanceInfo `json:"instances"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	ServerTimeUnix int64          `json:"server_time_unix"`
}

// ErrorResponse is the consistent JSON error payload. Kind is machine
// readable; Error is for humans.
type ErrorResponse struct {
	// example: model m1 not found or not running
	Error string `json:"error"`
	// example: model_not_found
	Kind string `json:"kind,omitempty"`
	// example: 404
	Code int `json:"code"`
}
