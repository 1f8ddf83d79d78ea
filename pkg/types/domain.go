package types

import "time"

// ModelDescriptor identifies a discoverable model as reported by a zoo.
// Descriptors are immutable; a launch snapshots the descriptor into the
// running instance.
type ModelDescriptor struct {
	// Stable identifier within the owning zoo (for file-based zoos this is
	// the absolute path of the model file).
	// example: /mnt/ssd/models/TinyLlama.Q4_K_M.gguf
	ModelID string `json:"model_id" yaml:"model_id" toml:"model_id"`
	// On-disk format of the model weights.
	// example: gguf
	ModelFormat string `json:"model_format" yaml:"model_format" toml:"model_format"`
	// Human-friendly name; requests route by this name.
	// example: TinyLlama
	ModelName string `json:"model_name" yaml:"model_name" toml:"model_name"`
	// Total size in bytes across all parts, when known.
	ModelSize int64 `json:"model_size,omitempty" yaml:"model_size,omitempty" toml:"model_size,omitempty"`
	// Architecture hint (llama, mistral, sdxl, ...), when known.
	ModelArchitecture string `json:"model_architecture,omitempty" yaml:"model_architecture,omitempty" toml:"model_architecture,omitempty"`
	// Name of the zoo that produced this descriptor.
	// example: SSD
	ZooName string `json:"zoo_name" yaml:"zoo_name" toml:"zoo_name"`
}

// Listener is the network binding of a running instance.
type Listener struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// EnvironmentDefinition is a named set of process environment variables,
// typically used for GPU selection.
type EnvironmentDefinition struct {
	Name string            `json:"name"`
	Vars map[string]string `json:"vars"`
}

// PeerDescriptor addresses another modelzoo deployment, taken from
// configuration at startup.
type PeerDescriptor struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ParamType enumerates the value types a runtime parameter may take.
type ParamType string

const (
	ParamBool   ParamType = "bool"
	ParamInt    ParamType = "int"
	ParamEnum   ParamType = "enum"
	ParamString ParamType = "string"
)

// RuntimeParameter describes one configurable parameter of a runtime's
// launch schema.
type RuntimeParameter struct {
	Name        string    `json:"param_name"`
	Description string    `json:"param_description"`
	Type        ParamType `json:"param_type"`
	Default     any       `json:"param_default"`
	// Options maps allowed enum keys to their descriptions. Only set for
	// ParamEnum parameters.
	Options map[string]string `json:"param_options,omitempty"`
}

// InstanceStatus is the lifecycle state of a supervised instance. Transitions
// only move forward: Starting -> Ready|Failed, Ready -> Stopped|Failed.
type InstanceStatus string

const (
	StatusStarting InstanceStatus = "starting"
	StatusReady    InstanceStatus = "ready"
	StatusStopped  InstanceStatus = "stopped"
	StatusFailed   InstanceStatus = "failed"
)

// LaunchHistoryEntry records aggregate launch information for one
// zoo:model key. It survives instance stop and process restart.
type LaunchHistoryEntry struct {
	ZooName         string         `json:"zoo_name"`
	ModelName       string         `json:"model_name"`
	LaunchCount     int            `json:"launch_count"`
	LastLaunch      time.Time      `json:"last_launch"`
	LastRuntime     string         `json:"last_runtime,omitempty"`
	LastEnvironment []string       `json:"last_environment,omitempty"`
	LastParams      map[string]any `json:"last_params,omitempty"`
}
