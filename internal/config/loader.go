// Package config loads the daemon's startup configuration from a single
// file. The file is read once at boot and never re-read while running.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"modelzoo/internal/runtime"
	"modelzoo/internal/zoo"
	"modelzoo/pkg/types"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	HistoryPath string `json:"history_path" yaml:"history_path" toml:"history_path"`

	Instance InstanceConfig `json:"instance" yaml:"instance" toml:"instance"`

	Zoos     []ZooConfig                   `json:"zoos" yaml:"zoos" toml:"zoos"`
	Runtimes []RuntimeConfig               `json:"runtimes" yaml:"runtimes" toml:"runtimes"`
	Envs     []types.EnvironmentDefinition `json:"envs" yaml:"envs" toml:"envs"`
	Peers    []types.PeerDescriptor        `json:"peers" yaml:"peers" toml:"peers"`

	// PeerRefreshSeconds is how often peer snapshots refresh; 0 uses the
	// aggregator default.
	PeerRefreshSeconds int `json:"peer_refresh_seconds" yaml:"peer_refresh_seconds" toml:"peer_refresh_seconds"`

	CORS CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

// InstanceConfig tunes the supervisor. Zero values use supervisor defaults.
type InstanceConfig struct {
	Host             string `json:"host" yaml:"host" toml:"host"`
	ProbeIntervalMS  int    `json:"probe_interval_ms" yaml:"probe_interval_ms" toml:"probe_interval_ms"`
	ProbeTimeoutMS   int    `json:"probe_timeout_ms" yaml:"probe_timeout_ms" toml:"probe_timeout_ms"`
	ProbeBudgetSecs  int    `json:"probe_budget_seconds" yaml:"probe_budget_seconds" toml:"probe_budget_seconds"`
	StopGraceSecs    int    `json:"stop_grace_seconds" yaml:"stop_grace_seconds" toml:"stop_grace_seconds"`
	LogLines         int    `json:"log_lines" yaml:"log_lines" toml:"log_lines"`
}

// ZooConfig declares one model source. Class selects the implementation.
type ZooConfig struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Class is "folder" (scan a directory) or "static" (fixed list).
	Class  string                  `json:"class" yaml:"class" toml:"class"`
	Path   string                  `json:"path" yaml:"path" toml:"path"`
	Models []types.ModelDescriptor `json:"models" yaml:"models" toml:"models"`
}

// RuntimeConfig declares one launchable runtime. Class selects the adapter.
type RuntimeConfig struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Class is one of: llama, koboldcpp, diffusion, script, passthrough.
	Class   string `json:"class" yaml:"class" toml:"class"`
	BinPath string `json:"bin_path" yaml:"bin_path" toml:"bin_path"`
	// Formats and Protocol only apply to the script class; the other
	// classes fix both.
	Formats  []string `json:"formats" yaml:"formats" toml:"formats"`
	Protocol string   `json:"protocol" yaml:"protocol" toml:"protocol"`
}

// CORSConfig enables cross-origin access for browser dashboards.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// BuildZoos constructs the configured model sources. Duplicate names and
// unknown classes are configuration errors.
func BuildZoos(cfgs []ZooConfig) ([]zoo.Zoo, error) {
	seen := make(map[string]bool, len(cfgs))
	out := make([]zoo.Zoo, 0, len(cfgs))
	for _, zc := range cfgs {
		if zc.Name == "" {
			return nil, fmt.Errorf("zoo with empty name")
		}
		if seen[zc.Name] {
			return nil, fmt.Errorf("duplicate zoo name %q", zc.Name)
		}
		seen[zc.Name] = true
		switch zc.Class {
		case "folder":
			z, err := zoo.NewFolder(zc.Name, zc.Path)
			if err != nil {
				return nil, fmt.Errorf("zoo %s: %w", zc.Name, err)
			}
			out = append(out, z)
		case "static":
			out = append(out, zoo.NewStatic(zc.Name, zc.Models))
		default:
			return nil, fmt.Errorf("zoo %s: unknown class %q", zc.Name, zc.Class)
		}
	}
	return out, nil
}

// BuildRuntimes constructs the configured adapters by class.
func BuildRuntimes(cfgs []RuntimeConfig) ([]runtime.Adapter, error) {
	seen := make(map[string]bool, len(cfgs))
	out := make([]runtime.Adapter, 0, len(cfgs))
	for _, rc := range cfgs {
		if rc.Name == "" {
			return nil, fmt.Errorf("runtime with empty name")
		}
		if seen[rc.Name] {
			return nil, fmt.Errorf("duplicate runtime name %q", rc.Name)
		}
		seen[rc.Name] = true
		switch rc.Class {
		case "llama":
			out = append(out, runtime.NewLlama(rc.Name, rc.BinPath))
		case "koboldcpp":
			out = append(out, runtime.NewKoboldCpp(rc.Name, rc.BinPath))
		case "diffusion":
			out = append(out, runtime.NewDiffusion(rc.Name, rc.BinPath))
		case "script":
			proto := runtime.Protocol(rc.Protocol)
			if proto == "" {
				proto = runtime.ProtocolOpenAI
			}
			out = append(out, runtime.NewScript(rc.Name, rc.BinPath, rc.Formats, proto))
		case "passthrough":
			out = append(out, runtime.NewPassthrough(rc.Name, rc.BinPath))
		default:
			return nil, fmt.Errorf("runtime %s: unknown class %q", rc.Name, rc.Class)
		}
	}
	return out, nil
}
