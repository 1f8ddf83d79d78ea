// Package keeper ties the catalog, runtime, environment and supervision
// pieces together behind one façade the HTTP layer talks to. It owns no
// process state itself; the supervisor does.
package keeper

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"modelzoo/internal/runtime"
	"modelzoo/internal/supervisor"
	"modelzoo/internal/zoo"
	"modelzoo/pkg/types"
)

// Launcher is the supervisor surface the keeper needs.
type Launcher interface {
	Launch(spec supervisor.LaunchSpec) (string, error)
	Status(id string) (types.InstanceInfo, error)
	Logs(id string) ([]string, error)
	Stop(id string) error
	List() []types.InstanceInfo
}

// History is the read side of the launch history store; nil disables
// catalog pre-fill.
type History interface {
	Lookup(zooName, modelName string) (types.LaunchHistoryEntry, bool, error)
}

// PeerView yields cached peer snapshots; nil means no peers configured.
type PeerView interface {
	Peers() []types.PeerStatus
}

// NotFoundError names a resource (zoo, model, runtime, environment) a
// request referred to that does not exist.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// IsNotFound reports whether err is a resource lookup failure.
func IsNotFound(err error) bool {
	_, ok := err.(NotFoundError)
	return ok
}

// Keeper resolves launch requests against the configured zoos, runtimes and
// environments, and delegates lifecycle operations to the supervisor.
type Keeper struct {
	zoos     []zoo.Zoo
	zoosByN  map[string]zoo.Zoo
	adapters map[string]runtime.Adapter
	envs     map[string]types.EnvironmentDefinition
	sup      Launcher
	hist     History
	peers    PeerView
	log      zerolog.Logger
	started  time.Time
}

// New builds a Keeper. hist and peers may be nil.
func New(zoos []zoo.Zoo, adapters []runtime.Adapter, envs []types.EnvironmentDefinition, sup Launcher, hist History, peers PeerView, log zerolog.Logger) *Keeper {
	k := &Keeper{
		zoos:     zoos,
		zoosByN:  make(map[string]zoo.Zoo, len(zoos)),
		adapters: make(map[string]runtime.Adapter, len(adapters)),
		envs:     make(map[string]types.EnvironmentDefinition, len(envs)),
		sup:      sup,
		hist:     hist,
		peers:    peers,
		log:      log.With().Str("component", "keeper").Logger(),
		started:  time.Now(),
	}
	for _, z := range zoos {
		k.zoosByN[z.Name()] = z
	}
	for _, a := range adapters {
		k.adapters[a.Definition().Name] = a
	}
	for _, e := range envs {
		k.envs[e.Name] = e
	}
	return k
}

// Launch resolves every name in the request and hands the fully resolved
// spec to the supervisor. A custom name, when given, becomes the effective
// model name for routing and history.
func (k *Keeper) Launch(req types.LaunchRequest) (string, error) {
	z, ok := k.zoosByN[req.ZooName]
	if !ok {
		return "", NotFoundError{Resource: "zoo", Name: req.ZooName}
	}
	catalog, err := z.Catalog()
	if err != nil {
		return "", fmt.Errorf("zoo %s catalog: %w", req.ZooName, err)
	}
	var desc *types.ModelDescriptor
	for i := range catalog {
		if catalog[i].ModelID == req.ModelID {
			desc = &catalog[i]
			break
		}
	}
	if desc == nil {
		return "", NotFoundError{Resource: "model", Name: req.ModelID}
	}
	adapter, ok := k.adapters[req.Runtime]
	if !ok {
		return "", NotFoundError{Resource: "runtime", Name: req.Runtime}
	}
	envDefs := make([]types.EnvironmentDefinition, 0, len(req.Environment))
	for _, name := range req.Environment {
		def, ok := k.envs[name]
		if !ok {
			return "", NotFoundError{Resource: "environment", Name: name}
		}
		envDefs = append(envDefs, def)
	}

	model := *desc
	if req.CustomName != "" {
		model.ModelName = req.CustomName
	}
	return k.sup.Launch(supervisor.LaunchSpec{
		Model:        model,
		Adapter:      adapter,
		EnvNames:     req.Environment,
		Environments: envDefs,
		Port:         req.Port,
		Params:       req.Params,
	})
}

// Stop, Logs and InstanceStatus delegate to the supervisor by stable id.
func (k *Keeper) Stop(id string) error { return k.sup.Stop(id) }

func (k *Keeper) Logs(id string) ([]string, error) { return k.sup.Logs(id) }

func (k *Keeper) InstanceStatus(id string) (types.InstanceInfo, error) { return k.sup.Status(id) }

// Running returns the local instance list in the peer-mergeable shape.
func (k *Keeper) Running() []types.InstanceInfo { return k.sup.List() }

// Catalog merges every zoo's catalog with history pre-fill, most-launched
// first, names breaking ties. A zoo that fails to scan degrades to a
// warning rather than failing the whole listing.
func (k *Keeper) Catalog() []types.CatalogModel {
	var out []types.CatalogModel
	for _, z := range k.zoos {
		models, err := z.Catalog()
		if err != nil {
			k.log.Warn().Str("zoo", z.Name()).Err(err).Msg("catalog scan failed")
			continue
		}
		for _, m := range models {
			cm := types.CatalogModel{ModelDescriptor: m}
			if k.hist != nil {
				entry, found, err := k.hist.Lookup(m.ZooName, m.ModelName)
				if err != nil {
					k.log.Warn().Str("model", m.ModelName).Err(err).Msg("history lookup failed")
				} else if found {
					last := entry.LastLaunch
					cm.LaunchCount = entry.LaunchCount
					cm.LastLaunch = &last
					cm.LastRuntime = entry.LastRuntime
					cm.LastEnvironment = entry.LastEnvironment
					cm.LastParams = entry.LastParams
				}
			}
			out = append(out, cm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LaunchCount != out[j].LaunchCount {
			return out[i].LaunchCount > out[j].LaunchCount
		}
		return out[i].ModelName < out[j].ModelName
	})
	return out
}

// Peers returns the cached peer snapshots, empty when none are configured.
func (k *Keeper) Peers() []types.PeerStatus {
	if k.peers == nil {
		return []types.PeerStatus{}
	}
	return k.peers.Peers()
}

// Status summarizes the deployment for dashboards.
func (k *Keeper) Status() types.StatusResponse {
	hostname, _ := os.Hostname()
	now := time.Now()
	return types.StatusResponse{
		Hostname:       hostname,
		Instances:      k.sup.List(),
		UptimeSeconds:  int64(now.Sub(k.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

// Ready reports whether the keeper can serve traffic. Construction wires
// everything eagerly, so readiness is unconditional once New returns.
func (k *Keeper) Ready() bool { return true }
