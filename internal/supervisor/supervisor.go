// Package supervisor owns the set of locally running model server processes.
// It is the single writer of instance state: launches, readiness probing,
// log capture, exit detection and stops all funnel through one Supervisor.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelzoo/internal/envset"
	"modelzoo/internal/runtime"
	"modelzoo/pkg/types"
)

// Config carries the supervision tunables. Zero values take the package
// defaults.
type Config struct {
	// Host every instance listener binds to.
	Host string
	// ProbeInterval is the pause between readiness probe attempts.
	ProbeInterval time.Duration
	// ProbeTimeout bounds a single probe attempt.
	ProbeTimeout time.Duration
	// ProbeBudget bounds the total time an instance may stay Starting
	// before it is failed.
	ProbeBudget time.Duration
	// StopGrace is how long a stop waits after SIGTERM before escalating
	// to SIGKILL.
	StopGrace time.Duration
	// LogLines is the ring buffer capacity per instance.
	LogLines int
}

const (
	defaultHost          = "127.0.0.1"
	defaultProbeInterval = 250 * time.Millisecond
	defaultProbeTimeout  = time.Second
	defaultProbeBudget   = 60 * time.Second
	defaultStopGrace     = 5 * time.Second
	defaultLogLines      = 100
)

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.ProbeBudget <= 0 {
		c.ProbeBudget = defaultProbeBudget
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.LogLines <= 0 {
		c.LogLines = defaultLogLines
	}
	return c
}

// Recorder receives one call per accepted launch. The history store
// implements it; a nil Recorder disables recording.
type Recorder interface {
	Record(zooName, modelName, runtimeName string, envNames []string, params map[string]any) error
}

// LaunchSpec is a fully resolved launch request: the caller has already
// looked up the model descriptor, adapter and environment definitions.
type LaunchSpec struct {
	Model        types.ModelDescriptor
	Adapter      runtime.Adapter
	EnvNames     []string
	Environments []types.EnvironmentDefinition
	Port         int
	Params       map[string]any
}

type instance struct {
	id          string
	model       types.ModelDescriptor
	runtimeName string
	protocol    runtime.Protocol
	probe       runtime.ProbeSpec
	envLabel    string
	listener    types.Listener
	startedAt   time.Time
	cmd         *exec.Cmd
	ring        *logRing
	status      types.InstanceStatus
	stopping    bool
	probeCancel context.CancelFunc
	// waitDone closes once cmd.Wait has returned.
	waitDone chan struct{}
}

// Supervisor guards the instance table and the port reservation set with one
// mutex so reservation, insertion and status mutation are each atomic with
// respect to concurrent launches and stops.
type Supervisor struct {
	mu        sync.RWMutex
	cfg       Config
	log       zerolog.Logger
	history   Recorder
	client    *http.Client
	instances map[string]*instance
	ports     map[int]string
	closed    bool
}

// New builds a Supervisor. history may be nil.
func New(cfg Config, history Recorder, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "supervisor").Logger(),
		history: history,
		// Probe attempts carry their own context deadlines.
		client:    &http.Client{Timeout: 0},
		instances: make(map[string]*instance),
		ports:     make(map[int]string),
	}
}

// Launch validates, reserves the port, spawns the process and returns the
// new instance id without waiting for readiness. On a validation error or a
// spawn failure no instance is created and no state is left behind.
func (s *Supervisor) Launch(spec LaunchSpec) (string, error) {
	def := spec.Adapter.Definition()
	if err := runtime.CheckFormat(def, spec.Model); err != nil {
		return "", err
	}
	resolved, err := runtime.ResolveParams(def, spec.Params)
	if err != nil {
		return "", err
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return "", InvalidPortError{Port: spec.Port}
	}

	env := envset.Merge(spec.Environments)
	listener := types.Listener{Protocol: "http", Host: s.cfg.Host, Port: spec.Port}
	argv, err := spec.Adapter.BuildCommand(spec.Model, listener, resolved)
	if err != nil {
		return "", err
	}

	// Check-and-reserve is one atomic step: of two concurrent launches on
	// the same port exactly one gets past this block.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("supervisor is shut down")
	}
	if _, taken := s.ports[spec.Port]; taken {
		s.mu.Unlock()
		return "", PortInUseError{Port: spec.Port}
	}
	id := uuid.NewString()
	s.ports[spec.Port] = id
	s.mu.Unlock()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), envPairs(env)...)
	pr, pw, err := os.Pipe()
	if err != nil {
		s.releasePort(spec.Port)
		return "", fmt.Errorf("log pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		s.releasePort(spec.Port)
		return "", SpawnError{Bin: argv[0], Err: err}
	}
	// The child holds the write end now.
	pw.Close()

	probeCtx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		id:          id,
		model:       spec.Model,
		runtimeName: def.Name,
		protocol:    def.Protocol,
		probe:       def.Protocol.Probe(),
		envLabel:    envset.CombinedName(spec.Environments),
		listener:    listener,
		startedAt:   time.Now(),
		cmd:         cmd,
		ring:        newLogRing(s.cfg.LogLines),
		status:      types.StatusStarting,
		probeCancel: cancel,
		waitDone:    make(chan struct{}),
	}

	s.mu.Lock()
	s.instances[id] = inst
	s.mu.Unlock()

	go s.collectLogs(inst, pr)
	go s.watchExit(inst)
	go s.probeLoop(probeCtx, inst)

	if s.history != nil {
		if err := s.history.Record(spec.Model.ZooName, spec.Model.ModelName, def.Name, spec.EnvNames, resolved); err != nil {
			s.log.Warn().Err(err).Str("model", spec.Model.ModelName).Msg("launch history record failed")
		}
	}
	launchesTotal.Inc()
	transitionsTotal.WithLabelValues(string(types.StatusStarting)).Inc()
	s.log.Info().
		Str("id", id).
		Str("model", spec.Model.ModelName).
		Str("runtime", def.Name).
		Int("port", spec.Port).
		Int("pid", cmd.Process.Pid).
		Msg("instance launched")
	return id, nil
}

// Status returns the current projection of one instance.
func (s *Supervisor) Status(id string) (types.InstanceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return types.InstanceInfo{}, UnknownInstanceError{ID: id}
	}
	return s.infoLocked(inst), nil
}

// Logs returns the instance's captured output, most recent last.
func (s *Supervisor) Logs(id string) ([]string, error) {
	s.mu.RLock()
	inst, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return nil, UnknownInstanceError{ID: id}
	}
	return inst.ring.Snapshot(), nil
}

// List snapshots all local instances at a single point in time.
func (s *Supervisor) List() []types.InstanceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.InstanceInfo, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, s.infoLocked(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stop terminates an instance. Stopping a Stopped or Failed instance is a
// no-op success; an unknown id is an error. The probe loop is cancelled
// before any state changes so a late probe result cannot resurrect the
// instance.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return UnknownInstanceError{ID: id}
	}
	if inst.status == types.StatusStopped || inst.status == types.StatusFailed {
		s.mu.Unlock()
		return nil
	}
	if inst.stopping {
		// Another stop is in flight; wait for the process to go away.
		s.mu.Unlock()
		<-inst.waitDone
		return nil
	}
	inst.stopping = true
	cancel := inst.probeCancel
	s.mu.Unlock()

	cancel()
	s.terminate(inst)

	s.mu.Lock()
	inst.status = types.StatusStopped
	delete(s.ports, inst.listener.Port)
	s.mu.Unlock()
	transitionsTotal.WithLabelValues(string(types.StatusStopped)).Inc()
	s.log.Info().Str("id", id).Str("model", inst.model.ModelName).Msg("instance stopped")
	return nil
}

// Shutdown stops every live instance and refuses further launches.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.Stop(id)
		}(id)
	}
	wg.Wait()
}

// terminate asks the process to exit and escalates to SIGKILL after the
// grace period.
func (s *Supervisor) terminate(inst *instance) {
	if inst.cmd.Process != nil {
		_ = inst.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-inst.waitDone:
	case <-time.After(s.cfg.StopGrace):
		if inst.cmd.Process != nil {
			_ = inst.cmd.Process.Kill()
		}
		<-inst.waitDone
	}
}

// watchExit waits for the process and fails the instance if it exited
// without a stop being requested.
func (s *Supervisor) watchExit(inst *instance) {
	err := inst.cmd.Wait()
	close(inst.waitDone)

	s.mu.Lock()
	if inst.stopping || inst.status == types.StatusStopped || inst.status == types.StatusFailed {
		s.mu.Unlock()
		return
	}
	inst.status = types.StatusFailed
	inst.probeCancel()
	delete(s.ports, inst.listener.Port)
	s.mu.Unlock()

	transitionsTotal.WithLabelValues(string(types.StatusFailed)).Inc()
	s.log.Warn().
		Str("id", inst.id).
		Str("model", inst.model.ModelName).
		Err(err).
		Msg("process exited unexpectedly")
}

// collectLogs drains the merged stdout/stderr stream into the ring buffer
// until the process closes its end.
func (s *Supervisor) collectLogs(inst *instance, r *os.File) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		inst.ring.Append(sc.Text())
	}
}

// probeLoop polls the readiness endpoint until success, cancellation or
// budget exhaustion. A result arriving after a stop began is discarded by
// the stopping/status guards.
func (s *Supervisor) probeLoop(ctx context.Context, inst *instance) {
	url := fmt.Sprintf("http://%s:%d%s", inst.listener.Host, inst.listener.Port, inst.probe.Path)
	deadline := time.Now().Add(s.cfg.ProbeBudget)
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		if s.probeOnce(ctx, inst, url) {
			s.mu.Lock()
			ready := !inst.stopping && inst.status == types.StatusStarting
			if ready {
				inst.status = types.StatusReady
			}
			s.mu.Unlock()
			if ready {
				transitionsTotal.WithLabelValues(string(types.StatusReady)).Inc()
				s.log.Info().Str("id", inst.id).Str("model", inst.model.ModelName).Str("url", url).Msg("instance ready")
			}
			return
		}
		if time.Now().After(deadline) {
			s.mu.Lock()
			expired := !inst.stopping && inst.status == types.StatusStarting
			if expired {
				inst.status = types.StatusFailed
				delete(s.ports, inst.listener.Port)
			}
			s.mu.Unlock()
			if expired {
				transitionsTotal.WithLabelValues(string(types.StatusFailed)).Inc()
				s.log.Warn().Str("id", inst.id).Str("model", inst.model.ModelName).Msg("readiness probe budget exhausted")
				// The backend never came up; reap it so the port is
				// actually free again.
				s.terminate(inst)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) probeOnce(ctx context.Context, inst *instance, url string) bool {
	attempt, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attempt, inst.probe.Method, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == inst.probe.ExpectStatus
}

// infoLocked builds the read-only projection; callers hold s.mu.
func (s *Supervisor) infoLocked(inst *instance) types.InstanceInfo {
	info := types.InstanceInfo{
		ID:          inst.id,
		Model:       inst.model,
		Runtime:     inst.runtimeName,
		Environment: inst.envLabel,
		Listener:    inst.listener,
		Status:      inst.status,
		Protocol:    string(inst.protocol),
		StartedAt:   inst.startedAt,
		Source:      "local",
	}
	if inst.cmd.Process != nil {
		info.PID = inst.cmd.Process.Pid
	}
	return info
}

func (s *Supervisor) releasePort(port int) {
	s.mu.Lock()
	delete(s.ports, port)
	s.mu.Unlock()
}

func envPairs(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(vars))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
