package supervisor

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelzoo/internal/runtime"
	"modelzoo/pkg/types"
)

// fakeAdapter lets tests control the spawned command directly.
type fakeAdapter struct {
	name     string
	formats  []string
	protocol runtime.Protocol
	argv     []string
}

func (f *fakeAdapter) Definition() runtime.Definition {
	formats := f.formats
	if formats == nil {
		formats = []string{"gguf"}
	}
	protocol := f.protocol
	if protocol == "" {
		protocol = runtime.ProtocolOpenAI
	}
	return runtime.Definition{Name: f.name, Formats: formats, Protocol: protocol}
}

func (f *fakeAdapter) BuildCommand(types.ModelDescriptor, types.Listener, map[string]any) ([]string, error) {
	return f.argv, nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRecorder) Record(zooName, modelName, runtimeName string, envNames []string, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, zooName+":"+modelName+"/"+runtimeName)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testModel(name string) types.ModelDescriptor {
	return types.ModelDescriptor{
		ModelID:     "/models/" + name + ".gguf",
		ModelFormat: "gguf",
		ModelName:   name,
		ZooName:     "SSD",
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// healthBackend runs a real HTTP server answering /health so the probe loop
// has something to hit; the supervised process itself is just a sleeper.
func healthBackend(t *testing.T) (*httptest.Server, int) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)
	parts := strings.Split(ts.Listener.Addr().String(), ":")
	port, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return ts, port
}

func fastConfig() Config {
	return Config{
		ProbeInterval: 25 * time.Millisecond,
		ProbeTimeout:  250 * time.Millisecond,
		ProbeBudget:   2 * time.Second,
		StopGrace:     500 * time.Millisecond,
	}
}

func waitForStatus(t *testing.T, s *Supervisor, id string, want types.InstanceStatus, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		info, err := s.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if info.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	info, _ := s.Status(id)
	t.Fatalf("instance %s never reached %s (now %s)", id, want, info.Status)
}

func TestLaunchReachesReady(t *testing.T) {
	_, port := healthBackend(t)
	rec := &fakeRecorder{}
	s := New(fastConfig(), rec, zerolog.Nop())
	defer s.Shutdown()

	id, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    port,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	info, err := s.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.Status != types.StatusStarting {
		t.Fatalf("fresh instance should be starting, got %s", info.Status)
	}
	if info.PID == 0 {
		t.Fatal("expected a pid")
	}
	waitForStatus(t, s, id, types.StatusReady, 3*time.Second)

	if rec.count() != 1 {
		t.Fatalf("expected exactly one history record, got %d", rec.count())
	}
}

func TestLaunchRejectsIncompatibleFormat(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	defer s.Shutdown()

	m := testModel("m1")
	m.ModelFormat = "safetensors"
	_, err := s.Launch(LaunchSpec{
		Model:   m,
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    freePort(t),
	})
	if err == nil {
		t.Fatal("expected format rejection")
	}
	if !runtime.IsValidation(err) {
		t.Fatalf("want validation error, got %T", err)
	}
	if len(s.List()) != 0 {
		t.Fatal("no instance must exist after rejected launch")
	}
}

func TestLaunchSpawnFailureLeavesNoState(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(fastConfig(), rec, zerolog.Nop())
	defer s.Shutdown()

	port := freePort(t)
	_, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"/nonexistent/llama-server"}},
		Port:    port,
	})
	if !IsSpawn(err) {
		t.Fatalf("want spawn error, got %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatal("no instance must exist after spawn failure")
	}
	if rec.count() != 0 {
		t.Fatal("history must not record a failed spawn")
	}

	// The reservation must have been released.
	id, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    port,
	})
	if err != nil {
		t.Fatalf("port should be reusable: %v", err)
	}
	_ = s.Stop(id)
}

func TestConcurrentLaunchesSamePort(t *testing.T) {
	_, port := healthBackend(t)
	s := New(fastConfig(), nil, zerolog.Nop())
	defer s.Shutdown()

	spec := func() LaunchSpec {
		return LaunchSpec{
			Model:   testModel("m1"),
			Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
			Port:    port,
		}
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Launch(spec())
			errs <- err
		}()
	}
	var okCount, conflictCount int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			okCount++
		case IsPortInUse(err):
			conflictCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || conflictCount != 1 {
		t.Fatalf("want exactly one winner, got ok=%d conflict=%d", okCount, conflictCount)
	}
	if len(s.List()) != 1 {
		t.Fatalf("exactly one instance expected, got %d", len(s.List()))
	}
}

func TestProbeBudgetExhaustionFails(t *testing.T) {
	cfg := fastConfig()
	cfg.ProbeBudget = 300 * time.Millisecond
	s := New(cfg, nil, zerolog.Nop())
	defer s.Shutdown()

	// Nothing listens on the port, so the probe can never succeed.
	id, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    freePort(t),
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitForStatus(t, s, id, types.StatusFailed, 5*time.Second)
}

func TestUnexpectedExitFailsInstance(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	defer s.Shutdown()

	id, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sh", "-c", "echo model load failed; exit 3"}},
		Port:    freePort(t),
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitForStatus(t, s, id, types.StatusFailed, 3*time.Second)

	logs, err := s.Logs(id)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	found := false
	for _, line := range logs {
		if strings.Contains(line, "model load failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("captured logs missing output: %v", logs)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	_, port := healthBackend(t)
	s := New(fastConfig(), nil, zerolog.Nop())
	defer s.Shutdown()

	id, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    port,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitForStatus(t, s, id, types.StatusReady, 3*time.Second)

	if err := s.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	info, _ := s.Status(id)
	if info.Status != types.StatusStopped {
		t.Fatalf("status after stop: %s", info.Status)
	}
	if err := s.Stop(id); err != nil {
		t.Fatalf("second stop must be a no-op success: %v", err)
	}
	info, _ = s.Status(id)
	if info.Status != types.StatusStopped {
		t.Fatalf("status after second stop: %s", info.Status)
	}

	// Port is free for a new launch.
	id2, err := s.Launch(LaunchSpec{
		Model:   testModel("m2"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    port,
	})
	if err != nil {
		t.Fatalf("relaunch on released port: %v", err)
	}
	if id2 == id {
		t.Fatal("ids must not be reused")
	}
}

func TestStopDuringStartingDiscardsProbe(t *testing.T) {
	_, port := healthBackend(t)
	cfg := fastConfig()
	cfg.ProbeInterval = 200 * time.Millisecond
	s := New(cfg, nil, zerolog.Nop())
	defer s.Shutdown()

	id, err := s.Launch(LaunchSpec{
		Model:   testModel("m1"),
		Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
		Port:    port,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := s.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Give any in-flight probe time to land; the status must stay Stopped.
	time.Sleep(400 * time.Millisecond)
	info, _ := s.Status(id)
	if info.Status != types.StatusStopped {
		t.Fatalf("late probe result mutated a stopped instance: %s", info.Status)
	}
}

func TestUnknownInstanceErrors(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	defer s.Shutdown()

	if _, err := s.Status("nope"); !IsUnknownInstance(err) {
		t.Fatalf("status: want unknown instance, got %v", err)
	}
	if _, err := s.Logs("nope"); !IsUnknownInstance(err) {
		t.Fatalf("logs: want unknown instance, got %v", err)
	}
	if err := s.Stop("nope"); !IsUnknownInstance(err) {
		t.Fatalf("stop: want unknown instance, got %v", err)
	}
}

func TestListSnapshotSorted(t *testing.T) {
	s := New(fastConfig(), nil, zerolog.Nop())
	defer s.Shutdown()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Launch(LaunchSpec{
			Model:   testModel(fmt.Sprintf("m%d", i)),
			Adapter: &fakeAdapter{name: "LlamaRuntime", argv: []string{"sleep", "60"}},
			Port:    freePort(t),
		})
		if err != nil {
			t.Fatalf("launch %d: %v", i, err)
		}
		ids = append(ids, id)
		time.Sleep(5 * time.Millisecond)
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(list))
	}
	for i, info := range list {
		if info.ID != ids[i] {
			t.Fatalf("list not in launch order: %v", list)
		}
		if info.Source != "local" {
			t.Fatalf("source: %s", info.Source)
		}
	}
}

func TestLogRingEvictsOldest(t *testing.T) {
	r := newLogRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}
	got := r.Snapshot()
	want := []string{"line 3", "line 4", "line 5"}
	if len(got) != len(want) {
		t.Fatalf("len: %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
