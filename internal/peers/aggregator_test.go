package peers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelzoo/pkg/types"
)

func peerBackend(t *testing.T, models *atomic.Value, fail *atomic.Bool) (string, int) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/running_models" {
			http.NotFound(w, r)
			return
		}
		if fail != nil && fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		var list []types.InstanceInfo
		if v := models.Load(); v != nil {
			list = v.([]types.InstanceInfo)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.RunningModelsResponse{RunningModels: list})
	}))
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return u.Hostname(), port
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPeerSnapshotRewritesOrigin(t *testing.T) {
	var models atomic.Value
	models.Store([]types.InstanceInfo{{
		ID:       "abc",
		Model:    types.ModelDescriptor{ModelName: "remote-model"},
		Listener: types.Listener{Protocol: "http", Host: "127.0.0.1", Port: 8001},
		Status:   types.StatusReady,
		Source:   "local",
	}})
	host, port := peerBackend(t, &models, nil)

	a := New(
		[]types.PeerDescriptor{{Host: host, Port: port}},
		Config{RefreshInterval: 50 * time.Millisecond},
		zerolog.Nop(),
	)
	a.Start(context.Background())
	defer a.Close()

	waitFor(t, func() bool {
		ps := a.Peers()
		return len(ps) == 1 && ps[0].Reachable
	})
	ps := a.Peers()
	if len(ps[0].Models) != 1 {
		t.Fatalf("models: %+v", ps[0].Models)
	}
	m := ps[0].Models[0]
	if m.Listener.Host != host {
		t.Fatalf("listener host not rewritten: %s", m.Listener.Host)
	}
	if m.Source != "peer:"+host {
		t.Fatalf("source not tagged: %s", m.Source)
	}
	if ps[0].FetchedAt.IsZero() {
		t.Fatal("fetched_at not stamped")
	}
}

func TestPeerFailureKeepsStaleSnapshot(t *testing.T) {
	var models atomic.Value
	var fail atomic.Bool
	models.Store([]types.InstanceInfo{{
		ID:    "abc",
		Model: types.ModelDescriptor{ModelName: "remote-model"},
	}})
	host, port := peerBackend(t, &models, &fail)

	a := New(
		[]types.PeerDescriptor{{Host: host, Port: port}},
		Config{RefreshInterval: 30 * time.Millisecond},
		zerolog.Nop(),
	)
	a.Start(context.Background())
	defer a.Close()

	waitFor(t, func() bool {
		ps := a.Peers()
		return len(ps) == 1 && ps[0].Reachable
	})

	fail.Store(true)
	waitFor(t, func() bool { return !a.Peers()[0].Reachable })

	ps := a.Peers()
	if len(ps[0].Models) != 1 || ps[0].Models[0].Model.ModelName != "remote-model" {
		t.Fatalf("stale snapshot dropped: %+v", ps[0].Models)
	}

	fail.Store(false)
	waitFor(t, func() bool { return a.Peers()[0].Reachable })
}

func TestUnreachablePeerNeverBlocks(t *testing.T) {
	// Reserved-then-closed port: connection refused immediately.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	a := New(
		[]types.PeerDescriptor{{Host: "127.0.0.1", Port: port}},
		Config{RefreshInterval: 30 * time.Millisecond, FetchTimeout: 200 * time.Millisecond},
		zerolog.Nop(),
	)
	a.Start(context.Background())
	defer a.Close()

	start := time.Now()
	ps := a.Peers()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Peers blocked for %v", elapsed)
	}
	if len(ps) != 1 || ps[0].Reachable {
		t.Fatalf("unexpected snapshot: %+v", ps)
	}
	if len(ps[0].Models) != 0 {
		t.Fatalf("expected empty models, got %+v", ps[0].Models)
	}
}

func TestPeersSortedByHost(t *testing.T) {
	a := New(
		[]types.PeerDescriptor{{Host: "zeta", Port: 1}, {Host: "alpha", Port: 2}},
		Config{},
		zerolog.Nop(),
	)
	ps := a.Peers()
	if len(ps) != 2 || ps[0].Host != "alpha" || ps[1].Host != "zeta" {
		t.Fatalf("unexpected order: %+v", ps)
	}
}
