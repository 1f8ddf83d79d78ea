// Package peers keeps a cached, periodically refreshed view of other
// modelzoo deployments. Fetch failures never block callers: the last good
// snapshot stays served, flagged unreachable.
package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelzoo/pkg/types"
)

// Config tunes the aggregator. Zero values fall back to defaults.
type Config struct {
	// RefreshInterval is how often each peer is polled.
	RefreshInterval time.Duration
	// FetchTimeout bounds a single poll round-trip.
	FetchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 3 * time.Second
	}
}

type peerState struct {
	desc      types.PeerDescriptor
	reachable bool
	fetchedAt time.Time
	models    []types.InstanceInfo
}

// Aggregator polls a fixed set of peers and serves cached snapshots.
type Aggregator struct {
	cfg    Config
	log    zerolog.Logger
	client *http.Client

	mu     sync.RWMutex
	states []*peerState

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an aggregator over the configured peer set. Call Start to begin
// polling.
func New(descs []types.PeerDescriptor, cfg Config, log zerolog.Logger) *Aggregator {
	cfg.applyDefaults()
	a := &Aggregator{
		cfg:    cfg,
		log:    log.With().Str("component", "peers").Logger(),
		client: &http.Client{Timeout: cfg.FetchTimeout},
	}
	for _, d := range descs {
		a.states = append(a.states, &peerState{desc: d})
	}
	sort.Slice(a.states, func(i, j int) bool { return a.states[i].desc.Host < a.states[j].desc.Host })
	return a
}

// Start launches one refresh loop per peer. Each loop fetches immediately,
// then on the refresh interval, until ctx is cancelled or Close is called.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	for _, st := range a.states {
		st := st
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.refresh(ctx, st)
			ticker := time.NewTicker(a.cfg.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.refresh(ctx, st)
				}
			}
		}()
	}
}

// Close stops the refresh loops and waits for them to exit.
func (a *Aggregator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Peers returns a copy of every peer snapshot, sorted by host. Never blocks
// on network activity.
func (a *Aggregator) Peers() []types.PeerStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.PeerStatus, 0, len(a.states))
	for _, st := range a.states {
		out = append(out, types.PeerStatus{
			Host:      st.desc.Host,
			Port:      st.desc.Port,
			Reachable: st.reachable,
			FetchedAt: st.fetchedAt,
			Models:    append([]types.InstanceInfo(nil), st.models...),
		})
	}
	return out
}

func (a *Aggregator) refresh(ctx context.Context, st *peerState) {
	models, err := a.fetch(ctx, st.desc)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		// Stale models are kept: a blip on the peer should not hide what
		// it was last known to run.
		st.reachable = false
		fetchesTotal.WithLabelValues("error").Inc()
		a.log.Debug().Str("peer", st.desc.Host).Err(err).Msg("peer fetch failed")
		return
	}
	st.reachable = true
	st.fetchedAt = time.Now()
	st.models = models
	fetchesTotal.WithLabelValues("ok").Inc()
}

// fetch asks one peer for its running models and rewrites each entry so it
// is addressable from here: listener host becomes the peer host and the
// source is tagged with the peer's name.
func (a *Aggregator) fetch(ctx context.Context, desc types.PeerDescriptor) ([]types.InstanceInfo, error) {
	url := fmt.Sprintf("http://%s:%d/api/running_models", desc.Host, desc.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	var payload types.RunningModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode peer response: %w", err)
	}
	models := payload.RunningModels
	for i := range models {
		models[i].Listener.Host = desc.Host
		models[i].Source = "peer:" + desc.Host
	}
	return models, nil
}
