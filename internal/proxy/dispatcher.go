// Package proxy routes inference traffic to live backend instances and
// relays streamed responses without buffering. The dispatcher is stateless:
// it reads instance snapshots per request and never mutates registry state.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"modelzoo/pkg/types"
)

// InstanceSource yields a consistent point-in-time snapshot of local
// instances.
type InstanceSource interface {
	List() []types.InstanceInfo
}

// PeerSource yields the cached peer snapshots; nil disables peer listing.
type PeerSource interface {
	Peers() []types.PeerStatus
}

// maxRoutedBody bounds how much of a body-addressed request is read to find
// the model field. Image payloads on the fixed-path family stream through
// untouched.
const maxRoutedBody = 32 << 20

// Dispatcher implements the proxy request families.
type Dispatcher struct {
	src         InstanceSource
	peers       PeerSource
	log         zerolog.Logger
	client      *http.Client
	idleTimeout time.Duration
}

// Option tweaks Dispatcher construction.
type Option func(*Dispatcher)

// WithIdleTimeout bounds how long a forward may go without receiving any
// bytes from the backend.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Dispatcher) { p.idleTimeout = d }
}

// WithPeers attaches the federated view used by the models listing.
func WithPeers(ps PeerSource) Option {
	return func(p *Dispatcher) { p.peers = ps }
}

// New builds a dispatcher over the given instance source.
func New(src InstanceSource, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		src:         src,
		log:         log.With().Str("component", "proxy").Logger(),
		idleTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	// Streaming responses must not be cut off by a client-level timeout;
	// the idle watchdog handles stalled upstreams instead.
	d.client = &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: d.idleTimeout,
		},
	}
	return d
}

// Mount registers the proxy entry points on the router.
func (d *Dispatcher) Mount(r chi.Router) {
	r.Get("/v1/models", d.handleModels)
	r.Post("/v1/completions", d.handleBodyRouted)
	r.Post("/v1/chat/completions", d.handleBodyRouted)
	r.Post("/sdapi/v1/txt2img", d.handleImageRouted)
	r.Post("/sdapi/v1/img2img", d.handleImageRouted)
}

// handleModels lists local Ready models plus peer-sourced names, tagged by
// origin. Read-only convenience for OpenAI-style clients.
func (d *Dispatcher) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var data []modelEntry
	for _, inst := range d.src.List() {
		if inst.Status != types.StatusReady {
			continue
		}
		data = append(data, modelEntry{ID: inst.Model.ModelName, Object: "model", OwnedBy: "modelzoo"})
	}
	if d.peers != nil {
		for _, peer := range d.peers.Peers() {
			for _, inst := range peer.Models {
				data = append(data, modelEntry{ID: inst.Model.ModelName, Object: "model", OwnedBy: "peer:" + peer.Host})
			}
		}
	}
	if data == nil {
		data = []modelEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

// handleBodyRouted serves the text/chat/multimodal family: the target is
// named by the model field inside the JSON body.
func (d *Dispatcher) handleBodyRouted(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRoutedBody+1))
	if err != nil {
		writeError(w, KindBadRequest, "unable to read request body")
		return
	}
	if len(body) > maxRoutedBody {
		writeError(w, KindBadRequest, "request body too large")
		return
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, KindBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(probe.Model) == "" {
		writeError(w, KindBadRequest, "model not specified in the request")
		return
	}

	target, kind := d.matchModel(probe.Model)
	if kind != "" {
		writeError(w, kind, routingMessage(kind, probe.Model))
		return
	}
	d.forward(w, r, target, bytes.NewReader(body), int64(len(body)))
}

// handleImageRouted serves the image-generation family: a fixed path
// convention routes to the single Ready diffusion-capable instance.
func (d *Dispatcher) handleImageRouted(w http.ResponseWriter, r *http.Request) {
	var target *types.InstanceInfo
	for _, inst := range d.src.List() {
		if inst.Status != types.StatusReady || !isTxt2Img(inst) {
			continue
		}
		inst := inst
		target = &inst
		break
	}
	if target == nil {
		writeError(w, KindModelNotFound, "no image generation backend is ready")
		return
	}
	d.forward(w, r, *target, r.Body, r.ContentLength)
}

// matchModel finds the Ready local instance for a model name. The match is
// case-sensitive first with a case-insensitive fallback. The returned kind
// is empty on success.
func (d *Dispatcher) matchModel(name string) (types.InstanceInfo, string) {
	instances := d.src.List()
	var ciMatch *types.InstanceInfo
	var notReady *types.InstanceInfo
	for i := range instances {
		inst := &instances[i]
		switch {
		case inst.Model.ModelName == name:
			if inst.Status == types.StatusReady {
				return *inst, ""
			}
			notReady = inst
		case strings.EqualFold(inst.Model.ModelName, name):
			if inst.Status == types.StatusReady && ciMatch == nil {
				ciMatch = inst
			} else if notReady == nil {
				notReady = inst
			}
		}
	}
	if ciMatch != nil {
		return *ciMatch, ""
	}
	if notReady != nil {
		return types.InstanceInfo{}, KindModelNotReady
	}
	return types.InstanceInfo{}, KindModelNotFound
}

func routingMessage(kind, model string) string {
	if kind == KindModelNotReady {
		return fmt.Sprintf("model %s is not ready", model)
	}
	return fmt.Sprintf("model %s not found or not running", model)
}

// forward relays the request to the target backend and streams the response
// back verbatim. It never retries: a partially delivered stream cannot be
// replayed safely.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, target types.InstanceInfo, body io.Reader, contentLength int64) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	url := fmt.Sprintf("http://%s:%d%s", target.Listener.Host, target.Listener.Port, r.URL.Path)
	req, err := http.NewRequestWithContext(ctx, r.Method, url, body)
	if err != nil {
		writeError(w, KindBadRequest, "unable to build upstream request")
		return
	}
	copyHeaders(req.Header, r.Header)
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing sensible to report.
			return
		}
		if isTimeout(err) {
			d.log.Warn().Str("model", target.Model.ModelName).Str("url", url).Msg("upstream timed out")
			writeError(w, KindUpstreamTimeout, "upstream did not respond in time")
			return
		}
		d.log.Warn().Str("model", target.Model.ModelName).Str("url", url).Err(err).Msg("upstream unreachable")
		writeError(w, KindUpstreamUnreachable, "upstream connection failed")
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	forwardsTotal.WithLabelValues("ok").Inc()

	flusher, _ := w.(http.Flusher)
	// Idle watchdog: if the backend sends nothing for idleTimeout, cancel
	// the upstream request and end the relay. Bytes already sent stand.
	idle := time.AfterFunc(d.idleTimeout, cancel)
	defer idle.Stop()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			idle.Reset(d.idleTimeout)
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client disconnected; cancel() tears down the upstream
				// read, the backend process is untouched.
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			return
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		// The Host header is rewritten to the backend by net/http.
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isTxt2Img(inst types.InstanceInfo) bool {
	return inst.Protocol == "a1111"
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
