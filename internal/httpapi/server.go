package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelzoo/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Launch(req types.LaunchRequest) (string, error)
	Stop(id string) error
	Logs(id string) ([]string, error)
	InstanceStatus(id string) (types.InstanceInfo, error)
	Running() []types.InstanceInfo
	Catalog() []types.CatalogModel
	Peers() []types.PeerStatus
	Status() types.StatusResponse
	Ready() bool
}

// ProxyMounter lets the proxy dispatcher register its routes on the same
// router as the management API.
type ProxyMounter interface {
	Mount(r chi.Router)
}

func NewMux(svc Service, proxy ProxyMounter) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(withBaseContext)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)

	r.Post("/api/model/launch", func(w http.ResponseWriter, r *http.Request) {
		var req types.LaunchRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		id, err := svc.Launch(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, types.LaunchResponse{InstanceID: id})
	})

	r.Post("/api/model/stop", func(w http.ResponseWriter, r *http.Request) {
		ref, ok := decodeInstanceRef(w, r)
		if !ok {
			return
		}
		if err := svc.Stop(ref.ID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	r.Post("/api/model/logs", func(w http.ResponseWriter, r *http.Request) {
		ref, ok := decodeInstanceRef(w, r)
		if !ok {
			return
		}
		logs, err := svc.Logs(ref.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, types.LogsResponse{Logs: logs})
	})

	r.Post("/api/model/status", func(w http.ResponseWriter, r *http.Request) {
		ref, ok := decodeInstanceRef(w, r)
		if !ok {
			return
		}
		info, err := svc.InstanceStatus(ref.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, info)
	})

	r.Get("/api/running_models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.RunningModelsResponse{RunningModels: svc.Running()})
	})

	r.Get("/api/models", func(w http.ResponseWriter, r *http.Request) {
		models := svc.Catalog()
		if models == nil {
			models = []types.CatalogModel{}
		}
		writeJSON(w, map[string]any{"models": models})
	})

	r.Get("/api/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"peers": svc.Peers()})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	if proxy != nil {
		proxy.Mount(r)
	}

	return r
}

// decodeJSONBody enforces the JSON content type and body cap, then decodes
// into dst. On failure it has already written the error response.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, KindBadRequest, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// An exceeded body cap surfaces here too; 400 avoids leaking limits.
		writeJSONError(w, http.StatusBadRequest, KindBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func decodeInstanceRef(w http.ResponseWriter, r *http.Request) (types.InstanceRef, bool) {
	var ref types.InstanceRef
	if !decodeJSONBody(w, r, &ref) {
		return ref, false
	}
	if strings.TrimSpace(ref.ID) == "" {
		writeJSONError(w, http.StatusBadRequest, KindBadRequest, "id is required")
		return ref, false
	}
	return ref, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		writeJSONError(w, http.StatusInternalServerError, KindInternal, "failed to encode response")
	}
}
