package proxy

import (
	"encoding/json"
	"net/http"

	"modelzoo/pkg/types"
)

// Machine-readable error kinds surfaced to proxy callers. Internal details
// (paths, stack traces) never cross this boundary.
const (
	KindBadRequest          = "bad_request"
	KindModelNotFound       = "model_not_found"
	KindModelNotReady       = "model_not_ready"
	KindUpstreamUnreachable = "upstream_unreachable"
	KindUpstreamTimeout     = "upstream_timeout"
)

var kindStatus = map[string]int{
	KindBadRequest:          http.StatusBadRequest,
	KindModelNotFound:       http.StatusNotFound,
	KindModelNotReady:       http.StatusServiceUnavailable,
	KindUpstreamUnreachable: http.StatusBadGateway,
	KindUpstreamTimeout:     http.StatusGatewayTimeout,
}

func writeError(w http.ResponseWriter, kind, msg string) {
	code := kindStatus[kind]
	if code == 0 {
		code = http.StatusInternalServerError
	}
	forwardsTotal.WithLabelValues(kind).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: code})
}
