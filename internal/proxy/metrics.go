package proxy

import "github.com/prometheus/client_golang/prometheus"

var forwardsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "modelzoo",
		Subsystem: "proxy",
		Name:      "forwards_total",
		Help:      "Proxy forwarding outcomes by kind (ok or error kind)",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(forwardsTotal)
}
