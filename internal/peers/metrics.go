package peers

import "github.com/prometheus/client_golang/prometheus"

var fetchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "modelzoo",
		Subsystem: "peers",
		Name:      "fetches_total",
		Help:      "Peer snapshot fetch attempts by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(fetchesTotal)
}
