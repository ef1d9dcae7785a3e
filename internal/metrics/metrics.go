package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollup",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollup",
		Name:      "uptime_seconds",
		Help:      "Supervisor uptime in seconds.",
	})

	DisputesAnnouncedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "disputes_announced_total",
		Help:      "Total dispute announcements this node has gossiped.",
	})

	DisputesHandledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "disputes_handled_total",
		Help:      "Incoming build requests handled by this node, by kind and result.",
	}, []string{"kind", "result"})

	ChallengeBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollup",
		Name:      "challenge_build_duration_seconds",
		Help:      "Time to assemble a challenge witness, across all target kinds.",
		Buckets:   prometheus.DefBuckets,
	})

	ChallengeBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "challenge_builds_total",
		Help:      "Challenge witness builds by target kind and result.",
	}, []string{"kind", "result"})

	RevertBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "revert_blocks_total",
		Help:      "Total blocks marked reverted by RevertBuilder.",
	})

	InconsistentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "inconsistent_total",
		Help:      "Occurrences of InconsistentError, by context — every increment here is an operator alert.",
	}, []string{"context"})
)

func init() {
	prometheus.MustRegister(
		PeersConnected,
		UptimeSeconds,
		DisputesAnnouncedTotal,
		DisputesHandledTotal,
		ChallengeBuildDuration,
		ChallengeBuildsTotal,
		RevertBlocksTotal,
		InconsistentTotal,
	)
}

// ObserveInconsistent increments InconsistentTotal for context. Every call
// site that surfaces an errs.InconsistentError to a caller should also call
// this, so operator alerting and the returned error never drift apart.
func ObserveInconsistent(context string) {
	InconsistentTotal.WithLabelValues(context).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
