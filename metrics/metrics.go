// Package metrics exposes the proxy's Prometheus instruments, following
// the teacher's promauto-under-a-service-Namespace pattern (see
// services/miner/metrics.go): counters and histograms are package-level
// vars, registered lazily on first use via a guarded Init so importing
// this package never has a side effect on the default registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "btc_rpc_proxy"

var (
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	GetblockTotal       *prometheus.CounterVec
	GetblockPeerFetches *prometheus.CounterVec
	PeerRefreshTotal    *prometheus.CounterVec

	initialized bool
	initMu      sync.Mutex
)

// Init registers every instrument exactly once. Safe to call more than
// once or from more than one goroutine.
func Init() {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return
	}
	initialized = true

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of JSON-RPC requests handled, by method and outcome.",
	}, []string{"method", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request handling latency, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	GetblockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "getblock_total",
		Help:      "Total getblock calls, by source (upstream or peers) and outcome.",
	}, []string{"source", "outcome"})

	GetblockPeerFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "getblock_peer_fetches_total",
		Help:      "Total per-peer block fetch attempts, by outcome.",
	}, []string{"outcome"})

	PeerRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "peer_refresh_total",
		Help:      "Total peer-pool refresh attempts, by outcome.",
	}, []string{"outcome"})
}
