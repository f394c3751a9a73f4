// Package config loads the proxy's tunables, following the teacher's
// pervasive gocore.Config() idiom (see util/p2p/P2PNode.go,
// stores/utxo/sql/sql.go): each value is read once at startup with
// Get/GetInt/GetBool and a default, and assembled into a typed struct
// the rest of the module depends on instead of calling gocore directly.
package config

import (
	"time"

	"github.com/ordishs/gocore"
)

// Tor holds the SOCKS5 proxy settings used to dial onion peers.
type Tor struct {
	// Proxy is a SOCKS5 address (host:port). Empty disables onion dialing.
	Proxy string
	// Only forces every peer connection through Proxy, not just onion ones.
	Only bool
}

// Config is the proxy's full set of recognized configuration options
// (spec §6).
type Config struct {
	// Bind is the HTTP listener address.
	Bind string

	// UpstreamURI is the backing node's JSON-RPC URL.
	UpstreamURI string

	// Network selects the Bitcoin P2P network (mainnet/testnet3/regtest/simnet).
	Network string

	// PeerTimeout bounds each individual P2P operation (connect, handshake
	// step, message receive).
	PeerTimeout time.Duration

	// MaxPeerAge is the peer-snapshot staleness threshold.
	MaxPeerAge time.Duration

	// MaxPeerConcurrency upper-bounds simultaneous peer fetches. Zero means
	// unbounded.
	MaxPeerConcurrency int

	Tor Tor

	// LogLevel is one of DEBUG/INFO/WARN/ERROR/FATAL.
	LogLevel string

	// PrettyLogs selects the colorized console log writer.
	PrettyLogs bool

	// MetricsBind is the address the Prometheus /metrics endpoint listens on.
	MetricsBind string
}

// Load reads the configuration from gocore.Config(), applying the same
// defaults the teacher's services apply inline at each call site.
func Load() *Config {
	c := gocore.Config()

	bind, _ := c.Get("bind", ":8332")
	upstreamURI, _ := c.Get("upstream_uri", "http://127.0.0.1:8334")
	network, _ := c.Get("network", "mainnet")

	peerTimeoutSecs, _ := c.GetInt("peer_timeout_secs", 10)
	maxPeerAgeSecs, _ := c.GetInt("max_peer_age_secs", 60)
	maxPeerConcurrency, _ := c.GetInt("max_peer_concurrency", 0)

	torProxy, _ := c.Get("tor_proxy", "")
	torOnly := c.GetBool("tor_only", false)

	logLevel, _ := c.Get("log_level", "INFO")
	prettyLogs := c.GetBool("pretty_logs", true)

	metricsBind, _ := c.Get("metrics_bind", ":9332")

	return &Config{
		Bind:               bind,
		UpstreamURI:        upstreamURI,
		Network:            network,
		PeerTimeout:        time.Duration(peerTimeoutSecs) * time.Second,
		MaxPeerAge:         time.Duration(maxPeerAgeSecs) * time.Second,
		MaxPeerConcurrency: maxPeerConcurrency,
		Tor: Tor{
			Proxy: torProxy,
			Only:  torOnly,
		},
		LogLevel:    logLevel,
		PrettyLogs:  prettyLogs,
		MetricsBind: metricsBind,
	}
}
