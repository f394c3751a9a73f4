// Package peerpool maintains a shared, atomically-published snapshot of
// the backing node's current peer set, refreshing it from C2's
// getpeerinfo and serving stale-but-nonempty reads without blocking —
// grounded on the teacher's pattern of a reader-heavy cell guarded by a
// short exclusive swap (see state.rs's RwLock<Arc<Peers>>), adapted to
// sync/atomic since this proxy has no async runtime to await a refresh
// task on. Concurrent refreshes are collapsed with singleflight, the same
// package the teacher's P2P gossip layer uses to deduplicate concurrent
// fetches of the same key.
package peerpool

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ordishs/btc-rpc-proxy/metrics"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
	"github.com/ordishs/btc-rpc-proxy/upstream"
)

// nodeNetworkService is the getpeerinfo "services" bit a peer must
// advertise to be able to serve historical blocks.
const nodeNetworkService = 1 << 0

// PeerHandle is the network address of a peer and its advertised service
// bitmask. It is cheap to copy and carries no owned socket.
type PeerHandle struct {
	Addr     string
	Host     string
	Port     int
	Services uint64
}

// Snapshot is an immutable, atomically-published view of the peer set.
type Snapshot struct {
	Handles []PeerHandle
	Created time.Time
}

// Stale reports whether this snapshot is old enough to warrant a refresh.
func (s *Snapshot) Stale(maxAge time.Duration) bool {
	return time.Since(s.Created) >= maxAge
}

// Empty reports whether this snapshot's handle list is empty.
func (s *Snapshot) Empty() bool {
	return len(s.Handles) == 0
}

// refreshKey is the singleflight key all callers share: there is only
// ever one peer set to refresh per pool.
const refreshKey = "refresh"

// Pool holds the current snapshot and collapses concurrent refreshes.
type Pool struct {
	upstream   *upstream.Client
	log        ulogger.Logger
	maxPeerAge time.Duration

	current atomic.Pointer[Snapshot]
	group   singleflight.Group

	// bgCtx is the context every refresh actually runs under. A refresh
	// is cache-warming for whoever triggered it, not scoped to that
	// caller's request: it must keep running and publish its result even
	// if the triggering request is cancelled or its handler returns, and
	// only stop when the process itself is shutting down (bgCancel).
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New builds a pool with an empty initial snapshot, forcing the first
// GetPeers call to block on a refresh.
func New(upstreamClient *upstream.Client, log ulogger.Logger, maxPeerAge time.Duration) *Pool {
	metrics.Init()

	bgCtx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		upstream:   upstreamClient,
		log:        log,
		maxPeerAge: maxPeerAge,
		bgCtx:      bgCtx,
		bgCancel:   cancel,
	}

	p.current.Store(&Snapshot{Handles: nil, Created: time.Time{}})

	return p
}

// Close stops any future refresh from running. Call it once, during
// process shutdown.
func (p *Pool) Close() {
	p.bgCancel()
}

// GetPeers returns the current peer handles. If the snapshot is stale, a
// refresh is started (collapsed with any already in flight via
// singleflight) against the pool's own background context, so it
// outlives the calling request; if the current snapshot is also empty
// the caller waits for that refresh's result, bounded by its own ctx,
// otherwise the stale-but-nonempty snapshot is returned immediately.
func (p *Pool) GetPeers(ctx context.Context, auth string) ([]PeerHandle, error) {
	snap := p.current.Load()

	if !snap.Stale(p.maxPeerAge) {
		return snap.Handles, nil
	}

	resultCh := p.group.DoChan(refreshKey, func() (interface{}, error) {
		return p.refresh(p.bgCtx, auth)
	})

	if !snap.Empty() {
		return snap.Handles, nil
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]PeerHandle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh calls getpeerinfo and publishes a fresh snapshot built from
// peers advertising NODE_NETWORK whose addr parses. It never removes the
// previous snapshot on failure.
func (p *Pool) refresh(ctx context.Context, auth string) ([]PeerHandle, error) {
	peers, err := p.upstream.GetPeerInfo(ctx, auth)
	if err != nil {
		p.log.Warnf("failed to update peers: %v", err)
		metrics.PeerRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	handles := make([]PeerHandle, 0, len(peers))

	for _, peer := range peers {
		services, err := strconv.ParseUint(strings.TrimPrefix(peer.Services, "0x"), 16, 64)
		if err != nil {
			continue
		}

		if services&nodeNetworkService == 0 {
			continue
		}

		host, portStr, err := net.SplitHostPort(peer.Addr)
		if err != nil {
			continue
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}

		handles = append(handles, PeerHandle{
			Addr:     peer.Addr,
			Host:     host,
			Port:     port,
			Services: services,
		})
	}

	p.current.Store(&Snapshot{Handles: handles, Created: time.Now()})
	metrics.PeerRefreshTotal.WithLabelValues("success").Inc()

	return handles, nil
}
