package fetcher_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ordishs/btc-rpc-proxy/fetcher"
	"github.com/ordishs/btc-rpc-proxy/peerpool"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
)

// stubPeer listens once and speaks just enough of the handshake to satisfy
// a real btcd peer.Peer dialing it, then serves block on any getdata.
func stubPeer(t *testing.T, block *wire.MsgBlock, misbehave func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if misbehave != nil {
			misbehave(conn)
			return
		}

		_, _, err = wire.ReadMessageN(conn, wire.ProtocolVersion, wire.MainNet)
		if err != nil {
			return
		}

		ourVersion := wire.NewMsgVersion(
			wire.NewNetAddress(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 0),
			wire.NewNetAddress(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 0),
			0, 0,
		)
		if _, err := wire.WriteMessageN(conn, ourVersion, wire.ProtocolVersion, wire.MainNet); err != nil {
			return
		}
		if _, err := wire.WriteMessageN(conn, wire.NewMsgVerAck(), wire.ProtocolVersion, wire.MainNet); err != nil {
			return
		}

		// Skip whatever the peer sends before its verack (sendaddrv2 at
		// current protocol versions).
		for {
			msg, _, err := wire.ReadMessageN(conn, wire.ProtocolVersion, wire.MainNet)
			if err != nil {
				return
			}
			if _, ok := msg.(*wire.MsgVerAck); ok {
				break
			}
		}

		msg, _, err := wire.ReadMessageN(conn, wire.ProtocolVersion, wire.MainNet)
		if err != nil {
			return
		}
		if _, ok := msg.(*wire.MsgGetData); !ok {
			return
		}

		if block != nil {
			_, _ = wire.WriteMessageN(conn, block, wire.ProtocolVersion, wire.MainNet)
		}
	}()

	return ln.Addr().String()
}

func buildTestBlock() *wire.MsgBlock {
	block := wire.NewMsgBlock(&wire.BlockHeader{
		Version:   1,
		Timestamp: time.Unix(1231006505, 0),
		Bits:      0x1d00ffff,
		Nonce:     2083236893,
	})
	return block
}

func TestFetch_ReturnsBlockFromSucceedingPeer(t *testing.T) {
	block := buildTestBlock()
	hash := block.BlockHash()

	addr := stubPeer(t, block, nil)

	f := fetcher.New(&chaincfg.MainNetParams, 2*time.Second, 0, fetcher.TorConfig{}, ulogger.New("test", false, "ERROR"))

	peers := []peerpool.PeerHandle{{Addr: addr, Host: "127.0.0.1"}}

	got, err := f.Fetch(context.Background(), peers, &hash, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.BlockHash().IsEqual(&hash))
}

func TestFetch_AllPeersFailReturnsPruneError(t *testing.T) {
	addr := stubPeer(t, nil, func(conn net.Conn) {
		conn.Close()
	})

	f := fetcher.New(&chaincfg.MainNetParams, 200*time.Millisecond, 0, fetcher.TorConfig{}, ulogger.New("test", false, "ERROR"))

	peers := []peerpool.PeerHandle{{Addr: addr, Host: "127.0.0.1"}}

	var hash chainhash.Hash
	_, err := f.Fetch(context.Background(), peers, &hash, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Block not available")
}

// TestFetch_HeaderMismatchRejectsPeer covers §4.4 step 5's second check: a
// peer can serve a block whose hash matches but whose header disagrees with
// the authoritative one (a stale or lying peer), which verifyBlock must
// still reject.
func TestFetch_HeaderMismatchRejectsPeer(t *testing.T) {
	block := buildTestBlock()
	hash := block.BlockHash()

	addr := stubPeer(t, block, nil)

	f := fetcher.New(&chaincfg.MainNetParams, 200*time.Millisecond, 0, fetcher.TorConfig{}, ulogger.New("test", false, "ERROR"))

	peers := []peerpool.PeerHandle{{Addr: addr, Host: "127.0.0.1"}}

	// A header that disagrees with the served block's actual merkle root:
	// the hash check alone would pass, but the field-by-field comparison
	// must still reject it.
	badHeader := &fetcher.Header{
		MerkleRoot: chainhash.Hash{0x01},
		Timestamp:  block.Header.Timestamp,
		Bits:       block.Header.Bits,
		Nonce:      block.Header.Nonce,
	}

	_, err := f.Fetch(context.Background(), peers, &hash, badHeader)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Block not available")
}

// TestFetch_ConcurrentPeersFirstValidWins races a fast, succeeding peer
// against a slow one and checks Fetch returns as soon as the fast peer
// answers rather than waiting for the slow one — the loser's handshake is
// left to be torn down by the cancelled context, not awaited.
func TestFetch_ConcurrentPeersFirstValidWins(t *testing.T) {
	block := buildTestBlock()
	hash := block.BlockHash()

	fastAddr := stubPeer(t, block, nil)

	slowAddr := stubPeer(t, nil, func(conn net.Conn) {
		time.Sleep(2 * time.Second)
	})

	f := fetcher.New(&chaincfg.MainNetParams, 3*time.Second, 2, fetcher.TorConfig{}, ulogger.New("test", false, "ERROR"))

	peers := []peerpool.PeerHandle{
		{Addr: slowAddr, Host: "127.0.0.1"},
		{Addr: fastAddr, Host: "127.0.0.1"},
	}

	start := time.Now()
	got, err := f.Fetch(context.Background(), peers, &hash, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.BlockHash().IsEqual(&hash))
	require.Less(t, elapsed, time.Second, "Fetch should return as soon as the fast peer wins, not wait for the slow one")
}
