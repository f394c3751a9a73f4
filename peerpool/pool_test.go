package peerpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/ordishs/btc-rpc-proxy/peerpool"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
	"github.com/ordishs/btc-rpc-proxy/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, maxPeerAge time.Duration) (*peerpool.Pool, *upstream.Client) {
	client := upstream.New("http://127.0.0.1:8334")
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	log := ulogger.New("test", false, "ERROR")
	return peerpool.New(client, log, maxPeerAge), client
}

const peerInfoResponse = `{"id":1,"error":null,"result":[
	{"id":1,"addr":"10.0.0.1:8333","services":"0000000000000409"},
	{"id":2,"addr":"10.0.0.2:8333","services":"0000000000000000"},
	{"id":3,"addr":"not-a-valid-addr","services":"0000000000000409"}
]}`

func TestGetPeers_EmptySnapshotBlocksForRefresh(t *testing.T) {
	pool, _ := newTestPool(t, time.Second)

	httpmock.RegisterResponder("POST", "http://127.0.0.1:8334/", httpmock.NewStringResponder(200, peerInfoResponse))

	peers, err := pool.GetPeers(context.Background(), "Basic dXNlcjpwYXNz")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "10.0.0.1:8333", peers[0].Addr)
}

func TestGetPeers_StaleButNonEmptyReturnsImmediately(t *testing.T) {
	pool, _ := newTestPool(t, time.Millisecond)

	httpmock.RegisterResponder("POST", "http://127.0.0.1:8334/", httpmock.NewStringResponder(200, peerInfoResponse))

	_, err := pool.GetPeers(context.Background(), "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	httpmock.RegisterResponder("POST", "http://127.0.0.1:8334/", httpmock.NewStringResponder(500, `boom`))

	peers, err := pool.GetPeers(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, peers, 1)
}

func TestGetPeers_RefreshFailureSurfacesErrorWhenCellEmpty(t *testing.T) {
	pool, _ := newTestPool(t, time.Second)

	httpmock.RegisterResponder("POST", "http://127.0.0.1:8334/", httpmock.NewStringResponder(500, `not json`))

	_, err := pool.GetPeers(context.Background(), "")
	assert.Error(t, err)
}
