package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordishs/btc-rpc-proxy/fetcher"
	"github.com/ordishs/btc-rpc-proxy/httpserver"
	"github.com/ordishs/btc-rpc-proxy/peerpool"
	"github.com/ordishs/btc-rpc-proxy/rpcserver"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
	"github.com/ordishs/btc-rpc-proxy/upstream"
)

func newTestServer(t *testing.T) *httpserver.Server {
	upstreamClient := upstream.New("http://127.0.0.1:8334")
	httpmock.ActivateNonDefault(upstreamClient.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder("POST", "http://127.0.0.1:8334/", httpmock.NewStringResponder(200, `{"id":1,"result":800000,"error":null}`))

	log := ulogger.New("test", false, "ERROR")
	pool := peerpool.New(upstreamClient, log, time.Minute)
	f := fetcher.New(&chaincfg.MainNetParams, time.Second, 0, fetcher.TorConfig{}, log)
	router := rpcserver.New(upstreamClient, pool, f, &chaincfg.MainNetParams, log)

	return httpserver.New(":0", router, log)
}

func TestHandle_RejectsNonPost(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTPForTest(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "JSONRPC server handles only POST requests")
}

func TestHandle_RejectsUnknownPath(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/something-else", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()

	s.ServeHTTPForTest(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_RequiresAuthorization(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	s.ServeHTTPForTest(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="jsonrpc"`, rec.Header().Get("WWW-Authenticate"))
}

func TestHandle_WalletPathPassesThrough(t *testing.T) {
	s := newTestServer(t)
	httpmock.RegisterResponder("POST", "http://127.0.0.1:8334/wallet/mywallet", httpmock.NewStringResponder(200, `{"id":1,"result":800000,"error":null}`))
	req := httptest.NewRequest(http.MethodPost, "/wallet/mywallet", strings.NewReader(`{"id":1,"method":"getblockcount","params":[]}`))
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()

	s.ServeHTTPForTest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"result":800000,"error":null}`, rec.Body.String())
}
