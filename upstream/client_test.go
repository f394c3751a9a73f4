package upstream_test

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/ordishs/btc-rpc-proxy/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) *upstream.Client {
	c := upstream.New("http://127.0.0.1:8334")
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestSend_ForwardsBodyAndPath(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(
		"POST",
		"http://127.0.0.1:8334/wallet/foo",
		httpmock.NewStringResponder(200, `{"id":1,"result":800000,"error":null}`),
	)

	body, status, err := c.Send(context.Background(), []byte(`{"id":1,"method":"getblockcount","params":[]}`), "Basic dXNlcjpwYXNz", "/wallet/foo")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"id":1,"result":800000,"error":null}`, string(body))
}

func TestCall_DecodesTypedResponse(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(
		"POST",
		"http://127.0.0.1:8334/",
		httpmock.NewStringResponder(200, `{"id":1,"result":800000,"error":null}`),
	)

	req, err := upstream.NewRequest(1, "getblockcount")
	require.NoError(t, err)

	resp, err := c.Call(context.Background(), "", req)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "800000", string(resp.Result))
}

func TestCall_StaplesStatusOntoRpcError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(
		"POST",
		"http://127.0.0.1:8334/",
		httpmock.NewStringResponder(500, `{"id":1,"result":null,"error":{"code":-1,"message":"boom"}}`),
	)

	req, err := upstream.NewRequest(1, "getblockcount")
	require.NoError(t, err)

	resp, err := c.Call(context.Background(), "", req)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, 500, resp.Error.Status)
}

func TestCall_NonJSONBodyIsParseError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(
		"POST",
		"http://127.0.0.1:8334/",
		httpmock.NewStringResponder(200, `not json`),
	)

	req, err := upstream.NewRequest(1, "getblockcount")
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "", req)
	require.Error(t, err)

	var parseErr *upstream.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "getblockcount", parseErr.Method)
}
