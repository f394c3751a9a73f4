// Package upstream is the JSON-RPC client this proxy uses to talk to the
// backing node it sits in front of: raw byte passthrough for methods the
// router doesn't intercept, plus typed calls for getpeerinfo and
// getblockheader, the two methods C3/C4 need structured results from.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ordishs/btc-rpc-proxy/rpc"
	"github.com/segmentio/encoding/json"
)

// Client forwards JSON-RPC requests to a single backing node.
type Client struct {
	uri        string
	httpClient *http.Client
}

func New(uri string) *Client {
	return &Client{
		uri: strings.TrimRight(uri, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HTTPClient exposes the underlying *http.Client so tests can swap in
// httpmock's transport.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// ParseError is returned by Call when the upstream body is valid UTF-8 but
// not a decodable JSON-RPC response, mirroring the client-side ClientError
// this proxy's design is patterned on (ParseResponseUtf8 / ResponseNotUtf8).
type ParseError struct {
	Method     string
	Status     int
	Body       string
	Underlying error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("HTTP response (status: %d) to method %s can't be parsed as json, body: %s", e.Status, e.Method, e.Body)
}

func (e *ParseError) Unwrap() error { return e.Underlying }

// NotUTF8Error is returned by Call when the upstream body isn't valid UTF-8
// at all.
type NotUTF8Error struct {
	Method string
	Status int
}

func (e *NotUTF8Error) Error() string {
	return fmt.Sprintf("HTTP response (status: %d) to method %s is not UTF-8", e.Status, e.Method)
}

// Send forwards a raw request body verbatim to path (appended to the
// configured upstream URI, so "/wallet/<name>" routes to the node's wallet
// RPC endpoint) with the caller's Authorization header passed through
// unchanged. It returns the upstream's raw response body and HTTP status.
func (c *Client) Send(ctx context.Context, body []byte, auth string, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uri+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return respBody, resp.StatusCode, nil
}

// Call sends a single JSON-RPC request and decodes a typed response. If the
// body isn't UTF-8, it returns a *NotUTF8Error; if it's UTF-8 but doesn't
// decode as JSON-RPC, a *ParseError carrying the body for diagnostics.
// When the decoded response carries an RpcError, the upstream HTTP status
// is stapled onto it so C6 can propagate it to the client.
func (c *Client) Call(ctx context.Context, auth string, request rpc.RpcRequest) (*rpc.RpcResponse, error) {
	reqBytes, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	respBytes, status, err := c.Send(ctx, reqBytes, auth, "/")
	if err != nil {
		return nil, err
	}

	if !utf8.Valid(respBytes) {
		return nil, &NotUTF8Error{Method: request.Method, Status: status}
	}

	var response rpc.RpcResponse
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return nil, &ParseError{
			Method:     request.Method,
			Status:     status,
			Body:       string(respBytes),
			Underlying: err,
		}
	}

	if response.Error != nil {
		response.Error.Status = status
	}

	return &response, nil
}

// NewRequest builds an RpcRequest with positional params, the shape every
// call this client makes (getpeerinfo, getblockheader) uses.
func NewRequest(id int64, method string, params ...interface{}) (rpc.RpcRequest, error) {
	raw := make([]json.RawMessage, 0, len(params))

	for _, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return rpc.RpcRequest{}, err
		}
		raw = append(raw, data)
	}

	idBytes, err := json.Marshal(id)
	if err != nil {
		return rpc.RpcRequest{}, err
	}

	return rpc.RpcRequest{
		ID:     idBytes,
		Method: method,
		Params: rpc.GenericRpcParams{Array: raw},
	}, nil
}
