// Package rpc defines the JSON-RPC 2.0 envelope this proxy speaks on both
// its client-facing and upstream-facing sides: requests, responses, the
// single/batch wire shape, and the handful of shared value types
// (HexBytes, Either) the handlers and upstream client build on.
package rpc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/segmentio/encoding/json"
)

// Well-known error codes, matching the upstream node's own usage.
const (
	MiscErrorCode           = -1
	MethodNotAllowedCode    = -32604
	ParseErrorCode          = -32700
	MethodNotAllowedMessage = "Method not allowed"
	PruneErrorMessage       = "Block not available (pruned data)"
)

// HexBytes (de)serializes as a lowercase hex string, the JSON-RPC wire
// representation for raw block/transaction bytes.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("not a hexadecimal string: %w", err)
	}

	*h = b

	return nil
}

// Either holds exactly one of Left or Right, the way the proxy represents
// values whose shape on the wire isn't known until decoded (a raw hex
// string for verbosity 0, or a structured object for verbosity 1/2).
type Either[Left, Right any] struct {
	left  *Left
	right *Right
}

func NewLeft[Left, Right any](l Left) Either[Left, Right] {
	return Either[Left, Right]{left: &l}
}

func NewRight[Left, Right any](r Right) Either[Left, Right] {
	return Either[Left, Right]{right: &r}
}

func (e Either[Left, Right]) AsLeft() (Left, bool) {
	if e.left == nil {
		var zero Left
		return zero, false
	}
	return *e.left, true
}

func (e Either[Left, Right]) AsRight() (Right, bool) {
	if e.right == nil {
		var zero Right
		return zero, false
	}
	return *e.right, true
}

func (e Either[Left, Right]) MarshalJSON() ([]byte, error) {
	if e.left != nil {
		return json.Marshal(*e.left)
	}
	if e.right != nil {
		return json.Marshal(*e.right)
	}
	return []byte("null"), nil
}

func (e *Either[Left, Right]) UnmarshalJSON(data []byte) error {
	var left Left
	if err := json.Unmarshal(data, &left); err == nil {
		e.left = &left
		return nil
	}

	var right Right
	if err := json.Unmarshal(data, &right); err != nil {
		return err
	}
	e.right = &right

	return nil
}

// GenericRpcParams holds either the positional ("array") or named
// ("object") shape of a request's params field, whichever the caller sent.
type GenericRpcParams struct {
	Array  []json.RawMessage
	Object map[string]json.RawMessage
}

func (p GenericRpcParams) MarshalJSON() ([]byte, error) {
	if p.Object != nil {
		return json.Marshal(p.Object)
	}
	if p.Array != nil {
		return json.Marshal(p.Array)
	}
	return []byte("[]"), nil
}

func (p *GenericRpcParams) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		p.Object = obj
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	p.Array = arr

	return nil
}

// RpcRequest is a single JSON-RPC request.
type RpcRequest struct {
	ID     json.RawMessage  `json:"id,omitempty"`
	Method string           `json:"method"`
	Params GenericRpcParams `json:"params"`
}

// RpcError is a JSON-RPC error object. Status carries the HTTP status code
// the upstream node answered with; it is never marshalled onto the wire,
// only used to decide what status this proxy itself should answer with.
type RpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("bitcoin RPC failed with code %d, message: %s", e.Code, e.Message)
}

// RpcResponse is a single JSON-RPC response.
type RpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Error  *RpcError       `json:"error"`
	Result json.RawMessage `json:"result,omitempty"`
}

// SingleOrBatchRequest carries either one request or a batch of them,
// mirroring whichever shape the client sent: a JSON array decodes as a
// batch, a JSON object decodes as a single request.
type SingleOrBatchRequest struct {
	Single *RpcRequest
	Batch  []RpcRequest
}

func (s SingleOrBatchRequest) MarshalJSON() ([]byte, error) {
	if s.Batch != nil {
		return json.Marshal(s.Batch)
	}
	return json.Marshal(s.Single)
}

func (s *SingleOrBatchRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var batch []RpcRequest
		if err := json.Unmarshal(data, &batch); err != nil {
			return err
		}
		s.Batch = batch
		return nil
	}

	var single RpcRequest
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	s.Single = &single

	return nil
}

// SingleOrBatchResponse is the response-side counterpart of
// SingleOrBatchRequest: it marshals back in whichever shape the
// corresponding request arrived in.
type SingleOrBatchResponse struct {
	Single *RpcResponse
	Batch  []RpcResponse
}

func (s SingleOrBatchResponse) MarshalJSON() ([]byte, error) {
	if s.Batch != nil {
		return json.Marshal(s.Batch)
	}
	return json.Marshal(s.Single)
}
