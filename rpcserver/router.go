// Package rpcserver implements the RPC router (C5): it inspects each
// incoming request, intercepts getblock to serve pruned blocks from P2P
// peers, and forwards everything else to the backing node unchanged.
// Grounded on proxy.rs's proxy_request (verbosity dispatch, Either-typed
// result assembly) and the teacher's handler dispatch style in
// services/rpc/handlers.go (per-method decode, typed result, RPCError on
// failure).
package rpcserver

import (
	"context"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/segmentio/encoding/json"

	"github.com/ordishs/btc-rpc-proxy/errors"
	"github.com/ordishs/btc-rpc-proxy/fetcher"
	"github.com/ordishs/btc-rpc-proxy/metrics"
	"github.com/ordishs/btc-rpc-proxy/peerpool"
	"github.com/ordishs/btc-rpc-proxy/rpc"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
	"github.com/ordishs/btc-rpc-proxy/upstream"
)

// Router dispatches getblock to the peer-fetch path and everything else
// to plain upstream passthrough.
type Router struct {
	upstream    *upstream.Client
	peers       *peerpool.Pool
	fetcher     *fetcher.Fetcher
	chainParams *chaincfg.Params
	log         ulogger.Logger
}

func New(upstreamClient *upstream.Client, peers *peerpool.Pool, blockFetcher *fetcher.Fetcher, chainParams *chaincfg.Params, log ulogger.Logger) *Router {
	metrics.Init()

	return &Router{
		upstream:    upstreamClient,
		peers:       peers,
		fetcher:     blockFetcher,
		chainParams: chainParams,
		log:         log,
	}
}

// rpcErrorCode classifies err per the upstream error-code table: a
// response body that couldn't even be parsed as JSON-RPC maps to
// ParseErrorCode; everything else maps to MiscErrorCode.
func rpcErrorCode(err error) int64 {
	var parseErr *upstream.ParseError
	if errors.As(err, &parseErr) {
		return rpc.ParseErrorCode
	}
	return rpc.MiscErrorCode
}

// Handle processes a single request body and returns the raw response
// bytes this router has decided to answer with, plus the HTTP status to
// surface. A parse failure or any method other than getblock falls
// through to byte-for-byte passthrough via C2, preserving path so
// /wallet/<name> routing still works.
func (r *Router) Handle(ctx context.Context, body []byte, auth string, path string) ([]byte, int, error) {
	var single rpc.RpcRequest
	if err := json.Unmarshal(body, &single); err != nil {
		return r.passthrough(ctx, body, auth, path)
	}

	params, ok := IsGetBlockRequest(&single)
	if !ok {
		return r.passthrough(ctx, body, auth, path)
	}

	start := time.Now()
	result, rpcErr := r.handleGetBlock(ctx, auth, params)
	metrics.RequestDuration.WithLabelValues("getblock").Observe(time.Since(start).Seconds())

	resp := rpc.RpcResponse{ID: single.ID}

	status := 200
	if rpcErr != nil {
		metrics.GetblockTotal.WithLabelValues("peers", "error").Inc()
		resp.Error = rpcErr
		status = rpcErr.Status
		if status == 0 {
			status = 500
		}
	} else {
		metrics.GetblockTotal.WithLabelValues("peers", "success").Inc()
		data, err := json.Marshal(result)
		if err != nil {
			return nil, 0, err
		}
		resp.Result = data
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, 0, err
	}

	return data, status, nil
}

func (r *Router) passthrough(ctx context.Context, body []byte, auth string, path string) ([]byte, int, error) {
	data, status, err := r.upstream.Send(ctx, body, auth, path)
	if err != nil {
		return nil, 0, err
	}
	return data, status, nil
}

// handleGetBlock implements the getblock interception: authoritative
// header lookup, peer fetch, verbosity-shaped assembly.
func (r *Router) handleGetBlock(ctx context.Context, auth string, params GetBlockParams) (interface{}, *rpc.RpcError) {
	hash, err := chainhash.NewHashFromStr(params.BlockHash)
	if err != nil {
		return nil, &rpc.RpcError{Code: rpc.MiscErrorCode, Message: "invalid block hash", Status: 500}
	}

	upstreamHeader, err := r.upstream.GetBlockHeader(ctx, auth, params.BlockHash)
	if err != nil {
		return nil, &rpc.RpcError{Code: rpcErrorCode(err), Message: err.Error(), Status: 500}
	}

	var header *fetcher.Header
	var headerFields *HeaderFields

	if upstreamHeader != nil {
		header, err = fetcher.HeaderFromUpstream(upstreamHeader)
		if err != nil {
			return nil, &rpc.RpcError{Code: rpcErrorCode(err), Message: err.Error(), Status: 500}
		}
		headerFields = toHeaderFields(upstreamHeader)
	}

	peers, err := r.peers.GetPeers(ctx, auth)
	if err != nil {
		return nil, &rpc.RpcError{Code: rpcErrorCode(err), Message: err.Error(), Status: 500}
	}

	block, err := r.fetcher.Fetch(ctx, peers, hash, header)
	if err != nil {
		var appErr *errors.Error
		if errors.As(err, &appErr) {
			return nil, &rpc.RpcError{Code: rpcErrorCode(err), Message: appErr.Message(), Status: 500}
		}
		return nil, &rpc.RpcError{Code: rpcErrorCode(err), Message: err.Error(), Status: 500}
	}

	switch params.Verbosity {
	case 0:
		return hexEncodeBlock(block)
	case 1:
		return r.buildVerbosity1(block, headerFields)
	case 2:
		return r.buildVerbosity2(block, headerFields)
	default:
		return nil, &rpc.RpcError{Code: rpc.MiscErrorCode, Message: fmtUnknownVerbosity(params.Verbosity), Status: 500}
	}
}

func (r *Router) buildVerbosity1(block *wire.MsgBlock, header *HeaderFields) (*GetBlockResultV1, *rpc.RpcError) {
	size := blockSize(block)
	witness := blockWitnessBytes(block)

	result := &GetBlockResultV1{
		Size:   size,
		Weight: blockWeight(block),
		Tx:     txids(block),
	}
	if header != nil {
		result.HeaderFields = *header
	}
	if witness > 0 {
		result.StrippedSize = size - witness
	}

	return result, nil
}

func (r *Router) buildVerbosity2(block *wire.MsgBlock, header *HeaderFields) (*GetBlockResultV2, *rpc.RpcError) {
	size := blockSize(block)
	witness := blockWitnessBytes(block)

	txs := make([]DecodedTx, len(block.Transactions))
	for i, tx := range block.Transactions {
		decoded, err := decodeTx(tx, header, r.chainParams)
		if err != nil {
			return nil, &rpc.RpcError{Code: rpcErrorCode(err), Message: err.Error(), Status: 500}
		}
		txs[i] = decoded
	}

	result := &GetBlockResultV2{
		Size:   size,
		Weight: blockWeight(block),
		Tx:     txs,
	}
	if header != nil {
		result.HeaderFields = *header
	}
	if witness > 0 {
		result.StrippedSize = size - witness
	}

	return result, nil
}

func toHeaderFields(h *upstream.BlockHeader) *HeaderFields {
	return &HeaderFields{
		Hash:          h.Hash,
		Confirmations: h.Confirmations,
		Height:        h.Height,
		Version:       h.Version,
		VersionHex:    h.VersionHex,
		MerkleRoot:    h.MerkleRoot,
		Time:          h.Time,
		MedianTime:    h.MedianTime,
		Nonce:         h.Nonce,
		Bits:          h.Bits,
		Difficulty:    h.Difficulty,
		PreviousHash:  h.PreviousBlockHash,
		NextHash:      h.NextBlockHash,
	}
}

func hexEncodeBlock(block *wire.MsgBlock) (string, *rpc.RpcError) {
	data, err := encodeBlock(block)
	if err != nil {
		return "", &rpc.RpcError{Code: rpcErrorCode(err), Message: err.Error(), Status: 500}
	}
	return data, nil
}

func fmtUnknownVerbosity(v int) string {
	return "unknown verbosity: " + strconv.Itoa(v)
}
