package upstream

import (
	"context"

	"github.com/ordishs/btc-rpc-proxy/errors"
	"github.com/segmentio/encoding/json"
)

// PeerInfo mirrors the fields of a single getpeerinfo entry this proxy
// actually consumes.
type PeerInfo struct {
	ID       int64  `json:"id"`
	Addr     string `json:"addr"`
	Services string `json:"services"`
}

// BlockHeader mirrors the fields of a getblockheader(hash, true) result
// needed to build the authoritative header C4 verifies fetched blocks
// against.
type BlockHeader struct {
	Hash              string  `json:"hash"`
	Confirmations     int64   `json:"confirmations"`
	Height            int64   `json:"height"`
	Version           int32   `json:"version"`
	VersionHex        string  `json:"versionHex"`
	MerkleRoot        string  `json:"merkleroot"`
	Time              int64   `json:"time"`
	MedianTime        int64   `json:"mediantime"`
	Nonce             uint32  `json:"nonce"`
	Bits              string  `json:"bits"`
	Difficulty        float64 `json:"difficulty"`
	PreviousBlockHash string  `json:"previousblockhash"`
	NextBlockHash     string  `json:"nextblockhash"`
}

// GetPeerInfo calls getpeerinfo on the backing node.
func (c *Client) GetPeerInfo(ctx context.Context, auth string) ([]PeerInfo, error) {
	req, err := NewRequest(1, "getpeerinfo")
	if err != nil {
		return nil, err
	}

	resp, err := c.Call(ctx, auth, req)
	if err != nil {
		return nil, errors.NewServiceUnavailableError("getpeerinfo request failed", err)
	}

	if resp.Error != nil {
		return nil, errors.NewServiceUnavailableError("getpeerinfo failed: %s", resp.Error.Message)
	}

	var peers []PeerInfo
	if err := json.Unmarshal(resp.Result, &peers); err != nil {
		return nil, errors.NewProcessingError("decoding getpeerinfo result", err)
	}

	return peers, nil
}

// HeaderNotFoundMessage is the message the backing node returns when asked
// for a header it has never had (as opposed to a pruned body, which it
// still has the header for).
const HeaderNotFoundMessage = "Block not found"

// GetBlockHeader calls getblockheader(hash, true) on the backing node.
// A nil, nil return means the node reported the header itself as
// not-found; any other failure is returned wrapped in an *errors.Error
// (a transport or parse failure keeps its cause in the chain).
func (c *Client) GetBlockHeader(ctx context.Context, auth string, hash string) (*BlockHeader, error) {
	req, err := NewRequest(1, "getblockheader", hash, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.Call(ctx, auth, req)
	if err != nil {
		return nil, errors.NewServiceUnavailableError("getblockheader request failed", err)
	}

	if resp.Error != nil {
		if resp.Error.Message == HeaderNotFoundMessage {
			return nil, nil
		}
		return nil, errors.NewNotFoundError("getblockheader failed: %s", resp.Error.Message)
	}

	var header BlockHeader
	if err := json.Unmarshal(resp.Result, &header); err != nil {
		return nil, errors.NewProcessingError("decoding getblockheader result", err)
	}

	return &header, nil
}
