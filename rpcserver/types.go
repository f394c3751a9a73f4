package rpcserver

import (
	"github.com/ordishs/btc-rpc-proxy/rpc"
	"github.com/segmentio/encoding/json"
)

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// HeaderFields are the getblockheader-shaped fields every non-zero
// verbosity getblock response carries alongside the block's own content.
type HeaderFields struct {
	Hash          string  `json:"hash"`
	Confirmations int64   `json:"confirmations"`
	Height        int64   `json:"height"`
	Version       int32   `json:"version"`
	VersionHex    string  `json:"versionHex"`
	MerkleRoot    string  `json:"merkleroot"`
	Time          int64   `json:"time"`
	MedianTime    int64   `json:"mediantime"`
	Nonce         uint32  `json:"nonce"`
	Bits          string  `json:"bits"`
	Difficulty    float64 `json:"difficulty"`
	PreviousHash  string  `json:"previousblockhash,omitempty"`
	NextHash      string  `json:"nextblockhash,omitempty"`
}

// TxOut is a single decoded transaction output, the shape the verbosity-2
// getblock response embeds per transaction.
type TxOut struct {
	Value        float64            `json:"value"`
	N            int                `json:"n"`
	ScriptPubKey ScriptPubKeyResult `json:"scriptPubKey"`
}

type ScriptPubKeyResult struct {
	Asm     string `json:"asm"`
	Hex     string `json:"hex"`
	ReqSigs int    `json:"reqSigs,omitempty"`
	Type    string `json:"type"`
}

// TxIn is a single decoded transaction input.
type TxIn struct {
	Txid      string           `json:"txid,omitempty"`
	Vout      uint32           `json:"vout,omitempty"`
	ScriptSig *ScriptSigResult `json:"scriptSig,omitempty"`
	Sequence  uint32           `json:"sequence"`
	Witness   []string         `json:"txinwitness,omitempty"`
	Coinbase  string           `json:"coinbase,omitempty"`
}

type ScriptSigResult struct {
	Asm string `json:"asm"`
	Hex string `json:"hex"`
}

// DecodedTx is a fully decoded transaction, mirroring the reference
// node's getrawtransaction(verbose=true) shape, embedded in a verbosity-2
// getblock response.
type DecodedTx struct {
	Txid          string  `json:"txid"`
	Hash          string  `json:"hash"`
	Version       int32   `json:"version"`
	Size          int     `json:"size"`
	VSize         int     `json:"vsize"`
	Weight        int     `json:"weight"`
	LockTime      uint32  `json:"locktime"`
	Vin           []TxIn  `json:"vin"`
	Vout          []TxOut `json:"vout"`
	Hex           string  `json:"hex"`
	BlockHash     string  `json:"blockhash,omitempty"`
	Confirmations int64   `json:"confirmations,omitempty"`
	Time          int64   `json:"time,omitempty"`
	BlockTime     int64   `json:"blocktime,omitempty"`
}

// GetBlockResultV1 is the verbosity-1 getblock response shape: header
// fields plus a list of txids.
type GetBlockResultV1 struct {
	HeaderFields
	Size         int      `json:"size"`
	StrippedSize int      `json:"strippedsize,omitempty"`
	Weight       int      `json:"weight"`
	Tx           []string `json:"tx"`
}

// GetBlockResultV2 is the verbosity-2 getblock response shape: header
// fields plus fully decoded transactions.
type GetBlockResultV2 struct {
	HeaderFields
	Size         int         `json:"size"`
	StrippedSize int         `json:"strippedsize,omitempty"`
	Weight       int         `json:"weight"`
	Tx           []DecodedTx `json:"tx"`
}

// GetBlockParams is the decoded params of a getblock request.
type GetBlockParams struct {
	BlockHash string
	Verbosity int
}

// IsGetBlockRequest reports whether req is a well-formed getblock call and
// returns its decoded params. A false return means the router should fall
// through to plain passthrough.
func IsGetBlockRequest(req *rpc.RpcRequest) (GetBlockParams, bool) {
	if req == nil || req.Method != "getblock" {
		return GetBlockParams{}, false
	}

	if len(req.Params.Array) == 0 {
		return GetBlockParams{}, false
	}

	var hash string
	if err := jsonUnmarshal(req.Params.Array[0], &hash); err != nil {
		return GetBlockParams{}, false
	}

	verbosity := 1
	if len(req.Params.Array) > 1 {
		if err := jsonUnmarshal(req.Params.Array[1], &verbosity); err != nil {
			return GetBlockParams{}, false
		}
	}

	return GetBlockParams{BlockHash: hash, Verbosity: verbosity}, true
}
