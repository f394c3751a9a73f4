package rpcserver

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// blockWitnessBytes sums the byte length of every witness stack item
// across every input of every transaction in block — the
// "total_witness_bytes" the data model defines strippedsize in terms of.
func blockWitnessBytes(block *wire.MsgBlock) int {
	total := 0
	for _, tx := range block.Transactions {
		for _, in := range tx.TxIn {
			for _, item := range in.Witness {
				total += len(item)
			}
		}
	}
	return total
}

func blockSize(block *wire.MsgBlock) int {
	var buf bytes.Buffer
	_ = block.Serialize(&buf)
	return buf.Len()
}

// blockWeight computes the consensus block weight: 3*base size + total
// size, the formula underlying weight = 4*strippedsize + witness_total.
func blockWeight(block *wire.MsgBlock) int {
	return 3*block.SerializeSizeStripped() + blockSize(block)
}

// txids returns the transaction IDs of block in block order, the
// verbosity-1 "tx" field.
func txids(block *wire.MsgBlock) []string {
	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.TxHash().String()
	}
	return ids
}

// isCoinBase reports whether tx is a block's coinbase transaction: a
// single input whose previous outpoint is the all-zero null hash at the
// maximum index.
func isCoinBase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}

	prevOut := tx.TxIn[0].PreviousOutPoint

	return prevOut.Index == wire.MaxPrevOutIndex && prevOut.Hash == chainhash.Hash{}
}

// decodeTx mirrors the reference node's getrawtransaction(verbose=true)
// shape for a single transaction embedded in a verbosity-2 getblock
// response. header carries the containing block's hash/time/confirmations,
// the way GetRawTransactionResult::from_raw folds in its block argument.
func decodeTx(tx *wire.MsgTx, header *HeaderFields, chainParams *chaincfg.Params) (DecodedTx, error) {
	var rawBuf bytes.Buffer
	if err := tx.Serialize(&rawBuf); err != nil {
		return DecodedTx{}, err
	}

	witnessTx := btcutil.NewTx(tx)

	vin := make([]TxIn, len(tx.TxIn))
	for i, in := range tx.TxIn {
		if i == 0 && isCoinBase(tx) {
			vin[i] = TxIn{
				Coinbase: hex.EncodeToString(in.SignatureScript),
				Sequence: in.Sequence,
			}
			continue
		}

		witness := make([]string, len(in.Witness))
		for j, w := range in.Witness {
			witness[j] = hex.EncodeToString(w)
		}

		vin[i] = TxIn{
			Txid: in.PreviousOutPoint.Hash.String(),
			Vout: in.PreviousOutPoint.Index,
			ScriptSig: &ScriptSigResult{
				Asm: disassembleScript(in.SignatureScript),
				Hex: hex.EncodeToString(in.SignatureScript),
			},
			Sequence: in.Sequence,
			Witness:  witness,
		}
	}

	vout := make([]TxOut, len(tx.TxOut))
	for i, out := range tx.TxOut {
		scriptClass, _, _, _ := txscript.ExtractPkScriptAddrs(out.PkScript, chainParams)

		vout[i] = TxOut{
			Value: btcutil.Amount(out.Value).ToBTC(),
			N:     i,
			ScriptPubKey: ScriptPubKeyResult{
				Asm:  disassembleScript(out.PkScript),
				Hex:  hex.EncodeToString(out.PkScript),
				Type: scriptClass.String(),
			},
		}
	}

	strippedSize := tx.SerializeSizeStripped()
	totalSize := tx.SerializeSize()

	decoded := DecodedTx{
		Txid:     tx.TxHash().String(),
		Hash:     witnessTx.WitnessHash().String(),
		Version:  tx.Version,
		Size:     totalSize,
		VSize:    (strippedSize*3 + totalSize) / 4,
		Weight:   strippedSize*3 + totalSize,
		LockTime: tx.LockTime,
		Vin:      vin,
		Vout:     vout,
		Hex:      hex.EncodeToString(rawBuf.Bytes()),
	}

	if header != nil {
		decoded.BlockHash = header.Hash
		decoded.Confirmations = header.Confirmations
		decoded.Time = header.Time
		decoded.BlockTime = header.Time
	}

	return decoded, nil
}

// encodeBlock consensus-serializes block and hex-encodes it, the
// verbosity-0 getblock response shape.
func encodeBlock(block *wire.MsgBlock) (string, error) {
	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func disassembleScript(script []byte) string {
	asm, err := txscript.DisasmString(script)
	if err != nil {
		return ""
	}
	return asm
}
