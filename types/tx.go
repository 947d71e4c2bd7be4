package types

import (
	"encoding/binary"
	"errors"

	"github.com/tendermint/tendermint/crypto/merkle"
)

// Tx is an opaque transaction.
type Tx []byte

// Commit returns the digest identifying tx.
func (tx Tx) Commit() Commitment {
	return CommitmentOf(tx)
}

func (tx Tx) Size() int64 {
	return int64(len(tx))
}

// ===== tx array =====
type Txs []Tx

func (txs Txs) Size() int64 {
	var dataSize int64

	for _, tx := range txs {
		dataSize += tx.Size()
	}

	return dataSize
}

// Commit returns the merkle root over the commitments of txs.
func (txs Txs) Commit() Commitment {
	txBzs := make([][]byte, len(txs))
	for i := 0; i < len(txs); i++ {
		c := txs[i].Commit()
		txBzs[i] = c[:]
	}
	return CommitmentFromBytes(merkle.HashFromByteSlices(txBzs))
}

// Commitments lists the commitment of every tx, in order.
func (txs Txs) Commitments() []Commitment {
	cs := make([]Commitment, len(txs))
	for i, tx := range txs {
		cs[i] = tx.Commit()
	}
	return cs
}

var ErrMalformedTxs = errors.New("malformed transaction encoding")

// Encode concatenates txs, each prefixed with its uvarint length.
func (txs Txs) Encode() []byte {
	size := 0
	for _, tx := range txs {
		size += binary.MaxVarintLen64 + len(tx)
	}
	out := make([]byte, 0, size)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, tx := range txs {
		n := binary.PutUvarint(lenBuf[:], uint64(len(tx)))
		out = append(out, lenBuf[:n]...)
		out = append(out, tx...)
	}
	return out
}

// DecodeTxs reverses Txs.Encode.
func DecodeTxs(bz []byte) (Txs, error) {
	txs := Txs{}
	for len(bz) > 0 {
		l, n := binary.Uvarint(bz)
		if n <= 0 || uint64(len(bz)-n) < l {
			return nil, ErrMalformedTxs
		}
		bz = bz[n:]
		tx := make(Tx, l)
		copy(tx, bz[:l])
		txs = append(txs, tx)
		bz = bz[l:]
	}
	return txs, nil
}
