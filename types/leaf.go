package types

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

// BlockPayload is the batch of transactions a leader proposes in one view.
type BlockPayload struct {
	Transactions      Txs        `json:"transactions"`
	PayloadCommitment Commitment `json:"payload_commitment"`
}

// NewBlockPayload builds a payload over txs. The commitment covers the VID
// encoding of the payload, so it is filled in by the caller once the payload
// has been dispersed.
func NewBlockPayload(txs Txs) BlockPayload {
	return BlockPayload{Transactions: txs}
}

// Leaf is one unit of the append-only chain. Every leaf but the genesis leaf
// extends a parent leaf and is justified by a certificate.
type Leaf struct {
	View             View         `json:"view"`
	Justify          *Certificate `json:"justify"`
	ParentCommitment Commitment   `json:"parent_commitment"`
	Payload          BlockPayload `json:"payload"`
	Proposer         Address      `json:"proposer"`
	Timestamp        time.Time    `json:"timestamp"`
}

var genesisLeaf = Leaf{
	View:    ViewZero,
	Payload: BlockPayload{Transactions: Txs{}},
}

// GenesisLeaf returns the leaf every chain starts from.
func GenesisLeaf() *Leaf {
	l := genesisLeaf
	return &l
}

// Commit returns the digest identifying the leaf. Timestamp is not covered.
func (l *Leaf) Commit() Commitment {
	h := tmhash.New()
	var viewBz [8]byte
	binary.BigEndian.PutUint64(viewBz[:], uint64(l.View))
	h.Write(viewBz[:])
	h.Write(l.ParentCommitment[:])
	h.Write(l.Payload.PayloadCommitment[:])
	if l.Justify != nil {
		binary.BigEndian.PutUint64(viewBz[:], uint64(l.Justify.View))
		h.Write(viewBz[:])
		h.Write(l.Justify.Commitment[:])
	}
	h.Write(l.Proposer)
	return CommitmentFromBytes(h.Sum(nil))
}

// Copy returns a deep copy of the leaf.
func (l *Leaf) Copy() *Leaf {
	if l == nil {
		return nil
	}
	lCopy := *l
	lCopy.Justify = l.Justify.Copy()
	lCopy.Payload.Transactions = append(Txs(nil), l.Payload.Transactions...)
	lCopy.Proposer = append(Address(nil), l.Proposer...)
	return &lCopy
}

func (l *Leaf) String() string {
	if l == nil {
		return "nil-Leaf"
	}
	return fmt.Sprintf("Leaf{%v parent:%v payload:%v txs:%d}",
		l.View, l.ParentCommitment, l.Payload.PayloadCommitment, len(l.Payload.Transactions))
}
