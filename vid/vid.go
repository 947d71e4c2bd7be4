// Package vid implements verifiable information dispersal: a payload is
// erasure coded into one share per storage node, and every share carries a
// merkle proof binding it to the payload commitment.
package vid

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

var (
	ErrInvalidShare        = errors.New("vid share does not match commitment")
	ErrNotEnoughShares     = errors.New("not enough vid shares to recover payload")
	ErrInconsistentCommon  = errors.New("vid common data does not match scheme")
	ErrInvalidSchemeParams = errors.New("invalid vid scheme parameters")
)

// Share is the slice of a dispersed payload handed to one storage node.
type Share struct {
	Index int           `json:"index"`
	Data  []byte        `json:"data"`
	Proof *merkle.Proof `json:"proof"`
}

// Common is the metadata every storage node needs to check its share.
type Common struct {
	PayloadLength int    `json:"payload_length"`
	NumChunks     int    `json:"num_chunks"`
	NumShares     int    `json:"num_shares"`
	ShareRoot     []byte `json:"share_root"`
}

// Dispersal is the output of Scheme.Disperse.
type Dispersal struct {
	Commitment []byte
	Shares     []Share
	Common     Common
}

// Scheme splits payloads into NumChunks data shards plus parity, one shard
// per storage node. Any NumChunks shares recover the payload.
type Scheme struct {
	numChunks int
	numShares int
	enc       reedsolomon.Encoder
}

// NewScheme returns a scheme for numStorageNodes nodes of which numChunks
// suffice to recover. At least one parity share is always produced.
func NewScheme(numChunks, numStorageNodes int) (*Scheme, error) {
	if numChunks <= 0 || numStorageNodes <= 0 {
		return nil, ErrInvalidSchemeParams
	}
	if numStorageNodes <= numChunks {
		numStorageNodes = numChunks + 1
	}
	enc, err := reedsolomon.New(numChunks, numStorageNodes-numChunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchemeParams, err)
	}
	return &Scheme{
		numChunks: numChunks,
		numShares: numStorageNodes,
		enc:       enc,
	}, nil
}

func (s *Scheme) NumChunks() int { return s.numChunks }
func (s *Scheme) NumShares() int { return s.numShares }

// Disperse erasure codes payload and commits to the resulting shares.
func (s *Scheme) Disperse(payload []byte) (*Dispersal, error) {
	data := payload
	if len(data) == 0 {
		// reedsolomon refuses to split nothing
		data = []byte{0}
	}
	shards, err := s.enc.Split(data)
	if err != nil {
		return nil, err
	}
	if err := s.enc.Encode(shards); err != nil {
		return nil, err
	}

	root, proofs := merkle.ProofsFromByteSlices(shards)
	shares := make([]Share, len(shards))
	for i := range shards {
		shares[i] = Share{
			Index: i,
			Data:  shards[i],
			Proof: proofs[i],
		}
	}
	common := Common{
		PayloadLength: len(payload),
		NumChunks:     s.numChunks,
		NumShares:     s.numShares,
		ShareRoot:     root,
	}
	return &Dispersal{
		Commitment: Commit(common),
		Shares:     shares,
		Common:     common,
	}, nil
}

// Commit derives the payload commitment from the common data.
func Commit(common Common) []byte {
	var hdr [24]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(common.PayloadLength))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(common.NumChunks))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(common.NumShares))
	return tmhash.Sum(append(hdr[:], common.ShareRoot...))
}

// VerifyShare checks share against common and the payload commitment.
func (s *Scheme) VerifyShare(share Share, common Common, commitment []byte) error {
	if common.NumChunks != s.numChunks || common.NumShares != s.numShares {
		return ErrInconsistentCommon
	}
	if !bytes.Equal(Commit(common), commitment) {
		return ErrInvalidShare
	}
	if share.Proof == nil || share.Proof.Index != int64(share.Index) {
		return ErrInvalidShare
	}
	if err := share.Proof.Verify(common.ShareRoot, share.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	return nil
}

// Recover rebuilds the payload from at least NumChunks distinct shares.
// Shares that fail verification are skipped.
func (s *Scheme) Recover(shares []Share, common Common, commitment []byte) ([]byte, error) {
	shards := make([][]byte, s.numShares)
	have := 0
	for _, share := range shares {
		if share.Index < 0 || share.Index >= s.numShares || shards[share.Index] != nil {
			continue
		}
		if err := s.VerifyShare(share, common, commitment); err != nil {
			continue
		}
		shards[share.Index] = share.Data
		have++
	}
	if have < s.numChunks {
		return nil, ErrNotEnoughShares
	}
	if err := s.enc.ReconstructData(shards); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := s.enc.Join(&buf, shards, common.PayloadLength); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
