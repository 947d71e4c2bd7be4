package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// VoteKind tags which phase a vote or certificate belongs to.
type VoteKind uint8

const (
	QuorumVote = VoteKind(1)
	DAVote     = VoteKind(2)
	VIDVote    = VoteKind(3)
)

func (k VoteKind) String() string {
	switch k {
	case QuorumVote:
		return "QuorumVote"
	case DAVote:
		return "DAVote"
	case VIDVote:
		return "VIDVote"
	default:
		return "UnknownVote"
	}
}

// VoteToken proves a validator was selected to vote in a view.
type VoteToken tmbytes.HexBytes

// Vote - 一个验证者对某个(view, commitment)的背书
type Vote struct {
	Kind             VoteKind         `json:"kind"`
	View             View             `json:"view"`
	Commitment       Commitment       `json:"commitment"`
	ValidatorAddress Address          `json:"validator_address"`
	ValidatorIndex   int32            `json:"validator_index"`
	Signature        tmbytes.HexBytes `json:"signature"`
	Token            VoteToken        `json:"token"`
}

func (vote *Vote) ValidateBasic() error {
	if vote == nil {
		return errors.New("nil vote")
	}
	if vote.View < ViewZero {
		return errors.New("negative view")
	}
	if vote.ValidatorIndex < 0 {
		return errors.New("negative validator index")
	}
	if len(vote.Signature) == 0 {
		return errors.New("vote had no signature")
	}
	if len(vote.Token) == 0 {
		return errors.New("vote had no token")
	}
	return nil
}

func (vote *Vote) Copy() *Vote {
	vCopy := *vote
	return &vCopy
}

func (vote *Vote) String() string {
	if vote == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("Vote{%v:%v %v #%d %v}",
		vote.Kind, vote.View, vote.Commitment, vote.ValidatorIndex, vote.Signature)
}

// VoteSignBytes is the message a validator signs with its threshold share.
// All validators voting for the same (kind, view, commitment) sign the same
// bytes, which lets the shares be recovered into one certificate signature.
func VoteSignBytes(chainID string, kind VoteKind, view View, commitment Commitment) []byte {
	bz := make([]byte, 0, len(chainID)+1+8+len(commitment))
	bz = append(bz, chainID...)
	bz = append(bz, byte(kind))
	var viewBz [8]byte
	binary.BigEndian.PutUint64(viewBz[:], uint64(view))
	bz = append(bz, viewBz[:]...)
	bz = append(bz, commitment[:]...)
	return bz
}

// VoteTokenSignBytes is the message behind a VoteToken.
func VoteTokenSignBytes(chainID string, view View) []byte {
	bz := make([]byte, 0, len(chainID)+len("vote-token")+8)
	bz = append(bz, chainID...)
	bz = append(bz, "vote-token"...)
	var viewBz [8]byte
	binary.BigEndian.PutUint64(viewBz[:], uint64(view))
	return append(bz, viewBz[:]...)
}
