package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/libs/bits"

	"vidbft/types"
)

var (
	ErrDuplicateVote         = errors.New("duplicate vote")
	ErrVoteMismatch          = errors.New("vote does not match accumulator kind or view")
	ErrInvalidValidatorIndex = errors.New("invalid validator index")
)

// commitmentVotes holds the signature shares collected for one commitment.
type commitmentVotes struct {
	sigs    [][]byte
	signers *bits.BitArray
}

// VoteAccumulator 收集同一个(kind, view)下的投票
//
// Shares are grouped by the commitment they endorse. A validator counts
// once per accumulator, whatever commitment it signs. It is not safe for
// concurrent use; it is owned by exactly one collector.
type VoteAccumulator struct {
	Kind      types.VoteKind
	View      types.View
	Threshold int

	votes   map[types.Commitment]*commitmentVotes
	signers *bits.BitArray
	count   int
}

// NewVoteAccumulator returns an empty accumulator for totalNodes validators.
func NewVoteAccumulator(kind types.VoteKind, view types.View, threshold, totalNodes int) *VoteAccumulator {
	return &VoteAccumulator{
		Kind:      kind,
		View:      view,
		Threshold: threshold,
		votes:     make(map[types.Commitment]*commitmentVotes),
		signers:   bits.NewBitArray(totalNodes),
	}
}

// AddVote records the share of vote for commitment. It returns true when
// commitment has just reached the threshold.
func (acc *VoteAccumulator) AddVote(vote *types.Vote, commitment types.Commitment) (bool, error) {
	if vote.Kind != acc.Kind || vote.View != acc.View {
		return false, fmt.Errorf("%w: got %v/%v, want %v/%v", ErrVoteMismatch, vote.Kind, vote.View, acc.Kind, acc.View)
	}
	idx := int(vote.ValidatorIndex)
	if idx < 0 || idx >= acc.signers.Size() {
		return false, fmt.Errorf("%w: %d", ErrInvalidValidatorIndex, idx)
	}
	if acc.signers.GetIndex(idx) {
		return false, ErrDuplicateVote
	}

	cv, ok := acc.votes[commitment]
	if !ok {
		cv = &commitmentVotes{signers: bits.NewBitArray(acc.signers.Size())}
		acc.votes[commitment] = cv
	}
	acc.signers.SetIndex(idx, true)
	cv.signers.SetIndex(idx, true)
	cv.sigs = append(cv.sigs, vote.Signature)
	acc.count++

	return len(cv.sigs) == acc.Threshold, nil
}

// Signatures returns the shares collected for commitment.
func (acc *VoteAccumulator) Signatures(commitment types.Commitment) [][]byte {
	cv, ok := acc.votes[commitment]
	if !ok {
		return nil
	}
	return cv.sigs
}

// Signers returns a copy of the signer bitmap of commitment.
func (acc *VoteAccumulator) Signers(commitment types.Commitment) *bits.BitArray {
	cv, ok := acc.votes[commitment]
	if !ok {
		return bits.NewBitArray(acc.signers.Size())
	}
	return cv.signers.Copy()
}

// Count returns the number of votes accepted so far.
func (acc *VoteAccumulator) Count() int {
	return acc.count
}

// TotalNodes returns the size of the signer bitmap.
func (acc *VoteAccumulator) TotalNodes() int {
	return acc.signers.Size()
}
