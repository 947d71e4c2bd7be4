package consensus

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3/share"

	cstypes "vidbft/consensus/types"
	"vidbft/crypto/threshold"
	"vidbft/types"
)

var (
	ErrNotValidator       = errors.New("address is not a validator")
	ErrInvalidVoteToken   = errors.New("invalid vote token")
	ErrInvalidVoteShare   = errors.New("invalid vote signature share")
	ErrInvalidProposalSig = errors.New("invalid disperse proposal signature")
)

// Exchange is the membership and signature oracle consensus asks about
// leaders, thresholds, vote tokens, and certificate formation.
type Exchange interface {
	types.CertificateVerifier

	// Address returns the local validator address.
	Address() types.Address
	IsLeader(view types.View) bool
	GetLeader(view types.View) types.Address
	SuccessThreshold() int
	TotalNodes() int

	// MakeVoteToken returns the local token for view, or nil if the local
	// node may not vote in view.
	MakeVoteToken(view types.View) (types.VoteToken, error)
	ValidateVoteToken(vote *types.Vote) error

	SignProposal(p *types.DisperseProposal) error
	VerifyProposal(sender types.Address, p *types.DisperseProposal) error

	CreateVote(kind types.VoteKind, view types.View, commitment types.Commitment, token types.VoteToken) (*types.Vote, error)

	// NewAccumulator returns an empty accumulator for (kind, view).
	NewAccumulator(kind types.VoteKind, view types.View) *cstypes.VoteAccumulator
	// Accumulate verifies vote and adds it to acc. It returns a certificate
	// exactly when the vote completed one.
	Accumulate(acc *cstypes.VoteAccumulator, vote *types.Vote, commitment types.Commitment) (*types.Certificate, error)
}

// StaticExchange is an Exchange over a fixed validator set where every
// validator may vote in every view and leaders rotate round robin.
type StaticExchange struct {
	chainID string
	vals    *types.ValidatorSet
	privVal types.PrivValidator
	pubPoly *share.PubPoly

	address types.Address
	index   int32
}

var _ Exchange = (*StaticExchange)(nil)

// NewStaticExchange 用验证者集合和门限公钥多项式构建Exchange
func NewStaticExchange(chainID string, vals *types.ValidatorSet, privVal types.PrivValidator, pubPoly *share.PubPoly) *StaticExchange {
	exchange := &StaticExchange{
		chainID: chainID,
		vals:    vals.Copy(),
		privVal: privVal,
		pubPoly: pubPoly,
		index:   -1,
	}
	if privVal != nil {
		exchange.address = privVal.GetAddress()
		exchange.index, _ = vals.GetByAddress(exchange.address)
	}
	return exchange
}

func (ex *StaticExchange) ChainID() string { return ex.chainID }

func (ex *StaticExchange) Address() types.Address { return ex.address }

// Index returns the local position in the validator set, -1 for observers.
func (ex *StaticExchange) Index() int32 { return ex.index }

func (ex *StaticExchange) Validators() *types.ValidatorSet { return ex.vals }

func (ex *StaticExchange) IsLeader(view types.View) bool {
	return ex.GetLeader(view).Equal(ex.address)
}

func (ex *StaticExchange) GetLeader(view types.View) types.Address {
	leader := ex.vals.GetLeader(view)
	if leader == nil {
		return nil
	}
	return leader.Address
}

func (ex *StaticExchange) SuccessThreshold() int {
	return ex.vals.SuccessThreshold()
}

func (ex *StaticExchange) TotalNodes() int {
	return ex.vals.Size()
}

func (ex *StaticExchange) MakeVoteToken(view types.View) (types.VoteToken, error) {
	if ex.privVal == nil || ex.index < 0 {
		return nil, nil
	}
	return ex.privVal.SignVoteToken(ex.chainID, view)
}

func (ex *StaticExchange) ValidateVoteToken(vote *types.Vote) error {
	_, val := ex.vals.GetByIndex(vote.ValidatorIndex)
	if val == nil || !val.Address.Equal(vote.ValidatorAddress) {
		return ErrNotValidator
	}
	if !val.PubKey.VerifySignature(types.VoteTokenSignBytes(ex.chainID, vote.View), vote.Token) {
		return ErrInvalidVoteToken
	}
	return nil
}

func (ex *StaticExchange) SignProposal(p *types.DisperseProposal) error {
	if ex.privVal == nil {
		return ErrNotValidator
	}
	return ex.privVal.SignProposal(ex.chainID, p)
}

func (ex *StaticExchange) VerifyProposal(sender types.Address, p *types.DisperseProposal) error {
	_, val := ex.vals.GetByAddress(sender)
	if val == nil {
		return ErrNotValidator
	}
	if !val.PubKey.VerifySignature(p.SignBytes(ex.chainID), p.Signature) {
		return ErrInvalidProposalSig
	}
	return nil
}

func (ex *StaticExchange) CreateVote(kind types.VoteKind, view types.View, commitment types.Commitment, token types.VoteToken) (*types.Vote, error) {
	if ex.privVal == nil || ex.index < 0 {
		return nil, ErrNotValidator
	}
	vote := &types.Vote{
		Kind:             kind,
		View:             view,
		Commitment:       commitment,
		ValidatorAddress: ex.address,
		ValidatorIndex:   ex.index,
		Token:            token,
	}
	if err := ex.privVal.SignVote(ex.chainID, vote); err != nil {
		return nil, err
	}
	return vote, nil
}

func (ex *StaticExchange) NewAccumulator(kind types.VoteKind, view types.View) *cstypes.VoteAccumulator {
	return cstypes.NewVoteAccumulator(kind, view, ex.SuccessThreshold(), ex.TotalNodes())
}

func (ex *StaticExchange) Accumulate(acc *cstypes.VoteAccumulator, vote *types.Vote, commitment types.Commitment) (*types.Certificate, error) {
	if err := vote.ValidateBasic(); err != nil {
		return nil, err
	}
	if err := ex.ValidateVoteToken(vote); err != nil {
		return nil, err
	}
	msg := types.VoteSignBytes(ex.chainID, vote.Kind, vote.View, commitment)
	if err := threshold.VerifyShare(ex.pubPoly, msg, vote.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVoteShare, err)
	}
	// 份额编号必须和验证者编号一致，防止重放别人的份额
	if idx, err := threshold.ShareIndex(vote.Signature); err != nil || idx != int(vote.ValidatorIndex) {
		return nil, ErrInvalidVoteShare
	}

	reached, err := acc.AddVote(vote, commitment)
	if err != nil || !reached {
		return nil, err
	}

	sig, err := threshold.Recover(ex.pubPoly, msg, acc.Signatures(commitment), acc.Threshold, acc.TotalNodes())
	if err != nil {
		return nil, err
	}
	return &types.Certificate{
		Kind:       acc.Kind,
		View:       acc.View,
		Commitment: commitment,
		Signature:  sig,
		Signers:    acc.Signers(commitment),
	}, nil
}

func (ex *StaticExchange) VerifyAggregate(kind types.VoteKind, view types.View, commitment types.Commitment, sig []byte) bool {
	return threshold.Verify(ex.pubPoly, types.VoteSignBytes(ex.chainID, kind, view, commitment), sig) == nil
}
