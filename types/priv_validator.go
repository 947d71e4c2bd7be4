package types

import (
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	"go.dedis.ch/kyber/v3/share"

	"vidbft/crypto/threshold"
)

// PrivValidator defines the functionality of a local validator that signs
// votes, vote tokens and proposals.
type PrivValidator interface {
	GetPubKey() (crypto.PubKey, error)
	GetAddress() Address

	// SignVote fills vote.Signature with a threshold signature share.
	SignVote(chainID string, vote *Vote) error
	// SignVoteToken proves eligibility to vote in view.
	SignVoteToken(chainID string, view View) (VoteToken, error)
	// SignProposal signs the view and payload commitment of a dispersal.
	SignProposal(chainID string, proposal *DisperseProposal) error
}

//----------------------------------------
// MockPV

// MockPV implements PrivValidator without any safety or persistence.
// Only use it for testing.
type MockPV struct {
	PrivKey crypto.PrivKey
	Share   *share.PriShare
}

// NewMockPVWithShare returns a mock validator owning a threshold share.
func NewMockPVWithShare(priv crypto.PrivKey, s *share.PriShare) MockPV {
	return MockPV{PrivKey: priv, Share: s}
}

func (pv MockPV) GetPubKey() (crypto.PubKey, error) {
	return pv.PrivKey.PubKey(), nil
}

func (pv MockPV) GetAddress() Address {
	return Address(pv.PrivKey.PubKey().Address())
}

func (pv MockPV) SignVote(chainID string, vote *Vote) error {
	if pv.Share == nil {
		return fmt.Errorf("mock validator %v has no threshold share", pv.GetAddress())
	}
	sig, err := threshold.Sign(pv.Share, VoteSignBytes(chainID, vote.Kind, vote.View, vote.Commitment))
	if err != nil {
		return err
	}
	vote.Signature = sig
	return nil
}

func (pv MockPV) SignVoteToken(chainID string, view View) (VoteToken, error) {
	sig, err := pv.PrivKey.Sign(VoteTokenSignBytes(chainID, view))
	if err != nil {
		return nil, err
	}
	return VoteToken(sig), nil
}

func (pv MockPV) SignProposal(chainID string, proposal *DisperseProposal) error {
	sig, err := pv.PrivKey.Sign(proposal.SignBytes(chainID))
	if err != nil {
		return err
	}
	proposal.Signature = sig
	return nil
}

func (pv MockPV) String() string {
	return fmt.Sprintf("MockPV{%v}", pv.GetAddress())
}
