package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"

	"vidbft/vid"
)

// VidDisperse carries the VID shares of one view's payload.
type VidDisperse struct {
	View              View        `json:"view"`
	PayloadCommitment Commitment  `json:"payload_commitment"`
	Shares            []vid.Share `json:"shares"`
	Common            vid.Common  `json:"common"`
}

// DisperseProposal is a VidDisperse signed by the view's leader.
type DisperseProposal struct {
	Data      VidDisperse      `json:"data"`
	Signature tmbytes.HexBytes `json:"signature"`
}

// SignBytes returns the bytes the leader signs: the payload commitment bound
// to the chain and the view, so a dispersal cannot be replayed in another view.
func (p *DisperseProposal) SignBytes(chainID string) []byte {
	bz := make([]byte, 0, len(chainID)+len("disperse")+8+len(p.Data.PayloadCommitment))
	bz = append(bz, chainID...)
	bz = append(bz, "disperse"...)
	var viewBz [8]byte
	binary.BigEndian.PutUint64(viewBz[:], uint64(p.Data.View))
	bz = append(bz, viewBz[:]...)
	return append(bz, p.Data.PayloadCommitment[:]...)
}

func (p *DisperseProposal) ValidateBasic() error {
	if p == nil {
		return errors.New("nil disperse proposal")
	}
	if p.Data.View < ViewZero {
		return errors.New("negative view")
	}
	if p.Data.PayloadCommitment.IsEmpty() {
		return errors.New("empty payload commitment")
	}
	if len(p.Data.Shares) != p.Data.Common.NumShares {
		return fmt.Errorf("expected %d shares, got %d", p.Data.Common.NumShares, len(p.Data.Shares))
	}
	if len(p.Signature) == 0 {
		return errors.New("disperse proposal had no signature")
	}
	return nil
}
