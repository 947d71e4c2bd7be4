// Package threshold wraps kyber's BLS threshold signatures on bn256.
//
// A Dealer holds a degree t-1 polynomial; validator i receives share i and
// any t signature shares over the same message recover the group signature,
// which verifies against the public polynomial's constant term.
package threshold

import (
	"encoding/binary"
	"errors"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
)

var suite = bn256.NewSuite()

var ErrInvalidShare = errors.New("invalid threshold share")

// Dealer generates the key material of one validator group.
type Dealer struct {
	t, n    int
	priPoly *share.PriPoly
	pubPoly *share.PubPoly
}

// Master deterministically derives a dealer from seed. Every validator that
// uses the same (seed, t) ends up with the same public polynomial.
func Master(seed int64, t, n int) *Dealer {
	var seedBz [8]byte
	binary.BigEndian.PutUint64(seedBz[:], uint64(seed))
	stream := blake2xb.New(seedBz[:])

	secret := suite.G2().Scalar().Pick(stream)
	priPoly := share.NewPriPoly(suite.G2(), t, secret, stream)
	return &Dealer{
		t:       t,
		n:       n,
		priPoly: priPoly,
		pubPoly: priPoly.Commit(suite.G2().Point().Base()),
	}
}

func (d *Dealer) Threshold() int { return d.t }

// Share returns the private share of validator idx (0-based).
func (d *Dealer) Share(idx int) *share.PriShare {
	return d.priPoly.Eval(idx)
}

func (d *Dealer) PubPoly() *share.PubPoly {
	return d.pubPoly
}

// Sign produces a signature share over msg.
func Sign(priv *share.PriShare, msg []byte) ([]byte, error) {
	return tbls.Sign(suite, priv, msg)
}

// VerifyShare checks a signature share against the public polynomial.
func VerifyShare(pub *share.PubPoly, msg, sig []byte) error {
	return tbls.Verify(suite, pub, msg, sig)
}

// ShareIndex returns the index of the share that produced sig.
func ShareIndex(sig []byte) (int, error) {
	return tbls.SigShare(sig).Index()
}

// Recover combines t signature shares into the group signature.
func Recover(pub *share.PubPoly, msg []byte, sigs [][]byte, t, n int) ([]byte, error) {
	return tbls.Recover(suite, pub, msg, sigs, t, n)
}

// Verify checks a recovered group signature.
func Verify(pub *share.PubPoly, msg, sig []byte) error {
	return bls.Verify(suite, pub.Commit(), msg, sig)
}

// EncodeShare serializes a private share as index || scalar.
func EncodeShare(priv *share.PriShare) ([]byte, error) {
	v, err := priv.V.MarshalBinary()
	if err != nil {
		return nil, err
	}
	bz := make([]byte, 4, 4+len(v))
	binary.BigEndian.PutUint32(bz, uint32(priv.I))
	return append(bz, v...), nil
}

// DecodeShare reverses EncodeShare.
func DecodeShare(bz []byte) (*share.PriShare, error) {
	if len(bz) <= 4 {
		return nil, ErrInvalidShare
	}
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(bz[4:]); err != nil {
		return nil, err
	}
	return &share.PriShare{I: int(binary.BigEndian.Uint32(bz[:4])), V: v}, nil
}

// EncodePubPoly serializes the commitments of a public polynomial.
func EncodePubPoly(pub *share.PubPoly) ([][]byte, error) {
	_, commits := pub.Info()
	out := make([][]byte, len(commits))
	for i, c := range commits {
		bz, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = bz
	}
	return out, nil
}

// DecodePubPoly reverses EncodePubPoly.
func DecodePubPoly(commits [][]byte) (*share.PubPoly, error) {
	if len(commits) == 0 {
		return nil, errors.New("empty public polynomial")
	}
	points := make([]kyber.Point, len(commits))
	for i, bz := range commits {
		p := suite.G2().Point()
		if err := p.UnmarshalBinary(bz); err != nil {
			return nil, err
		}
		points[i] = p
	}
	return share.NewPubPoly(suite.G2(), suite.G2().Point().Base(), points), nil
}
