package types

import (
	"fmt"

	"github.com/tendermint/tendermint/libs/bits"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// CertificateVerifier checks an aggregated signature against the membership.
type CertificateVerifier interface {
	VerifyAggregate(kind VoteKind, view View, commitment Commitment, sig []byte) bool
}

// Certificate表示有至少success threshold个验证者对(view, commitment)投了票
type Certificate struct {
	Kind       VoteKind         `json:"kind"`
	View       View             `json:"view"`
	Commitment Commitment       `json:"commitment"`
	Signature  tmbytes.HexBytes `json:"signature"`
	Signers    *bits.BitArray   `json:"signers"`
	IsGenesis  bool             `json:"is_genesis"`
}

// GenesisCertificate returns the certificate justifying the genesis leaf.
func GenesisCertificate(kind VoteKind) *Certificate {
	return &Certificate{
		Kind:       kind,
		View:       ViewZero,
		Commitment: GenesisLeaf().Commit(),
		IsGenesis:  true,
	}
}

// IsValid reports whether the certificate carries a valid aggregated
// signature. A genesis certificate is valid without any check, but only at
// view zero.
func (c *Certificate) IsValid(verifier CertificateVerifier) bool {
	if c == nil {
		return false
	}
	if c.IsGenesis {
		return c.View == ViewZero
	}
	if len(c.Signature) == 0 {
		return false
	}
	return verifier.VerifyAggregate(c.Kind, c.View, c.Commitment, c.Signature)
}

// Copy returns a deep copy of the certificate.
func (c *Certificate) Copy() *Certificate {
	if c == nil {
		return nil
	}
	cCopy := *c
	cCopy.Signature = append(tmbytes.HexBytes(nil), c.Signature...)
	if c.Signers != nil {
		cCopy.Signers = c.Signers.Copy()
	}
	return &cCopy
}

func (c *Certificate) String() string {
	if c == nil {
		return "nil-Certificate"
	}
	return fmt.Sprintf("Certificate{%v:%v %v genesis:%v signers:%v}",
		c.Kind, c.View, c.Commitment, c.IsGenesis, c.Signers)
}
