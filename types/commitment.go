package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Commitment is a content digest. Transactions, payloads and leaves are all
// identified by their commitment.
type Commitment [tmhash.Size]byte

var EmptyCommitment = Commitment{}

// CommitmentFromBytes copies a digest into a Commitment. It panics if bz has
// the wrong length.
func CommitmentFromBytes(bz []byte) Commitment {
	var c Commitment
	if len(bz) != len(c) {
		panic(fmt.Sprintf("commitment must be %d bytes, got %d", len(c), len(bz)))
	}
	copy(c[:], bz)
	return c
}

// CommitmentOf hashes bz.
func CommitmentOf(bz []byte) Commitment {
	return CommitmentFromBytes(tmhash.Sum(bz))
}

func (c Commitment) IsEmpty() bool {
	return c == EmptyCommitment
}

func (c Commitment) Bytes() []byte {
	return c[:]
}

func (c Commitment) Equal(other Commitment) bool {
	return bytes.Equal(c[:], other[:])
}

func (c Commitment) String() string {
	return tmbytes.HexBytes(c[:]).String()
}

func (c Commitment) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%X"`, c[:])), nil
}

func (c *Commitment) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	bz, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(bz) != len(c) {
		return fmt.Errorf("commitment must be %d bytes, got %d", len(c), len(bz))
	}
	copy(c[:], bz)
	return nil
}
