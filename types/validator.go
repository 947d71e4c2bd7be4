// fork from github.com/tendermint/tendermint/types/validator.go
package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// Validator is a member of the consensus group, identified by its ed25519
// key. Its threshold share index is its position in the ValidatorSet.
type Validator struct {
	Address Address       `json:"address"`
	PubKey  crypto.PubKey `json:"pub_key"`
}

// NewValidator returns a new validator with the given pubkey and voting power.
func NewValidator(pubKey crypto.PubKey) *Validator {
	return &Validator{
		Address: Address(pubKey.Address()),
		PubKey:  pubKey,
	}
}

// ValidateBasic performs basic validation.
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if v.PubKey == nil {
		return errors.New("validator does not have a public key")
	}

	if len(v.Address) != crypto.AddressSize {
		return fmt.Errorf("validator address is the wrong size: %v", v.Address)
	}

	return nil
}

// Copy returns a new copy of the validator.
// Panics if the validator is nil.
func (v *Validator) Copy() *Validator {
	vCopy := *v
	return &vCopy
}

// String returns a string representation of the validator.
func (v *Validator) String() string {
	if v == nil {
		return "nil-PrivVal"
	}
	return fmt.Sprintf("PrivVal{%v %v}",
		v.Address,
		v.PubKey)
}

// Bytes computes the unique encoding of a validator. These are the bytes
// that get hashed into the validator set hash. It excludes address as it is
// redundant with the pubkey.
func (v *Validator) Bytes() []byte {
	pk, err := tmjson.Marshal(v.PubKey)
	if err != nil {
		panic(err)
	}

	return pk
}
