// fork from github.com/tendermint/tendermint/types/validator_set.go
package types

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/crypto/merkle"

	"vidbft/crypto/threshold"
)

// ValidatorSet represent the static set of *Validator taking part in
// consensus.
//
// The validators can be fetched by address or index. The index of a
// validator is also the index of its threshold key share, so the order is
// fixed by the genesis document and never changes.
//
// NOTE: Not goroutine-safe.
// NOTE: All get/set to validators should copy the value for safety.
type ValidatorSet struct {
	// NOTE: persisted via reflect, must be exported.
	Validators []*Validator `json:"validators"`
}

// NewValidatorSet initializes a ValidatorSet by copying over the values from
// `valz`, a list of Validators. If valz is nil or empty, the new ValidatorSet
// will have an empty list of Validators.
//
// The addresses of validators in `valz` must be unique otherwise the function
// panics.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{}
	vals.Validators = make([]*Validator, 0, len(valz))

	for _, val := range valz {
		vals.Validators = append(vals.Validators, val)
	}

	return vals
}

func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return errors.New("validator set is nil or empty")
	}

	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %w", idx, err)
		}
	}

	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// Makes a copy of the validator list.
func validatorListCopy(valsList []*Validator) []*Validator {
	if valsList == nil {
		return nil
	}
	valsCopy := make([]*Validator, len(valsList))
	for i, val := range valsList {
		valsCopy[i] = val.Copy()
	}
	return valsCopy
}

// Copy each validator into a new ValidatorSet.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	return &ValidatorSet{
		Validators: validatorListCopy(vals.Validators),
	}
}

// HasAddress returns true if address given is in the validator set, false -
// otherwise.
func (vals *ValidatorSet) HasAddress(address []byte) bool {
	for _, val := range vals.Validators {
		if bytes.Equal(val.Address, address) {
			return true
		}
	}
	return false
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address []byte) (index int32, val *Validator) {
	for idx, val := range vals.Validators {
		if bytes.Equal(val.Address, address) {
			return int32(idx), val.Copy()
		}
	}
	return -1, nil
}

// GetByIndex returns the validator's address and validator itself (copy) by
// index.
// It returns nil values if index is less than 0 or greater or equal to
// len(ValidatorSet.Validators).
func (vals *ValidatorSet) GetByIndex(index int32) (address []byte, val *Validator) {
	if index < 0 || int(index) >= len(vals.Validators) {
		return nil, nil
	}
	val = vals.Validators[index]
	return val.Address, val.Copy()
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// GetLeader returns the leader of view, chosen round robin. If the validator
// set is empty, nil is returned.
func (vals *ValidatorSet) GetLeader(view View) (leader *Validator) {
	if len(vals.Validators) == 0 {
		return nil
	}
	idx := view.Mod(len(vals.Validators))

	return vals.Validators[idx].Copy()
}

// SuccessThreshold is the number of signatures a certificate needs: 2f+1 of
// n = 3f+1 validators.
func (vals *ValidatorSet) SuccessThreshold() int {
	return SuccessThreshold(len(vals.Validators))
}

func SuccessThreshold(n int) int {
	if n == 0 {
		return 0
	}
	return n*2/3 + 1
}

// Hash returns the Merkle root hash build using validators (as leaves) in the
// set.
func (vals *ValidatorSet) Hash() []byte {
	bzs := make([][]byte, len(vals.Validators))
	for i, val := range vals.Validators {
		bzs[i] = val.Bytes()
	}
	return merkle.HashFromByteSlices(bzs)
}

// Iterate will run the given function over the set.
func (vals *ValidatorSet) Iterate(fn func(index int, val *Validator) bool) {
	for i, val := range vals.Validators {
		stop := fn(i, val.Copy())
		if stop {
			break
		}
	}
}

//----------------

// String returns a string representation of ValidatorSet.
//
// See StringIndented.
func (vals *ValidatorSet) String() string {
	return vals.StringIndented("")
}

// StringIndented returns an intended String.
//
// See Validator#String.
func (vals *ValidatorSet) StringIndented(indent string) string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	var valStrings []string
	vals.Iterate(func(index int, val *Validator) bool {
		valStrings = append(valStrings, val.String())
		return false
	})
	return fmt.Sprintf(`ValidatorSet{
%s  Validators:
%s    %v
%s}`,
		indent,
		indent, strings.Join(valStrings, "\n"+indent+"    "),
		indent)

}

//----------------------------------------

// RandValidatorSet returns a randomized validator set (size: +numValidators+)
// whose validators hold shares of a threshold key derived from seed. The
// i-th private validator owns the i-th share.
//
// EXPOSED FOR TESTING.
func RandValidatorSet(numValidators int, seed int64) (*ValidatorSet, []PrivValidator, *threshold.Dealer) {
	var (
		valz           = make([]*Validator, numValidators)
		privValidators = make([]PrivValidator, numValidators)
		dealer         = threshold.Master(seed, SuccessThreshold(numValidators), numValidators)
	)

	for i := 0; i < numValidators; i++ {
		privValidator := NewMockPVWithShare(ed25519.GenPrivKey(), dealer.Share(i))
		pubKey, err := privValidator.GetPubKey()
		if err != nil {
			panic(fmt.Errorf("could not retrieve pubkey %w", err))
		}
		valz[i] = NewValidator(pubKey)
		privValidators[i] = privValidator
	}

	return NewValidatorSet(valz), privValidators, dealer
}
