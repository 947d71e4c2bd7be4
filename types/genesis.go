// fork from github.com/tendermint/tendermint/types/genesis.go
package types

import (
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"
	"go.dedis.ch/kyber/v3/share"

	"vidbft/crypto/threshold"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50
)

// GenesisValidator is an initial validator. Its position in
// GenesisDoc.Validators is its threshold share index.
type GenesisValidator struct {
	Address Address       `json:"address"`
	PubKey  crypto.PubKey `json:"pub_key"`
	Name    string        `json:"name"`
}

// GenesisDoc defines the initial conditions for a vidbft chain.
type GenesisDoc struct {
	GenesisTime time.Time          `json:"genesis_time"`
	ChainID     string             `json:"chain_id"`
	InitialView View               `json:"initial_view"`
	Validators  []GenesisValidator `json:"validators"`
	// commitments of the threshold key polynomial, constant term first
	ThresholdCommits []tmbytes.HexBytes `json:"threshold_commits"`
	Threshold        int                `json:"threshold"`
}

// SaveAs is a utility method for saving GenensisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tmos.WriteFile(file, genDocBytes, 0644)
}

// ValidatorSet returns the validators in share-index order.
func (genDoc *GenesisDoc) ValidatorSet() *ValidatorSet {
	vals := make([]*Validator, len(genDoc.Validators))
	for i, v := range genDoc.Validators {
		vals[i] = NewValidator(v.PubKey)
	}
	return NewValidatorSet(vals)
}

// PubPoly decodes the public threshold polynomial.
func (genDoc *GenesisDoc) PubPoly() (*share.PubPoly, error) {
	commits := make([][]byte, len(genDoc.ThresholdCommits))
	for i, c := range genDoc.ThresholdCommits {
		commits[i] = c
	}
	return threshold.DecodePubPoly(commits)
}

// SetPubPoly stores the commitments of pub.
func (genDoc *GenesisDoc) SetPubPoly(pub *share.PubPoly) error {
	commits, err := threshold.EncodePubPoly(pub)
	if err != nil {
		return err
	}
	genDoc.ThresholdCommits = make([]tmbytes.HexBytes, len(commits))
	for i, c := range commits {
		genDoc.ThresholdCommits[i] = c
	}
	return nil
}

// ValidateAndComplete checks that all necessary fields are present
// and fills in defaults for optional fields left empty
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain_id in genesis doc is too long (max: %d)", MaxChainIDLen)
	}
	if genDoc.InitialView < ViewZero {
		return fmt.Errorf("initial_view cannot be negative (got %v)", genDoc.InitialView)
	}
	if len(genDoc.Validators) == 0 {
		return errors.New("genesis doc must include at least one validator")
	}
	if genDoc.Threshold <= 0 || genDoc.Threshold > len(genDoc.Validators) {
		return fmt.Errorf("threshold %d out of range for %d validators", genDoc.Threshold, len(genDoc.Validators))
	}
	if len(genDoc.ThresholdCommits) != genDoc.Threshold {
		return fmt.Errorf("expected %d threshold commits, got %d", genDoc.Threshold, len(genDoc.ThresholdCommits))
	}

	for i, v := range genDoc.Validators {
		if v.PubKey == nil {
			return fmt.Errorf("genesis validator #%d has no public key", i)
		}
		if len(v.Address) == 0 {
			genDoc.Validators[i].Address = Address(v.PubKey.Address())
		} else if !v.Address.Equal(Address(v.PubKey.Address())) {
			return fmt.Errorf("incorrect address for validator %v in the genesis file, should be %v",
				v, v.PubKey.Address())
		}
	}

	if genDoc.GenesisTime.IsZero() {
		genDoc.GenesisTime = tmtime.Now()
	}

	return nil
}

//------------------------------------------------------------
// Make genesis state from file

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	err := tmjson.Unmarshal(jsonBlob, &genDoc)
	if err != nil {
		return nil, err
	}

	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}

	return &genDoc, err
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc at %s: %w", genDocFile, err)
	}
	return genDoc, nil
}
