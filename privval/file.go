package privval

import (
	"fmt"
	"io/ioutil"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
	"go.dedis.ch/kyber/v3/share"

	"vidbft/crypto/threshold"
	"vidbft/types"
)

//-------------------------------------------------------------------------------

// FilePVKey stores the immutable part of PrivValidator.
type FilePVKey struct {
	Address types.Address  `json:"address"`
	PubKey  crypto.PubKey  `json:"pub_key"`
	PrivKey crypto.PrivKey `json:"priv_key"`
	// 门限签名的私钥份额, index || scalar
	ThresholdShare tmbytes.HexBytes `json:"threshold_share"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() {
	outFile := pvKey.filePath
	if outFile == "" {
		panic("cannot save PrivValidator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		panic(err)
	}
	err = tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
	if err != nil {
		panic(err)
	}

}

//-------------------------------------------------------------------------------

// FilePV implements PrivValidator using a key file on disk. The file holds
// the ed25519 key used for vote tokens and proposals, and the threshold
// share used for votes.
type FilePV struct {
	Key FilePVKey

	share *share.PriShare
}

var _ types.PrivValidator = (*FilePV)(nil)

// NewFilePV generates a new validator from the given keys and path.
func NewFilePV(privKey crypto.PrivKey, priShare *share.PriShare, keyFilePath string) *FilePV {
	pv := &FilePV{
		Key: FilePVKey{
			Address:  types.Address(privKey.PubKey().Address()),
			PubKey:   privKey.PubKey(),
			PrivKey:  privKey,
			filePath: keyFilePath,
		},
		share: priShare,
	}
	if priShare != nil {
		bz, err := threshold.EncodeShare(priShare)
		if err != nil {
			panic(err)
		}
		pv.Key.ThresholdShare = bz
	}
	return pv
}

// GenFilePVWithSeedAndIdx derives validator idx of a numValidators group.
// Every node generated with the same seed shares one threshold key.
func GenFilePVWithSeedAndIdx(keyFilePath string, numValidators, idx int, seed int64) *FilePV {
	// 集群的门限多项式，由seed决定
	dealer := threshold.Master(seed, types.SuccessThreshold(numValidators), numValidators)

	// 节点自己的签名私钥
	priv := ed25519.GenPrivKeyFromSecret([]byte(fmt.Sprintf("vidbft-%d-%d", seed, idx)))
	return NewFilePV(priv, dealer.Share(idx), keyFilePath)
}

// GenFilePV generates a new validator with a random ed25519 key and no
// threshold share, and sets the filePath, but does not call Save().
func GenFilePV(keyFilePath string) *FilePV {
	return NewFilePV(ed25519.GenPrivKey(), nil, keyFilePath)
}

// LoadFilePV loads a FilePV from keyFilePath. If the file does not exist
// or is malformed, the program will exit.
func LoadFilePV(keyFilePath string) *FilePV {
	pv, err := loadFilePV(keyFilePath)
	if err != nil {
		tmos.Exit(err.Error())
	}
	return pv
}

func loadFilePV(keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	err = tmjson.Unmarshal(keyJSONBytes, &pvKey)
	if err != nil {
		return nil, fmt.Errorf("error reading PrivValidator key from %v: %w", keyFilePath, err)
	}

	// overwrite pubkey and address for convenience
	pvKey.PubKey = pvKey.PrivKey.PubKey()
	pvKey.Address = types.Address(pvKey.PubKey.Address())
	pvKey.filePath = keyFilePath

	pv := &FilePV{Key: pvKey}
	if len(pvKey.ThresholdShare) > 0 {
		pv.share, err = threshold.DecodeShare(pvKey.ThresholdShare)
		if err != nil {
			return nil, fmt.Errorf("error reading threshold share from %v: %w", keyFilePath, err)
		}
	}
	return pv, nil
}

// LoadOrGenFilePV loads a FilePV from the given filePath
// or else generates a new one and saves it to the filePath.
func LoadOrGenFilePV(keyFilePath string) *FilePV {
	var pv *FilePV
	if tmos.FileExists(keyFilePath) {
		pv = LoadFilePV(keyFilePath)
	} else {
		pv = GenFilePV(keyFilePath)
		pv.Save()
	}
	return pv
}

// GetAddress returns the address of the validator.
// Implements PrivValidator.
func (pv *FilePV) GetAddress() types.Address {
	return pv.Key.Address
}

// GetPubKey returns the public key of the validator.
// Implements PrivValidator.
func (pv *FilePV) GetPubKey() (crypto.PubKey, error) {
	return pv.Key.PubKey, nil
}

// ShareIndex returns the index of the threshold share, or -1 without one.
func (pv *FilePV) ShareIndex() int {
	if pv.share == nil {
		return -1
	}
	return pv.share.I
}

// SignVote signs the vote with the threshold share. Implements PrivValidator.
func (pv *FilePV) SignVote(chainID string, vote *types.Vote) error {
	if pv.share == nil {
		return fmt.Errorf("error signing vote: validator %v has no threshold share", pv.GetAddress())
	}
	sig, err := threshold.Sign(pv.share, types.VoteSignBytes(chainID, vote.Kind, vote.View, vote.Commitment))
	if err != nil {
		return fmt.Errorf("error signing vote: %w", err)
	}
	vote.Signature = sig
	return nil
}

// SignVoteToken implements PrivValidator.
func (pv *FilePV) SignVoteToken(chainID string, view types.View) (types.VoteToken, error) {
	sig, err := pv.Key.PrivKey.Sign(types.VoteTokenSignBytes(chainID, view))
	if err != nil {
		return nil, fmt.Errorf("error signing vote token: %w", err)
	}
	return types.VoteToken(sig), nil
}

// SignProposal signs the view and payload commitment of proposal, along
// with the chainID. Implements PrivValidator.
func (pv *FilePV) SignProposal(chainID string, proposal *types.DisperseProposal) error {
	sig, err := pv.Key.PrivKey.Sign(proposal.SignBytes(chainID))
	if err != nil {
		return fmt.Errorf("error signing proposal: %w", err)
	}
	proposal.Signature = sig
	return nil
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() {
	pv.Key.Save()
}

// String returns a string representation of the FilePV.
func (pv *FilePV) String() string {
	return fmt.Sprintf(
		"PrivValidator{%v share:%d}",
		pv.GetAddress(),
		pv.ShareIndex(),
	)
}
