package types

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

type rejectAll struct{}

func (rejectAll) VerifyAggregate(VoteKind, View, Commitment, []byte) bool { return false }

type acceptAll struct{}

func (acceptAll) VerifyAggregate(VoteKind, View, Commitment, []byte) bool { return true }

func TestViewMod(t *testing.T) {
	cases := []struct {
		view     View
		n        int
		expected int
	}{
		{0, 4, 0},
		{5, 4, 1},
		{6, 4, 2},
		{-1, 4, 3},
		{7, 0, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, c.view.Mod(c.n), "view %v mod %d", c.view, c.n)
	}
	assert.Equal(t, View(6), View(5).Next())
}

func TestTxsEncodeDecode(t *testing.T) {
	txs := Txs{Tx("a"), Tx{}, Tx("transaction three")}
	decoded, err := DecodeTxs(txs.Encode())
	require.NoError(t, err)
	require.Len(t, decoded, len(txs))
	for i := range txs {
		assert.Equal(t, []byte(txs[i]), []byte(decoded[i]))
	}
	assert.Equal(t, txs.Commit(), decoded.Commit())

	_, err = DecodeTxs([]byte{10, 'a'})
	assert.Equal(t, ErrMalformedTxs, err)
}

func TestLeafCommit(t *testing.T) {
	leaf := &Leaf{
		View:             3,
		Justify:          GenesisCertificate(QuorumVote),
		ParentCommitment: GenesisLeaf().Commit(),
		Payload:          NewBlockPayload(Txs{Tx("a")}),
	}
	c := leaf.Commit()

	cp := leaf.Copy()
	assert.Equal(t, c, cp.Commit())

	cp.View = 4
	assert.NotEqual(t, c, cp.Commit())
	assert.Equal(t, View(3), leaf.View, "copy must not alias the original")
}

func TestCertificateIsValid(t *testing.T) {
	gen := GenesisCertificate(VIDVote)
	assert.True(t, gen.IsValid(rejectAll{}), "genesis certificate is valid without checks")

	bad := gen.Copy()
	bad.View = 1
	assert.False(t, bad.IsValid(acceptAll{}), "genesis flag only holds at view zero")

	cert := &Certificate{Kind: VIDVote, View: 2, Commitment: CommitmentOf([]byte("p")), Signature: []byte{1}}
	assert.True(t, cert.IsValid(acceptAll{}))
	assert.False(t, cert.IsValid(rejectAll{}))

	cert.Signature = nil
	assert.False(t, cert.IsValid(acceptAll{}))
}

func TestCommitmentJSON(t *testing.T) {
	c := CommitmentOf([]byte("x"))
	bz, err := tmjson.Marshal(c)
	require.NoError(t, err)

	var c2 Commitment
	require.NoError(t, tmjson.Unmarshal(bz, &c2))
	assert.Equal(t, c, c2)
}

func TestGenesisDocSaveAndLoad(t *testing.T) {
	vals, _, dealer := RandValidatorSet(4, 1)
	genDoc := &GenesisDoc{
		ChainID:   "genesis-test",
		Threshold: vals.SuccessThreshold(),
	}
	for _, v := range vals.Validators {
		genDoc.Validators = append(genDoc.Validators, GenesisValidator{PubKey: v.PubKey})
	}
	require.NoError(t, genDoc.SetPubPoly(dealer.PubPoly()))
	require.NoError(t, genDoc.ValidateAndComplete())

	file := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, genDoc.SaveAs(file))

	loaded, err := GenesisDocFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, genDoc.ChainID, loaded.ChainID)
	assert.Equal(t, vals.Hash(), loaded.ValidatorSet().Hash())

	pub, err := loaded.PubPoly()
	require.NoError(t, err)
	assert.True(t, pub.Equal(dealer.PubPoly()))
}

func TestGenesisDocValidate(t *testing.T) {
	vals, _, dealer := RandValidatorSet(4, 1)
	base := func() *GenesisDoc {
		g := &GenesisDoc{ChainID: "c", Threshold: 3}
		for _, v := range vals.Validators {
			g.Validators = append(g.Validators, GenesisValidator{PubKey: v.PubKey})
		}
		require.NoError(t, g.SetPubPoly(dealer.PubPoly()))
		return g
	}

	g := base()
	g.ChainID = ""
	assert.Error(t, g.ValidateAndComplete())

	g = base()
	g.Threshold = 5
	assert.Error(t, g.ValidateAndComplete())

	g = base()
	g.Validators[0].Address = g.Validators[1].PubKey.Address().Bytes()
	assert.Error(t, g.ValidateAndComplete())
}

func TestValidatorSetLeader(t *testing.T) {
	vals, _, _ := RandValidatorSet(4, 1)
	assert.Equal(t, 3, vals.SuccessThreshold())
	assert.Equal(t, vals.Validators[1].Address, vals.GetLeader(5).Address)
	assert.Equal(t, vals.Validators[2].Address, vals.GetLeader(6).Address)
}

func TestValidatorSetCopyAndString(t *testing.T) {
	vals, _, _ := RandValidatorSet(4, 1)
	cp := vals.Copy()
	require.Equal(t, vals.Hash(), cp.Hash())

	cp.Validators[0] = cp.Validators[1]
	cp.Validators[2].Address = Address("changed")
	assert.NotEqual(t, vals.Hash(), cp.Hash())
	assert.NotEqual(t, vals.Validators[2].Address, cp.Validators[2].Address)

	s := vals.String()
	for _, val := range vals.Validators {
		assert.Contains(t, s, val.String())
	}

	// Iterate stops when fn returns true
	var seen []int
	vals.Iterate(func(index int, val *Validator) bool {
		seen = append(seen, index)
		return index == 1
	})
	assert.Equal(t, []int{0, 1}, seen)
}
