package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbft/types"
)

func makeLeaf(view types.View, parent *types.Leaf, txs ...string) *types.Leaf {
	payload := types.Txs{}
	for _, tx := range txs {
		payload = append(payload, types.Tx(tx))
	}
	p := types.NewBlockPayload(payload)
	p.PayloadCommitment = payload.Commit()
	return &types.Leaf{
		View:             view,
		Justify:          types.GenesisCertificate(types.QuorumVote),
		ParentCommitment: parent.Commit(),
		Payload:          p,
	}
}

func TestInsertIfAbsentOrRicher(t *testing.T) {
	state := MakeGenesisState("state_test")
	genesis := types.GenesisLeaf()
	leaf := makeLeaf(1, genesis, "a")
	da := NewDAEntry(types.CommitmentOf([]byte("payload")))

	testCases := []struct {
		name     string
		view     types.View
		inserts  []ViewInner
		expected ViewInner
	}{
		{"da twice", 2, []ViewInner{da, da}, da},
		{"leaf then da", 3, []ViewInner{NewLeafEntry(leaf), da}, NewLeafEntry(leaf)},
		{"da then leaf", 4, []ViewInner{da, NewLeafEntry(leaf)}, NewLeafEntry(leaf)},
		{"leaf twice", 5, []ViewInner{NewLeafEntry(leaf), NewLeafEntry(makeLeaf(5, genesis, "b"))}, NewLeafEntry(leaf)},
	}

	for _, tc := range testCases {
		for _, e := range tc.inserts {
			state.InsertIfAbsentOrRicher(tc.view, e)
		}
		actual, ok := state.GetEntry(tc.view)
		require.True(t, ok, tc.name)
		assert.Equal(t, tc.expected, actual, tc.name)
	}

	assert.False(t, state.InsertIfAbsentOrRicher(3, da), "a DA entry must not replace a leaf entry")
}

func TestSaveLeafUpgradesEntry(t *testing.T) {
	state := MakeGenesisState("state_test")
	leaf := makeLeaf(1, types.GenesisLeaf(), "a")

	state.InsertIfAbsentOrRicher(1, NewDAEntry(leaf.Payload.PayloadCommitment))
	c := state.SaveLeaf(leaf)

	e, ok := state.GetEntry(1)
	require.True(t, ok)
	assert.Equal(t, LeafEntry, e.Kind)
	assert.Equal(t, c, e.LeafCommitment)

	got, ok := state.GetLeaf(c)
	require.True(t, ok)
	assert.Equal(t, leaf.Commit(), got.Commit())

	// 返回的是拷贝
	got.View = 100
	again, _ := state.GetLeaf(c)
	assert.Equal(t, types.View(1), again.View)
}

func TestParentLeaf(t *testing.T) {
	state := MakeGenesisState("state_test")

	parent, err := state.ParentLeaf()
	require.NoError(t, err)
	assert.Equal(t, types.GenesisLeaf().Commit(), parent.Commit())

	leaf := makeLeaf(2, parent, "a")
	cert := &types.Certificate{Kind: types.VIDVote, View: 2, Commitment: leaf.Payload.PayloadCommitment}

	// 高证书指向的view没有任何记录
	require.True(t, state.UpdateHighCertificate(cert))
	_, err = state.ParentLeaf()
	assert.True(t, errors.Is(err, ErrMissingParentView))

	// 只有DA记录
	state.InsertIfAbsentOrRicher(2, NewDAEntry(leaf.Payload.PayloadCommitment))
	_, err = state.ParentLeaf()
	assert.True(t, errors.Is(err, ErrViewWithoutLeaf))

	state.SaveLeaf(leaf)
	parent, err = state.ParentLeaf()
	require.NoError(t, err)
	assert.Equal(t, leaf.Commit(), parent.Commit())

	// 高证书不会回退
	assert.False(t, state.UpdateHighCertificate(&types.Certificate{View: 1}))
	assert.Equal(t, types.View(2), state.HighCertificate().View)
}

func TestParentLeafMissingLeaf(t *testing.T) {
	state := MakeGenesisState("state_test")
	leaf := makeLeaf(3, types.GenesisLeaf(), "a")
	state.InsertIfAbsentOrRicher(3, NewLeafEntry(leaf))
	state.UpdateHighCertificate(&types.Certificate{View: 3})

	_, err := state.ParentLeaf()
	assert.True(t, errors.Is(err, ErrMissingLeaf))
}

type memStore struct {
	mtx    sync.Mutex
	leaves map[types.Commitment]*types.Leaf
}

func (s *memStore) CommitLeaf(leaf *types.Leaf) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.leaves[leaf.Commit()] = leaf.Copy()
	return nil
}

func (s *memStore) LoadLeaf(c types.Commitment) (*types.Leaf, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.leaves[c], nil
}

func TestDecideLeaf(t *testing.T) {
	state := MakeGenesisState("state_test")
	store := &memStore{leaves: map[types.Commitment]*types.Leaf{}}
	state.SetStore(store)

	leaf := makeLeaf(4, types.GenesisLeaf(), "a")
	cert := &types.Certificate{Kind: types.VIDVote, View: 4, Commitment: leaf.Payload.PayloadCommitment}

	decided, err := state.DecideLeaf(leaf, cert)
	require.NoError(t, err)
	assert.True(t, decided)
	assert.Equal(t, types.View(4), state.LastDecidedView())
	assert.Equal(t, types.View(4), state.HighCertificate().View)
	assert.Contains(t, store.leaves, leaf.Commit())

	decided, err = state.DecideLeaf(makeLeaf(3, types.GenesisLeaf(), "b"), nil)
	require.NoError(t, err)
	assert.False(t, decided)

	parent, err := state.ParentLeaf()
	require.NoError(t, err)
	assert.Equal(t, leaf.Commit(), parent.Commit())
}

func TestPrune(t *testing.T) {
	state := MakeGenesisState("state_test")
	prev := types.GenesisLeaf()
	for v := types.View(1); v <= 5; v++ {
		leaf := makeLeaf(v, prev, v.String())
		_, err := state.DecideLeaf(leaf, &types.Certificate{View: v})
		require.NoError(t, err)
		prev = leaf
	}

	state.Prune(5)
	views, leaves := state.Size()
	assert.Equal(t, 1, views)
	assert.Equal(t, 1, leaves)

	parent, err := state.ParentLeaf()
	require.NoError(t, err)
	assert.Equal(t, prev.Commit(), parent.Commit())
}

// 并发读写不会破坏"leaf优先"的约束
func TestConcurrentAccess(t *testing.T) {
	state := MakeGenesisState("state_test")
	leaf := makeLeaf(7, types.GenesisLeaf(), "a")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 8 {
				state.SaveLeaf(leaf)
				return
			}
			state.InsertIfAbsentOrRicher(7, NewDAEntry(types.CommitmentOf([]byte{byte(i)})))
			state.GetEntry(7)
			state.HighCertificate()
		}(i)
	}
	wg.Wait()

	e, ok := state.GetEntry(7)
	require.True(t, ok)
	assert.Equal(t, LeafEntry, e.Kind)
}
