package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"

	"vidbft/types"
)

func makeLeaf(view types.View, parent types.Commitment) *types.Leaf {
	return &types.Leaf{
		View:             view,
		ParentCommitment: parent,
		Payload: types.BlockPayload{
			Transactions:      types.Txs{types.Tx("a"), types.Tx("b")},
			PayloadCommitment: types.CommitmentOf([]byte{byte(view), 1, 2, 3}),
		},
		Justify:   types.GenesisCertificate(types.VIDVote),
		Timestamp: time.Unix(1600000000, 0).UTC(),
	}
}

func TestKVStoreCommitAndLoad(t *testing.T) {
	kv := NewKVStoreWithDB(memdb.NewDB(), log.TestingLogger())

	_, err := kv.LoadLatestLeaf()
	assert.ErrorIs(t, err, ErrLeafNotFound)

	genesis := types.GenesisLeaf()
	l1 := makeLeaf(1, genesis.Commit())
	l2 := makeLeaf(2, l1.Commit())
	require.NoError(t, kv.CommitLeaf(l2))
	require.NoError(t, kv.CommitLeaf(l1))

	got, err := kv.LoadLeaf(l1.Commit())
	require.NoError(t, err)
	assert.Equal(t, l1.Commit(), got.Commit())
	assert.Equal(t, l1.Payload.Transactions, got.Payload.Transactions)

	// latest只随更高的view前进
	latest, err := kv.LoadLatestLeaf()
	require.NoError(t, err)
	assert.Equal(t, types.View(2), latest.View)

	byView, err := kv.LoadLeafByView(1)
	require.NoError(t, err)
	assert.Equal(t, l1.Commit(), byView.Commit())

	views, err := kv.DecidedViews()
	require.NoError(t, err)
	assert.Equal(t, []types.View{1, 2}, views)

	_, err = kv.LoadLeaf(types.CommitmentOf([]byte("missing")))
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestKVStoreOnDisk(t *testing.T) {
	dir, err := os.MkdirTemp("", "kv_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	kv, err := NewKVStore("leaves", dir, log.TestingLogger())
	require.NoError(t, err)
	leaf := makeLeaf(3, types.GenesisLeaf().Commit())
	require.NoError(t, kv.CommitLeaf(leaf))
	require.NoError(t, kv.Close())

	kv, err = NewKVStore("leaves", dir, log.TestingLogger())
	require.NoError(t, err)
	defer kv.Close()
	got, err := kv.LoadLatestLeaf()
	require.NoError(t, err)
	assert.Equal(t, leaf.Commit(), got.Commit())
}

func TestRecordStore(t *testing.T) {
	rs := NewMemRecordStore()

	v, err := rs.Get("validator/abc")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, rs.Put("validator/abc", []byte("peer-1")))
	require.NoError(t, rs.Put("validator/abc", []byte("peer-2")))
	require.NoError(t, rs.Put("other", []byte("x")))

	v, err = rs.Get("validator/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("peer-2"), v)

	keys, err := rs.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"validator/abc", "other"}, keys)
}

func TestPrefixEnd(t *testing.T) {
	testCases := []struct {
		prefix   []byte
		expected []byte
	}{
		{[]byte("view/"), []byte("view0")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
		{[]byte{}, nil},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, prefixEnd(tc.prefix), "%x", tc.prefix)
	}
}

// leaf和record共用一个db时，按前缀遍历互不干扰
func TestStoresShareDB(t *testing.T) {
	db := memdb.NewDB()
	kv := NewKVStoreWithDB(db, log.TestingLogger())
	rs := NewRecordStore(db)

	require.NoError(t, kv.CommitLeaf(makeLeaf(5, types.GenesisLeaf().Commit())))
	require.NoError(t, rs.Put("validator/abc", []byte("peer")))
	// 紧挨着前缀边界的key不能被遍历到
	require.NoError(t, db.Set([]byte("view0"), []byte("x")))
	require.NoError(t, db.Set([]byte("record0"), []byte("x")))

	views, err := kv.DecidedViews()
	require.NoError(t, err)
	assert.Equal(t, []types.View{5}, views)

	keys, err := rs.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"validator/abc"}, keys)
}
