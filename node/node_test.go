package node

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
	tmtime "github.com/tendermint/tendermint/types/time"

	cfg "vidbft/config"
	"vidbft/crypto/threshold"
	"vidbft/eventbus"
	"vidbft/privval"
	"vidbft/types"
)

// makeSingleValidatorNode 生成只有一个验证者的节点及其genesis
func makeSingleValidatorNode(t *testing.T) (*Node, *cfg.Config) {
	config := cfg.ResetTestRoot("node_node_test")
	config.RPC.ListenAddress = ""
	config.Consensus.StartTimeout = 10 * time.Millisecond
	config.Consensus.ProposeMaxRoundTime = 100 * time.Millisecond

	const seed = 11
	pv := privval.GenFilePVWithSeedAndIdx(config.PrivValidatorKeyFile(), 1, 0, seed)
	pv.Save()
	pubKey, err := pv.GetPubKey()
	require.NoError(t, err)

	genDoc := &types.GenesisDoc{
		GenesisTime: tmtime.Now(),
		ChainID:     "node-test",
		Validators: []types.GenesisValidator{
			{Address: pv.GetAddress(), PubKey: pubKey, Name: "validator-0"},
		},
		Threshold: types.SuccessThreshold(1),
	}
	require.NoError(t, genDoc.SetPubPoly(threshold.Master(seed, genDoc.Threshold, 1).PubPoly()))
	require.NoError(t, genDoc.SaveAs(config.GenesisFile()))

	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	require.NoError(t, err)

	n, err := NewNode(config, pv, nodeKey, genDoc, DefaultMetricsProvider(config), log.TestingLogger())
	require.NoError(t, err)
	return n, config
}

func TestNodeStartStop(t *testing.T) {
	n, config := makeSingleValidatorNode(t)
	defer os.RemoveAll(config.RootDir)

	require.NoError(t, n.Start())
	assert.True(t, n.ConsensusState().IsRunning())
	assert.True(t, n.Bridge().IsRunning())
	assert.Equal(t, "node-test", n.NodeInfo().(p2p.DefaultNodeInfo).Network)

	require.NoError(t, n.Stop())
	assert.False(t, n.ConsensusState().IsRunning())
	assert.False(t, n.Switch().IsRunning())
}

func TestNodeDecidesSubmittedTxs(t *testing.T) {
	n, config := makeSingleValidatorNode(t)
	defer os.RemoveAll(config.RootDir)

	decided := n.EventBus().Subscribe("node-test", eventbus.MatchKinds(types.EventLeafDecided))
	require.NoError(t, n.Start())
	defer func() {
		require.NoError(t, n.Stop())
	}()

	txs := types.Txs{types.Tx("node-tx-1"), types.Tx("node-tx-2")}
	require.NoError(t, n.Bridge().SubmitTxs(txs))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var got types.Txs
	var last types.View
	for len(got) < len(txs) {
		ev, err := decided.Next(ctx)
		require.NoError(t, err)
		for _, leaf := range ev.(types.LeafDecidedEvent).Leaves {
			got = append(got, leaf.Payload.Transactions...)
			if leaf.View > last {
				last = leaf.View
			}
		}
	}
	assert.ElementsMatch(t, txs, got)

	// 决定的leaf写入了leaf store
	leaf, err := n.LeafStore().LoadLatestLeaf()
	require.NoError(t, err)
	assert.True(t, leaf.View >= last)
}

func TestSplitAndTrimEmpty(t *testing.T) {
	testCases := []struct {
		s        string
		sep      string
		cutset   string
		expected []string
	}{
		{"a,b,c", ",", " ", []string{"a", "b", "c"}},
		{" a , b , c ", ",", " ", []string{"a", "b", "c"}},
		{" a, ,b,c ", ",", " ", []string{"a", "b", "c"}},
		{"", ",", " ", []string{}},
		{"   ", ",", " ", []string{}},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, splitAndTrimEmpty(tc.s, tc.sep, tc.cutset), "%s", tc.s)
	}
}
