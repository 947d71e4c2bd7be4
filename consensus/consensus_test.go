package consensus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	cfg "vidbft/config"
	"vidbft/eventbus"
	mempl "vidbft/mempool"
	"vidbft/network"
	"vidbft/state"
	"vidbft/types"
	"vidbft/vid"
)

const testChainID = "CONSENSUS_TEST"

func getTestLogWithDebug() log.Logger {
	return log.NewFilter(log.TestingLogger(), log.AllowDebug())
}

func getTestLog() log.Logger {
	return log.TestingLogger()
}

// 生成指定数量的validator，第i个exchange持有第i个门限私钥份额
func newTestExchanges(count int) ([]*StaticExchange, *types.ValidatorSet) {
	vals, privs, dealer := types.RandValidatorSet(count, 100)
	exchanges := make([]*StaticExchange, count)
	for i := range privs {
		exchanges[i] = NewStaticExchange(testChainID, vals, privs[i], dealer.PubPoly())
	}
	return exchanges, vals
}

// leaderOf returns the exchange leading view.
func leaderOf(exchanges []*StaticExchange, view types.View) *StaticExchange {
	return exchanges[view.Mod(len(exchanges))]
}

func newTestBus(t *testing.T) *eventbus.EventBus {
	bus := eventbus.NewEventBus()
	bus.SetLogger(getTestLog())
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop() })
	return bus
}

func newTestMempool() *mempl.ListMempool {
	mempool := mempl.NewListMempool(cfg.TestConfig().Mempool)
	mempool.SetLogger(getTestLog())
	return mempool
}

func nextEvent(t *testing.T, sub *eventbus.Subscription, d time.Duration) types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err, "no event within %v", d)
	return ev
}

func assertNoEvent(t *testing.T, sub *eventbus.Subscription, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	ev, err := sub.Next(ctx)
	assert.Error(t, err, "unexpected event %v", ev)
}

func makeTxs(prefix string, n int) types.Txs {
	txs := make(types.Txs, n)
	for i := range txs {
		txs[i] = types.Tx(prefix + "-" + string(rune('a'+i)))
	}
	return txs
}

// makeProposal disperses txs the way a leader does and signs the result
// with leader.
func makeProposal(t *testing.T, leader *StaticExchange, view types.View, txs types.Txs) *types.DisperseProposal {
	scheme, err := vid.NewScheme(leader.SuccessThreshold(), leader.TotalNodes())
	require.NoError(t, err)
	dispersal, err := scheme.Disperse(txs.Encode())
	require.NoError(t, err)

	proposal := &types.DisperseProposal{
		Data: types.VidDisperse{
			View:              view,
			PayloadCommitment: types.CommitmentFromBytes(dispersal.Commitment),
			Shares:            dispersal.Shares,
			Common:            dispersal.Common,
		},
	}
	require.NoError(t, leader.SignProposal(proposal))
	return proposal
}

func makeVote(t *testing.T, ex *StaticExchange, view types.View, commitment types.Commitment) *types.Vote {
	token, err := ex.MakeVoteToken(view)
	require.NoError(t, err)
	vote, err := ex.CreateVote(types.VIDVote, view, commitment, token)
	require.NoError(t, err)
	return vote
}

// makeCertificate collects threshold votes of exchanges on the leader of view.
func makeCertificate(t *testing.T, exchanges []*StaticExchange, view types.View, commitment types.Commitment) *types.Certificate {
	leader := leaderOf(exchanges, view)
	acc := leader.NewAccumulator(types.VIDVote, view)
	for _, ex := range exchanges {
		cert, err := leader.Accumulate(acc, makeVote(t, ex, view, commitment), commitment)
		require.NoError(t, err)
		if cert != nil {
			return cert
		}
	}
	t.Fatal("threshold not reached")
	return nil
}

// recordingSink keeps every consensus intent.
type recordingSink struct {
	mtx     sync.Mutex
	intents []network.ConsensusIntentEvent
}

func (s *recordingSink) InjectConsensusInfo(intent network.ConsensusIntentEvent) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.intents = append(s.intents, intent)
}

func (s *recordingSink) Intents() []network.ConsensusIntentEvent {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]network.ConsensusIntentEvent(nil), s.intents...)
}

// loopback plays the network for a single validator: what it sends, it
// receives.
func loopback(ctx context.Context, bus *eventbus.EventBus) {
	sub := bus.Subscribe("loopback", eventbus.MatchKinds(
		types.EventVidDisperseSend, types.EventVidVoteSend))
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			switch ev := ev.(type) {
			case types.VidDisperseSendEvent:
				bus.Publish(types.VidDisperseRecvEvent{Proposal: ev.Proposal, Sender: ev.Sender})
			case types.VidVoteSendEvent:
				bus.Publish(types.VidVoteRecvEvent{Vote: ev.Vote})
			}
		}
	}()
}

func newTestConsensusState(t *testing.T, ex *StaticExchange) (*ConsensusState, *mempl.ListMempool) {
	config := cfg.ResetTestRoot("consensus_test")
	t.Cleanup(func() { os.RemoveAll(config.RootDir) })
	config.Consensus.StartTimeout = 10 * time.Millisecond
	config.Consensus.ProposeMaxRoundTime = 100 * time.Millisecond
	config.Consensus.ViewTimeout = 2 * time.Second

	mempool := newTestMempool()
	cs := NewConsensusState(config.Consensus, state.MakeGenesisState(testChainID), mempool, ex,
		SetIntentSink(&recordingSink{}))
	cs.SetLogger(getTestLogWithDebug())
	return cs, mempool
}

// 单节点的完整流程：提交交易 -> 提案 -> 投票 -> 证书 -> leaf被决定
func TestConsensusStateSingleValidatorDecides(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	exchanges, _ := newTestExchanges(1)
	cs, mempool := newTestConsensusState(t, exchanges[0])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopback(ctx, cs.EventBus())
	decided := cs.EventBus().Subscribe("test-decided", eventbus.MatchKinds(types.EventLeafDecided))

	require.NoError(t, cs.Start())
	txs := makeTxs("tx", 3)
	cs.SubmitTxs(txs)

	var got types.Txs
	for len(got) < len(txs) {
		ev := nextEvent(t, decided, 5*time.Second).(types.LeafDecidedEvent)
		require.Len(t, ev.Leaves, 1)
		got = append(got, ev.Leaves[0].Payload.Transactions...)
	}
	assert.Equal(t, txs, got)
	assert.Eventually(t, func() bool { return mempool.Size() == 0 }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, int64(cs.Ledger().LastDecidedView()), int64(1))
	assert.Contains(t, cs.Metric().JSONString(), "decided_view")

	require.NoError(t, cs.Stop())
	cancel()
	assert.Equal(t, 0, cs.registry.Size())
}

func TestConsensusStateViewChangesOnTimeout(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	exchanges, _ := newTestExchanges(4)
	// index 1 never gets its own proposals back, views only move on timeout
	cs, _ := newTestConsensusState(t, exchanges[1])
	cs.config.ViewTimeout = 50 * time.Millisecond
	views := cs.EventBus().Subscribe("test-views", eventbus.MatchKinds(types.EventViewChange))

	require.NoError(t, cs.Start())
	last := types.ViewZero
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, views, time.Second).(types.ViewChangeEvent)
		assert.Greater(t, int64(ev.View), int64(last))
		last = ev.View
	}
	require.NoError(t, cs.Stop())
}

// Stop在共识运行中调用时必须及时返回
func TestConsensusStateStopReturns(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	exchanges, _ := newTestExchanges(4)
	cs, _ := newTestConsensusState(t, exchanges[1])
	cs.config.ViewTimeout = 10 * time.Millisecond
	require.NoError(t, cs.Start())
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- cs.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ConsensusState.Stop did not return")
	}
	assert.False(t, cs.IsRunning())
	assert.Equal(t, 0, cs.registry.Size())
}

func TestStaticExchangeOwnsValidatorSet(t *testing.T) {
	vals, privs, dealer := types.RandValidatorSet(4, 100)
	ex := NewStaticExchange(testChainID, vals, privs[1], dealer.PubPoly())
	leader := ex.GetLeader(2)

	// the caller mutating its set does not change leader rotation
	vals.Validators[2], vals.Validators[3] = vals.Validators[3], vals.Validators[2]
	assert.True(t, leader.Equal(ex.GetLeader(2)))
	assert.Equal(t, int32(1), ex.Index())
}
