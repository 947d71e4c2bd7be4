package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbft/eventbus"
	"vidbft/network"
	"vidbft/state"
	"vidbft/types"
)

func newTestVIDTask(t *testing.T, ex Exchange) (*VIDTask, *eventbus.EventBus, *eventbus.Registry, *recordingSink) {
	bus := newTestBus(t)
	registry := eventbus.NewRegistry()
	registry.SetLogger(getTestLog())
	t.Cleanup(registry.Shutdown)
	sink := &recordingSink{}
	task := NewVIDTask(state.MakeGenesisState(testChainID), ex, bus, registry, sink)
	task.SetLogger(getTestLogWithDebug())
	return task, bus, registry, sink
}

func TestVIDTaskVotesOnDisperse(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	replica := exchanges[1]
	task, bus, _, _ := newTestVIDTask(t, replica)
	votes := bus.Subscribe("votes", eventbus.MatchKinds(types.EventVidVoteSend))
	ctx := context.Background()

	task.HandleEvent(ctx, types.ViewChangeEvent{View: 6})
	leader := leaderOf(exchanges, 7)
	proposal := makeProposal(t, leader, 7, makeTxs("tx", 4))
	task.HandleEvent(ctx, types.VidDisperseRecvEvent{Proposal: proposal, Sender: leader.Address()})

	vote := nextEvent(t, votes, time.Second).(types.VidVoteSendEvent).Vote
	assert.Equal(t, types.VIDVote, vote.Kind)
	assert.Equal(t, types.View(7), vote.View)
	assert.Equal(t, proposal.Data.PayloadCommitment, vote.Commitment)
	assert.Equal(t, replica.Index(), vote.ValidatorIndex)
	assert.NoError(t, leader.ValidateVoteToken(vote))

	entry, ok := task.ledger.GetEntry(7)
	require.True(t, ok)
	assert.Equal(t, state.DAEntry, entry.Kind)
	assert.Equal(t, proposal.Data.PayloadCommitment, entry.BlockCommitment)
}

// stale disperse: 当前view为6时收到view 3的dispersal
func TestVIDTaskDropsStaleDisperse(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, bus, _, _ := newTestVIDTask(t, exchanges[1])
	votes := bus.Subscribe("votes", eventbus.MatchKinds(types.EventVidVoteSend))
	ctx := context.Background()

	task.HandleEvent(ctx, types.ViewChangeEvent{View: 6})
	leader := leaderOf(exchanges, 3)
	proposal := makeProposal(t, leader, 3, makeTxs("tx", 2))
	task.HandleEvent(ctx, types.VidDisperseRecvEvent{Proposal: proposal, Sender: leader.Address()})

	assertNoEvent(t, votes, 200*time.Millisecond)
	_, ok := task.ledger.GetEntry(3)
	assert.False(t, ok)
}

func TestVIDTaskRejectsBadDisperse(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, bus, _, _ := newTestVIDTask(t, exchanges[1])
	votes := bus.Subscribe("votes", eventbus.MatchKinds(types.EventVidVoteSend))
	ctx := context.Background()
	leader := leaderOf(exchanges, 2)

	testCases := map[string]func() types.VidDisperseRecvEvent{
		"not sent by leader": func() types.VidDisperseRecvEvent {
			p := makeProposal(t, exchanges[3], 2, makeTxs("tx", 2))
			return types.VidDisperseRecvEvent{Proposal: p, Sender: exchanges[3].Address()}
		},
		"bad signature": func() types.VidDisperseRecvEvent {
			p := makeProposal(t, exchanges[3], 2, makeTxs("tx", 2))
			return types.VidDisperseRecvEvent{Proposal: p, Sender: leader.Address()}
		},
		"replayed from another view": func() types.VidDisperseRecvEvent {
			// leaderOf(6) == leaderOf(2) with 4 validators
			p := makeProposal(t, leaderOf(exchanges, 6), 6, makeTxs("tx", 2))
			p.Data.View = 2
			return types.VidDisperseRecvEvent{Proposal: p, Sender: leader.Address()}
		},
		"tampered share": func() types.VidDisperseRecvEvent {
			p := makeProposal(t, leader, 2, makeTxs("tx", 2))
			p.Data.Shares[0].Data = append([]byte{}, p.Data.Shares[1].Data...)
			return types.VidDisperseRecvEvent{Proposal: p, Sender: leader.Address()}
		},
		"missing shares": func() types.VidDisperseRecvEvent {
			p := makeProposal(t, leader, 2, makeTxs("tx", 2))
			p.Data.Shares = p.Data.Shares[:1]
			return types.VidDisperseRecvEvent{Proposal: p, Sender: leader.Address()}
		},
	}
	for desc, mk := range testCases {
		task.HandleEvent(ctx, mk())
		_, ok := task.ledger.GetEntry(2)
		assert.False(t, ok, desc)
	}
	assertNoEvent(t, votes, 100*time.Millisecond)
}

func TestVIDTaskDisperseKeepsLeafEntry(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, _, _, _ := newTestVIDTask(t, exchanges[1])
	leader := leaderOf(exchanges, 2)

	leaf := &types.Leaf{View: 2, ParentCommitment: types.GenesisLeaf().Commit()}
	task.ledger.SaveLeaf(leaf)

	proposal := makeProposal(t, leader, 2, makeTxs("tx", 2))
	task.HandleEvent(context.Background(), types.VidDisperseRecvEvent{Proposal: proposal, Sender: leader.Address()})

	entry, ok := task.ledger.GetEntry(2)
	require.True(t, ok)
	assert.Equal(t, state.LeafEntry, entry.Kind)
	assert.Equal(t, leaf.Commit(), entry.LeafCommitment)
}

func TestVIDTaskCollectsVotesIntoCertificate(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	exchanges, _ := newTestExchanges(4)
	view := types.View(5)
	leader := leaderOf(exchanges, view)
	task, bus, registry, _ := newTestVIDTask(t, leader)
	certs := bus.Subscribe("certs", eventbus.MatchKinds(types.EventVidCertSend))
	ctx := context.Background()
	commitment := types.CommitmentOf([]byte("payload-5"))

	for _, ex := range exchanges {
		task.HandleEvent(ctx, types.VidVoteRecvEvent{Vote: makeVote(t, ex, view, commitment)})
	}

	cert := nextEvent(t, certs, 2*time.Second).(types.VidCertSendEvent).Certificate
	assert.Equal(t, view, cert.View)
	assert.True(t, cert.IsValid(leader))
	assertNoEvent(t, certs, 100*time.Millisecond)

	require.NotNil(t, task.collector)
	<-task.collector.Done
	assert.False(t, registry.IsRunning(task.collector.ID))

	// a late vote for the certified view goes nowhere
	task.HandleEvent(ctx, types.VidVoteRecvEvent{Vote: makeVote(t, exchanges[0], view, commitment)})
	assertNoEvent(t, certs, 100*time.Millisecond)
	assert.Equal(t, 0, registry.Size())
}

func TestVIDTaskSupersedesCollector(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	exchanges, _ := newTestExchanges(4)
	// exchanges[1] leads views 1, 5 and 9
	leader := exchanges[1]
	task, bus, registry, _ := newTestVIDTask(t, leader)
	certs := bus.Subscribe("certs", eventbus.MatchKinds(types.EventVidCertSend))
	ctx := context.Background()
	commitment := types.CommitmentOf([]byte("payload"))

	task.HandleEvent(ctx, types.VidVoteRecvEvent{Vote: makeVote(t, exchanges[0], 1, commitment)})
	first := task.collector
	require.NotNil(t, first)
	assert.Equal(t, types.View(1), first.view)

	task.HandleEvent(ctx, types.VidVoteRecvEvent{Vote: makeVote(t, exchanges[0], 5, commitment)})
	second := task.collector
	assert.Equal(t, types.View(5), second.view)
	assert.NotEqual(t, first.ID, second.ID)

	select {
	case <-first.Done:
	case <-time.After(time.Second):
		t.Fatal("superseded collector still running")
	}
	assert.True(t, registry.IsRunning(second.ID))

	// votes for the old view are dropped, the live collector stays
	task.HandleEvent(ctx, types.VidVoteRecvEvent{Vote: makeVote(t, exchanges[2], 1, commitment)})
	assert.Equal(t, second, task.collector)

	// a vote for a view this node does not lead is a protocol violation
	task.HandleEvent(ctx, types.VidVoteRecvEvent{Vote: makeVote(t, exchanges[2], 6, commitment)})
	assert.Equal(t, second, task.collector)
	assertNoEvent(t, certs, 100*time.Millisecond)

	task.HandleEvent(ctx, types.ShutdownEvent{})
	registry.Shutdown()
}

func TestVIDTaskViewChangeIntents(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, _, _, sink := newTestVIDTask(t, exchanges[3])
	ctx := context.Background()

	// exchanges[3] leads view 3 but not view 2
	task.HandleEvent(ctx, types.ViewChangeEvent{View: 1})
	task.HandleEvent(ctx, types.ViewChangeEvent{View: 2})
	task.HandleEvent(ctx, types.ViewChangeEvent{View: 2})

	assert.Equal(t, []network.ConsensusIntentEvent{
		{Kind: network.PollForVIDDisperse, View: 2},
		{Kind: network.PollForVIDCertificate, View: 2},
		{Kind: network.PollForVIDDisperse, View: 3},
		{Kind: network.PollForVIDCertificate, View: 3},
		{Kind: network.PollForVIDVotes, View: 3},
	}, sink.Intents())
	assert.Equal(t, types.View(2), task.CurrentView())
}

func TestVIDTaskViewJump(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, _, _, _ := newTestVIDTask(t, exchanges[1])
	metric := newConsensusMetric()
	task.setMetric(metric)
	ctx := context.Background()

	task.HandleEvent(ctx, types.ViewChangeEvent{View: 1})
	task.HandleEvent(ctx, types.ViewChangeEvent{View: 2})
	assert.Contains(t, metric.JSONString(), `"last_jumped_view":0`)

	task.HandleEvent(ctx, types.ViewChangeEvent{View: 5})
	assert.Equal(t, types.View(5), task.CurrentView())
	assert.Contains(t, metric.JSONString(), `"last_jumped_view":5`)
}
