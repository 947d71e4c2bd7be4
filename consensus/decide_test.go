package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidbft/eventbus"
	"vidbft/state"
	"vidbft/types"
)

func newTestDecideTask(t *testing.T, ex Exchange) (*DecideTask, *eventbus.Subscription) {
	bus := newTestBus(t)
	decided := bus.Subscribe("decided", eventbus.MatchKinds(types.EventLeafDecided))
	task := NewDecideTask(state.MakeGenesisState(testChainID), ex, bus, 0)
	task.SetLogger(getTestLogWithDebug())
	return task, decided
}

func TestDecideTaskLeaderPayload(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	view := types.View(1)
	leader := leaderOf(exchanges, view)
	task, decided := newTestDecideTask(t, leader)
	ctx := context.Background()

	txs := makeTxs("tx", 3)
	proposal := makeProposal(t, leader, view, txs)
	payload := types.BlockPayload{Transactions: txs, PayloadCommitment: proposal.Data.PayloadCommitment}
	task.HandleEvent(ctx, types.BlockReadyEvent{View: view, Payload: payload, Parent: types.GenesisLeaf().Commit()})

	cert := makeCertificate(t, exchanges, view, payload.PayloadCommitment)
	task.HandleEvent(ctx, types.VidCertSendEvent{Certificate: cert, Sender: leader.Address()})

	ev := nextEvent(t, decided, time.Second).(types.LeafDecidedEvent)
	require.Len(t, ev.Leaves, 1)
	leaf := ev.Leaves[0]
	assert.Equal(t, view, leaf.View)
	assert.Equal(t, txs, leaf.Payload.Transactions)
	assert.Equal(t, types.GenesisLeaf().Commit(), leaf.ParentCommitment)
	assert.True(t, leader.Address().Equal(leaf.Proposer))

	assert.Equal(t, view, task.ledger.LastDecidedView())
	assert.Equal(t, view, task.ledger.HighCertificate().View)
	parent, err := task.ledger.ParentLeaf()
	require.NoError(t, err)
	assert.Equal(t, leaf.Commit(), parent.Commit())

	// the same certificate again changes nothing
	task.HandleEvent(ctx, types.VidCertRecvEvent{Certificate: cert})
	assertNoEvent(t, decided, 100*time.Millisecond)
}

func TestDecideTaskRecoversDispersedPayload(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, decided := newTestDecideTask(t, exchanges[0])
	ctx := context.Background()

	// certificate first, payload later
	view := types.View(2)
	leader := leaderOf(exchanges, view)
	txs := makeTxs("tx", 5)
	proposal := makeProposal(t, leader, view, txs)
	cert := makeCertificate(t, exchanges, view, proposal.Data.PayloadCommitment)

	task.HandleEvent(ctx, types.VidCertRecvEvent{Certificate: cert})
	assertNoEvent(t, decided, 50*time.Millisecond)
	assert.Contains(t, task.pending, view)

	task.HandleEvent(ctx, types.VidDisperseRecvEvent{Proposal: proposal, Sender: leader.Address()})
	ev := nextEvent(t, decided, time.Second).(types.LeafDecidedEvent)
	assert.Equal(t, txs, ev.Leaves[0].Payload.Transactions)
	assert.Empty(t, task.pending)
	assert.Empty(t, task.payloads)
}

func TestDecideTaskRejectsInvalidCertificate(t *testing.T) {
	exchanges, _ := newTestExchanges(4)
	task, decided := newTestDecideTask(t, exchanges[0])
	ctx := context.Background()

	view := types.View(1)
	proposal := makeProposal(t, leaderOf(exchanges, view), view, makeTxs("tx", 1))
	task.HandleEvent(ctx, types.VidDisperseRecvEvent{Proposal: proposal})

	cert := makeCertificate(t, exchanges, view, proposal.Data.PayloadCommitment)
	forged := cert.Copy()
	forged.Signature[len(forged.Signature)-1] ^= 0xFF
	task.HandleEvent(ctx, types.VidCertRecvEvent{Certificate: forged})

	wrongKind := cert.Copy()
	wrongKind.Kind = types.DAVote
	task.HandleEvent(ctx, types.VidCertRecvEvent{Certificate: wrongKind})

	assertNoEvent(t, decided, 100*time.Millisecond)
	assert.Equal(t, types.ViewZero, task.ledger.LastDecidedView())
}
