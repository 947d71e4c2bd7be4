package consensus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tendermint/tendermint/libs/log"

	"vidbft/eventbus"
	"vidbft/network"
	"vidbft/state"
	"vidbft/types"
	"vidbft/vid"
)

// VIDTask VID阶段任务
//
// Replicas check and vote on the leader's dispersal; the leader of a view
// spawns one VoteCollectionTask per view to turn those votes into a VID
// certificate.
type VIDTask struct {
	ledger   *state.LedgerState
	exchange Exchange
	bus      *eventbus.EventBus
	registry *eventbus.Registry
	intents  IntentSink
	metrics  *Metrics
	metric   *consensusMetric
	logger   log.Logger

	curView int64 // atomic

	// the live (or last) collector, owned by the task goroutine
	collector *collectorHandle
}

func NewVIDTask(
	ledger *state.LedgerState,
	exchange Exchange,
	bus *eventbus.EventBus,
	registry *eventbus.Registry,
	intents IntentSink,
) *VIDTask {
	return &VIDTask{
		ledger:   ledger,
		exchange: exchange,
		bus:      bus,
		registry: registry,
		intents:  intents,
		metrics:  NopMetrics(),
		metric:   newConsensusMetric(),
		logger:   log.NewNopLogger(),
		curView:  int64(types.ViewZero),
	}
}

func (task *VIDTask) SetLogger(l log.Logger) { task.logger = l }

func (task *VIDTask) SetMetrics(m *Metrics) { task.metrics = m }

func (task *VIDTask) setMetric(m *consensusMetric) { task.metric = m }

func (task *VIDTask) Filter() eventbus.Filter {
	return eventbus.MatchKinds(
		types.EventVidVoteRecv,
		types.EventVidDisperseRecv,
		types.EventVidCertRecv,
		types.EventViewChange,
		types.EventShutdown,
	)
}

func (task *VIDTask) CurrentView() types.View {
	return types.View(atomic.LoadInt64(&task.curView))
}

func (task *VIDTask) HandleEvent(ctx context.Context, ev types.Event) bool {
	switch ev := ev.(type) {
	case types.VidVoteRecvEvent:
		task.handleVote(ctx, ev)
	case types.VidDisperseRecvEvent:
		task.handleDisperse(ev)
	case types.VidCertRecvEvent:
		// leaf decision is made by DecideTask
		task.logger.Debug("received vid certificate", "cert", ev.Certificate)
	case types.ViewChangeEvent:
		task.handleViewChange(ev.View)
	case types.ShutdownEvent:
		return true
	default:
		task.logger.Error("vid task received unexpected event", "event", ev.Kind())
	}
	return false
}

func (task *VIDTask) handleVote(ctx context.Context, ev types.VidVoteRecvEvent) {
	vote := ev.Vote
	if vote == nil || vote.Kind != types.VIDVote {
		task.logger.Error("received malformed vid vote", "vote", vote)
		return
	}
	view := vote.View
	if !task.exchange.IsLeader(view) {
		task.logger.Error("received vid vote but not leader", "view", view, "from", vote.ValidatorAddress)
		return
	}

	if c := task.collector; c != nil {
		switch {
		case view < c.view:
			task.logger.Debug("drop vote for old view", "view", view, "collector", c.view)
			return
		case view == c.view:
			if !task.bus.DirectMessage(c.StreamID, ev) {
				task.logger.Debug("collector already finished", "view", view)
			}
			return
		default:
			task.registry.ShutdownTask(c.ID)
		}
	}

	collector := newVoteCollectionTask(vidVotePhase, view, task.exchange, task.bus, task.intents, task.metrics, task.metric, task.logger)
	handle := eventbus.Spawn(ctx, task.bus, task.registry,
		fmt.Sprintf("vid-collector/%v", view), eventbus.MatchKinds(types.EventShutdown), collector)
	task.collector = &collectorHandle{view: view, TaskHandle: handle}
	task.bus.DirectMessage(handle.StreamID, ev)
}

func (task *VIDTask) handleDisperse(ev types.VidDisperseRecvEvent) {
	proposal := ev.Proposal
	if err := proposal.ValidateBasic(); err != nil {
		task.logger.Error("received invalid disperse proposal", "err", err)
		return
	}
	view := proposal.Data.View
	if cur := task.CurrentView(); view.Next() < cur {
		task.logger.Debug("drop stale disperse proposal", "view", view, "current", cur)
		return
	}

	logger := task.logger.With("view", view, "sender", ev.Sender)
	if leader := task.exchange.GetLeader(view); !leader.Equal(ev.Sender) {
		logger.Error("disperse proposal not sent by leader", "leader", leader)
		return
	}
	if err := task.exchange.VerifyProposal(ev.Sender, proposal); err != nil {
		logger.Error("invalid disperse proposal signature", "err", err)
		return
	}
	if err := verifyDisperse(&proposal.Data); err != nil {
		logger.Error("invalid vid dispersal", "err", err)
		return
	}

	commitment := proposal.Data.PayloadCommitment
	token, err := task.exchange.MakeVoteToken(view)
	switch {
	case err != nil:
		logger.Error("failed to make vote token", "err", err)
	case token == nil:
		logger.Debug("not selected to vote")
	default:
		vote, err := task.exchange.CreateVote(types.VIDVote, view, commitment, token)
		if err != nil {
			logger.Error("failed to sign vid vote", "err", err)
			break
		}
		task.bus.Publish(types.VidVoteSendEvent{Vote: vote})
	}

	task.ledger.InsertIfAbsentOrRicher(view, state.NewDAEntry(commitment))
}

// verifyDisperse checks every share against the payload commitment.
func verifyDisperse(d *types.VidDisperse) error {
	scheme, err := vid.NewScheme(d.Common.NumChunks, d.Common.NumShares)
	if err != nil {
		return err
	}
	if scheme.NumShares() != d.Common.NumShares {
		return vid.ErrInconsistentCommon
	}
	for _, share := range d.Shares {
		if err := scheme.VerifyShare(share, d.Common, d.PayloadCommitment.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (task *VIDTask) handleViewChange(view types.View) {
	cur := task.CurrentView()
	if view <= cur {
		task.logger.Debug("ignore stale view change", "view", view, "current", cur)
		return
	}
	if view > cur.Next() {
		task.logger.Info("view jumped", "from", cur, "to", view)
		task.metrics.ViewJumps.With("task", "vid").Add(1)
		task.metric.MarkJump(view)
	}
	atomic.StoreInt64(&task.curView, int64(view))

	next := view.Next()
	task.intents.InjectConsensusInfo(network.ConsensusIntentEvent{Kind: network.PollForVIDDisperse, View: next})
	task.intents.InjectConsensusInfo(network.ConsensusIntentEvent{Kind: network.PollForVIDCertificate, View: next})
	if task.exchange.IsLeader(next) {
		task.intents.InjectConsensusInfo(network.ConsensusIntentEvent{Kind: network.PollForVIDVotes, View: next})
	}
}
