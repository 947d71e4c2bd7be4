package consensus

import (
	"context"
	"errors"

	"github.com/tendermint/tendermint/libs/log"

	cstypes "vidbft/consensus/types"
	"vidbft/eventbus"
	"vidbft/network"
	"vidbft/types"
)

// IntentSink receives flow-control hints for the transport.
type IntentSink interface {
	InjectConsensusInfo(intent network.ConsensusIntentEvent)
}

// votePhase parameterizes VoteCollectionTask for one vote/certificate kind.
type votePhase struct {
	name string
	kind types.VoteKind
	// voteOf extracts the vote from an event of this phase.
	voteOf func(ev types.Event) (*types.Vote, bool)
	// certified builds the event announcing a formed certificate.
	certified func(cert *types.Certificate, sender types.Address) types.Event
	// cancelPoll is the intent sent once the certificate exists.
	cancelPoll network.ConsensusIntentKind
}

var vidVotePhase = &votePhase{
	name: "vid",
	kind: types.VIDVote,
	voteOf: func(ev types.Event) (*types.Vote, bool) {
		vr, ok := ev.(types.VidVoteRecvEvent)
		if !ok || vr.Vote == nil {
			return nil, false
		}
		return vr.Vote, true
	},
	certified: func(cert *types.Certificate, sender types.Address) types.Event {
		return types.VidCertSendEvent{Certificate: cert, Sender: sender}
	},
	cancelPoll: network.CancelPollForVIDVotes,
}

// collectorHandle is what the parent phase task keeps of its live collector.
type collectorHandle struct {
	view types.View
	eventbus.TaskHandle
}

// VoteCollectionTask 收集某个view的投票，达到阈值后生成证书
//
// Accumulating -> Certified, Certified is terminal. The task is owned by the
// phase task that spawned it and receives votes only by direct message.
type VoteCollectionTask struct {
	phase    *votePhase
	view     types.View
	step     cstypes.CollectorStep
	acc      *cstypes.VoteAccumulator
	cert     *types.Certificate
	exchange Exchange
	bus      *eventbus.EventBus
	intents  IntentSink
	metrics  *Metrics
	metric   *consensusMetric
	logger   log.Logger
}

func newVoteCollectionTask(
	phase *votePhase,
	view types.View,
	exchange Exchange,
	bus *eventbus.EventBus,
	intents IntentSink,
	metrics *Metrics,
	metric *consensusMetric,
	logger log.Logger,
) *VoteCollectionTask {
	return &VoteCollectionTask{
		phase:    phase,
		view:     view,
		step:     cstypes.CollectorAccumulating,
		acc:      exchange.NewAccumulator(phase.kind, view),
		exchange: exchange,
		bus:      bus,
		intents:  intents,
		metrics:  metrics,
		metric:   metric,
		logger:   logger.With("collector", phase.name, "view", view),
	}
}

func (task *VoteCollectionTask) Step() cstypes.CollectorStep { return task.step }

// Certificate returns the formed certificate, nil while accumulating.
func (task *VoteCollectionTask) Certificate() *types.Certificate { return task.cert }

func (task *VoteCollectionTask) HandleEvent(ctx context.Context, ev types.Event) bool {
	if ev.Kind() == types.EventShutdown {
		return true
	}
	vote, ok := task.phase.voteOf(ev)
	if !ok {
		task.logger.Error("vote collector received unexpected event", "event", ev.Kind())
		return false
	}

	if task.step == cstypes.CollectorCertified {
		task.logger.Debug("ignore vote, already certified", "vote", vote)
		return true
	}
	if ctx.Err() != nil {
		// cancelled: never publish a certificate after that
		return true
	}

	cert, err := task.exchange.Accumulate(task.acc, vote, vote.Commitment)
	switch {
	case errors.Is(err, cstypes.ErrDuplicateVote):
		task.logger.Debug("duplicate vote", "vote", vote)
		return false
	case err != nil:
		task.logger.Error("failed to accumulate vote", "vote", vote, "err", err)
		return false
	}
	task.metrics.VotesReceived.With("kind", task.phase.kind.String()).Add(1)
	if cert == nil {
		return false
	}

	task.logger.Info("formed certificate", "commitment", cert.Commitment, "votes", task.acc.Count())
	task.metrics.CertificatesFormed.With("kind", task.phase.kind.String()).Add(1)
	task.metric.MarkCertificate()
	task.bus.Publish(task.phase.certified(cert, task.exchange.Address()))
	task.intents.InjectConsensusInfo(network.ConsensusIntentEvent{Kind: task.phase.cancelPoll, View: task.view})
	task.cert = cert
	task.step = cstypes.CollectorCertified
	return true
}
