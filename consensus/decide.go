package consensus

import (
	"context"
	"time"

	"github.com/tendermint/tendermint/libs/log"

	"vidbft/eventbus"
	"vidbft/state"
	"vidbft/types"
	"vidbft/vid"
)

// DecideTask turns VID certificates into decided leaves.
//
// It remembers the payload of every recent view, from the leader's own
// BlockReady or by recovering the dispersed shares, and once a valid VID
// certificate for a view is observed the leaf of that view is decided on top
// of the current parent leaf.
type DecideTask struct {
	ledger      *state.LedgerState
	exchange    Exchange
	bus         *eventbus.EventBus
	retainViews int64
	metrics     *Metrics
	metric      *consensusMetric
	logger      log.Logger

	payloads map[types.View]map[types.Commitment]types.Txs
	pending  map[types.View]*types.Certificate
}

func NewDecideTask(ledger *state.LedgerState, exchange Exchange, bus *eventbus.EventBus, retainViews int64) *DecideTask {
	return &DecideTask{
		ledger:      ledger,
		exchange:    exchange,
		bus:         bus,
		retainViews: retainViews,
		metrics:     NopMetrics(),
		metric:      newConsensusMetric(),
		logger:      log.NewNopLogger(),
		payloads:    make(map[types.View]map[types.Commitment]types.Txs),
		pending:     make(map[types.View]*types.Certificate),
	}
}

func (task *DecideTask) SetLogger(l log.Logger) { task.logger = l }

func (task *DecideTask) SetMetrics(m *Metrics) { task.metrics = m }

func (task *DecideTask) setMetric(m *consensusMetric) { task.metric = m }

func (task *DecideTask) Filter() eventbus.Filter {
	return eventbus.MatchKinds(
		types.EventBlockReady,
		types.EventVidDisperseRecv,
		types.EventVidCertSend,
		types.EventVidCertRecv,
		types.EventShutdown,
	)
}

func (task *DecideTask) HandleEvent(ctx context.Context, ev types.Event) bool {
	switch ev := ev.(type) {
	case types.BlockReadyEvent:
		task.addPayload(ev.View, ev.Payload.PayloadCommitment, ev.Payload.Transactions)
	case types.VidDisperseRecvEvent:
		task.handleDisperse(ev.Proposal)
	case types.VidCertSendEvent:
		task.handleCertificate(ev.Certificate)
	case types.VidCertRecvEvent:
		task.handleCertificate(ev.Certificate)
	case types.ShutdownEvent:
		return true
	}
	return false
}

func (task *DecideTask) handleDisperse(p *types.DisperseProposal) {
	if p == nil || p.Data.View <= task.ledger.LastDecidedView() {
		return
	}
	if _, ok := task.payloads[p.Data.View][p.Data.PayloadCommitment]; ok {
		return
	}
	scheme, err := vid.NewScheme(p.Data.Common.NumChunks, p.Data.Common.NumShares)
	if err != nil {
		task.logger.Debug("bad vid parameters", "view", p.Data.View, "err", err)
		return
	}
	bz, err := scheme.Recover(p.Data.Shares, p.Data.Common, p.Data.PayloadCommitment.Bytes())
	if err != nil {
		task.logger.Debug("failed to recover payload", "view", p.Data.View, "err", err)
		return
	}
	txs, err := types.DecodeTxs(bz)
	if err != nil {
		task.logger.Error("failed to decode payload", "view", p.Data.View, "err", err)
		return
	}
	task.addPayload(p.Data.View, p.Data.PayloadCommitment, txs)
}

func (task *DecideTask) addPayload(view types.View, commitment types.Commitment, txs types.Txs) {
	byCommitment, ok := task.payloads[view]
	if !ok {
		byCommitment = make(map[types.Commitment]types.Txs)
		task.payloads[view] = byCommitment
	}
	byCommitment[commitment] = txs

	if cert, ok := task.pending[view]; ok && cert.Commitment == commitment {
		delete(task.pending, view)
		task.decide(cert, txs)
	}
}

func (task *DecideTask) handleCertificate(cert *types.Certificate) {
	if cert == nil || cert.Kind != types.VIDVote {
		task.logger.Error("received malformed vid certificate", "cert", cert)
		return
	}
	if cert.View <= task.ledger.LastDecidedView() {
		task.logger.Debug("ignore certificate of decided view", "view", cert.View)
		return
	}
	if !cert.IsValid(task.exchange) {
		task.logger.Error("received invalid vid certificate", "cert", cert)
		return
	}

	txs, ok := task.payloads[cert.View][cert.Commitment]
	if !ok {
		task.logger.Debug("certificate before payload", "view", cert.View)
		task.pending[cert.View] = cert
		return
	}
	task.decide(cert, txs)
}

func (task *DecideTask) decide(cert *types.Certificate, txs types.Txs) {
	parent, err := task.ledger.ParentLeaf()
	if err != nil {
		task.logger.Error("failed to find parent leaf", "view", cert.View, "err", err)
		return
	}
	leaf := &types.Leaf{
		View:             cert.View,
		Justify:          cert,
		ParentCommitment: parent.Commit(),
		Payload: types.BlockPayload{
			Transactions:      txs,
			PayloadCommitment: cert.Commitment,
		},
		Proposer:  task.exchange.GetLeader(cert.View),
		Timestamp: time.Now(),
	}

	decided, err := task.ledger.DecideLeaf(leaf, cert)
	if err != nil {
		// already applied in memory
		task.logger.Error("failed to persist leaf", "view", leaf.View, "err", err)
	}
	if !decided {
		return
	}

	task.logger.Info("decided leaf", "view", leaf.View, "txs", len(txs), "leaf", leaf.Commit())
	task.metrics.DecidedLeaves.Add(1)
	task.metric.MarkDecided(leaf.View, 1)
	task.bus.Publish(types.LeafDecidedEvent{Leaves: []*types.Leaf{leaf}})
	task.prune(leaf.View)
}

func (task *DecideTask) prune(decided types.View) {
	for v := range task.payloads {
		if v <= decided {
			delete(task.payloads, v)
		}
	}
	for v := range task.pending {
		if v <= decided {
			delete(task.pending, v)
		}
	}
	if task.retainViews > 0 && int64(decided) > task.retainViews {
		task.ledger.Prune(decided - types.View(task.retainViews))
	}
}
