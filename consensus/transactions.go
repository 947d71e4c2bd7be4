package consensus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendermint/tendermint/libs/log"

	cfg "vidbft/config"
	"vidbft/eventbus"
	mempl "vidbft/mempool"
	"vidbft/state"
	"vidbft/types"
	"vidbft/vid"
)

// TransactionTask 交易阶段任务
//
// It keeps the mempool in step with decided leaves, and when the node leads
// the next view it batches pending transactions, disperses them, and
// publishes the payload.
type TransactionTask struct {
	config   *cfg.ConsensusConfig
	mempool  mempl.Mempool
	ledger   *state.LedgerState
	exchange Exchange
	bus      *eventbus.EventBus
	metrics  *Metrics
	metric   *consensusMetric
	logger   log.Logger

	curView int64 // atomic

	// decided transactions not (yet) received, keyed to their decided view.
	// owned by the task goroutine
	seenNotHeld map[types.Commitment]types.View

	// leader duty of the latest view, if any
	dutyCancel context.CancelFunc
	dutyWG     sync.WaitGroup
}

func NewTransactionTask(
	config *cfg.ConsensusConfig,
	mempool mempl.Mempool,
	ledger *state.LedgerState,
	exchange Exchange,
	bus *eventbus.EventBus,
) *TransactionTask {
	return &TransactionTask{
		config:      config,
		mempool:     mempool,
		ledger:      ledger,
		exchange:    exchange,
		bus:         bus,
		metrics:     NopMetrics(),
		metric:      newConsensusMetric(),
		logger:      log.NewNopLogger(),
		curView:     int64(types.ViewZero),
		seenNotHeld: make(map[types.Commitment]types.View),
	}
}

func (task *TransactionTask) SetLogger(l log.Logger) { task.logger = l }

func (task *TransactionTask) SetMetrics(m *Metrics) { task.metrics = m }

func (task *TransactionTask) setMetric(m *consensusMetric) { task.metric = m }

// Filter selects the events the task consumes.
func (task *TransactionTask) Filter() eventbus.Filter {
	return eventbus.MatchKinds(
		types.EventTransactionsRecv,
		types.EventLeafDecided,
		types.EventViewChange,
		types.EventShutdown,
	)
}

// CurrentView returns the latest view the task accepted.
func (task *TransactionTask) CurrentView() types.View {
	return types.View(atomic.LoadInt64(&task.curView))
}

func (task *TransactionTask) HandleEvent(ctx context.Context, ev types.Event) bool {
	switch ev := ev.(type) {
	case types.TransactionsRecvEvent:
		task.handleTransactions(ev.Txs)
	case types.LeafDecidedEvent:
		task.handleLeafDecided(ev.Leaves)
	case types.ViewChangeEvent:
		task.handleViewChange(ctx, ev.View)
	case types.ShutdownEvent:
		task.stopDuty()
		return true
	default:
		task.logger.Error("transaction task received unexpected event", "event", ev.Kind())
	}
	return false
}

func (task *TransactionTask) handleTransactions(txs types.Txs) {
	for _, tx := range txs {
		key := tx.Commit()
		if _, ok := task.seenNotHeld[key]; ok {
			// 已经被决定过了
			delete(task.seenNotHeld, key)
			continue
		}
		err := task.mempool.CheckTx(tx, mempl.TxInfo{})
		if err != nil && !errors.Is(err, mempl.ErrTxInMap) {
			task.logger.Debug("rejected transaction", "tx", key, "err", err)
		}
	}
	task.updateOutstanding()
}

func (task *TransactionTask) handleLeafDecided(leaves []*types.Leaf) {
	var (
		decided []types.Commitment
		view    = types.ViewZero
	)
	for _, leaf := range leaves {
		decided = append(decided, leaf.Payload.Transactions.Commitments()...)
		if leaf.View > view {
			view = leaf.View
		}
	}
	if len(decided) == 0 {
		return
	}

	task.mempool.Lock()
	removed := task.mempool.Update(view, decided)
	task.mempool.Unlock()

	held := make(map[types.Commitment]struct{}, len(removed))
	for _, key := range removed {
		held[key] = struct{}{}
	}
	for _, key := range decided {
		if _, ok := held[key]; !ok {
			task.seenNotHeld[key] = view
		}
	}
	task.pruneSeen(view)
	task.updateOutstanding()
}

// pruneSeen forgets decided-but-unseen transactions that fell out of the
// retained window, the same window DecideTask keeps in the ledger.
func (task *TransactionTask) pruneSeen(decided types.View) {
	retain := task.config.RetainViews
	if retain <= 0 || int64(decided) <= retain {
		return
	}
	floor := decided - types.View(retain)
	for key, view := range task.seenNotHeld {
		if view < floor {
			delete(task.seenNotHeld, key)
		}
	}
}

func (task *TransactionTask) updateOutstanding() {
	num, size := task.mempool.Size(), task.mempool.TxsBytes()
	task.metrics.OutstandingTransactions.Set(float64(num))
	task.metrics.OutstandingTransactionsBytes.Set(float64(size))
	task.metrics.SeenNotHeld.Set(float64(len(task.seenNotHeld)))
	task.metric.MarkOutstanding(num, size)
}

func (task *TransactionTask) handleViewChange(ctx context.Context, view types.View) {
	cur := task.CurrentView()
	if view <= cur {
		task.logger.Debug("ignore stale view change", "view", view, "current", cur)
		return
	}
	if view > cur.Next() {
		task.logger.Info("view jumped", "from", cur, "to", view)
		task.metrics.ViewJumps.With("task", "transactions").Add(1)
		task.metric.MarkJump(view)
	}
	atomic.StoreInt64(&task.curView, int64(view))
	task.stopDuty()

	next := view.Next()
	if !task.exchange.IsLeader(next) {
		return
	}

	dutyCtx, cancel := context.WithCancel(ctx)
	task.dutyCancel = cancel
	task.dutyWG.Add(1)
	go func() {
		defer task.dutyWG.Done()
		if !task.proposeView(dutyCtx, next) {
			task.metrics.MissedLeaderViews.Add(1)
			task.metric.MarkMissed()
		}
	}()
}

// stopDuty cancels the running leader duty and waits for it.
func (task *TransactionTask) stopDuty() {
	if task.dutyCancel != nil {
		task.dutyCancel()
		task.dutyCancel = nil
	}
	task.dutyWG.Wait()
}

// proposeView builds, disperses, and publishes the payload of view. It
// returns false if nothing was published.
func (task *TransactionTask) proposeView(ctx context.Context, view types.View) bool {
	logger := task.logger.With("view", view)

	parent, err := task.ledger.ParentLeaf()
	if err != nil {
		logger.Error("failed to find parent leaf, skip leader duty", "err", err)
		return false
	}

	txs, err := task.waitForTransactions(ctx)
	if err != nil {
		logger.Error("failed to wait for transactions", "err", err)
		return false
	}

	numStorageNodes := task.config.NumStorageNodes
	if numStorageNodes == 0 {
		numStorageNodes = task.exchange.TotalNodes()
	}
	scheme, err := vid.NewScheme(task.exchange.SuccessThreshold(), numStorageNodes)
	if err != nil {
		logger.Error("failed to build vid scheme", "err", err)
		return false
	}
	dispersal, err := scheme.Disperse(txs.Encode())
	if err != nil {
		logger.Error("failed to disperse payload", "err", err)
		return false
	}

	payload := types.NewBlockPayload(txs)
	payload.PayloadCommitment = types.CommitmentFromBytes(dispersal.Commitment)
	proposal := &types.DisperseProposal{
		Data: types.VidDisperse{
			View:              view,
			PayloadCommitment: payload.PayloadCommitment,
			Shares:            dispersal.Shares,
			Common:            dispersal.Common,
		},
	}
	if err := task.exchange.SignProposal(proposal); err != nil {
		logger.Error("failed to sign disperse proposal", "err", err)
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	logger.Info("propose payload", "txs", len(txs), "commitment", payload.PayloadCommitment, "parent", parent.Commit())
	task.metrics.PayloadTxs.Observe(float64(len(txs)))
	task.metric.MarkPayload(view, len(txs))
	task.bus.Publish(types.BlockReadyEvent{View: view, Payload: payload, Parent: parent.Commit()})
	task.bus.Publish(types.VidDisperseSendEvent{Proposal: proposal, Sender: task.exchange.Address()})
	return true
}

// waitForTransactions waits until the mempool holds MinTransactions or
// ProposeMaxRoundTime has passed, then returns every pending transaction in
// arrival order. An error means the leader duty must be dropped.
func (task *TransactionTask) waitForTransactions(ctx context.Context) (types.Txs, error) {
	start := time.Now()
	sub := task.mempool.Subscribe()
	for {
		if task.mempool.Size() >= task.config.MinTransactions {
			break
		}
		remaining := task.config.ProposeMaxRoundTime - time.Since(start)
		if remaining <= 0 {
			break
		}

		waitCtx, cancel := context.WithTimeout(ctx, remaining)
		err := sub.Recv(waitCtx)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		return nil, err
	}
	return task.mempool.ReapMaxTxs(-1), nil
}
