package consensus

import (
	"context"
	"sync"

	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	cfg "vidbft/config"
	"vidbft/eventbus"
	"vidbft/libs/metric"
	mempl "vidbft/mempool"
	"vidbft/network"
	"vidbft/state"
	"vidbft/types"
)

// ConsensusState 共识的入口
//
// It owns the event bus and the task registry, spawns the phase tasks on
// start, and drives them with ViewChange events from the ViewClock. A
// decided leaf moves the clock forward early.
type ConsensusState struct {
	service.BaseService

	config *cfg.ConsensusConfig

	ledger   *state.LedgerState
	mempool  mempl.Mempool
	exchange Exchange
	intents  IntentSink

	bus      *eventbus.EventBus
	registry *eventbus.Registry
	clock    *ViewClock

	txTask     *TransactionTask
	vidTask    *VIDTask
	decideTask *DecideTask

	metrics *Metrics
	metric  *consensusMetric

	ownBus bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ConsensusOption func(*ConsensusState)

// StateMetrics sets the metrics.
func StateMetrics(metrics *Metrics) ConsensusOption {
	return func(cs *ConsensusState) { cs.metrics = metrics }
}

// SetIntentSink sets where consensus intents go. They are dropped by default.
func SetIntentSink(intents IntentSink) ConsensusOption {
	return func(cs *ConsensusState) { cs.intents = intents }
}

// SetEventBus makes the consensus run on bus instead of its own.
func SetEventBus(bus *eventbus.EventBus) ConsensusOption {
	return func(cs *ConsensusState) { cs.bus = bus }
}

func NewConsensusState(
	config *cfg.ConsensusConfig,
	ledger *state.LedgerState,
	mempool mempl.Mempool,
	exchange Exchange,
	options ...ConsensusOption,
) *ConsensusState {
	cs := &ConsensusState{
		config:   config,
		ledger:   ledger,
		mempool:  mempool,
		exchange: exchange,
		intents:  nopIntentSink{},
		bus:      eventbus.NewEventBus(),
		registry: eventbus.NewRegistry(),
		clock:    NewViewClock(ledger.LastDecidedView()),
		metrics:  NopMetrics(),
		metric:   newConsensusMetric(),
	}
	cs.BaseService = *service.NewBaseService(nil, "CONSENSUS", cs)

	for _, opt := range options {
		opt(cs)
	}

	cs.txTask = NewTransactionTask(config, mempool, ledger, exchange, cs.bus)
	cs.txTask.SetMetrics(cs.metrics)
	cs.txTask.setMetric(cs.metric)
	cs.vidTask = NewVIDTask(ledger, exchange, cs.bus, cs.registry, cs.intents)
	cs.vidTask.SetMetrics(cs.metrics)
	cs.vidTask.setMetric(cs.metric)
	cs.decideTask = NewDecideTask(ledger, exchange, cs.bus, config.RetainViews)
	cs.decideTask.SetMetrics(cs.metrics)
	cs.decideTask.setMetric(cs.metric)

	return cs
}

func (cs *ConsensusState) SetLogger(logger log.Logger) {
	cs.Logger = logger
	cs.bus.SetLogger(logger.With("module", "eventbus"))
	cs.registry.SetLogger(logger.With("module", "registry"))
	cs.clock.SetLogger(logger.With("module", "viewclock"))
	cs.txTask.SetLogger(logger.With("task", "transactions"))
	cs.vidTask.SetLogger(logger.With("task", "vid"))
	cs.decideTask.SetLogger(logger.With("task", "decide"))
}

func (cs *ConsensusState) OnStart() error {
	if !cs.bus.IsRunning() {
		if err := cs.bus.Start(); err != nil {
			return err
		}
		cs.ownBus = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel

	eventbus.Spawn(ctx, cs.bus, cs.registry, "transactions", cs.txTask.Filter(), cs.txTask)
	eventbus.Spawn(ctx, cs.bus, cs.registry, "vid", cs.vidTask.Filter(), cs.vidTask)
	eventbus.Spawn(ctx, cs.bus, cs.registry, "decide", cs.decideTask.Filter(), cs.decideTask)

	decided := cs.bus.Subscribe("consensus-decided", eventbus.MatchKinds(types.EventLeafDecided))
	cs.wg.Add(2)
	go cs.decidedRoutine(ctx, decided)
	go cs.receiveRoutine(ctx)

	if err := cs.clock.Start(); err != nil {
		return err
	}
	cs.clock.ResetClock(cs.config.StartTimeout)
	cs.Logger.Info("consensus started", "view", cs.clock.GetView(), "address", cs.exchange.Address())
	return nil
}

func (cs *ConsensusState) OnStop() {
	cs.bus.Publish(types.ShutdownEvent{})
	cs.registry.Shutdown()
	if cs.cancel != nil {
		cs.cancel()
	}
	if err := cs.clock.Stop(); err != nil {
		cs.Logger.Error("failed trying to stop view clock", "err", err)
	}
	cs.wg.Wait()
	if cs.ownBus {
		if err := cs.bus.Stop(); err != nil {
			cs.Logger.Error("failed trying to stop event bus", "err", err)
		}
	}
	cs.Logger.Info("consensus stopped")
}

// receiveRoutine turns clock timeouts into ViewChange events. It exits when
// ctx is cancelled in OnStop; Quit() is closed only after OnStop returns.
func (cs *ConsensusState) receiveRoutine(ctx context.Context) {
	defer cs.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ti := <-cs.clock.Chan():
			cs.enterNewView(ti.View)
		}
	}
}

func (cs *ConsensusState) enterNewView(view types.View) {
	leader := cs.exchange.GetLeader(view.Next())
	cs.Logger.Info("enter new view", "view", view, "next_leader", leader)
	cs.metrics.View.Set(float64(view))
	cs.metric.MarkView(view, leader, cs.exchange.IsLeader(view.Next()))

	cs.clock.ResetClock(cs.config.ViewTimeout)
	cs.bus.Publish(types.ViewChangeEvent{View: view})
}

// decidedRoutine advances the clock once a leaf ahead of it is decided.
func (cs *ConsensusState) decidedRoutine(ctx context.Context, sub *eventbus.Subscription) {
	defer cs.wg.Done()
	defer cs.bus.Unsubscribe(sub)
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		decided, ok := ev.(types.LeafDecidedEvent)
		if !ok || len(decided.Leaves) == 0 {
			continue
		}
		if view := decided.Leaves[0].View; view > cs.clock.GetView() {
			cs.clock.AdvanceTo(view)
		}
	}
}

// SubmitTxs hands transactions received from clients or peers to the
// transaction task.
func (cs *ConsensusState) SubmitTxs(txs types.Txs) {
	if len(txs) == 0 {
		return
	}
	cs.bus.Publish(types.TransactionsRecvEvent{Txs: txs})
}

func (cs *ConsensusState) EventBus() *eventbus.EventBus { return cs.bus }

func (cs *ConsensusState) Ledger() *state.LedgerState { return cs.ledger }

func (cs *ConsensusState) Exchange() Exchange { return cs.exchange }

// CurrentView returns the view the transaction task last moved to.
func (cs *ConsensusState) CurrentView() types.View {
	return cs.txTask.CurrentView()
}

func (cs *ConsensusState) OutstandingTransactions() int {
	return cs.mempool.Size()
}

func (cs *ConsensusState) OutstandingTransactionsBytes() int64 {
	return cs.mempool.TxsBytes()
}

// Metric returns the JSON snapshot of the consensus.
func (cs *ConsensusState) Metric() metric.MetricItem {
	return cs.metric
}

type nopIntentSink struct{}

func (nopIntentSink) InjectConsensusInfo(network.ConsensusIntentEvent) {}
