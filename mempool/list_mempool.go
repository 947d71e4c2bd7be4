package mempool

import (
	"context"
	"sync"
	"sync/atomic"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"

	"vidbft/libs/metric"
	"vidbft/types"
)

func NewListMempool(config *cfg.MempoolConfig, options ...ListMempoolOption) *ListMempool {
	mem := &ListMempool{
		config:  config,
		txs:     clist.New(),
		changed: make(chan struct{}),
		metric:  newMemMetric(),
		metrics: NopMetrics(),
		logger:  log.NewNopLogger(),
	}

	for _, option := range options {
		option(mem)
	}

	return mem
}

// ListMempool keeps pending transactions in a concurrent linked list, in the
// order they arrived, with a commitment-keyed index for fast lookups.
type ListMempool struct {
	// Atomic integers
	view     int64 // the last view Update()'d to
	txsBytes int64 // total size of mempool, in bytes

	config *cfg.MempoolConfig

	updateMtx sync.RWMutex
	addMtx    sync.Mutex
	preCheck  PreCheckFunc

	txs    *clist.CList
	txsMap sync.Map

	// change notification: version is bumped and changed is closed and
	// replaced on every mutation
	notifyMtx sync.Mutex
	version   uint64
	changed   chan struct{}
	closed    bool

	metric  *memMetric
	metrics *Metrics

	logger log.Logger
}

type ListMempoolOption func(memppol *ListMempool)

func SetPreCheck(precheck PreCheckFunc) ListMempoolOption {
	return func(mem *ListMempool) {
		mem.preCheck = precheck
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) ListMempoolOption {
	return func(mem *ListMempool) { mem.metrics = metrics }
}

func (mem *ListMempool) SetLogger(logger log.Logger) {
	mem.logger = logger
}

// CheckTx adds tx to the end of the mempool.
func (mem *ListMempool) CheckTx(tx types.Tx, txinfo TxInfo) error {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	if mem.preCheck != nil {
		if err := mem.preCheck(tx); err != nil {
			mem.metrics.FailedTxs.Add(1)
			mem.metric.markRejected()
			return ErrPreCheck{err}
		}
	}

	var (
		memSize  = mem.Size()
		txsBytes = mem.TxsBytes()
		txSize   = tx.Size()
	)
	if mem.config != nil {
		if memSize >= mem.config.Size || txSize+txsBytes > mem.config.MaxTxsBytes {
			mem.metrics.FailedTxs.Add(1)
			mem.metric.markRejected()
			return ErrMempoolIsFull{
				NumTxs:      memSize,
				MaxTxs:      mem.config.Size,
				TxsBytes:    txsBytes,
				MaxTxsBytes: mem.config.MaxTxsBytes,
			}
		}
		if int64(mem.config.MaxTxBytes) > 0 && txSize > int64(mem.config.MaxTxBytes) {
			mem.metrics.FailedTxs.Add(1)
			mem.metric.markRejected()
			return ErrTxTooLarge{Max: int64(mem.config.MaxTxBytes), Actual: txSize}
		}
	}

	key := TxKey(tx)
	memTx := &mempoolTx{
		view: atomic.LoadInt64(&mem.view),
		tx:   tx,
	}
	memTx.senders.Store(txinfo.SenderID, struct{}{})

	mem.addMtx.Lock()
	if _, ok := mem.txsMap.Load(key); ok {
		mem.addMtx.Unlock()
		return ErrTxInMap
	}
	e := mem.txs.PushBack(memTx)
	mem.txsMap.Store(key, e)
	atomic.AddInt64(&mem.txsBytes, txSize)
	mem.addMtx.Unlock()
	mem.metrics.TxSizeBytes.Observe(float64(txSize))

	mem.logger.Debug("added tx", "tx", key, "sender", txinfo.SenderP2PID, "size", mem.Size())
	mem.markChanged()
	return nil
}

// Has implements Mempool.
func (mem *ListMempool) Has(key types.Commitment) bool {
	_, ok := mem.txsMap.Load(key)
	return ok
}

// ReapTxs implements Mempool.
func (mem *ListMempool) ReapTxs(maxBytes int64) types.Txs {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	var totalBytes int64
	txs := make(types.Txs, 0, mem.txs.Len())
	for e := mem.txs.Front(); e != nil; e = e.Next() {
		memTx := e.Value.(*mempoolTx)
		if maxBytes > -1 && totalBytes+memTx.tx.Size() > maxBytes {
			return txs
		}
		totalBytes += memTx.tx.Size()
		txs = append(txs, memTx.tx)
	}
	return txs
}

// ReapMaxTxs implements Mempool.
func (mem *ListMempool) ReapMaxTxs(max int) types.Txs {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	if max < 0 {
		max = mem.txs.Len()
	}

	txs := make(types.Txs, 0, max)
	for e := mem.txs.Front(); e != nil && len(txs) < max; e = e.Next() {
		memTx := e.Value.(*mempoolTx)
		txs = append(txs, memTx.tx)
	}
	return txs
}

// Lock 锁定mempool的updateMtx读写锁的写锁
func (mem *ListMempool) Lock() {
	mem.updateMtx.Lock()
}

// Unlock 释放mempool的updateMtx读写锁的写锁
func (mem *ListMempool) Unlock() {
	mem.updateMtx.Unlock()
}

// Update implements Mempool.
func (mem *ListMempool) Update(view types.View, decided []types.Commitment) []types.Commitment {
	atomic.StoreInt64(&mem.view, int64(view))

	removed := make([]types.Commitment, 0, len(decided))
	for _, key := range decided {
		if mem.removeTx(key) {
			removed = append(removed, key)
		}
	}
	if len(removed) > 0 {
		mem.metrics.DecidedTxs.Add(float64(len(removed)))
		mem.metric.markDecided(int64(view), len(removed))
		mem.markChanged()
	}
	return removed
}

// Flush implements Mempool.
func (mem *ListMempool) Flush() {
	mem.updateMtx.Lock()
	defer mem.updateMtx.Unlock()

	atomic.StoreInt64(&mem.txsBytes, 0)
	for e := mem.txs.Front(); e != nil; e = e.Next() {
		mem.txs.Remove(e)
		e.DetachPrev()
	}
	mem.txsMap.Range(func(key, _ interface{}) bool {
		mem.txsMap.Delete(key)
		return true
	})
	mem.markChanged()
}

func (mem *ListMempool) Size() int {
	return mem.txs.Len()
}

func (mem *ListMempool) TxsBytes() int64 {
	return atomic.LoadInt64(&mem.txsBytes)
}

// removeTx 将交易从双向链表和快速查询表txMap中删除
func (mem *ListMempool) removeTx(key types.Commitment) bool {
	v, ok := mem.txsMap.LoadAndDelete(key)
	if !ok {
		return false
	}
	e := v.(*clist.CElement)
	memTx := e.Value.(*mempoolTx)
	mem.txs.Remove(e)
	e.DetachPrev()
	atomic.AddInt64(&mem.txsBytes, -memTx.tx.Size())
	return true
}

// ------------------------------
// change subscription

func (mem *ListMempool) markChanged() {
	mem.notifyMtx.Lock()
	defer mem.notifyMtx.Unlock()
	if mem.closed {
		return
	}
	mem.version++
	close(mem.changed)
	mem.changed = make(chan struct{})

	mem.metrics.Size.Set(float64(mem.Size()))
	mem.metric.markPool(mem.Size(), mem.TxsBytes())
}

// Subscribe implements Mempool.
func (mem *ListMempool) Subscribe() *Subscription {
	mem.notifyMtx.Lock()
	defer mem.notifyMtx.Unlock()
	return &Subscription{mem: mem, seen: mem.version}
}

// Close wakes every subscriber with ErrMempoolClosed.
func (mem *ListMempool) Close() {
	mem.notifyMtx.Lock()
	defer mem.notifyMtx.Unlock()
	if mem.closed {
		return
	}
	mem.closed = true
	close(mem.changed)
}

// Metric returns the JSON metric item of the mempool.
func (mem *ListMempool) Metric() metric.MetricItem {
	return mem.metric
}

// Subscription waits for mempool changes. It is not safe for concurrent use.
type Subscription struct {
	mem  *ListMempool
	seen uint64
}

// Recv blocks until the mempool changed after the previous Recv (or after
// Subscribe), ctx is done, or the mempool is closed.
func (s *Subscription) Recv(ctx context.Context) error {
	for {
		s.mem.notifyMtx.Lock()
		if s.mem.closed {
			s.mem.notifyMtx.Unlock()
			return ErrMempoolClosed
		}
		if s.mem.version != s.seen {
			s.seen = s.mem.version
			s.mem.notifyMtx.Unlock()
			return nil
		}
		ch := s.mem.changed
		s.mem.notifyMtx.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ------------------------------

type mempoolTx struct {
	view int64

	tx      types.Tx
	senders sync.Map
}

// View returns the view in which the transaction arrived
func (memTx *mempoolTx) View() int64 {
	return atomic.LoadInt64(&memTx.view)
}

// ------------------------------
// TxKey is the fixed length hash used as the key in maps.
func TxKey(tx types.Tx) types.Commitment {
	return tx.Commit()
}
