package mempool

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// memMetric 是mempool通过rpc metrics接口暴露的快照
type memMetric struct {
	mtx         sync.RWMutex
	Size        int   `json:"size"`         // 池中等待打包的交易数
	Bytes       int64 `json:"bytes"`        // 池中交易的总大小
	View        int64 `json:"view"`         // 最近一次Update的view
	DecidedTxs  int64 `json:"decided_txs"`  // 因被决定而移出池的交易总数
	RejectedTxs int64 `json:"rejected_txs"` // CheckTx拒绝的交易总数
}

func newMemMetric() *memMetric {
	return &memMetric{}
}

func (mm *memMetric) JSONString() string {
	mm.mtx.RLock()
	defer mm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(mm)
	return s
}

func (mm *memMetric) markPool(size int, bytes int64) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.Size, mm.Bytes = size, bytes
}

func (mm *memMetric) markDecided(view int64, n int) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.View = view
	mm.DecidedTxs += int64(n)
}

func (mm *memMetric) markRejected() {
	mm.mtx.Lock()
	mm.RejectedTxs++
	mm.mtx.Unlock()
}
