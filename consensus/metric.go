package consensus

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"vidbft/types"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		View:           -1,
		LastLeaderView: -1,
		DecidedView:    -1,
	}
}

// consensusMetric 提供给rpc的共识运行快照
type consensusMetric struct {
	mtx sync.Mutex

	View          int64     `json:"current_view"`
	ViewStartTime time.Time `json:"view_start_time"`
	// 最近一次发生view跳跃时的view
	LastJumpedView int64 `json:"last_jumped_view"`

	IsLeader       bool   `json:"is_leader"`
	LeaderAddress  string `json:"leader_address"`
	LastLeaderView int64  `json:"last_leader_view"`
	LastPayloadTxs int    `json:"last_payload_txs"`

	DecidedView     int64 `json:"decided_view"`
	DecidedLeaves   int64 `json:"decided_leaves"`
	CertsFormed     int64 `json:"certificates_formed"`
	MissedViews     int64 `json:"missed_leader_views"`
	OutstandingTxs  int   `json:"outstanding_txs"`
	OutstandingSize int64 `json:"outstanding_txs_bytes"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkView(view types.View, leader types.Address, isLeader bool) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.View = int64(view)
	cm.ViewStartTime = time.Now()
	cm.LeaderAddress = leader.String()
	cm.IsLeader = isLeader
}

func (cm *consensusMetric) MarkJump(view types.View) {
	cm.mtx.Lock()
	cm.LastJumpedView = int64(view)
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkPayload(view types.View, numTxs int) {
	cm.mtx.Lock()
	cm.LastLeaderView = int64(view)
	cm.LastPayloadTxs = numTxs
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkMissed() {
	cm.mtx.Lock()
	cm.MissedViews++
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkCertificate() {
	cm.mtx.Lock()
	cm.CertsFormed++
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkDecided(view types.View, n int) {
	cm.mtx.Lock()
	cm.DecidedView = int64(view)
	cm.DecidedLeaves += int64(n)
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkOutstanding(num int, size int64) {
	cm.mtx.Lock()
	cm.OutstandingTxs = num
	cm.OutstandingSize = size
	cm.mtx.Unlock()
}
