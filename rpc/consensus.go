package rpc

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"vidbft/libs/utils"
	"vidbft/types"
)

const maxLeavesPerRequest = 100

var ErrStoreDisabled = errors.New("leaf store is disabled on this node")

type ResultStatus struct {
	NodeID           string         `json:"node_id"`
	ValidatorAddress bytes.HexBytes `json:"validator_address"`
	View             types.View     `json:"view"`
	LastDecidedView  types.View     `json:"last_decided_view"`
	HighCertView     types.View     `json:"high_cert_view"`
	Peers            int            `json:"n_peers"`
	OutstandingTxs   int            `json:"outstanding_txs"`
}

func Status(ctx *rpctypes.Context) (*ResultStatus, error) {
	cs := env.Consensus
	res := &ResultStatus{
		ValidatorAddress: bytes.HexBytes(cs.Exchange().Address()),
		View:             cs.CurrentView(),
		LastDecidedView:  cs.Ledger().LastDecidedView(),
		HighCertView:     cs.Ledger().HighCertificate().View,
		OutstandingTxs:   cs.OutstandingTransactions(),
	}
	if env.Network != nil {
		res.NodeID = string(env.Network.ID())
		res.Peers = env.Network.ConnectedPeerCount()
	}
	return res, nil
}

type ResultLeaves struct {
	Leaves    []ResultLeaf  `json:"leaves"`
	Intervals ResultLatency `json:"intervals"`
}

type ResultLeaf struct {
	View              types.View     `json:"view"`
	Commitment        bytes.HexBytes `json:"commitment"`
	ParentCommitment  bytes.HexBytes `json:"parent_commitment"`
	PayloadCommitment bytes.HexBytes `json:"payload_commitment"`
	TxNum             int            `json:"tx_num"`
	Proposer          bytes.HexBytes `json:"proposer"`
}

// ResultLatency summarizes the time between consecutive decided leaves, in
// seconds.
type ResultLatency struct {
	Count  int     `json:"count"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Avg    float64 `json:"avg"`
}

// DecidedLeaves lists up to limit decided leaves with view >= from.
func DecidedLeaves(ctx *rpctypes.Context, from int64, limit int) (*ResultLeaves, error) {
	if env.Store == nil {
		return nil, ErrStoreDisabled
	}
	if limit <= 0 || limit > maxLeavesPerRequest {
		limit = maxLeavesPerRequest
	}

	views, err := env.Store.DecidedViews()
	if err != nil {
		return nil, err
	}

	res := &ResultLeaves{Leaves: []ResultLeaf{}}
	var (
		intervals []float64
		prev      *types.Leaf
	)
	for _, view := range views {
		if int64(view) < from {
			continue
		}
		if len(res.Leaves) == limit {
			break
		}
		leaf, err := env.Store.LoadLeafByView(view)
		if err != nil {
			return nil, fmt.Errorf("view %v: %w", view, err)
		}
		c := leaf.Commit()
		res.Leaves = append(res.Leaves, ResultLeaf{
			View:              leaf.View,
			Commitment:        c.Bytes(),
			ParentCommitment:  leaf.ParentCommitment.Bytes(),
			PayloadCommitment: leaf.Payload.PayloadCommitment.Bytes(),
			TxNum:             len(leaf.Payload.Transactions),
			Proposer:          bytes.HexBytes(leaf.Proposer),
		})
		if prev != nil {
			intervals = append(intervals, leaf.Timestamp.Sub(prev.Timestamp).Seconds())
		}
		prev = leaf
	}

	res.Intervals = ResultLatency{
		Count:  len(intervals),
		Max:    utils.Max(intervals...),
		Min:    utils.Min(intervals...),
		Median: utils.Median(intervals...),
		Avg:    utils.Avg(intervals...),
	}
	return res, nil
}
