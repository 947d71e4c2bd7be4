package rpc

import (
	"github.com/tendermint/tendermint/libs/log"

	"vidbft/consensus"
	"vidbft/libs/metric"
	"vidbft/mempool"
	"vidbft/network"
	"vidbft/store"
	"vidbft/types"
)

var env *Environment

func SetEnvironment(e *Environment) {
	env = e
}

// TxSubmitter hands transactions to the local node and gossips them.
type TxSubmitter interface {
	SubmitTxs(txs types.Txs) error
}

type Environment struct {
	Mempool   mempool.Mempool
	Consensus *consensus.ConsensusState
	Network   network.Network
	Submitter TxSubmitter
	// 可以为nil，此时不提供历史leaf查询
	Store *store.KVStore

	MetricSet *metric.MetricSet

	Logger log.Logger
}
