package rpc

import (
	"fmt"

	ctypes "github.com/tendermint/tendermint/rpc/core/types"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"vidbft/mempool"
	"vidbft/types"
)

// BroadcastTx adds tx to the local pool and gossips it. It does not wait
// for the tx to be decided.
func BroadcastTx(ctx *rpctypes.Context, tx types.Tx) (*ctypes.ResultBroadcastTx, error) {
	if len(tx) == 0 {
		return nil, fmt.Errorf("empty tx")
	}
	if env.Mempool.Has(tx.Commit()) {
		return nil, mempool.ErrTxInMap
	}
	if err := env.Submitter.SubmitTxs(types.Txs{tx}); err != nil {
		return nil, err
	}
	return &ctypes.ResultBroadcastTx{Hash: tx.Commit().Bytes()}, nil
}

type ResultUnconfirmedTxs struct {
	Count      int   `json:"n_txs"`
	TotalBytes int64 `json:"total_bytes"`
}

func NumUnconfirmedTxs(ctx *rpctypes.Context) (*ResultUnconfirmedTxs, error) {
	return &ResultUnconfirmedTxs{
		Count:      env.Mempool.Size(),
		TotalBytes: env.Mempool.TxsBytes(),
	}, nil
}
