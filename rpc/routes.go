package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"broadcast_tx":        rpc.NewRPCFunc(BroadcastTx, "tx"),
	"num_unconfirmed_txs": rpc.NewRPCFunc(NumUnconfirmedTxs, ""),
	"status":              rpc.NewRPCFunc(Status, ""),
	"leaves":              rpc.NewRPCFunc(DecidedLeaves, "from,limit"),
	"metrics":             rpc.NewRPCFunc(JSONMetrics, "label"),
}
