package mempool

import (
	"github.com/tendermint/tendermint/p2p"

	"vidbft/types"
)

// Mempool 保存尚未被打包进已决定leaf的交易
//
// Transactions are kept in arrival order and keyed by commitment. A single
// writer mutates it at a time; readers that need to wait for new
// transactions take a Subscription.
type Mempool interface {
	// CheckTx检验一个新交易是否合法，来决定能否将其加入到mempool中
	CheckTx(types.Tx, TxInfo) error

	// Has reports whether a transaction with the commitment is pending.
	Has(types.Commitment) bool

	// ReapTxs从mempool中打包交易，打包交易的大小不超过maxBytes
	// 如果maxBytes是负数则表示取出mempool所有的交易
	ReapTxs(maxBytes int64) types.Txs

	// ReapMaxTxs从mempool中取出caller指定数量的交易，按照到达顺序
	// 如果max是负数则表示取出mempool所有的交易
	ReapMaxTxs(max int) types.Txs

	// Lock locks the mempool，更新mempool前必须lock mempool
	Lock()

	// UnLock the Mempool
	Unlock()

	// Update removes the decided transactions of view from the mempool and
	// returns the commitments that were actually pending.
	// NOTE: caller负责Lock/Unlock
	Update(view types.View, decided []types.Commitment) []types.Commitment

	// Flush将mempool中的所有交易清空
	Flush()

	// Size返回mempool中的交易条数
	Size() int

	// TxsBytes返回mempool所有交易的byte大小
	TxsBytes() int64

	// Subscribe returns a subscription that fires on every later change.
	Subscribe() *Subscription
}

// --------------------------------------------------------------------------------
type PreCheckFunc func(types.Tx) error

// TxInfo are parameters that get passed when attempting to add a tx to the
// mempool.
type TxInfo struct {
	// SenderID is the internal peer ID used in the mempool to identify the
	// sender, storing 2 bytes with each tx instead of 20 bytes for the p2p.ID.
	SenderID uint16
	// SenderP2PID is the actual p2p.ID of the sender, used e.g. for logging.
	SenderP2PID p2p.ID
}

// PreCheckMaxBytes checks that the size of the transaction is smaller or
// equal to the expected maxBytes.
func PreCheckMaxBytes(maxBytes int64) PreCheckFunc {
	return func(tx types.Tx) error {
		if tx.Size() > maxBytes {
			return ErrTxTooLarge{Max: maxBytes, Actual: tx.Size()}
		}
		return nil
	}
}
