package mempool

import (
	"errors"
	"fmt"
)

var (
	// ErrTxInMap is returned to the client if the tx is already pending
	ErrTxInMap = errors.New("tx already exists in map")

	// ErrMempoolClosed is returned by Subscription.Recv once the mempool is
	// shut down
	ErrMempoolClosed = errors.New("mempool closed")
)

// ErrTxTooLarge means the tx is too big to be sent in a message to other peers
type ErrTxTooLarge struct {
	Max    int64
	Actual int64
}

func (e ErrTxTooLarge) Error() string {
	return fmt.Sprintf("Tx too large. Max size is %d, but got %d", e.Max, e.Actual)
}

// ErrMempoolIsFull means the mempool is full.
type ErrMempoolIsFull struct {
	NumTxs      int
	MaxTxs      int
	TxsBytes    int64
	MaxTxsBytes int64
}

func (e ErrMempoolIsFull) Error() string {
	return fmt.Sprintf(
		"mempool is full: number of txs %d (max: %d), total txs bytes %d (max: %d)",
		e.NumTxs, e.MaxTxs, e.TxsBytes, e.MaxTxsBytes)
}

// ErrPreCheck is returned when tx is rejected by the pre-check function.
type ErrPreCheck struct {
	Reason error
}

func (e ErrPreCheck) Error() string {
	return e.Reason.Error()
}

// IsPreCheckError returns true if err is due to pre check failure.
func IsPreCheckError(err error) bool {
	return errors.As(err, &ErrPreCheck{})
}
