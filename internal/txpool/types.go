package txpool

import (
	"time"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// PoolTx is a transaction admitted to the pool together with the resources
// it holds. It is created by the validator and never mutated afterwards.
type PoolTx struct {
	Tx          *types.Transaction
	ID          types.TxID
	GasPrice    uint64
	Gas         uint64
	Depth       int
	SubmittedAt time.Time

	// Pool-internal transactions this one spends from.
	Parents []types.TxID

	SpentUtxos       []types.UtxoID
	SpentMessages    []types.MessageID
	UsedContracts    []types.ContractID
	CreatedContracts []types.ContractID

	seq uint64
}

// InsertionResult is the outcome of a successful admission.
type InsertionResult struct {
	Inserted *PoolTx
	Removed  []*PoolTx
}

// InsertOutcome pairs the per-transaction result of a batch insert with its error.
type InsertOutcome struct {
	Result *InsertionResult
	Err    error
}

// TxUpdate reports one pool state transition. A nil SqueezedOut means the
// transaction is now pooled.
type TxUpdate struct {
	TxID        types.TxID
	SqueezedOut *Error
}

// WasSqueezedOut reports whether the update is a removal.
func (u TxUpdate) WasSqueezedOut() bool { return u.SqueezedOut != nil }

// TxInfo is a read-only view of a pooled transaction.
type TxInfo struct {
	Tx          *PoolTx
	SubmittedAt time.Time
}

func newTxInfo(ptx *PoolTx) *TxInfo {
	return &TxInfo{Tx: ptx, SubmittedAt: ptx.SubmittedAt}
}
