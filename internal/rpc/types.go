package rpc

import (
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/insoblok/inso-txpool/internal/txpool"
	"github.com/insoblok/inso-txpool/pkg/types"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codePoolStopped    = -32001
)

// JSONRPCRequest represents an incoming JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents an outgoing JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
	ID      interface{}      `json:"id"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// jsonrpcNotification is a server-initiated subscription message.
type jsonrpcNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  subscriptionResult `json:"params"`
}

type subscriptionResult struct {
	Subscription string      `json:"subscription"`
	Result       interface{} `json:"result"`
}

var errInvalidParams = errors.New("invalid params")

// ErrorResult describes a rejected transaction.
type ErrorResult struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newErrorResult(err error) *ErrorResult {
	var perr *txpool.Error
	if errors.As(err, &perr) {
		return &ErrorResult{Kind: perr.Kind.String(), Message: perr.Error()}
	}
	if errors.Is(err, txpool.ErrProcessorStopped) {
		return &ErrorResult{Kind: "ProcessorStopped", Message: err.Error()}
	}
	return &ErrorResult{Kind: "Internal", Message: err.Error()}
}

// PoolTxResult is the RPC form of a pooled transaction.
type PoolTxResult struct {
	ID          common.Hash    `json:"id"`
	GasPrice    hexutil.Uint64 `json:"gasPrice"`
	Gas         hexutil.Uint64 `json:"gas"`
	Depth       int            `json:"depth"`
	Parents     []common.Hash  `json:"parents"`
	SubmittedAt int64          `json:"submittedAt"`
}

func newPoolTxResult(ptx *txpool.PoolTx) *PoolTxResult {
	parents := ptx.Parents
	if parents == nil {
		parents = []common.Hash{}
	}
	return &PoolTxResult{
		ID:          ptx.ID,
		GasPrice:    hexutil.Uint64(ptx.GasPrice),
		Gas:         hexutil.Uint64(ptx.Gas),
		Depth:       ptx.Depth,
		Parents:     parents,
		SubmittedAt: ptx.SubmittedAt.UnixMilli(),
	}
}

func newPoolTxResults(ptxs []*txpool.PoolTx) []*PoolTxResult {
	out := make([]*PoolTxResult, len(ptxs))
	for i, ptx := range ptxs {
		out[i] = newPoolTxResult(ptx)
	}
	return out
}

// TxInfoResult is a pooled transaction together with its canonical encoding.
type TxInfoResult struct {
	*PoolTxResult
	Raw hexutil.Bytes `json:"raw"`
}

func newTxInfoResult(info *txpool.TxInfo) (*TxInfoResult, error) {
	if info == nil {
		return nil, nil
	}
	raw, err := info.Tx.Tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &TxInfoResult{PoolTxResult: newPoolTxResult(info.Tx), Raw: raw}, nil
}

// SubmitResult is the per-transaction outcome of txpool_submit.
type SubmitResult struct {
	ID      *common.Hash  `json:"id,omitempty"`
	Removed []common.Hash `json:"removed,omitempty"`
	Error   *ErrorResult  `json:"error,omitempty"`
}

// TxUpdateResult is the RPC form of a pool notification.
type TxUpdateResult struct {
	TxID   common.Hash  `json:"txId"`
	Status string       `json:"status"`
	Reason *ErrorResult `json:"reason,omitempty"`
}

func newTxUpdateResult(u txpool.TxUpdate) *TxUpdateResult {
	if u.WasSqueezedOut() {
		return &TxUpdateResult{TxID: u.TxID, Status: "squeezedOut", Reason: newErrorResult(u.SqueezedOut)}
	}
	return &TxUpdateResult{TxID: u.TxID, Status: "submitted"}
}

// BlockResult is the RPC form of a block.
type BlockResult struct {
	*types.BlockHeader
	Transactions []common.Hash `json:"transactions"`
}

func newBlockResult(b *types.Block) *BlockResult {
	ids := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID()
	}
	return &BlockResult{BlockHeader: b.Header, Transactions: ids}
}
