package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-txpool/internal/execution"
	"github.com/insoblok/inso-txpool/internal/metrics"
	"github.com/insoblok/inso-txpool/internal/txpool"
	"github.com/insoblok/inso-txpool/pkg/types"
)

// TxPool is the pool surface exposed over RPC. *txpool.Client implements it.
type TxPool interface {
	PendingNumber(ctx context.Context) (int, error)
	ConsumableGas(ctx context.Context) (uint64, error)
	Includable(ctx context.Context) ([]*txpool.PoolTx, error)
	Insert(ctx context.Context, txs []*types.Transaction) ([]txpool.InsertOutcome, error)
	Find(ctx context.Context, ids []types.TxID) ([]*txpool.TxInfo, error)
	FindOne(ctx context.Context, id types.TxID) (*txpool.TxInfo, error)
	FindDependent(ctx context.Context, ids []types.TxID) ([]*txpool.PoolTx, error)
	Remove(ctx context.Context, ids []types.TxID) ([]*txpool.PoolTx, error)
	FilterByNegative(ctx context.Context, ids []types.TxID) ([]types.TxID, error)
}

// ChainReader is the read side of the chain state.
type ChainReader interface {
	CurrentBlockHeight() (uint32, error)
	ReadBlock(height uint32) (*types.Block, error)
	ReadBlockByHash(hash common.Hash) (*types.Block, error)
}

// Handler dispatches JSON-RPC methods to their implementations.
type Handler struct {
	pool     TxPool
	chain    ChainReader
	params   types.ChainParams
	receipts *execution.ReceiptStore
	metrics  *metrics.Metrics
	admin    bool
	logger   log.Logger
}

// adminMethods are served only when enabled with SetAdminMethods.
var adminMethods = map[string]struct{}{
	"txpool_remove": {},
}

// NewHandler creates a new JSON-RPC handler. Submitted transactions are
// decoded with params.
func NewHandler(pool TxPool, chain ChainReader, params types.ChainParams) *Handler {
	return &Handler{
		pool:   pool,
		chain:  chain,
		params: params,
		logger: log.New("module", "rpc-handler"),
	}
}

// SetReceiptStore attaches the executor's receipts.
func (h *Handler) SetReceiptStore(rs *execution.ReceiptStore) { h.receipts = rs }

// SetAdminMethods enables or disables the admin method set.
func (h *Handler) SetAdminMethods(enabled bool) { h.admin = enabled }

// SetMetrics attaches the Prometheus metrics instance.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// Handle processes a single JSON-RPC request and returns a response.
func (h *Handler) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	h.logger.Debug("RPC request", "method", req.Method, "id", req.ID)

	if _, admin := adminMethods[req.Method]; admin && !h.admin {
		return h.methodNotFound(req)
	}

	var (
		result interface{}
		err    error
	)
	switch req.Method {
	case "txpool_submit":
		result, err = h.submit(ctx, req.Params)
	case "txpool_pendingNumber":
		var n int
		n, err = h.pool.PendingNumber(ctx)
		result = hexutil.Uint64(n)
	case "txpool_consumableGas":
		var gas uint64
		gas, err = h.pool.ConsumableGas(ctx)
		result = hexutil.Uint64(gas)
	case "txpool_includable":
		var ptxs []*txpool.PoolTx
		ptxs, err = h.pool.Includable(ctx)
		result = newPoolTxResults(ptxs)
	case "txpool_find":
		result, err = h.find(ctx, req.Params)
	case "txpool_findOne":
		result, err = h.findOne(ctx, req.Params)
	case "txpool_findDependent":
		result, err = h.findDependent(ctx, req.Params)
	case "txpool_remove":
		result, err = h.remove(ctx, req.Params)
	case "txpool_filterByNegative":
		result, err = h.filterByNegative(ctx, req.Params)

	case "chain_blockHeight":
		var height uint32
		height, err = h.chain.CurrentBlockHeight()
		result = hexutil.Uint64(height)
	case "chain_getBlockByNumber":
		result, err = h.getBlockByNumber(req.Params)
	case "chain_getBlockByHash":
		result, err = h.getBlockByHash(req.Params)
	case "chain_getReceipt":
		result, err = h.getReceipt(req.Params)

	default:
		return h.methodNotFound(req)
	}

	h.countRequest(req.Method, err != nil)
	if err != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: toJSONRPCError(err)}
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: toJSONRPCError(err)}
	}
	raw := json.RawMessage(encoded)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  &raw,
	}
}

func (h *Handler) methodNotFound(req *JSONRPCRequest) *JSONRPCResponse {
	h.countRequest("unknown", true)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &JSONRPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)},
	}
}

func (h *Handler) countRequest(method string, failed bool) {
	if h.metrics == nil {
		return
	}
	h.metrics.RPCRequests.WithLabelValues(method).Inc()
	if failed {
		h.metrics.RPCErrors.WithLabelValues(method).Inc()
	}
}

func toJSONRPCError(err error) *JSONRPCError {
	switch {
	case errors.Is(err, errInvalidParams):
		return &JSONRPCError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, txpool.ErrProcessorStopped):
		return &JSONRPCError{Code: codePoolStopped, Message: err.Error()}
	}
	var perr *txpool.Error
	if errors.As(err, &perr) {
		return &JSONRPCError{Code: codeServerError, Message: err.Error(), Data: perr.Kind.String()}
	}
	return &JSONRPCError{Code: codeServerError, Message: err.Error()}
}

// decodeArg unmarshals the first positional parameter into v.
func decodeArg(params json.RawMessage, v interface{}) error {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return fmt.Errorf("%w: expected one positional argument", errInvalidParams)
	}
	if err := json.Unmarshal(args[0], v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func decodeIDs(params json.RawMessage) ([]types.TxID, error) {
	var ids []common.Hash
	if err := decodeArg(params, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// --- txpool methods ---

// submit decodes every raw transaction and inserts the decodable ones in a
// single command. Results line up with the request.
func (h *Handler) submit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var raws []hexutil.Bytes
	if err := decodeArg(params, &raws); err != nil {
		return nil, err
	}

	results := make([]*SubmitResult, len(raws))
	txs := make([]*types.Transaction, 0, len(raws))
	slots := make([]int, 0, len(raws))
	for i, raw := range raws {
		tx, err := types.DecodeTransaction(raw, h.params)
		if err != nil {
			results[i] = &SubmitResult{Error: &ErrorResult{Kind: "Decode", Message: err.Error()}}
			continue
		}
		txs = append(txs, tx)
		slots = append(slots, i)
	}
	if len(txs) == 0 {
		return results, nil
	}

	outcomes, err := h.pool.Insert(ctx, txs)
	if err != nil {
		return nil, err
	}
	for j, o := range outcomes {
		i := slots[j]
		if o.Err != nil {
			results[i] = &SubmitResult{Error: newErrorResult(o.Err)}
			continue
		}
		id := o.Result.Inserted.ID
		res := &SubmitResult{ID: &id}
		for _, r := range o.Result.Removed {
			res.Removed = append(res.Removed, r.ID)
		}
		results[i] = res
	}
	return results, nil
}

func (h *Handler) find(ctx context.Context, params json.RawMessage) (interface{}, error) {
	ids, err := decodeIDs(params)
	if err != nil {
		return nil, err
	}
	infos, err := h.pool.Find(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*TxInfoResult, len(infos))
	for i, info := range infos {
		if out[i], err = newTxInfoResult(info); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (h *Handler) findOne(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var id common.Hash
	if err := decodeArg(params, &id); err != nil {
		return nil, err
	}
	info, err := h.pool.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return newTxInfoResult(info)
}

func (h *Handler) findDependent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	ids, err := decodeIDs(params)
	if err != nil {
		return nil, err
	}
	ptxs, err := h.pool.FindDependent(ctx, ids)
	if err != nil {
		return nil, err
	}
	return newPoolTxResults(ptxs), nil
}

func (h *Handler) remove(ctx context.Context, params json.RawMessage) (interface{}, error) {
	ids, err := decodeIDs(params)
	if err != nil {
		return nil, err
	}
	removed, err := h.pool.Remove(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]common.Hash, len(removed))
	for i, ptx := range removed {
		out[i] = ptx.ID
	}
	return out, nil
}

func (h *Handler) filterByNegative(ctx context.Context, params json.RawMessage) (interface{}, error) {
	ids, err := decodeIDs(params)
	if err != nil {
		return nil, err
	}
	missing, err := h.pool.FilterByNegative(ctx, ids)
	if err != nil {
		return nil, err
	}
	if missing == nil {
		missing = []types.TxID{}
	}
	return missing, nil
}

// --- chain methods ---

func (h *Handler) getBlockByNumber(params json.RawMessage) (interface{}, error) {
	var arg string
	if err := decodeArg(params, &arg); err != nil {
		return nil, err
	}

	var height uint32
	if arg == "latest" {
		current, err := h.chain.CurrentBlockHeight()
		if err != nil {
			return nil, err
		}
		height = current
	} else {
		n, err := hexutil.DecodeUint64(arg)
		if err != nil || n > uint64(^uint32(0)) {
			return nil, fmt.Errorf("%w: block number %q", errInvalidParams, arg)
		}
		height = uint32(n)
	}

	block, err := h.chain.ReadBlock(height)
	if err != nil || block == nil {
		return nil, err
	}
	return newBlockResult(block), nil
}

func (h *Handler) getBlockByHash(params json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := decodeArg(params, &hash); err != nil {
		return nil, err
	}
	block, err := h.chain.ReadBlockByHash(hash)
	if err != nil || block == nil {
		return nil, err
	}
	return newBlockResult(block), nil
}

func (h *Handler) getReceipt(params json.RawMessage) (interface{}, error) {
	var id common.Hash
	if err := decodeArg(params, &id); err != nil {
		return nil, err
	}
	if h.receipts == nil {
		return nil, nil
	}
	if r := h.receipts.Get(id); r != nil {
		return r, nil
	}
	return nil, nil
}
