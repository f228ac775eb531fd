package execution

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-txpool/internal/chainstate"
	"github.com/insoblok/inso-txpool/pkg/types"
)

var (
	ErrCoinMissing      = errors.New("coin does not exist")
	ErrCoinSpent        = errors.New("coin already spent")
	ErrCoinMismatch     = errors.New("coin input does not match the coin")
	ErrImmature         = errors.New("coin is not mature")
	ErrMessageMissing   = errors.New("message does not exist")
	ErrMessageSpent     = errors.New("message already spent")
	ErrContractMissing  = errors.New("contract does not exist")
	ErrContractExists   = errors.New("contract already deployed")
	ErrMintNotAllowed   = errors.New("mint transactions are produced by the block producer")
	ErrBlockGasExceeded = errors.New("block gas limit exceeded")
)

// SkippedTx is a transaction left out of a block.
type SkippedTx struct {
	Tx  *types.Transaction
	Err error
}

// Invalid reports whether the transaction can never be included against the
// current chain state. Transactions skipped for gas may fit a later block.
func (s *SkippedTx) Invalid() bool {
	return !errors.Is(s.Err, ErrBlockGasExceeded)
}

// ExecutionResult is the outcome of executing one block.
type ExecutionResult struct {
	Block    *types.Block
	Receipts []*Receipt
	Skipped  []*SkippedTx
}

// Executor applies blocks of transactions to the chain state: spent inputs
// are marked, outputs become coins, created contracts are deployed.
type Executor struct {
	store    *chainstate.Store
	receipts *ReceiptStore
	gasLimit uint64
	logger   log.Logger
}

// NewExecutor creates an executor writing to store.
func NewExecutor(store *chainstate.Store, blockGasLimit uint64) *Executor {
	return &Executor{
		store:    store,
		receipts: NewReceiptStore(),
		gasLimit: blockGasLimit,
		logger:   log.New("module", "executor"),
	}
}

// Receipts returns the receipt store.
func (e *Executor) Receipts() *ReceiptStore { return e.receipts }

// blockView overlays the writes of the block being built on the chain state.
type blockView struct {
	store     *chainstate.Store
	height    uint32
	created   map[types.UtxoID]*types.Coin
	spent     map[types.UtxoID]bool
	messages  map[types.MessageID]bool
	contracts map[types.ContractID]*types.Contract
}

func (v *blockView) coin(id types.UtxoID) (*types.Coin, bool, error) {
	if c, ok := v.created[id]; ok {
		return c, true, nil
	}
	c, err := v.store.LookupUtxo(id)
	return c, false, err
}

func (v *blockView) contract(id types.ContractID) (*types.Contract, error) {
	if c, ok := v.contracts[id]; ok {
		return c, nil
	}
	return v.store.Contract(id)
}

// check verifies tx against the view without modifying it.
func (v *blockView) check(tx *types.Transaction) error {
	if tx.Kind == types.TxMint {
		return ErrMintNotAllowed
	}
	if tx.Maturity > v.height {
		return fmt.Errorf("%w: tx maturity %d", ErrImmature, tx.Maturity)
	}
	for _, in := range tx.Inputs {
		switch in.Type {
		case types.InputCoin:
			if v.spent[in.UtxoID] {
				return fmt.Errorf("%w: %s", ErrCoinSpent, in.UtxoID)
			}
			coin, _, err := v.coin(in.UtxoID)
			if err != nil {
				return err
			}
			if coin == nil {
				return fmt.Errorf("%w: %s", ErrCoinMissing, in.UtxoID)
			}
			if coin.Status == types.CoinSpent {
				return fmt.Errorf("%w: %s", ErrCoinSpent, in.UtxoID)
			}
			if coin.Owner != in.Owner || coin.Amount != in.Amount || coin.AssetID != in.AssetID {
				return fmt.Errorf("%w: %s", ErrCoinMismatch, in.UtxoID)
			}
			if coin.BlockCreated+coin.Maturity > v.height {
				return fmt.Errorf("%w: %s", ErrImmature, in.UtxoID)
			}

		case types.InputContract:
			c, err := v.contract(in.ContractID)
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("%w: %s", ErrContractMissing, in.ContractID.Hex())
			}

		case types.InputMessage:
			if v.messages[in.MessageID] {
				return fmt.Errorf("%w: %s", ErrMessageSpent, in.MessageID.Hex())
			}
			msg, err := v.store.LookupMessage(in.MessageID)
			if err != nil {
				return err
			}
			if msg == nil {
				return fmt.Errorf("%w: %s", ErrMessageMissing, in.MessageID.Hex())
			}
			if msg.Spent {
				return fmt.Errorf("%w: %s", ErrMessageSpent, in.MessageID.Hex())
			}
		}
	}
	for _, id := range tx.CreatedContracts() {
		c, err := v.contract(id)
		if err != nil {
			return err
		}
		if c != nil {
			return fmt.Errorf("%w: %s", ErrContractExists, id.Hex())
		}
	}
	return nil
}

// apply records the effects of a checked tx and returns the number of coins
// spent and created.
func (v *blockView) apply(tx *types.Transaction) (spent, made int) {
	id := tx.ID()
	for _, in := range tx.Inputs {
		switch in.Type {
		case types.InputCoin:
			if _, ok := v.created[in.UtxoID]; ok {
				delete(v.created, in.UtxoID)
			} else {
				v.spent[in.UtxoID] = true
			}
			spent++
		case types.InputMessage:
			v.messages[in.MessageID] = true
		}
	}

	for i, out := range tx.Outputs {
		utxo := types.UtxoID{TxID: id, OutputIndex: uint8(i)}
		switch {
		case out.IsCoin():
			if out.Amount == 0 {
				continue
			}
			v.created[utxo] = &types.Coin{
				Owner:        out.To,
				Amount:       out.Amount,
				AssetID:      out.AssetID,
				BlockCreated: v.height,
			}
			made++

		case out.Type == types.OutputContractCreated:
			var code []byte
			if len(tx.Witnesses) > 0 {
				code = tx.Witnesses[0]
			}
			v.contracts[out.ContractID] = &types.Contract{Code: code, UtxoID: utxo, BlockCreated: v.height}

		case out.Type == types.OutputContract:
			if int(out.InputIndex) >= len(tx.Inputs) {
				continue
			}
			cid := tx.Inputs[out.InputIndex].ContractID
			if c, _ := v.contract(cid); c != nil {
				moved := *c
				moved.UtxoID = utxo
				v.contracts[cid] = &moved
			}
		}
	}
	return spent, made
}

// flush writes the view into batch.
func (v *blockView) flush(b *chainstate.Batch) error {
	for id := range v.spent {
		if err := b.SpendCoin(id); err != nil {
			return err
		}
	}
	for id, c := range v.created {
		if err := b.PutCoin(id, c); err != nil {
			return err
		}
	}
	for id := range v.messages {
		if err := b.SpendMessage(id); err != nil {
			return err
		}
	}
	for id, c := range v.contracts {
		if err := b.PutContract(id, c); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteBlock builds the next block from txs in the given order, skipping
// transactions that are invalid against the chain state or would exceed the
// block gas limit, and commits it.
func (e *Executor) ExecuteBlock(ctx context.Context, timestamp uint64, txs []*types.Transaction) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := e.store.CurrentBlockHeight()
	if err != nil {
		return nil, err
	}
	parent, err := e.store.ReadBlock(current)
	if err != nil {
		return nil, fmt.Errorf("read parent block: %w", err)
	}
	var parentHash common.Hash
	if parent != nil {
		parentHash = parent.Header.Hash
	}

	view := &blockView{
		store:     e.store,
		height:    current + 1,
		created:   make(map[types.UtxoID]*types.Coin),
		spent:     make(map[types.UtxoID]bool),
		messages:  make(map[types.MessageID]bool),
		contracts: make(map[types.ContractID]*types.Contract),
	}

	var (
		result   = &ExecutionResult{}
		included []*types.Transaction
		gasUsed  uint64
	)
	for _, tx := range txs {
		gas, err := tx.Gas()
		if err != nil {
			result.Skipped = append(result.Skipped, &SkippedTx{Tx: tx, Err: err})
			continue
		}
		if gasUsed+gas > e.gasLimit {
			result.Skipped = append(result.Skipped, &SkippedTx{Tx: tx, Err: ErrBlockGasExceeded})
			continue
		}
		if err := view.check(tx); err != nil {
			result.Skipped = append(result.Skipped, &SkippedTx{Tx: tx, Err: err})
			e.logger.Debug("Transaction skipped", "tx", tx.ID().Hex(), "err", err)
			continue
		}

		spent, made := view.apply(tx)
		gasUsed += gas
		result.Receipts = append(result.Receipts, newReceipt(tx, view.height, len(included), gas, spent, made))
		included = append(included, tx)
	}

	header := &types.BlockHeader{
		Height:     view.height,
		ParentHash: parentHash,
		Timestamp:  timestamp,
		GasUsed:    gasUsed,
		GasLimit:   e.gasLimit,
		TxCount:    len(included),
	}
	header.Hash = blockHash(header, receiptRoot(result.Receipts))
	result.Block = types.NewBlock(header, included)

	batch := e.store.NewBatch()
	if err := view.flush(batch); err != nil {
		return nil, fmt.Errorf("apply block %d: %w", header.Height, err)
	}
	if err := batch.WriteBlock(result.Block); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	for _, r := range result.Receipts {
		e.receipts.Store(r)
	}

	e.logger.Info("Block executed",
		"height", header.Height,
		"hash", header.Hash.Hex(),
		"txs", header.TxCount,
		"skipped", len(result.Skipped),
		"gasUsed", gasUsed,
	)
	return result, nil
}

func blockHash(h *types.BlockHeader, receipts common.Hash) common.Hash {
	var buf [4 + 8 + 8]byte
	binary.BigEndian.PutUint32(buf[0:], h.Height)
	binary.BigEndian.PutUint64(buf[4:], h.Timestamp)
	binary.BigEndian.PutUint64(buf[12:], h.GasUsed)
	return crypto.Keccak256Hash(h.ParentHash.Bytes(), buf[:], receipts.Bytes())
}
