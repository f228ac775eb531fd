package txpool

import (
	"fmt"
	"time"

	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/pkg/types"
)

// eviction is a pooled transaction the decision displaces, with the cause
// reported to subscribers.
type eviction struct {
	id     types.TxID
	reason *Error
}

// decision is an accepted admission. Nothing is applied until the Service
// commits it.
type decision struct {
	tx        *PoolTx
	evictions []eviction
}

type collision struct {
	holder *PoolTx
	err    *Error
	reason string
}

type validator struct {
	cfg   *config.TxPoolConfig
	chain *config.ChainConfig
	db    Database
}

// validate decides whether tx may enter the pool given the current store
// contents. It never mutates the store.
func (v *validator) validate(tx *types.Transaction, store *Store) (*decision, error) {
	meta := tx.Metadata()
	if meta == nil {
		return nil, ErrNoMetadata
	}
	if tx.Kind != types.TxScript && tx.Kind != types.TxCreate {
		return nil, ErrNotSupportedTransactionType
	}
	height, err := v.db.CurrentBlockHeight()
	if err != nil {
		return nil, fmt.Errorf("read block height: %w", err)
	}
	if tx.Maturity > height {
		return nil, ErrMaturity
	}
	if tx.GasPrice < v.cfg.MinGasPrice {
		return nil, ErrGasPriceTooLow
	}
	if store.get(meta.ID) != nil {
		return nil, ErrTxKnown
	}
	if err := checkDuplicates(tx); err != nil {
		return nil, err
	}

	ptx := &PoolTx{
		Tx:          tx,
		ID:          meta.ID,
		GasPrice:    tx.GasPrice,
		Gas:         meta.Gas,
		SubmittedAt: time.Now(),
	}
	var (
		collisions []collision
		parents    = make(map[types.TxID]*PoolTx)
	)
	addParent := func(p *PoolTx) {
		if _, ok := parents[p.ID]; !ok {
			parents[p.ID] = p
			ptx.Parents = append(ptx.Parents, p.ID)
		}
	}

	for _, in := range tx.Inputs {
		switch in.Type {
		case types.InputCoin:
			parent, err := v.checkCoin(in, store)
			if err != nil {
				return nil, err
			}
			if parent != nil {
				addParent(parent)
			}
			if holder, ok := store.utxoSpender(in.UtxoID); ok {
				collisions = append(collisions, collision{
					holder: holder,
					err:    collisionErr(holder.ID, in.UtxoID),
					reason: fmt.Sprintf("tx %s spends UTXO %s at a higher gas price", meta.ID.Hex(), in.UtxoID),
				})
			}
			ptx.SpentUtxos = append(ptx.SpentUtxos, in.UtxoID)

		case types.InputContract:
			if creator, ok := store.contractCreator(in.ContractID); ok {
				addParent(creator)
			} else {
				exists, err := v.db.ContractExists(in.ContractID)
				if err != nil {
					return nil, fmt.Errorf("lookup contract %s: %w", in.ContractID.Hex(), err)
				}
				if !exists {
					return nil, &Error{Kind: KindNotInsertedInputContractNotExisting, ContractID: in.ContractID}
				}
			}
			ptx.UsedContracts = append(ptx.UsedContracts, in.ContractID)

		case types.InputMessage:
			if err := v.checkMessage(in); err != nil {
				return nil, err
			}
			if holder, ok := store.messageConsumer(in.MessageID); ok {
				collisions = append(collisions, collision{
					holder: holder,
					err:    collisionMessageErr(holder.ID, in.MessageID),
					reason: fmt.Sprintf("tx %s spends message %s at a higher gas price", meta.ID.Hex(), in.MessageID.Hex()),
				})
			}
			ptx.SpentMessages = append(ptx.SpentMessages, in.MessageID)
		}
	}

	for _, contract := range tx.CreatedContracts() {
		exists, err := v.db.ContractExists(contract)
		if err != nil {
			return nil, fmt.Errorf("lookup contract %s: %w", contract.Hex(), err)
		}
		if exists {
			return nil, &Error{Kind: KindNotInsertedContractIdAlreadyTaken, ContractID: contract}
		}
		if holder, ok := store.contractCreator(contract); ok {
			collisions = append(collisions, collision{
				holder: holder,
				err:    collisionContractErr(contract),
				reason: fmt.Sprintf("tx %s creates contract %s at a higher gas price", meta.ID.Hex(), contract.Hex()),
			})
		}
		ptx.CreatedContracts = append(ptx.CreatedContracts, contract)
	}

	for _, p := range parents {
		if p.Depth+1 > ptx.Depth {
			ptx.Depth = p.Depth + 1
		}
	}
	if ptx.Depth > v.cfg.MaxDepth {
		return nil, ErrMaxDepth
	}

	if meta.Gas > v.chain.BlockGasLimit {
		return nil, &Error{Kind: KindNotInsertedMaxGasLimit, TxGas: meta.Gas, BlockLimit: v.chain.BlockGasLimit}
	}

	// The candidate has to outbid every holder; an ancestor can never be displaced.
	ancestors := store.ancestors(ptx.Parents)
	for _, c := range collisions {
		if c.holder.GasPrice >= tx.GasPrice {
			return nil, c.err
		}
		if _, ok := ancestors[c.holder.ID]; ok {
			return nil, c.err
		}
	}

	d := &decision{tx: ptx}
	evicted := make(map[types.TxID]struct{})
	evict := func(root types.TxID, reason *Error) {
		for _, dep := range store.dependents(root) {
			if _, dup := evicted[dep.ID]; dup {
				continue
			}
			evicted[dep.ID] = struct{}{}
			d.evictions = append(d.evictions, eviction{id: dep.ID, reason: reason})
		}
	}
	for _, c := range collisions {
		evict(c.holder.ID, squeezedOut(c.reason))
	}

	if err := v.makeRoom(ptx, store, ancestors, evicted, evict); err != nil {
		return nil, err
	}
	return d, nil
}

// checkDuplicates rejects a transaction that spends the same UTXO or
// message twice, or creates the same contract twice.
func checkDuplicates(tx *types.Transaction) error {
	utxos := make(map[types.UtxoID]struct{}, len(tx.Inputs))
	messages := make(map[types.MessageID]struct{})
	for _, in := range tx.Inputs {
		switch in.Type {
		case types.InputCoin:
			if _, dup := utxos[in.UtxoID]; dup {
				return &Error{Kind: KindNotInsertedDuplicateIo, UtxoID: in.UtxoID, Reason: fmt.Sprintf("UTXO %s", in.UtxoID)}
			}
			utxos[in.UtxoID] = struct{}{}
		case types.InputMessage:
			if _, dup := messages[in.MessageID]; dup {
				return &Error{Kind: KindNotInsertedDuplicateIo, MessageID: in.MessageID, Reason: "message " + in.MessageID.Hex()}
			}
			messages[in.MessageID] = struct{}{}
		}
	}
	created := make(map[types.ContractID]struct{})
	for _, contract := range tx.CreatedContracts() {
		if _, dup := created[contract]; dup {
			return &Error{Kind: KindNotInsertedDuplicateIo, ContractID: contract, Reason: "contract " + contract.Hex()}
		}
		created[contract] = struct{}{}
	}
	return nil
}

// makeRoom evicts the cheapest transactions until the candidate fits,
// lowest price first and earliest insertion first on ties.
func (v *validator) makeRoom(ptx *PoolTx, store *Store, ancestors, evicted map[types.TxID]struct{}, evict func(types.TxID, *Error)) error {
	if v.cfg.MaxTx <= 0 {
		return nil
	}
	full := func() bool { return store.pendingNumber()-len(evicted) >= v.cfg.MaxTx }
	if !full() {
		return nil
	}

	reason := squeezedOut(fmt.Sprintf("pool limit hit, replaced by higher priced tx %s", ptx.ID.Hex()))
	var outbid bool
	store.ascending(func(cand *PoolTx) bool {
		if !full() {
			return false
		}
		if _, ok := evicted[cand.ID]; ok {
			return true
		}
		if _, ok := ancestors[cand.ID]; ok {
			return true
		}
		if cand.GasPrice >= ptx.GasPrice {
			outbid = true
			return false
		}
		evict(cand.ID, reason)
		return true
	})
	if outbid || full() {
		return ErrLimitHit
	}
	return nil
}

// checkCoin resolves a coin input against the pool first, then the chain.
// It returns the pooled parent that produces the coin, if any.
func (v *validator) checkCoin(in types.Input, store *Store) (*PoolTx, error) {
	if producer := store.get(in.UtxoID.TxID); producer != nil {
		outs := producer.Tx.Outputs
		if int(in.UtxoID.OutputIndex) >= len(outs) {
			return nil, &Error{Kind: KindNotInsertedOutputNotExisting, UtxoID: in.UtxoID}
		}
		out := outs[in.UtxoID.OutputIndex]
		switch out.Type {
		case types.OutputContract, types.OutputContractCreated:
			return nil, ErrIoContractOutput
		case types.OutputMessage:
			return nil, ErrIoMessageInput
		}
		if out.To != in.Owner {
			return nil, ErrIoWrongOwner
		}
		// change and variable amounts are only known after execution
		if out.Type == types.OutputCoin && out.Amount != in.Amount {
			return nil, ErrIoWrongAmount
		}
		if out.AssetID != in.AssetID {
			return nil, ErrIoWrongAssetID
		}
		return producer, nil
	}

	if !v.cfg.UtxoValidation {
		return nil, nil
	}
	coin, err := v.db.LookupUtxo(in.UtxoID)
	if err != nil {
		return nil, fmt.Errorf("lookup utxo %s: %w", in.UtxoID, err)
	}
	if coin == nil {
		return nil, &Error{Kind: KindNotInsertedInputUtxoIdNotExisting, UtxoID: in.UtxoID}
	}
	if coin.Status == types.CoinSpent {
		return nil, &Error{Kind: KindNotInsertedInputUtxoIdSpent, UtxoID: in.UtxoID}
	}
	if coin.Owner != in.Owner {
		return nil, ErrIoWrongOwner
	}
	if coin.Amount != in.Amount {
		return nil, ErrIoWrongAmount
	}
	if coin.AssetID != in.AssetID {
		return nil, ErrIoWrongAssetID
	}
	return nil, nil
}

func (v *validator) checkMessage(in types.Input) error {
	if types.ComputeMessageID(in.Sender, in.Recipient, in.Nonce, in.Amount, in.Data) != in.MessageID {
		return ErrIoWrongMessageID
	}
	if !v.cfg.UtxoValidation {
		return nil
	}
	msg, err := v.db.LookupMessage(in.MessageID)
	if err != nil {
		return fmt.Errorf("lookup message %s: %w", in.MessageID.Hex(), err)
	}
	if msg == nil {
		return &Error{Kind: KindNotInsertedInputMessageUnknown, MessageID: in.MessageID}
	}
	if msg.Spent {
		return &Error{Kind: KindNotInsertedInputMessageIdSpent, MessageID: in.MessageID}
	}
	return nil
}
