package chainstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// Batch collects chain-state writes and applies them atomically on Write.
// Reads through the Store do not observe pending writes.
type Batch struct {
	s      *Store
	b      ethdb.Batch
	height *uint32
}

// NewBatch starts a write batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{s: s, b: s.db.NewBatch()}
}

func (b *Batch) putRLP(key []byte, val interface{}) error {
	data, err := rlp.EncodeToBytes(val)
	if err != nil {
		return err
	}
	return b.b.Put(key, data)
}

// PutCoin stores a coin.
func (b *Batch) PutCoin(id types.UtxoID, coin *types.Coin) error {
	if err := b.putRLP(coinKey(id), coin); err != nil {
		return fmt.Errorf("put coin %s: %w", id, err)
	}
	return nil
}

// SpendCoin marks an existing coin as spent.
func (b *Batch) SpendCoin(id types.UtxoID) error {
	coin, err := b.s.LookupUtxo(id)
	if err != nil {
		return err
	}
	if coin == nil {
		return fmt.Errorf("spend coin %s: not found", id)
	}
	coin.Status = types.CoinSpent
	return b.PutCoin(id, coin)
}

// PutMessage stores a message under its computed id.
func (b *Batch) PutMessage(msg *types.Message) error {
	id := msg.ID()
	if err := b.putRLP(hashKey(prefixMessage, id), msg); err != nil {
		return fmt.Errorf("put message %s: %w", id.Hex(), err)
	}
	return nil
}

// SpendMessage marks an existing message as spent.
func (b *Batch) SpendMessage(id types.MessageID) error {
	msg, err := b.s.LookupMessage(id)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("spend message %s: not found", id.Hex())
	}
	msg.Spent = true
	return b.PutMessage(msg)
}

// PutContract stores a deployed contract.
func (b *Batch) PutContract(id types.ContractID, c *types.Contract) error {
	if err := b.putRLP(hashKey(prefixContract, id), c); err != nil {
		return fmt.Errorf("put contract %s: %w", id.Hex(), err)
	}
	return nil
}

// PutContractState stores one contract storage slot.
func (b *Batch) PutContractState(id types.ContractID, key common.Hash, value []byte) error {
	return b.b.Put(hashKey(prefixContractState, id, key), value)
}

// PutContractBalance sets a contract's balance of an asset.
func (b *Batch) PutContractBalance(id types.ContractID, asset types.AssetID, amount uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amount)
	return b.b.Put(hashKey(prefixContractBalance, id, asset), buf[:])
}

// WriteBlock stores a block, indexes its transactions and makes it the head.
func (b *Batch) WriteBlock(block *types.Block) error {
	rec := blockRecord{Header: block.Header, TxIDs: make([]types.TxID, 0, len(block.Transactions))}
	height := block.Header.Height
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], height)

	for _, tx := range block.Transactions {
		data, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode tx %s: %w", tx.ID().Hex(), err)
		}
		id := tx.ID()
		rec.TxIDs = append(rec.TxIDs, id)
		if err := b.b.Put(hashKey(prefixTx, id), data); err != nil {
			return err
		}
		if err := b.b.Put(hashKey(prefixTxBlock, id), num[:]); err != nil {
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := b.b.Put(heightKey(prefixBlock, height), data); err != nil {
		return err
	}
	if err := b.b.Put(hashKey(prefixBlockHash, block.Header.Hash), num[:]); err != nil {
		return err
	}
	if err := b.b.Put(keyCurrentBlock, num[:]); err != nil {
		return err
	}
	b.height = &height
	return nil
}

// Write commits the batch.
func (b *Batch) Write() error {
	if err := b.b.Write(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if b.height != nil {
		b.s.height.Store(*b.height)
		b.s.logger.Debug("Chain head updated", "height", *b.height)
	}
	b.b.Reset()
	b.height = nil
	return nil
}
