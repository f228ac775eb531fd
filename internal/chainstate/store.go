package chainstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// Key prefixes for the chain-state database.
var (
	prefixCoin            = []byte("c") // c + txID + outputIndex -> Coin (RLP)
	prefixMessage         = []byte("m") // m + messageID -> Message (RLP)
	prefixContract        = []byte("k") // k + contractID -> Contract (RLP)
	prefixContractState   = []byte("s") // s + contractID + key -> value
	prefixContractBalance = []byte("a") // a + contractID + assetID -> amount (big-endian uint64)
	prefixBlock           = []byte("b") // b + height -> blockRecord (JSON)
	prefixBlockHash       = []byte("h") // h + hash -> height
	prefixTx              = []byte("t") // t + txID -> Transaction (RLP)
	prefixTxBlock         = []byte("n") // n + txID -> height
	keyCurrentBlock       = []byte("LastBlock")
)

// Store is the persistent chain state: coins, messages, contracts and
// blocks in a go-ethereum key-value database. Reads are safe for concurrent
// use; writes go through a Batch.
type Store struct {
	db     ethdb.Database
	params types.ChainParams
	height atomic.Uint32
	logger log.Logger
}

// blockRecord is the stored form of a block; transactions live under their
// own keys.
type blockRecord struct {
	Header *types.BlockHeader `json:"header"`
	TxIDs  []types.TxID       `json:"txIds"`
}

// Open opens or creates the chain-state database under dataDir. An empty
// dataDir gives an in-memory database.
func Open(dataDir string, params types.ChainParams) (*Store, error) {
	logger := log.New("module", "chainstate")

	if dataDir == "" {
		logger.Info("Using in-memory chain state")
		return New(rawdb.NewMemoryDatabase(), params), nil
	}

	path := filepath.Join(dataDir, "chainstate")
	db, err := rawdb.NewPebbleDBDatabase(path, 256, 256, "", false, false)
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	logger.Info("Chain state opened", "path", path)
	return New(db, params), nil
}

// New wraps an ethdb.Database.
func New(db ethdb.Database, params types.ChainParams) *Store {
	s := &Store{
		db:     db,
		params: params,
		logger: log.New("module", "chainstate"),
	}
	if data, err := db.Get(keyCurrentBlock); err == nil && len(data) == 4 {
		s.height.Store(binary.BigEndian.Uint32(data))
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func heightKey(prefix []byte, height uint32) []byte {
	key := make([]byte, len(prefix)+4)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], height)
	return key
}

func hashKey(prefix []byte, hashes ...common.Hash) []byte {
	key := make([]byte, 0, len(prefix)+32*len(hashes))
	key = append(key, prefix...)
	for _, h := range hashes {
		key = append(key, h.Bytes()...)
	}
	return key
}

func coinKey(id types.UtxoID) []byte {
	return append(hashKey(prefixCoin, id.TxID), id.OutputIndex)
}

// get returns nil, nil for a missing key.
func (s *Store) get(key []byte) ([]byte, error) {
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.db.Get(key)
}

func (s *Store) getRLP(key []byte, val interface{}) (bool, error) {
	data, err := s.get(key)
	if err != nil || data == nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, val); err != nil {
		return false, err
	}
	return true, nil
}

// --- Database port ---

// LookupUtxo returns the coin, or nil if it does not exist.
func (s *Store) LookupUtxo(id types.UtxoID) (*types.Coin, error) {
	var coin types.Coin
	found, err := s.getRLP(coinKey(id), &coin)
	if err != nil {
		return nil, fmt.Errorf("read coin %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &coin, nil
}

// ContractExists reports whether the contract is deployed.
func (s *Store) ContractExists(id types.ContractID) (bool, error) {
	return s.db.Has(hashKey(prefixContract, id))
}

// LookupMessage returns the message, or nil if it is unknown.
func (s *Store) LookupMessage(id types.MessageID) (*types.Message, error) {
	var msg types.Message
	found, err := s.getRLP(hashKey(prefixMessage, id), &msg)
	if err != nil {
		return nil, fmt.Errorf("read message %s: %w", id.Hex(), err)
	}
	if !found {
		return nil, nil
	}
	return &msg, nil
}

// CurrentBlockHeight returns the height of the latest block.
func (s *Store) CurrentBlockHeight() (uint32, error) {
	return s.height.Load(), nil
}

// --- Contracts ---

// Contract returns a deployed contract, or nil.
func (s *Store) Contract(id types.ContractID) (*types.Contract, error) {
	var c types.Contract
	found, err := s.getRLP(hashKey(prefixContract, id), &c)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", id.Hex(), err)
	}
	if !found {
		return nil, nil
	}
	return &c, nil
}

// ContractState returns one storage slot of a contract, or nil.
func (s *Store) ContractState(id types.ContractID, key common.Hash) ([]byte, error) {
	return s.get(hashKey(prefixContractState, id, key))
}

// ContractBalance returns a contract's balance of an asset.
func (s *Store) ContractBalance(id types.ContractID, asset types.AssetID) (uint64, error) {
	data, err := s.get(hashKey(prefixContractBalance, id, asset))
	if err != nil || len(data) != 8 {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

// --- Blocks ---

// ReadBlock retrieves a block by height, or nil.
func (s *Store) ReadBlock(height uint32) (*types.Block, error) {
	data, err := s.get(heightKey(prefixBlock, height))
	if err != nil || data == nil {
		return nil, err
	}

	var rec blockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal block %d: %w", height, err)
	}
	txs := make([]*types.Transaction, 0, len(rec.TxIDs))
	for _, id := range rec.TxIDs {
		tx, err := s.ReadTransaction(id)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, fmt.Errorf("block %d: transaction %s missing", height, id.Hex())
		}
		txs = append(txs, tx)
	}
	return types.NewBlock(rec.Header, txs), nil
}

// ReadBlockByHash retrieves a block by hash, or nil.
func (s *Store) ReadBlockByHash(hash common.Hash) (*types.Block, error) {
	data, err := s.get(hashKey(prefixBlockHash, hash))
	if err != nil || len(data) != 4 {
		return nil, err
	}
	return s.ReadBlock(binary.BigEndian.Uint32(data))
}

// ReadTransaction retrieves an included transaction with its metadata.
func (s *Store) ReadTransaction(id types.TxID) (*types.Transaction, error) {
	data, err := s.get(hashKey(prefixTx, id))
	if err != nil || data == nil {
		return nil, err
	}
	return types.DecodeTransaction(data, s.params)
}

// ReadTxBlockHeight returns the height of the block containing a transaction.
func (s *Store) ReadTxBlockHeight(id types.TxID) (uint32, bool) {
	data, err := s.get(hashKey(prefixTxBlock, id))
	if err != nil || len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

// --- Iteration ---

func (s *Store) iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := s.db.NewIterator(prefix, nil)
	defer it.Release()

	for it.Next() {
		if err := fn(it.Key()[len(prefix):], it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// IterateCoins visits every stored coin in key order.
func (s *Store) IterateCoins(fn func(types.UtxoID, *types.Coin) error) error {
	return s.iterate(prefixCoin, func(key, value []byte) error {
		if len(key) != 33 {
			return fmt.Errorf("malformed coin key %x", key)
		}
		var coin types.Coin
		if err := rlp.DecodeBytes(value, &coin); err != nil {
			return fmt.Errorf("decode coin: %w", err)
		}
		return fn(types.UtxoID{TxID: common.BytesToHash(key[:32]), OutputIndex: key[32]}, &coin)
	})
}

// IterateMessages visits every stored message in key order.
func (s *Store) IterateMessages(fn func(*types.Message) error) error {
	return s.iterate(prefixMessage, func(_, value []byte) error {
		var msg types.Message
		if err := rlp.DecodeBytes(value, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		return fn(&msg)
	})
}

// IterateContracts visits every deployed contract in key order.
func (s *Store) IterateContracts(fn func(types.ContractID, *types.Contract) error) error {
	return s.iterate(prefixContract, func(key, value []byte) error {
		var c types.Contract
		if err := rlp.DecodeBytes(value, &c); err != nil {
			return fmt.Errorf("decode contract: %w", err)
		}
		return fn(common.BytesToHash(key), &c)
	})
}

// IterateContractState visits every contract storage slot in key order.
func (s *Store) IterateContractState(fn func(id types.ContractID, key common.Hash, value []byte) error) error {
	return s.iterate(prefixContractState, func(key, value []byte) error {
		if len(key) != 64 {
			return fmt.Errorf("malformed contract state key %x", key)
		}
		return fn(common.BytesToHash(key[:32]), common.BytesToHash(key[32:]), common.CopyBytes(value))
	})
}

// IterateContractBalances visits every contract balance in key order.
func (s *Store) IterateContractBalances(fn func(id types.ContractID, asset types.AssetID, amount uint64) error) error {
	return s.iterate(prefixContractBalance, func(key, value []byte) error {
		if len(key) != 64 || len(value) != 8 {
			return fmt.Errorf("malformed contract balance entry %x", key)
		}
		return fn(common.BytesToHash(key[:32]), common.BytesToHash(key[32:]), binary.BigEndian.Uint64(value))
	})
}
