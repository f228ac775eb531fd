package execution

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// Receipt commits to the execution of one transaction in a block.
type Receipt struct {
	TxID        types.TxID  `json:"txId"`
	BlockHeight uint32      `json:"blockHeight"`
	TxIndex     int         `json:"txIndex"`
	GasUsed     uint64      `json:"gasUsed"`
	CoinsSpent  int         `json:"coinsSpent"`
	CoinsMade   int         `json:"coinsCreated"`
	ReceiptHash common.Hash `json:"receiptHash"`
}

func newReceipt(tx *types.Transaction, height uint32, index int, gas uint64, spent, made int) *Receipt {
	r := &Receipt{
		TxID:        tx.ID(),
		BlockHeight: height,
		TxIndex:     index,
		GasUsed:     gas,
		CoinsSpent:  spent,
		CoinsMade:   made,
	}
	r.ReceiptHash = r.computeHash()
	return r
}

func (r *Receipt) computeHash() common.Hash {
	var buf [4 + 8*4]byte
	binary.BigEndian.PutUint32(buf[0:], r.BlockHeight)
	binary.BigEndian.PutUint64(buf[4:], uint64(r.TxIndex))
	binary.BigEndian.PutUint64(buf[12:], r.GasUsed)
	binary.BigEndian.PutUint64(buf[20:], uint64(r.CoinsSpent))
	binary.BigEndian.PutUint64(buf[28:], uint64(r.CoinsMade))
	return crypto.Keccak256Hash(r.TxID.Bytes(), buf[:])
}

// Verify reports whether the receipt hash matches its contents.
func (r *Receipt) Verify() bool {
	return r.ReceiptHash == r.computeHash()
}

// ReceiptStore keeps receipts of recently executed blocks in memory.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts map[types.TxID]*Receipt
	byBlock  map[uint32][]*Receipt
	logger   log.Logger
}

// NewReceiptStore creates an empty receipt store.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[types.TxID]*Receipt),
		byBlock:  make(map[uint32][]*Receipt),
		logger:   log.New("module", "receipts"),
	}
}

// Store records a receipt.
func (s *ReceiptStore) Store(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts[r.TxID] = r
	s.byBlock[r.BlockHeight] = append(s.byBlock[r.BlockHeight], r)
	s.logger.Trace("Receipt stored", "tx", r.TxID.Hex(), "block", r.BlockHeight)
}

// Get returns the receipt of a transaction, or nil.
func (s *ReceiptStore) Get(id types.TxID) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[id]
}

// GetByBlock returns the receipts of a block in execution order.
func (s *ReceiptStore) GetByBlock(height uint32) []*Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byBlock[height]
}

// Len returns the number of stored receipts.
func (s *ReceiptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// receiptRoot commits to a block's receipts.
func receiptRoot(receipts []*Receipt) common.Hash {
	hashes := make([]common.Hash, len(receipts))
	for i, r := range receipts {
		hashes[i] = r.ReceiptHash
	}
	return computeMerkleRoot(hashes)
}

// computeMerkleRoot computes a binary Merkle root from a list of hashes.
func computeMerkleRoot(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return common.Hash{}
	}

	for len(hashes) > 1 {
		var next []common.Hash
		for i := 0; i < len(hashes); i += 2 {
			if i+1 < len(hashes) {
				next = append(next, crypto.Keccak256Hash(hashes[i].Bytes(), hashes[i+1].Bytes()))
			} else {
				next = append(next, hashes[i])
			}
		}
		hashes = next
	}
	return hashes[0]
}
