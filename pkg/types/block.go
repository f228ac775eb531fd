package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// CoinStatus tracks whether an on-chain coin may still be spent.
type CoinStatus uint8

const (
	CoinUnspent CoinStatus = iota
	CoinSpent
)

// Coin is an on-chain unspent transaction output.
type Coin struct {
	Owner        Address    `json:"owner"`
	Amount       uint64     `json:"amount"`
	AssetID      AssetID    `json:"assetId"`
	Maturity     uint32     `json:"maturity"`
	BlockCreated uint32     `json:"blockCreated"`
	Status       CoinStatus `json:"status"`
}

// Message is a message relayed from the DA layer, spendable once.
type Message struct {
	Sender    Address `json:"sender"`
	Recipient Address `json:"recipient"`
	Nonce     uint64  `json:"nonce"`
	Amount    uint64  `json:"amount"`
	Data      []byte  `json:"data,omitempty"`
	DaHeight  uint64  `json:"daHeight"`
	Spent     bool    `json:"spent"`
}

// ID computes the message id from its contents.
func (m *Message) ID() MessageID {
	return ComputeMessageID(m.Sender, m.Recipient, m.Nonce, m.Amount, m.Data)
}

// Contract is a deployed contract. UtxoID is the contract output that
// currently holds it.
type Contract struct {
	Code         []byte      `json:"code"`
	Salt         common.Hash `json:"salt"`
	UtxoID       UtxoID      `json:"utxoId"`
	BlockCreated uint32      `json:"blockCreated"`
}

// BlockHeader describes a produced block.
type BlockHeader struct {
	Height     uint32      `json:"height"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
	Timestamp  uint64      `json:"timestamp"`
	GasUsed    uint64      `json:"gasUsed"`
	GasLimit   uint64      `json:"gasLimit"`
	TxCount    int         `json:"txCount"`
}

// Block is a produced block with its transactions.
type Block struct {
	Header       *BlockHeader   `json:"header"`
	Transactions []*Transaction `json:"transactions"`
}

// NewBlock creates a new Block.
func NewBlock(header *BlockHeader, txs []*Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}
