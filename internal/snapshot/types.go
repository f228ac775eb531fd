package snapshot

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// CoinConfig is an unspent coin in the snapshot.
type CoinConfig struct {
	TxID         types.TxID    `json:"tx_id"`
	OutputIndex  uint8         `json:"output_index"`
	Owner        types.Address `json:"owner"`
	Amount       uint64        `json:"amount"`
	AssetID      types.AssetID `json:"asset_id"`
	Maturity     uint32        `json:"maturity"`
	BlockCreated uint32        `json:"block_created"`
}

// UtxoID returns the coin's identifier.
func (c *CoinConfig) UtxoID() types.UtxoID {
	return types.UtxoID{TxID: c.TxID, OutputIndex: c.OutputIndex}
}

// MessageConfig is an unspent DA-layer message in the snapshot.
type MessageConfig struct {
	Sender    types.Address `json:"sender"`
	Recipient types.Address `json:"recipient"`
	Nonce     uint64        `json:"nonce"`
	Amount    uint64        `json:"amount"`
	Data      []byte        `json:"data,omitempty"`
	DaHeight  uint64        `json:"da_height"`
}

// ContractConfig is a deployed contract in the snapshot.
type ContractConfig struct {
	ContractID   types.ContractID `json:"contract_id"`
	Code         []byte           `json:"code"`
	Salt         common.Hash      `json:"salt"`
	TxID         types.TxID       `json:"tx_id"`
	OutputIndex  uint8            `json:"output_index"`
	BlockCreated uint32           `json:"block_created"`
}

// ContractStateConfig is one contract storage slot.
type ContractStateConfig struct {
	ContractID types.ContractID `json:"contract_id"`
	Key        common.Hash      `json:"key"`
	Value      []byte           `json:"value"`
}

// ContractBalance is a contract's balance of one asset.
type ContractBalance struct {
	ContractID types.ContractID `json:"contract_id"`
	AssetID    types.AssetID    `json:"asset_id"`
	Amount     uint64           `json:"amount"`
}

// StateConfig is a full chain-state snapshot.
type StateConfig struct {
	Coins           []CoinConfig          `json:"coins"`
	Messages        []MessageConfig       `json:"messages"`
	Contracts       []ContractConfig      `json:"contracts"`
	ContractState   []ContractStateConfig `json:"contract_state"`
	ContractBalance []ContractBalance     `json:"contract_balance"`
}

// Group is one batch of snapshot entries. Index counts groups from zero.
type Group[T any] struct {
	Index int
	Data  []T
}
