package txpool

import (
	"github.com/insoblok/inso-txpool/pkg/types"
)

// Database is the read-only chain state the validator consults. It must be
// safe for concurrent use.
type Database interface {
	// LookupUtxo returns the coin, or nil if it does not exist.
	LookupUtxo(id types.UtxoID) (*types.Coin, error)

	// ContractExists reports whether the contract is deployed on chain.
	ContractExists(id types.ContractID) (bool, error)

	// LookupMessage returns the message, or nil if it is unknown.
	LookupMessage(id types.MessageID) (*types.Message, error)

	// CurrentBlockHeight returns the height of the latest block.
	CurrentBlockHeight() (uint32, error)
}
