package txpool

import (
	"errors"
	"fmt"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// ErrProcessorStopped is returned to callers when the command processor is
// no longer running. It is a transport failure, never a *Error.
var ErrProcessorStopped = errors.New("txpool: processor stopped")

// ErrorKind discriminates the pool-domain errors.
type ErrorKind int

const (
	KindNoMetadata ErrorKind = iota + 1
	KindNotSupportedTransactionType
	KindNotInsertedMaturity
	KindNotInsertedGasPriceTooLow
	KindNotInsertedTxKnown
	KindNotInsertedLimitHit
	KindNotInsertedCollision                // TxID, UtxoID
	KindNotInsertedCollisionContractId      // ContractID
	KindNotInsertedCollisionMessageId       // TxID, MessageID
	KindNotInsertedOutputNotExisting        // UtxoID
	KindNotInsertedInputContractNotExisting // ContractID
	KindNotInsertedContractIdAlreadyTaken   // ContractID
	KindNotInsertedInputUtxoIdNotExisting   // UtxoID
	KindNotInsertedInputUtxoIdSpent         // UtxoID
	KindNotInsertedInputMessageIdSpent      // MessageID
	KindNotInsertedInputMessageUnknown      // MessageID
	KindNotInsertedIoWrongOwner
	KindNotInsertedIoWrongAmount
	KindNotInsertedIoWrongAssetId
	KindNotInsertedIoWrongMessageId
	KindNotInsertedIoContractOutput
	KindNotInsertedIoMessageInput
	KindNotInsertedMaxDepth
	KindNotInsertedMaxGasLimit // TxGas, BlockLimit
	KindRemoved
	KindSqueezedOut            // Reason
	KindNotInsertedDuplicateIo // Reason
)

var kindNames = map[ErrorKind]string{
	KindNoMetadata:                          "NoMetadata",
	KindNotSupportedTransactionType:         "NotSupportedTransactionType",
	KindNotInsertedMaturity:                 "NotInsertedMaturity",
	KindNotInsertedGasPriceTooLow:           "NotInsertedGasPriceTooLow",
	KindNotInsertedTxKnown:                  "NotInsertedTxKnown",
	KindNotInsertedLimitHit:                 "NotInsertedLimitHit",
	KindNotInsertedCollision:                "NotInsertedCollision",
	KindNotInsertedCollisionContractId:      "NotInsertedCollisionContractId",
	KindNotInsertedCollisionMessageId:       "NotInsertedCollisionMessageId",
	KindNotInsertedOutputNotExisting:        "NotInsertedOutputNotExisting",
	KindNotInsertedInputContractNotExisting: "NotInsertedInputContractNotExisting",
	KindNotInsertedContractIdAlreadyTaken:   "NotInsertedContractIdAlreadyTaken",
	KindNotInsertedInputUtxoIdNotExisting:   "NotInsertedInputUtxoIdNotExisting",
	KindNotInsertedInputUtxoIdSpent:         "NotInsertedInputUtxoIdSpent",
	KindNotInsertedInputMessageIdSpent:      "NotInsertedInputMessageIdSpent",
	KindNotInsertedInputMessageUnknown:      "NotInsertedInputMessageUnknown",
	KindNotInsertedIoWrongOwner:             "NotInsertedIoWrongOwner",
	KindNotInsertedIoWrongAmount:            "NotInsertedIoWrongAmount",
	KindNotInsertedIoWrongAssetId:           "NotInsertedIoWrongAssetId",
	KindNotInsertedIoWrongMessageId:         "NotInsertedIoWrongMessageId",
	KindNotInsertedIoContractOutput:         "NotInsertedIoContractOutput",
	KindNotInsertedIoMessageInput:           "NotInsertedIoMessageInput",
	KindNotInsertedMaxDepth:                 "NotInsertedMaxDepth",
	KindNotInsertedMaxGasLimit:              "NotInsertedMaxGasLimit",
	KindRemoved:                             "Removed",
	KindSqueezedOut:                         "SqueezedOut",
	KindNotInsertedDuplicateIo:              "NotInsertedDuplicateIo",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a pool-domain error. Only the payload fields documented for its
// Kind are set.
type Error struct {
	Kind ErrorKind

	TxID       types.TxID
	UtxoID     types.UtxoID
	ContractID types.ContractID
	MessageID  types.MessageID
	TxGas      uint64
	BlockLimit uint64
	Reason     string
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNoMetadata                  = &Error{Kind: KindNoMetadata}
	ErrNotSupportedTransactionType = &Error{Kind: KindNotSupportedTransactionType}
	ErrMaturity                    = &Error{Kind: KindNotInsertedMaturity}
	ErrGasPriceTooLow              = &Error{Kind: KindNotInsertedGasPriceTooLow}
	ErrTxKnown                     = &Error{Kind: KindNotInsertedTxKnown}
	ErrLimitHit                    = &Error{Kind: KindNotInsertedLimitHit}
	ErrCollision                   = &Error{Kind: KindNotInsertedCollision}
	ErrCollisionContractID         = &Error{Kind: KindNotInsertedCollisionContractId}
	ErrCollisionMessageID          = &Error{Kind: KindNotInsertedCollisionMessageId}
	ErrOutputNotExisting           = &Error{Kind: KindNotInsertedOutputNotExisting}
	ErrInputContractNotExisting    = &Error{Kind: KindNotInsertedInputContractNotExisting}
	ErrContractIDAlreadyTaken      = &Error{Kind: KindNotInsertedContractIdAlreadyTaken}
	ErrInputUtxoNotExisting        = &Error{Kind: KindNotInsertedInputUtxoIdNotExisting}
	ErrInputUtxoSpent              = &Error{Kind: KindNotInsertedInputUtxoIdSpent}
	ErrInputMessageSpent           = &Error{Kind: KindNotInsertedInputMessageIdSpent}
	ErrInputMessageUnknown         = &Error{Kind: KindNotInsertedInputMessageUnknown}
	ErrIoWrongOwner                = &Error{Kind: KindNotInsertedIoWrongOwner}
	ErrIoWrongAmount               = &Error{Kind: KindNotInsertedIoWrongAmount}
	ErrIoWrongAssetID              = &Error{Kind: KindNotInsertedIoWrongAssetId}
	ErrIoWrongMessageID            = &Error{Kind: KindNotInsertedIoWrongMessageId}
	ErrIoContractOutput            = &Error{Kind: KindNotInsertedIoContractOutput}
	ErrIoMessageInput              = &Error{Kind: KindNotInsertedIoMessageInput}
	ErrMaxDepth                    = &Error{Kind: KindNotInsertedMaxDepth}
	ErrMaxGasLimit                 = &Error{Kind: KindNotInsertedMaxGasLimit}
	ErrRemoved                     = &Error{Kind: KindRemoved}
	ErrSqueezedOut                 = &Error{Kind: KindSqueezedOut}
	ErrDuplicateIo                 = &Error{Kind: KindNotInsertedDuplicateIo}
)

// Is matches any *Error of the same kind, so the sentinels above work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNoMetadata:
		return "txpool requires that transaction contains metadata"
	case KindNotSupportedTransactionType:
		return "txpool doesn't support this type of transaction"
	case KindNotInsertedMaturity:
		return "transaction is not inserted. Transaction maturity is above the current block height"
	case KindNotInsertedGasPriceTooLow:
		return "transaction is not inserted. The gas price is too low"
	case KindNotInsertedTxKnown:
		return "transaction is not inserted. Hash is already known"
	case KindNotInsertedLimitHit:
		return "transaction is not inserted. Pool limit is hit, try to increase gas_price"
	case KindNotInsertedCollision:
		return fmt.Sprintf("transaction is not inserted. More priced tx %s already spends this UTXO output: %s", e.TxID.Hex(), e.UtxoID)
	case KindNotInsertedCollisionContractId:
		return fmt.Sprintf("transaction is not inserted. More priced tx has created contract with ContractId %s", e.ContractID.Hex())
	case KindNotInsertedCollisionMessageId:
		return fmt.Sprintf("transaction is not inserted. A higher priced tx %s is already spending this messageId: %s", e.TxID.Hex(), e.MessageID.Hex())
	case KindNotInsertedOutputNotExisting:
		return fmt.Sprintf("transaction is not inserted. Dependent UTXO output is not existing: %s", e.UtxoID)
	case KindNotInsertedInputContractNotExisting:
		return fmt.Sprintf("transaction is not inserted. UTXO input contract is not existing: %s", e.ContractID.Hex())
	case KindNotInsertedContractIdAlreadyTaken:
		return fmt.Sprintf("transaction is not inserted. ContractId is already taken %s", e.ContractID.Hex())
	case KindNotInsertedInputUtxoIdNotExisting:
		return fmt.Sprintf("transaction is not inserted. UTXO is not existing: %s", e.UtxoID)
	case KindNotInsertedInputUtxoIdSpent:
		return fmt.Sprintf("transaction is not inserted. UTXO is spent: %s", e.UtxoID)
	case KindNotInsertedInputMessageIdSpent:
		return fmt.Sprintf("transaction is not inserted. Message is spent: %s", e.MessageID.Hex())
	case KindNotInsertedInputMessageUnknown:
		return fmt.Sprintf("transaction is not inserted. Message id %s does not match any received message from the DA layer", e.MessageID.Hex())
	case KindNotInsertedIoWrongOwner:
		return "transaction is not inserted. Input output mismatch. Coin owner is different from expected input"
	case KindNotInsertedIoWrongAmount:
		return "transaction is not inserted. Input output mismatch. Coin output does not match expected input"
	case KindNotInsertedIoWrongAssetId:
		return "transaction is not inserted. Input output mismatch. Coin output asset_id does not match expected inputs"
	case KindNotInsertedIoWrongMessageId:
		return "transaction is not inserted. The computed message id doesn't match the provided message id"
	case KindNotInsertedIoContractOutput:
		return "transaction is not inserted. Input output mismatch. Expected coin but output is contract"
	case KindNotInsertedIoMessageInput:
		return "transaction is not inserted. Input output mismatch. Expected coin but output is message"
	case KindNotInsertedMaxDepth:
		return "transaction is not inserted. Maximum depth of dependent transaction chain reached"
	case KindNotInsertedMaxGasLimit:
		return fmt.Sprintf("transaction exceeds the max gas per block limit. Tx gas: %d, block limit %d", e.TxGas, e.BlockLimit)
	case KindRemoved:
		return "transaction removed"
	case KindSqueezedOut:
		return "transaction squeezed out because " + e.Reason
	case KindNotInsertedDuplicateIo:
		return "transaction is not inserted. Resource is referenced twice: " + e.Reason
	default:
		return fmt.Sprintf("txpool error kind %d", e.Kind)
	}
}

func collisionErr(holder types.TxID, utxo types.UtxoID) *Error {
	return &Error{Kind: KindNotInsertedCollision, TxID: holder, UtxoID: utxo}
}

func collisionContractErr(contract types.ContractID) *Error {
	return &Error{Kind: KindNotInsertedCollisionContractId, ContractID: contract}
}

func collisionMessageErr(holder types.TxID, msg types.MessageID) *Error {
	return &Error{Kind: KindNotInsertedCollisionMessageId, TxID: holder, MessageID: msg}
}

func squeezedOut(reason string) *Error {
	return &Error{Kind: KindSqueezedOut, Reason: reason}
}
