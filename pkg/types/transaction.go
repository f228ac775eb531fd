package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Identifiers used as conflict keys by the pool.
type (
	TxID       = common.Hash
	ContractID = common.Hash
	MessageID  = common.Hash
	AssetID    = common.Hash
	Address    = common.Hash
)

// UtxoID identifies a single transaction output.
type UtxoID struct {
	TxID        TxID  `json:"txId"`
	OutputIndex uint8 `json:"outputIndex"`
}

// String renders the UTXO as <txid>:<index>.
func (u UtxoID) String() string {
	return fmt.Sprintf("%s:%d", u.TxID.Hex(), u.OutputIndex)
}

// TxKind is the transaction type.
type TxKind uint8

const (
	TxScript TxKind = iota
	TxCreate
	TxMint
)

func (k TxKind) String() string {
	switch k {
	case TxScript:
		return "script"
	case TxCreate:
		return "create"
	case TxMint:
		return "mint"
	default:
		return "unknown"
	}
}

// InputType discriminates the fields of an Input.
type InputType uint8

const (
	InputCoin InputType = iota
	InputContract
	InputMessage
)

// Input is a flat tagged union over coin, contract and message inputs.
// Only the fields relevant to Type are meaningful.
type Input struct {
	Type InputType `json:"type"`

	// coin + contract
	UtxoID UtxoID `json:"utxoId"`

	// coin
	Owner   Address `json:"owner"`
	Amount  uint64  `json:"amount"`
	AssetID AssetID `json:"assetId"`

	// contract
	ContractID ContractID `json:"contractId"`

	// message
	MessageID MessageID `json:"messageId"`
	Sender    Address   `json:"sender"`
	Recipient Address   `json:"recipient"`
	Nonce     uint64    `json:"nonce"`
	Data      []byte    `json:"data,omitempty"`
}

// CoinInput builds a coin input.
func CoinInput(utxo UtxoID, owner Address, amount uint64, asset AssetID) Input {
	return Input{Type: InputCoin, UtxoID: utxo, Owner: owner, Amount: amount, AssetID: asset}
}

// ContractInput builds a contract input.
func ContractInput(utxo UtxoID, contract ContractID) Input {
	return Input{Type: InputContract, UtxoID: utxo, ContractID: contract}
}

// MessageInput builds a message input with its id computed from the other fields.
func MessageInput(sender, recipient Address, nonce, amount uint64, data []byte) Input {
	return Input{
		Type:      InputMessage,
		MessageID: ComputeMessageID(sender, recipient, nonce, amount, data),
		Sender:    sender,
		Recipient: recipient,
		Nonce:     nonce,
		Amount:    amount,
		Data:      data,
	}
}

// OutputType discriminates the fields of an Output.
type OutputType uint8

const (
	OutputCoin OutputType = iota
	OutputContract
	OutputChange
	OutputVariable
	OutputContractCreated
	OutputMessage
)

// Output is a flat tagged union over the supported output kinds.
type Output struct {
	Type OutputType `json:"type"`

	// coin, change, variable, message
	To      Address `json:"to"`
	Amount  uint64  `json:"amount"`
	AssetID AssetID `json:"assetId"`

	// contract
	InputIndex uint8 `json:"inputIndex"`

	// contract created
	ContractID ContractID  `json:"contractId"`
	StateRoot  common.Hash `json:"stateRoot"`
}

// IsCoin reports whether the output can be spent as a coin input.
func (o Output) IsCoin() bool {
	return o.Type == OutputCoin || o.Type == OutputChange || o.Type == OutputVariable
}

// Metadata is computed once, before a transaction enters the pool.
type Metadata struct {
	ID  TxID
	Gas uint64
}

// ChainParams holds the consensus parameters used by Precompute.
type ChainParams struct {
	GasPerByte uint64
}

// Transaction is an immutable UTXO-model transaction. After Precompute it
// must not be modified; the pool shares it by pointer.
type Transaction struct {
	Kind      TxKind   `json:"kind"`
	GasPrice  uint64   `json:"gasPrice"`
	GasLimit  uint64   `json:"gasLimit"`
	Maturity  uint32   `json:"maturity"`
	Inputs    []Input  `json:"inputs"`
	Outputs   []Output `json:"outputs"`
	Witnesses [][]byte `json:"witnesses,omitempty"`

	meta *Metadata
}

var errNoMetadata = errors.New("transaction metadata not computed")

// Precompute derives the transaction id and gas cost from its canonical encoding.
func (tx *Transaction) Precompute(params ChainParams) error {
	enc, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	tx.meta = &Metadata{
		ID:  crypto.Keccak256Hash(enc),
		Gas: gasCost(tx.GasLimit, params.GasPerByte, uint64(len(enc))),
	}
	return nil
}

// gasCost is limit + perByte*size, saturating at math.MaxUint64 so an
// oversized limit can never wrap below the block gas limit.
func gasCost(limit, perByte, size uint64) uint64 {
	hi, bytesGas := bits.Mul64(perByte, size)
	if hi != 0 {
		return math.MaxUint64
	}
	sum, carry := bits.Add64(limit, bytesGas, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// Metadata returns the precomputed metadata or nil.
func (tx *Transaction) Metadata() *Metadata { return tx.meta }

// ID returns the precomputed id, or the zero hash without metadata.
func (tx *Transaction) ID() TxID {
	if tx.meta == nil {
		return TxID{}
	}
	return tx.meta.ID
}

// Gas returns the precomputed gas cost.
func (tx *Transaction) Gas() (uint64, error) {
	if tx.meta == nil {
		return 0, errNoMetadata
	}
	return tx.meta.Gas, nil
}

// CreatedContracts returns the ids of contracts created by the transaction.
func (tx *Transaction) CreatedContracts() []ContractID {
	var ids []ContractID
	for _, out := range tx.Outputs {
		if out.Type == OutputContractCreated {
			ids = append(ids, out.ContractID)
		}
	}
	return ids
}

// MarshalBinary returns the canonical encoding; metadata is never part of it.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// DecodeTransaction parses a canonical encoding and precomputes metadata.
func DecodeTransaction(data []byte, params ChainParams) (*Transaction, error) {
	tx := new(Transaction)
	if err := rlp.DecodeBytes(data, tx); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	if err := tx.Precompute(params); err != nil {
		return nil, err
	}
	return tx, nil
}

// ComputeMessageID derives a message id from its contents.
func ComputeMessageID(sender, recipient Address, nonce, amount uint64, data []byte) MessageID {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], amount)
	return crypto.Keccak256Hash(sender.Bytes(), recipient.Bytes(), buf[:], data)
}
