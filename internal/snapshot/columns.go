package snapshot

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/ethereum/go-ethereum/common"
)

var hashType = &arrow.FixedSizeBinaryType{ByteWidth: common.HashLength}

// column maps one field of T to one Arrow column.
type column[T any] struct {
	field arrow.Field
	put   func(b array.Builder, v *T)
	get   func(a arrow.Array, row int, v *T)
}

func hashCol[T any](name string, f func(*T) *common.Hash) column[T] {
	return column[T]{
		field: arrow.Field{Name: name, Type: hashType},
		put: func(b array.Builder, v *T) {
			b.(*array.FixedSizeBinaryBuilder).Append(f(v).Bytes())
		},
		get: func(a arrow.Array, row int, v *T) {
			*f(v) = common.BytesToHash(a.(*array.FixedSizeBinary).Value(row))
		},
	}
}

func bytesCol[T any](name string, f func(*T) *[]byte) column[T] {
	return column[T]{
		field: arrow.Field{Name: name, Type: arrow.BinaryTypes.Binary},
		put: func(b array.Builder, v *T) {
			b.(*array.BinaryBuilder).Append(*f(v))
		},
		get: func(a arrow.Array, row int, v *T) {
			if val := a.(*array.Binary).Value(row); len(val) > 0 {
				*f(v) = common.CopyBytes(val)
			}
		},
	}
}

func uint64Col[T any](name string, f func(*T) *uint64) column[T] {
	return column[T]{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Uint64},
		put: func(b array.Builder, v *T) {
			b.(*array.Uint64Builder).Append(*f(v))
		},
		get: func(a arrow.Array, row int, v *T) {
			*f(v) = a.(*array.Uint64).Value(row)
		},
	}
}

func uint32Col[T any](name string, f func(*T) *uint32) column[T] {
	return column[T]{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Uint32},
		put: func(b array.Builder, v *T) {
			b.(*array.Uint32Builder).Append(*f(v))
		},
		get: func(a arrow.Array, row int, v *T) {
			*f(v) = a.(*array.Uint32).Value(row)
		},
	}
}

func uint8Col[T any](name string, f func(*T) *uint8) column[T] {
	return column[T]{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Uint8},
		put: func(b array.Builder, v *T) {
			b.(*array.Uint8Builder).Append(*f(v))
		},
		get: func(a arrow.Array, row int, v *T) {
			*f(v) = a.(*array.Uint8).Value(row)
		},
	}
}

// table is the columnar layout of one snapshot file.
type table[T any] struct {
	name string
	cols []column[T]
}

func (t *table[T]) schema() *arrow.Schema {
	fields := make([]arrow.Field, len(t.cols))
	for i, c := range t.cols {
		fields[i] = c.field
	}
	return arrow.NewSchema(fields, nil)
}

func (t *table[T]) fileName() string {
	return t.name + ".arrow"
}

// record converts items into one record batch. The caller releases it.
func (t *table[T]) record(mem memory.Allocator, items []T) arrow.Record {
	builder := array.NewRecordBuilder(mem, t.schema())
	defer builder.Release()

	for i := range items {
		for j, c := range t.cols {
			c.put(builder.Field(j), &items[i])
		}
	}
	return builder.NewRecord()
}

// rows converts a record batch with t's schema back into items.
func (t *table[T]) rows(rec arrow.Record) []T {
	n := int(rec.NumRows())
	out := make([]T, n)
	for j, c := range t.cols {
		col := rec.Column(j)
		for row := 0; row < n; row++ {
			c.get(col, row, &out[row])
		}
	}
	return out
}

var (
	coinsTable = &table[CoinConfig]{name: "coins", cols: []column[CoinConfig]{
		hashCol("tx_id", func(c *CoinConfig) *common.Hash { return &c.TxID }),
		uint8Col("output_index", func(c *CoinConfig) *uint8 { return &c.OutputIndex }),
		hashCol("owner", func(c *CoinConfig) *common.Hash { return &c.Owner }),
		uint64Col("amount", func(c *CoinConfig) *uint64 { return &c.Amount }),
		hashCol("asset_id", func(c *CoinConfig) *common.Hash { return &c.AssetID }),
		uint32Col("maturity", func(c *CoinConfig) *uint32 { return &c.Maturity }),
		uint32Col("block_created", func(c *CoinConfig) *uint32 { return &c.BlockCreated }),
	}}

	messagesTable = &table[MessageConfig]{name: "messages", cols: []column[MessageConfig]{
		hashCol("sender", func(m *MessageConfig) *common.Hash { return &m.Sender }),
		hashCol("recipient", func(m *MessageConfig) *common.Hash { return &m.Recipient }),
		uint64Col("nonce", func(m *MessageConfig) *uint64 { return &m.Nonce }),
		uint64Col("amount", func(m *MessageConfig) *uint64 { return &m.Amount }),
		bytesCol("data", func(m *MessageConfig) *[]byte { return &m.Data }),
		uint64Col("da_height", func(m *MessageConfig) *uint64 { return &m.DaHeight }),
	}}

	contractsTable = &table[ContractConfig]{name: "contracts", cols: []column[ContractConfig]{
		hashCol("contract_id", func(c *ContractConfig) *common.Hash { return &c.ContractID }),
		bytesCol("code", func(c *ContractConfig) *[]byte { return &c.Code }),
		hashCol("salt", func(c *ContractConfig) *common.Hash { return &c.Salt }),
		hashCol("tx_id", func(c *ContractConfig) *common.Hash { return &c.TxID }),
		uint8Col("output_index", func(c *ContractConfig) *uint8 { return &c.OutputIndex }),
		uint32Col("block_created", func(c *ContractConfig) *uint32 { return &c.BlockCreated }),
	}}

	contractStateTable = &table[ContractStateConfig]{name: "contract_state", cols: []column[ContractStateConfig]{
		hashCol("contract_id", func(s *ContractStateConfig) *common.Hash { return &s.ContractID }),
		hashCol("key", func(s *ContractStateConfig) *common.Hash { return &s.Key }),
		bytesCol("value", func(s *ContractStateConfig) *[]byte { return &s.Value }),
	}}

	contractBalanceTable = &table[ContractBalance]{name: "contract_balance", cols: []column[ContractBalance]{
		hashCol("contract_id", func(b *ContractBalance) *common.Hash { return &b.ContractID }),
		hashCol("asset_id", func(b *ContractBalance) *common.Hash { return &b.AssetID }),
		uint64Col("amount", func(b *ContractBalance) *uint64 { return &b.Amount }),
	}}
)
