package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// JSONFileName is the name of a JSON-encoded snapshot inside a snapshot directory.
const JSONFileName = "chain_state.json"

// ErrNoSnapshot is returned by DetectEncoding when the directory holds
// neither a JSON nor an Arrow snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// Iterator walks one snapshot table group by group.
//
//	it, err := dec.Coins()
//	...
//	defer it.Close()
//	for it.Next() {
//		g := it.Group()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] interface {
	Next() bool
	Group() Group[T]
	Err() error
	Close() error
}

// Decoder reads a snapshot either from memory or from Arrow files. Every
// table accessor returns a fresh iterator, so a table can be read again from
// the start after a failed import.
type Decoder struct {
	state     *StateConfig
	groupSize int

	dir string
	mem memory.Allocator
}

// InMemory serves state in groups of groupSize entries.
func InMemory(state *StateConfig, groupSize int) *Decoder {
	if groupSize <= 0 {
		groupSize = 1
	}
	return &Decoder{state: state, groupSize: groupSize}
}

// LoadJSON reads dir/chain_state.json and serves it in memory.
func LoadJSON(dir string, groupSize int) (*Decoder, error) {
	data, err := os.ReadFile(filepath.Join(dir, JSONFileName))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var state StateConfig
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return InMemory(&state, groupSize), nil
}

// Arrow reads the per-table Arrow IPC files in dir. Group boundaries are the
// record batches written by the encoder.
func Arrow(dir string) *Decoder {
	return &Decoder{dir: dir, mem: memory.DefaultAllocator}
}

// DetectEncoding picks the decoder for dir: a JSON snapshot wins over Arrow
// files when both are present.
func DetectEncoding(dir string, groupSize int) (*Decoder, error) {
	if fileExists(filepath.Join(dir, JSONFileName)) {
		return LoadJSON(dir, groupSize)
	}
	if fileExists(filepath.Join(dir, coinsTable.fileName())) {
		return Arrow(dir), nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNoSnapshot, dir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (d *Decoder) Coins() (Iterator[CoinConfig], error) {
	return open(d, coinsTable, func(s *StateConfig) []CoinConfig { return s.Coins })
}

func (d *Decoder) Messages() (Iterator[MessageConfig], error) {
	return open(d, messagesTable, func(s *StateConfig) []MessageConfig { return s.Messages })
}

func (d *Decoder) Contracts() (Iterator[ContractConfig], error) {
	return open(d, contractsTable, func(s *StateConfig) []ContractConfig { return s.Contracts })
}

func (d *Decoder) ContractState() (Iterator[ContractStateConfig], error) {
	return open(d, contractStateTable, func(s *StateConfig) []ContractStateConfig { return s.ContractState })
}

func (d *Decoder) ContractBalance() (Iterator[ContractBalance], error) {
	return open(d, contractBalanceTable, func(s *StateConfig) []ContractBalance { return s.ContractBalance })
}

func open[T any](d *Decoder, t *table[T], items func(*StateConfig) []T) (Iterator[T], error) {
	if d.state != nil {
		return &sliceIter[T]{items: items(d.state), size: d.groupSize, index: -1}, nil
	}
	return openArrow(d.mem, filepath.Join(d.dir, t.fileName()), t)
}

type sliceIter[T any] struct {
	items []T
	size  int
	index int
}

func (it *sliceIter[T]) Next() bool {
	if (it.index+1)*it.size >= len(it.items) {
		return false
	}
	it.index++
	return true
}

func (it *sliceIter[T]) Group() Group[T] {
	start := it.index * it.size
	end := start + it.size
	if end > len(it.items) {
		end = len(it.items)
	}
	return Group[T]{Index: it.index, Data: it.items[start:end]}
}

func (it *sliceIter[T]) Err() error   { return nil }
func (it *sliceIter[T]) Close() error { return nil }

type arrowIter[T any] struct {
	f     *os.File
	r     *ipc.Reader
	t     *table[T]
	group Group[T]
	next  int
}

// openArrow opens an Arrow IPC stream file. A missing file is an empty table.
func openArrow[T any](mem memory.Allocator, path string, t *table[T]) (Iterator[T], error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &sliceIter[T]{size: 1, index: -1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r, err := ipc.NewReader(f, ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !r.Schema().Equal(t.schema()) {
		r.Release()
		f.Close()
		return nil, fmt.Errorf("%s: unexpected schema %s", path, r.Schema())
	}
	return &arrowIter[T]{f: f, r: r, t: t}, nil
}

func (it *arrowIter[T]) Next() bool {
	if !it.r.Next() {
		return false
	}
	it.group = Group[T]{Index: it.next, Data: it.t.rows(it.r.Record())}
	it.next++
	return true
}

func (it *arrowIter[T]) Group() Group[T] { return it.group }

func (it *arrowIter[T]) Err() error { return it.r.Err() }

func (it *arrowIter[T]) Close() error {
	it.r.Release()
	return it.f.Close()
}

// ReadAll opens a table and drains it into a single slice.
func ReadAll[T any](open func() (Iterator[T], error)) ([]T, error) {
	it, err := open()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []T
	for it.Next() {
		out = append(out, it.Group().Data...)
	}
	return out, it.Err()
}
