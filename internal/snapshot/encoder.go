package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/ethereum/go-ethereum/log"
)

// Encoder writes snapshots to a directory.
type Encoder struct {
	mem    memory.Allocator
	logger log.Logger
}

// NewEncoder creates an encoder using the default Arrow allocator.
func NewEncoder() *Encoder {
	return &Encoder{mem: memory.DefaultAllocator, logger: log.New("module", "snapshot")}
}

// WriteJSON writes state to dir/chain_state.json.
func (e *Encoder) WriteJSON(dir string, state *StateConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	path := filepath.Join(dir, JSONFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	e.logger.Info("Snapshot written", "path", path, "coins", len(state.Coins), "messages", len(state.Messages),
		"contracts", len(state.Contracts))
	return nil
}

// WriteArrow writes one Arrow IPC stream file per table, one record batch
// per group of groupSize entries.
func (e *Encoder) WriteArrow(dir string, state *StateConfig, groupSize int) error {
	if groupSize <= 0 {
		return fmt.Errorf("invalid group size %d", groupSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := writeTable(e.mem, dir, coinsTable, state.Coins, groupSize); err != nil {
		return err
	}
	if err := writeTable(e.mem, dir, messagesTable, state.Messages, groupSize); err != nil {
		return err
	}
	if err := writeTable(e.mem, dir, contractsTable, state.Contracts, groupSize); err != nil {
		return err
	}
	if err := writeTable(e.mem, dir, contractStateTable, state.ContractState, groupSize); err != nil {
		return err
	}
	if err := writeTable(e.mem, dir, contractBalanceTable, state.ContractBalance, groupSize); err != nil {
		return err
	}

	e.logger.Info("Arrow snapshot written", "dir", dir, "groupSize", groupSize,
		"coins", len(state.Coins), "messages", len(state.Messages), "contracts", len(state.Contracts))
	return nil
}

func writeTable[T any](mem memory.Allocator, dir string, t *table[T], items []T, groupSize int) error {
	path := filepath.Join(dir, t.fileName())
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := ipc.NewWriter(f, ipc.WithSchema(t.schema()), ipc.WithAllocator(mem))
	for start := 0; start < len(items); start += groupSize {
		end := start + groupSize
		if end > len(items) {
			end = len(items)
		}
		rec := t.record(mem, items[start:end])
		err := w.Write(rec)
		rec.Release()
		if err != nil {
			w.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return f.Sync()
}
