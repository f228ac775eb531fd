package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/internal/execution"
	"github.com/insoblok/inso-txpool/internal/metrics"
	"github.com/insoblok/inso-txpool/internal/txpool"
	"github.com/insoblok/inso-txpool/pkg/types"
)

// TxPool is the narrow view of the transaction pool the producer needs.
type TxPool interface {
	PendingNumber(ctx context.Context) (int, error)
	TotalConsumableGas(ctx context.Context) (uint64, error)
	// RemoveTxs drops committed transactions and keeps their dependents.
	RemoveTxs(ctx context.Context, ids []types.TxID) ([]types.TxID, error)
	// Remove drops transactions together with everything spending from them.
	Remove(ctx context.Context, ids []types.TxID) ([]*txpool.PoolTx, error)
}

// TxSource yields the transactions for the next block in inclusion order.
type TxSource interface {
	Includable(ctx context.Context) ([]*txpool.PoolTx, error)
}

// Executor turns an ordered list of transactions into a committed block.
type Executor interface {
	ExecuteBlock(ctx context.Context, timestamp uint64, txs []*types.Transaction) (*execution.ExecutionResult, error)
}

// Producer periodically builds a block from the pool's includable set,
// executes it and removes the included transactions from the pool.
type Producer struct {
	mu      sync.Mutex
	cfg     *config.ProducerConfig
	pool    TxPool
	source  TxSource
	exec    Executor
	metrics *metrics.Metrics
	logger  log.Logger
	now     func() time.Time
}

// New creates a block producer.
func New(cfg *config.ProducerConfig, pool TxPool, source TxSource, exec Executor) *Producer {
	return &Producer{
		cfg:    cfg,
		pool:   pool,
		source: source,
		exec:   exec,
		logger: log.New("module", "producer"),
		now:    time.Now,
	}
}

// SetMetrics attaches Prometheus collectors.
func (p *Producer) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Start runs the production loop until ctx is cancelled.
func (p *Producer) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.BlockTime)
	defer ticker.Stop()

	p.logger.Info("Block producer started", "blockTime", p.cfg.BlockTime, "minPending", p.cfg.MinPending)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Block producer stopped")
			return
		case <-ticker.C:
			if _, err := p.ProduceBlock(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("Block production failed", "err", err)
			}
		}
	}
}

// ProduceBlock builds one block. It returns nil without error when fewer
// than MinPending transactions are waiting.
func (p *Producer) ProduceBlock(ctx context.Context) (*execution.ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending, err := p.pool.PendingNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending number: %w", err)
	}
	if pending < p.cfg.MinPending {
		p.logger.Trace("Not enough pending transactions", "pending", pending, "min", p.cfg.MinPending)
		return nil, nil
	}

	consumable, err := p.pool.TotalConsumableGas(ctx)
	if err != nil {
		return nil, fmt.Errorf("consumable gas: %w", err)
	}

	selected, err := p.source.Includable(ctx)
	if err != nil {
		return nil, fmt.Errorf("includable: %w", err)
	}
	txs := make([]*types.Transaction, len(selected))
	for i, ptx := range selected {
		txs[i] = ptx.Tx
	}

	res, err := p.exec.ExecuteBlock(ctx, uint64(p.now().Unix()), txs)
	if err != nil {
		return nil, fmt.Errorf("execute block: %w", err)
	}

	// Included txs leave the pool and their dependents stay. Txs the chain
	// state rejects leave with everything built on them.
	included := make([]types.TxID, len(res.Block.Transactions))
	for i, tx := range res.Block.Transactions {
		included[i] = tx.ID()
	}
	committed, err := p.pool.RemoveTxs(ctx, included)
	if err != nil {
		return res, fmt.Errorf("remove committed txs: %w", err)
	}
	var invalid []types.TxID
	for _, s := range res.Skipped {
		if s.Invalid() {
			invalid = append(invalid, s.Tx.ID())
		}
	}
	var dropped []*txpool.PoolTx
	if len(invalid) > 0 {
		if dropped, err = p.pool.Remove(ctx, invalid); err != nil {
			return res, fmt.Errorf("remove invalid txs: %w", err)
		}
	}

	header := res.Block.Header
	if p.metrics != nil {
		p.metrics.BlockHeight.Set(float64(header.Height))
		p.metrics.BlocksProduced.Inc()
		p.metrics.TxProcessed.Add(float64(header.TxCount))
		p.metrics.GasUsedTotal.Add(float64(header.GasUsed))
	}

	if header.TxCount > 0 {
		p.logger.Info("Block produced",
			"height", header.Height,
			"txCount", header.TxCount,
			"gasUsed", header.GasUsed,
			"consumable", consumable,
			"committed", len(committed),
			"dropped", len(dropped),
			"hash", header.Hash.Hex()[:10],
		)
	} else {
		p.logger.Debug("Empty block produced", "height", header.Height)
	}
	return res, nil
}
