package txpool

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/internal/metrics"
	"github.com/insoblok/inso-txpool/pkg/types"
)

// request is one mailbox command. apply runs on the processor goroutine and
// is the only code allowed to touch the store.
type request interface {
	apply(s *Service)
}

// Service is the transaction pool's command processor. A single goroutine
// (Start) owns the Store and applies commands one at a time in mailbox order.
type Service struct {
	chain     *config.ChainConfig
	store     *Store
	validator *validator

	requests chan request
	done     chan struct{}
	stopOnce sync.Once

	updates event.Feed
	scope   event.SubscriptionScope

	metrics *metrics.Metrics
	logger  log.Logger
}

// NewService creates a stopped-until-started pool over the given chain state.
func NewService(cfg *config.TxPoolConfig, chain *config.ChainConfig, db Database) *Service {
	mailbox := cfg.MailboxSize
	if mailbox <= 0 {
		mailbox = 1
	}
	return &Service{
		chain:     chain,
		store:     NewStore(),
		validator: &validator{cfg: cfg, chain: chain, db: db},
		requests:  make(chan request, mailbox),
		done:      make(chan struct{}),
		logger:    log.New("module", "txpool"),
	}
}

// SetMetrics attaches Prometheus collectors. Must be called before Start.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Client returns a handle for issuing commands. Handles are cheap and safe
// for concurrent use.
func (s *Service) Client() *Client {
	return &Client{requests: s.requests, done: s.done}
}

// SubscribeTxUpdates delivers every pool state transition to ch in the order
// it is applied. Delivery is synchronous with the processor, so ch should be
// buffered and drained promptly.
func (s *Service) SubscribeTxUpdates(ch chan<- TxUpdate) event.Subscription {
	return s.scope.Track(s.updates.Subscribe(ch))
}

// Done is closed once the processor has stopped.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Start runs the command loop until a Stop command arrives or ctx is
// cancelled. It blocks; run it in its own goroutine.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Transaction pool started",
		"maxTx", s.validator.cfg.MaxTx,
		"maxDepth", s.validator.cfg.MaxDepth,
		"blockGasLimit", s.chain.BlockGasLimit,
	)
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			if _, ok := req.(stopRequest); ok {
				return
			}
			req.apply(s)
		}
	}
}

func (s *Service) shutdown() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.scope.Close()
		s.logger.Info("Transaction pool stopped", "pending", s.store.pendingNumber())
	})
}

// insert admits each transaction independently. One outcome per input, in
// input order.
func (s *Service) insert(txs []*types.Transaction) []InsertOutcome {
	outcomes := make([]InsertOutcome, len(txs))
	for i, tx := range txs {
		d, err := s.validator.validate(tx, s.store)
		if err != nil {
			outcomes[i].Err = err
			s.recordReject(tx, err)
			continue
		}

		removed := make([]*PoolTx, 0, len(d.evictions))
		for _, ev := range d.evictions {
			if ptx := s.store.get(ev.id); ptx != nil {
				removed = append(removed, ptx)
			}
		}
		ids := make([]types.TxID, len(d.evictions))
		for j, ev := range d.evictions {
			ids[j] = ev.id
		}
		s.store.remove(ids)
		s.store.insert(d.tx)

		for _, ev := range d.evictions {
			s.publish(TxUpdate{TxID: ev.id, SqueezedOut: ev.reason})
		}
		s.publish(TxUpdate{TxID: d.tx.ID})

		s.logger.Debug("Transaction added to pool",
			"hash", d.tx.ID.Hex(),
			"gasPrice", d.tx.GasPrice,
			"gas", d.tx.Gas,
			"depth", d.tx.Depth,
			"evicted", len(removed),
			"poolSize", s.store.pendingNumber(),
		)
		if s.metrics != nil {
			s.metrics.PoolInserted.Inc()
		}
		outcomes[i].Result = &InsertionResult{Inserted: d.tx, Removed: removed}
	}
	s.recordSize()
	return outcomes
}

// remove drops ids and everything depending on them.
func (s *Service) remove(ids []types.TxID) []*PoolTx {
	deps := s.store.findDependent(ids)
	depIDs := make([]types.TxID, len(deps))
	for i, ptx := range deps {
		depIDs[i] = ptx.ID
	}
	removed := s.store.remove(depIDs)
	for _, ptx := range removed {
		s.publish(TxUpdate{TxID: ptx.ID, SqueezedOut: ErrRemoved})
	}
	if len(removed) > 0 {
		s.logger.Debug("Transactions removed from pool", "requested", len(ids), "removed", len(removed))
	}
	s.recordSize()
	return removed
}

// removeCommitted drops transactions included in a block without touching
// their dependents.
func (s *Service) removeCommitted(ids []types.TxID) []*PoolTx {
	removed := s.store.removeCommitted(ids)
	for _, ptx := range removed {
		s.publish(TxUpdate{TxID: ptx.ID, SqueezedOut: ErrRemoved})
	}
	if len(removed) > 0 {
		s.logger.Debug("Committed transactions removed from pool", "removed", len(removed), "poolSize", s.store.pendingNumber())
	}
	s.recordSize()
	return removed
}

func (s *Service) publish(u TxUpdate) {
	s.updates.Send(u)
	if u.SqueezedOut != nil && s.metrics != nil {
		s.metrics.PoolEvicted.WithLabelValues(u.SqueezedOut.Kind.String()).Inc()
	}
}

func (s *Service) recordReject(tx *types.Transaction, err error) {
	kind := "Storage"
	var perr *Error
	if errors.As(err, &perr) {
		kind = perr.Kind.String()
	}
	s.logger.Debug("Transaction rejected", "hash", tx.ID().Hex(), "kind", kind, "err", err)
	if s.metrics != nil {
		s.metrics.PoolRejected.WithLabelValues(kind).Inc()
	}
}

func (s *Service) recordSize() {
	if s.metrics != nil {
		s.metrics.PoolSize.Set(float64(s.store.pendingNumber()))
	}
}

// Mailbox commands. Each carries a buffered single-use reply channel so the
// processor never blocks on a caller that went away.

type pendingNumberRequest struct{ reply chan int }

func (r pendingNumberRequest) apply(s *Service) { r.reply <- s.store.pendingNumber() }

type consumableGasRequest struct{ reply chan uint64 }

func (r consumableGasRequest) apply(s *Service) {
	r.reply <- s.store.consumableGas(s.chain.BlockGasLimit)
}

type includableRequest struct{ reply chan []*PoolTx }

func (r includableRequest) apply(s *Service) {
	r.reply <- s.store.includable(s.chain.BlockGasLimit)
}

type insertRequest struct {
	txs   []*types.Transaction
	reply chan []InsertOutcome
}

func (r insertRequest) apply(s *Service) { r.reply <- s.insert(r.txs) }

type findRequest struct {
	ids   []types.TxID
	reply chan []*TxInfo
}

func (r findRequest) apply(s *Service) { r.reply <- s.store.find(r.ids) }

type findOneRequest struct {
	id    types.TxID
	reply chan *TxInfo
}

func (r findOneRequest) apply(s *Service) { r.reply <- s.store.findOne(r.id) }

type findDependentRequest struct {
	ids   []types.TxID
	reply chan []*PoolTx
}

func (r findDependentRequest) apply(s *Service) { r.reply <- s.store.findDependent(r.ids) }

type removeRequest struct {
	ids   []types.TxID
	reply chan []*PoolTx
}

func (r removeRequest) apply(s *Service) { r.reply <- s.remove(r.ids) }

type removeCommittedRequest struct {
	ids   []types.TxID
	reply chan []*PoolTx
}

func (r removeCommittedRequest) apply(s *Service) { r.reply <- s.removeCommitted(r.ids) }

type filterByNegativeRequest struct {
	ids   []types.TxID
	reply chan []types.TxID
}

func (r filterByNegativeRequest) apply(s *Service) { r.reply <- s.store.filterByNegative(r.ids) }

type stopRequest struct{}

func (stopRequest) apply(*Service) {}
