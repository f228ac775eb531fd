package txpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/internal/metrics"
	"github.com/insoblok/inso-txpool/pkg/types"
)

func TestEndToEndReplacement(t *testing.T) {
	db := newMockDB()
	_, c := startPool(t, db, nil)
	ctx := context.Background()

	coinX := db.addCoin(1, 100)
	tx1 := makeTx(t, 10, 1000, []types.Input{coinX}, nil)
	res := mustInsert(t, c, tx1)
	require.Equal(t, tx1.ID(), res.Inserted.ID)
	require.Empty(t, res.Removed)

	tx2 := makeTx(t, 20, 1000, []types.Input{coinX}, nil)
	res = mustInsert(t, c, tx2)
	require.Equal(t, tx2.ID(), res.Inserted.ID)
	require.Equal(t, []types.TxID{tx1.ID()}, txIDs(res.Removed))

	info, err := c.FindOne(ctx, tx1.ID())
	require.NoError(t, err)
	require.Nil(t, info)
	info, err = c.FindOne(ctx, tx2.ID())
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Same(t, tx2, info.Tx.Tx)

	removed, err := c.Remove(ctx, []types.TxID{tx2.ID()})
	require.NoError(t, err)
	require.Equal(t, []types.TxID{tx2.ID()}, txIDs(removed))

	n, err := c.PendingNumber(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRemovePublishesUpdates(t *testing.T) {
	db := newMockDB()
	svc, c := startPool(t, db, nil)
	ctx := context.Background()

	updates := make(chan TxUpdate, 16)
	sub := svc.SubscribeTxUpdates(updates)
	defer sub.Unsubscribe()

	parent := makeTx(t, 10, 1000, []types.Input{db.addCoin(1, 100)}, []types.Output{coinOut(100)})
	child := makeTx(t, 10, 1000, []types.Input{spend(parent, 0)}, nil)
	mustInsert(t, c, parent)
	mustInsert(t, c, child)

	deps, err := c.FindDependent(ctx, []types.TxID{parent.ID()})
	require.NoError(t, err)
	require.ElementsMatch(t, []types.TxID{parent.ID(), child.ID()}, txIDs(deps))

	removed, err := c.Remove(ctx, []types.TxID{parent.ID()})
	require.NoError(t, err)
	require.ElementsMatch(t, []types.TxID{parent.ID(), child.ID()}, txIDs(removed))

	var got []TxUpdate
	for i := 0; i < 4; i++ {
		got = append(got, <-updates)
	}
	require.Equal(t, parent.ID(), got[0].TxID)
	require.False(t, got[0].WasSqueezedOut())
	require.Equal(t, child.ID(), got[1].TxID)
	for _, u := range got[2:] {
		require.ErrorIs(t, u.SqueezedOut, ErrRemoved)
	}
}

func TestRemoveTxsKeepsDependents(t *testing.T) {
	db := newMockDB()
	svc, c := startPool(t, db, nil)
	ctx := context.Background()

	parent := makeTx(t, 10, 1000, []types.Input{db.addCoin(1, 100)}, []types.Output{coinOut(100)})
	child := makeTx(t, 10, 1000, []types.Input{spend(parent, 0)}, nil)
	mustInsert(t, c, parent)
	mustInsert(t, c, child)

	updates := make(chan TxUpdate, 16)
	sub := svc.SubscribeTxUpdates(updates)
	defer sub.Unsubscribe()

	removed, err := c.RemoveTxs(ctx, []types.TxID{parent.ID()})
	require.NoError(t, err)
	require.Equal(t, []types.TxID{parent.ID()}, removed)

	u := <-updates
	require.Equal(t, parent.ID(), u.TxID)
	require.ErrorIs(t, u.SqueezedOut, ErrRemoved)
	require.Empty(t, updates)

	info, err := c.FindOne(ctx, child.ID())
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Zero(t, info.Tx.Depth)
	require.Empty(t, info.Tx.Parents)
}

func TestIncludableThroughClient(t *testing.T) {
	db := newMockDB()
	_, c := startPool(t, db, func(_ *config.TxPoolConfig, chain *config.ChainConfig) {
		chain.BlockGasLimit = 2500
	})
	ctx := context.Background()

	cheap := makeTx(t, 1, 1000, []types.Input{db.addCoin(1, 1)}, nil)
	mid := makeTx(t, 5, 1000, []types.Input{db.addCoin(2, 1)}, nil)
	dear := makeTx(t, 9, 1000, []types.Input{db.addCoin(3, 1)}, nil)
	for _, tx := range []*types.Transaction{cheap, mid, dear} {
		mustInsert(t, c, tx)
	}

	txs, err := c.Includable(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.TxID{dear.ID(), mid.ID()}, txIDs(txs))

	gas, err := c.TotalConsumableGas(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), gas)
}

func TestStopFailsCallers(t *testing.T) {
	db := newMockDB()
	svc, c := startPool(t, db, nil)
	ctx := context.Background()

	updates := make(chan TxUpdate, 1)
	sub := svc.SubscribeTxUpdates(updates)

	require.NoError(t, c.Stop(ctx))
	<-svc.Done()

	// subscriptions end with the processor
	select {
	case <-sub.Err():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on stop")
	}

	_, err := c.PendingNumber(ctx)
	require.ErrorIs(t, err, ErrProcessorStopped)
	_, err = c.Insert(ctx, []*types.Transaction{makeTx(t, 1, 1, nil, nil)})
	require.ErrorIs(t, err, ErrProcessorStopped)

	var perr *Error
	require.False(t, errors.As(err, &perr), "stopping is a transport error")
	require.NoError(t, c.Stop(ctx), "stopping twice is fine")
}

func TestCancelledCallerDoesNotCancelCommand(t *testing.T) {
	db := newMockDB()
	cfg, chain := testConfig()
	svc := NewService(cfg, chain, db)
	c := svc.Client()

	tx := makeTx(t, 10, 1000, []types.Input{db.addCoin(1, 1)}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		wg      sync.WaitGroup
		callErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, callErr = c.Insert(ctx, []*types.Transaction{tx})
	}()

	// the command is queued before anyone serves the mailbox
	require.Eventually(t, func() bool { return len(svc.requests) == 1 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()
	require.ErrorIs(t, callErr, context.Canceled)

	runCtx, stop := context.WithCancel(context.Background())
	defer func() {
		stop()
		<-svc.Done()
	}()
	go svc.Start(runCtx)

	info, err := c.FindOne(context.Background(), tx.ID())
	require.NoError(t, err)
	require.NotNil(t, info, "the abandoned insert still lands")
}

func TestConcurrentClients(t *testing.T) {
	db := newMockDB()
	_, c := startPool(t, db, nil)

	const n = 32
	txs := make([]*types.Transaction, n)
	for i := range txs {
		txs[i] = makeTx(t, uint64(i+1), 1000, []types.Input{db.addCoin(byte(i), 1)}, nil)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, tx := range txs {
		wg.Add(1)
		go func(tx *types.Transaction) {
			defer wg.Done()
			outcomes, err := c.Insert(context.Background(), []*types.Transaction{tx})
			if err == nil {
				err = outcomes[0].Err
			}
			errs <- err
		}(tx)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := c.PendingNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestServiceMetrics(t *testing.T) {
	db := newMockDB()
	m := metrics.New()

	cfg, chain := testConfig()
	svc := NewService(cfg, chain, db)
	svc.SetMetrics(m)
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)
	defer func() {
		cancel()
		<-svc.Done()
	}()
	c := svc.Client()

	tx := makeTx(t, 10, 1000, []types.Input{db.addCoin(1, 1)}, nil)
	mustInsert(t, c, tx)
	_, err := insertOne(t, c, tx)
	require.ErrorIs(t, err, ErrTxKnown)

	require.Equal(t, float64(1), testutil.ToFloat64(m.PoolSize))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PoolInserted))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PoolRejected.WithLabelValues("NotInsertedTxKnown")))
}
