package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-txpool/internal/chainstate"
	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/internal/execution"
	"github.com/insoblok/inso-txpool/internal/metrics"
	"github.com/insoblok/inso-txpool/internal/txpool"
	"github.com/insoblok/inso-txpool/pkg/types"
)

var (
	alice = common.HexToHash("0x01")
	bob   = common.HexToHash("0x02")
)

type fakePool struct {
	pending   int
	committed []types.TxID
	dropped   []types.TxID
	err       error
}

func (f *fakePool) PendingNumber(context.Context) (int, error) { return f.pending, f.err }

func (f *fakePool) TotalConsumableGas(context.Context) (uint64, error) { return 0, nil }

func (f *fakePool) RemoveTxs(_ context.Context, ids []types.TxID) ([]types.TxID, error) {
	f.committed = append(f.committed, ids...)
	return ids, nil
}

func (f *fakePool) Remove(_ context.Context, ids []types.TxID) ([]*txpool.PoolTx, error) {
	f.dropped = append(f.dropped, ids...)
	out := make([]*txpool.PoolTx, len(ids))
	for i, id := range ids {
		out[i] = &txpool.PoolTx{ID: id}
	}
	return out, nil
}

type fakeSource struct{ txs []*txpool.PoolTx }

func (f *fakeSource) Includable(context.Context) ([]*txpool.PoolTx, error) { return f.txs, nil }

type fakeExecutor struct {
	calls int
	res   *execution.ExecutionResult
}

func (f *fakeExecutor) ExecuteBlock(_ context.Context, _ uint64, txs []*types.Transaction) (*execution.ExecutionResult, error) {
	f.calls++
	if f.res != nil {
		return f.res, nil
	}
	return &execution.ExecutionResult{
		Block: types.NewBlock(&types.BlockHeader{Height: 1, TxCount: len(txs)}, txs),
	}, nil
}

func precomputed(t *testing.T, price uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{GasPrice: price, GasLimit: 10}
	require.NoError(t, tx.Precompute(types.ChainParams{}))
	return tx
}

func TestProduceBlock_MinPending(t *testing.T) {
	pool := &fakePool{pending: 1}
	exec := &fakeExecutor{}
	p := New(&config.ProducerConfig{BlockTime: time.Second, MinPending: 2}, pool, &fakeSource{}, exec)

	res, err := p.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Nil(t, res)
	require.Zero(t, exec.calls)

	pool.pending = 2
	res, err = p.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 1, exec.calls)
}

func TestProduceBlock_PoolError(t *testing.T) {
	stopped := errors.New("stopped")
	p := New(&config.ProducerConfig{}, &fakePool{err: stopped}, &fakeSource{}, &fakeExecutor{})
	_, err := p.ProduceBlock(context.Background())
	require.ErrorIs(t, err, stopped)
}

func TestProduceBlock_RemovesIncludedAndInvalid(t *testing.T) {
	included := precomputed(t, 1)
	invalid := precomputed(t, 2)
	tooBig := precomputed(t, 3)

	exec := &fakeExecutor{res: &execution.ExecutionResult{
		Block: types.NewBlock(&types.BlockHeader{Height: 4, TxCount: 1, GasUsed: 10}, []*types.Transaction{included}),
		Skipped: []*execution.SkippedTx{
			{Tx: invalid, Err: execution.ErrCoinSpent},
			{Tx: tooBig, Err: execution.ErrBlockGasExceeded},
		},
	}}
	pool := &fakePool{pending: 3}
	p := New(&config.ProducerConfig{MinPending: 1}, pool, &fakeSource{}, exec)
	m := metrics.New()
	p.SetMetrics(m)

	_, err := p.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, []types.TxID{included.ID()}, pool.committed)
	require.Equal(t, []types.TxID{invalid.ID()}, pool.dropped, "gas-skipped txs stay pooled")

	require.Equal(t, float64(4), testutil.ToFloat64(m.BlockHeight))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BlocksProduced))
	require.Equal(t, float64(10), testutil.ToFloat64(m.GasUsedTotal))
}

// The pool, executor and chain state wired together the way the node runs them.
func TestProduceBlock_Integration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := chainstate.New(rawdb.NewMemoryDatabase(), types.ChainParams{})
	coin := types.UtxoID{TxID: common.HexToHash("0xc0")}
	b := store.NewBatch()
	require.NoError(t, b.PutCoin(coin, &types.Coin{Owner: alice, Amount: 100}))
	require.NoError(t, b.Write())

	poolCfg := &config.TxPoolConfig{MaxTx: 10, MaxDepth: 4, MailboxSize: 8, UtxoValidation: true}
	chainCfg := &config.ChainConfig{BlockGasLimit: 1_000}
	svc := txpool.NewService(poolCfg, chainCfg, store)
	go svc.Start(ctx)
	client := svc.Client()

	parent := &types.Transaction{
		GasPrice: 5, GasLimit: 100,
		Inputs:  []types.Input{types.CoinInput(coin, alice, 100, types.AssetID{})},
		Outputs: []types.Output{{Type: types.OutputCoin, To: bob, Amount: 100}},
	}
	require.NoError(t, parent.Precompute(chainCfg.Params()))
	child := &types.Transaction{
		GasPrice: 5, GasLimit: 100,
		Inputs:  []types.Input{types.CoinInput(types.UtxoID{TxID: parent.ID()}, bob, 100, types.AssetID{})},
		Outputs: []types.Output{{Type: types.OutputCoin, To: alice, Amount: 100}},
	}
	require.NoError(t, child.Precompute(chainCfg.Params()))

	outcomes, err := client.Insert(ctx, []*types.Transaction{parent, child})
	require.NoError(t, err)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}

	p := New(&config.ProducerConfig{MinPending: 1}, client, client, execution.NewExecutor(store, chainCfg.BlockGasLimit))
	res, err := p.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Len(t, res.Block.Transactions, 2)
	require.Equal(t, parent.ID(), res.Block.Transactions[0].ID())

	n, err := client.PendingNumber(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	height, _ := store.CurrentBlockHeight()
	require.Equal(t, uint32(1), height)
	out, err := store.LookupUtxo(types.UtxoID{TxID: child.ID()})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, alice, out.Owner)

	// nothing pending: no block
	res, err = p.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Nil(t, res)
}

// A child that did not fit the block stays pooled once its parent is on chain,
// and makes it into the next block.
func TestProduceBlock_GasSkippedChildSurvives(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := chainstate.New(rawdb.NewMemoryDatabase(), types.ChainParams{})
	coin := types.UtxoID{TxID: common.HexToHash("0xc0")}
	b := store.NewBatch()
	require.NoError(t, b.PutCoin(coin, &types.Coin{Owner: alice, Amount: 100}))
	require.NoError(t, b.Write())

	poolCfg := &config.TxPoolConfig{MaxTx: 10, MaxDepth: 4, MailboxSize: 8, UtxoValidation: true}
	chainCfg := &config.ChainConfig{BlockGasLimit: 150}
	svc := txpool.NewService(poolCfg, chainCfg, store)
	go svc.Start(ctx)
	client := svc.Client()

	updates := make(chan txpool.TxUpdate, 16)
	sub := svc.SubscribeTxUpdates(updates)
	defer sub.Unsubscribe()

	parent := &types.Transaction{
		GasPrice: 5, GasLimit: 100,
		Inputs:  []types.Input{types.CoinInput(coin, alice, 100, types.AssetID{})},
		Outputs: []types.Output{{Type: types.OutputCoin, To: bob, Amount: 100}},
	}
	require.NoError(t, parent.Precompute(chainCfg.Params()))
	child := &types.Transaction{
		GasPrice: 5, GasLimit: 100,
		Inputs:  []types.Input{types.CoinInput(types.UtxoID{TxID: parent.ID()}, bob, 100, types.AssetID{})},
		Outputs: []types.Output{{Type: types.OutputCoin, To: alice, Amount: 100}},
	}
	require.NoError(t, child.Precompute(chainCfg.Params()))

	outcomes, err := client.Insert(ctx, []*types.Transaction{parent, child})
	require.NoError(t, err)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}

	p := New(&config.ProducerConfig{MinPending: 1}, client, client, execution.NewExecutor(store, chainCfg.BlockGasLimit))
	res, err := p.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Len(t, res.Block.Transactions, 1)
	require.Equal(t, parent.ID(), res.Block.Transactions[0].ID())

	info, err := client.FindOne(ctx, child.ID())
	require.NoError(t, err)
	require.NotNil(t, info, "child must stay pooled")
	require.Zero(t, info.Tx.Depth)
	require.Empty(t, info.Tx.Parents)

	// submitted parent, submitted child, removed parent; nothing for the child
	for _, want := range []types.TxID{parent.ID(), child.ID(), parent.ID()} {
		u := <-updates
		require.Equal(t, want, u.TxID)
	}
	require.Empty(t, updates)

	res, err = p.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Len(t, res.Block.Transactions, 1)
	require.Equal(t, child.ID(), res.Block.Transactions[0].ID())

	n, err := client.PendingNumber(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
