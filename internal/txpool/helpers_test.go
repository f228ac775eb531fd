package txpool

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-txpool/internal/config"
	"github.com/insoblok/inso-txpool/pkg/types"
)

var (
	owner = common.HexToHash("0x01")
	other = common.HexToHash("0x02")
	asset = common.HexToHash("0xaa")
)

// mockDB is an in-memory Database for tests.
type mockDB struct {
	mu        sync.RWMutex
	coins     map[types.UtxoID]*types.Coin
	contracts map[types.ContractID]bool
	messages  map[types.MessageID]*types.Message
	height    uint32
	err       error
}

func newMockDB() *mockDB {
	return &mockDB{
		coins:     make(map[types.UtxoID]*types.Coin),
		contracts: make(map[types.ContractID]bool),
		messages:  make(map[types.MessageID]*types.Message),
	}
}

func (db *mockDB) LookupUtxo(id types.UtxoID) (*types.Coin, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.err != nil {
		return nil, db.err
	}
	return db.coins[id], nil
}

func (db *mockDB) ContractExists(id types.ContractID) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.err != nil {
		return false, db.err
	}
	return db.contracts[id], nil
}

func (db *mockDB) LookupMessage(id types.MessageID) (*types.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.err != nil {
		return nil, db.err
	}
	return db.messages[id], nil
}

func (db *mockDB) CurrentBlockHeight() (uint32, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.height, nil
}

// addCoin puts an unspent coin owned by owner on chain and returns the
// matching input.
func (db *mockDB) addCoin(n byte, amount uint64) types.Input {
	utxo := types.UtxoID{TxID: common.BytesToHash([]byte{0xc0, n})}
	db.mu.Lock()
	db.coins[utxo] = &types.Coin{Owner: owner, Amount: amount, AssetID: asset}
	db.mu.Unlock()
	return types.CoinInput(utxo, owner, amount, asset)
}

// addMessage puts an unspent message on chain and returns the matching input.
func (db *mockDB) addMessage(nonce, amount uint64) types.Input {
	msg := &types.Message{Sender: other, Recipient: owner, Nonce: nonce, Amount: amount}
	db.mu.Lock()
	db.messages[msg.ID()] = msg
	db.mu.Unlock()
	return types.MessageInput(msg.Sender, msg.Recipient, msg.Nonce, msg.Amount, nil)
}

func (db *mockDB) addContract(id types.ContractID) {
	db.mu.Lock()
	db.contracts[id] = true
	db.mu.Unlock()
}

// makeTx builds a script transaction whose gas equals its gas limit.
func makeTx(t *testing.T, price, gasLimit uint64, ins []types.Input, outs []types.Output) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Kind:     types.TxScript,
		GasPrice: price,
		GasLimit: gasLimit,
		Inputs:   ins,
		Outputs:  outs,
	}
	require.NoError(t, tx.Precompute(types.ChainParams{}))
	return tx
}

// coinOut is a coin output to owner.
func coinOut(amount uint64) types.Output {
	return types.Output{Type: types.OutputCoin, To: owner, Amount: amount, AssetID: asset}
}

// spend returns the input spending output idx of a pooled tx.
func spend(parent *types.Transaction, idx uint8) types.Input {
	out := parent.Outputs[idx]
	return types.CoinInput(types.UtxoID{TxID: parent.ID(), OutputIndex: idx}, out.To, out.Amount, out.AssetID)
}

func testConfig() (*config.TxPoolConfig, *config.ChainConfig) {
	cfg := &config.TxPoolConfig{
		MaxTx:          100,
		MaxDepth:       10,
		MailboxSize:    16,
		UtxoValidation: true,
	}
	chain := &config.ChainConfig{BlockGasLimit: 1_000_000}
	return cfg, chain
}

// startPool runs a Service until the test ends.
func startPool(t *testing.T, db Database, tweak func(*config.TxPoolConfig, *config.ChainConfig)) (*Service, *Client) {
	t.Helper()
	cfg, chain := testConfig()
	if tweak != nil {
		tweak(cfg, chain)
	}
	svc := NewService(cfg, chain, db)
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-svc.Done()
	})
	return svc, svc.Client()
}

// insertOne submits a single transaction and returns its outcome.
func insertOne(t *testing.T, c *Client, tx *types.Transaction) (*InsertionResult, error) {
	t.Helper()
	outcomes, err := c.Insert(context.Background(), []*types.Transaction{tx})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	return outcomes[0].Result, outcomes[0].Err
}

func mustInsert(t *testing.T, c *Client, tx *types.Transaction) *InsertionResult {
	t.Helper()
	res, err := insertOne(t, c, tx)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func txIDs(txs []*PoolTx) []types.TxID {
	out := make([]types.TxID, len(txs))
	for i, ptx := range txs {
		out[i] = ptx.ID
	}
	return out
}
