package chainstate

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"

	"github.com/insoblok/inso-txpool/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(rawdb.NewMemoryDatabase(), types.ChainParams{GasPerByte: 1})
}

func TestStore_Coins(t *testing.T) {
	s := newTestStore(t)
	id := types.UtxoID{TxID: common.HexToHash("0x11"), OutputIndex: 2}
	coin := &types.Coin{Owner: common.HexToHash("0x01"), Amount: 500, AssetID: common.HexToHash("0xaa"), BlockCreated: 3}

	if got, err := s.LookupUtxo(id); err != nil || got != nil {
		t.Fatalf("expected missing coin, got %v, %v", got, err)
	}

	b := s.NewBatch()
	if err := b.PutCoin(id, coin); err != nil {
		t.Fatalf("PutCoin: %v", err)
	}
	// not visible before Write
	if got, _ := s.LookupUtxo(id); got != nil {
		t.Fatal("batch writes should not be visible before Write")
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := s.LookupUtxo(id)
	if err != nil {
		t.Fatalf("LookupUtxo: %v", err)
	}
	if got == nil || got.Amount != 500 || got.Owner != coin.Owner || got.Status != types.CoinUnspent {
		t.Fatalf("unexpected coin %+v", got)
	}

	b = s.NewBatch()
	if err := b.SpendCoin(id); err != nil {
		t.Fatalf("SpendCoin: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ = s.LookupUtxo(id)
	if got.Status != types.CoinSpent {
		t.Error("coin should be spent")
	}

	if err := s.NewBatch().SpendCoin(types.UtxoID{}); err == nil {
		t.Error("spending a missing coin should fail")
	}
}

func TestStore_Messages(t *testing.T) {
	s := newTestStore(t)
	msg := &types.Message{
		Sender:    common.HexToHash("0x01"),
		Recipient: common.HexToHash("0x02"),
		Nonce:     7,
		Amount:    10,
		Data:      []byte{1, 2, 3},
	}

	b := s.NewBatch()
	if err := b.PutMessage(msg); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := s.LookupMessage(msg.ID())
	if err != nil || got == nil {
		t.Fatalf("LookupMessage: %v, %v", got, err)
	}
	if got.Nonce != 7 || !bytes.Equal(got.Data, msg.Data) || got.Spent {
		t.Errorf("unexpected message %+v", got)
	}

	b = s.NewBatch()
	if err := b.SpendMessage(msg.ID()); err != nil {
		t.Fatalf("SpendMessage: %v", err)
	}
	b.Write()
	got, _ = s.LookupMessage(msg.ID())
	if !got.Spent {
		t.Error("message should be spent")
	}

	if got, _ := s.LookupMessage(common.HexToHash("0xdead")); got != nil {
		t.Error("unknown message should be nil")
	}
}

func TestStore_Contracts(t *testing.T) {
	s := newTestStore(t)
	id := common.HexToHash("0xc1")
	asset := common.HexToHash("0xaa")
	slot := common.HexToHash("0x05")

	b := s.NewBatch()
	b.PutContract(id, &types.Contract{Code: []byte{0x60, 0x00}, Salt: common.HexToHash("0x5a")})
	b.PutContractState(id, slot, []byte("value"))
	b.PutContractBalance(id, asset, 42)
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if ok, err := s.ContractExists(id); err != nil || !ok {
		t.Fatalf("ContractExists = %v, %v", ok, err)
	}
	if ok, _ := s.ContractExists(common.HexToHash("0xc2")); ok {
		t.Error("unknown contract should not exist")
	}

	c, err := s.Contract(id)
	if err != nil || c == nil || !bytes.Equal(c.Code, []byte{0x60, 0x00}) {
		t.Fatalf("Contract = %+v, %v", c, err)
	}
	if v, _ := s.ContractState(id, slot); string(v) != "value" {
		t.Errorf("ContractState = %q", v)
	}
	if bal, _ := s.ContractBalance(id, asset); bal != 42 {
		t.Errorf("ContractBalance = %d, want 42", bal)
	}
	if bal, _ := s.ContractBalance(id, common.HexToHash("0xbb")); bal != 0 {
		t.Errorf("missing balance should be 0, got %d", bal)
	}
}

func TestStore_WriteAndReadBlock(t *testing.T) {
	s := newTestStore(t)

	tx := &types.Transaction{GasPrice: 1, GasLimit: 100, Outputs: []types.Output{{Type: types.OutputCoin, Amount: 5}}}
	if err := tx.Precompute(types.ChainParams{GasPerByte: 1}); err != nil {
		t.Fatal(err)
	}
	header := &types.BlockHeader{Height: 1, Hash: common.HexToHash("0x1111"), Timestamp: 1000, TxCount: 1}

	b := s.NewBatch()
	if err := b.WriteBlock(types.NewBlock(header, []*types.Transaction{tx})); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if h, _ := s.CurrentBlockHeight(); h != 0 {
		t.Errorf("height should not move before Write, got %d", h)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if h, _ := s.CurrentBlockHeight(); h != 1 {
		t.Errorf("expected height 1, got %d", h)
	}

	got, err := s.ReadBlock(1)
	if err != nil || got == nil {
		t.Fatalf("ReadBlock: %v, %v", got, err)
	}
	if len(got.Transactions) != 1 || got.Transactions[0].ID() != tx.ID() {
		t.Errorf("unexpected transactions in block")
	}
	gas, _ := got.Transactions[0].Gas()
	want, _ := tx.Gas()
	if gas != want {
		t.Errorf("decoded gas %d, want %d", gas, want)
	}

	byHash, err := s.ReadBlockByHash(header.Hash)
	if err != nil || byHash == nil || byHash.Header.Height != 1 {
		t.Fatalf("ReadBlockByHash: %v, %v", byHash, err)
	}
	if height, ok := s.ReadTxBlockHeight(tx.ID()); !ok || height != 1 {
		t.Errorf("ReadTxBlockHeight = %d, %v", height, ok)
	}
	if missing, _ := s.ReadBlock(9); missing != nil {
		t.Error("missing block should be nil")
	}
}

func TestStore_HeightSurvivesReopen(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	s := New(db, types.ChainParams{})

	b := s.NewBatch()
	b.WriteBlock(types.NewBlock(&types.BlockHeader{Height: 7}, nil))
	if err := b.Write(); err != nil {
		t.Fatal(err)
	}

	reopened := New(db, types.ChainParams{})
	if h, _ := reopened.CurrentBlockHeight(); h != 7 {
		t.Errorf("expected height 7 after reopen, got %d", h)
	}
}

func TestStore_Iterate(t *testing.T) {
	s := newTestStore(t)
	b := s.NewBatch()
	for i := byte(0); i < 3; i++ {
		b.PutCoin(types.UtxoID{TxID: common.BytesToHash([]byte{i}), OutputIndex: i}, &types.Coin{Amount: uint64(i)})
	}
	b.PutMessage(&types.Message{Nonce: 1})
	b.PutContract(common.HexToHash("0xc1"), &types.Contract{})
	b.PutContractState(common.HexToHash("0xc1"), common.HexToHash("0x01"), []byte{1})
	b.PutContractBalance(common.HexToHash("0xc1"), common.HexToHash("0xaa"), 9)
	b.WriteBlock(types.NewBlock(&types.BlockHeader{Height: 1}, nil))
	if err := b.Write(); err != nil {
		t.Fatal(err)
	}

	var coins []uint64
	if err := s.IterateCoins(func(id types.UtxoID, c *types.Coin) error {
		if id.OutputIndex != uint8(c.Amount) {
			t.Errorf("coin %s has amount %d", id, c.Amount)
		}
		coins = append(coins, c.Amount)
		return nil
	}); err != nil {
		t.Fatalf("IterateCoins: %v", err)
	}
	if len(coins) != 3 {
		t.Errorf("expected 3 coins, got %d", len(coins))
	}

	counts := map[string]int{}
	s.IterateMessages(func(*types.Message) error { counts["msg"]++; return nil })
	s.IterateContracts(func(types.ContractID, *types.Contract) error { counts["contract"]++; return nil })
	s.IterateContractState(func(types.ContractID, common.Hash, []byte) error { counts["state"]++; return nil })
	s.IterateContractBalances(func(_ types.ContractID, _ types.AssetID, amount uint64) error {
		if amount != 9 {
			t.Errorf("balance = %d", amount)
		}
		counts["balance"]++
		return nil
	})
	for _, k := range []string{"msg", "contract", "state", "balance"} {
		if counts[k] != 1 {
			t.Errorf("expected 1 %s entry, got %d", k, counts[k])
		}
	}
}
