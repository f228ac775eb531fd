package genesis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/insoblok/inso-txpool/internal/chainstate"
	"github.com/insoblok/inso-txpool/internal/snapshot"
	"github.com/insoblok/inso-txpool/pkg/types"
)

// ErrAlreadyInitialized is returned by Import when the store already has a
// genesis block.
var ErrAlreadyInitialized = errors.New("chain state already initialized")

// BaseAsset is the asset that pays for gas on devnet.
var BaseAsset = types.AssetID{}

// devnetOwners are the pre-funded devnet accounts.
var devnetOwners = []string{
	"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	"0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
	"0x90F79bf6EB2c4f870365E785982E1f101E93b906",
}

// DefaultState returns the devnet chain state: two base-asset coins for each
// devnet owner.
func DefaultState() *snapshot.StateConfig {
	txID := crypto.Keccak256Hash([]byte("inso-txpool devnet genesis"))
	state := &snapshot.StateConfig{}
	for i, hex := range devnetOwners {
		owner := common.BytesToHash(common.HexToAddress(hex).Bytes())
		for j := 0; j < 2; j++ {
			state.Coins = append(state.Coins, snapshot.CoinConfig{
				TxID:        txID,
				OutputIndex: uint8(i*2 + j),
				Owner:       owner,
				Amount:      10_000_000_000,
				AssetID:     BaseAsset,
			})
		}
	}
	return state
}

// Import loads a snapshot into an empty chain state and writes the genesis
// block at height 0. Tables are imported concurrently, one batch per group.
func Import(ctx context.Context, store *chainstate.Store, dec *snapshot.Decoder) error {
	logger := log.New("module", "genesis")

	existing, err := store.ReadBlock(0)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyInitialized
	}

	var counts [5]uint64
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := importTable(ctx, store, "coins", dec.Coins, func(b *chainstate.Batch, c snapshot.CoinConfig) error {
			return b.PutCoin(c.UtxoID(), &types.Coin{
				Owner:        c.Owner,
				Amount:       c.Amount,
				AssetID:      c.AssetID,
				Maturity:     c.Maturity,
				BlockCreated: c.BlockCreated,
			})
		})
		counts[0] = n
		return err
	})
	g.Go(func() error {
		n, err := importTable(ctx, store, "messages", dec.Messages, func(b *chainstate.Batch, m snapshot.MessageConfig) error {
			return b.PutMessage(&types.Message{
				Sender:    m.Sender,
				Recipient: m.Recipient,
				Nonce:     m.Nonce,
				Amount:    m.Amount,
				Data:      m.Data,
				DaHeight:  m.DaHeight,
			})
		})
		counts[1] = n
		return err
	})
	g.Go(func() error {
		n, err := importTable(ctx, store, "contracts", dec.Contracts, func(b *chainstate.Batch, c snapshot.ContractConfig) error {
			return b.PutContract(c.ContractID, &types.Contract{
				Code:         c.Code,
				Salt:         c.Salt,
				UtxoID:       types.UtxoID{TxID: c.TxID, OutputIndex: c.OutputIndex},
				BlockCreated: c.BlockCreated,
			})
		})
		counts[2] = n
		return err
	})
	g.Go(func() error {
		n, err := importTable(ctx, store, "contract_state", dec.ContractState, func(b *chainstate.Batch, s snapshot.ContractStateConfig) error {
			return b.PutContractState(s.ContractID, s.Key, s.Value)
		})
		counts[3] = n
		return err
	})
	g.Go(func() error {
		n, err := importTable(ctx, store, "contract_balance", dec.ContractBalance, func(b *chainstate.Batch, cb snapshot.ContractBalance) error {
			return b.PutContractBalance(cb.ContractID, cb.AssetID, cb.Amount)
		})
		counts[4] = n
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}

	var buf [8 * len(counts)]byte
	for i, n := range counts {
		binary.BigEndian.PutUint64(buf[i*8:], n)
	}
	header := &types.BlockHeader{
		Height: 0,
		Hash:   crypto.Keccak256Hash([]byte("genesis"), buf[:]),
	}
	batch := store.NewBatch()
	if err := batch.WriteBlock(types.NewBlock(header, nil)); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}

	logger.Info("Genesis state imported",
		"hash", header.Hash.Hex(),
		"coins", counts[0],
		"messages", counts[1],
		"contracts", counts[2],
		"slots", counts[3],
		"balances", counts[4],
	)
	return nil
}

// importTable writes every group of one table in its own batch and returns
// the number of entries written.
func importTable[T any](
	ctx context.Context,
	store *chainstate.Store,
	name string,
	open func() (snapshot.Iterator[T], error),
	put func(*chainstate.Batch, T) error,
) (uint64, error) {
	it, err := open()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	defer it.Close()

	var n uint64
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		group := it.Group()
		batch := store.NewBatch()
		for _, item := range group.Data {
			if err := put(batch, item); err != nil {
				return n, fmt.Errorf("%s group %d: %w", name, group.Index, err)
			}
		}
		if err := batch.Write(); err != nil {
			return n, fmt.Errorf("%s group %d: %w", name, group.Index, err)
		}
		n += uint64(len(group.Data))
	}
	if err := it.Err(); err != nil {
		return n, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// Export reads the spendable chain state back into a snapshot. Spent coins
// and messages are left out.
func Export(store *chainstate.Store) (*snapshot.StateConfig, error) {
	state := &snapshot.StateConfig{}

	err := store.IterateCoins(func(id types.UtxoID, c *types.Coin) error {
		if c.Status == types.CoinSpent {
			return nil
		}
		state.Coins = append(state.Coins, snapshot.CoinConfig{
			TxID:         id.TxID,
			OutputIndex:  id.OutputIndex,
			Owner:        c.Owner,
			Amount:       c.Amount,
			AssetID:      c.AssetID,
			Maturity:     c.Maturity,
			BlockCreated: c.BlockCreated,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = store.IterateMessages(func(m *types.Message) error {
		if m.Spent {
			return nil
		}
		state.Messages = append(state.Messages, snapshot.MessageConfig{
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Nonce:     m.Nonce,
			Amount:    m.Amount,
			Data:      m.Data,
			DaHeight:  m.DaHeight,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = store.IterateContracts(func(id types.ContractID, c *types.Contract) error {
		state.Contracts = append(state.Contracts, snapshot.ContractConfig{
			ContractID:   id,
			Code:         c.Code,
			Salt:         c.Salt,
			TxID:         c.UtxoID.TxID,
			OutputIndex:  c.UtxoID.OutputIndex,
			BlockCreated: c.BlockCreated,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = store.IterateContractState(func(id types.ContractID, key common.Hash, value []byte) error {
		state.ContractState = append(state.ContractState, snapshot.ContractStateConfig{ContractID: id, Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = store.IterateContractBalances(func(id types.ContractID, asset types.AssetID, amount uint64) error {
		state.ContractBalance = append(state.ContractBalance, snapshot.ContractBalance{ContractID: id, AssetID: asset, Amount: amount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
