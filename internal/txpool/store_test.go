package txpool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-txpool/pkg/types"
)

func poolTx(n byte, price, gas uint64, parents ...*PoolTx) *PoolTx {
	ptx := &PoolTx{
		ID:       common.BytesToHash([]byte{0x7a, n}),
		GasPrice: price,
		Gas:      gas,
	}
	for _, p := range parents {
		ptx.Parents = append(ptx.Parents, p.ID)
		if p.Depth+1 > ptx.Depth {
			ptx.Depth = p.Depth + 1
		}
	}
	// each tx spends one utxo of its own so index bookkeeping is exercised
	ptx.SpentUtxos = []types.UtxoID{{TxID: ptx.ID, OutputIndex: 0xff}}
	return ptx
}

func TestStoreIncludableOrder(t *testing.T) {
	s := NewStore()
	low := poolTx(1, 5, 10)
	highA := poolTx(2, 10, 10)
	highB := poolTx(3, 10, 10)
	child := poolTx(4, 100, 10, low)
	for _, ptx := range []*PoolTx{low, highA, highB, child} {
		s.insert(ptx)
	}

	got := txIDs(s.includable(0))
	require.Equal(t, []types.TxID{highA.ID, highB.ID, low.ID, child.ID}, got,
		"parents first, then price desc with FIFO ties")
	require.Equal(t, uint64(40), s.consumableGas(0))
}

func TestStoreIncludableGasLimit(t *testing.T) {
	s := NewStore()
	big := poolTx(1, 50, 80)
	bigChild := poolTx(2, 60, 5, big)
	small := poolTx(3, 10, 30)
	tiny := poolTx(4, 5, 20)
	for _, ptx := range []*PoolTx{big, bigChild, small, tiny} {
		s.insert(ptx)
	}

	got := txIDs(s.includable(90))
	require.Equal(t, []types.TxID{big.ID, bigChild.ID}, got)

	got = txIDs(s.includable(60))
	require.Equal(t, []types.TxID{small.ID, tiny.ID}, got, "an oversized parent takes its children with it")
	require.Equal(t, uint64(50), s.consumableGas(60))
}

func TestStoreRemoveCascades(t *testing.T) {
	s := NewStore()
	root := poolTx(1, 10, 1)
	mid := poolTx(2, 10, 1, root)
	leaf := poolTx(3, 10, 1, mid)
	unrelated := poolTx(4, 10, 1)
	for _, ptx := range []*PoolTx{root, mid, leaf, unrelated} {
		s.insert(ptx)
	}

	removed := s.remove([]types.TxID{root.ID, common.HexToHash("0x404")})
	require.Equal(t, []types.TxID{root.ID, mid.ID, leaf.ID}, txIDs(removed))
	require.Equal(t, 1, s.pendingNumber())

	// indices are cleaned up with the entries
	_, ok := s.utxoSpender(leaf.SpentUtxos[0])
	require.False(t, ok)
	require.Empty(t, s.children)
	require.Equal(t, 1, s.byPrice.Size())
}

func TestStoreFindDependent(t *testing.T) {
	s := NewStore()
	root := poolTx(1, 1, 1)
	cheap := poolTx(2, 3, 1, root)
	dear := poolTx(3, 9, 1, root)
	grandchild := poolTx(4, 5, 1, cheap, dear)
	for _, ptx := range []*PoolTx{root, cheap, dear, grandchild} {
		s.insert(ptx)
	}

	got := txIDs(s.findDependent([]types.TxID{cheap.ID, root.ID}))
	require.Equal(t, []types.TxID{dear.ID, grandchild.ID, cheap.ID, root.ID}, got)
	require.Equal(t, 2, grandchild.Depth)

	require.Empty(t, s.findDependent([]types.TxID{common.HexToHash("0x404")}))
}

func TestStoreFilterByNegative(t *testing.T) {
	s := NewStore()
	a, b := poolTx(1, 1, 1), poolTx(2, 1, 1)
	s.insert(a)
	s.insert(b)

	x, y := common.HexToHash("0xe1"), common.HexToHash("0xe2")
	require.Equal(t, []types.TxID{y, x}, s.filterByNegative([]types.TxID{y, a.ID, x, b.ID}))
	require.Empty(t, s.filterByNegative([]types.TxID{a.ID, b.ID}))
}

func TestStoreAscending(t *testing.T) {
	s := NewStore()
	first := poolTx(1, 5, 1)
	dear := poolTx(2, 9, 1)
	second := poolTx(3, 5, 1)
	cheap := poolTx(4, 1, 1)
	for _, ptx := range []*PoolTx{first, dear, second, cheap} {
		s.insert(ptx)
	}

	var got []types.TxID
	s.ascending(func(ptx *PoolTx) bool {
		got = append(got, ptx.ID)
		return true
	})
	require.Equal(t, []types.TxID{cheap.ID, first.ID, second.ID, dear.ID}, got)
}

func TestStoreAncestors(t *testing.T) {
	s := NewStore()
	root := poolTx(1, 1, 1)
	mid := poolTx(2, 1, 1, root)
	s.insert(root)
	s.insert(mid)

	anc := s.ancestors([]types.TxID{mid.ID})
	require.Len(t, anc, 2)
	require.Contains(t, anc, root.ID)
	require.Contains(t, anc, mid.ID)
}

func TestStoreRemoveCommittedKeepsDependents(t *testing.T) {
	s := NewStore()
	root := poolTx(1, 10, 10)
	side := poolTx(2, 10, 10)
	child := poolTx(3, 10, 10, root)
	grandchild := poolTx(4, 10, 10, child, side)
	for _, ptx := range []*PoolTx{root, side, child, grandchild} {
		s.insert(ptx)
	}
	require.Equal(t, 2, grandchild.Depth)

	removed := s.removeCommitted([]types.TxID{root.ID})
	require.Equal(t, []types.TxID{root.ID}, txIDs(removed))
	require.Equal(t, 3, s.pendingNumber())

	gotChild := s.get(child.ID)
	require.Empty(t, gotChild.Parents)
	require.Zero(t, gotChild.Depth)

	gotGrandchild := s.get(grandchild.ID)
	require.Equal(t, []types.TxID{child.ID, side.ID}, gotGrandchild.Parents)
	require.Equal(t, 1, gotGrandchild.Depth)

	// values handed out earlier are never mutated
	require.Equal(t, []types.TxID{root.ID}, child.Parents)
	require.Equal(t, 1, child.Depth)

	// the price index serves the refreshed value
	got := txIDs(s.includable(0))
	require.Equal(t, []types.TxID{side.ID, child.ID, grandchild.ID}, got)
	require.Same(t, gotChild, s.includable(0)[1])

	// removing the child now cascades through the refreshed links
	require.Len(t, s.remove([]types.TxID{child.ID}), 2)
	require.Equal(t, 1, s.pendingNumber())
}
