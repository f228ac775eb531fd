package txpool

import (
	"container/heap"
	"sort"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// priceKey orders the price index: lowest price first, then insertion order.
type priceKey struct {
	price uint64
	seq   uint64
}

func priceKeyComparator(a, b interface{}) int {
	ka, kb := a.(priceKey), b.(priceKey)
	switch {
	case ka.price < kb.price:
		return -1
	case ka.price > kb.price:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// Store owns the pooled transactions and their indices. It is not safe for
// concurrent use; the Service is its only caller.
type Store struct {
	txs              map[types.TxID]*PoolTx
	spentUtxos       map[types.UtxoID]types.TxID
	spentMessages    map[types.MessageID]types.TxID
	createdContracts map[types.ContractID]types.TxID
	children         map[types.TxID]map[types.TxID]struct{}
	byPrice          *treemap.Map // priceKey -> *PoolTx
	nextSeq          uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		txs:              make(map[types.TxID]*PoolTx),
		spentUtxos:       make(map[types.UtxoID]types.TxID),
		spentMessages:    make(map[types.MessageID]types.TxID),
		createdContracts: make(map[types.ContractID]types.TxID),
		children:         make(map[types.TxID]map[types.TxID]struct{}),
		byPrice:          treemap.NewWith(priceKeyComparator),
	}
}

func keyOf(ptx *PoolTx) priceKey {
	return priceKey{price: ptx.GasPrice, seq: ptx.seq}
}

func (s *Store) insert(ptx *PoolTx) {
	ptx.seq = s.nextSeq
	s.nextSeq++

	s.txs[ptx.ID] = ptx
	for _, utxo := range ptx.SpentUtxos {
		s.spentUtxos[utxo] = ptx.ID
	}
	for _, msg := range ptx.SpentMessages {
		s.spentMessages[msg] = ptx.ID
	}
	for _, contract := range ptx.CreatedContracts {
		s.createdContracts[contract] = ptx.ID
	}
	for _, parent := range ptx.Parents {
		kids, ok := s.children[parent]
		if !ok {
			kids = make(map[types.TxID]struct{})
			s.children[parent] = kids
		}
		kids[ptx.ID] = struct{}{}
	}
	s.byPrice.Put(keyOf(ptx), ptx)
}

// remove deletes every id together with all of its dependents and returns
// what was removed, each id before its descendants.
func (s *Store) remove(ids []types.TxID) []*PoolTx {
	var removed []*PoolTx
	for _, id := range ids {
		if _, ok := s.txs[id]; !ok {
			continue
		}
		for _, ptx := range s.dependents(id) {
			s.removeOne(ptx)
			removed = append(removed, ptx)
		}
	}
	return removed
}

// removeCommitted drops transactions that made it into a block. Their
// dependents stay pooled with the committed parents detached and depths
// recomputed, since the outputs they spend are now on chain.
func (s *Store) removeCommitted(ids []types.TxID) []*PoolTx {
	var (
		removed []*PoolTx
		orphans []types.TxID
	)
	for _, id := range ids {
		ptx, ok := s.txs[id]
		if !ok {
			continue
		}
		for child := range s.children[id] {
			orphans = append(orphans, child)
		}
		s.removeOne(ptx)
		removed = append(removed, ptx)
	}

	// Depths only shrink, so relaxing until nothing changes terminates.
	for len(orphans) > 0 {
		id := orphans[0]
		orphans = orphans[1:]
		old, ok := s.txs[id]
		if !ok {
			continue
		}
		parents := make([]types.TxID, 0, len(old.Parents))
		depth := 0
		for _, pid := range old.Parents {
			parent, ok := s.txs[pid]
			if !ok {
				continue
			}
			parents = append(parents, pid)
			if parent.Depth+1 > depth {
				depth = parent.Depth + 1
			}
		}
		if depth == old.Depth && len(parents) == len(old.Parents) {
			continue
		}
		// PoolTx values are shared with readers, so replace rather than mutate.
		fresh := *old
		fresh.Parents = parents
		fresh.Depth = depth
		s.txs[id] = &fresh
		s.byPrice.Put(keyOf(&fresh), &fresh)
		for child := range s.children[id] {
			orphans = append(orphans, child)
		}
	}
	return removed
}

func (s *Store) removeOne(ptx *PoolTx) {
	delete(s.txs, ptx.ID)
	for _, utxo := range ptx.SpentUtxos {
		if s.spentUtxos[utxo] == ptx.ID {
			delete(s.spentUtxos, utxo)
		}
	}
	for _, msg := range ptx.SpentMessages {
		if s.spentMessages[msg] == ptx.ID {
			delete(s.spentMessages, msg)
		}
	}
	for _, contract := range ptx.CreatedContracts {
		if s.createdContracts[contract] == ptx.ID {
			delete(s.createdContracts, contract)
		}
	}
	for _, parent := range ptx.Parents {
		if kids, ok := s.children[parent]; ok {
			delete(kids, ptx.ID)
			if len(kids) == 0 {
				delete(s.children, parent)
			}
		}
	}
	delete(s.children, ptx.ID)
	s.byPrice.Remove(keyOf(ptx))
}

func (s *Store) get(id types.TxID) *PoolTx {
	return s.txs[id]
}

func (s *Store) findOne(id types.TxID) *TxInfo {
	ptx, ok := s.txs[id]
	if !ok {
		return nil
	}
	return newTxInfo(ptx)
}

func (s *Store) find(ids []types.TxID) []*TxInfo {
	infos := make([]*TxInfo, len(ids))
	for i, id := range ids {
		infos[i] = s.findOne(id)
	}
	return infos
}

// dependents returns id and all of its transitive dependents, breadth first.
// The id must be pooled.
func (s *Store) dependents(id types.TxID) []*PoolTx {
	root, ok := s.txs[id]
	if !ok {
		return nil
	}
	seen := map[types.TxID]struct{}{id: {}}
	out := []*PoolTx{root}
	for i := 0; i < len(out); i++ {
		kids := make([]*PoolTx, 0, len(s.children[out[i].ID]))
		for child := range s.children[out[i].ID] {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			kids = append(kids, s.txs[child])
		}
		// deterministic order among siblings
		sort.Sort(byPriceDesc(kids))
		out = append(out, kids...)
	}
	return out
}

func (s *Store) findDependent(ids []types.TxID) []*PoolTx {
	seen := make(map[types.TxID]struct{})
	var out []*PoolTx
	for _, id := range ids {
		for _, ptx := range s.dependents(id) {
			if _, dup := seen[ptx.ID]; dup {
				continue
			}
			seen[ptx.ID] = struct{}{}
			out = append(out, ptx)
		}
	}
	sort.Sort(byPriceDesc(out))
	return out
}

// ancestors returns the transitive pool-internal parents of a transaction
// with the given direct parents.
func (s *Store) ancestors(parents []types.TxID) map[types.TxID]struct{} {
	seen := make(map[types.TxID]struct{}, len(parents))
	queue := append([]types.TxID(nil), parents...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if ptx, ok := s.txs[id]; ok {
			queue = append(queue, ptx.Parents...)
		}
	}
	return seen
}

func (s *Store) filterByNegative(ids []types.TxID) []types.TxID {
	var missing []types.TxID
	for _, id := range ids {
		if _, ok := s.txs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// includable returns pooled transactions in a dependency-respecting order
// that prefers higher gas price, FIFO on ties. With maxGas > 0 transactions
// that would overflow it are skipped together with all their descendants.
func (s *Store) includable(maxGas uint64) []*PoolTx {
	waiting := make(map[types.TxID]int, len(s.txs))
	ready := make(txQueue, 0, len(s.txs))
	for id, ptx := range s.txs {
		if n := len(ptx.Parents); n > 0 {
			waiting[id] = n
		} else {
			ready = append(ready, ptx)
		}
	}
	heap.Init(&ready)

	var (
		out  []*PoolTx
		used uint64
	)
	for ready.Len() > 0 {
		ptx := heap.Pop(&ready).(*PoolTx)
		if maxGas > 0 && used+ptx.Gas > maxGas {
			continue
		}
		out = append(out, ptx)
		used += ptx.Gas

		for child := range s.children[ptx.ID] {
			waiting[child]--
			if waiting[child] == 0 {
				delete(waiting, child)
				heap.Push(&ready, s.txs[child])
			}
		}
	}
	return out
}

func (s *Store) pendingNumber() int {
	return len(s.txs)
}

// consumableGas is the gas of everything includable() would return.
func (s *Store) consumableGas(maxGas uint64) uint64 {
	var total uint64
	for _, ptx := range s.includable(maxGas) {
		total += ptx.Gas
	}
	return total
}

// ascending visits pooled transactions from the lowest price up, earliest
// insertion first on ties, until fn returns false.
func (s *Store) ascending(fn func(*PoolTx) bool) {
	it := s.byPrice.Iterator()
	for it.Next() {
		if !fn(it.Value().(*PoolTx)) {
			return
		}
	}
}

func (s *Store) utxoSpender(utxo types.UtxoID) (*PoolTx, bool) {
	id, ok := s.spentUtxos[utxo]
	if !ok {
		return nil, false
	}
	return s.txs[id], true
}

func (s *Store) messageConsumer(msg types.MessageID) (*PoolTx, bool) {
	id, ok := s.spentMessages[msg]
	if !ok {
		return nil, false
	}
	return s.txs[id], true
}

func (s *Store) contractCreator(contract types.ContractID) (*PoolTx, bool) {
	id, ok := s.createdContracts[contract]
	if !ok {
		return nil, false
	}
	return s.txs[id], true
}
