package txpool

// txQueue implements heap.Interface for price-ordered pool transactions.
// Higher gas price = popped first (max-heap).
type txQueue []*PoolTx

func (q txQueue) Len() int { return len(q) }

func (q txQueue) Less(i, j int) bool {
	if q[i].GasPrice != q[j].GasPrice {
		return q[i].GasPrice > q[j].GasPrice
	}
	// FIFO tie-break: earlier inserted = higher priority
	return q[i].seq < q[j].seq
}

func (q txQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *txQueue) Push(x interface{}) {
	*q = append(*q, x.(*PoolTx))
}

func (q *txQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*q = old[:n-1]
	return item
}

// byPriceDesc sorts with the same ordering as txQueue.
type byPriceDesc []*PoolTx

func (s byPriceDesc) Len() int           { return len(s) }
func (s byPriceDesc) Less(i, j int) bool { return txQueue(s).Less(i, j) }
func (s byPriceDesc) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
