package txpool

import (
	"context"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// Client is a handle to a running Service. Every method sends one command
// and waits for its reply. Cancelling ctx only abandons the wait: a command
// already in the mailbox still runs and its effects still land.
type Client struct {
	requests chan<- request
	done     <-chan struct{}
}

// call sends req and waits on its reply channel.
func call[T any](ctx context.Context, c *Client, req request, reply <-chan T) (T, error) {
	var zero T
	select {
	case c.requests <- req:
	case <-c.done:
		return zero, ErrProcessorStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-c.done:
		// the processor may have replied just before stopping
		select {
		case res := <-reply:
			return res, nil
		default:
			return zero, ErrProcessorStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// PendingNumber returns the number of pooled transactions.
func (c *Client) PendingNumber(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	return call(ctx, c, pendingNumberRequest{reply: reply}, reply)
}

// ConsumableGas returns the total gas of the transactions Includable would return.
func (c *Client) ConsumableGas(ctx context.Context) (uint64, error) {
	reply := make(chan uint64, 1)
	return call(ctx, c, consumableGasRequest{reply: reply}, reply)
}

// Includable returns the transactions that fit in the next block, parents
// before children, highest gas price first.
func (c *Client) Includable(ctx context.Context) ([]*PoolTx, error) {
	reply := make(chan []*PoolTx, 1)
	return call(ctx, c, includableRequest{reply: reply}, reply)
}

// Insert submits a batch. Each transaction succeeds or fails on its own; the
// outcomes are in input order. The returned error is only ever a transport
// error.
func (c *Client) Insert(ctx context.Context, txs []*types.Transaction) ([]InsertOutcome, error) {
	reply := make(chan []InsertOutcome, 1)
	return call(ctx, c, insertRequest{txs: txs, reply: reply}, reply)
}

// Find looks up each id; missing ids yield nil entries.
func (c *Client) Find(ctx context.Context, ids []types.TxID) ([]*TxInfo, error) {
	reply := make(chan []*TxInfo, 1)
	return call(ctx, c, findRequest{ids: ids, reply: reply}, reply)
}

// FindOne looks up a single id, returning nil when it is not pooled.
func (c *Client) FindOne(ctx context.Context, id types.TxID) (*TxInfo, error) {
	reply := make(chan *TxInfo, 1)
	return call(ctx, c, findOneRequest{id: id, reply: reply}, reply)
}

// FindDependent returns the given transactions and all of their pooled
// descendants, highest gas price first.
func (c *Client) FindDependent(ctx context.Context, ids []types.TxID) ([]*PoolTx, error) {
	reply := make(chan []*PoolTx, 1)
	return call(ctx, c, findDependentRequest{ids: ids, reply: reply}, reply)
}

// Remove drops the given transactions together with their dependents.
func (c *Client) Remove(ctx context.Context, ids []types.TxID) ([]*PoolTx, error) {
	reply := make(chan []*PoolTx, 1)
	return call(ctx, c, removeRequest{ids: ids, reply: reply}, reply)
}

// FilterByNegative returns the ids that are not pooled.
func (c *Client) FilterByNegative(ctx context.Context, ids []types.TxID) ([]types.TxID, error) {
	reply := make(chan []types.TxID, 1)
	return call(ctx, c, filterByNegativeRequest{ids: ids, reply: reply}, reply)
}

// Stop asks the processor to shut down. Stopping an already stopped
// processor is not an error.
func (c *Client) Stop(ctx context.Context) error {
	select {
	case c.requests <- stopRequest{}:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TotalConsumableGas is ConsumableGas under the block producer's name.
func (c *Client) TotalConsumableGas(ctx context.Context) (uint64, error) {
	return c.ConsumableGas(ctx)
}

// RemoveTxs removes transactions committed in a block. Their dependents
// stay pooled.
func (c *Client) RemoveTxs(ctx context.Context, ids []types.TxID) ([]types.TxID, error) {
	reply := make(chan []*PoolTx, 1)
	removed, err := call(ctx, c, removeCommittedRequest{ids: ids, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	out := make([]types.TxID, len(removed))
	for i, ptx := range removed {
		out[i] = ptx.ID
	}
	return out, nil
}
