package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/insoblok/inso-txpool/internal/txpool"
)

const (
	wsWriteTimeout  = 5 * time.Second
	wsSendQueueSize = 128
	updateChanSize  = 256
	subscriptionTxs = "txpool_subscription"
)

var errConnClosed = errors.New("websocket connection closed")

// UpdateSource publishes pool state transitions. *txpool.Service implements it.
type UpdateSource interface {
	SubscribeTxUpdates(ch chan<- txpool.TxUpdate) event.Subscription
}

// WSSubscriptionManager serves JSON-RPC over WebSocket and streams pool
// updates to subscribed connections.
type WSSubscriptionManager struct {
	mu          sync.RWMutex
	subscribers map[uint64]*wsSubscription
	nextID      atomic.Uint64
	handler     *Handler
	queueSize   int
	logger      log.Logger
	upgrader    websocket.Upgrader
}

// wsConn owns one connection. All writes go through a bounded queue drained
// by writeLoop, so a slow peer only ever stalls itself.
type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, queueSize int) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, queueSize),
		quit: make(chan struct{}),
	}
}

func (c *wsConn) writeLoop(logger log.Logger) {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("WebSocket write failed", "err", err)
				c.close()
				return
			}
		case <-c.quit:
			return
		}
	}
}

// close unblocks the reader and the writer. Safe to call more than once.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

// trySend queues data without blocking. It reports false when the queue is
// full or the connection is closed.
func (c *wsConn) trySend(data []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// reply queues a response, waiting for room. Only the connection's own
// reader calls it, so waiting throttles that peer alone.
func (c *wsConn) reply(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.quit:
		return errConnClosed
	}
}

type wsSubscription struct {
	id   uint64
	conn *wsConn
}

// NewWSSubscriptionManager creates a new WebSocket subscription manager.
func NewWSSubscriptionManager(handler *Handler) *WSSubscriptionManager {
	return &WSSubscriptionManager{
		subscribers: make(map[uint64]*wsSubscription),
		handler:     handler,
		queueSize:   wsSendQueueSize,
		logger:      log.New("module", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Start subscribes to src and forwards every pool update to the
// subscribers until ctx is cancelled or the pool stops.
func (m *WSSubscriptionManager) Start(ctx context.Context, src UpdateSource) {
	updates := make(chan txpool.TxUpdate, updateChanSize)
	sub := src.SubscribeTxUpdates(updates)
	go m.loop(ctx, updates, sub)
}

func (m *WSSubscriptionManager) loop(ctx context.Context, updates <-chan txpool.TxUpdate, sub event.Subscription) {
	defer sub.Unsubscribe()

	for {
		select {
		case u := <-updates:
			m.broadcast(newTxUpdateResult(u))
		case err := <-sub.Err():
			if err != nil {
				m.logger.Warn("Update subscription failed", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and serves requests on it.
func (m *WSSubscriptionManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("WebSocket upgrade failed", "err", err)
		return
	}
	conn := newWSConn(raw, m.queueSize)
	go conn.writeLoop(m.logger)
	defer conn.close()
	defer m.cleanupConn(conn)

	m.logger.Debug("WebSocket connection established", "remote", r.RemoteAddr)

	for {
		_, message, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("WebSocket read error", "err", err)
			}
			return
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			m.writeError(conn, nil, codeParseError, "parse error")
			continue
		}

		switch req.Method {
		case "txpool_subscribe":
			m.subscribe(conn, &req)
		case "txpool_unsubscribe":
			m.unsubscribe(conn, &req)
		default:
			m.write(conn, m.handler.Handle(r.Context(), &req))
		}
	}
}

func (m *WSSubscriptionManager) subscribe(conn *wsConn, req *JSONRPCRequest) {
	id := m.nextID.Add(1)

	m.mu.Lock()
	m.subscribers[id] = &wsSubscription{id: id, conn: conn}
	m.mu.Unlock()

	m.logger.Debug("New subscription", "id", id)
	m.writeResult(conn, req.ID, fmt.Sprintf("0x%x", id))
}

func (m *WSSubscriptionManager) unsubscribe(conn *wsConn, req *JSONRPCRequest) {
	var hex string
	if err := decodeArg(req.Params, &hex); err != nil {
		m.writeError(conn, req.ID, codeInvalidParams, "missing subscription id")
		return
	}
	var id uint64
	if _, err := fmt.Sscanf(hex, "0x%x", &id); err != nil {
		m.writeError(conn, req.ID, codeInvalidParams, "invalid subscription id")
		return
	}

	m.mu.Lock()
	sub, exists := m.subscribers[id]
	// only the owning connection may cancel a subscription
	exists = exists && sub.conn == conn
	if exists {
		delete(m.subscribers, id)
	}
	m.mu.Unlock()

	m.writeResult(conn, req.ID, exists)
}

// broadcast never blocks: a subscriber whose queue is full is dropped and
// its connection closed.
func (m *WSSubscriptionManager) broadcast(update *TxUpdateResult) {
	m.mu.RLock()
	subs := make([]*wsSubscription, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		data, err := json.Marshal(&jsonrpcNotification{
			JSONRPC: "2.0",
			Method:  subscriptionTxs,
			Params: subscriptionResult{
				Subscription: fmt.Sprintf("0x%x", sub.id),
				Result:       update,
			},
		})
		if err != nil {
			m.logger.Error("Failed to encode notification", "err", err)
			return
		}
		if sub.conn.trySend(data) {
			continue
		}
		m.logger.Warn("Dropping slow subscriber", "id", sub.id)
		m.mu.Lock()
		delete(m.subscribers, sub.id)
		m.mu.Unlock()
		sub.conn.close()
	}
}

// SubscriberCount returns the number of active subscriptions.
func (m *WSSubscriptionManager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// cleanupConn removes all subscriptions of a disconnected connection.
func (m *WSSubscriptionManager) cleanupConn(conn *wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.subscribers {
		if sub.conn == conn {
			delete(m.subscribers, id)
		}
	}
}

func (m *WSSubscriptionManager) write(conn *wsConn, resp *JSONRPCResponse) {
	if err := conn.reply(resp); err != nil {
		m.logger.Debug("WebSocket write failed", "err", err)
	}
}

func (m *WSSubscriptionManager) writeResult(conn *wsConn, id interface{}, result interface{}) {
	encoded, _ := json.Marshal(result)
	raw := json.RawMessage(encoded)
	m.write(conn, &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: &raw})
}

func (m *WSSubscriptionManager) writeError(conn *wsConn, id interface{}, code int, msg string) {
	m.write(conn, &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: msg},
	})
}
