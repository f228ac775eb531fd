package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the node. Every collector is
// registered on a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Block production
	BlockHeight    prometheus.Gauge
	BlocksProduced prometheus.Counter
	TxProcessed    prometheus.Counter
	GasUsedTotal   prometheus.Counter

	// Transaction pool
	PoolSize     prometheus.Gauge
	PoolInserted prometheus.Counter
	PoolRejected *prometheus.CounterVec
	PoolEvicted  *prometheus.CounterVec

	// RPC
	RPCRequests *prometheus.CounterVec
	RPCErrors   *prometheus.CounterVec

	logger log.Logger
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inso_txpool_block_height",
			Help: "Current block height",
		}),
		BlocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inso_txpool_blocks_produced_total",
			Help: "Total blocks produced",
		}),
		TxProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inso_txpool_tx_processed_total",
			Help: "Total transactions included in blocks",
		}),
		GasUsedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inso_txpool_gas_used_total",
			Help: "Cumulative gas used by produced blocks",
		}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inso_txpool_pending_tx_cnt",
			Help: "Pending transactions in the pool",
		}),
		PoolInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inso_txpool_inserted_total",
			Help: "Transactions admitted to the pool",
		}),
		PoolRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inso_txpool_rejected_total",
			Help: "Transactions rejected at admission, by error kind",
		}, []string{"kind"}),
		PoolEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inso_txpool_evicted_total",
			Help: "Transactions removed from the pool, by cause",
		}, []string{"kind"}),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inso_txpool_rpc_requests_total",
			Help: "Total RPC requests",
		}, []string{"method"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inso_txpool_rpc_errors_total",
			Help: "Total RPC errors",
		}, []string{"method"}),
		logger: log.New("module", "metrics"),
	}
	m.registry.MustRegister(
		m.BlockHeight, m.BlocksProduced, m.TxProcessed, m.GasUsedTotal,
		m.PoolSize, m.PoolInserted, m.PoolRejected, m.PoolEvicted,
		m.RPCRequests, m.RPCErrors,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the /metrics and /health endpoints.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"inso-txpool","timestamp":%d}`, time.Now().Unix())
	})
	return mux
}

// Serve starts the metrics HTTP endpoint in the background and returns the
// server so the caller can shut it down.
func (m *Metrics) Serve(addr string) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Metrics server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server error", "err", err)
		}
	}()
	return server
}
