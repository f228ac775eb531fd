package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insoblok/inso-txpool/pkg/types"
)

// Config is the top-level node configuration.
type Config struct {
	DataDir  string         `yaml:"datadir"`
	TxPool   TxPoolConfig   `yaml:"txpool"`
	Chain    ChainConfig    `yaml:"chain"`
	Producer ProducerConfig `yaml:"producer"`
	RPC      RPCConfig      `yaml:"rpc"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// TxPoolConfig holds the transaction pool limits and policy.
type TxPoolConfig struct {
	MaxTx          int    `yaml:"max_tx"`
	MaxDepth       int    `yaml:"max_depth"`
	MailboxSize    int    `yaml:"mailbox_size"`
	MinGasPrice    uint64 `yaml:"min_gas_price"`
	UtxoValidation bool   `yaml:"utxo_validation"`
}

// ChainConfig holds the consensus parameters the pool enforces.
type ChainConfig struct {
	BlockGasLimit uint64 `yaml:"block_gas_limit"`
	GasPerByte    uint64 `yaml:"gas_per_byte"`
}

// Params returns the parameters used to precompute transaction metadata.
func (c *ChainConfig) Params() types.ChainParams {
	return types.ChainParams{GasPerByte: c.GasPerByte}
}

// ProducerConfig holds the block producer schedule.
type ProducerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BlockTime  time.Duration `yaml:"block_time"`
	MinPending int           `yaml:"min_pending"`
}

// RPCConfig holds the JSON-RPC listener settings.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	WSAddr     string `yaml:"ws_addr"`

	// AdminMethods exposes pool mutations other than submission, such as
	// txpool_remove. Off unless the listener is private.
	AdminMethods bool `yaml:"admin_methods"`
}

// SnapshotConfig points at the chain-state snapshot imported at genesis.
type SnapshotConfig struct {
	Dir       string `yaml:"dir"`
	GroupSize int    `yaml:"group_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the pool cannot run with.
func (c *Config) Validate() error {
	if c.TxPool.MaxTx <= 0 {
		return fmt.Errorf("txpool.max_tx must be positive, got %d", c.TxPool.MaxTx)
	}
	if c.TxPool.MaxDepth < 0 {
		return fmt.Errorf("txpool.max_depth must not be negative, got %d", c.TxPool.MaxDepth)
	}
	if c.TxPool.MailboxSize <= 0 {
		return fmt.Errorf("txpool.mailbox_size must be positive, got %d", c.TxPool.MailboxSize)
	}
	if c.Chain.BlockGasLimit == 0 {
		return fmt.Errorf("chain.block_gas_limit must be positive")
	}
	if c.Snapshot.GroupSize <= 0 {
		return fmt.Errorf("snapshot.group_size must be positive, got %d", c.Snapshot.GroupSize)
	}
	return nil
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		TxPool: TxPoolConfig{
			MaxTx:          4064,
			MaxDepth:       10,
			MailboxSize:    100,
			MinGasPrice:    0,
			UtxoValidation: true,
		},
		Chain: ChainConfig{
			BlockGasLimit: 100_000_000,
			GasPerByte:    4,
		},
		Producer: ProducerConfig{
			Enabled:    true,
			BlockTime:  time.Second,
			MinPending: 1,
		},
		RPC: RPCConfig{
			ListenAddr: "0.0.0.0:4000",
			WSAddr:     "0.0.0.0:4001",
		},
		Snapshot: SnapshotConfig{
			GroupSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "terminal",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:6060",
		},
	}
}
