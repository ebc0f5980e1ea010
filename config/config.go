// Package config loads and validates copy-trader configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Polymarket contract addresses on Polygon.
const (
	CTFAddress             = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	ExchangeAddress        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

// Prediction market probability bounds.
const (
	MinMarketPrice = 0.01
	MaxMarketPrice = 0.99
)

// ChainConfig controls Polygon ledger access and the scanner loop.
type ChainConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	WSURL            string `yaml:"ws_url"` // optional newHeads feed; empty disables it
	ContractAddress  string `yaml:"contract_address"`
	PollIntervalSec  int    `yaml:"poll_interval_sec"`
	MaxCatchupBlocks uint64 `yaml:"max_catchup_blocks"`
	SkipMargin       uint64 `yaml:"skip_margin"`
	MaxBatchBlocks   uint64 `yaml:"max_batch_blocks"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	MaxSeenCache     int    `yaml:"max_seen_cache"`
}

// StrategyConfig holds the knobs for filtering, sizing and risk.
type StrategyConfig struct {
	CopyRatio           float64 `yaml:"copy_ratio"`
	MinTradeSize        float64 `yaml:"min_trade_size"` // shares, cheap pre-filter
	MinTradeAmount      float64 `yaml:"min_trade_amount"`
	MaxTradeAmount      float64 `yaml:"max_trade_amount"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
	SlippageTolerance   float64 `yaml:"slippage_tolerance"`
	MinTraderTrades     int     `yaml:"min_trader_trades"`
	MinTraderProfitRate float64 `yaml:"min_trader_profit_rate"`
	DailyTradeLimit     int     `yaml:"daily_trade_limit"`
	CopyDelaySeconds    int     `yaml:"copy_delay_seconds"`
	DefaultPrice        float64 `yaml:"default_price"` // midpoint used when no price resolved
}

// PaperConfig controls the simulated wallet.
type PaperConfig struct {
	Enabled        bool    `yaml:"enabled"`
	InitialBalance float64 `yaml:"initial_balance"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// GammaConfig controls the best-effort market metadata resolver.
type GammaConfig struct {
	BaseURL          string `yaml:"base_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

// ClobConfig controls the best-effort market price resolver.
type ClobConfig struct {
	BaseURL          string `yaml:"base_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

// Config aggregates all configuration knobs.
type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Strategy StrategyConfig `yaml:"strategy"`
	Paper    PaperConfig    `yaml:"paper"`
	Server   ServerConfig   `yaml:"server"`
	Gamma    GammaConfig    `yaml:"gamma"`
	Clob     ClobConfig     `yaml:"clob"`
}

// Load reads configuration from disk, falling back to defaults.
// Environment variables POLYGON_RPC_URL and POLYGON_WS_URL override the
// chain endpoints so secrets stay out of the yaml file.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnv()
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:           "https://polygon-rpc.com",
			ContractAddress:  CTFAddress,
			PollIntervalSec:  15,
			MaxCatchupBlocks: 50,
			SkipMargin:       5,
			MaxBatchBlocks:   5,
			RequestTimeoutMS: 10000,
			MaxSeenCache:     10000,
		},
		Strategy: StrategyConfig{
			CopyRatio:           0.1,
			MinTradeSize:        50.0,
			MinTradeAmount:      5.0,
			MaxTradeAmount:      100.0,
			MaxPositionSize:     1000.0,
			SlippageTolerance:   0.02,
			MinTraderTrades:     10,
			MinTraderProfitRate: 0.1,
			DailyTradeLimit:     50,
			CopyDelaySeconds:    5,
			DefaultPrice:        0.50,
		},
		Paper: PaperConfig{
			Enabled:        true,
			InitialBalance: 1000.0,
		},
		Server: ServerConfig{
			Port:              8081,
			ReadTimeoutMS:     10000,
			WriteTimeoutMS:    10000,
			ShutdownTimeoutMS: 5000,
		},
		Gamma: GammaConfig{
			BaseURL:          "https://gamma-api.polymarket.com",
			RequestTimeoutMS: 500,
		},
		Clob: ClobConfig{
			BaseURL:          "https://clob.polymarket.com",
			RequestTimeoutMS: 800,
		},
	}
}

// ConservativePreset returns strategy values for cautious copying:
// stricter trader quality, smaller sizes.
func ConservativePreset() StrategyConfig {
	s := Default().Strategy
	s.MinTraderProfitRate = 0.6
	s.MinTraderTrades = 20
	s.CopyRatio = 0.05
	s.MaxTradeAmount = 50.0
	return s
}

// AggressivePreset returns strategy values for looser copying:
// lower trader quality bar, larger sizes.
func AggressivePreset() StrategyConfig {
	s := Default().Strategy
	s.MinTraderProfitRate = 0.5
	s.MinTraderTrades = 5
	s.CopyRatio = 0.2
	s.MaxTradeAmount = 200.0
	return s
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Chain.RPCURL == "" {
		c.Chain.RPCURL = def.Chain.RPCURL
	}
	if c.Chain.ContractAddress == "" {
		c.Chain.ContractAddress = def.Chain.ContractAddress
	}
	if c.Chain.PollIntervalSec == 0 {
		c.Chain.PollIntervalSec = def.Chain.PollIntervalSec
	}
	if c.Chain.MaxCatchupBlocks == 0 {
		c.Chain.MaxCatchupBlocks = def.Chain.MaxCatchupBlocks
	}
	if c.Chain.SkipMargin == 0 {
		c.Chain.SkipMargin = def.Chain.SkipMargin
	}
	if c.Chain.MaxBatchBlocks == 0 {
		c.Chain.MaxBatchBlocks = def.Chain.MaxBatchBlocks
	}
	if c.Chain.RequestTimeoutMS == 0 {
		c.Chain.RequestTimeoutMS = def.Chain.RequestTimeoutMS
	}
	if c.Chain.MaxSeenCache == 0 {
		c.Chain.MaxSeenCache = def.Chain.MaxSeenCache
	}

	if c.Strategy.CopyRatio == 0 {
		c.Strategy.CopyRatio = def.Strategy.CopyRatio
	}
	if c.Strategy.MinTradeSize == 0 {
		c.Strategy.MinTradeSize = def.Strategy.MinTradeSize
	}
	if c.Strategy.MinTradeAmount == 0 {
		c.Strategy.MinTradeAmount = def.Strategy.MinTradeAmount
	}
	if c.Strategy.MaxTradeAmount == 0 {
		c.Strategy.MaxTradeAmount = def.Strategy.MaxTradeAmount
	}
	if c.Strategy.MaxPositionSize == 0 {
		c.Strategy.MaxPositionSize = def.Strategy.MaxPositionSize
	}
	if c.Strategy.SlippageTolerance == 0 {
		c.Strategy.SlippageTolerance = def.Strategy.SlippageTolerance
	}
	if c.Strategy.MinTraderTrades == 0 {
		c.Strategy.MinTraderTrades = def.Strategy.MinTraderTrades
	}
	if c.Strategy.MinTraderProfitRate == 0 {
		c.Strategy.MinTraderProfitRate = def.Strategy.MinTraderProfitRate
	}
	if c.Strategy.DailyTradeLimit == 0 {
		c.Strategy.DailyTradeLimit = def.Strategy.DailyTradeLimit
	}
	if c.Strategy.DefaultPrice == 0 {
		c.Strategy.DefaultPrice = def.Strategy.DefaultPrice
	}

	if c.Paper.InitialBalance == 0 {
		c.Paper.InitialBalance = def.Paper.InitialBalance
	}

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}

	if c.Gamma.BaseURL == "" {
		c.Gamma.BaseURL = def.Gamma.BaseURL
	}
	if c.Gamma.RequestTimeoutMS == 0 {
		c.Gamma.RequestTimeoutMS = def.Gamma.RequestTimeoutMS
	}

	if c.Clob.BaseURL == "" {
		c.Clob.BaseURL = def.Clob.BaseURL
	}
	if c.Clob.RequestTimeoutMS == 0 {
		c.Clob.RequestTimeoutMS = def.Clob.RequestTimeoutMS
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("POLYGON_WS_URL"); v != "" {
		c.Chain.WSURL = v
	}
}

// Validate rejects configurations that would produce undefined sizing or an
// unusable scanner. The process must refuse to start on any of these.
func (c *Config) Validate() error {
	if c.Chain.PollIntervalSec <= 0 {
		return fmt.Errorf("config: poll_interval_sec must be positive, got %d", c.Chain.PollIntervalSec)
	}
	if c.Chain.RPCURL == "" {
		return errors.New("config: chain rpc_url is required")
	}
	if c.Chain.SkipMargin >= c.Chain.MaxCatchupBlocks {
		return fmt.Errorf("config: skip_margin %d must be below max_catchup_blocks %d",
			c.Chain.SkipMargin, c.Chain.MaxCatchupBlocks)
	}
	if c.Strategy.CopyRatio <= 0 || c.Strategy.CopyRatio > 1 {
		return fmt.Errorf("config: copy_ratio must be in (0, 1], got %v", c.Strategy.CopyRatio)
	}
	if c.Strategy.MinTradeAmount < 0 || c.Strategy.MaxTradeAmount <= 0 {
		return errors.New("config: trade amount bounds must be positive")
	}
	if c.Strategy.MinTradeAmount > c.Strategy.MaxTradeAmount {
		return fmt.Errorf("config: min_trade_amount %v exceeds max_trade_amount %v",
			c.Strategy.MinTradeAmount, c.Strategy.MaxTradeAmount)
	}
	if c.Strategy.MaxPositionSize <= 0 {
		return errors.New("config: max_position_size must be positive")
	}
	if c.Strategy.DefaultPrice <= 0 || c.Strategy.DefaultPrice >= 1 {
		return fmt.Errorf("config: default_price must be in (0, 1), got %v", c.Strategy.DefaultPrice)
	}
	if c.Strategy.DailyTradeLimit <= 0 {
		return errors.New("config: daily_trade_limit must be positive")
	}
	if c.Strategy.CopyDelaySeconds < 0 {
		return errors.New("config: copy_delay_seconds cannot be negative")
	}
	if c.Paper.InitialBalance < 0 {
		return errors.New("config: paper initial_balance cannot be negative")
	}
	return nil
}
