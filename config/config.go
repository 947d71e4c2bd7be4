package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	tmcfg "github.com/tendermint/tendermint/config"
)

const (
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
)

// DefaultVidbftDir is the default home directory, relative to $HOME.
var DefaultVidbftDir = ".vidbft"

// Config 节点的全部配置
type Config struct {
	tmcfg.BaseConfig `mapstructure:",squash"`

	RPC             *tmcfg.RPCConfig             `mapstructure:"rpc"`
	P2P             *tmcfg.P2PConfig             `mapstructure:"p2p"`
	Mempool         *tmcfg.MempoolConfig         `mapstructure:"mempool"`
	Consensus       *ConsensusConfig             `mapstructure:"consensus"`
	Instrumentation *tmcfg.InstrumentationConfig `mapstructure:"instrumentation"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      tmcfg.DefaultBaseConfig(),
		RPC:             tmcfg.DefaultRPCConfig(),
		P2P:             tmcfg.DefaultP2PConfig(),
		Mempool:         tmcfg.DefaultMempoolConfig(),
		Consensus:       DefaultConsensusConfig(),
		Instrumentation: tmcfg.DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration with short timeouts, for tests.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      tmcfg.TestBaseConfig(),
		RPC:             tmcfg.TestRPCConfig(),
		P2P:             tmcfg.TestP2PConfig(),
		Mempool:         tmcfg.TestMempoolConfig(),
		Consensus:       TestConsensusConfig(),
		Instrumentation: tmcfg.TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.RPC.RootDir = root
	cfg.P2P.RootDir = root
	cfg.Mempool.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [rpc] section: %w", err)
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [mempool] section: %w", err)
	}
	if err := cfg.Consensus.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [consensus] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

// ConfigFile returns the full path of config.toml.
func (cfg *Config) ConfigFile() string {
	return rootify(filepath.Join(defaultConfigDir, defaultConfigFileName), cfg.RootDir)
}

//-----------------------------------------------------------------------------
// ConsensusConfig

// ConsensusConfig 共识相关的参数
type ConsensusConfig struct {
	// 生成提案前至少要等到的交易数
	MinTransactions int `mapstructure:"min_transactions"`
	// leader等待交易的最长时间
	ProposeMaxRoundTime time.Duration `mapstructure:"propose_max_round_time"`
	// 一个view的超时时间
	ViewTimeout time.Duration `mapstructure:"view_timeout"`
	// VID存储节点数，0表示等于验证者数
	NumStorageNodes int `mapstructure:"num_storage_nodes"`
	// 启动后第一个view的等待时间
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	// 保留多少个view的账本数据
	RetainViews int64 `mapstructure:"retain_views"`
}

func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		MinTransactions:     1,
		ProposeMaxRoundTime: 2 * time.Second,
		ViewTimeout:         5 * time.Second,
		NumStorageNodes:     0,
		StartTimeout:        3 * time.Second,
		RetainViews:         100,
	}
}

func TestConsensusConfig() *ConsensusConfig {
	cfg := DefaultConsensusConfig()
	cfg.ProposeMaxRoundTime = 100 * time.Millisecond
	cfg.ViewTimeout = 500 * time.Millisecond
	cfg.StartTimeout = 50 * time.Millisecond
	return cfg
}

func (cfg *ConsensusConfig) ValidateBasic() error {
	if cfg.MinTransactions < 0 {
		return errors.New("min_transactions can't be negative")
	}
	if cfg.ProposeMaxRoundTime < 0 {
		return errors.New("propose_max_round_time can't be negative")
	}
	if cfg.ViewTimeout <= 0 {
		return errors.New("view_timeout must be positive")
	}
	if cfg.ProposeMaxRoundTime >= cfg.ViewTimeout {
		return errors.New("propose_max_round_time must be shorter than view_timeout")
	}
	if cfg.NumStorageNodes < 0 {
		return errors.New("num_storage_nodes can't be negative")
	}
	if cfg.StartTimeout < 0 {
		return errors.New("start_timeout can't be negative")
	}
	if cfg.RetainViews < 0 {
		return errors.New("retain_views can't be negative")
	}
	return nil
}

func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
