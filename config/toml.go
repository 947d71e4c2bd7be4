package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	tmos "github.com/tendermint/tendermint/libs/os"
)

const defaultDirPerm = 0700

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and writes the default config file if it is missing.
func EnsureRoot(rootDir string) {
	if err := tmos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), defaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigDir, defaultConfigFileName)
	if !tmos.FileExists(configFilePath) {
		if err := WriteConfigFile(configFilePath, DefaultConfig()); err != nil {
			panic(err.Error())
		}
	}
}

// WriteConfigFile renders config as toml into configFilePath.
func WriteConfigFile(configFilePath string, config *Config) error {
	v := viper.New()
	for key, value := range configMap(config) {
		v.Set(key, value)
	}
	return v.WriteConfigAs(configFilePath)
}

// LoadConfigFile reads a config written by WriteConfigFile on top of the
// defaults.
func LoadConfigFile(configFilePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configFilePath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}

// configMap lists the keys an operator is expected to edit.
func configMap(c *Config) map[string]interface{} {
	return map[string]interface{}{
		"proxy_app":                 c.ProxyApp,
		"moniker":                   c.Moniker,
		"db_backend":                c.DBBackend,
		"db_dir":                    c.DBPath,
		"log_level":                 c.LogLevel,
		"log_format":                c.LogFormat,
		"genesis_file":              c.Genesis,
		"priv_validator_key_file":   c.PrivValidatorKey,
		"priv_validator_state_file": c.PrivValidatorState,
		"node_key_file":             c.NodeKey,
		"abci":                      c.ABCI,
		"filter_peers":              c.FilterPeers,

		"rpc.laddr":                       c.RPC.ListenAddress,
		"rpc.cors_allowed_origins":        c.RPC.CORSAllowedOrigins,
		"rpc.max_open_connections":        c.RPC.MaxOpenConnections,
		"rpc.max_body_bytes":              c.RPC.MaxBodyBytes,
		"rpc.timeout_broadcast_tx_commit": c.RPC.TimeoutBroadcastTxCommit,

		"p2p.laddr":                  c.P2P.ListenAddress,
		"p2p.external_address":       c.P2P.ExternalAddress,
		"p2p.persistent_peers":       c.P2P.PersistentPeers,
		"p2p.addr_book_strict":       c.P2P.AddrBookStrict,
		"p2p.max_num_inbound_peers":  c.P2P.MaxNumInboundPeers,
		"p2p.max_num_outbound_peers": c.P2P.MaxNumOutboundPeers,
		"p2p.allow_duplicate_ip":     c.P2P.AllowDuplicateIP,
		"p2p.send_rate":              c.P2P.SendRate,
		"p2p.recv_rate":              c.P2P.RecvRate,

		"mempool.size":          c.Mempool.Size,
		"mempool.max_txs_bytes": c.Mempool.MaxTxsBytes,
		"mempool.max_tx_bytes":  c.Mempool.MaxTxBytes,
		"mempool.broadcast":     c.Mempool.Broadcast,

		"consensus.min_transactions":       c.Consensus.MinTransactions,
		"consensus.propose_max_round_time": c.Consensus.ProposeMaxRoundTime.String(),
		"consensus.view_timeout":           c.Consensus.ViewTimeout.String(),
		"consensus.num_storage_nodes":      c.Consensus.NumStorageNodes,
		"consensus.start_timeout":          c.Consensus.StartTimeout.String(),
		"consensus.retain_views":           c.Consensus.RetainViews,

		"instrumentation.prometheus":             c.Instrumentation.Prometheus,
		"instrumentation.prometheus_listen_addr": c.Instrumentation.PrometheusListenAddr,
		"instrumentation.namespace":              c.Instrumentation.Namespace,
	}
}

// ResetTestRoot creates a fresh root directory under the system temp dir
// with a test config file, and returns the matching config.
func ResetTestRoot(testName string) *Config {
	rootDir, err := os.MkdirTemp("", testName)
	if err != nil {
		panic(err)
	}
	EnsureRoot(rootDir)
	config := TestConfig().SetRoot(rootDir)
	if err := WriteConfigFile(config.ConfigFile(), config); err != nil {
		panic(err)
	}
	return config
}
