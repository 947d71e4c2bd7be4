package commands

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/p2p"

	cfg "vidbft/config"
	"vidbft/privval"
)

var (
	nValidators    int
	outputDir      string
	nodeDirPrefix  string
	startingIPAddr string
	hostnamePrefix string
	p2pPort        int
	randomMonikers bool
)

const nodeDirPerm = 0755

func init() {
	TestnetFilesCmd.Flags().IntVar(&nValidators, "v", 4,
		"number of validators to initialize the testnet with")
	TestnetFilesCmd.Flags().StringVar(&outputDir, "o", "./mytestnet",
		"directory to store initialization data for the testnet")
	TestnetFilesCmd.Flags().StringVar(&nodeDirPrefix, "node-dir-prefix", "node",
		"prefix the directory name for each node with (node results in node0, node1, ...)")
	TestnetFilesCmd.Flags().StringVar(&chainID, "chain-id", "",
		"chain ID (if empty, a random one is generated)")
	TestnetFilesCmd.Flags().Int64Var(&seed, "seed", tmrand.Int63(),
		"seed of the cluster threshold key")
	TestnetFilesCmd.Flags().StringVar(&startingIPAddr, "starting-ip", "",
		"starting IP address (192.168.0.1 results in persistent peers list ID0@192.168.0.1:26656, ID1@192.168.0.2:26656, ...)")
	TestnetFilesCmd.Flags().StringVar(&hostnamePrefix, "hostname-prefix", "node",
		"hostname prefix (\"node\" results in persistent peers list ID0@node0:26656, ID1@node1:26656, ...)")
	TestnetFilesCmd.Flags().IntVar(&p2pPort, "p2p-port", 26656,
		"P2P Port")
	TestnetFilesCmd.Flags().BoolVar(&randomMonikers, "random-monikers", false,
		"randomize the moniker for each generated node")
}

// TestnetFilesCmd allows initialisation of files for a vidbft testnet.
var TestnetFilesCmd = &cobra.Command{
	Use:   "testnet",
	Short: "Initialize files for a vidbft testnet",
	Long: `testnet will create "v" number of directories and populate each with
necessary files (private validator, genesis, config, etc.).

Note, strict routability for addresses is turned off in the config file.

Example:

	vidbft testnet --v 4 --o ./output --starting-ip 192.168.10.2
	`,
	RunE: testnetFiles,
}

func testnetFiles(cmd *cobra.Command, args []string) error {
	if nValidators <= 0 {
		return fmt.Errorf("need at least one validator, got %d", nValidators)
	}
	if chainID == "" {
		chainID = "chain-" + tmrand.Str(6)
	}

	genDoc, err := makeGenesisDoc(chainID, nValidators, seed)
	if err != nil {
		return err
	}

	// 每个节点生成自己的目录、验证者密钥和节点密钥
	configs := make([]*cfg.Config, nValidators)
	peers := make([]string, nValidators)
	for i := 0; i < nValidators; i++ {
		nodeDirName := fmt.Sprintf("%s%d", nodeDirPrefix, i)
		nodeDir := filepath.Join(outputDir, nodeDirName)
		nodeConfig := cfg.DefaultConfig().SetRoot(nodeDir)

		if err := os.MkdirAll(filepath.Join(nodeDir, "config"), nodeDirPerm); err != nil {
			_ = os.RemoveAll(outputDir)
			return err
		}
		if err := os.MkdirAll(filepath.Join(nodeDir, "data"), nodeDirPerm); err != nil {
			_ = os.RemoveAll(outputDir)
			return err
		}

		pv := privval.GenFilePVWithSeedAndIdx(nodeConfig.PrivValidatorKeyFile(), nValidators, i, seed)
		pv.Save()
		nodeKey, err := p2p.LoadOrGenNodeKey(nodeConfig.NodeKeyFile())
		if err != nil {
			_ = os.RemoveAll(outputDir)
			return err
		}
		if err := genDoc.SaveAs(nodeConfig.GenesisFile()); err != nil {
			_ = os.RemoveAll(outputDir)
			return err
		}

		peers[i] = p2p.IDAddressString(nodeKey.ID(), fmt.Sprintf("%s:%d", hostnameOrIP(i), p2pPort))
		configs[i] = nodeConfig
	}

	// 写入每个节点的配置文件，persistent peers为其余所有节点
	for i, nodeConfig := range configs {
		nodeConfig.P2P.PersistentPeers = strings.Join(append(append([]string{}, peers[:i]...), peers[i+1:]...), ",")
		nodeConfig.P2P.AddrBookStrict = false
		nodeConfig.P2P.AllowDuplicateIP = true
		nodeConfig.Moniker = moniker(i)
		nodeConfig.Consensus.NumStorageNodes = nValidators

		if err := cfg.WriteConfigFile(nodeConfig.ConfigFile(), nodeConfig); err != nil {
			return err
		}
	}

	fmt.Printf("Successfully initialized %v node directories\n", nValidators)
	return nil
}

func hostnameOrIP(i int) string {
	if startingIPAddr == "" {
		return fmt.Sprintf("%s%d", hostnamePrefix, i)
	}
	ip := net.ParseIP(startingIPAddr)
	ip = ip.To4()
	if ip == nil {
		fmt.Printf("%v: non ipv4 address\n", startingIPAddr)
		os.Exit(1)
	}

	for j := 0; j < i; j++ {
		ip[3]++
	}
	return ip.String()
}

func moniker(i int) string {
	if randomMonikers {
		return tmrand.Str(8)
	}
	return fmt.Sprintf("%s%d", nodeDirPrefix, i)
}
