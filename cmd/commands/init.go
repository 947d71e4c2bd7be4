package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/p2p"

	cfg "vidbft/config"
	"vidbft/privval"
)

// InitFilesCmd initialises a fresh single validator node.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a single validator vidbft node",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().Int64Var(&seed, "seed", tmrand.Int63(), "生成验证者密钥用的种子")
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	// private validator
	privValKeyFile := config.PrivValidatorKeyFile()

	if tmos.FileExists(privValKeyFile) {
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		pv := privval.GenFilePVWithSeedAndIdx(privValKeyFile, 1, 0, seed)
		pv.Save()
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	// genesis file
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}
	genDoc, err := makeGenesisDoc(fmt.Sprintf("test-chain-%v", tmrand.Str(6)), 1, seed)
	if err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile)

	return nil
}
