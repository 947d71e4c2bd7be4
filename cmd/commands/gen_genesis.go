package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"

	"vidbft/crypto/threshold"
	"vidbft/privval"
	"vidbft/types"
)

var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate the genesis file of a cluster",
	PreRun:  deprecateSnakeCase,
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chain-id", "test-chain", "链名")
	GenGenesisCmd.Flags().Int64Var(&seed, "seed", 1, "生成集群密钥用的种子，与gen-validator一致")
	GenGenesisCmd.Flags().IntVar(&numValidators, "validators", 4, "集群中验证者的总数")
}

func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	genDoc, err := makeGenesisDoc(chainID, numValidators, seed)
	if err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile, "validators", numValidators)
	return nil
}

// makeGenesisDoc 按seed重新推导每个验证者的公钥，与gen-validator生成的私钥一一对应
func makeGenesisDoc(chainID string, n int, seed int64) (*types.GenesisDoc, error) {
	if n <= 0 {
		return nil, fmt.Errorf("need at least one validator, got %d", n)
	}

	vals := make([]types.GenesisValidator, n)
	for i := 0; i < n; i++ {
		pv := privval.GenFilePVWithSeedAndIdx("", n, i, seed)
		pubKey, err := pv.GetPubKey()
		if err != nil {
			return nil, err
		}
		vals[i] = types.GenesisValidator{
			Address: pv.GetAddress(),
			PubKey:  pubKey,
			Name:    fmt.Sprintf("validator-%d", i),
		}
	}

	genDoc := &types.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: tmtime.Now(),
		InitialView: types.ViewZero,
		Validators:  vals,
		Threshold:   types.SuccessThreshold(n),
	}
	if err := genDoc.SetPubPoly(threshold.Master(seed, genDoc.Threshold, n).PubPoly()); err != nil {
		return nil, err
	}
	return genDoc, genDoc.ValidateAndComplete()
}
