package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"

	"vidbft/privval"
)

// GenValidatorCmd 生成验证者的签名私钥和门限签名私钥分片
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Args:    cobra.NoArgs,
	Short:   "Generate new validator keypair and threshold key share",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

func init() {
	GenValidatorCmd.Flags().Int64Var(&seed, "seed", 1, "集群种子，同一集群的节点必须相同")
	GenValidatorCmd.Flags().IntVar(&idx, "idx", 0, "验证者编号，从0开始，对应门限私钥分片的下标")
	GenValidatorCmd.Flags().IntVar(&numValidators, "validators", 4, "集群中验证者的总数")
}

func genValidator(cmd *cobra.Command, args []string) error {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		logger.Info("Found private validator", "keyFile", privValKeyFile)
		return nil
	}
	if idx < 0 || idx >= numValidators {
		return fmt.Errorf("idx %d out of range for %d validators", idx, numValidators)
	}

	pv := privval.GenFilePVWithSeedAndIdx(privValKeyFile, numValidators, idx, seed)
	jsbz, err := tmjson.Marshal(pv.Key)
	if err != nil {
		return err
	}
	pv.Save()

	fmt.Printf(`%v
`, string(jsbz))
	return nil
}

// ShowValidatorCmd adds capabilities for showing the validator info.
var ShowValidatorCmd = &cobra.Command{
	Use:     "show-validator",
	Aliases: []string{"show_validator"},
	Short:   "Show this node's validator info",
	RunE:    showValidator,
	PreRun:  deprecateSnakeCase,
}

func showValidator(cmd *cobra.Command, args []string) error {
	keyFilePath := config.PrivValidatorKeyFile()
	if !tmos.FileExists(keyFilePath) {
		return fmt.Errorf("private validator file %s does not exist", keyFilePath)
	}

	pv := privval.LoadFilePV(keyFilePath)

	pubKey, err := pv.GetPubKey()
	if err != nil {
		return fmt.Errorf("can't get pubkey: %w", err)
	}

	bz, err := tmjson.Marshal(pubKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private validator pubkey: %w", err)
	}

	fmt.Println(string(bz), "share_index", pv.ShareIndex())
	return nil
}
