package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-kit/kit/log/term"
	jsoniter "github.com/json-iterator/go"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	duration    int
	txsRate     int
	connections int
	txSize      int
	verbose     bool
	outputJSON  bool
	method      string
)

var rootCmd = &cobra.Command{
	Use:   "txload [endpoints]",
	Short: "Send random transactions to vidbft nodes and report the send rate",
	Long: `txload opens websocket connections to every endpoint and sends random
opaque transactions through broadcast_tx at a fixed rate.

Example:

	txload -T 30 -r 1000 localhost:26657`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 1, "Connections to keep open per endpoint")
	rootCmd.Flags().IntVarP(&duration, "duration", "T", 10, "Exit after the specified amount of time in seconds")
	rootCmd.Flags().IntVarP(&txsRate, "rate", "r", 1000, "Txs per second to send in a connection")
	rootCmd.Flags().IntVarP(&txSize, "size", "s", 250, "The size of a transaction in bytes")
	rootCmd.Flags().StringVar(&method, "broadcast-tx-method", "broadcast_tx", "rpc method used to send transactions")
	rootCmd.Flags().BoolVarP(&outputJSON, "json", "j", false, "Print the report as json")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func newLogger() log.Logger {
	if !verbose {
		return log.NewNopLogger()
	}
	// Color errors red
	colorFn := func(keyvals ...interface{}) term.FgBgColor {
		for i := 1; i < len(keyvals); i += 2 {
			if _, ok := keyvals[i].(error); ok {
				return term.FgBgColor{Fg: term.White, Bg: term.Red}
			}
		}
		return term.FgBgColor{}
	}
	return log.NewTMLoggerWithColorFn(log.NewSyncWriter(os.Stdout), colorFn)
}

func runLoad(cmd *cobra.Command, args []string) error {
	if txSize < 40 {
		return fmt.Errorf("the size of a transaction must be at least 40 bytes, got %d", txSize)
	}
	logger := newLogger()
	endpoints := strings.Split(args[0], ",")

	transacters := make([]*transacter, len(endpoints))
	for i, e := range endpoints {
		t := newTransacter(e, connections, txsRate, txSize, method)
		t.SetLogger(logger.With("addr", e))
		transacters[i] = t
	}

	started := time.Now()
	for _, t := range transacters {
		if err := t.Start(); err != nil {
			return err
		}
	}

	stop := func() {
		for _, t := range transacters {
			t.Stop()
		}
	}
	// Stop upon receiving SIGTERM or CTRL-C.
	tmos.TrapSignal(logger, stop)

	time.Sleep(time.Duration(duration) * time.Second)
	stop()

	return printReport(transacters, time.Since(started))
}

type report struct {
	Sent      int64   `json:"sent"`
	Failed    int64   `json:"failed"`
	SentRate  float64 `json:"sent_rate"`
	Duration  string  `json:"duration"`
	Endpoints int     `json:"endpoints"`
}

func printReport(transacters []*transacter, took time.Duration) error {
	sent, failed := metrics.NewMeter(), metrics.NewMeter()
	defer sent.Stop()
	defer failed.Stop()
	for _, t := range transacters {
		sent.Mark(t.sent.Count())
		failed.Mark(t.failed.Count())
	}
	r := report{
		Sent:      sent.Count(),
		Failed:    failed.Count(),
		SentRate:  float64(sent.Count()) / took.Seconds(),
		Duration:  took.String(),
		Endpoints: len(transacters),
	}

	if outputJSON {
		bz, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(bz))
		return nil
	}
	fmt.Printf("sent %d txs (%d rejected) to %d endpoints in %s, %.2f txs/s\n",
		r.Sent, r.Failed, r.Endpoints, r.Duration, r.SentRate)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
