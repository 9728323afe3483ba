// Command txshell is a minimal interactive driver for the transactional
// page store: enough of a front end to exercise the engine's §6 surface
// (begin/create/scan/sql insert/commit/abort, plus manual checkpoints) without
// reintroducing a query-execution-operator suite, which is out of scope.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csdb/txstore/godb"
)

var (
	dataDir    string
	logPath    string
	configFile string
)

func main() {
	root := &cobra.Command{
		Use:   "txshell",
		Short: "interactive shell for the transactional page store",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (optional)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	root.PersistentFlags().StringVar(&logPath, "log", "", "override the configured write-ahead log path")

	root.AddCommand(shellCmd(), checkpointCmd(), recoverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadEngine() (*godb.Engine, error) {
	cfg, err := godb.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	return godb.Open(cfg)
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "open the engine, force a checkpoint record, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			if err := eng.Log.LogCheckpoint(eng.Pool.ActiveTransactions()); err != nil {
				return err
			}
			fmt.Println("checkpoint written")
			return nil
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "open the engine, run crash recovery, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadEngine()
			if err != nil {
				return err
			}
			fmt.Println("recovery complete")
			return nil
		},
	}
}
