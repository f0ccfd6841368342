package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/stepwise/internal/config"
	"github.com/crimson-sun/stepwise/internal/logging"
	"github.com/crimson-sun/stepwise/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stepwise",
		Short: "Record browser sessions as replayable workflows",
		Long: `stepwise records clicks, typing, key presses, scrolling and navigation
from instrumented pages and turns them into an ordered list of workflow steps.

Run "stepwise serve" for the recording daemon, "stepwise receive" for the
server that stores finished workflows, and "stepwise convert" to turn a
captured event log into a workflow offline.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file overlaid on STEPWISE_* environment settings")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newReceiveCmd(),
		newConvertCmd(),
		newControlCmd("start", "Start a new recording session", model.MsgStartRecording),
		newControlCmd("stop", "Stop the current recording session", model.MsgStopRecording),
		newStatusCmd(),
		newSimulateCmd(),
	)
	return rootCmd
}

// loadConfig reads the environment and the optional --config file, applies
// --log-level, validates the result and installs the logger. --json switches
// the logger to JSON.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Load()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFile(afero.NewOsFs(), path); err != nil {
			return cfg, err
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}
	jsonLogs, _ := cmd.Flags().GetBool("json")
	logging.Init(jsonLogs, logging.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": config.Version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "stepwise version %s\n", config.Version)
			}
		},
	}
}
