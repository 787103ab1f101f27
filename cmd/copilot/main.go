package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	configFlagName = "config"
	version        = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Trading copilot backend for the IBKR Client Portal Gateway",
	Long: `copilot exposes one IBKR Client Portal Gateway to many consumers:

- a cached, retrying gateway client behind an agent tool catalogue
- a market-data relay fanning one upstream websocket out to browser streams
- a JSON-RPC tool transport over server-sent events`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String(configFlagName, "config.yaml", "Path to the YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
