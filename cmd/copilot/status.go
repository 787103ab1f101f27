package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the gateway session and list accounts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := initializeSystem(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		cfg, err := loadConfig(ctx, cmd)
		if err != nil {
			return err
		}
		gw := initializeGateway(ctx, cfg)

		fmt.Printf("Gateway:        %s\n", cfg.Gateway.BaseURL)
		if !gw.IsAvailable(ctx) {
			fmt.Println("Authenticated:  no")
			return fmt.Errorf("gateway at %s is unreachable or not authenticated", cfg.Gateway.BaseURL)
		}
		fmt.Println("Authenticated:  yes")

		accounts, err := gw.GetAccounts(ctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, acct := range accounts {
			fmt.Printf("Account:        %s\n", acct)
		}
		return nil
	},
}
