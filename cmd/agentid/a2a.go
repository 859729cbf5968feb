package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/internal/app"
)

var a2aCmd = &cobra.Command{
	Use:   "a2a",
	Short: "Manage agent-to-agent authorizations",
}

var a2aSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire approved authorizations past their expiry",
	Long: `Run one expiry sweep against the configured database. The server
runs the same sweep periodically; use this from cron when it does not.`,
	Example: `  agentid a2a sweep --db agentid.db`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := app.New(cfg, cfg.Logger())
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer func() { _ = a.Close(ctx) }()

		ids, err := a.A2A.ExpireSweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		fmt.Printf("✅ Expired %d authorization(s)\n", len(ids))
		for _, id := range ids {
			fmt.Printf("   - %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(a2aCmd)
	a2aCmd.AddCommand(a2aSweepCmd)

	addStoreFlags(a2aSweepCmd)
}
