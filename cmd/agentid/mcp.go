package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/internal/app"
	"github.com/agentid-dev/agentid-core/pkg/mcp"
)

var (
	mcpEvidenceDir   string
	mcpAllowedTools  []string
	mcpMinTrust      float64
	mcpRequireAction bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve AgentID tools over MCP (stdio)",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing
credential verification, tool authorization, A2A checks and reputation.

Logs go to stderr so they do not corrupt the protocol stream.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cfg.Logger()
		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		a.Start()
		defer func() { _ = a.Close(context.Background()) }()

		evidence, err := mcp.NewLocalEvidenceStore(mcpEvidenceDir)
		if err != nil {
			return fmt.Errorf("failed to open evidence store: %w", err)
		}
		defer func() { _ = evidence.Close() }()

		guardCfg := &mcp.EvaluateConfig{
			AllowedTools:      mcpAllowedTools,
			MinTrustScore:     mcpMinTrust,
			RequirePermission: mcpRequireAction,
		}

		srv := mcp.NewServer(mcp.Dependencies{
			Verifier:    a.Verifier,
			Guard:       mcp.NewGuard(a.Verifier, evidence),
			A2A:         a.A2A,
			Reputation:  a.Reputation,
			GuardConfig: guardCfg,
			Version:     version,
		})
		logger.Info("mcp server starting on stdio")
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	addStoreFlags(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpEvidenceDir, "evidence-dir", "", "Evidence log directory (default: ~/.agentid/evidence)")
	mcpCmd.Flags().StringSliceVar(&mcpAllowedTools, "allow-tool", nil, "Tool name patterns agents may call (repeatable)")
	mcpCmd.Flags().Float64Var(&mcpMinTrust, "min-trust", 0, "Minimum trust score for tool access (0 disables)")
	mcpCmd.Flags().BoolVar(&mcpRequireAction, "require-permission", false, "Require the tool name as a granted action")
}
