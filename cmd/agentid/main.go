// Package main is the entry point for the AgentID CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "agentid",
	Version: version,
	Short:   "AgentID credential and authorization engine",
	Long: `The core engine for AgentID.
Issues and verifies signed agent credentials, evaluates permissions,
manages agent-to-agent authorizations and tracks agent reputation.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
