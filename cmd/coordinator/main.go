// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command coordinator runs the off-chain side of the cross-chain
// liquidity protocol: it watches both contracts, persists position
// state, dispatches investments, and settles completed liquidations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Cross-chain liquidity coordinator",
	Long: `Runs the off-chain coordinator between the custodial vault chain and
the execution proxy chain. Configuration comes from the environment:
RPC endpoints, contract addresses, the operator key, and the database
DSN. See the config package for the full variable list.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(runCmd, statusCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
