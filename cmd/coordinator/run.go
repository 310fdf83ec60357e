// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxfi/database/memdb"
	log "github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/coordinator/config"
	"github.com/luxfi/coordinator/coordinator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordinator until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		logger := log.NewTestLogger(log.InfoLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Cursors live in memory: after a restart the listener resumes
		// from the chain head instead of backfilling.
		coord, err := coordinator.New(ctx, cfg, memdb.New(), logger)
		if err != nil {
			return fmt.Errorf("build coordinator: %w", err)
		}
		if err := coord.Start(ctx); err != nil {
			return fmt.Errorf("start coordinator: %w", err)
		}

		<-ctx.Done()
		logger.Info("shutting down")
		coord.Stop()
		return nil
	},
}
