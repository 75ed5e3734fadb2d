package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsync/offline-core/internal/conflict"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [conflictId]",
	Short: "Resolve a detected conflict with a chosen strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conflictID := args[0]
		strategy, _ := cmd.Flags().GetString("strategy")
		principal, _ := cmd.Flags().GetString("principal")

		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		defer e.Close(ctx)

		result, err := e.conflicts.Resolve(ctx, conflictID, conflict.Strategy(strategy), principal, nil, nil)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", conflictID, err)
		}

		fmt.Printf("resolved %s via %s\n", conflictID, strategy)
		fmt.Printf("value: %v\n", result.ResolvedValue)
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("strategy", string(conflict.StrategyTakeNewer), "resolution strategy (keep_local, accept_remote, take_newer, take_older, auto_merge, merge, field_level, custom, manual)")
	resolveCmd.Flags().String("principal", "syncctl", "identity performing the resolution, recorded in the audit log")
}
