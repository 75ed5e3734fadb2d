package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state and recent sync statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		defer e.Close(ctx)

		if err := e.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		stats := e.scheduler.Stats()
		fmt.Printf("state:         %s\n", e.scheduler.State())
		fmt.Printf("total syncs:   %d\n", stats.TotalSyncs)
		fmt.Printf("succeeded:     %d\n", stats.SuccessCount)
		fmt.Printf("failed:        %d\n", stats.FailCount)
		fmt.Printf("avg duration:  %s\n", stats.AverageDuration())

		ids, err := e.adapter.ListDocumentIDs(ctx, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		fmt.Printf("documents:     %d\n", len(ids))

		pending := e.conflicts.GetPending()
		fmt.Printf("open conflicts: %d\n", len(pending))
		return nil
	},
}
