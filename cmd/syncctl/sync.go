package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsync/offline-core/internal/scheduler"
)

var syncCmd = &cobra.Command{
	Use:   "sync [docId]",
	Short: "Sync one document, or every known document if none is named",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		defer e.Close(ctx)

		if err := e.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		done := make(chan struct{}, 16)
		unsub := e.scheduler.OnEvent(func(ev scheduler.Event) {
			switch ev.Name {
			case "sync:success", "sync:error", "sync:max-retries":
				done <- struct{}{}
			}
		})
		defer unsub()

		if len(args) == 1 {
			docID := args[0]
			if err := e.scheduler.SyncDocument(ctx, docID); err != nil {
				return fmt.Errorf("sync %s: %w", docID, err)
			}
			if err := waitForOutcome(ctx, done, 1); err != nil {
				return err
			}
			fmt.Printf("synced %s\n", docID)
			return nil
		}

		ids, err := e.adapter.ListDocumentIDs(ctx, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		if err := e.scheduler.SyncAll(ctx); err != nil {
			return fmt.Errorf("sync all: %w", err)
		}
		if err := waitForOutcome(ctx, done, len(ids)); err != nil {
			return err
		}

		stats := e.scheduler.Stats()
		fmt.Printf("sync run complete: %d total, %d succeeded, %d failed\n",
			stats.TotalSyncs, stats.SuccessCount, stats.FailCount)
		return nil
	},
}

// waitForOutcome blocks until n completion events have arrived or ctx is
// done, whichever comes first.
func waitForOutcome(ctx context.Context, done <-chan struct{}, n int) error {
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for sync to complete")
		}
	}
	return nil
}
