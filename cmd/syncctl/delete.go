package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <docId>",
	Short: "Delete a document and cancel any queued sync for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID := args[0]

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

		if err := e.deleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("delete %s: %w", docID, err)
		}

		fmt.Printf("deleted %s\n", docID)
		return nil
	},
}
