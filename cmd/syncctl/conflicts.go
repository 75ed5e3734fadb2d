package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldsync/offline-core/internal/conflict"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts [docId]",
	Short: "List conflicts, optionally scoped to one document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		e, err := newEngine(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		defer e.Close(ctx)

		var records []*conflict.Record
		switch {
		case len(args) == 1:
			records = e.conflicts.GetByDoc(args[0])
		case all:
			records = e.conflicts.GetAll()
		default:
			records = e.conflicts.GetPending()
		}

		if len(records) == 0 {
			fmt.Println("no conflicts")
			return nil
		}

		fmt.Printf("%-36s %-20s %-10s %-10s %s\n", "ID", "DOC", "PATH", "STATUS", "DETECTED")
		for _, r := range records {
			fmt.Printf("%-36s %-20s %-10s %-10s %s\n",
				r.ID, r.DocID, r.Path, r.Status, r.DetectedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	conflictsCmd.Flags().Bool("all", false, "include resolved and ignored conflicts")
}
