package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backups and restores",
		Long: `List the audit log of backup and restore operations, newest first.`,
		Example: `  clinicvault history
  clinicvault history --limit 5`,
		Args: cobra.NoArgs,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show (0 for all)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := globalStore.ListAudit(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No backups or restores recorded.")
		return nil
	}

	fmt.Printf("%-20s %-16s %-10s %-14s %s\n", "WHEN", "ACTION", "ACTOR", "AGE", "OPERATION")
	for _, e := range entries {
		fmt.Printf("%-20s %-16s %-10s %-14s %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Action,
			e.Actor,
			humanize.Time(e.CreatedAt),
			e.OperationID,
		)
	}

	return nil
}
