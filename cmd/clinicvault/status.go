package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/clinicvault/internal/store"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display record counts and data locations",
		Long: `Display the row count of every clinic table along with the database,
uploads and settings locations, and the most recent backup.`,
		Example: `  clinicvault status
  clinicvault status --data-dir /srv/clinic`,
		Args: cobra.NoArgs,
		RunE: statusRun,
	}

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("Database: %s\n", globalCfg.DatabasePath())
	fmt.Printf("Uploads:  %s\n", describePath(globalCfg.UploadsPath()))
	fmt.Printf("Settings: %s\n", describePath(globalCfg.SettingsPath()))

	fmt.Println("\nRecords:")
	total := 0
	for _, e := range store.InsertOrder() {
		n, err := globalStore.CountRows(ctx, e.Table)
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", e.Collection, err)
		}
		total += n
		fmt.Printf("  %-26s %s\n", e.Collection, humanize.Comma(int64(n)))
	}
	fmt.Printf("  %-26s %s\n", "total", humanize.Comma(int64(total)))

	entries, err := globalStore.ListAudit(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	for _, e := range entries {
		if e.Action == store.AuditBackupCreated {
			fmt.Printf("\nLast backup: %s\n", humanize.Time(e.CreatedAt))
			return nil
		}
	}
	fmt.Println("\nLast backup: never")
	return nil
}

func describePath(path string) string {
	if path == "" {
		return "(not configured)"
	}
	if _, err := os.Stat(path); err != nil {
		return path + " (missing)"
	}
	return path
}
