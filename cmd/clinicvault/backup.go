package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/clinicvault/internal/engine"
	"github.com/BadgerOps/clinicvault/internal/store"
)

var (
	backupTo   string
	backupNote string
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a backup of the clinic database, uploads and settings",
		Long: `Write a snapshot of every clinic record to a backup file.

A .zip destination also carries the uploads directory and the settings file.
A .json destination holds the records only. Without --to, a timestamped
archive is written to the configured backup output directory.`,
		Example: `  clinicvault backup
  clinicvault backup --to /mnt/usb/clinic-2026-03-01.zip --note "before upgrade"
  clinicvault backup --to records.json`,
		Args: cobra.NoArgs,
		RunE: backupRun,
	}

	cmd.Flags().StringVar(&backupTo, "to", "", "destination file (.zip or .json)")
	cmd.Flags().StringVar(&backupNote, "note", "", "note stored in the backup metadata")

	return cmd
}

func backupRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalEngine == nil {
		return fmt.Errorf("backup engine not initialized")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log.Debug("backup request", "to", backupTo)

	report, err := globalEngine.Backup(ctx, engine.BackupOptions{
		Dest: backupTo,
		Note: backupNote,
	})
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("Backup written to %s\n", report.Path)
	fmt.Printf("  Size:      %s\n", humanize.Bytes(uint64(report.Size)))
	fmt.Printf("  Records:   %s\n", humanize.Comma(int64(totalRecords(report.Counts))))
	if report.Kind == engine.SourceArchive {
		fmt.Printf("  Assets:    %d\n", report.Assets)
		fmt.Printf("  Settings:  %s\n", yesNo(report.Settings))
	}
	fmt.Printf("  Duration:  %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("  Operation: %s\n", report.OperationID)

	if len(report.SkippedAssets) > 0 {
		fmt.Printf("\nSkipped %d asset file(s):\n", len(report.SkippedAssets))
		for _, name := range report.SkippedAssets {
			fmt.Printf("  - %s\n", name)
		}
	}

	return nil
}

func totalRecords(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// printCounts prints per-collection counts in dependency order.
func printCounts(counts map[string]int, skipZero bool) {
	for _, e := range store.InsertOrder() {
		n, ok := counts[e.Collection]
		if !ok || (skipZero && n == 0) {
			continue
		}
		fmt.Printf("  %-26s %s\n", e.Collection, humanize.Comma(int64(n)))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
