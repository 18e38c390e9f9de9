package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Show what a backup file contains without restoring it",
		Long: `Validate a backup file and print its format version, export time, record
counts and whether it carries uploaded assets and settings. Nothing is written.

The asset count is the raw number of files in the archive; a restore may skip
hidden files among them.`,
		Example: `  clinicvault preview /mnt/usb/clinic.zip
  clinicvault preview records.json`,
		Args: cobra.ExactArgs(1),
		RunE: previewRun,
	}

	return cmd
}

func previewRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("backup engine not initialized")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := globalEngine.Preview(ctx, args[0])
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}

	fmt.Printf("Backup: %s (%s)\n", report.Source.Path, report.Source.Kind)
	fmt.Printf("  Format version: %s\n", report.FormatVersion)
	if !report.ExportedAt.IsZero() {
		fmt.Printf("  Exported at:    %s (%s)\n", report.ExportedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(report.ExportedAt))
	}
	if report.ExportedBy != "" {
		fmt.Printf("  Exported by:    %s\n", report.ExportedBy)
	}
	if report.Summary.Note != "" {
		fmt.Printf("  Note:           %s\n", report.Summary.Note)
	}
	fmt.Printf("  Assets:         %d\n", report.AssetCount)
	fmt.Printf("  Settings:       %s\n", yesNo(report.HasSettings))

	if len(report.Summary.Counts) > 0 {
		fmt.Println("\nRecords:")
		printCounts(report.Summary.Counts, false)
	}

	return nil
}
