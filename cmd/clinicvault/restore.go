package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/clinicvault/internal/engine"
)

var restoreYes bool

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore FILE",
		Short: "Replace the clinic state with the contents of a backup",
		Long: `Restore every clinic record from a backup file, replacing what is in the
database now. The database change is all-or-nothing.

Archive assets and the settings file are written after the database commit.
If that step fails the records stay restored and the failed files are listed.`,
		Example: `  clinicvault restore /mnt/usb/clinic.zip
  clinicvault restore records.json --yes`,
		Args: cobra.ExactArgs(1),
		RunE: restoreRun,
	}

	cmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func restoreRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalEngine == nil {
		return fmt.Errorf("backup engine not initialized")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := args[0]

	// Validate before asking, so a bad file never gets as far as a prompt.
	preview, err := globalEngine.Preview(ctx, path)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	if !restoreYes {
		fmt.Printf("This replaces ALL clinic records with the backup from %s (format %s).\n",
			preview.ExportedAt.Format("2006-01-02 15:04:05 MST"), preview.FormatVersion)
		ok, err := confirm(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	report, err := globalEngine.Restore(ctx, path)
	if err != nil && !errors.Is(err, engine.ErrPartialRestore) {
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Println(report.Message)
	printCounts(report.Counts, true)
	if len(report.SkippedAssets) > 0 {
		fmt.Printf("\nSkipped %d archive entr(ies): %s\n", len(report.SkippedAssets), strings.Join(report.SkippedAssets, ", "))
	}
	if len(report.SkippedCollections) > 0 {
		fmt.Printf("Ignored collections with no matching table: %s\n",
			strings.Join(report.SkippedCollections, ", "))
	}
	fmt.Printf("Operation: %s\n", report.OperationID)

	if err != nil {
		log.Warn("restore finished with file errors", "error", err)
		return fmt.Errorf("restore incomplete: %w", err)
	}
	return nil
}

func confirm(in io.Reader) (bool, error) {
	fmt.Print("Type 'yes' to continue: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
}
