// ABOUTME: Sync log maintenance commands
// ABOUTME: Lists unsettled rows and prunes old error rows
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/contactsync/models"
	"github.com/spf13/cobra"
)

func newSyncLogCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synclog",
		Short: "Inspect and maintain per-contact sync records",
	}
	cmd.AddCommand(
		newSyncLogPendingCommand(opts),
		newSyncLogPruneCommand(opts),
	)
	return cmd
}

func newSyncLogPendingCommand(opts *rootOptions) *cobra.Command {
	var userID string
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List contacts whose sync is pending or failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]models.SyncStatus, 0, len(statuses))
			for _, s := range statuses {
				st, err := models.ParseSyncStatus(s)
				if err != nil {
					return err
				}
				filter = append(filter, st)
			}

			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			entries, err := app.Engine.Pending(cmd.Context(), userID, filter, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "Nothing pending.")
				return nil
			}
			for _, entry := range entries {
				line := fmt.Sprintf("%-22s %-10s %-38s %s", entry.Status, entry.LocalKind, entry.LocalID, entry.RemoteID)
				if entry.ErrorMessage != "" {
					line += "  " + errorStyle.Render(entry.ErrorMessage)
				}
				_, _ = fmt.Fprintln(out, strings.TrimRight(line, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (required)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to include (default: everything except synced)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSyncLogPruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete error rows older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			n, err := app.Engine.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d error row(s) older than %s\n", n, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of error rows to delete")
	return cmd
}
