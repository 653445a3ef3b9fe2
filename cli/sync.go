// ABOUTME: Sync commands: run a pass, show status, and run the scheduled daemon
// ABOUTME: Pass reports and account status are rendered with lipgloss
package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/harperreed/contactsync/sync"
	"github.com/spf13/cobra"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize contacts with linked accounts",
	}
	cmd.AddCommand(
		newSyncRunCommand(opts),
		newSyncStatusCommand(opts),
		newSyncDaemonCommand(opts),
	)
	return cmd
}

func newSyncRunCommand(opts *rootOptions) *cobra.Command {
	var userID string
	var all bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full two-way sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" && !all {
				return fmt.Errorf("specify --user or --all")
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()

			if !all {
				report, err := app.Engine.FullSync(ctx, userID)
				if report != nil {
					renderReport(out, report)
				}
				return err
			}

			reports, err := syncAllAccounts(ctx, app.Accounts, app.Engine, app.Logger)
			for _, report := range reports {
				renderReport(out, report)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id")
	cmd.Flags().BoolVar(&all, "all", false, "sync every linked account")
	return cmd
}

func newSyncStatusCommand(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync timestamps, errors, and per-status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			statuses, err := app.Engine.Status(cmd.Context(), userID)
			if errors.Is(err, sync.ErrNotLinked) {
				return fmt.Errorf("user %s has no linked account", userID)
			}
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (all accounts when omitted)")
	return cmd
}

func newSyncDaemonCommand(opts *rootOptions) *cobra.Command {
	var schedule string
	var runNow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync every linked account on a cron schedule",
		Long: `Runs a full sync for every linked account on the configured schedule
(sync.schedule, default "@every 15m") until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			if schedule == "" {
				schedule = app.Config.Sync.Schedule
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			daemon := NewDaemon(app.Accounts, app.Engine, app.Logger)
			return daemon.Run(ctx, schedule, runNow)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression or descriptor (default from config)")
	cmd.Flags().BoolVar(&runNow, "now", false, "run a pass immediately before waiting for the schedule")
	return cmd
}
