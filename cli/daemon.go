// ABOUTME: Cron-scheduled sync of every linked account
// ABOUTME: A failing account is logged and does not stop the others or later runs
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/robfig/cron/v3"
)

type accountLister interface {
	List(ctx context.Context) ([]models.RemoteAccount, error)
}

type accountSyncer interface {
	SyncAccount(ctx context.Context, accountID string) (*sync.Report, error)
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression or descriptor such as "@every 15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Daemon runs scheduled passes.
type Daemon struct {
	accounts accountLister
	engine   accountSyncer
	logger   *log.Logger
}

func NewDaemon(accounts accountLister, engine accountSyncer, logger *log.Logger) *Daemon {
	return &Daemon{accounts: accounts, engine: engine, logger: logger.With("component", "daemon")}
}

// Run schedules RunOnce and blocks until ctx is done. A run still in
// progress when the next tick fires is not overlapped.
func (d *Daemon) Run(ctx context.Context, spec string, runNow bool) error {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		d.RunOnce(ctx)
	}))

	d.logger.Info("daemon started", "schedule", spec)
	if runNow {
		d.RunOnce(ctx)
	}
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	d.logger.Info("daemon stopped")
	return nil
}

// RunOnce syncs every linked account in turn.
func (d *Daemon) RunOnce(ctx context.Context) []*sync.Report {
	reports, err := syncAllAccounts(ctx, d.accounts, d.engine, d.logger)
	if err != nil && ctx.Err() == nil {
		d.logger.Warn("scheduled run finished with errors", "accounts", len(reports), "error", err)
	}
	return reports
}

// syncAllAccounts runs a pass per account, collecting reports and joining errors.
func syncAllAccounts(ctx context.Context, accounts accountLister, engine accountSyncer, logger *log.Logger) ([]*sync.Report, error) {
	list, err := accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var reports []*sync.Report
	var errs []error
	for _, account := range list {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := engine.SyncAccount(ctx, account.ID)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			logger.Warn("account sync failed", "user_id", account.UserID, "remote_account_id", account.ID, "error", err)
			errs = append(errs, fmt.Errorf("user %s: %w", account.UserID, err))
		}
	}
	return reports, errors.Join(errs...)
}
