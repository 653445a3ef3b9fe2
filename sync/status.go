// ABOUTME: Read-side views over accounts and sync logs, plus error-row pruning
// ABOUTME: Used by the CLI status/prune commands and the MCP tools
package sync

import (
	"context"
	"time"

	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/models"
)

// AccountStatus is the sync state of one linked account.
type AccountStatus struct {
	Account  models.RemoteAccount      `json:"account"`
	Counts   map[models.SyncStatus]int `json:"counts"`
	Deferred int                       `json:"deferred"`
}

// Status returns the state of the user's account, or of every account when
// userID is empty.
func (e *Engine) Status(ctx context.Context, userID string) ([]AccountStatus, error) {
	var accounts []models.RemoteAccount
	if userID != "" {
		account, err := e.accounts.GetByUser(ctx, userID)
		if err != nil {
			return nil, notLinked(err)
		}
		accounts = append(accounts, *account)
	} else {
		all, err := e.accounts.List(ctx)
		if err != nil {
			return nil, err
		}
		accounts = all
	}

	out := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		counts, err := db.NewSyncLogStore(e.db, account.ID).CountByStatus(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, AccountStatus{
			Account:  account,
			Counts:   counts,
			Deferred: e.DeferredCount(account.ID),
		})
	}
	return out, nil
}

// Pending lists unsettled sync log rows for the user's account, oldest sync first.
func (e *Engine) Pending(ctx context.Context, userID string, statuses []models.SyncStatus, limit int) ([]models.SyncLog, error) {
	account, err := e.accounts.GetByUser(ctx, userID)
	if err != nil {
		return nil, notLinked(err)
	}
	return db.NewSyncLogStore(e.db, account.ID).ListPending(ctx, statuses, limit)
}

// Prune deletes error rows last touched before olderThan ago, across all accounts.
func (e *Engine) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	accounts, err := e.accounts.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := e.now().UTC().Add(-olderThan)

	var total int64
	for _, account := range accounts {
		n, err := db.NewSyncLogStore(e.db, account.ID).Prune(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	e.logger.Info("pruned error rows", "count", total, "cutoff", cutoff.Format(time.RFC3339))
	return total, nil
}
