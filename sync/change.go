// ABOUTME: Change-triggered single-contact sync and the local write dispatcher
// ABOUTME: Changes that cannot take the account lock are queued and replayed by the lock holder
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/models"
)

// ChangeResult reports what a change-triggered call did.
type ChangeResult struct {
	Deferred     bool              `json:"deferred"`
	Status       models.SyncStatus `json:"status,omitempty"`
	RemoteID     string            `json:"remote_id,omitempty"`
	Removed      bool              `json:"removed,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Report       *Report           `json:"report,omitempty"`
}

// HandleLocalChange reconciles one local write with the remote. When a pass
// holds the account lock the change is queued for that pass to replay.
func (e *Engine) HandleLocalChange(ctx context.Context, ch LocalChange) (*ChangeResult, error) {
	if _, err := models.ParseLocalKind(string(ch.Kind)); err != nil || ch.Kind == models.KindRemoteOriginated {
		return nil, fmt.Errorf("unsupported local kind %q", ch.Kind)
	}
	if _, err := models.ParseChangeKind(string(ch.Change)); err != nil {
		return nil, err
	}
	if ch.LocalID == "" {
		return nil, fmt.Errorf("local id is required")
	}

	account, err := e.accounts.GetByUser(ctx, ch.UserID)
	if err != nil {
		return nil, notLinked(err)
	}

	pending := &ch
	release, err := e.locks.Acquire(ctx, account.ID, e.cfg.ChangeLockWait())
	if errors.Is(err, ErrAccountBusy) {
		e.enqueue(account.ID, ch)
		// The holder may have drained its queue before we enqueued.
		var ok bool
		release, ok = e.locks.TryAcquire(account.ID)
		if !ok {
			e.logger.Debug("account busy; change deferred",
				"user_id", ch.UserID, "remote_account_id", account.ID,
				"local_id", ch.LocalID, "local_kind", string(ch.Kind), "change", string(ch.Change))
			return &ChangeResult{Deferred: true}, nil
		}
		pending = nil
	} else if err != nil {
		return nil, err
	}
	defer e.releaseAndSettle(ctx, account.ID, release)

	report := &Report{UserID: ch.UserID, AccountID: account.ID, StartedAt: e.now().UTC()}

	account, err = e.accounts.GetByID(ctx, account.ID)
	if err != nil {
		return nil, notLinked(err)
	}
	p, err := e.openPass(ctx, account, report)
	if err != nil {
		return nil, err
	}

	if pending != nil {
		if err := e.applyChange(ctx, p, *pending); err != nil {
			return nil, err
		}
	}
	if err := e.drainDeferred(ctx, p); err != nil {
		return nil, err
	}

	report.FinishedAt = e.now().UTC()
	report.Outcome = OutcomeOK
	if report.Failed > 0 || report.Held > 0 {
		report.Outcome = OutcomePartial
	}

	result := &ChangeResult{Report: report}
	entry, err := p.logs.GetByLocal(ctx, ch.LocalID, ch.Kind)
	switch {
	case errors.Is(err, db.ErrSyncLogNotFound):
		result.Removed = ch.Change == models.ChangeDelete
	case err != nil:
		return nil, storeError("read sync log", err)
	default:
		result.Status = entry.Status
		result.RemoteID = entry.RemoteID
		result.ErrorMessage = entry.ErrorMessage
	}
	return result, nil
}

func (e *Engine) applyChange(ctx context.Context, p *pass, ch LocalChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ch.Change == models.ChangeDelete {
		return e.deleteRemote(ctx, p, ch)
	}

	entry, err := p.logs.GetByLocal(ctx, ch.LocalID, ch.Kind)
	if err != nil && !errors.Is(err, db.ErrSyncLogNotFound) {
		return storeError("read sync log", err)
	}

	lc, err := e.local.ReadOne(ctx, ch.LocalID, ch.Kind)
	if errors.Is(err, db.ErrLocalMissing) {
		return e.contactFailure(ctx, p, ch.LocalID, ch.Kind, entry, "change",
			&Error{Kind: KindLocalInconsistency, Op: "change", Err: err})
	}
	if err != nil {
		return storeError("read local contact", err)
	}
	if !lc.Contact.Eligible() {
		return nil
	}

	if entry == nil {
		intent := &models.SyncLog{LocalID: lc.LocalID, LocalKind: lc.Kind, Status: models.StatusPendingRemoteCreate}
		if err := p.logs.Upsert(ctx, intent); err != nil {
			return storeError("record pending create", err)
		}
	}
	return e.pushContact(ctx, p, lc)
}

func (e *Engine) deleteRemote(ctx context.Context, p *pass, ch LocalChange) error {
	entry, err := p.logs.GetByLocal(ctx, ch.LocalID, ch.Kind)
	if errors.Is(err, db.ErrSyncLogNotFound) {
		return nil
	}
	if err != nil {
		return storeError("read sync log", err)
	}
	logger := p.contactLogger(ch.LocalID, ch.Kind, entry.RemoteID)

	if entry.RemoteID != "" {
		if err := p.remote.Delete(ctx, entry.RemoteID); err != nil && !IsNotFound(err) {
			return e.contactFailure(ctx, p, ch.LocalID, ch.Kind, entry, "delete", err)
		}
	}

	if err := p.logs.Delete(context.WithoutCancel(ctx), entry.ID); err != nil && !errors.Is(err, db.ErrSyncLogNotFound) {
		return storeError("remove sync log", err)
	}
	p.report.Deleted++
	logger.Info("removed contact from remote", "event", "delete", "outcome", "removed")
	return nil
}

// enqueue records a change for the lock holder, coalescing by local contact
// with the latest change winning.
func (e *Engine) enqueue(accountID string, ch LocalChange) {
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()

	queue := e.deferred[accountID]
	for i, queued := range queue {
		if queued.LocalID == ch.LocalID && queued.Kind == ch.Kind {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	e.deferred[accountID] = append(queue, ch)
}

// requeue puts back unprocessed changes ahead of anything queued since,
// unless a newer change for the same contact already arrived.
func (e *Engine) requeue(accountID string, changes []LocalChange) {
	if len(changes) == 0 {
		return
	}
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()

	queue := e.deferred[accountID]
	var kept []LocalChange
	for _, ch := range changes {
		newer := false
		for _, queued := range queue {
			if queued.LocalID == ch.LocalID && queued.Kind == ch.Kind {
				newer = true
				break
			}
		}
		if !newer {
			kept = append(kept, ch)
		}
	}
	e.deferred[accountID] = append(kept, queue...)
}

func (e *Engine) takeDeferred(accountID string) []LocalChange {
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()

	queue := e.deferred[accountID]
	delete(e.deferred, accountID)
	return queue
}

// DeferredCount returns the number of queued changes for an account.
func (e *Engine) DeferredCount(accountID string) int {
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()
	return len(e.deferred[accountID])
}

// drainDeferred replays queued changes until the queue stays empty.
func (e *Engine) drainDeferred(ctx context.Context, p *pass) error {
	for {
		batch := e.takeDeferred(p.account.ID)
		if len(batch) == 0 {
			return nil
		}
		for i, ch := range batch {
			if err := e.applyChange(ctx, p, ch); err != nil {
				e.requeue(p.account.ID, batch[i:])
				return err
			}
			p.report.Replayed++
		}
	}
}

// releaseAndSettle releases the account lock, then replays changes that were
// queued after the holder's last drain. It stops when another caller holds
// the lock, since that caller drains on its own release.
func (e *Engine) releaseAndSettle(ctx context.Context, accountID string, release func()) {
	release()
	for e.DeferredCount(accountID) > 0 && ctx.Err() == nil {
		again, ok := e.locks.TryAcquire(accountID)
		if !ok {
			return
		}
		err := e.replayDeferred(ctx, accountID)
		again()
		if err != nil {
			e.logger.Warn("deferred changes left queued", "remote_account_id", accountID, "error", err)
			return
		}
	}
}

// replayDeferred drains the queue under a lock the caller already holds.
func (e *Engine) replayDeferred(ctx context.Context, accountID string) error {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return notLinked(err)
	}
	report := &Report{UserID: account.UserID, AccountID: account.ID, StartedAt: e.now().UTC()}
	p, err := e.openPass(ctx, account, report)
	if err != nil {
		return err
	}
	if err := e.drainDeferred(ctx, p); err != nil {
		return err
	}
	p.logger.Info("replayed deferred changes",
		"event", "replay",
		"replayed", report.Replayed,
		"created", report.Created,
		"updated", report.Updated,
		"failed", report.Failed)
	return nil
}

// ChangeHandler is the engine surface the dispatcher forwards to.
type ChangeHandler interface {
	HandleLocalChange(ctx context.Context, ch LocalChange) (*ChangeResult, error)
}

// Dispatcher gives local write paths a uniform way to signal changes.
type Dispatcher struct {
	handler ChangeHandler
	logger  *log.Logger
}

// NewDispatcher creates a dispatcher forwarding to handler.
func NewDispatcher(handler ChangeHandler, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{handler: handler, logger: logger.With("component", "dispatcher")}
}

// OnLocalWrite signals that a local contact was written. Users without a
// linked account are ignored.
func (d *Dispatcher) OnLocalWrite(ctx context.Context, userID, localID string, kind models.LocalKind, change models.ChangeKind) (*ChangeResult, error) {
	result, err := d.handler.HandleLocalChange(ctx, LocalChange{
		UserID:  userID,
		LocalID: localID,
		Kind:    kind,
		Change:  change,
	})
	if errors.Is(err, ErrNotLinked) {
		d.logger.Debug("user has no linked account; change not synced", "user_id", userID, "local_id", localID)
		return nil, nil
	}
	if err != nil {
		d.logger.Warn("change sync failed",
			"user_id", userID, "local_id", localID, "local_kind", string(kind), "change", string(change), "error", err)
		return nil, err
	}
	return result, nil
}
