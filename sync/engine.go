// ABOUTME: Per-account reconciliation engine: push local changes, then pull remote changes
// ABOUTME: Drives the sync log state machine, page limits, pass deadlines, and cancellation
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/harperreed/contactsync/config"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/logging"
	"github.com/harperreed/contactsync/models"
	"google.golang.org/api/people/v1"
)

// LocalStore is the local contact facade the engine reads and writes through.
type LocalStore interface {
	Enumerate(ctx context.Context, userID string) iter.Seq2[models.LocalContact, error]
	ReadOne(ctx context.Context, localID string, kind models.LocalKind) (models.LocalContact, error)
	ApplyRemoteUpdate(ctx context.Context, localID string, kind models.LocalKind, nc models.NormalizedContact) error
	IngestNewFromRemote(ctx context.Context, userID string, nc models.NormalizedContact, hint db.IngestHint) (models.LocalContact, bool, error)
}

// Sessions produces authenticated sessions for accounts.
type Sessions interface {
	Session(ctx context.Context, account *models.RemoteAccount) (*Session, error)
}

// RemoteFactory builds a remote client bound to a session.
type RemoteFactory func(ctx context.Context, session *Session) (RemoteContacts, error)

// PeopleRemoteFactory returns a factory producing People API clients.
func PeopleRemoteFactory(opts ClientOptions) RemoteFactory {
	return func(ctx context.Context, session *Session) (RemoteContacts, error) {
		return NewPeopleClient(ctx, session.Client, opts)
	}
}

// Outcome is the host-visible result of a pass.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomePartial Outcome = "partial"
	OutcomeAborted Outcome = "aborted"
)

// Report summarizes one pass or one change-triggered run.
type Report struct {
	UserID     string    `json:"user_id"`
	AccountID  string    `json:"remote_account_id,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Conflicts  int       `json:"conflicts"`
	Pulled     int       `json:"pulled"`
	Staged     int       `json:"staged"`
	Deleted    int       `json:"deleted"`
	Unchanged  int       `json:"unchanged"`
	Held       int       `json:"held"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Replayed   int       `json:"replayed"`
	Pages      int       `json:"pages"`
	MorePages  bool      `json:"more_pages"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// LocalChange is a write signalled by the host for one local contact.
type LocalChange struct {
	UserID  string
	LocalID string
	Kind    models.LocalKind
	Change  models.ChangeKind
}

// EngineOptions wires an Engine.
type EngineOptions struct {
	DB       *sql.DB
	Accounts *db.AccountStore
	Local    LocalStore
	Sessions Sessions
	Remote   RemoteFactory
	Locks    *AccountLocks
	Sync     config.SyncConfig
	Logger   *log.Logger
	Now      func() time.Time
}

// Engine reconciles local contacts with the remote directory, one account at a time.
type Engine struct {
	db        *sql.DB
	accounts  *db.AccountStore
	local     LocalStore
	sessions  Sessions
	newRemote RemoteFactory
	locks     *AccountLocks
	cfg       config.SyncConfig
	logger    *log.Logger
	now       func() time.Time

	deferredMu stdsync.Mutex
	deferred   map[string][]LocalChange
}

// NewEngine creates an engine. Missing optional fields get defaults.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Locks == nil {
		opts.Locks = NewAccountLocks()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sync.PageSize <= 0 {
		opts.Sync.PageSize = config.DefaultPageSize
	}
	if opts.Sync.MaxPagesPerPass <= 0 {
		opts.Sync.MaxPagesPerPass = config.DefaultMaxPagesPerPass
	}
	return &Engine{
		db:        opts.DB,
		accounts:  opts.Accounts,
		local:     opts.Local,
		sessions:  opts.Sessions,
		newRemote: opts.Remote,
		locks:     opts.Locks,
		cfg:       opts.Sync,
		logger:    opts.Logger.With("component", "engine"),
		now:       opts.Now,
		deferred:  make(map[string][]LocalChange),
	}
}

// pass is the state of one locked run against an account.
type pass struct {
	account  *models.RemoteAccount
	logs     *db.SyncLogStore
	remote   RemoteContacts
	report   *Report
	deadline time.Time
	logger   *log.Logger

	remoteFailures int
	passErr        error
	deadlineHit    bool
	// unlogged holds remote entries that could not be fetched and have no row.
	unlogged       []unloggedFailure
}

type unloggedFailure struct {
	remoteID string
	err      error
}

func (p *pass) expired(now time.Time) bool {
	return !p.deadline.IsZero() && !now.Before(p.deadline)
}

func (p *pass) contactLogger(localID string, kind models.LocalKind, remoteID string) *log.Logger {
	return p.logger.With("local_id", localID, "local_kind", string(kind), "remote_id", remoteID)
}

// FullSync runs a pass for the user's linked account.
func (e *Engine) FullSync(ctx context.Context, userID string) (*Report, error) {
	report := &Report{UserID: userID, StartedAt: e.now().UTC()}

	account, err := e.accounts.GetByUser(ctx, userID)
	if err != nil {
		return e.abort(ctx, report, nil, notLinked(err))
	}
	return e.syncLocked(ctx, account.ID, report)
}

// SyncAccount runs a pass for a known account id.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) (*Report, error) {
	report := &Report{StartedAt: e.now().UTC()}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return e.abort(ctx, report, nil, notLinked(err))
	}
	report.UserID = account.UserID
	return e.syncLocked(ctx, account.ID, report)
}

func (e *Engine) syncLocked(ctx context.Context, accountID string, report *Report) (*Report, error) {
	report.AccountID = accountID

	release, err := e.locks.Acquire(ctx, accountID, e.cfg.AccountLockWait())
	if err != nil {
		return e.abort(ctx, report, nil, err)
	}
	defer e.releaseAndSettle(ctx, accountID, release)

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return e.abort(ctx, report, nil, notLinked(err))
	}
	report.UserID = account.UserID

	initiated := e.now().UTC()
	if err := e.accounts.Update(ctx, account.ID, db.AccountUpdate{LastSyncInitiated: &initiated}); err != nil {
		return e.abort(ctx, report, account, err)
	}

	p, err := e.openPass(ctx, account, report)
	if err != nil {
		return e.abort(ctx, report, account, err)
	}
	if d := e.cfg.PassDeadline(); d > 0 {
		p.deadline = initiated.Add(d)
	}

	p.logger.Info("sync pass started", "event", "pass", "outcome", "started")

	if err := e.pushHalf(ctx, p); err != nil {
		return e.abort(ctx, report, account, err)
	}
	if err := e.pullHalf(ctx, p); err != nil {
		return e.abort(ctx, report, account, err)
	}
	if err := e.drainDeferred(ctx, p); err != nil {
		return e.abort(ctx, report, account, err)
	}

	return e.finish(ctx, p), nil
}

func (e *Engine) openPass(ctx context.Context, account *models.RemoteAccount, report *Report) (*pass, error) {
	session, err := e.sessions.Session(ctx, account)
	if err != nil {
		return nil, err
	}
	remote, err := e.newRemote(ctx, session)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Op: "remote", Err: err}
	}
	return &pass{
		account: account,
		logs:    db.NewSyncLogStore(e.db, account.ID),
		remote:  remote,
		report:  report,
		logger:  e.logger.With("user_id", account.UserID, "remote_account_id", account.ID),
	}, nil
}

func (e *Engine) finish(ctx context.Context, p *pass) *Report {
	r := p.report
	r.FinishedAt = e.now().UTC()

	clean := p.remoteFailures == 0 && p.passErr == nil && !p.deadlineHit
	if clean {
		successful := e.now().UTC()
		cleared := ""
		if err := e.accounts.Update(ctx, p.account.ID, db.AccountUpdate{LastSyncSuccessful: &successful, ErrorMessage: &cleared}); err != nil {
			p.logger.Error("failed to stamp successful sync", "error", err)
			clean = false
		}
	}
	var msg string
	switch {
	case p.passErr != nil:
		msg = p.passErr.Error()
	case len(p.unlogged) > 0:
		msg = fmt.Sprintf("%d remote contact(s) could not be fetched: %s: %v",
			len(p.unlogged), p.unlogged[0].remoteID, p.unlogged[0].err)
	}
	if msg != "" {
		if err := e.accounts.Update(ctx, p.account.ID, db.AccountUpdate{ErrorMessage: &msg}); err != nil {
			p.logger.Error("failed to record pass error", "error", err)
		}
		r.Error = msg
	}

	r.Outcome = OutcomeOK
	if !clean || r.Failed > 0 || r.Skipped > 0 || r.Held > 0 {
		r.Outcome = OutcomePartial
	}

	p.logger.Info("sync pass finished",
		"event", "pass",
		"outcome", string(r.Outcome),
		"created", r.Created,
		"updated", r.Updated,
		"conflicts", r.Conflicts,
		"pulled", r.Pulled,
		"staged", r.Staged,
		"failed", r.Failed,
		"skipped", r.Skipped,
		"held", r.Held,
		"pages", r.Pages,
	)
	return r
}

// abort ends a pass without advancing last_sync_successful. Pass-scope
// failures other than cancellation are recorded on the account.
func (e *Engine) abort(ctx context.Context, r *Report, account *models.RemoteAccount, err error) (*Report, error) {
	r.Outcome = OutcomeAborted
	r.Err = err
	r.Error = err.Error()
	r.FinishedAt = e.now().UTC()

	logger := e.logger.With("user_id", r.UserID, "remote_account_id", r.AccountID)
	if account != nil && ctx.Err() == nil && !errors.Is(err, ErrAccountBusy) {
		msg := err.Error()
		if uerr := e.accounts.Update(ctx, account.ID, db.AccountUpdate{ErrorMessage: &msg}); uerr != nil {
			logger.Error("failed to record pass error", "error", uerr)
		}
	}
	logger.Warn("sync pass aborted", "event", "pass", "outcome", string(OutcomeAborted), "kind", string(KindOf(err)), "error", err)
	return r, err
}

func notLinked(err error) error {
	if errors.Is(err, db.ErrAccountNotFound) {
		return &Error{Kind: KindUnconfigured, Op: "sync", Err: ErrNotLinked}
	}
	return err
}

// pushHalf sends local changes to the remote. Only abort-class errors are returned.
func (e *Engine) pushHalf(ctx context.Context, p *pass) error {
	for lc, err := range e.local.Enumerate(ctx, p.account.UserID) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return &Error{Kind: KindFatal, Op: "enumerate", Err: err}
		}
		if err := e.pushContact(ctx, p, lc); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (e *Engine) pushContact(ctx context.Context, p *pass, lc models.LocalContact) error {
	logger := p.contactLogger(lc.LocalID, lc.Kind, "")
	if !lc.Contact.Eligible() {
		logger.Debug("contact has neither name nor email", "event", "push", "outcome", "ineligible")
		return nil
	}

	entry, err := p.logs.GetByLocal(ctx, lc.LocalID, lc.Kind)
	if err != nil && !errors.Is(err, db.ErrSyncLogNotFound) {
		return storeError("read sync log", err)
	}

	if rejected(entry, lc) {
		p.report.Held++
		logger.Debug("remote rejected this content; waiting for a local edit", "event", "push", "outcome", "held")
		return nil
	}

	switch {
	case entry == nil || entry.RemoteID == "" || entry.Status == models.StatusPendingRemoteCreate:
		return e.createRemote(ctx, p, lc, entry)
	case entry.Status == models.StatusPendingLocalUpdate || entry.Status == models.StatusPendingLocalCreate:
		// The pull half settles these rows.
		return nil
	case entry.Status == models.StatusPendingRemoteUpdate || entry.LocalFingerprint != lc.Fingerprint:
		return e.updateRemote(ctx, p, lc, entry)
	}

	p.report.Unchanged++
	return nil
}

func (e *Engine) createRemote(ctx context.Context, p *pass, lc models.LocalContact, entry *models.SyncLog) error {
	logger := p.contactLogger(lc.LocalID, lc.Kind, "")

	if p.expired(e.now()) {
		p.deadlineHit = true
		p.report.Skipped++
		if entry == nil {
			intent := &models.SyncLog{LocalID: lc.LocalID, LocalKind: lc.Kind, Status: models.StatusPendingRemoteCreate}
			if err := p.logs.Upsert(ctx, intent); err != nil {
				return storeError("record pending create", err)
			}
		}
		logger.Debug("pass deadline reached; create deferred", "event", "push_create", "outcome", "skipped")
		return nil
	}

	created, err := p.remote.Create(ctx, ToRemote(lc.Contact, lc.LocalID, lc.Kind))
	if err != nil {
		return e.pushFailure(ctx, p, lc, entry, "push_create", err)
	}
	if created == nil || created.ResourceName == "" {
		return e.contactFailure(ctx, p, lc.LocalID, lc.Kind, entry, "push_create",
			&Error{Kind: KindTransient, Category: CategoryUnexpected, Op: "create", Err: errors.New("remote returned no resource name")})
	}

	// The remote write happened; record it even if the pass is being cancelled.
	settle := context.WithoutCancel(ctx)
	now := e.now().UTC()
	row := &models.SyncLog{
		LocalID:          lc.LocalID,
		LocalKind:        lc.Kind,
		RemoteID:         created.ResourceName,
		RemoteEtag:       created.Etag,
		LocalFingerprint: lc.Fingerprint,
		Status:           models.StatusSynced,
		Direction:        models.DirectionLocalToRemote,
		LastSync:         &now,
	}
	if err := p.logs.Upsert(settle, row); err != nil {
		return storeError("record created contact", err)
	}

	p.report.Created++
	logger.Info("created remote contact",
		"remote_id", created.ResourceName,
		"email_domain", logging.EmailDomain(lc.Contact.Email),
		"event", "push_create",
		"outcome", string(models.StatusSynced))
	return nil
}

func (e *Engine) updateRemote(ctx context.Context, p *pass, lc models.LocalContact, entry *models.SyncLog) error {
	logger := p.contactLogger(lc.LocalID, lc.Kind, entry.RemoteID)

	if p.expired(e.now()) {
		p.deadlineHit = true
		p.report.Skipped++
		status := models.StatusPendingRemoteUpdate
		if err := p.logs.Update(ctx, entry.ID, db.SyncLogUpdate{Status: &status}); err != nil {
			return storeError("record pending update", err)
		}
		logger.Debug("pass deadline reached; update deferred", "event", "push_update", "outcome", "skipped")
		return nil
	}

	updated, err := p.remote.Update(ctx, entry.RemoteID, ToRemote(lc.Contact, lc.LocalID, lc.Kind), UpdateFields, entry.RemoteEtag)
	if err != nil && IsConflict(err) && ctx.Err() == nil {
		status := models.StatusPendingLocalUpdate
		cleared := ""
		if err := p.logs.Update(ctx, entry.ID, db.SyncLogUpdate{Status: &status, ErrorMessage: &cleared}); err != nil {
			return storeError("record conflict", err)
		}
		p.report.Conflicts++
		logger.Info("remote changed concurrently; deferring to pull", "event", "push_update", "outcome", string(status))
		return nil
	}
	if err != nil {
		return e.pushFailure(ctx, p, lc, entry, "push_update", err)
	}

	settle := context.WithoutCancel(ctx)
	now := e.now().UTC()
	status := models.StatusSynced
	direction := models.DirectionLocalToRemote
	cleared := ""
	if err := p.logs.Update(settle, entry.ID, db.SyncLogUpdate{
		RemoteEtag:          &updated.Etag,
		LocalFingerprint:    &lc.Fingerprint,
		RejectedFingerprint: &cleared,
		Status:              &status,
		Direction:           &direction,
		LastSync:            &now,
		ErrorMessage:        &cleared,
	}); err != nil {
		return storeError("record updated contact", err)
	}

	p.report.Updated++
	logger.Info("updated remote contact", "event", "push_update", "outcome", string(status))
	return nil
}

// pullHalf walks the remote listing, resuming from the stored page token, for
// at most MaxPagesPerPass pages.
func (e *Engine) pullHalf(ctx context.Context, p *pass) error {
	start := p.account.PullPageToken
	current := start
	pages := 0

	for page, err := range Pages(ctx, p.remote, e.cfg.PageSize, start) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if abortKind(err) {
				return err
			}
			p.passErr = err
			p.remoteFailures++
			if current != "" && KindOf(err) == KindRemoteValidation {
				// A stale continuation token; restart the listing next pass.
				current = ""
			}
			p.logger.Warn("listing remote contacts failed", "event", "pull_list", "outcome", "error", "error", err)
			break
		}

		pages++
		p.report.Pages++

		stopped := false
		for _, summary := range page.Entries {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if p.expired(e.now()) {
				p.deadlineHit = true
				stopped = true
				break
			}
			if err := e.pullEntry(ctx, p, summary); err != nil {
				return err
			}
		}
		if stopped {
			p.report.MorePages = true
			p.logger.Debug("pass deadline reached during pull", "event", "pull", "outcome", "skipped")
			break
		}

		current = page.NextPageToken
		if current == "" {
			break
		}
		if pages >= e.cfg.MaxPagesPerPass {
			p.report.MorePages = true
			break
		}
	}

	if current != start {
		if err := e.accounts.Update(ctx, p.account.ID, db.AccountUpdate{PullPageToken: &current}); err != nil {
			return storeError("record pull continuation", err)
		}
		p.account.PullPageToken = current
	}
	return nil
}

func (e *Engine) pullEntry(ctx context.Context, p *pass, summary *people.Person) error {
	if summary == nil || summary.ResourceName == "" {
		return nil
	}

	entry, err := p.logs.GetByRemote(ctx, summary.ResourceName)
	if errors.Is(err, db.ErrSyncLogNotFound) {
		return e.pullNew(ctx, p, summary.ResourceName)
	}
	if err != nil {
		return storeError("read sync log", err)
	}

	if entry.RemoteEtag == summary.Etag && entry.Status != models.StatusPendingLocalUpdate {
		return nil
	}
	return e.pullChanged(ctx, p, entry)
}

func (e *Engine) pullChanged(ctx context.Context, p *pass, entry *models.SyncLog) error {
	logger := p.contactLogger(entry.LocalID, entry.LocalKind, entry.RemoteID)

	full, err := p.remote.Get(ctx, entry.RemoteID, PersonFields)
	if err != nil {
		if IsNotFound(err) {
			logger.Debug("remote contact vanished before fetch", "event", "pull_update", "outcome", "gone")
			return nil
		}
		return e.contactFailure(ctx, p, entry.LocalID, entry.LocalKind, entry, "pull_update", err)
	}

	nc, _ := FromRemote(full)
	if err := e.local.ApplyRemoteUpdate(ctx, entry.LocalID, entry.LocalKind, nc); err != nil {
		if errors.Is(err, db.ErrLocalMissing) {
			return e.contactFailure(ctx, p, entry.LocalID, entry.LocalKind, entry, "pull_update",
				&Error{Kind: KindLocalInconsistency, Op: "apply", Err: err})
		}
		return storeError("apply remote update", err)
	}

	lc, err := e.local.ReadOne(ctx, entry.LocalID, entry.LocalKind)
	if err != nil {
		return storeError("re-read local contact", err)
	}

	now := e.now().UTC()
	status := models.StatusSynced
	if entry.Status == models.StatusPendingLocalCreate {
		status = models.StatusPendingLocalCreate
	}
	direction := models.DirectionRemoteToLocal
	cleared := ""
	if err := p.logs.Update(ctx, entry.ID, db.SyncLogUpdate{
		RemoteEtag:          &full.Etag,
		LocalFingerprint:    &lc.Fingerprint,
		RejectedFingerprint: &cleared,
		Status:              &status,
		Direction:           &direction,
		LastSync:            &now,
		ErrorMessage:        &cleared,
	}); err != nil {
		return storeError("record pulled contact", err)
	}

	p.report.Pulled++
	logger.Info("applied remote changes", "event", "pull_update", "outcome", string(status))
	return nil
}

func (e *Engine) pullNew(ctx context.Context, p *pass, resourceName string) error {
	logger := p.contactLogger("", "", resourceName)

	full, err := p.remote.Get(ctx, resourceName, PersonFields)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		if ferr := e.contactFailure(ctx, p, "", "", nil, "pull_new", err); ferr != nil {
			return ferr
		}
		// No row exists to carry the error; surface it on the account instead.
		p.unlogged = append(p.unlogged, unloggedFailure{remoteID: resourceName, err: err})
		return nil
	}

	nc, markers := FromRemote(full)
	hint := db.IngestHint{LocalID: markers.LocalID, Kind: markers.Kind}

	if verr := markers.Validate(); verr != nil {
		return e.stageInconsistent(ctx, p, full, nc, hint, verr)
	}

	if markers.Present() {
		lc, err := e.local.ReadOne(ctx, markers.LocalID, markers.Kind)
		switch {
		case err == nil:
			return e.rediscover(ctx, p, full, nc, lc)
		case !errors.Is(err, db.ErrLocalMissing):
			return storeError("read marked local contact", err)
		}
		logger.Debug("marked local contact no longer exists; staging", "local_id", markers.LocalID, "local_kind", string(markers.Kind))
	}

	staged, materialized, err := e.local.IngestNewFromRemote(ctx, p.account.UserID, nc, hint)
	if err != nil {
		return storeError("stage remote contact", err)
	}

	status := models.StatusPendingLocalCreate
	if materialized {
		status = models.StatusSynced
	}
	now := e.now().UTC()
	row := &models.SyncLog{
		LocalID:          staged.LocalID,
		LocalKind:        staged.Kind,
		RemoteID:         full.ResourceName,
		RemoteEtag:       full.Etag,
		LocalFingerprint: staged.Fingerprint,
		Status:           status,
		Direction:        models.DirectionRemoteToLocal,
		LastSync:         &now,
	}
	if err := p.logs.Upsert(ctx, row); err != nil {
		return storeError("record staged contact", err)
	}

	p.report.Staged++
	p.contactLogger(staged.LocalID, staged.Kind, full.ResourceName).Info("staged remote contact",
		"email_domain", logging.EmailDomain(nc.Email),
		"event", "pull_new",
		"outcome", string(status))
	return nil
}

// rediscover re-attaches a remote entry to the local contact named by its markers.
func (e *Engine) rediscover(ctx context.Context, p *pass, full *people.Person, nc models.NormalizedContact, lc models.LocalContact) error {
	existing, err := p.logs.GetByLocal(ctx, lc.LocalID, lc.Kind)
	if err != nil && !errors.Is(err, db.ErrSyncLogNotFound) {
		return storeError("read sync log", err)
	}
	if existing != nil && existing.RemoteID != "" && existing.RemoteID != full.ResourceName && !existing.Status.IsPending() {
		dup := &Error{Kind: KindLocalInconsistency, Op: "rediscover",
			Err: fmt.Errorf("local contact already linked to %s", existing.RemoteID)}
		return e.stageInconsistent(ctx, p, full, nc, db.IngestHint{LocalID: lc.LocalID, Kind: lc.Kind}, dup)
	}

	if err := e.local.ApplyRemoteUpdate(ctx, lc.LocalID, lc.Kind, nc); err != nil {
		return storeError("apply remote contact", err)
	}
	fresh, err := e.local.ReadOne(ctx, lc.LocalID, lc.Kind)
	if err != nil {
		return storeError("re-read local contact", err)
	}

	now := e.now().UTC()
	row := &models.SyncLog{
		LocalID:          lc.LocalID,
		LocalKind:        lc.Kind,
		RemoteID:         full.ResourceName,
		RemoteEtag:       full.Etag,
		LocalFingerprint: fresh.Fingerprint,
		Status:           models.StatusSynced,
		Direction:        models.DirectionRemoteToLocal,
		LastSync:         &now,
	}
	if err := p.logs.Upsert(ctx, row); err != nil {
		return storeError("record rediscovered contact", err)
	}

	p.report.Pulled++
	p.contactLogger(lc.LocalID, lc.Kind, full.ResourceName).Info("rediscovered local contact from markers", "event", "pull_new", "outcome", string(models.StatusSynced))
	return nil
}

// stageInconsistent keeps a remote entry whose identity cannot be trusted in
// the staging bucket, flagged as an error for review.
func (e *Engine) stageInconsistent(ctx context.Context, p *pass, full *people.Person, nc models.NormalizedContact, hint db.IngestHint, cause error) error {
	staged, _, err := e.local.IngestNewFromRemote(ctx, p.account.UserID, nc, hint)
	if err != nil {
		return storeError("stage remote contact", err)
	}

	now := e.now().UTC()
	row := &models.SyncLog{
		LocalID:          staged.LocalID,
		LocalKind:        staged.Kind,
		RemoteID:         full.ResourceName,
		RemoteEtag:       full.Etag,
		LocalFingerprint: staged.Fingerprint,
		Status:           models.StatusError,
		Direction:        models.DirectionRemoteToLocal,
		LastSync:         &now,
		ErrorMessage:     cause.Error(),
	}
	if err := p.logs.Upsert(ctx, row); err != nil {
		return storeError("record staged contact", err)
	}

	p.report.Staged++
	p.report.Failed++
	p.contactLogger(staged.LocalID, staged.Kind, full.ResourceName).Warn("staged remote contact with inconsistent identity",
		"event", "pull_new", "outcome", string(models.StatusError), "error", cause)
	return nil
}

// rejected reports a contact whose current content the remote already refused.
func rejected(entry *models.SyncLog, lc models.LocalContact) bool {
	return entry != nil &&
		entry.Status == models.StatusError &&
		entry.RejectedFingerprint != "" &&
		entry.RejectedFingerprint == lc.Fingerprint
}

// pushFailure records a failed create or update. A validation rejection also
// pins the local fingerprint so the same content is not sent again.
func (e *Engine) pushFailure(ctx context.Context, p *pass, lc models.LocalContact, entry *models.SyncLog, event string, cause error) error {
	if err := e.contactFailure(ctx, p, lc.LocalID, lc.Kind, entry, event, cause); err != nil {
		return err
	}
	if KindOf(cause) != KindRemoteValidation || IsNotFound(cause) {
		return nil
	}
	row, err := p.logs.GetByLocal(ctx, lc.LocalID, lc.Kind)
	if err != nil {
		return storeError("read sync log", err)
	}
	if err := p.logs.Update(ctx, row.ID, db.SyncLogUpdate{RejectedFingerprint: &lc.Fingerprint}); err != nil {
		return storeError("record rejected content", err)
	}
	return nil
}

// contactFailure records a per-contact failure on its sync log row. It returns
// an error only when the pass has to stop.
func (e *Engine) contactFailure(ctx context.Context, p *pass, localID string, kind models.LocalKind, entry *models.SyncLog, event string, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	logger := p.contactLogger(localID, kind, remoteIDOf(entry))
	p.report.Failed++
	if IsTransport(cause) {
		p.remoteFailures++
	}
	logger.Warn("contact sync failed", "event", event, "outcome", string(models.StatusError), "kind", string(KindOf(cause)), "error", cause)

	if abortKind(cause) {
		return cause
	}

	msg := cause.Error()
	status := models.StatusError
	switch {
	case entry != nil:
		if err := p.logs.Update(ctx, entry.ID, db.SyncLogUpdate{Status: &status, ErrorMessage: &msg}); err != nil {
			return storeError("record contact failure", err)
		}
	case localID != "":
		row := &models.SyncLog{LocalID: localID, LocalKind: kind, Status: status, ErrorMessage: msg}
		if err := p.logs.Upsert(ctx, row); err != nil {
			return storeError("record contact failure", err)
		}
	}
	return nil
}

// abortKind reports failures that make every further call of the pass pointless.
func abortKind(err error) bool {
	switch KindOf(err) {
	case KindUnconfigured, KindFatal:
		return true
	}
	return false
}

func storeError(op string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

func remoteIDOf(entry *models.SyncLog) string {
	if entry == nil {
		return ""
	}
	return entry.RemoteID
}
