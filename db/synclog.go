// ABOUTME: Per-contact sync log store bound to a single remote account
// ABOUTME: Lookups by local identity, remote id, or log id; guarded partial updates; pending listing
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/contactsync/models"
)

var (
	ErrSyncLogNotFound = errors.New("sync log not found")
	ErrImmutableField  = errors.New("sync log field is immutable in current state")
)

// SyncLogStore reads and writes sync_logs rows of one remote account.
type SyncLogStore struct {
	db        *sql.DB
	accountID string
}

// NewSyncLogStore creates a store scoped to accountID.
func NewSyncLogStore(db *sql.DB, accountID string) *SyncLogStore {
	return &SyncLogStore{db: db, accountID: accountID}
}

// AccountID returns the remote account this store is bound to.
func (s *SyncLogStore) AccountID() string {
	return s.accountID
}

// SyncLogUpdate carries the mutable reconciliation fields. Nil fields are left untouched.
// An empty ErrorMessage clears the stored message.
type SyncLogUpdate struct {
	RemoteID            *string
	RemoteEtag          *string
	LocalFingerprint    *string
	RejectedFingerprint *string
	Status              *models.SyncStatus
	Direction           *models.Direction
	LastSync            *time.Time
	ErrorMessage        *string
}

const syncLogColumns = `id, remote_account_id, local_id, local_kind, remote_id, remote_etag, local_fingerprint,
	rejected_fingerprint, status, direction, last_sync, error_message, created_at, updated_at`

// GetByLocal returns the log for a local contact identity.
func (s *SyncLogStore) GetByLocal(ctx context.Context, localID string, kind models.LocalKind) (*models.SyncLog, error) {
	return s.getOne(ctx, s.db, `SELECT `+syncLogColumns+` FROM sync_logs
		WHERE remote_account_id = ? AND local_id = ? AND local_kind = ?`, s.accountID, localID, string(kind))
}

// GetByRemote returns the log for a remote resource name.
func (s *SyncLogStore) GetByRemote(ctx context.Context, remoteID string) (*models.SyncLog, error) {
	return s.getOne(ctx, s.db, `SELECT `+syncLogColumns+` FROM sync_logs
		WHERE remote_account_id = ? AND remote_id = ?`, s.accountID, remoteID)
}

// GetByID returns the log with the given id.
func (s *SyncLogStore) GetByID(ctx context.Context, logID string) (*models.SyncLog, error) {
	return s.getOne(ctx, s.db, `SELECT `+syncLogColumns+` FROM sync_logs
		WHERE remote_account_id = ? AND id = ?`, s.accountID, logID)
}

// Upsert inserts the log or updates the existing row with the same local identity.
// On return entry carries the stored id and timestamps.
func (s *SyncLogStore) Upsert(ctx context.Context, entry *models.SyncLog) error {
	if entry == nil || entry.LocalID == "" || entry.LocalKind == "" {
		return fmt.Errorf("sync log requires local id and kind")
	}
	if entry.Status == "" {
		return fmt.Errorf("sync log requires a status")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // Safe even after commit
	}()

	existing, err := s.getOne(ctx, tx, `SELECT `+syncLogColumns+` FROM sync_logs
		WHERE remote_account_id = ? AND local_id = ? AND local_kind = ?`, s.accountID, entry.LocalID, string(entry.LocalKind))
	if err != nil && !errors.Is(err, ErrSyncLogNotFound) {
		return err
	}

	now := time.Now().UTC()
	if existing == nil {
		entry.ID = uuid.New().String()
		entry.CreatedAt = now
		entry.UpdatedAt = now
		entry.RemoteAccountID = s.accountID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_logs (id, remote_account_id, local_id, local_kind, remote_id, remote_etag, local_fingerprint,
				rejected_fingerprint, status, direction, last_sync, error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, s.accountID, entry.LocalID, string(entry.LocalKind), nullString(entry.RemoteID),
			nullString(entry.RemoteEtag), nullString(entry.LocalFingerprint), nullString(entry.RejectedFingerprint), string(entry.Status),
			nullString(string(entry.Direction)), nullTime(entry.LastSync), nullString(entry.ErrorMessage), now, now)
		if err != nil {
			return fmt.Errorf("failed to insert sync log: %w", err)
		}
		return tx.Commit()
	}

	if err := checkRemoteIDChange(existing, entry.RemoteID); err != nil {
		return err
	}

	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = now
	entry.RemoteAccountID = s.accountID
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_logs SET remote_id = ?, remote_etag = ?, local_fingerprint = ?, rejected_fingerprint = ?, status = ?,
			direction = ?, last_sync = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, nullString(entry.RemoteID), nullString(entry.RemoteEtag), nullString(entry.LocalFingerprint),
		nullString(entry.RejectedFingerprint), string(entry.Status), nullString(string(entry.Direction)), nullTime(entry.LastSync),
		nullString(entry.ErrorMessage), now, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to update sync log: %w", err)
	}
	return tx.Commit()
}

// Update writes the non-nil fields of update to the log with the given id.
func (s *SyncLogStore) Update(ctx context.Context, logID string, update SyncLogUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // Safe even after commit
	}()

	existing, err := s.getOne(ctx, tx, `SELECT `+syncLogColumns+` FROM sync_logs
		WHERE remote_account_id = ? AND id = ?`, s.accountID, logID)
	if err != nil {
		return err
	}

	var sets []string
	var args []any

	if update.RemoteID != nil {
		if err := checkRemoteIDChange(existing, *update.RemoteID); err != nil {
			return err
		}
		sets = append(sets, "remote_id = ?")
		args = append(args, nullString(*update.RemoteID))
	}
	if update.RemoteEtag != nil {
		sets = append(sets, "remote_etag = ?")
		args = append(args, nullString(*update.RemoteEtag))
	}
	if update.LocalFingerprint != nil {
		sets = append(sets, "local_fingerprint = ?")
		args = append(args, nullString(*update.LocalFingerprint))
	}
	if update.RejectedFingerprint != nil {
		sets = append(sets, "rejected_fingerprint = ?")
		args = append(args, nullString(*update.RejectedFingerprint))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Direction != nil {
		sets = append(sets, "direction = ?")
		args = append(args, nullString(string(*update.Direction)))
	}
	if update.LastSync != nil {
		sets = append(sets, "last_sync = ?")
		args = append(args, nullTime(update.LastSync))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullString(*update.ErrorMessage))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), logID)

	if _, err := tx.ExecContext(ctx, `UPDATE sync_logs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("failed to update sync log: %w", err)
	}
	return tx.Commit()
}

// Delete removes the log with the given id.
func (s *SyncLogStore) Delete(ctx context.Context, logID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sync_logs WHERE remote_account_id = ? AND id = ?`, s.accountID, logID)
	if err != nil {
		return fmt.Errorf("failed to delete sync log: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSyncLogNotFound
	}
	return nil
}

// ListPending returns logs whose status is in statuses, oldest last sync first.
// An empty filter selects every status other than synced.
func (s *SyncLogStore) ListPending(ctx context.Context, statuses []models.SyncStatus, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE remote_account_id = ?`
	args := []any{s.accountID}
	if len(statuses) == 0 {
		query += ` AND status != ?`
		args = append(args, string(models.StatusSynced))
	} else {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY last_sync IS NOT NULL, last_sync ASC, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []models.SyncLog
	for rows.Next() {
		entry, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}
	return logs, nil
}

// CountByStatus returns the number of logs per status.
func (s *SyncLogStore) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_logs WHERE remote_account_id = ? GROUP BY status`, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sync log count: %w", err)
		}
		counts[models.SyncStatus(status)] = count
	}
	return counts, rows.Err()
}

// Prune deletes error rows whose last activity is older than cutoff.
func (s *SyncLogStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_logs
		WHERE remote_account_id = ? AND status = ? AND COALESCE(last_sync, created_at) < ?
	`, s.accountID, string(models.StatusError), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync logs: %w", err)
	}
	return result.RowsAffected()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SyncLogStore) getOne(ctx context.Context, q queryRower, query string, args ...any) (*models.SyncLog, error) {
	entry, err := scanSyncLog(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSyncLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// checkRemoteIDChange enforces that a known remote id only changes while the
// row is still in a pending state.
func checkRemoteIDChange(existing *models.SyncLog, remoteID string) error {
	if existing.RemoteID == "" || existing.RemoteID == remoteID {
		return nil
	}
	if existing.Status.IsPending() {
		return nil
	}
	return fmt.Errorf("%w: remote_id %s -> %s in status %s", ErrImmutableField, existing.RemoteID, remoteID, existing.Status)
}

func scanSyncLog(row rowScanner) (*models.SyncLog, error) {
	var entry models.SyncLog
	var kind, status string
	var remoteID, etag, fingerprint, rejected, direction, errorMessage sql.NullString
	var lastSync sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.RemoteAccountID,
		&entry.LocalID,
		&kind,
		&remoteID,
		&etag,
		&fingerprint,
		&rejected,
		&status,
		&direction,
		&lastSync,
		&errorMessage,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.LocalKind = models.LocalKind(kind)
	entry.Status = models.SyncStatus(status)
	entry.Direction = models.Direction(direction.String)
	entry.RemoteID = remoteID.String
	entry.RemoteEtag = etag.String
	entry.LocalFingerprint = fingerprint.String
	entry.RejectedFingerprint = rejected.String
	entry.ErrorMessage = errorMessage.String
	entry.LastSync = timePtr(lastSync)

	return &entry, nil
}
