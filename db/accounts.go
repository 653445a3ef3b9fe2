// ABOUTME: Token store for linked remote contact accounts
// ABOUTME: Upserts by external account id, partial credential/timestamp updates, cascading delete
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/contactsync/models"
)

var ErrAccountNotFound = errors.New("remote account not found")

// AccountStore persists RemoteAccount rows.
type AccountStore struct {
	db     *sql.DB
	cipher TokenCipher
}

// NewAccountStore creates an account store. A nil cipher stores tokens as-is.
func NewAccountStore(db *sql.DB, cipher TokenCipher) *AccountStore {
	if cipher == nil {
		cipher = PlainCipher{}
	}
	return &AccountStore{db: db, cipher: cipher}
}

// AccountUpdate carries the writable fields of a RemoteAccount. Nil fields are left untouched.
// An empty ErrorMessage clears the stored message.
type AccountUpdate struct {
	AccessToken        *string
	RefreshToken       *string
	TokenExpiry        *time.Time
	Scopes             *[]string
	PullPageToken      *string
	LastSyncInitiated  *time.Time
	LastSyncSuccessful *time.Time
	ErrorMessage       *string
}

const accountColumns = `id, user_id, external_account_id, email, access_token, refresh_token, token_expiry,
	scopes, pull_page_token, last_sync_initiated, last_sync_successful, error_message, created_at, updated_at`

// Upsert inserts or updates the account identified by externalAccountID.
// An empty refresh token never overwrites a stored one.
func (s *AccountStore) Upsert(ctx context.Context, userID, externalAccountID, email string, tokens models.Tokens) (*models.RemoteAccount, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(externalAccountID) == "" {
		return nil, fmt.Errorf("user id and external account id are required")
	}

	access, err := s.cipher.Seal(tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.cipher.Seal(tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	scopes, err := encodeScopes(tokens.Scopes)
	if err != nil {
		return nil, err
	}

	var expiry *time.Time
	if !tokens.Expiry.IsZero() {
		expiry = &tokens.Expiry
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remote_accounts (id, user_id, external_account_id, email, access_token, refresh_token, token_expiry, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_account_id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = COALESCE(excluded.refresh_token, remote_accounts.refresh_token),
			token_expiry = excluded.token_expiry,
			scopes = excluded.scopes,
			error_message = NULL,
			updated_at = excluded.updated_at
	`, uuid.New().String(), userID, externalAccountID, nullString(email), nullString(access), nullString(refresh),
		nullTime(expiry), scopes, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert remote account: %w", err)
	}

	return s.GetByExternal(ctx, externalAccountID)
}

// GetByUser returns the most recently updated account linked by userID.
func (s *AccountStore) GetByUser(ctx context.Context, userID string) (*models.RemoteAccount, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM remote_accounts WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`, userID)
}

// GetByExternal returns the account with the given external account id.
func (s *AccountStore) GetByExternal(ctx context.Context, externalAccountID string) (*models.RemoteAccount, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM remote_accounts WHERE external_account_id = ?`, externalAccountID)
}

// GetByID returns the account with the given surrogate id.
func (s *AccountStore) GetByID(ctx context.Context, accountID string) (*models.RemoteAccount, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM remote_accounts WHERE id = ?`, accountID)
}

// List returns every linked account ordered by user.
func (s *AccountStore) List(ctx context.Context) ([]models.RemoteAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM remote_accounts ORDER BY user_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []models.RemoteAccount
	for rows.Next() {
		account, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote accounts: %w", err)
	}
	return accounts, nil
}

// Update writes the non-nil fields of update.
func (s *AccountStore) Update(ctx context.Context, accountID string, update AccountUpdate) error {
	var sets []string
	var args []any

	if update.AccessToken != nil {
		sealed, err := s.cipher.Seal(*update.AccessToken)
		if err != nil {
			return err
		}
		sets = append(sets, "access_token = ?")
		args = append(args, nullString(sealed))
	}
	if update.RefreshToken != nil {
		sealed, err := s.cipher.Seal(*update.RefreshToken)
		if err != nil {
			return err
		}
		sets = append(sets, "refresh_token = ?")
		args = append(args, nullString(sealed))
	}
	if update.TokenExpiry != nil {
		sets = append(sets, "token_expiry = ?")
		args = append(args, nullTime(update.TokenExpiry))
	}
	if update.Scopes != nil {
		encoded, err := encodeScopes(*update.Scopes)
		if err != nil {
			return err
		}
		sets = append(sets, "scopes = ?")
		args = append(args, encoded)
	}
	if update.PullPageToken != nil {
		sets = append(sets, "pull_page_token = ?")
		args = append(args, nullString(*update.PullPageToken))
	}
	if update.LastSyncInitiated != nil {
		sets = append(sets, "last_sync_initiated = ?")
		args = append(args, nullTime(update.LastSyncInitiated))
	}
	if update.LastSyncSuccessful != nil {
		sets = append(sets, "last_sync_successful = ?")
		args = append(args, nullTime(update.LastSyncSuccessful))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullString(*update.ErrorMessage))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), accountID)

	result, err := s.db.ExecContext(ctx, `UPDATE remote_accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update remote account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Delete removes the account and every sync log row referencing it.
func (s *AccountStore) Delete(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // Safe even after commit
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_logs WHERE remote_account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete sync logs: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM remote_accounts WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete remote account: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}

	return tx.Commit()
}

func (s *AccountStore) getOne(ctx context.Context, query string, args ...any) (*models.RemoteAccount, error) {
	account, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountStore) scan(row rowScanner) (*models.RemoteAccount, error) {
	var account models.RemoteAccount
	var email, access, refresh, pageToken, errorMessage sql.NullString
	var expiry, initiated, successful sql.NullTime
	var scopes string

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.ExternalAccountID,
		&email,
		&access,
		&refresh,
		&expiry,
		&scopes,
		&pageToken,
		&initiated,
		&successful,
		&errorMessage,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if account.AccessToken, err = s.cipher.Open(access.String); err != nil {
		return nil, err
	}
	if account.RefreshToken, err = s.cipher.Open(refresh.String); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopes), &account.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}

	account.Email = email.String
	account.PullPageToken = pageToken.String
	account.ErrorMessage = errorMessage.String
	account.TokenExpiry = timePtr(expiry)
	account.LastSyncInitiated = timePtr(initiated)
	account.LastSyncSuccessful = timePtr(successful)

	return &account, nil
}

func encodeScopes(scopes []string) (string, error) {
	if scopes == nil {
		scopes = []string{}
	}
	encoded, err := json.Marshal(scopes)
	if err != nil {
		return "", fmt.Errorf("failed to encode scopes: %w", err)
	}
	return string(encoded), nil
}
