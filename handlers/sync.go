// ABOUTME: Sync MCP tool handlers
// ABOUTME: Implements sync_contacts, sync_status, notify_contact_change, and list_pending_sync tools
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SyncService is the engine surface the sync tools drive.
type SyncService interface {
	FullSync(ctx context.Context, userID string) (*sync.Report, error)
	Status(ctx context.Context, userID string) ([]sync.AccountStatus, error)
	Pending(ctx context.Context, userID string, statuses []models.SyncStatus, limit int) ([]models.SyncLog, error)
}

// ChangeNotifier forwards local writes to the engine.
type ChangeNotifier interface {
	OnLocalWrite(ctx context.Context, userID, localID string, kind models.LocalKind, change models.ChangeKind) (*sync.ChangeResult, error)
}

type SyncHandlers struct {
	service  SyncService
	notifier ChangeNotifier
}

func NewSyncHandlers(service SyncService, notifier ChangeNotifier) *SyncHandlers {
	return &SyncHandlers{service: service, notifier: notifier}
}

type SyncContactsInput struct {
	UserID string `json:"user_id" jsonschema:"Local user whose linked account should be synced (required)"`
}

type ReportOutput struct {
	UserID     string `json:"user_id"`
	AccountID  string `json:"remote_account_id,omitempty"`
	Outcome    string `json:"outcome"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Conflicts  int    `json:"conflicts"`
	Pulled     int    `json:"pulled"`
	Staged     int    `json:"staged"`
	Deleted    int    `json:"deleted"`
	Unchanged  int    `json:"unchanged"`
	Held       int    `json:"held"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Replayed   int    `json:"replayed"`
	Pages      int    `json:"pages"`
	MorePages  bool   `json:"more_pages"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// SyncContacts runs a full pass. An aborted pass is reported in the output
// rather than as a tool error so the caller sees the partial counts.
func (h *SyncHandlers) SyncContacts(ctx context.Context, _ *mcp.CallToolRequest, input SyncContactsInput) (*mcp.CallToolResult, ReportOutput, error) {
	if input.UserID == "" {
		return nil, ReportOutput{}, fmt.Errorf("user_id is required")
	}

	report, err := h.service.FullSync(ctx, input.UserID)
	if report == nil {
		if err == nil {
			err = errors.New("sync produced no report")
		}
		return nil, ReportOutput{}, fmt.Errorf("failed to sync contacts: %w", err)
	}
	return nil, reportToOutput(report), nil
}

type SyncStatusInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"Local user to report on (all linked accounts when omitted)"`
}

type AccountStatusOutput struct {
	AccountID          string         `json:"remote_account_id"`
	UserID             string         `json:"user_id"`
	Email              string         `json:"email,omitempty"`
	LastSyncInitiated  string         `json:"last_sync_initiated,omitempty"`
	LastSyncSuccessful string         `json:"last_sync_successful,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Counts             map[string]int `json:"counts"`
	Deferred           int            `json:"deferred"`
}

type SyncStatusOutput struct {
	Accounts []AccountStatusOutput `json:"accounts"`
}

func (h *SyncHandlers) SyncStatus(ctx context.Context, _ *mcp.CallToolRequest, input SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	statuses, err := h.service.Status(ctx, input.UserID)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to read sync status: %w", err)
	}

	out := SyncStatusOutput{Accounts: make([]AccountStatusOutput, len(statuses))}
	for i, st := range statuses {
		out.Accounts[i] = accountStatusToOutput(st)
	}
	return nil, out, nil
}

type NotifyContactChangeInput struct {
	UserID    string `json:"user_id" jsonschema:"Owner of the local contact (required)"`
	LocalID   string `json:"local_id" jsonschema:"Local contact ID (required)"`
	LocalKind string `json:"local_kind" jsonschema:"Local contact kind: client, partner, or personnel (required)"`
	Change    string `json:"change" jsonschema:"Change kind: create, update, or delete (required)"`
}

type NotifyContactChangeOutput struct {
	Linked       bool   `json:"linked"`
	Deferred     bool   `json:"deferred"`
	Status       string `json:"status,omitempty"`
	RemoteID     string `json:"remote_id,omitempty"`
	Removed      bool   `json:"removed,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (h *SyncHandlers) NotifyContactChange(ctx context.Context, _ *mcp.CallToolRequest, input NotifyContactChangeInput) (*mcp.CallToolResult, NotifyContactChangeOutput, error) {
	if input.UserID == "" || input.LocalID == "" {
		return nil, NotifyContactChangeOutput{}, fmt.Errorf("user_id and local_id are required")
	}
	kind, err := models.ParseLocalKind(input.LocalKind)
	if err != nil {
		return nil, NotifyContactChangeOutput{}, err
	}
	change, err := models.ParseChangeKind(input.Change)
	if err != nil {
		return nil, NotifyContactChangeOutput{}, err
	}

	result, err := h.notifier.OnLocalWrite(ctx, input.UserID, input.LocalID, kind, change)
	if err != nil {
		return nil, NotifyContactChangeOutput{}, fmt.Errorf("failed to sync contact change: %w", err)
	}
	if result == nil {
		return nil, NotifyContactChangeOutput{Linked: false}, nil
	}

	return nil, NotifyContactChangeOutput{
		Linked:       true,
		Deferred:     result.Deferred,
		Status:       string(result.Status),
		RemoteID:     result.RemoteID,
		Removed:      result.Removed,
		ErrorMessage: result.ErrorMessage,
	}, nil
}

type ListPendingSyncInput struct {
	UserID   string   `json:"user_id" jsonschema:"Local user whose account to inspect (required)"`
	Statuses []string `json:"statuses,omitempty" jsonschema:"Statuses to include (default: every pending status and error)"`
	Limit    int      `json:"limit,omitempty" jsonschema:"Maximum number of rows (default 50)"`
}

type SyncLogOutput struct {
	ID           string `json:"id"`
	LocalID      string `json:"local_id"`
	LocalKind    string `json:"local_kind"`
	RemoteID     string `json:"remote_id,omitempty"`
	Status       string `json:"status"`
	Direction    string `json:"direction,omitempty"`
	LastSync     string `json:"last_sync,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

type ListPendingSyncOutput struct {
	Entries []SyncLogOutput `json:"entries"`
}

func (h *SyncHandlers) ListPendingSync(ctx context.Context, _ *mcp.CallToolRequest, input ListPendingSyncInput) (*mcp.CallToolResult, ListPendingSyncOutput, error) {
	if input.UserID == "" {
		return nil, ListPendingSyncOutput{}, fmt.Errorf("user_id is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	statuses := make([]models.SyncStatus, 0, len(input.Statuses))
	for _, s := range input.Statuses {
		st, err := models.ParseSyncStatus(s)
		if err != nil {
			return nil, ListPendingSyncOutput{}, err
		}
		statuses = append(statuses, st)
	}

	entries, err := h.service.Pending(ctx, input.UserID, statuses, limit)
	if err != nil {
		return nil, ListPendingSyncOutput{}, fmt.Errorf("failed to list pending rows: %w", err)
	}

	out := ListPendingSyncOutput{Entries: make([]SyncLogOutput, len(entries))}
	for i, entry := range entries {
		out.Entries[i] = syncLogToOutput(entry)
	}
	return nil, out, nil
}

func reportToOutput(r *sync.Report) ReportOutput {
	return ReportOutput{
		UserID:     r.UserID,
		AccountID:  r.AccountID,
		Outcome:    string(r.Outcome),
		Created:    r.Created,
		Updated:    r.Updated,
		Conflicts:  r.Conflicts,
		Pulled:     r.Pulled,
		Staged:     r.Staged,
		Deleted:    r.Deleted,
		Unchanged:  r.Unchanged,
		Held:       r.Held,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Replayed:   r.Replayed,
		Pages:      r.Pages,
		MorePages:  r.MorePages,
		Error:      r.Error,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
	}
}

func accountStatusToOutput(st sync.AccountStatus) AccountStatusOutput {
	counts := make(map[string]int, len(st.Counts))
	for status, n := range st.Counts {
		counts[string(status)] = n
	}
	return AccountStatusOutput{
		AccountID:          st.Account.ID,
		UserID:             st.Account.UserID,
		Email:              st.Account.Email,
		LastSyncInitiated:  formatTimePtr(st.Account.LastSyncInitiated),
		LastSyncSuccessful: formatTimePtr(st.Account.LastSyncSuccessful),
		ErrorMessage:       st.Account.ErrorMessage,
		Counts:             counts,
		Deferred:           st.Deferred,
	}
}

func syncLogToOutput(entry models.SyncLog) SyncLogOutput {
	return SyncLogOutput{
		ID:           entry.ID,
		LocalID:      entry.LocalID,
		LocalKind:    string(entry.LocalKind),
		RemoteID:     entry.RemoteID,
		Status:       string(entry.Status),
		Direction:    string(entry.Direction),
		LastSync:     formatTimePtr(entry.LastSync),
		ErrorMessage: entry.ErrorMessage,
		UpdatedAt:    formatTime(entry.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
