// ABOUTME: Tests for sync MCP tool and resource handlers
// ABOUTME: Uses a fake sync service and an in-memory MCP session
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	report    *sync.Report
	syncErr   error
	statuses  []sync.AccountStatus
	pending   []models.SyncLog
	gotUser   string
	gotStatus []models.SyncStatus
	gotLimit  int
}

func (f *fakeService) FullSync(_ context.Context, userID string) (*sync.Report, error) {
	f.gotUser = userID
	return f.report, f.syncErr
}

func (f *fakeService) Status(_ context.Context, userID string) ([]sync.AccountStatus, error) {
	f.gotUser = userID
	return f.statuses, nil
}

func (f *fakeService) Pending(_ context.Context, userID string, statuses []models.SyncStatus, limit int) ([]models.SyncLog, error) {
	f.gotUser = userID
	f.gotStatus = statuses
	f.gotLimit = limit
	return f.pending, nil
}

type fakeNotifier struct {
	result *sync.ChangeResult
	err    error
	calls  int
	kind   models.LocalKind
	change models.ChangeKind
}

func (f *fakeNotifier) OnLocalWrite(_ context.Context, _, _ string, kind models.LocalKind, change models.ChangeKind) (*sync.ChangeResult, error) {
	f.calls++
	f.kind = kind
	f.change = change
	return f.result, f.err
}

func TestSyncContactsHandler(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	service := &fakeService{report: &sync.Report{
		UserID:    "user-1",
		Outcome:   sync.OutcomePartial,
		Created:   2,
		Failed:    1,
		StartedAt: started,
	}}
	h := NewSyncHandlers(service, &fakeNotifier{})

	_, out, err := h.SyncContacts(context.Background(), nil, SyncContactsInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", service.gotUser)
	assert.Equal(t, "partial", out.Outcome)
	assert.Equal(t, 2, out.Created)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, "2026-03-01T09:00:00Z", out.StartedAt)
	assert.Empty(t, out.FinishedAt)
}

func TestSyncContactsHandlerAbortedPass(t *testing.T) {
	service := &fakeService{
		report:  &sync.Report{UserID: "user-1", Outcome: sync.OutcomeAborted, Error: "remote account not configured"},
		syncErr: errors.New("remote account not configured"),
	}
	h := NewSyncHandlers(service, &fakeNotifier{})

	_, out, err := h.SyncContacts(context.Background(), nil, SyncContactsInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "aborted", out.Outcome)
	assert.Equal(t, "remote account not configured", out.Error)
}

func TestSyncContactsHandlerErrors(t *testing.T) {
	h := NewSyncHandlers(&fakeService{syncErr: sync.ErrNotLinked}, &fakeNotifier{})

	_, _, err := h.SyncContacts(context.Background(), nil, SyncContactsInput{})
	assert.Error(t, err)

	_, _, err = h.SyncContacts(context.Background(), nil, SyncContactsInput{UserID: "nobody"})
	assert.ErrorIs(t, err, sync.ErrNotLinked)
}

func TestSyncStatusHandler(t *testing.T) {
	success := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	service := &fakeService{statuses: []sync.AccountStatus{{
		Account: models.RemoteAccount{
			ID:                 "acct-1",
			UserID:             "user-1",
			Email:              "owner@example.test",
			LastSyncSuccessful: &success,
		},
		Counts:   map[models.SyncStatus]int{models.StatusSynced: 3, models.StatusError: 1},
		Deferred: 2,
	}}}
	h := NewSyncHandlers(service, &fakeNotifier{})

	_, out, err := h.SyncStatus(context.Background(), nil, SyncStatusInput{})
	require.NoError(t, err)
	require.Len(t, out.Accounts, 1)

	account := out.Accounts[0]
	assert.Equal(t, "acct-1", account.AccountID)
	assert.Equal(t, "2026-03-01T09:05:00Z", account.LastSyncSuccessful)
	assert.Empty(t, account.LastSyncInitiated)
	assert.Equal(t, map[string]int{"synced": 3, "error": 1}, account.Counts)
	assert.Equal(t, 2, account.Deferred)
}

func TestNotifyContactChangeHandler(t *testing.T) {
	tests := []struct {
		name       string
		input      NotifyContactChangeInput
		result     *sync.ChangeResult
		notifyErr  error
		wantErr    bool
		wantCalls  int
		wantLinked bool
	}{
		{
			name:       "synced update",
			input:      NotifyContactChangeInput{UserID: "user-1", LocalID: "C-1", LocalKind: "client", Change: "update"},
			result:     &sync.ChangeResult{Status: models.StatusSynced, RemoteID: "people/c1"},
			wantCalls:  1,
			wantLinked: true,
		},
		{
			name:      "unlinked user",
			input:     NotifyContactChangeInput{UserID: "user-1", LocalID: "C-1", LocalKind: "partner", Change: "create"},
			wantCalls: 1,
		},
		{
			name:    "unknown kind",
			input:   NotifyContactChangeInput{UserID: "user-1", LocalID: "C-1", LocalKind: "vendor", Change: "create"},
			wantErr: true,
		},
		{
			name:    "unknown change",
			input:   NotifyContactChangeInput{UserID: "user-1", LocalID: "C-1", LocalKind: "client", Change: "merge"},
			wantErr: true,
		},
		{
			name:    "missing local id",
			input:   NotifyContactChangeInput{UserID: "user-1", LocalKind: "client", Change: "create"},
			wantErr: true,
		},
		{
			name:      "engine failure",
			input:     NotifyContactChangeInput{UserID: "user-1", LocalID: "C-1", LocalKind: "client", Change: "delete"},
			notifyErr: errors.New("database is locked"),
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{result: tt.result, err: tt.notifyErr}
			h := NewSyncHandlers(&fakeService{}, notifier)

			_, out, err := h.NotifyContactChange(context.Background(), nil, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantLinked, out.Linked)
			}
			assert.Equal(t, tt.wantCalls, notifier.calls)
		})
	}
}

func TestNotifyContactChangeParsesKinds(t *testing.T) {
	notifier := &fakeNotifier{result: &sync.ChangeResult{Removed: true}}
	h := NewSyncHandlers(&fakeService{}, notifier)

	_, out, err := h.NotifyContactChange(context.Background(), nil, NotifyContactChangeInput{
		UserID: "user-1", LocalID: "P-9", LocalKind: " Personnel ", Change: "DELETE",
	})
	require.NoError(t, err)
	assert.True(t, out.Removed)
	assert.Equal(t, models.KindPersonnel, notifier.kind)
	assert.Equal(t, models.ChangeDelete, notifier.change)
}

func TestListPendingSyncHandler(t *testing.T) {
	service := &fakeService{pending: []models.SyncLog{{
		ID:           "log-1",
		LocalID:      "C-1",
		LocalKind:    models.KindClient,
		Status:       models.StatusError,
		ErrorMessage: "remote rejected contact",
	}}}
	h := NewSyncHandlers(service, &fakeNotifier{})

	_, out, err := h.ListPendingSync(context.Background(), nil, ListPendingSyncInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 50, service.gotLimit)
	assert.Empty(t, service.gotStatus)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "error", out.Entries[0].Status)
	assert.Equal(t, "client", out.Entries[0].LocalKind)

	_, _, err = h.ListPendingSync(context.Background(), nil, ListPendingSyncInput{
		UserID:   "user-1",
		Statuses: []string{"pending_local_update"},
		Limit:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, []models.SyncStatus{models.StatusPendingLocalUpdate}, service.gotStatus)
	assert.Equal(t, 5, service.gotLimit)

	_, _, err = h.ListPendingSync(context.Background(), nil, ListPendingSyncInput{UserID: "user-1", Statuses: []string{"stuck"}})
	assert.Error(t, err)
}

func TestReadResource(t *testing.T) {
	service := &fakeService{
		statuses: []sync.AccountStatus{{Account: models.RemoteAccount{ID: "acct-1", UserID: "user-1"}}},
		pending:  []models.SyncLog{{ID: "log-1", LocalID: "C-1", LocalKind: models.KindClient, Status: models.StatusPendingLocalUpdate}},
	}
	h := NewResourceHandlers(service)

	tests := []struct {
		name     string
		uri      string
		wantUser string
		wantErr  bool
	}{
		{"all accounts", "contactsync://accounts", "", false},
		{"one account", "contactsync://accounts/user-1", "user-1", false},
		{"pending rows", "contactsync://pending/user-1", "user-1", false},
		{"pending without user", "contactsync://pending", "", true},
		{"wrong scheme", "crm://contacts", "", true},
		{"unknown resource", "contactsync://deals", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service.gotUser = ""
			result, err := h.ReadResource(context.Background(), &mcp.ReadResourceRequest{
				Params: &mcp.ReadResourceParams{URI: tt.uri},
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, result.Contents, 1)
			assert.Equal(t, tt.uri, result.Contents[0].URI)
			assert.Equal(t, "application/json", result.Contents[0].MIMEType)
			assert.True(t, json.Valid([]byte(result.Contents[0].Text)))
			assert.Equal(t, tt.wantUser, service.gotUser)
		})
	}
}

func TestServerRegistersSyncTools(t *testing.T) {
	ctx := context.Background()
	service := &fakeService{report: &sync.Report{UserID: "user-1", Outcome: sync.OutcomeOK, Created: 1}}
	server := NewServer("test", service, &fakeNotifier{})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"sync_contacts", "sync_status", "notify_contact_change", "list_pending_sync"}, names)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "sync_contacts",
		Arguments: map[string]any{"user_id": "user-1"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "user-1", service.gotUser)

	data, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out ReportOutput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "ok", out.Outcome)
	assert.Equal(t, 1, out.Created)
}

func TestSyncTriagePrompt(t *testing.T) {
	service := &fakeService{
		statuses: []sync.AccountStatus{{
			Account: models.RemoteAccount{ID: "acct-1", UserID: "user-1", ErrorMessage: "refresh token revoked"},
			Counts:  map[models.SyncStatus]int{models.StatusError: 2},
		}},
		pending: []models.SyncLog{{LocalID: "C-7", LocalKind: models.KindPartner, Status: models.StatusError, ErrorMessage: "remote rejected contact"}},
	}
	h := NewPromptHandlers(service)

	result, err := h.GetPrompt(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: "sync-triage", Arguments: map[string]string{"user_id": "user-1"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)

	text, ok := result.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Account error: refresh token revoked")
	assert.Contains(t, text.Text, "error: 2")
	assert.Contains(t, text.Text, "partner C-7: error (remote rejected contact)")
	assert.Contains(t, text.Text, "Last sync succeeded: never")

	_, err = h.GetPrompt(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: "sync-triage", Arguments: map[string]string{}},
	})
	assert.Error(t, err)

	_, err = h.GetPrompt(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: "deal-analysis"},
	})
	assert.Error(t, err)
}
