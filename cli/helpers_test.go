// ABOUTME: Shared fixtures for CLI tests
// ABOUTME: Builds an App over a temp database and runs the command tree against it
package cli

import (
	"bytes"
	"context"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/harperreed/contactsync/config"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/logging"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/stretchr/testify/require"
)

type notifyCall struct {
	UserID  string
	LocalID string
	Kind    models.LocalKind
	Change  models.ChangeKind
}

type recordingNotifier struct {
	mu     gosync.Mutex
	calls  []notifyCall
	result *sync.ChangeResult
	err    error
}

func (r *recordingNotifier) OnLocalWrite(_ context.Context, userID, localID string, kind models.LocalKind, change models.ChangeKind) (*sync.ChangeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notifyCall{UserID: userID, LocalID: localID, Kind: kind, Change: change})
	return r.result, r.err
}

func (r *recordingNotifier) last(t *testing.T) notifyCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

func newTestApp(t *testing.T) (*App, *recordingNotifier) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "cli.db")

	database, err := db.OpenDatabase(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	notifier := &recordingNotifier{result: &sync.ChangeResult{Status: models.StatusSynced, RemoteID: "people/c1"}}
	return &App{
		Config:     cfg,
		Logger:     logging.Discard(),
		DB:         database,
		Accounts:   db.NewAccountStore(database, nil),
		Dispatcher: notifier,
	}, notifier
}

func runCommand(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand("test", &rootOptions{app: app})

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}
