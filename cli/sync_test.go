// ABOUTME: Tests for sync and synclog commands against a real engine without a remote
// ABOUTME: Covers argument validation, not-linked reporting, status, and pruning
package cli

import (
	"context"
	"testing"
	"time"

	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/logging"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEngine(t *testing.T, app *App) {
	t.Helper()
	app.Engine = sync.NewEngine(sync.EngineOptions{
		DB:       app.DB,
		Accounts: app.Accounts,
		Local:    db.NewLocalContacts(app.DB),
		Sync:     app.Config.Sync,
		Logger:   logging.Discard(),
	})
}

func TestSyncRunRequiresTarget(t *testing.T) {
	app, _ := newTestApp(t)
	withEngine(t, app)

	_, err := runCommand(t, app, "sync", "run")
	assert.ErrorContains(t, err, "--user or --all")
}

func TestSyncRunNotLinked(t *testing.T) {
	app, _ := newTestApp(t)
	withEngine(t, app)

	out, err := runCommand(t, app, "sync", "run", "--user", "nobody")
	assert.ErrorIs(t, err, sync.ErrNotLinked)
	assert.Contains(t, out, "aborted")
}

func TestSyncRunAllWithoutAccounts(t *testing.T) {
	app, _ := newTestApp(t)
	withEngine(t, app)

	out, err := runCommand(t, app, "sync", "run", "--all")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSyncStatusCommand(t *testing.T) {
	app, _ := newTestApp(t)
	withEngine(t, app)

	_, err := runCommand(t, app, "sync", "status", "--user", "nobody")
	assert.ErrorContains(t, err, "has no linked account")

	account := linkAccount(t, app, "user-1")
	logs := db.NewSyncLogStore(app.DB, account.ID)
	require.NoError(t, logs.Upsert(context.Background(), &models.SyncLog{
		LocalID:   "C-1",
		LocalKind: models.KindClient,
		Status:    models.StatusPendingRemoteCreate,
	}))

	out, err := runCommand(t, app, "sync", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "user-1")
	assert.Contains(t, out, "pending_remote_create")
}

func TestSyncLogPendingAndPrune(t *testing.T) {
	app, _ := newTestApp(t)
	withEngine(t, app)
	ctx := context.Background()

	account := linkAccount(t, app, "user-1")
	logs := db.NewSyncLogStore(app.DB, account.ID)
	old := time.Now().Add(-90 * 24 * time.Hour)
	require.NoError(t, logs.Upsert(ctx, &models.SyncLog{
		LocalID:      "C-1",
		LocalKind:    models.KindClient,
		Status:       models.StatusError,
		ErrorMessage: "remote rejected contact",
		LastSync:     &old,
	}))

	out, err := runCommand(t, app, "synclog", "pending", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "C-1")
	assert.Contains(t, out, "remote rejected contact")

	_, err = runCommand(t, app, "synclog", "pending", "--user", "user-1", "--status", "stuck")
	assert.Error(t, err)

	out, err = runCommand(t, app, "synclog", "prune", "--older-than", "720h")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 error row(s)")

	out, err = runCommand(t, app, "synclog", "pending", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing pending.")
}
