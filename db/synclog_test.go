// ABOUTME: Tests for the sync log store
// ABOUTME: Covers lookups, remote-id immutability, pending ordering, counts, and prune
package db

import (
	"context"
	"testing"
	"time"

	"github.com/harperreed/contactsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestSyncLogUpsertAndLookups(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	entry := &models.SyncLog{
		LocalID:   "C-1",
		LocalKind: models.KindClient,
		Status:    models.StatusPendingRemoteCreate,
	}
	require.NoError(t, logs.Upsert(ctx, entry))
	require.NotEmpty(t, entry.ID)

	got, err := logs.GetByLocal(ctx, "C-1", models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Empty(t, got.RemoteID)
	assert.Nil(t, got.LastSync)

	now := time.Now().UTC().Truncate(time.Second)
	entry.RemoteID = "people/c1"
	entry.RemoteEtag = "etag-1"
	entry.Status = models.StatusSynced
	entry.Direction = models.DirectionLocalToRemote
	entry.LastSync = &now
	require.NoError(t, logs.Upsert(ctx, entry))

	byRemote, err := logs.GetByRemote(ctx, "people/c1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, byRemote.ID)
	assert.Equal(t, "etag-1", byRemote.RemoteEtag)
	assert.Equal(t, models.DirectionLocalToRemote, byRemote.Direction)
	require.NotNil(t, byRemote.LastSync)
	assert.True(t, byRemote.LastSync.Equal(now))

	byID, err := logs.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "C-1", byID.LocalID)

	_, err = logs.GetByLocal(ctx, "C-1", models.KindPartner)
	assert.ErrorIs(t, err, ErrSyncLogNotFound)
	_, err = logs.GetByRemote(ctx, "people/none")
	assert.ErrorIs(t, err, ErrSyncLogNotFound)
}

func TestSyncLogScopedToAccount(t *testing.T) {
	db := setupTestDB(t)
	a := createTestAccount(t, db, "user-1", "people/1")
	b := createTestAccount(t, db, "user-2", "people/2")
	ctx := context.Background()

	entry := &models.SyncLog{LocalID: "C-1", LocalKind: models.KindClient, RemoteID: "people/c1", Status: models.StatusSynced}
	require.NoError(t, NewSyncLogStore(db, a.ID).Upsert(ctx, entry))

	_, err := NewSyncLogStore(db, b.ID).GetByID(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrSyncLogNotFound)
	_, err = NewSyncLogStore(db, b.ID).GetByRemote(ctx, "people/c1")
	assert.ErrorIs(t, err, ErrSyncLogNotFound)
}

func TestSyncLogRemoteIDImmutableOnceSynced(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	entry := &models.SyncLog{LocalID: "C-1", LocalKind: models.KindClient, RemoteID: "people/c1", Status: models.StatusSynced}
	require.NoError(t, logs.Upsert(ctx, entry))

	err := logs.Update(ctx, entry.ID, SyncLogUpdate{RemoteID: ptr("people/other")})
	assert.ErrorIs(t, err, ErrImmutableField)

	moved := *entry
	moved.RemoteID = "people/other"
	assert.ErrorIs(t, logs.Upsert(ctx, &moved), ErrImmutableField)

	// Pending rows may still be re-pointed.
	require.NoError(t, logs.Update(ctx, entry.ID, SyncLogUpdate{Status: ptr(models.StatusPendingRemoteUpdate)}))
	require.NoError(t, logs.Update(ctx, entry.ID, SyncLogUpdate{RemoteID: ptr("people/other")}))

	got, err := logs.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "people/other", got.RemoteID)
}

func TestSyncLogRemoteIDUniquePerAccount(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	require.NoError(t, logs.Upsert(ctx, &models.SyncLog{LocalID: "C-1", LocalKind: models.KindClient, RemoteID: "people/c1", Status: models.StatusSynced}))
	err := logs.Upsert(ctx, &models.SyncLog{LocalID: "P-1", LocalKind: models.KindPartner, RemoteID: "people/c1", Status: models.StatusSynced})
	assert.Error(t, err)
}

func TestSyncLogUpdateFields(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	entry := &models.SyncLog{LocalID: "C-1", LocalKind: models.KindClient, Status: models.StatusPendingRemoteCreate}
	require.NoError(t, logs.Upsert(ctx, entry))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, logs.Update(ctx, entry.ID, SyncLogUpdate{
		RemoteID:            ptr("people/c1"),
		RemoteEtag:          ptr("etag-1"),
		LocalFingerprint:    ptr("fp"),
		RejectedFingerprint: ptr("fp-rejected"),
		Status:              ptr(models.StatusError),
		Direction:           ptr(models.DirectionLocalToRemote),
		LastSync:            &now,
		ErrorMessage:        ptr("boom"),
	}))

	got, err := logs.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "people/c1", got.RemoteID)
	assert.Equal(t, "etag-1", got.RemoteEtag)
	assert.Equal(t, "fp", got.LocalFingerprint)
	assert.Equal(t, "fp-rejected", got.RejectedFingerprint)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Equal(t, "C-1", got.LocalID)

	require.NoError(t, logs.Update(ctx, entry.ID, SyncLogUpdate{ErrorMessage: ptr(""), RejectedFingerprint: ptr("")}))
	got, err = logs.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, got.RejectedFingerprint)

	assert.ErrorIs(t, logs.Update(ctx, "missing", SyncLogUpdate{Status: ptr(models.StatusSynced)}), ErrSyncLogNotFound)
}

func TestSyncLogDelete(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	entry := &models.SyncLog{LocalID: "C-1", LocalKind: models.KindClient, RemoteID: "people/c1", Status: models.StatusSynced}
	require.NoError(t, logs.Upsert(ctx, entry))
	require.NoError(t, logs.Delete(ctx, entry.ID))
	assert.ErrorIs(t, logs.Delete(ctx, entry.ID), ErrSyncLogNotFound)
}

func TestSyncLogListPendingOrdering(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour).UTC()
	recent := time.Now().Add(-time.Minute).UTC()

	rows := []*models.SyncLog{
		{LocalID: "recent", LocalKind: models.KindClient, RemoteID: "people/r", Status: models.StatusPendingLocalUpdate, LastSync: &recent},
		{LocalID: "never", LocalKind: models.KindClient, Status: models.StatusPendingRemoteCreate},
		{LocalID: "old", LocalKind: models.KindClient, RemoteID: "people/o", Status: models.StatusError, LastSync: &old},
		{LocalID: "done", LocalKind: models.KindClient, RemoteID: "people/d", Status: models.StatusSynced, LastSync: &old},
	}
	for _, r := range rows {
		require.NoError(t, logs.Upsert(ctx, r))
	}

	pending, err := logs.ListPending(ctx, nil, 10)
	require.NoError(t, err)
	var order []string
	for _, p := range pending {
		order = append(order, p.LocalID)
	}
	assert.Equal(t, []string{"never", "old", "recent"}, order)

	onlyErrors, err := logs.ListPending(ctx, []models.SyncStatus{models.StatusError}, 10)
	require.NoError(t, err)
	require.Len(t, onlyErrors, 1)
	assert.Equal(t, "old", onlyErrors[0].LocalID)

	limited, err := logs.ListPending(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := logs.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusSynced])
	assert.Equal(t, 1, counts[models.StatusError])
	assert.Equal(t, 1, counts[models.StatusPendingRemoteCreate])
}

func TestSyncLogPrune(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC()
	recent := time.Now().UTC()
	require.NoError(t, logs.Upsert(ctx, &models.SyncLog{LocalID: "a", LocalKind: models.KindClient, Status: models.StatusError, LastSync: &old}))
	require.NoError(t, logs.Upsert(ctx, &models.SyncLog{LocalID: "b", LocalKind: models.KindClient, Status: models.StatusError, LastSync: &recent}))
	require.NoError(t, logs.Upsert(ctx, &models.SyncLog{LocalID: "c", LocalKind: models.KindClient, RemoteID: "people/c", Status: models.StatusSynced, LastSync: &old}))

	n, err := logs.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = logs.GetByLocal(ctx, "a", models.KindClient)
	assert.ErrorIs(t, err, ErrSyncLogNotFound)
	_, err = logs.GetByLocal(ctx, "c", models.KindClient)
	assert.NoError(t, err)
}

func TestSyncLogUpsertValidation(t *testing.T) {
	db := setupTestDB(t)
	account := createTestAccount(t, db, "user-1", "people/1")
	logs := NewSyncLogStore(db, account.ID)

	assert.Error(t, logs.Upsert(context.Background(), &models.SyncLog{LocalKind: models.KindClient, Status: models.StatusSynced}))
	assert.Error(t, logs.Upsert(context.Background(), &models.SyncLog{LocalID: "x", LocalKind: models.KindClient}))
}
