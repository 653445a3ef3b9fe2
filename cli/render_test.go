// ABOUTME: Tests for report and status rendering
// ABOUTME: Checks the text content regardless of terminal color support
package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/stretchr/testify/assert"
)

func TestRenderStatusEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, nil)
	assert.Contains(t, buf.String(), "No linked accounts")
}

func TestRenderStatusAccount(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderStatus(&buf, []sync.AccountStatus{{
		Account: models.RemoteAccount{
			UserID:            "user-1",
			Email:             "owner@example.test",
			LastSyncInitiated: &started,
			ErrorMessage:      "remote account not configured",
		},
		Counts: map[models.SyncStatus]int{
			models.StatusSynced:             12,
			models.StatusPendingLocalUpdate: 3,
		},
		Deferred: 2,
	}})

	out := buf.String()
	assert.Contains(t, out, "user-1")
	assert.Contains(t, out, "owner@example.test")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "remote account not configured")
	assert.Contains(t, out, "pending_local_update")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "deferred changes")
	assert.NotContains(t, out, "pending_remote_create")
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, &sync.Report{
		UserID:    "user-1",
		Outcome:   sync.OutcomePartial,
		Created:   2,
		Conflicts: 1,
		Pulled:    4,
		Pages:     2,
		Failed:    1,
		MorePages: true,
	})

	out := buf.String()
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "2 created")
	assert.Contains(t, out, "1 conflicts")
	assert.Contains(t, out, "4 updated, 0 staged over 2 page(s)")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "next pass resumes")

	buf.Reset()
	renderReport(&buf, &sync.Report{UserID: "user-2", Outcome: sync.OutcomeAborted, Error: "account busy"})
	assert.Contains(t, buf.String(), "aborted")
	assert.Contains(t, buf.String(), "error: account busy")
}
