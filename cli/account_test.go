// ABOUTME: Tests for account commands and authorization code entry
// ABOUTME: Revocation runs against an httptest endpoint
package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/logging"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptForCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"pasted code", "4/0Abc-def\n", "4/0Abc-def", false},
		{"surrounding whitespace", "  code-123  \n", "code-123", false},
		{"no trailing newline", "code-456", "code-456", false},
		{"empty", "\n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code, err := promptForCode(&out, strings.NewReader(tt.input), "https://accounts.example.test/auth?state=s")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
			assert.Contains(t, out.String(), "https://accounts.example.test/auth?state=s")
		})
	}
}

func linkAccount(t *testing.T, app *App, userID string) *models.RemoteAccount {
	t.Helper()
	account, err := app.Accounts.Upsert(context.Background(), userID, "people/me-"+userID, userID+"@example.test", models.Tokens{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return account
}

func TestAccountUnlink(t *testing.T) {
	var revoked atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("token") == "refresh" {
			revoked.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	app, _ := newTestApp(t)
	remote := app.Config.Remote
	remote.RevokeURL = server.URL
	app.Linker = sync.NewLinker(app.Accounts, sync.NewOAuthConfig(remote), remote, server.Client(), logging.Discard())
	account := linkAccount(t, app, "user-1")

	out, err := runCommand(t, app, "account", "unlink", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Unlinked user-1@example.test")
	assert.Equal(t, int32(1), revoked.Load())

	_, err = app.Accounts.GetByID(context.Background(), account.ID)
	assert.ErrorIs(t, err, db.ErrAccountNotFound)

	_, err = runCommand(t, app, "account", "unlink", "--user", "user-1")
	assert.ErrorContains(t, err, "no linked account")
}

func TestAccountList(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := runCommand(t, app, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No linked accounts")

	linkAccount(t, app, "user-1")
	linkAccount(t, app, "user-2")

	out, err = runCommand(t, app, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "user-1@example.test")
	assert.Contains(t, out, "user-2@example.test")
}

func TestAccountLinkRequiresUser(t *testing.T) {
	app, _ := newTestApp(t)

	_, err := runCommand(t, app, "account", "link", "--code", "abc")
	assert.ErrorContains(t, err, "user")
}
