// ABOUTME: Shared fixtures for sync tests: database, accounts, token server, and an in-memory remote
// ABOUTME: The fake remote mimics People API etag, paging, and error behavior
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/models"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/people/v1"
)

func setupSyncDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func linkTestAccount(t *testing.T, accounts *db.AccountStore, userID string, expiry time.Time) *models.RemoteAccount {
	t.Helper()
	account, err := accounts.Upsert(context.Background(), userID, "people/me-"+userID, userID+"@example.test", models.Tokens{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		Expiry:       expiry,
		Scopes:       []string{"https://www.googleapis.com/auth/contacts"},
	})
	require.NoError(t, err)
	return account
}

// tokenServer answers OAuth token and revocation requests.
type tokenServer struct {
	*httptest.Server
	refreshes atomic.Int32
	exchanges atomic.Int32
	revokes   atomic.Int32
	status    atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		status := int(ts.status.Load())

		if r.URL.Path == "/revoke" {
			ts.revokes.Add(1)
			w.WriteHeader(status)
			return
		}

		switch r.Form.Get("grant_type") {
		case "refresh_token":
			ts.refreshes.Add(1)
		case "authorization_code":
			ts.exchanges.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "rotated-refresh",
			"scope":         "https://www.googleapis.com/auth/contacts",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

// fakeRemote is an in-memory contact directory. Each person carries an etag
// of the form etag-N where N counts its versions.
type fakeRemote struct {
	mu       gosync.Mutex
	people   map[string]*people.Person
	versions map[string]int
	order    []string
	next     int
	calls    map[string]int
	pageSize int

	failCreate error
	failUpdate error
	failList   error
	failGet    error
	onCreate   func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		people:   map[string]*people.Person{},
		versions: map[string]int{},
		calls:    map[string]int{},
	}
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["create"] + f.calls["update"] + f.calls["delete"]
}

func (f *fakeRemote) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[string]int{}
}

func (f *fakeRemote) begin(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTransient, Category: CategoryTimeout, Op: op, Err: err}
	}
	return nil
}

func notFound(op, rn string) error {
	return &Error{Kind: KindRemoteValidation, Category: CategoryRemoteHTTP, Op: op, Endpoint: rn, Code: 404, Err: fmt.Errorf("not found")}
}

func clonePerson(p *people.Person) *people.Person {
	data, _ := json.Marshal(p)
	var out people.Person
	_ = json.Unmarshal(data, &out)
	return &out
}

func (f *fakeRemote) bump(rn string) {
	f.versions[rn]++
	f.people[rn].Etag = "etag-" + strconv.Itoa(f.versions[rn])
}

// put stores a person created directly on the remote.
func (f *fakeRemote) put(p *people.Person) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	rn := fmt.Sprintf("people/c%d", f.next)
	stored := clonePerson(p)
	stored.ResourceName = rn
	f.people[rn] = stored
	f.order = append(f.order, rn)
	f.bump(rn)
	return rn
}

// edit simulates a change made on the remote side.
func (f *fakeRemote) edit(rn string, fn func(p *people.Person)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.people[rn])
	f.bump(rn)
}

func (f *fakeRemote) person(rn string) *people.Person {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.people[rn]
	if !ok {
		return nil
	}
	return clonePerson(p)
}

func (f *fakeRemote) List(ctx context.Context, pageSize int, pageToken string, fieldMask []string) (*ListPage, error) {
	if err := f.begin(ctx, "list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	if f.pageSize > 0 {
		pageSize = f.pageSize
	}

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, &Error{Kind: KindRemoteValidation, Category: CategoryRemoteHTTP, Op: "list", Code: 400, Err: fmt.Errorf("invalid page token")}
		}
		start = n
	}

	page := &ListPage{}
	end := min(start+pageSize, len(f.order))
	for _, rn := range f.order[start:end] {
		p := f.people[rn]
		page.Entries = append(page.Entries, &people.Person{ResourceName: rn, Etag: p.Etag})
	}
	if end < len(f.order) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeRemote) Get(ctx context.Context, resourceName string, fieldMask []string) (*people.Person, error) {
	if err := f.begin(ctx, "get"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	p, ok := f.people[resourceName]
	if !ok {
		return nil, notFound("get", resourceName)
	}
	return clonePerson(p), nil
}

func (f *fakeRemote) Create(ctx context.Context, person *people.Person) (*people.Person, error) {
	if err := f.begin(ctx, "create"); err != nil {
		return nil, err
	}
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	rn := f.put(person)
	if f.onCreate != nil {
		f.onCreate()
	}
	return f.person(rn), nil
}

func (f *fakeRemote) Update(ctx context.Context, resourceName string, person *people.Person, updateMask []string, expectedEtag string) (*people.Person, error) {
	if err := f.begin(ctx, "update"); err != nil {
		return nil, err
	}
	if f.failUpdate != nil {
		return nil, f.failUpdate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.people[resourceName]
	if !ok {
		return nil, notFound("update", resourceName)
	}
	if stored.Etag != expectedEtag {
		return nil, &Error{Kind: KindConcurrencyConflict, Category: CategoryRemoteHTTP, Op: "update", Endpoint: resourceName, Code: 400,
			Err: fmt.Errorf("Request person.etag is different than the current person.etag")}
	}

	incoming := clonePerson(person)
	for _, field := range updateMask {
		switch field {
		case "names":
			stored.Names = incoming.Names
		case "emailAddresses":
			stored.EmailAddresses = incoming.EmailAddresses
		case "phoneNumbers":
			stored.PhoneNumbers = incoming.PhoneNumbers
		case "organizations":
			stored.Organizations = incoming.Organizations
		case "biographies":
			stored.Biographies = incoming.Biographies
		case "userDefined":
			stored.UserDefined = incoming.UserDefined
		}
	}
	f.bump(resourceName)
	return clonePerson(stored), nil
}

func (f *fakeRemote) Delete(ctx context.Context, resourceName string) error {
	if err := f.begin(ctx, "delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.people[resourceName]; !ok {
		return notFound("delete", resourceName)
	}
	delete(f.people, resourceName)
	for i, rn := range f.order {
		if rn == resourceName {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}
