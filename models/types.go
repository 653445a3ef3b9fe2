// ABOUTME: Data models for contact synchronization
// ABOUTME: Defines RemoteAccount, SyncLog, NormalizedContact, local kinds and sync statuses
package models

import (
	"fmt"
	"strings"
	"time"
)

// LocalKind identifies which local table a contact lives in.
type LocalKind string

const (
	KindClient           LocalKind = "client"
	KindPartner          LocalKind = "partner"
	KindPersonnel        LocalKind = "personnel"
	KindRemoteOriginated LocalKind = "remote-originated"
)

// LocalKinds lists every kind in enumeration order.
var LocalKinds = []LocalKind{KindClient, KindPartner, KindPersonnel, KindRemoteOriginated}

// ParseLocalKind validates a kind string.
func ParseLocalKind(s string) (LocalKind, error) {
	k := LocalKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range LocalKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown local kind %q", s)
}

// SyncStatus is the reconciliation state of a single SyncLog row.
type SyncStatus string

const (
	StatusSynced              SyncStatus = "synced"
	StatusPendingRemoteCreate SyncStatus = "pending_remote_create"
	StatusPendingRemoteUpdate SyncStatus = "pending_remote_update"
	StatusPendingLocalUpdate  SyncStatus = "pending_local_update"
	StatusPendingLocalCreate  SyncStatus = "pending_local_create"
	StatusError               SyncStatus = "error"
)

// SyncStatuses lists the closed set of statuses.
var SyncStatuses = []SyncStatus{
	StatusSynced,
	StatusPendingRemoteCreate,
	StatusPendingRemoteUpdate,
	StatusPendingLocalUpdate,
	StatusPendingLocalCreate,
	StatusError,
}

// IsPending reports whether the status is one of the pending_* states.
func (s SyncStatus) IsPending() bool {
	return strings.HasPrefix(string(s), "pending_")
}

// ParseSyncStatus validates a status string.
func ParseSyncStatus(s string) (SyncStatus, error) {
	st := SyncStatus(strings.TrimSpace(s))
	for _, known := range SyncStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// Direction of the last successful sync for a contact.
type Direction string

const (
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionRemoteToLocal Direction = "remote_to_local"
)

// ChangeKind classifies a local write.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ParseChangeKind validates a change kind string.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch ChangeKind(strings.ToLower(strings.TrimSpace(s))) {
	case ChangeCreate:
		return ChangeCreate, nil
	case ChangeUpdate:
		return ChangeUpdate, nil
	case ChangeDelete:
		return ChangeDelete, nil
	}
	return "", fmt.Errorf("unknown change kind %q", s)
}

// RemoteAccount is a linked external contact-directory account owned by a local user.
type RemoteAccount struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ExternalAccountID  string     `json:"external_account_id"`
	Email              string     `json:"email,omitempty"`
	AccessToken        string     `json:"-"`
	RefreshToken       string     `json:"-"`
	TokenExpiry        *time.Time `json:"token_expiry,omitempty"`
	Scopes             []string   `json:"scopes,omitempty"`
	PullPageToken      string     `json:"-"`
	LastSyncInitiated  *time.Time `json:"last_sync_initiated,omitempty"`
	LastSyncSuccessful *time.Time `json:"last_sync_successful,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Usable reports whether the account carries enough credentials to produce a session.
func (a *RemoteAccount) Usable() bool {
	if a == nil {
		return false
	}
	if a.AccessToken != "" && a.TokenExpiry != nil {
		return true
	}
	return a.RefreshToken != ""
}

// Expired reports whether the stored access token is missing or past its expiry at now.
func (a *RemoteAccount) Expired(now time.Time) bool {
	if a.AccessToken == "" || a.TokenExpiry == nil {
		return true
	}
	return !now.UTC().Before(a.TokenExpiry.UTC())
}

// Tokens is the credential payload written by the token store.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// SyncLog is the durable reconciliation record for one (account, local contact) pair.
type SyncLog struct {
	ID                  string     `json:"id"`
	RemoteAccountID     string     `json:"remote_account_id"`
	LocalID             string     `json:"local_id"`
	LocalKind           LocalKind  `json:"local_kind"`
	RemoteID            string     `json:"remote_id,omitempty"`
	RemoteEtag          string     `json:"remote_etag,omitempty"`
	LocalFingerprint    string     `json:"local_fingerprint,omitempty"`
	// RejectedFingerprint is the local fingerprint the remote refused with a
	// validation error. The contact is not pushed again until it changes.
	RejectedFingerprint string     `json:"rejected_fingerprint,omitempty"`
	Status              SyncStatus `json:"status"`
	Direction           Direction  `json:"direction,omitempty"`
	LastSync            *time.Time `json:"last_sync,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// UserField is an arbitrary key/value pair carried on the remote person.
type UserField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NormalizedContact is the kind-independent view exchanged between the local
// reader/writer and the transformer.
type NormalizedContact struct {
	DisplayName  string      `json:"display_name,omitempty"`
	GivenName    string      `json:"given_name,omitempty"`
	FamilyName   string      `json:"family_name,omitempty"`
	Email        string      `json:"email,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	Organization string      `json:"organization,omitempty"`
	Title        string      `json:"title,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	UserFields   []UserField `json:"user_fields,omitempty"`
}

// Eligible reports whether the contact may be pushed to the remote.
func (c NormalizedContact) Eligible() bool {
	return NormalizeText(c.DisplayName) != "" || NormalizeText(c.Email) != ""
}

// UserField returns the value of the first user field with key.
func (c NormalizedContact) UserField(key string) (string, bool) {
	for _, f := range c.UserFields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// LocalContact is one enumerated local row in normalized form.
type LocalContact struct {
	LocalID     string            `json:"local_id"`
	Kind        LocalKind         `json:"local_kind"`
	Contact     NormalizedContact `json:"contact"`
	Fingerprint string            `json:"fingerprint"`
}

// Local row shapes. Each kind has its own table layout.

type Client struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_user_id"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Partner struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_user_id"`
	CompanyName   string    `json:"company_name"`
	ContactPerson string    `json:"contact_person,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Personnel struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_user_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Position   string    `json:"position,omitempty"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RemoteOriginatedContact is a staged contact that arrived from the remote
// without a resolvable local owner row.
type RemoteOriginatedContact struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	GivenName    string    `json:"given_name,omitempty"`
	FamilyName   string    `json:"family_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Title        string    `json:"title,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	HintKind     string    `json:"hint_kind,omitempty"`
	HintID       string    `json:"hint_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
