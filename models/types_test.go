// ABOUTME: Tests for sync data models
// ABOUTME: Validates kind/status parsing, account usability, and fingerprint stability
package models

import (
	"testing"
	"time"
)

func TestParseLocalKind(t *testing.T) {
	tests := []struct {
		input   string
		want    LocalKind
		wantErr bool
	}{
		{input: "client", want: KindClient},
		{input: " Partner ", want: KindPartner},
		{input: "personnel", want: KindPersonnel},
		{input: "remote-originated", want: KindRemoteOriginated},
		{input: "asset", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLocalKind(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSyncStatusIsPending(t *testing.T) {
	pending := map[SyncStatus]bool{
		StatusSynced:              false,
		StatusPendingRemoteCreate: true,
		StatusPendingRemoteUpdate: true,
		StatusPendingLocalUpdate:  true,
		StatusPendingLocalCreate:  true,
		StatusError:               false,
	}
	for status, want := range pending {
		if status.IsPending() != want {
			t.Errorf("%s: expected IsPending=%v", status, want)
		}
	}
}

func TestRemoteAccountUsable(t *testing.T) {
	expiry := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		account *RemoteAccount
		want    bool
	}{
		{name: "nil account", account: nil, want: false},
		{name: "no credentials", account: &RemoteAccount{}, want: false},
		{name: "access token without expiry", account: &RemoteAccount{AccessToken: "a"}, want: false},
		{name: "access token with expiry", account: &RemoteAccount{AccessToken: "a", TokenExpiry: &expiry}, want: true},
		{name: "refresh token only", account: &RemoteAccount{RefreshToken: "r"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.account.Usable(); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoteAccountExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	if !(&RemoteAccount{AccessToken: "a", TokenExpiry: &past}).Expired(now) {
		t.Error("expected token that expired a second ago to be expired")
	}
	if (&RemoteAccount{AccessToken: "a", TokenExpiry: &future}).Expired(now) {
		t.Error("expected future token to be valid")
	}
	if !(&RemoteAccount{TokenExpiry: &future}).Expired(now) {
		t.Error("expected missing access token to count as expired")
	}
}

func TestFingerprintIgnoresCaseAndWhitespace(t *testing.T) {
	a := NormalizedContact{DisplayName: "Acme  Inc", Email: "A@Acme.test", Notes: "line one\n line two"}
	b := NormalizedContact{DisplayName: "acme inc", Email: "a@acme.test", Notes: "line one line two"}

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected fingerprints to match after normalization")
	}
}

func TestFingerprintIgnoresUserFields(t *testing.T) {
	a := NormalizedContact{DisplayName: "Acme"}
	b := NormalizedContact{DisplayName: "Acme", UserFields: []UserField{{Key: "platform_contact_id", Value: "C-1"}}}

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("expected user fields to be excluded from fingerprint")
	}
}

func TestFingerprintDetectsFieldMoves(t *testing.T) {
	a := NormalizedContact{Organization: "acme", Title: ""}
	b := NormalizedContact{Organization: "", Title: "acme"}

	if Fingerprint(a) == Fingerprint(b) {
		t.Error("expected value moved between fields to change the fingerprint")
	}
}

func TestNormalizedContactEligible(t *testing.T) {
	if (NormalizedContact{Phone: "555"}).Eligible() {
		t.Error("phone-only contact must not be eligible")
	}
	if !(NormalizedContact{Email: "a@acme.test"}).Eligible() {
		t.Error("email-only contact must be eligible")
	}
	if !(NormalizedContact{DisplayName: "Acme"}).Eligible() {
		t.Error("name-only contact must be eligible")
	}
}

func TestResolvedNameFallsBackToParts(t *testing.T) {
	c := NormalizedContact{GivenName: "Ada", FamilyName: "Lovelace"}
	if got := c.ResolvedName(); got != "Ada Lovelace" {
		t.Errorf("expected 'Ada Lovelace', got %q", got)
	}
}
