// ABOUTME: Local fingerprint computation for normalized contacts
// ABOUTME: Stable sha256 over user-visible fields, independent of row timestamps
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeText lowercases and collapses all runs of whitespace.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ResolvedName returns the display name, falling back to given + family.
func (c NormalizedContact) ResolvedName() string {
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.Join(strings.Fields(c.GivenName+" "+c.FamilyName), " "))
}

// Fingerprint hashes the user-visible fields of a normalized contact.
// User fields are excluded; they carry identity, not content.
func Fingerprint(c NormalizedContact) string {
	parts := []string{
		NormalizeText(c.ResolvedName()),
		NormalizeText(c.Email),
		NormalizeText(c.Phone),
		NormalizeText(c.Organization),
		NormalizeText(c.Title),
		NormalizeText(c.Notes),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
