// ABOUTME: Pure mappings between NormalizedContact and People API persons
// ABOUTME: Writes and recovers the platform_contact_id/platform_contact_kind round-trip markers
package sync

import (
	"fmt"
	"strings"

	"github.com/harperreed/contactsync/models"
	"google.golang.org/api/people/v1"
)

const (
	MarkerLocalID   = "platform_contact_id"
	MarkerLocalKind = "platform_contact_kind"
)

// Markers are the local identity recovered from a remote person.
type Markers struct {
	LocalID string
	Kind    models.LocalKind
}

// Present reports whether any marker was found.
func (m Markers) Present() bool {
	return m.LocalID != "" || m.Kind != ""
}

// Validate reports malformed markers: one half missing or an unknown kind.
func (m Markers) Validate() error {
	if !m.Present() {
		return nil
	}
	if m.LocalID == "" || m.Kind == "" {
		return &Error{Kind: KindLocalInconsistency, Op: "markers", Err: fmt.Errorf("incomplete round-trip markers id=%q kind=%q", m.LocalID, m.Kind)}
	}
	if _, err := models.ParseLocalKind(string(m.Kind)); err != nil {
		return &Error{Kind: KindLocalInconsistency, Op: "markers", Err: err}
	}
	return nil
}

// ToRemote builds the person payload for a local contact. Empty fields are
// omitted entirely; the markers are always written.
func ToRemote(nc models.NormalizedContact, localID string, kind models.LocalKind) *people.Person {
	p := &people.Person{}

	given := clean(nc.GivenName)
	family := clean(nc.FamilyName)
	display := clean(nc.ResolvedName())
	switch {
	case given != "" || family != "":
		name := &people.Name{GivenName: given, FamilyName: family}
		// A display name that is not just "given family" travels as the free-form name.
		if display != "" && models.NormalizeText(display) != models.NormalizeText(given+" "+family) {
			name.UnstructuredName = display
		}
		p.Names = []*people.Name{name}
	case display != "":
		p.Names = []*people.Name{{UnstructuredName: display}}
	}

	if email := clean(nc.Email); email != "" {
		p.EmailAddresses = []*people.EmailAddress{{Value: email}}
	}
	if phone := clean(nc.Phone); phone != "" {
		p.PhoneNumbers = []*people.PhoneNumber{{Value: phone}}
	}

	org := clean(nc.Organization)
	title := clean(nc.Title)
	if org != "" || title != "" {
		p.Organizations = []*people.Organization{{Name: org, Title: title}}
	}

	if notes := strings.TrimSpace(nc.Notes); notes != "" {
		p.Biographies = []*people.Biography{{Value: notes, ContentType: "TEXT_PLAIN"}}
	}

	for _, f := range nc.UserFields {
		if f.Key == MarkerLocalID || f.Key == MarkerLocalKind || clean(f.Key) == "" {
			continue
		}
		p.UserDefined = append(p.UserDefined, &people.UserDefined{Key: f.Key, Value: f.Value})
	}
	p.UserDefined = append(p.UserDefined,
		&people.UserDefined{Key: MarkerLocalID, Value: localID},
		&people.UserDefined{Key: MarkerLocalKind, Value: string(kind)},
	)

	return p
}

// FromRemote extracts the normalized view of a person and its markers.
// The primary entry of each field wins, otherwise the first non-empty one.
func FromRemote(p *people.Person) (models.NormalizedContact, Markers) {
	var nc models.NormalizedContact
	var markers Markers
	if p == nil {
		return nc, markers
	}

	if name := primaryName(p.Names); name != nil {
		nc.GivenName = clean(name.GivenName)
		nc.FamilyName = clean(name.FamilyName)
		nc.DisplayName = clean(name.UnstructuredName)
		if nc.DisplayName == "" {
			nc.DisplayName = clean(name.DisplayName)
		}
		if nc.DisplayName == "" {
			nc.DisplayName = clean(nc.GivenName + " " + nc.FamilyName)
		}
	}

	for _, email := range p.EmailAddresses {
		if email == nil || clean(email.Value) == "" {
			continue
		}
		if nc.Email == "" {
			nc.Email = clean(email.Value)
		}
		if isPrimary(email.Metadata) {
			nc.Email = clean(email.Value)
			break
		}
	}

	for _, phone := range p.PhoneNumbers {
		if phone == nil || clean(phone.Value) == "" {
			continue
		}
		if nc.Phone == "" {
			nc.Phone = clean(phone.Value)
		}
		if isPrimary(phone.Metadata) {
			nc.Phone = clean(phone.Value)
			break
		}
	}

	var org *people.Organization
	for _, o := range p.Organizations {
		if o == nil {
			continue
		}
		if org == nil {
			org = o
		}
		if isPrimary(o.Metadata) {
			org = o
			break
		}
	}
	if org != nil {
		nc.Organization = clean(org.Name)
		nc.Title = clean(org.Title)
	}

	for _, bio := range p.Biographies {
		if bio == nil || strings.TrimSpace(bio.Value) == "" {
			continue
		}
		if nc.Notes == "" {
			nc.Notes = strings.TrimSpace(bio.Value)
		}
		if isPrimary(bio.Metadata) {
			nc.Notes = strings.TrimSpace(bio.Value)
			break
		}
	}

	for _, f := range p.UserDefined {
		if f == nil {
			continue
		}
		switch f.Key {
		case MarkerLocalID:
			markers.LocalID = strings.TrimSpace(f.Value)
		case MarkerLocalKind:
			markers.Kind = models.LocalKind(strings.TrimSpace(f.Value))
		default:
			nc.UserFields = append(nc.UserFields, models.UserField{Key: f.Key, Value: f.Value})
		}
	}

	return nc, markers
}

func primaryName(names []*people.Name) *people.Name {
	var first *people.Name
	for _, n := range names {
		if n == nil {
			continue
		}
		if isPrimary(n.Metadata) {
			return n
		}
		if first == nil {
			first = n
		}
	}
	return first
}

func isPrimary(md *people.FieldMetadata) bool {
	return md != nil && md.Primary
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
