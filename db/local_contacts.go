// ABOUTME: Uniform read/write facade over the heterogeneous local contact tables
// ABOUTME: Maps clients, partners, personnel, and staged remote contacts to NormalizedContact
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/harperreed/contactsync/models"
)

const enumerateBatchSize = 100

// IngestHint carries round-trip markers recovered from a remote person, if any.
type IngestHint struct {
	LocalID string
	Kind    models.LocalKind
}

// kindTable is the per-kind mapping between a table and the normalized view.
type kindTable struct {
	table string
	load  func(ctx context.Context, db *sql.DB, id string) (models.NormalizedContact, error)
	merge func(ctx context.Context, db *sql.DB, id string, nc models.NormalizedContact) error
}

var kindTables = map[models.LocalKind]kindTable{
	models.KindClient: {
		table: "clients",
		load: func(ctx context.Context, db *sql.DB, id string) (models.NormalizedContact, error) {
			c, err := GetClient(ctx, db, id)
			if err != nil {
				return models.NormalizedContact{}, err
			}
			return clientToNormalized(c), nil
		},
		merge: func(ctx context.Context, db *sql.DB, id string, nc models.NormalizedContact) error {
			c, err := GetClient(ctx, db, id)
			if err != nil {
				return err
			}
			mergeText(&c.Name, nc.ResolvedName())
			c.Company = nc.Organization
			c.Email = nc.Email
			c.Phone = nc.Phone
			c.Notes = nc.Notes
			return UpdateClient(ctx, db, c)
		},
	},
	models.KindPartner: {
		table: "partners",
		load: func(ctx context.Context, db *sql.DB, id string) (models.NormalizedContact, error) {
			p, err := GetPartner(ctx, db, id)
			if err != nil {
				return models.NormalizedContact{}, err
			}
			return partnerToNormalized(p), nil
		},
		merge: func(ctx context.Context, db *sql.DB, id string, nc models.NormalizedContact) error {
			p, err := GetPartner(ctx, db, id)
			if err != nil {
				return err
			}
			mergeText(&p.CompanyName, nc.Organization)
			// Without a contact person the company name doubles as the display name.
			p.ContactPerson = ""
			if name := nc.ResolvedName(); name != "" && models.NormalizeText(name) != models.NormalizeText(p.CompanyName) {
				p.ContactPerson = name
			}
			p.Email = nc.Email
			p.Phone = nc.Phone
			p.Notes = nc.Notes
			return UpdatePartner(ctx, db, p)
		},
	},
	models.KindPersonnel: {
		table: "personnel",
		load: func(ctx context.Context, db *sql.DB, id string) (models.NormalizedContact, error) {
			p, err := GetPersonnel(ctx, db, id)
			if err != nil {
				return models.NormalizedContact{}, err
			}
			return personnelToNormalized(p), nil
		},
		merge: func(ctx context.Context, db *sql.DB, id string, nc models.NormalizedContact) error {
			p, err := GetPersonnel(ctx, db, id)
			if err != nil {
				return err
			}
			given, family := nc.GivenName, nc.FamilyName
			if given == "" && family == "" {
				given, family = splitName(nc.DisplayName)
			}
			mergeText(&p.FirstName, given)
			p.LastName = family
			p.Email = nc.Email
			p.Phone = nc.Phone
			p.Position = nc.Title
			return UpdatePersonnel(ctx, db, p)
		},
	},
	models.KindRemoteOriginated: {
		table: "remote_contacts",
		load: func(ctx context.Context, db *sql.DB, id string) (models.NormalizedContact, error) {
			c, err := GetRemoteOriginated(ctx, db, id)
			if err != nil {
				return models.NormalizedContact{}, err
			}
			return remoteOriginatedToNormalized(c), nil
		},
		merge: func(ctx context.Context, db *sql.DB, id string, nc models.NormalizedContact) error {
			c, err := GetRemoteOriginated(ctx, db, id)
			if err != nil {
				return err
			}
			c.DisplayName = nc.DisplayName
			c.GivenName = nc.GivenName
			c.FamilyName = nc.FamilyName
			c.Email = nc.Email
			c.Phone = nc.Phone
			c.Organization = nc.Organization
			c.Title = nc.Title
			c.Notes = nc.Notes
			return UpdateRemoteOriginated(ctx, db, c)
		},
	},
}

// LocalContacts reads and writes local contacts of every kind through one interface.
type LocalContacts struct {
	db *sql.DB
}

// NewLocalContacts creates the facade over db.
func NewLocalContacts(db *sql.DB) *LocalContacts {
	return &LocalContacts{db: db}
}

// Enumerate yields every local contact owned by userID, kind by kind. Rows are
// read in keyset batches so no cursor stays open while callers write.
func (l *LocalContacts) Enumerate(ctx context.Context, userID string) iter.Seq2[models.LocalContact, error] {
	return func(yield func(models.LocalContact, error) bool) {
		for _, kind := range models.LocalKinds {
			mapping := kindTables[kind]
			after := ""
			for {
				ids, err := l.ownedIDs(ctx, mapping.table, userID, after)
				if err != nil {
					yield(models.LocalContact{}, err)
					return
				}
				for _, id := range ids {
					nc, err := mapping.load(ctx, l.db, id)
					if errors.Is(err, ErrLocalMissing) {
						continue // deleted between batches
					}
					if err != nil {
						yield(models.LocalContact{}, err)
						return
					}
					if !yield(newLocalContact(id, kind, nc), nil) {
						return
					}
				}
				if len(ids) < enumerateBatchSize {
					break
				}
				after = ids[len(ids)-1]
			}
		}
	}
}

// ReadOne returns a single local contact or ErrLocalMissing.
func (l *LocalContacts) ReadOne(ctx context.Context, localID string, kind models.LocalKind) (models.LocalContact, error) {
	mapping, ok := kindTables[kind]
	if !ok {
		return models.LocalContact{}, fmt.Errorf("unknown local kind %q", kind)
	}
	nc, err := mapping.load(ctx, l.db, localID)
	if err != nil {
		return models.LocalContact{}, err
	}
	return newLocalContact(localID, kind, nc), nil
}

// ApplyRemoteUpdate writes nc into the underlying row. Every column the kind
// maps to the remote takes the remote value, so fields cleared remotely are
// cleared locally; required columns keep their value when the remote is empty.
func (l *LocalContacts) ApplyRemoteUpdate(ctx context.Context, localID string, kind models.LocalKind, nc models.NormalizedContact) error {
	mapping, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown local kind %q", kind)
	}
	return mapping.merge(ctx, l.db, localID, nc)
}

// IngestNewFromRemote stages a remote contact that has no resolvable local row.
// The row is materialized when the remote carried no markers; with markers the
// staged row waits for reclassification.
func (l *LocalContacts) IngestNewFromRemote(ctx context.Context, userID string, nc models.NormalizedContact, hint IngestHint) (models.LocalContact, bool, error) {
	staged := &models.RemoteOriginatedContact{
		OwnerID:      userID,
		DisplayName:  nc.DisplayName,
		GivenName:    nc.GivenName,
		FamilyName:   nc.FamilyName,
		Email:        nc.Email,
		Phone:        nc.Phone,
		Organization: nc.Organization,
		Title:        nc.Title,
		Notes:        nc.Notes,
		HintKind:     string(hint.Kind),
		HintID:       hint.LocalID,
	}
	if err := CreateRemoteOriginated(ctx, l.db, staged); err != nil {
		return models.LocalContact{}, false, err
	}

	contact := newLocalContact(staged.ID, models.KindRemoteOriginated, remoteOriginatedToNormalized(staged))
	return contact, hint.LocalID == "" && hint.Kind == "", nil
}

func (l *LocalContacts) ownedIDs(ctx context.Context, table, userID, after string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id FROM `+table+` WHERE owner_user_id = ? AND id > ? ORDER BY id LIMIT ?`,
		userID, after, enumerateBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func newLocalContact(id string, kind models.LocalKind, nc models.NormalizedContact) models.LocalContact {
	return models.LocalContact{
		LocalID:     id,
		Kind:        kind,
		Contact:     nc,
		Fingerprint: models.Fingerprint(nc),
	}
}

func clientToNormalized(c *models.Client) models.NormalizedContact {
	return models.NormalizedContact{
		DisplayName:  c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		Organization: c.Company,
		Notes:        c.Notes,
	}
}

func partnerToNormalized(p *models.Partner) models.NormalizedContact {
	display := p.ContactPerson
	if display == "" {
		display = p.CompanyName
	}
	return models.NormalizedContact{
		DisplayName:  display,
		Email:        p.Email,
		Phone:        p.Phone,
		Organization: p.CompanyName,
		Notes:        p.Notes,
	}
}

func personnelToNormalized(p *models.Personnel) models.NormalizedContact {
	return models.NormalizedContact{
		DisplayName: strings.TrimSpace(p.FirstName + " " + p.LastName),
		GivenName:   p.FirstName,
		FamilyName:  p.LastName,
		Email:       p.Email,
		Phone:       p.Phone,
		Title:       p.Position,
	}
}

func remoteOriginatedToNormalized(c *models.RemoteOriginatedContact) models.NormalizedContact {
	return models.NormalizedContact{
		DisplayName:  c.DisplayName,
		GivenName:    c.GivenName,
		FamilyName:   c.FamilyName,
		Email:        c.Email,
		Phone:        c.Phone,
		Organization: c.Organization,
		Title:        c.Title,
		Notes:        c.Notes,
	}
}

// mergeText writes remote into a required column, keeping the local value
// when the remote one is empty.
func mergeText(dst *string, remote string) {
	if strings.TrimSpace(remote) != "" {
		*dst = remote
	}
}

func splitName(display string) (string, string) {
	display = strings.TrimSpace(display)
	first, last, _ := strings.Cut(display, " ")
	return first, strings.TrimSpace(last)
}
