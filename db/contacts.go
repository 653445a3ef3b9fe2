// ABOUTME: Local contact table operations for clients, partners, personnel, and staged remote contacts
// ABOUTME: Host-side CRUD used by the CLI and by the local contact facade
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/contactsync/models"
	"github.com/oklog/ulid/v2"
)

// ErrLocalMissing is returned when a local contact row does not exist.
var ErrLocalMissing = errors.New("local contact not found")

func CreateClient(ctx context.Context, db *sql.DB, client *models.Client) error {
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	client.CreatedAt = now
	client.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO clients (id, owner_user_id, name, company, email, phone, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, client.ID, client.OwnerID, client.Name, nullString(client.Company), nullString(client.Email),
		nullString(client.Phone), nullString(client.Notes), client.CreatedAt, client.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func GetClient(ctx context.Context, db *sql.DB, id string) (*models.Client, error) {
	var c models.Client
	var company, email, phone, notes sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, name, company, email, phone, notes, created_at, updated_at
		FROM clients WHERE id = ?
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &company, &email, &phone, &notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocalMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	c.Company = company.String
	c.Email = email.String
	c.Phone = phone.String
	c.Notes = notes.String
	return &c, nil
}

func UpdateClient(ctx context.Context, db *sql.DB, client *models.Client) error {
	client.UpdatedAt = time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		UPDATE clients SET name = ?, company = ?, email = ?, phone = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, client.Name, nullString(client.Company), nullString(client.Email), nullString(client.Phone),
		nullString(client.Notes), client.UpdatedAt, client.ID)
	return checkAffected(result, err, "client")
}

func DeleteClient(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	return checkAffected(result, err, "client")
}

func CreatePartner(ctx context.Context, db *sql.DB, partner *models.Partner) error {
	if partner.ID == "" {
		partner.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	partner.CreatedAt = now
	partner.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO partners (id, owner_user_id, company_name, contact_person, email, phone, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, partner.ID, partner.OwnerID, partner.CompanyName, nullString(partner.ContactPerson), nullString(partner.Email),
		nullString(partner.Phone), nullString(partner.Notes), partner.CreatedAt, partner.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}
	return nil
}

func GetPartner(ctx context.Context, db *sql.DB, id string) (*models.Partner, error) {
	var p models.Partner
	var person, email, phone, notes sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, company_name, contact_person, email, phone, notes, created_at, updated_at
		FROM partners WHERE id = ?
	`, id).Scan(&p.ID, &p.OwnerID, &p.CompanyName, &person, &email, &phone, &notes, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocalMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}

	p.ContactPerson = person.String
	p.Email = email.String
	p.Phone = phone.String
	p.Notes = notes.String
	return &p, nil
}

func UpdatePartner(ctx context.Context, db *sql.DB, partner *models.Partner) error {
	partner.UpdatedAt = time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		UPDATE partners SET company_name = ?, contact_person = ?, email = ?, phone = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, partner.CompanyName, nullString(partner.ContactPerson), nullString(partner.Email), nullString(partner.Phone),
		nullString(partner.Notes), partner.UpdatedAt, partner.ID)
	return checkAffected(result, err, "partner")
}

func DeletePartner(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM partners WHERE id = ?`, id)
	return checkAffected(result, err, "partner")
}

func CreatePersonnel(ctx context.Context, db *sql.DB, person *models.Personnel) error {
	if person.ID == "" {
		person.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	person.CreatedAt = now
	person.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO personnel (id, owner_user_id, first_name, last_name, email, phone, position, department, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, person.ID, person.OwnerID, person.FirstName, nullString(person.LastName), nullString(person.Email),
		nullString(person.Phone), nullString(person.Position), nullString(person.Department), person.CreatedAt, person.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create personnel: %w", err)
	}
	return nil
}

func GetPersonnel(ctx context.Context, db *sql.DB, id string) (*models.Personnel, error) {
	var p models.Personnel
	var last, email, phone, position, department sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, first_name, last_name, email, phone, position, department, created_at, updated_at
		FROM personnel WHERE id = ?
	`, id).Scan(&p.ID, &p.OwnerID, &p.FirstName, &last, &email, &phone, &position, &department, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocalMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get personnel: %w", err)
	}

	p.LastName = last.String
	p.Email = email.String
	p.Phone = phone.String
	p.Position = position.String
	p.Department = department.String
	return &p, nil
}

func UpdatePersonnel(ctx context.Context, db *sql.DB, person *models.Personnel) error {
	person.UpdatedAt = time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		UPDATE personnel SET first_name = ?, last_name = ?, email = ?, phone = ?, position = ?, department = ?, updated_at = ?
		WHERE id = ?
	`, person.FirstName, nullString(person.LastName), nullString(person.Email), nullString(person.Phone),
		nullString(person.Position), nullString(person.Department), person.UpdatedAt, person.ID)
	return checkAffected(result, err, "personnel")
}

func DeletePersonnel(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM personnel WHERE id = ?`, id)
	return checkAffected(result, err, "personnel")
}

// CreateRemoteOriginated stages a contact that arrived from the remote. Ids are
// ULIDs so staged rows sort by arrival.
func CreateRemoteOriginated(ctx context.Context, db *sql.DB, contact *models.RemoteOriginatedContact) error {
	if contact.ID == "" {
		contact.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	_, err := db.ExecContext(ctx, `
		INSERT INTO remote_contacts (id, owner_user_id, display_name, given_name, family_name, email, phone,
			organization, title, notes, hint_kind, hint_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, contact.ID, contact.OwnerID, nullString(contact.DisplayName), nullString(contact.GivenName),
		nullString(contact.FamilyName), nullString(contact.Email), nullString(contact.Phone),
		nullString(contact.Organization), nullString(contact.Title), nullString(contact.Notes),
		nullString(contact.HintKind), nullString(contact.HintID), contact.CreatedAt, contact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to stage remote contact: %w", err)
	}
	return nil
}

func GetRemoteOriginated(ctx context.Context, db *sql.DB, id string) (*models.RemoteOriginatedContact, error) {
	var c models.RemoteOriginatedContact
	var display, given, family, email, phone, org, title, notes, hintKind, hintID sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, display_name, given_name, family_name, email, phone, organization, title, notes,
			hint_kind, hint_id, created_at, updated_at
		FROM remote_contacts WHERE id = ?
	`, id).Scan(&c.ID, &c.OwnerID, &display, &given, &family, &email, &phone, &org, &title, &notes,
		&hintKind, &hintID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocalMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staged remote contact: %w", err)
	}

	c.DisplayName = display.String
	c.GivenName = given.String
	c.FamilyName = family.String
	c.Email = email.String
	c.Phone = phone.String
	c.Organization = org.String
	c.Title = title.String
	c.Notes = notes.String
	c.HintKind = hintKind.String
	c.HintID = hintID.String
	return &c, nil
}

func UpdateRemoteOriginated(ctx context.Context, db *sql.DB, contact *models.RemoteOriginatedContact) error {
	contact.UpdatedAt = time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		UPDATE remote_contacts SET display_name = ?, given_name = ?, family_name = ?, email = ?, phone = ?,
			organization = ?, title = ?, notes = ?, hint_kind = ?, hint_id = ?, updated_at = ?
		WHERE id = ?
	`, nullString(contact.DisplayName), nullString(contact.GivenName), nullString(contact.FamilyName),
		nullString(contact.Email), nullString(contact.Phone), nullString(contact.Organization),
		nullString(contact.Title), nullString(contact.Notes), nullString(contact.HintKind),
		nullString(contact.HintID), contact.UpdatedAt, contact.ID)
	return checkAffected(result, err, "staged remote contact")
}

func checkAffected(result sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	if n == 0 {
		return ErrLocalMissing
	}
	return nil
}
