// ABOUTME: Local contact CLI commands for clients, partners, and personnel
// ABOUTME: Every write is signalled to the sync dispatcher so linked accounts follow along
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// contactFields carries the union of the per-kind columns.
type contactFields struct {
	name          string
	company       string
	contactPerson string
	firstName     string
	lastName      string
	email         string
	phone         string
	notes         string
	position      string
	department    string
}

func (f *contactFields) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.name, "name", "", "client name")
	flags.StringVar(&f.company, "company", "", "client company or partner company name")
	flags.StringVar(&f.contactPerson, "contact-person", "", "partner contact person")
	flags.StringVar(&f.firstName, "first", "", "personnel first name")
	flags.StringVar(&f.lastName, "last", "", "personnel last name")
	flags.StringVar(&f.email, "email", "", "email address")
	flags.StringVar(&f.phone, "phone", "", "phone number")
	flags.StringVar(&f.notes, "notes", "", "notes (clients and partners)")
	flags.StringVar(&f.position, "position", "", "personnel position")
	flags.StringVar(&f.department, "department", "", "personnel department")
}

// set assigns src to *dst when the flag was given, or unconditionally when all is true.
func set(flags *pflag.FlagSet, all bool, name string, dst *string, src string) {
	if all || flags.Changed(name) {
		*dst = src
	}
}

func (f *contactFields) applyClient(flags *pflag.FlagSet, all bool, c *models.Client) {
	set(flags, all, "name", &c.Name, f.name)
	set(flags, all, "company", &c.Company, f.company)
	set(flags, all, "email", &c.Email, f.email)
	set(flags, all, "phone", &c.Phone, f.phone)
	set(flags, all, "notes", &c.Notes, f.notes)
}

func (f *contactFields) applyPartner(flags *pflag.FlagSet, all bool, p *models.Partner) {
	set(flags, all, "company", &p.CompanyName, f.company)
	set(flags, all, "contact-person", &p.ContactPerson, f.contactPerson)
	set(flags, all, "email", &p.Email, f.email)
	set(flags, all, "phone", &p.Phone, f.phone)
	set(flags, all, "notes", &p.Notes, f.notes)
}

func (f *contactFields) applyPersonnel(flags *pflag.FlagSet, all bool, p *models.Personnel) {
	set(flags, all, "first", &p.FirstName, f.firstName)
	set(flags, all, "last", &p.LastName, f.lastName)
	set(flags, all, "email", &p.Email, f.email)
	set(flags, all, "phone", &p.Phone, f.phone)
	set(flags, all, "position", &p.Position, f.position)
	set(flags, all, "department", &p.Department, f.department)
}

func newContactCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Add, update, and delete local contacts",
	}
	cmd.AddCommand(
		newContactAddCommand(opts),
		newContactUpdateCommand(opts),
		newContactDeleteCommand(opts),
	)
	return cmd
}

func parseWritableKind(s string) (models.LocalKind, error) {
	kind, err := models.ParseLocalKind(s)
	if err != nil {
		return "", err
	}
	if kind == models.KindRemoteOriginated {
		return "", fmt.Errorf("kind must be client, partner, or personnel")
	}
	return kind, nil
}

func newContactAddCommand(opts *rootOptions) *cobra.Command {
	var userID, kindFlag string
	fields := &contactFields{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a local contact and push it to the owner's linked account",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseWritableKind(kindFlag)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			id, err := createContact(cmd.Context(), app.DB, kind, userID, fields, cmd.Flags())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s %s\n", kind, id)

			result, err := app.Dispatcher.OnLocalWrite(cmd.Context(), userID, id, kind, models.ChangeCreate)
			printChangeResult(cmd.OutOrStdout(), result, err)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning local user id (required)")
	cmd.Flags().StringVar(&kindFlag, "kind", "", "client, partner, or personnel (required)")
	fields.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func createContact(ctx context.Context, database *sql.DB, kind models.LocalKind, userID string, fields *contactFields, flags *pflag.FlagSet) (string, error) {
	switch kind {
	case models.KindClient:
		c := &models.Client{OwnerID: userID}
		fields.applyClient(flags, true, c)
		if c.Name == "" {
			return "", fmt.Errorf("--name is required for clients")
		}
		if err := db.CreateClient(ctx, database, c); err != nil {
			return "", err
		}
		return c.ID, nil
	case models.KindPartner:
		p := &models.Partner{OwnerID: userID}
		fields.applyPartner(flags, true, p)
		if p.CompanyName == "" {
			return "", fmt.Errorf("--company is required for partners")
		}
		if err := db.CreatePartner(ctx, database, p); err != nil {
			return "", err
		}
		return p.ID, nil
	default:
		p := &models.Personnel{OwnerID: userID}
		fields.applyPersonnel(flags, true, p)
		if p.FirstName == "" {
			return "", fmt.Errorf("--first is required for personnel")
		}
		if err := db.CreatePersonnel(ctx, database, p); err != nil {
			return "", err
		}
		return p.ID, nil
	}
}

func newContactUpdateCommand(opts *rootOptions) *cobra.Command {
	var id, kindFlag string
	fields := &contactFields{}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a local contact and push the change",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseWritableKind(kindFlag)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			owner, err := updateContact(cmd.Context(), app.DB, kind, id, fields, cmd.Flags())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated %s %s\n", kind, id)

			result, err := app.Dispatcher.OnLocalWrite(cmd.Context(), owner, id, kind, models.ChangeUpdate)
			printChangeResult(cmd.OutOrStdout(), result, err)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "local contact id (required)")
	cmd.Flags().StringVar(&kindFlag, "kind", "", "client, partner, or personnel (required)")
	fields.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// updateContact applies the changed flags to the stored row and returns its owner.
func updateContact(ctx context.Context, database *sql.DB, kind models.LocalKind, id string, fields *contactFields, flags *pflag.FlagSet) (string, error) {
	switch kind {
	case models.KindClient:
		c, err := db.GetClient(ctx, database, id)
		if err != nil {
			return "", err
		}
		fields.applyClient(flags, false, c)
		if err := db.UpdateClient(ctx, database, c); err != nil {
			return "", err
		}
		return c.OwnerID, nil
	case models.KindPartner:
		p, err := db.GetPartner(ctx, database, id)
		if err != nil {
			return "", err
		}
		fields.applyPartner(flags, false, p)
		if err := db.UpdatePartner(ctx, database, p); err != nil {
			return "", err
		}
		return p.OwnerID, nil
	default:
		p, err := db.GetPersonnel(ctx, database, id)
		if err != nil {
			return "", err
		}
		fields.applyPersonnel(flags, false, p)
		if err := db.UpdatePersonnel(ctx, database, p); err != nil {
			return "", err
		}
		return p.OwnerID, nil
	}
}

func newContactDeleteCommand(opts *rootOptions) *cobra.Command {
	var id, kindFlag string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a local contact and remove it from the linked account",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseWritableKind(kindFlag)
			if err != nil {
				return err
			}
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			owner, err := deleteContact(cmd.Context(), app.DB, kind, id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s %s\n", kind, id)

			result, err := app.Dispatcher.OnLocalWrite(cmd.Context(), owner, id, kind, models.ChangeDelete)
			printChangeResult(cmd.OutOrStdout(), result, err)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "local contact id (required)")
	cmd.Flags().StringVar(&kindFlag, "kind", "", "client, partner, or personnel (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// deleteContact removes the row and returns the owner it belonged to.
func deleteContact(ctx context.Context, database *sql.DB, kind models.LocalKind, id string) (string, error) {
	var owner string
	var remove func(context.Context, *sql.DB, string) error

	switch kind {
	case models.KindClient:
		c, err := db.GetClient(ctx, database, id)
		if err != nil {
			return "", err
		}
		owner, remove = c.OwnerID, db.DeleteClient
	case models.KindPartner:
		p, err := db.GetPartner(ctx, database, id)
		if err != nil {
			return "", err
		}
		owner, remove = p.OwnerID, db.DeletePartner
	default:
		p, err := db.GetPersonnel(ctx, database, id)
		if err != nil {
			return "", err
		}
		owner, remove = p.OwnerID, db.DeletePersonnel
	}

	if err := remove(ctx, database, id); err != nil {
		return "", err
	}
	return owner, nil
}

// printChangeResult reports the sync outcome of a local write. The local
// write has already succeeded, so sync failures are shown, not returned.
func printChangeResult(w io.Writer, result *sync.ChangeResult, err error) {
	switch {
	case err != nil:
		_, _ = fmt.Fprintln(w, errorStyle.Render("  sync failed: "+err.Error()))
	case result == nil:
		_, _ = fmt.Fprintln(w, mutedStyle.Render("  no linked account; not synced"))
	case result.Deferred:
		_, _ = fmt.Fprintln(w, pendingStyle.Render("  sync in progress; change queued"))
	case result.Removed:
		_, _ = fmt.Fprintln(w, okStyle.Render("  removed from linked account"))
	case result.Status == models.StatusError:
		_, _ = fmt.Fprintln(w, errorStyle.Render("  sync error: "+result.ErrorMessage))
	case result.Status == "":
		_, _ = fmt.Fprintln(w, mutedStyle.Render("  not synced"))
	default:
		_, _ = fmt.Fprintf(w, "  %s %s\n", okStyle.Render(string(result.Status)), result.RemoteID)
	}
}
