// ABOUTME: Terminal rendering of pass reports and account sync status
// ABOUTME: Styles follow the sync view palette: green idle, yellow pending, red errors
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/harperreed/contactsync/models"
	"github.com/harperreed/contactsync/sync"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(26)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func renderReport(w io.Writer, r *sync.Report) {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Sync " + r.UserID))
	s.WriteString("  ")
	switch r.Outcome {
	case sync.OutcomeOK:
		s.WriteString(okStyle.Render("✓ ok"))
	case sync.OutcomePartial:
		s.WriteString(pendingStyle.Render("◐ partial"))
	default:
		s.WriteString(errorStyle.Render("✗ " + string(r.Outcome)))
	}
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("  pushed:  %d created, %d updated, %d conflicts, %d unchanged\n",
		r.Created, r.Updated, r.Conflicts, r.Unchanged))
	s.WriteString(fmt.Sprintf("  pulled:  %d updated, %d staged over %d page(s)\n", r.Pulled, r.Staged, r.Pages))
	if r.Deleted > 0 || r.Replayed > 0 {
		s.WriteString(fmt.Sprintf("  changes: %d deleted, %d replayed\n", r.Deleted, r.Replayed))
	}
	if r.Failed > 0 || r.Skipped > 0 {
		s.WriteString(errorStyle.Render(fmt.Sprintf("  %d failed, %d skipped", r.Failed, r.Skipped)))
		s.WriteString("\n")
	}
	if r.Held > 0 {
		s.WriteString(pendingStyle.Render(fmt.Sprintf("  %d held until edited locally (rejected by the remote)", r.Held)))
		s.WriteString("\n")
	}
	if r.MorePages {
		s.WriteString(mutedStyle.Render("  more remote pages remain; the next pass resumes there"))
		s.WriteString("\n")
	}
	if r.Error != "" {
		s.WriteString(errorStyle.Render("  error: " + r.Error))
		s.WriteString("\n")
	}

	_, _ = fmt.Fprint(w, s.String())
}

func renderStatus(w io.Writer, statuses []sync.AccountStatus) {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Contact Sync Status"))
	s.WriteString("\n\n")

	if len(statuses) == 0 {
		s.WriteString(mutedStyle.Render("No linked accounts. Run 'contactsync account link --user <id>' first."))
		s.WriteString("\n")
		_, _ = fmt.Fprint(w, s.String())
		return
	}

	for _, st := range statuses {
		account := st.Account
		s.WriteString(headerStyle.Render(account.UserID))
		s.WriteString(" ")
		s.WriteString(mutedStyle.Render(displayEmail(account.Email)))
		s.WriteString("\n")

		s.WriteString(labelStyle.Render("  Last sync started"))
		s.WriteString(formatWhen(account.LastSyncInitiated))
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("  Last sync succeeded"))
		s.WriteString(formatWhen(account.LastSyncSuccessful))
		s.WriteString("\n")

		if account.ErrorMessage != "" {
			s.WriteString(labelStyle.Render("  Error"))
			s.WriteString(errorStyle.Render(account.ErrorMessage))
			s.WriteString("\n")
		}

		for _, status := range models.SyncStatuses {
			n := st.Counts[status]
			if n == 0 {
				continue
			}
			style := pendingStyle
			switch status {
			case models.StatusSynced:
				style = okStyle
			case models.StatusError:
				style = errorStyle
			}
			s.WriteString(labelStyle.Render("  " + string(status)))
			s.WriteString(style.Render(fmt.Sprintf("%d", n)))
			s.WriteString("\n")
		}
		if st.Deferred > 0 {
			s.WriteString(labelStyle.Render("  deferred changes"))
			s.WriteString(pendingStyle.Render(fmt.Sprintf("%d", st.Deferred)))
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	_, _ = fmt.Fprint(w, s.String())
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return mutedStyle.Render("never")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
