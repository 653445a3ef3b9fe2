// ABOUTME: Account commands: link a Google Contacts account through OAuth, unlink, and list
// ABOUTME: Link runs a local callback server or accepts a pasted authorization code
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/logging"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAccountCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Link and unlink remote contact accounts",
	}
	cmd.AddCommand(
		newAccountLinkCommand(opts),
		newAccountUnlinkCommand(opts),
		newAccountListCommand(opts),
	)
	return cmd
}

func newAccountLinkCommand(opts *rootOptions) *cobra.Command {
	var userID, code string
	var manual bool

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Authorize access to a Google Contacts account for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if code == "" {
				state := uuid.NewString()
				authURL := app.Linker.AuthURL(state)
				if manual {
					code, err = promptForCode(out, cmd.InOrStdin(), authURL)
				} else {
					code, err = awaitCallback(ctx, out, app.Config.Remote.RedirectURL, authURL, state)
				}
				if err != nil {
					return err
				}
			}

			account, err := app.Linker.Link(ctx, userID, code)
			if err != nil {
				return fmt.Errorf("failed to link account: %w", err)
			}

			_, _ = fmt.Fprintf(out, "\n✓ Linked %s for user %s\n", displayEmail(account.Email), account.UserID)
			_, _ = fmt.Fprintln(out, "Run 'contactsync sync run --user "+account.UserID+"' to sync contacts.")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (required)")
	cmd.Flags().StringVar(&code, "code", "", "authorization code obtained out of band")
	cmd.Flags().BoolVar(&manual, "manual", false, "paste the authorization code instead of running a callback server")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newAccountUnlinkCommand(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Revoke a user's grant and delete the account with its sync history",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			account, err := app.Accounts.GetByUser(ctx, userID)
			if errors.Is(err, db.ErrAccountNotFound) {
				return fmt.Errorf("user %s has no linked account", userID)
			}
			if err != nil {
				return err
			}

			if err := app.Linker.Revoke(ctx, account); err != nil {
				return fmt.Errorf("failed to revoke account: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Unlinked %s for user %s\n", displayEmail(account.Email), userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "local user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newAccountListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd)
			if err != nil {
				return err
			}

			accounts, err := app.Accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				_, _ = fmt.Fprintln(out, "No linked accounts. Run 'contactsync account link --user <id>'.")
				return nil
			}
			for _, account := range accounts {
				_, _ = fmt.Fprintf(out, "%-20s %-32s %s\n", account.UserID, displayEmail(account.Email), account.ID)
			}
			return nil
		},
	}
}

func displayEmail(email string) string {
	if email == "" {
		return "(no email)"
	}
	return email
}

// promptForCode prints the consent URL and reads the pasted code from in.
func promptForCode(out io.Writer, in io.Reader, authURL string) (string, error) {
	_, _ = fmt.Fprintf(out, "Visit this URL to authorize access:\n%s\n\n", authURL)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(out, "Authorization code: ")
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read authorization code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", fmt.Errorf("no authorization code entered")
	}
	return code, nil
}

// awaitCallback serves the redirect URL locally until the consent screen
// redirects back with a code.
func awaitCallback(ctx context.Context, out io.Writer, redirectURL, authURL, state string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	listener, err := net.Listen("tcp", u.Host)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s (use --manual to paste the code): %w", u.Host, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	logger := logging.FromContext(ctx).With("component", "link")
	logger.Debug("callback server listening", "addr", listener.Addr().String(), "path", path)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			logger.Warn("callback rejected", "reason", "state mismatch")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if reason := q.Get("error"); reason != "" {
			_, _ = fmt.Fprintf(w, "Authorization failed: %s", reason)
			select {
			case errChan <- fmt.Errorf("authorization denied: %s", reason):
			default:
			}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
		select {
		case codeChan <- code:
		default:
		}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	_, _ = fmt.Fprintln(out, "Opening browser for Google OAuth...")
	_, _ = fmt.Fprintf(out, "\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	_ = openBrowser(authURL)

	select {
	case code := <-codeChan:
		return code, nil
	case err := <-errChan:
		return "", fmt.Errorf("OAuth flow failed: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// openBrowser attempts to open URL in default browser
func openBrowser(target string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{target}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", target}
	default:
		cmd = "xdg-open"
		args = []string{target}
	}

	return exec.Command(cmd, args...).Start()
}
