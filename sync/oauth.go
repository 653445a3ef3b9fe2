// ABOUTME: OAuth configuration, authenticated sessions, account linking, and revocation
// ABOUTME: Refreshes expired tokens through the token endpoint and persists rotated credentials
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/harperreed/contactsync/config"
	"github.com/harperreed/contactsync/db"
	"github.com/harperreed/contactsync/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// NewOAuthConfig creates the OAuth2 config for the remote contact directory.
func NewOAuthConfig(cfg config.RemoteConfig) *oauth2.Config {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     endpoint,
	}
}

// Session is an authenticated view of one remote account. Client signs every
// request with the current access token and persists refreshed tokens.
type Session struct {
	Account     *models.RemoteAccount
	TokenSource oauth2.TokenSource
	Client      *http.Client
}

// SessionProvider turns stored credentials into sessions.
type SessionProvider struct {
	accounts       *db.AccountStore
	oauth          *oauth2.Config
	refreshTimeout time.Duration
	httpClient     *http.Client
	logger         *log.Logger
	now            func() time.Time
}

// SessionOptions configures a SessionProvider. HTTPClient is the base client
// for token exchanges and API calls; nil uses http.DefaultClient.
type SessionOptions struct {
	RefreshTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *log.Logger
	Now            func() time.Time
}

// NewSessionProvider creates a provider backed by accounts.
func NewSessionProvider(accounts *db.AccountStore, oauthCfg *oauth2.Config, opts SessionOptions) *SessionProvider {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionProvider{
		accounts:       accounts,
		oauth:          oauthCfg,
		refreshTimeout: opts.RefreshTimeout,
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger.With("component", "session"),
		now:            opts.Now,
	}
}

// AuthenticatedSession returns a session for the user's linked account.
func (p *SessionProvider) AuthenticatedSession(ctx context.Context, userID string) (*Session, error) {
	account, err := p.accounts.GetByUser(ctx, userID)
	if err != nil {
		if KindOf(err) == KindUnconfigured {
			return nil, &Error{Kind: KindUnconfigured, Op: "session", Err: ErrNotLinked}
		}
		return nil, err
	}
	return p.Session(ctx, account)
}

// Session returns a session for account, refreshing its access token first
// when it has expired. Failures are recorded on the account.
func (p *SessionProvider) Session(ctx context.Context, account *models.RemoteAccount) (*Session, error) {
	logger := p.logger.With("user_id", account.UserID, "remote_account_id", account.ID)

	if !account.Usable() {
		p.recordError(ctx, account.ID, "account has no usable credentials; re-link required")
		return nil, &Error{Kind: KindUnconfigured, Op: "session", Err: ErrNotLinked}
	}

	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenType:    "Bearer",
	}
	if account.TokenExpiry != nil {
		token.Expiry = *account.TokenExpiry
	}

	if account.Expired(p.now()) {
		if account.RefreshToken == "" {
			p.recordError(ctx, account.ID, "access token expired and no refresh token stored; re-link required")
			return nil, &Error{Kind: KindUnconfigured, Op: "session", Err: ErrNotLinked}
		}

		refreshed, err := p.refresh(ctx, account.RefreshToken)
		if err != nil {
			logger.Warn("token refresh failed", "event", "refresh", "outcome", "error", "error", err)
			p.recordError(ctx, account.ID, "token refresh failed: "+err.Error())
			return nil, mapRemoteError("refresh", p.oauth.Endpoint.TokenURL, err)
		}
		if err := persistToken(ctx, p.accounts, account, refreshed); err != nil {
			return nil, err
		}
		token = refreshed
		logger.Info("access token refreshed", "event", "refresh", "outcome", "ok")
	}

	source := &persistingTokenSource{
		base:     p.oauth.TokenSource(p.refreshContext(), token),
		accounts: p.accounts,
		account:  account,
		last:     token.AccessToken,
		logger:   logger,
	}
	reuse := oauth2.ReuseTokenSource(token, source)

	client := &http.Client{
		Transport: &oauth2.Transport{Source: reuse, Base: p.httpClient.Transport},
	}

	return &Session{Account: account, TokenSource: reuse, Client: client}, nil
}

func (p *SessionProvider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	return p.oauth.TokenSource(ctx, expired).Token()
}

// refreshContext is used for refreshes triggered while a session is in use;
// it outlives any single call and bounds each exchange by the refresh timeout.
func (p *SessionProvider) refreshContext() context.Context {
	client := &http.Client{Transport: p.httpClient.Transport, Timeout: p.refreshTimeout}
	return context.WithValue(context.Background(), oauth2.HTTPClient, client)
}

func (p *SessionProvider) recordError(ctx context.Context, accountID, msg string) {
	if err := p.accounts.Update(ctx, accountID, db.AccountUpdate{ErrorMessage: &msg}); err != nil {
		p.logger.Error("failed to record account error", "remote_account_id", accountID, "error", err)
	}
}

// persistingTokenSource writes every newly minted token back to the account store.
type persistingTokenSource struct {
	mu       stdsync.Mutex
	base     oauth2.TokenSource
	accounts *db.AccountStore
	account  *models.RemoteAccount
	last     string
	logger   *log.Logger
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != s.last {
		if err := persistToken(context.Background(), s.accounts, s.account, token); err != nil {
			s.logger.Error("failed to persist rotated token", "event", "refresh", "outcome", "error", "error", err)
		} else {
			s.logger.Info("access token rotated mid-session", "event", "refresh", "outcome", "ok")
		}
		s.last = token.AccessToken
	}
	return token, nil
}

func persistToken(ctx context.Context, accounts *db.AccountStore, account *models.RemoteAccount, token *oauth2.Token) error {
	cleared := ""
	update := db.AccountUpdate{
		AccessToken:  &token.AccessToken,
		ErrorMessage: &cleared,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		update.TokenExpiry = &expiry
		account.TokenExpiry = &expiry
	}
	if token.RefreshToken != "" && token.RefreshToken != account.RefreshToken {
		update.RefreshToken = &token.RefreshToken
		account.RefreshToken = token.RefreshToken
	}
	if scope, ok := token.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		scopes := strings.Fields(scope)
		update.Scopes = &scopes
		account.Scopes = scopes
	}
	if err := accounts.Update(ctx, account.ID, update); err != nil {
		return fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	account.AccessToken = token.AccessToken
	account.ErrorMessage = ""
	return nil
}

// Linker performs the authorization-code grant and revocation.
type Linker struct {
	accounts   *db.AccountStore
	oauth      *oauth2.Config
	remote     config.RemoteConfig
	httpClient *http.Client
	logger     *log.Logger
}

// NewLinker creates a Linker. A nil httpClient uses http.DefaultClient. The
// consent request adds the email scope so the linked account's address can
// be read from people/me.
func NewLinker(accounts *db.AccountStore, oauthCfg *oauth2.Config, remote config.RemoteConfig, httpClient *http.Client, logger *log.Logger) *Linker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	linkCfg := *oauthCfg
	linkCfg.Scopes = withScope(oauthCfg.Scopes, config.EmailScope)
	return &Linker{
		accounts:   accounts,
		oauth:      &linkCfg,
		remote:     remote,
		httpClient: httpClient,
		logger:     logger.With("component", "link"),
	}
}

func withScope(scopes []string, scope string) []string {
	if slices.Contains(scopes, scope) {
		return scopes
	}
	return append(slices.Clone(scopes), scope)
}

// AuthURL returns the consent URL requesting offline access.
func (l *Linker) AuthURL(state string) string {
	return l.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Link exchanges an authorization code, resolves the remote identity, and
// stores the account for userID.
func (l *Linker) Link(ctx context.Context, userID, code string) (*models.RemoteAccount, error) {
	if l.oauth.ClientID == "" || l.oauth.ClientSecret == "" {
		return nil, &Error{Kind: KindUnconfigured, Op: "link", Err: fmt.Errorf("google OAuth credentials not configured. Set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, l.httpClient)
	token, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, mapRemoteError("link", l.oauth.Endpoint.TokenURL, err)
	}

	client := l.oauth.Client(ctx, token)
	remote, err := NewPeopleClient(ctx, client, ClientOptions{BaseURL: l.remote.BaseURL})
	if err != nil {
		return nil, err
	}
	me, err := remote.Get(ctx, "people/me", []string{"emailAddresses", "metadata"})
	if err != nil {
		return nil, err
	}
	nc, _ := FromRemote(me)

	tokens := models.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scopes:       l.oauth.Scopes,
	}
	if scope, ok := token.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		tokens.Scopes = strings.Fields(scope)
	}

	account, err := l.accounts.Upsert(ctx, userID, me.ResourceName, nc.Email, tokens)
	if err != nil {
		return nil, err
	}
	l.logger.Info("account linked", "user_id", userID, "remote_account_id", account.ID, "event", "link", "outcome", "ok")
	return account, nil
}

// Revoke invalidates the account's grant at the remote and deletes the account
// together with its sync logs. A grant the remote already considers invalid
// is still removed locally.
func (l *Linker) Revoke(ctx context.Context, account *models.RemoteAccount) error {
	token := account.RefreshToken
	if token == "" {
		token = account.AccessToken
	}

	if token != "" && l.remote.RevokeURL != "" {
		if err := l.revokeRemote(ctx, token); err != nil {
			var se *Error
			if !errors.As(err, &se) || se.Code < 400 || se.Code >= 500 {
				return err
			}
			l.logger.Warn("remote rejected revocation; removing local account", "remote_account_id", account.ID, "code", se.Code)
		}
	}

	if err := l.accounts.Delete(ctx, account.ID); err != nil {
		return err
	}
	l.logger.Info("account revoked", "user_id", account.UserID, "remote_account_id", account.ID, "event", "revoke", "outcome", "ok")
	return nil
}

func (l *Linker) revokeRemote(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.remote.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return mapRemoteError("revoke", l.remote.RevokeURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyInError))
	kind := KindRemoteValidation
	if resp.StatusCode >= 500 {
		kind = KindTransient
	}
	return &Error{
		Kind:     kind,
		Category: CategoryRemoteHTTP,
		Op:       "revoke",
		Endpoint: l.remote.RevokeURL,
		Code:     resp.StatusCode,
		Body:     string(body),
		Err:      fmt.Errorf("revocation rejected with status %d", resp.StatusCode),
	}
}
