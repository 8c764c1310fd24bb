// Package auth owns login state: which account is active, by which
// method, and the live protocol handles the rest of the app borrows.
// Secrets are encrypted before they reach the store and decrypted
// only here.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-smtp"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/crypto"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
	"github.com/mailbox-cli/mailbox/internal/store"
)

// Manager dispatches to the per-method handlers and tracks the
// active session. Capability accessors return (nil, nil) when the
// active method does not support the capability, so callers can
// branch without sentinel errors.
type Manager struct {
	cfg    *config.Config
	store  *store.Store
	crypto *crypto.Service

	appPassword *passwordHandler
	zoho        *passwordHandler
	oauth       *oauthHandler

	active model.AuthMethod
}

// NewManager wires the three method handlers.
func NewManager(cfg *config.Config, st *store.Store, cr *crypto.Service) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       st,
		crypto:      cr,
		appPassword: newPasswordHandler(model.AuthAppPassword, cfg.Gmail, st, cr),
		zoho:        newPasswordHandler(model.AuthZoho, cfg.Zoho, st, cr),
		oauth:       newOAuthHandler(cfg.Google, st, cr),
	}
}

// ActiveMethod returns the method of the current session, or
// AuthNone.
func (m *Manager) ActiveMethod() model.AuthMethod { return m.active }

// IsAuthenticated reports whether any session is active.
func (m *Manager) IsAuthenticated() bool { return m.active != model.AuthNone }

// CurrentEmail returns the active account address, or "".
func (m *Manager) CurrentEmail() string {
	switch m.active {
	case model.AuthOAuth:
		return m.oauth.email()
	case model.AuthAppPassword:
		return m.appPassword.email()
	case model.AuthZoho:
		return m.zoho.email()
	}
	return ""
}

// checkMethodConflict enforces that an address keeps its first
// chosen method until its credential is deleted.
func (m *Manager) checkMethodConflict(ctx context.Context, email string, method model.AuthMethod) error {
	cred, err := m.store.CredentialByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cred.AuthType != method {
		return &provider.CredentialError{
			Message: fmt.Sprintf("%s is already set up with %s; run 'mailbox logout --clear' to switch methods",
				email, cred.AuthType),
		}
	}
	return nil
}

// LoginAppPassword authenticates a Gmail account with an app
// password over IMAP.
func (m *Manager) LoginAppPassword(ctx context.Context, email, password string) error {
	return m.loginPassword(ctx, m.appPassword, email, password)
}

// LoginZoho authenticates a Zoho account over IMAP.
func (m *Manager) LoginZoho(ctx context.Context, email, password string) error {
	return m.loginPassword(ctx, m.zoho, email, password)
}

func (m *Manager) loginPassword(ctx context.Context, h *passwordHandler, email, password string) error {
	if err := m.checkMethodConflict(ctx, email, h.method); err != nil {
		return err
	}
	if err := h.login(ctx, email, password); err != nil {
		return err
	}
	m.setActive(h.method)
	return nil
}

// LoginOAuth runs the browser flow and returns the authorized
// address.
func (m *Manager) LoginOAuth(ctx context.Context) (string, error) {
	email, err := m.oauth.login(ctx, func(email string) error {
		return m.checkMethodConflict(ctx, email, model.AuthOAuth)
	})
	if err != nil {
		return "", err
	}
	m.setActive(model.AuthOAuth)
	return email, nil
}

// LoginStored resumes a session from a stored credential. With an
// empty address the most recently used credential is chosen.
func (m *Manager) LoginStored(ctx context.Context, email string) error {
	var cred *model.Credential
	var err error
	if email == "" {
		cred, err = m.store.MostRecentCredential(ctx)
	} else {
		cred, err = m.store.CredentialByEmail(ctx, email)
	}
	if errors.Is(err, store.ErrNotFound) {
		return &provider.CredentialError{Message: "no stored credentials; run 'mailbox login' first"}
	}
	if err != nil {
		return err
	}

	// Touch the row first so MostRecentCredential keeps preferring
	// it; the oauth handler may persist a refreshed token below.
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return err
	}

	switch cred.AuthType {
	case model.AuthOAuth:
		err = m.oauth.loginStored(ctx, cred)
	case model.AuthAppPassword:
		err = m.appPassword.loginStored(ctx, cred)
	case model.AuthZoho:
		err = m.zoho.loginStored(ctx, cred)
	default:
		return &provider.CredentialError{
			Message: fmt.Sprintf("credential for %s has unknown auth type %q", cred.UserEmail, cred.AuthType),
		}
	}
	if err != nil {
		return err
	}
	m.setActive(cred.AuthType)
	return nil
}

func (m *Manager) setActive(method model.AuthMethod) {
	if m.active != model.AuthNone && m.active != method {
		m.Logout()
	}
	m.active = method
}

// IMAPConnection returns a live IMAP connection, or (nil, nil) when
// the active method reads mail through the Gmail API instead.
func (m *Manager) IMAPConnection(ctx context.Context) (*imapclient.Client, error) {
	switch m.active {
	case model.AuthAppPassword:
		return m.appPassword.imapConn(ctx)
	case model.AuthZoho:
		return m.zoho.imapConn(ctx)
	case model.AuthOAuth:
		return nil, nil
	}
	return nil, provider.ErrNotAuthenticated
}

// SMTPConnection returns a live SMTP connection, or (nil, nil) when
// the active method sends through the Gmail API instead.
func (m *Manager) SMTPConnection(ctx context.Context) (*smtp.Client, error) {
	switch m.active {
	case model.AuthAppPassword:
		return m.appPassword.smtpConn(ctx)
	case model.AuthZoho:
		return m.zoho.smtpConn(ctx)
	case model.AuthOAuth:
		return nil, nil
	}
	return nil, provider.ErrNotAuthenticated
}

// GmailService returns the Gmail API service, or (nil, nil) for the
// IMAP-based methods.
func (m *Manager) GmailService(ctx context.Context) (*gmail.Service, error) {
	switch m.active {
	case model.AuthOAuth:
		return m.oauth.gmailService(ctx)
	case model.AuthAppPassword, model.AuthZoho:
		return nil, nil
	}
	return nil, provider.ErrNotAuthenticated
}

// CalendarService returns the Calendar API service. Only OAuth
// sessions have calendar access; the password methods yield
// (nil, nil).
func (m *Manager) CalendarService(ctx context.Context) (*calendar.Service, error) {
	switch m.active {
	case model.AuthOAuth:
		return m.oauth.calendarService(ctx)
	case model.AuthAppPassword, model.AuthZoho:
		return nil, nil
	}
	return nil, provider.ErrNotAuthenticated
}

// GmailFolders reports whether the account's IMAP server uses the
// [Gmail]/ folder namespace.
func (m *Manager) GmailFolders() bool {
	return m.active == model.AuthAppPassword
}

// VerifyConnection checks that the active session still reaches its
// server.
func (m *Manager) VerifyConnection(ctx context.Context) bool {
	switch m.active {
	case model.AuthOAuth:
		return m.oauth.verify(ctx)
	case model.AuthAppPassword, model.AuthZoho:
		conn, err := m.IMAPConnection(ctx)
		return err == nil && conn != nil
	}
	return false
}

// Logout drops the active session. Stored credentials survive, so a
// later 'login' resumes without re-entering secrets.
func (m *Manager) Logout() {
	switch m.active {
	case model.AuthOAuth:
		m.oauth.logout()
	case model.AuthAppPassword:
		m.appPassword.logout()
	case model.AuthZoho:
		m.zoho.logout()
	}
	m.active = model.AuthNone
}

// LogoutAndClear drops the session and deletes the stored
// credential, returning the address that was cleared so callers can
// purge its cached data too.
func (m *Manager) LogoutAndClear(ctx context.Context) (string, error) {
	email := m.CurrentEmail()
	m.Logout()
	if email == "" {
		return "", nil
	}
	if err := m.store.DeleteCredential(ctx, email); err != nil {
		return email, err
	}
	return email, nil
}
