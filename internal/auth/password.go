package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/crypto"
	"github.com/mailbox-cli/mailbox/internal/log"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
	"github.com/mailbox-cli/mailbox/internal/store"
)

// passwordSession holds the live connections for an app-password or
// Zoho login. Connections are lazily dialed and rebuilt on demand
// from the stored credential.
type passwordSession struct {
	email string
	imap  *imapclient.Client
	smtp  *smtp.Client
}

// passwordHandler implements the two password-based methods. Gmail
// app passwords and Zoho differ only in server endpoints and folder
// layout, so one handler covers both.
type passwordHandler struct {
	method model.AuthMethod
	server config.MailServer
	store  *store.Store
	crypto *crypto.Service

	dialIMAP func(email, password string) (*imapclient.Client, error)
	dialSMTP func(email, password string) (*smtp.Client, error)

	session *passwordSession
}

func newPasswordHandler(method model.AuthMethod, server config.MailServer, st *store.Store, cr *crypto.Service) *passwordHandler {
	h := &passwordHandler{
		method: method,
		server: server,
		store:  st,
		crypto: cr,
	}
	h.dialIMAP = h.defaultDialIMAP
	h.dialSMTP = h.defaultDialSMTP
	return h
}

func (h *passwordHandler) defaultDialIMAP(email, password string) (*imapclient.Client, error) {
	conn, err := imapclient.DialTLS(h.server.IMAPAddr(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", h.server.IMAPAddr(), err)
	}
	if err := conn.Login(email, password).Wait(); err != nil {
		_ = conn.Logout().Wait()
		return nil, &provider.AuthError{
			Method:  h.method,
			Message: fmt.Sprintf("IMAP login failed for %s: %v", email, err),
		}
	}
	return conn, nil
}

func (h *passwordHandler) defaultDialSMTP(email, password string) (*smtp.Client, error) {
	addr := h.server.SMTPAddr()
	tlsConfig := &tls.Config{ServerName: h.server.SMTPHost}

	var conn *smtp.Client
	var err error
	if h.server.SMTPImplicitTLS {
		conn, err = smtp.DialTLS(addr, tlsConfig)
	} else {
		conn, err = smtp.DialStartTLS(addr, tlsConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP %s: %w", addr, err)
	}

	if err := conn.Auth(sasl.NewPlainClient("", email, password)); err != nil {
		_ = conn.Quit()
		return nil, &provider.AuthError{
			Method:  h.method,
			Message: fmt.Sprintf("SMTP login failed for %s: %v", email, err),
		}
	}
	return conn, nil
}

// login verifies the password against the IMAP server, then encrypts
// and stores it.
func (h *passwordHandler) login(ctx context.Context, email, password string) error {
	conn, err := h.dialIMAP(email, password)
	if err != nil {
		return err
	}

	encrypted, err := h.crypto.Encrypt(password)
	if err != nil {
		return fmt.Errorf("encrypting password: %w", err)
	}
	if err := h.store.UpsertCredential(ctx, &model.Credential{
		UserEmail:      email,
		AuthType:       h.method,
		EncryptedToken: encrypted,
	}); err != nil {
		_ = conn.Logout().Wait()
		return err
	}

	// A repeated login replaces the session; drop the old
	// connections rather than leaking them.
	h.logout()
	h.session = &passwordSession{email: email, imap: conn}
	return nil
}

// loginStored resumes a session from a stored credential, verifying
// it still works against the server.
func (h *passwordHandler) loginStored(ctx context.Context, cred *model.Credential) error {
	password, err := h.crypto.Decrypt(cred.EncryptedToken)
	if err != nil {
		if errors.Is(err, crypto.ErrDecrypt) {
			return &provider.CredentialError{
				Message: fmt.Sprintf("cannot decrypt stored password for %s (wrong encryption key?)", cred.UserEmail),
				Err:     err,
			}
		}
		return err
	}

	conn, err := h.dialIMAP(cred.UserEmail, password)
	if err != nil {
		return err
	}
	h.logout()
	h.session = &passwordSession{email: cred.UserEmail, imap: conn}
	return nil
}

// password re-reads and decrypts the stored credential; the database
// is the durable source of truth for reconnects.
func (h *passwordHandler) password(ctx context.Context) (string, error) {
	cred, err := h.store.CredentialByEmail(ctx, h.session.email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &provider.CredentialError{
				Message: fmt.Sprintf("no stored credential for %s", h.session.email),
			}
		}
		return "", err
	}
	password, err := h.crypto.Decrypt(cred.EncryptedToken)
	if err != nil {
		return "", &provider.CredentialError{
			Message: fmt.Sprintf("cannot decrypt stored password for %s", h.session.email),
			Err:     err,
		}
	}
	return password, nil
}

// imapConn returns a live IMAP connection, pinging the cached one
// and rebuilding it from the stored credential when it has gone
// stale.
func (h *passwordHandler) imapConn(ctx context.Context) (*imapclient.Client, error) {
	if h.session == nil {
		return nil, provider.ErrNotAuthenticated
	}
	if h.session.imap != nil {
		if err := h.session.imap.Noop().Wait(); err == nil {
			return h.session.imap, nil
		}
		log.Printf("IMAP connection for %s went stale, reconnecting", h.session.email)
		_ = h.session.imap.Close()
		h.session.imap = nil
	}

	password, err := h.password(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := h.dialIMAP(h.session.email, password)
	if err != nil {
		return nil, err
	}
	h.session.imap = conn
	return conn, nil
}

// smtpConn returns a live authenticated SMTP connection, rebuilding
// on demand like imapConn.
func (h *passwordHandler) smtpConn(ctx context.Context) (*smtp.Client, error) {
	if h.session == nil {
		return nil, provider.ErrNotAuthenticated
	}
	if h.session.smtp != nil {
		if err := h.session.smtp.Noop(); err == nil {
			return h.session.smtp, nil
		}
		log.Printf("SMTP connection for %s went stale, reconnecting", h.session.email)
		_ = h.session.smtp.Close()
		h.session.smtp = nil
	}

	password, err := h.password(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := h.dialSMTP(h.session.email, password)
	if err != nil {
		return nil, err
	}
	h.session.smtp = conn
	return conn, nil
}

func (h *passwordHandler) email() string {
	if h.session == nil {
		return ""
	}
	return h.session.email
}

// logout drops the session, closing connections best-effort.
func (h *passwordHandler) logout() {
	if h.session == nil {
		return
	}
	if h.session.imap != nil {
		_ = h.session.imap.Logout().Wait()
	}
	if h.session.smtp != nil {
		_ = h.session.smtp.Quit()
	}
	h.session = nil
}
