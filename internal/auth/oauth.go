package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/crypto"
	"github.com/mailbox-cli/mailbox/internal/log"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/oauth"
	"github.com/mailbox-cli/mailbox/internal/provider"
	"github.com/mailbox-cli/mailbox/internal/store"
)

// oauthSession holds the token and API services for an OAuth login.
type oauthSession struct {
	email       string
	token       *oauth2.Token
	gmailSvc    *gmail.Service
	calendarSvc *calendar.Service
}

// oauthHandler implements the Google OAuth method: browser flow on
// first login, then encrypted token storage with transparent refresh.
type oauthHandler struct {
	google config.Google
	store  *store.Store
	crypto *crypto.Service

	// authorize runs the interactive browser flow; replaced in tests.
	authorize func(ctx context.Context) (*oauth2.Token, string, error)

	session *oauthSession
}

func newOAuthHandler(google config.Google, st *store.Store, cr *crypto.Service) *oauthHandler {
	h := &oauthHandler{
		google: google,
		store:  st,
		crypto: cr,
	}
	h.authorize = func(ctx context.Context) (*oauth2.Token, string, error) {
		return oauth.NewFlow(google).Authorize(ctx)
	}
	return h
}

// login runs the browser flow. check is consulted with the resolved
// address before anything is persisted, so a method conflict aborts
// cleanly.
func (h *oauthHandler) login(ctx context.Context, check func(email string) error) (string, error) {
	if h.google.ClientID == "" || h.google.ClientSecret == "" {
		return "", fmt.Errorf("google.client_id and google.client_secret must be configured for oauth login")
	}

	tok, email, err := h.authorize(ctx)
	if err != nil {
		return "", err
	}
	if err := check(email); err != nil {
		return "", err
	}
	if err := h.persistToken(ctx, email, tok); err != nil {
		return "", err
	}
	if err := h.buildSession(ctx, email, tok); err != nil {
		return "", err
	}
	return email, nil
}

// loginStored resumes a session from the encrypted token blob,
// refreshing it if expired.
func (h *oauthHandler) loginStored(ctx context.Context, cred *model.Credential) error {
	raw, err := h.crypto.Decrypt(cred.EncryptedToken)
	if err != nil {
		if errors.Is(err, crypto.ErrDecrypt) {
			return &provider.CredentialError{
				Message: fmt.Sprintf("cannot decrypt stored token for %s (wrong encryption key?)", cred.UserEmail),
				Err:     err,
			}
		}
		return err
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return &provider.CredentialError{
			Message: fmt.Sprintf("stored token for %s is not a valid oauth token", cred.UserEmail),
			Err:     err,
		}
	}

	return h.buildSession(ctx, cred.UserEmail, &tok)
}

// buildSession refreshes the token if needed, persists any rotation
// immediately, and constructs the API services.
func (h *oauthHandler) buildSession(ctx context.Context, email string, tok *oauth2.Token) error {
	cfg := oauth.NewConfig(h.google)
	ts := cfg.TokenSource(ctx, tok)
	fresh, err := ts.Token()
	if err != nil {
		return &provider.AuthError{
			Method:  model.AuthOAuth,
			Message: fmt.Sprintf("token refresh failed for %s, run login again: %v", email, err),
		}
	}
	if fresh.AccessToken != tok.AccessToken {
		log.Printf("Refreshed oauth token for %s", email)
		if err := h.persistToken(ctx, email, fresh); err != nil {
			return err
		}
	}

	gmailSvc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return fmt.Errorf("creating gmail service: %w", err)
	}
	calendarSvc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return fmt.Errorf("creating calendar service: %w", err)
	}

	h.session = &oauthSession{
		email:       email,
		token:       fresh,
		gmailSvc:    gmailSvc,
		calendarSvc: calendarSvc,
	}
	return nil
}

// persistToken encrypts the full token bundle and upserts it.
func (h *oauthHandler) persistToken(ctx context.Context, email string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding oauth token: %w", err)
	}
	encrypted, err := h.crypto.Encrypt(string(raw))
	if err != nil {
		return fmt.Errorf("encrypting oauth token: %w", err)
	}
	encryptedAccess, err := h.crypto.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}

	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiry = &e
	}
	return h.store.UpsertCredential(ctx, &model.Credential{
		UserEmail:      email,
		AuthType:       model.AuthOAuth,
		EncryptedToken: encrypted,
		AccessToken:    encryptedAccess,
		TokenExpiry:    expiry,
	})
}

// ensureFresh rebuilds the session when the cached token has
// expired, persisting the rotation.
func (h *oauthHandler) ensureFresh(ctx context.Context) error {
	if h.session == nil {
		return provider.ErrNotAuthenticated
	}
	if h.session.token.Valid() {
		return nil
	}
	return h.buildSession(ctx, h.session.email, h.session.token)
}

func (h *oauthHandler) gmailService(ctx context.Context) (*gmail.Service, error) {
	if err := h.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return h.session.gmailSvc, nil
}

func (h *oauthHandler) calendarService(ctx context.Context) (*calendar.Service, error) {
	if err := h.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return h.session.calendarSvc, nil
}

// verify confirms the session still reaches the API.
func (h *oauthHandler) verify(ctx context.Context) bool {
	svc, err := h.gmailService(ctx)
	if err != nil {
		return false
	}
	_, err = svc.Users.GetProfile("me").Context(ctx).Do()
	return err == nil
}

func (h *oauthHandler) email() string {
	if h.session == nil {
		return ""
	}
	return h.session.email
}

func (h *oauthHandler) logout() {
	h.session = nil
}
