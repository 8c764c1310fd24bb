// Package oauth runs the browser-based Google authorization flow:
// a loopback callback server, CSRF state, PKCE, and the code
// exchange.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/log"
	gmailprov "github.com/mailbox-cli/mailbox/internal/provider/gmail"
)

// CallbackPath is the redirect path registered with the OAuth client.
const CallbackPath = "/callback"

// Scopes covers mail read/modify/send plus read-only calendar.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
	calendar.CalendarReadonlyScope,
}

// NewConfig builds the oauth2 config from the operator's Google
// client settings. The redirect URL is completed once the callback
// server has bound its port.
func NewConfig(g config.Google) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

// Flow is one interactive authorization attempt.
type Flow struct {
	cfg  *oauth2.Config
	port int
}

// NewFlow creates a flow listening on the configured callback port.
func NewFlow(g config.Google) *Flow {
	return &Flow{cfg: NewConfig(g), port: g.CallbackPort}
}

// Authorize opens the browser, waits for the callback, exchanges the
// code, and resolves the account address from the Gmail profile.
func (f *Flow) Authorize(ctx context.Context) (*oauth2.Token, string, error) {
	state := uuid.NewString()
	srv := NewCallbackServer(CallbackPath, state)
	if err := srv.Start(f.port); err != nil {
		return nil, "", err
	}
	defer srv.Close()

	cfg := *f.cfg
	cfg.RedirectURL = fmt.Sprintf("http://%s%s", srv.Addr(), CallbackPath)

	pkceVerifier, pkceChallenge, err := generatePKCE()
	if err != nil {
		return nil, "", err
	}

	authURL := cfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge),
	)

	if err := browser.OpenURL(authURL); err != nil {
		fmt.Printf("Open this URL to authorize:\n%s\n", authURL)
	} else {
		log.Printf("If your browser does not open, visit: %v", authURL)
	}

	code, err := srv.Wait(ctx, DefaultWaitTimeout)
	if err != nil {
		return nil, "", err
	}

	tok, err := cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", pkceVerifier))
	if err != nil {
		return nil, "", fmt.Errorf("unable to retrieve token: %w", err)
	}

	email, err := profileEmail(ctx, &cfg, tok)
	if err != nil {
		return nil, "", err
	}
	return tok, email, nil
}

// profileEmail asks Gmail which address the token belongs to.
func profileEmail(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (string, error) {
	srv, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
	if err != nil {
		return "", fmt.Errorf("creating gmail service: %w", err)
	}
	email, err := gmailprov.NewClient(srv, "").Profile(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving account address: %w", err)
	}
	return email, nil
}

func generatePKCE() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("unable to generate PKCE verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
