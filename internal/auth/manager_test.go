package auth

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"golang.org/x/oauth2"

	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/crypto"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
	"github.com/mailbox-cli/mailbox/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *crypto.Service) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cr, err := crypto.NewService(key)
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(config.Default(), st, cr), st, cr
}

// stubDialer replaces the real IMAP dial with one that records the
// credentials it was handed.
type stubDialer struct {
	calls     int
	lastEmail string
	lastPass  string
	fail      error
}

func (d *stubDialer) dial(email, password string) (*imapclient.Client, error) {
	d.calls++
	d.lastEmail = email
	d.lastPass = password
	if d.fail != nil {
		return nil, d.fail
	}
	return nil, nil
}

func TestLoginAppPasswordStoresEncryptedCredential(t *testing.T) {
	m, st, cr := newTestManager(t)
	ctx := context.Background()

	dialer := &stubDialer{}
	m.appPassword.dialIMAP = dialer.dial

	if err := m.LoginAppPassword(ctx, "alice@gmail.com", "app-password-1"); err != nil {
		t.Fatalf("LoginAppPassword: %v", err)
	}
	if dialer.calls != 1 || dialer.lastEmail != "alice@gmail.com" {
		t.Errorf("dial = %d calls for %q", dialer.calls, dialer.lastEmail)
	}
	if m.ActiveMethod() != model.AuthAppPassword || m.CurrentEmail() != "alice@gmail.com" {
		t.Errorf("session = %s / %s", m.ActiveMethod(), m.CurrentEmail())
	}

	cred, err := st.CredentialByEmail(ctx, "alice@gmail.com")
	if err != nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if cred.AuthType != model.AuthAppPassword {
		t.Errorf("auth type = %q", cred.AuthType)
	}
	if cred.EncryptedToken == "app-password-1" {
		t.Error("password stored in plaintext")
	}
	plain, err := cr.Decrypt(cred.EncryptedToken)
	if err != nil || plain != "app-password-1" {
		t.Errorf("decrypt = %q, %v", plain, err)
	}
}

func TestLoginAppPasswordRejected(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	dialer := &stubDialer{fail: &provider.AuthError{
		Method: model.AuthAppPassword, Message: "invalid credentials",
	}}
	m.appPassword.dialIMAP = dialer.dial

	err := m.LoginAppPassword(ctx, "alice@gmail.com", "wrong")
	if !provider.IsAuthError(err) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if m.IsAuthenticated() {
		t.Error("failed login left a session active")
	}
	if _, err := st.CredentialByEmail(ctx, "alice@gmail.com"); err == nil {
		t.Error("failed login stored a credential")
	}
}

func TestMethodConflictRejected(t *testing.T) {
	m, st, cr := newTestManager(t)
	ctx := context.Background()

	enc, _ := cr.Encrypt("zoho-pass")
	if err := st.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "alice@example.com",
		AuthType:       model.AuthZoho,
		EncryptedToken: enc,
	}); err != nil {
		t.Fatal(err)
	}

	m.appPassword.dialIMAP = (&stubDialer{}).dial
	err := m.LoginAppPassword(ctx, "alice@example.com", "other")
	if !provider.IsCredentialError(err) {
		t.Fatalf("err = %v, want CredentialError", err)
	}
	if !strings.Contains(err.Error(), "zoho") {
		t.Errorf("error should name the existing method: %v", err)
	}
}

// scriptedIMAPServer speaks just enough IMAP over one end of a pipe to
// greet a client and acknowledge LOGOUT; the returned channel closes
// when the client logs out.
func scriptedIMAPServer(t *testing.T, server net.Conn) <-chan struct{} {
	t.Helper()
	loggedOut := make(chan struct{})
	go func() {
		defer server.Close()
		if _, err := server.Write([]byte("* OK ready\r\n")); err != nil {
			return
		}
		br := bufio.NewReader(server)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			if strings.EqualFold(fields[1], "LOGOUT") {
				fmt.Fprintf(server, "* BYE\r\n%s OK LOGOUT completed\r\n", fields[0])
				close(loggedOut)
				return
			}
			fmt.Fprintf(server, "%s OK done\r\n", fields[0])
		}
	}()
	return loggedOut
}

func TestRepeatLoginClosesPriorConnections(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	server, conn := net.Pipe()
	loggedOut := scriptedIMAPServer(t, server)
	first := imapclient.New(conn, nil)

	dials := 0
	m.appPassword.dialIMAP = func(email, password string) (*imapclient.Client, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return nil, nil
	}

	if err := m.LoginAppPassword(ctx, "alice@gmail.com", "first-password"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := m.LoginAppPassword(ctx, "alice@gmail.com", "second-password"); err != nil {
		t.Fatalf("second login: %v", err)
	}

	select {
	case <-loggedOut:
	case <-time.After(5 * time.Second):
		t.Fatal("re-login left the prior IMAP connection open")
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
	if !m.IsAuthenticated() || m.CurrentEmail() != "alice@gmail.com" {
		t.Error("re-login did not leave an active session")
	}
}

func TestVerifyConnection(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if m.VerifyConnection(ctx) {
		t.Error("no session should not verify")
	}

	server, conn := net.Pipe()
	scriptedIMAPServer(t, server)
	client := imapclient.New(conn, nil)
	m.appPassword.dialIMAP = func(email, password string) (*imapclient.Client, error) {
		return client, nil
	}

	if err := m.LoginAppPassword(ctx, "alice@gmail.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if !m.VerifyConnection(ctx) {
		t.Error("live session should verify")
	}
}

func TestLoginStoredResumesPasswordSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	dialer := &stubDialer{}
	m.zoho.dialIMAP = dialer.dial
	if err := m.LoginZoho(ctx, "bob@zoho.com", "zoho-secret"); err != nil {
		t.Fatal(err)
	}
	m.Logout()
	if m.IsAuthenticated() {
		t.Fatal("logout left session active")
	}

	// Resume from the stored credential without re-entering the
	// password; empty address means most recent.
	if err := m.LoginStored(ctx, ""); err != nil {
		t.Fatalf("LoginStored: %v", err)
	}
	if m.ActiveMethod() != model.AuthZoho || m.CurrentEmail() != "bob@zoho.com" {
		t.Errorf("session = %s / %s", m.ActiveMethod(), m.CurrentEmail())
	}
	if dialer.lastPass != "zoho-secret" {
		t.Errorf("resume dialed with %q, want decrypted original password", dialer.lastPass)
	}
}

func TestLoginStoredWrongKey(t *testing.T) {
	_, st, cr := newTestManager(t)
	ctx := context.Background()

	enc, _ := cr.Encrypt("secret")
	if err := st.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "alice@gmail.com",
		AuthType:       model.AuthAppPassword,
		EncryptedToken: enc,
	}); err != nil {
		t.Fatal(err)
	}

	// A manager holding a different key cannot use the credential.
	otherKey, _ := crypto.GenerateKey()
	otherCrypto, _ := crypto.NewService(otherKey)
	m2 := NewManager(config.Default(), st, otherCrypto)
	m2.appPassword.dialIMAP = (&stubDialer{}).dial

	err := m2.LoginStored(ctx, "alice@gmail.com")
	if !provider.IsCredentialError(err) {
		t.Fatalf("err = %v, want CredentialError", err)
	}
	if provider.IsRetryable(err) {
		t.Error("undecryptable credential must not be retryable")
	}
}

func TestLoginStoredNoCredentials(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.LoginStored(context.Background(), "")
	if !provider.IsCredentialError(err) {
		t.Fatalf("err = %v, want CredentialError", err)
	}
}

func TestCapabilityGating(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	// No session at all.
	if _, err := m.IMAPConnection(ctx); err != provider.ErrNotAuthenticated {
		t.Errorf("no session IMAPConnection err = %v", err)
	}
	if _, err := m.CalendarService(ctx); err != provider.ErrNotAuthenticated {
		t.Errorf("no session CalendarService err = %v", err)
	}

	// App-password session: IMAP yes, Gmail/Calendar API no.
	m.appPassword.dialIMAP = (&stubDialer{}).dial
	if err := m.LoginAppPassword(ctx, "alice@gmail.com", "pw"); err != nil {
		t.Fatal(err)
	}
	svc, err := m.CalendarService(ctx)
	if svc != nil || err != nil {
		t.Errorf("app-password CalendarService = %v, %v; want nil, nil", svc, err)
	}
	gsvc, err := m.GmailService(ctx)
	if gsvc != nil || err != nil {
		t.Errorf("app-password GmailService = %v, %v; want nil, nil", gsvc, err)
	}
	if !m.GmailFolders() {
		t.Error("app-password session should use the Gmail folder namespace")
	}

	// Zoho uses the standard namespace.
	m.Logout()
	m.zoho.dialIMAP = (&stubDialer{}).dial
	if err := m.LoginZoho(ctx, "bob@zoho.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if m.GmailFolders() {
		t.Error("zoho session should not use the Gmail folder namespace")
	}
}

func TestLogoutAndClear(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	m.appPassword.dialIMAP = (&stubDialer{}).dial
	if err := m.LoginAppPassword(ctx, "alice@gmail.com", "pw"); err != nil {
		t.Fatal(err)
	}

	email, err := m.LogoutAndClear(ctx)
	if err != nil {
		t.Fatalf("LogoutAndClear: %v", err)
	}
	if email != "alice@gmail.com" {
		t.Errorf("cleared email = %q", email)
	}
	if m.IsAuthenticated() {
		t.Error("session still active after clear")
	}
	if _, err := st.CredentialByEmail(ctx, "alice@gmail.com"); err == nil {
		t.Error("credential survived LogoutAndClear")
	}
}

func TestOAuthLoginRequiresClientConfig(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.LoginOAuth(context.Background())
	if err == nil || !strings.Contains(err.Error(), "client_id") {
		t.Errorf("err = %v, want missing client config error", err)
	}
}

func TestOAuthLoginStoresEncryptedToken(t *testing.T) {
	m, st, cr := newTestManager(t)
	ctx := context.Background()

	m.oauth.google = config.Google{ClientID: "id", ClientSecret: "secret", CallbackPort: 8080}
	tok := &oauth2.Token{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	m.oauth.authorize = func(ctx context.Context) (*oauth2.Token, string, error) {
		return tok, "alice@gmail.com", nil
	}

	email, err := m.LoginOAuth(ctx)
	if err != nil {
		t.Fatalf("LoginOAuth: %v", err)
	}
	if email != "alice@gmail.com" || m.ActiveMethod() != model.AuthOAuth {
		t.Errorf("session = %q / %s", email, m.ActiveMethod())
	}

	cred, err := st.CredentialByEmail(ctx, "alice@gmail.com")
	if err != nil {
		t.Fatal(err)
	}
	if cred.AuthType != model.AuthOAuth {
		t.Errorf("auth type = %q", cred.AuthType)
	}
	if strings.Contains(cred.EncryptedToken, "refresh-token") {
		t.Error("token stored in plaintext")
	}
	raw, err := cr.Decrypt(cred.EncryptedToken)
	if err != nil || !strings.Contains(raw, "refresh-token") {
		t.Errorf("decrypted blob = %q, %v", raw, err)
	}
	if cred.TokenExpiry == nil {
		t.Error("token expiry not stored")
	}

	// OAuth sessions expose both API services.
	if svc, err := m.GmailService(ctx); svc == nil || err != nil {
		t.Errorf("GmailService = %v, %v", svc, err)
	}
	if svc, err := m.CalendarService(ctx); svc == nil || err != nil {
		t.Errorf("CalendarService = %v, %v", svc, err)
	}
	if conn, err := m.IMAPConnection(ctx); conn != nil || err != nil {
		t.Errorf("oauth IMAPConnection = %v, %v; want nil, nil", conn, err)
	}
}

func TestOAuthLoginStoredResumes(t *testing.T) {
	m, st, cr := newTestManager(t)
	ctx := context.Background()

	google := config.Google{ClientID: "id", ClientSecret: "secret", CallbackPort: 8080}
	m.oauth.google = google
	tok := &oauth2.Token{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	m.oauth.authorize = func(ctx context.Context) (*oauth2.Token, string, error) {
		return tok, "alice@gmail.com", nil
	}
	if _, err := m.LoginOAuth(ctx); err != nil {
		t.Fatal(err)
	}

	// A fresh process resumes from the stored blob without the
	// browser flow.
	m2 := NewManager(config.Default(), st, cr)
	m2.oauth.google = google
	m2.oauth.authorize = func(ctx context.Context) (*oauth2.Token, string, error) {
		t.Fatal("stored login must not run the browser flow")
		return nil, "", nil
	}
	if err := m2.LoginStored(ctx, "alice@gmail.com"); err != nil {
		t.Fatalf("LoginStored: %v", err)
	}
	if m2.CurrentEmail() != "alice@gmail.com" || m2.ActiveMethod() != model.AuthOAuth {
		t.Errorf("session = %s / %s", m2.CurrentEmail(), m2.ActiveMethod())
	}
}
