package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailbox-cli/mailbox/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// UpsertCredential inserts a credential or, when the address already
// has one, refreshes its token material in place. The existing row's
// identity and auth_type are preserved on conflict; switching methods
// requires deleting the credential first.
func (s *Store) UpsertCredential(ctx context.Context, cred *model.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_email, auth_type, encrypted_token, access_token, token_expiry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_email) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			access_token    = excluded.access_token,
			token_expiry    = excluded.token_expiry,
			updated_at      = CURRENT_TIMESTAMP`,
		cred.UserEmail, cred.AuthType, cred.EncryptedToken, cred.AccessToken, cred.TokenExpiry)
	if err != nil {
		return fmt.Errorf("upserting credential for %s: %w", cred.UserEmail, err)
	}
	return nil
}

// UpdateTokens refreshes only the token columns of an existing
// credential, used after an OAuth access token refresh.
func (s *Store) UpdateTokens(ctx context.Context, userEmail, encryptedToken, accessToken string, expiry *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET encrypted_token = ?, access_token = ?, token_expiry = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_email = ?`,
		encryptedToken, accessToken, expiry, userEmail)
	if err != nil {
		return fmt.Errorf("updating tokens for %s: %w", userEmail, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("updating tokens for %s: %w", userEmail, ErrNotFound)
	}
	return nil
}

// CredentialByEmail returns the credential for an address, or
// ErrNotFound.
func (s *Store) CredentialByEmail(ctx context.Context, userEmail string) (*model.Credential, error) {
	var cred model.Credential
	err := s.db.GetContext(ctx, &cred,
		"SELECT * FROM credentials WHERE user_email = ?", userEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential for %s: %w", userEmail, err)
	}
	return &cred, nil
}

// MostRecentCredential returns the most recently used credential,
// which is what a bare "login" without an address resumes.
func (s *Store) MostRecentCredential(ctx context.Context) (*model.Credential, error) {
	var cred model.Credential
	err := s.db.GetContext(ctx, &cred,
		"SELECT * FROM credentials ORDER BY updated_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading most recent credential: %w", err)
	}
	return &cred, nil
}

// ListCredentials returns every stored account, most recently used
// first.
func (s *Store) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	var creds []model.Credential
	err := s.db.SelectContext(ctx, &creds,
		"SELECT * FROM credentials ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes the credential for an address. Deleting a
// missing credential is not an error.
func (s *Store) DeleteCredential(ctx context.Context, userEmail string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE user_email = ?", userEmail); err != nil {
		return fmt.Errorf("deleting credential for %s: %w", userEmail, err)
	}
	return nil
}
