package provider

import (
	"errors"
	"fmt"

	"github.com/mailbox-cli/mailbox/internal/model"
)

// ErrNotAuthenticated is returned when no session is active.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthError is a definitive authorization failure: bad password,
// revoked token, failed refresh. Retrying without user action cannot
// succeed, so the retry layer gives up immediately.
type AuthError struct {
	Method  model.AuthMethod
	Message string
}

func (e *AuthError) Error() string {
	if e.Method == model.AuthNone {
		return "authentication failed: " + e.Message
	}
	return fmt.Sprintf("authentication failed (%s): %s", e.Method, e.Message)
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// CredentialError means stored credentials are unusable: missing,
// undecryptable, or the wrong shape. The fix is logging in again, not
// retrying.
type CredentialError struct {
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error: %s: %v", e.Message, e.Err)
	}
	return "credential error: " + e.Message
}

func (e *CredentialError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is (or wraps) a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsRetryable reports whether a failed operation is worth retrying
// with a rebuilt connection. Authorization and credential failures
// are not; everything else (network, protocol, server hiccups) is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return false
	}
	return !IsAuthError(err) && !IsCredentialError(err)
}
