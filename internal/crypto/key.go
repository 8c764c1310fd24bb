package crypto

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "mailbox"
	keyringUser    = "encryption-key"
)

// LoadOrCreateKey resolves the encryption key, in order of
// preference: the configured value, the OS keyring, or a freshly
// generated key which is then saved to the keyring. The second result
// is true when a new key was generated, so callers can surface the
// backup value to the user.
func LoadOrCreateKey(configured string) ([]byte, bool, error) {
	if configured != "" {
		key, err := DecodeKey(configured)
		if err != nil {
			return nil, false, fmt.Errorf("configured encryption key: %w", err)
		}
		return key, false, nil
	}

	stored, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		key, err := DecodeKey(stored)
		if err != nil {
			return nil, false, fmt.Errorf("keyring encryption key: %w", err)
		}
		return key, false, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, false, fmt.Errorf("reading keyring: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := keyring.Set(keyringService, keyringUser, EncodeKey(key)); err != nil {
		return nil, false, fmt.Errorf("saving key to keyring: %w", err)
	}
	return key, true, nil
}

// DeleteStoredKey removes the key from the OS keyring. Missing keys
// are not an error.
func DeleteStoredKey() error {
	err := keyring.Delete(keyringService, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting keyring entry: %w", err)
	}
	return nil
}
