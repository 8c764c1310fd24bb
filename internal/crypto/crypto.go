// Package crypto encrypts credential material before it is written to
// the local database. AES-256-GCM with a random nonce per message;
// the nonce is prepended to the ciphertext and the whole blob is
// base64-encoded for storage in text columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the salt length used for passphrase derivation.
	SaltSize = 16

	// pbkdf2Iterations follows the OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	pbkdf2Iterations = 480_000
)

var (
	// ErrInvalidKey is returned when a key is not KeySize bytes.
	ErrInvalidKey = errors.New("crypto: key must be 32 bytes")
	// ErrDecrypt is returned when a ciphertext cannot be decrypted,
	// whether from corruption, tampering, or the wrong key.
	ErrDecrypt = errors.New("crypto: unable to decrypt")
)

// Service encrypts and decrypts short secrets with a fixed key.
type Service struct {
	aead cipher.AEAD
}

// NewService creates a Service from a 32-byte key.
func NewService(key []byte) (*Service, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64 blob. An empty string
// round-trips to an empty string so optional columns stay NULL-like.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure, including undecodable input
// or an authentication mismatch, is reported as ErrDecrypt.
func (s *Service) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// NewSalt returns a fresh random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches a passphrase into an AES-256 key with
// PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, KeySize, sha256.New)
}

// EncodeKey renders a key in the textual form accepted by config
// files and DecodeKey.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeKey parses a key produced by EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}
