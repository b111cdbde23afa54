// Package secret provides symmetric encryption for tracker tokens at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const minSecretLen = 32

// ErrMisconfigured is returned by NewTokenCodec when the configured secret
// is absent or too short. Callers must treat it as fatal at startup.
var ErrMisconfigured = errors.New("credential secret missing or too short")

// TokenCodec encrypts and decrypts token strings with AES-256-GCM. The
// 32-byte key is derived from the configured master secret via HKDF-SHA256,
// so the secret itself is never used as key material directly. Ciphertext is
// base64(nonce || sealed). Plaintext tokens are never persisted or logged.
type TokenCodec struct {
	aead cipher.AEAD
}

// NewTokenCodec derives the encryption key and constructs the codec.
// It fails when the secret is shorter than 32 characters; there is no
// fallback to plaintext storage.
func NewTokenCodec(masterSecret string) (*TokenCodec, error) {
	if len(masterSecret) < minSecretLen {
		return nil, ErrMisconfigured
	}

	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("liaison/tracker-token"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &TokenCodec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *TokenCodec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt reverses Encrypt. It fails on truncated input, a wrong key, or
// tampered ciphertext.
func (c *TokenCodec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short to contain nonce")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}

	return string(plaintext), nil
}
