// Package crypto implements the credential vault: symmetric authenticated
// encryption of per-connection secrets at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const keySize = 32

// ErrDecryptFailed indicates a ciphertext blob could not be decrypted: wrong
// key, truncation, or tampering. Callers must treat the credential as
// unusable, never as a fatal condition.
var ErrDecryptFailed = errors.New("credential decryption failed")

// Vault encrypts and decrypts credential blobs with AES-256-GCM.
// Blob layout is nonce, ciphertext, auth tag, base64-encoded for storage.
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a vault from the configured key. The key must be either
// 64 hex characters or a base64-encoded 32-byte value; anything else is a
// startup error.
func NewVault(key string) (*Vault, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("encryption key is not set")
	}
	if len(key) == 2*keySize {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != keySize {
		return nil, errors.New("encryption key must be 64 hex chars or base64-encoded 32 bytes")
	}
	return raw, nil
}

// Encrypt seals a plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryptFailed)
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize+v.aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short", ErrDecryptFailed)
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}

// EncryptJSON seals a JSON-serializable value.
func (v *Vault) EncryptJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return v.Encrypt(string(raw))
}

// DecryptJSON opens a blob produced by EncryptJSON into out.
func (v *Vault) DecryptJSON(encoded string, out any) error {
	plaintext, err := v.Decrypt(encoded)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		return fmt.Errorf("%w: malformed credential payload", ErrDecryptFailed)
	}
	return nil
}
