// Package security provides envelope encryption for per-user provider
// credentials at rest. Stored secrets (API keys, OAuth tokens,
// service-account JSON) must be decryptable again, so this is symmetric
// AEAD rather than a signature scheme.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// Box derives a per-purpose AES-256-GCM key from a configured secret via
// HKDF-SHA256, the way a single root secret in config fans out into
// independent keys for independent concerns without storing more than one
// value in the TOML file.
type Box struct {
	key [32]byte
}

// NewBox derives encryption key material from secret. An empty secret is
// rejected — the caller must configure [security] credential_secret
// before storing any provider credential.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, fmt.Errorf("security: credential_secret must be configured")
	}
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte("inferencegate/provider-credential"))
	var key [32]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Box{key: key}, nil
}

// Seal encrypts a provider credential payload, returning ciphertext and
// the nonce GCM was sealed with.
func (b *Box) Seal(payload map[string]any) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal credential: %w", err)
	}
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts a sealed credential payload.
func (b *Box) Open(ciphertext, nonce []byte) (map[string]any, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: credential decryption failed", domain.ErrCredentialMissing)
	}
	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return payload, nil
}
