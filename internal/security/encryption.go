package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"custody-service/internal/domain"
)

// KeyVault encrypts and decrypts private keys with AES-256-GCM. A fresh
// random nonce is generated per encryption and prepended to the ciphertext;
// the whole blob is base64 encoded for storage. Stateless and safe for
// concurrent use.
type KeyVault struct {
	masterKey []byte
}

// NewKeyVault creates a vault from the process master secret. The secret may
// be raw or base64 encoded, and must resolve to 32 bytes for AES-256. It is
// never logged or persisted.
func NewKeyVault(masterKey string) (*KeyVault, error) {
	keyBytes := []byte(masterKey)
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil {
		keyBytes = decoded
	}

	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("invalid master key length: must be 32 bytes for AES-256, got %d", len(keyBytes))
	}

	return &KeyVault{masterKey: keyBytes}, nil
}

// Encrypt encrypts a plaintext key and returns the base64 blob.
func (v *KeyVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a blob produced by Encrypt. Any tampering, truncation or
// wrong-key decrypt fails with domain.ErrIntegrity; partial plaintext is
// never returned.
func (v *KeyVault) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", fmt.Errorf("ciphertext cannot be empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: not valid base64", domain.ErrIntegrity)
	}

	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(decoded) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext shorter than nonce", domain.ErrIntegrity)
	}

	nonce, ciphertext := decoded[:nonceSize], decoded[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", domain.ErrIntegrity)
	}

	return string(plaintext), nil
}

// GenerateMasterKey generates a random 32-byte master key, base64 encoded for
// storage in config/env.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
