package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody-service/internal/domain"
)

func newTestVault(t *testing.T) *KeyVault {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	vault, err := NewKeyVault(key)
	require.NoError(t, err)
	return vault
}

func TestNewKeyVault(t *testing.T) {
	t.Run("accepts base64 encoded 32-byte key", func(t *testing.T) {
		key, err := GenerateMasterKey()
		require.NoError(t, err)

		_, err = NewKeyVault(key)
		assert.NoError(t, err)
	})

	t.Run("accepts raw 32-byte key", func(t *testing.T) {
		_, err := NewKeyVault("0123456789abcdef0123456789abcdef")
		assert.NoError(t, err)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := NewKeyVault("too-short")
		assert.Error(t, err)
	})
}

func TestKeyVaultRoundTrip(t *testing.T) {
	vault := newTestVault(t)

	plaintext := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	blob, err := vault.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, blob)

	decrypted, err := vault.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestKeyVaultNoncePerEncryption(t *testing.T) {
	vault := newTestVault(t)

	a, err := vault.Encrypt("same-key-material")
	require.NoError(t, err)
	b, err := vault.Encrypt("same-key-material")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestKeyVaultDecryptFailures(t *testing.T) {
	vault := newTestVault(t)

	blob, err := vault.Encrypt("secret")
	require.NoError(t, err)

	t.Run("wrong master key", func(t *testing.T) {
		other := newTestVault(t)
		_, err := other.Decrypt(blob)
		assert.ErrorIs(t, err, domain.ErrIntegrity)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(blob)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		tampered := base64.StdEncoding.EncodeToString(raw)

		_, err = vault.Decrypt(tampered)
		assert.ErrorIs(t, err, domain.ErrIntegrity)
	})

	t.Run("truncated below nonce size", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString([]byte("short"))
		_, err := vault.Decrypt(short)
		assert.ErrorIs(t, err, domain.ErrIntegrity)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := vault.Decrypt("%%% not base64 %%%")
		assert.ErrorIs(t, err, domain.ErrIntegrity)
	})

	t.Run("empty blob", func(t *testing.T) {
		_, err := vault.Decrypt("")
		assert.Error(t, err)
	})
}

func TestGenerateMasterKey(t *testing.T) {
	a, err := GenerateMasterKey()
	require.NoError(t, err)
	b, err := GenerateMasterKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	decoded, err := base64.StdEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}
