package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecretEncryptor(t *testing.T) {
	enc, err := NewSecretEncryptor("a-perfectly-reasonable-passphrase")
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.Len(t, enc.key, 32)
}

func TestNewSecretEncryptor_EmptyKey(t *testing.T) {
	enc, err := NewSecretEncryptor("")
	assert.Error(t, err)
	assert.Nil(t, enc)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewSecretEncryptor("a-perfectly-reasonable-passphrase")
	require.NoError(t, err)

	plaintext := "oauth-access-token-value"
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_UniqueCiphertexts(t *testing.T) {
	enc, err := NewSecretEncryptor("a-perfectly-reasonable-passphrase")
	require.NoError(t, err)

	first, err := enc.Encrypt("same-input")
	require.NoError(t, err)
	second, err := enc.Encrypt("same-input")
	require.NoError(t, err)

	// Random nonce means identical plaintexts never share ciphertext.
	assert.NotEqual(t, first, second)
}

func TestEncryptDecrypt_EmptyPassthrough(t *testing.T) {
	enc, err := NewSecretEncryptor("a-perfectly-reasonable-passphrase")
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1, err := NewSecretEncryptor("first-passphrase-for-testing")
	require.NoError(t, err)
	enc2, err := NewSecretEncryptor("second-passphrase-for-testing")
	require.NoError(t, err)

	ciphertext, err := enc1.Encrypt("secret-value")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecrypt_Tampered(t *testing.T) {
	enc, err := NewSecretEncryptor("a-perfectly-reasonable-passphrase")
	require.NoError(t, err)

	_, err = enc.Decrypt("not-base64!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("dG9vc2hvcnQ=")
	assert.Error(t, err)
}
