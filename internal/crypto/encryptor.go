// Package crypto provides AES-256-GCM encryption for sensitive data such as
// credential secrets and unit shared secrets before they reach storage.
//
// Each encryption operation uses a unique random nonce, so encrypting the
// same plaintext twice produces different ciphertexts. GCM authenticates the
// ciphertext, so tampered values fail to decrypt.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"automation-engine/internal/common/errors"
)

// Static salt keeps key derivation deterministic across restarts.
var keyDerivationSalt = []byte("automation-engine-secrets")

// SecretEncryptor handles encryption and decryption of sensitive secrets
// using AES-256-GCM. It is safe for concurrent use by multiple goroutines.
type SecretEncryptor struct {
	key []byte // 32-byte AES-256 encryption key
}

// NewSecretEncryptor creates a new SecretEncryptor from a passphrase.
//
// The passphrase is run through PBKDF2 so any non-empty input yields a
// 32-byte AES-256 key. Store the passphrase in the environment
// (CONFIG_ENCRYPTION_KEY), never in source.
func NewSecretEncryptor(key string) (*SecretEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	derivedKey := pbkdf2.Key([]byte(key), keyDerivationSalt, 10000, 32, sha256.New)

	return &SecretEncryptor{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext string and returns the result as a
// base64-encoded string suitable for storage. The random nonce is prepended
// to the ciphertext before encoding. Empty input passes through unencrypted.
func (e *SecretEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64-encoded ciphertext produced by Encrypt and
// returns the original plaintext. Decryption fails on a wrong key or a
// tampered ciphertext. Empty input passes through undecrypted.
func (e *SecretEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}
