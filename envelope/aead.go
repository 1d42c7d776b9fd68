// Package envelope implements the envelope-encryption primitives of the
// vault: AES-256-GCM sealing with associated data, HKDF role-key
// derivation, field and data-key wrapping, asymmetric key transfer and
// ECDSA ledger signatures.
//
// Every symmetric ciphertext has the layout
//
//	nonce(12B) || AES-256-GCM(plaintext, key, aad) || tag(16B)
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// KeyLen is the length of every symmetric key in bytes (AES-256).
	KeyLen = 32

	// NonceLen is the length of the AES-GCM nonce in bytes.
	NonceLen = 12

	// GCMTagLen is the length of the GCM authentication tag in bytes.
	GCMTagLen = 16

	// MinCiphertextLen is the minimum valid ciphertext length (nonce + tag).
	MinCiphertextLen = NonceLen + GCMTagLen
)

// GenerateKey returns a fresh random 32-byte symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("envelope: random key generation failed: %w", err)
	}
	return key, nil
}

// Encrypt seals data under key. The optional associated data is
// authenticated but not encrypted; the same bytes must be supplied to
// Decrypt.
func Encrypt(key, data, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: random nonce generation failed: %w", err)
	}

	// result = nonce || ciphertext || tag
	return gcm.Seal(nonce, nonce, data, aad), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It returns
// ErrAuthenticationFailed when the key, the associated data or the
// ciphertext do not match.
func Decrypt(key, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < MinCiphertextLen {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ciphertext[:NonceLen], ciphertext[NonceLen:], aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	// Normalize nil to empty slice for consistency.
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKey, KeyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: AES cipher creation failed: %v", ErrInvalidKey, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: GCM creation failed: %v", ErrInvalidKey, err)
	}
	return gcm, nil
}
