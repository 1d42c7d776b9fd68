// Package account manages the master secret of a user account.
//
// The master secret is the single root from which a user reaches every one
// of their roles: it wraps the master role key and every Owner membership.
// At rest it exists only sealed under the user's password:
//
//	salt(16B) || nonce(12B) || AES-GCM(argon2id(password, salt), nonce, secret||checksum)
//
// A BIP39 mnemonic can regenerate the same secret for offline backup.
package account

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"

	"github.com/bitfsorg/libpdv-go/envelope"
)

const (
	// Mnemonic entropy sizes.
	Mnemonic12Words = 128 // 12-word mnemonic
	Mnemonic24Words = 256 // 24-word mnemonic

	// Argon2id parameters for sealing.
	Argon2Time        = 3
	Argon2Memory      = 64 * 1024 // 64 MB
	Argon2Parallelism = 4
	Argon2KeyLen      = 32

	// Sealed format sizes.
	SaltLen     = 16
	NonceLen    = 12
	ChecksumLen = 4

	// SecretLen is the length of the master secret.
	SecretLen = 32

	// HKDFMasterInfo is the HKDF info string for the mnemonic-derived secret.
	HKDFMasterInfo = "pdv-master-secret"
)

// GenerateMnemonic creates a new BIP39 mnemonic with the specified entropy bits.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}

	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("account: failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("account: failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic string is valid BIP39.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// MasterSecretFromMnemonic derives the 32-byte master secret from a mnemonic:
//
//	secret = HKDF-SHA256(BIP39-seed(mnemonic, ""), nil, "pdv-master-secret")
func MasterSecretFromMnemonic(mnemonic string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("account: failed to derive seed: %w", err)
	}
	return envelope.DeriveKey(seed, nil, HKDFMasterInfo)
}

// SealMasterSecret encrypts the master secret under password.
func SealMasterSecret(secret []byte, password string) ([]byte, error) {
	if len(secret) != SecretLen {
		return nil, ErrInvalidSecret
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("account: failed to generate salt: %w", err)
	}

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(secret)
	plaintext := make([]byte, 0, len(secret)+ChecksumLen)
	plaintext = append(plaintext, secret...)
	plaintext = append(plaintext, sum[:ChecksumLen]...)

	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("account: failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, 0, SaltLen+NonceLen+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	return append(result, ciphertext...), nil
}

// OpenMasterSecret is the inverse of SealMasterSecret.
func OpenMasterSecret(sealed []byte, password string) ([]byte, error) {
	if len(sealed) < SaltLen+NonceLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}

	salt := sealed[:SaltLen]
	nonce := sealed[SaltLen : SaltLen+NonceLen]
	ciphertext := sealed[SaltLen+NonceLen:]

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil || len(plaintext) != SecretLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}

	secret := plaintext[:SecretLen]
	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(sum[:ChecksumLen], plaintext[SecretLen:]) != 1 {
		return nil, ErrChecksumMismatch
	}
	return secret, nil
}

func passwordGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("account: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("account: GCM creation failed: %w", err)
	}
	return gcm, nil
}
