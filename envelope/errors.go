package envelope

import "errors"

var (
	// ErrInvalidKey indicates a symmetric key of the wrong length or an
	// unparseable asymmetric key.
	ErrInvalidKey = errors.New("envelope: invalid key")

	// ErrInvalidCiphertext indicates the ciphertext is too short or malformed.
	// Minimum length: 12 (nonce) + 16 (GCM tag) = 28 bytes.
	ErrInvalidCiphertext = errors.New("envelope: invalid ciphertext")

	// ErrAuthenticationFailed indicates AES-GCM authentication failed: the
	// ciphertext was tampered with, the key is wrong, or the associated data
	// does not match.
	ErrAuthenticationFailed = errors.New("envelope: authentication failed")

	// ErrCryptographic indicates an asymmetric wrap or unwrap failed.
	ErrCryptographic = errors.New("envelope: cryptographic error")

	// ErrUnsupportedAlgorithm indicates an unknown algorithm tag.
	ErrUnsupportedAlgorithm = errors.New("envelope: unsupported algorithm")

	// ErrHKDFFailure indicates HKDF key derivation failed.
	ErrHKDFFailure = errors.New("envelope: HKDF key derivation failed")

	// ErrInvalidSignature indicates a signature could not be parsed.
	ErrInvalidSignature = errors.New("envelope: invalid signature")
)
