package envelope

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Asymmetric key-transfer algorithms. The tag is stored next to every
// public encryption key and every pending share.
const (
	// AlgSecp256k1ECIES wraps with an ephemeral secp256k1 ECDH exchange:
	//
	//	ephemeral_pub(33B) || AES-256-GCM(data, HKDF(ECDH.x, ephemeral_pub))
	AlgSecp256k1ECIES = "secp256k1-ecies"

	// AlgAgeX25519 wraps with an age X25519 recipient. Public key material is
	// the "age1..." recipient string, private material the identity string.
	AlgAgeX25519 = "age-x25519"
)

const compressedPubKeyLen = 33

// KeyPair is an asymmetric key pair in its serialized form.
type KeyPair struct {
	Alg        string
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateEncryptionKeyPair creates a key pair for the given key-transfer
// algorithm.
func GenerateEncryptionKeyPair(alg string) (*KeyPair, error) {
	switch alg {
	case AlgSecp256k1ECIES:
		priv, err := ec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("%w: key generation: %v", ErrCryptographic, err)
		}
		return &KeyPair{Alg: alg, PublicKey: priv.PubKey().Compressed(), PrivateKey: priv.Serialize()}, nil
	case AlgAgeX25519:
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("%w: key generation: %v", ErrCryptographic, err)
		}
		return &KeyPair{Alg: alg, PublicKey: []byte(identity.Recipient().String()), PrivateKey: []byte(identity.String())}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// EncryptWithPublicKey wraps data for the holder of the private key matching
// publicKey. Failures are reported as ErrCryptographic or
// ErrUnsupportedAlgorithm.
func EncryptWithPublicKey(publicKey []byte, alg string, data []byte) ([]byte, error) {
	switch alg {
	case AlgSecp256k1ECIES:
		return eciesEncrypt(publicKey, data)
	case AlgAgeX25519:
		return ageEncrypt(publicKey, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// DecryptWithPrivateKey is the inverse of EncryptWithPublicKey.
func DecryptWithPrivateKey(privateKey []byte, alg string, data []byte) ([]byte, error) {
	switch alg {
	case AlgSecp256k1ECIES:
		return eciesDecrypt(privateKey, data)
	case AlgAgeX25519:
		return ageDecrypt(privateKey, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

func eciesEncrypt(publicKey, data []byte) ([]byte, error) {
	recipient, err := ec.PublicKeyFromBytes(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrCryptographic, err)
	}

	ephemeral, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrCryptographic, err)
	}
	ephemeralPub := ephemeral.PubKey().Compressed()

	wrapKey, err := eciesWrapKey(ephemeral, recipient, ephemeralPub)
	if err != nil {
		return nil, err
	}

	sealed, err := Encrypt(wrapKey, data, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptographic, err)
	}

	out := make([]byte, 0, len(ephemeralPub)+len(sealed))
	out = append(out, ephemeralPub...)
	return append(out, sealed...), nil
}

func eciesDecrypt(privateKey, data []byte) ([]byte, error) {
	if len(data) < compressedPubKeyLen+MinCiphertextLen {
		return nil, fmt.Errorf("%w: %v", ErrCryptographic, ErrInvalidCiphertext)
	}
	if len(privateKey) != KeyLen {
		return nil, fmt.Errorf("%w: private key must be %d bytes", ErrCryptographic, KeyLen)
	}
	priv, _ := ec.PrivateKeyFromBytes(privateKey)
	if priv == nil {
		return nil, fmt.Errorf("%w: parse private key", ErrCryptographic)
	}

	ephemeralPub := data[:compressedPubKeyLen]
	sender, err := ec.PublicKeyFromBytes(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: parse ephemeral key: %v", ErrCryptographic, err)
	}

	wrapKey, err := eciesWrapKey(priv, sender, ephemeralPub)
	if err != nil {
		return nil, err
	}

	plaintext, err := Decrypt(wrapKey, data[compressedPubKeyLen:], ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptographic, err)
	}
	return plaintext, nil
}

// eciesWrapKey derives the AES key from ECDH(priv, pub).x, salted with the
// ephemeral public key.
func eciesWrapKey(priv *ec.PrivateKey, pub *ec.PublicKey, ephemeralPub []byte) ([]byte, error) {
	sharedX, err := ECDH(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptographic, err)
	}
	return DeriveKey(sharedX, ephemeralPub, HKDFTransferInfo)
}

// ECDH computes the shared secret between a private key scalar and a public
// key point on the secp256k1 curve.
//
// Returns the x-coordinate of the shared point (32 bytes, zero-padded).
func ECDH(privateKey *ec.PrivateKey, publicKey *ec.PublicKey) ([]byte, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrInvalidKey
	}

	sharedPoint, err := privateKey.DeriveSharedSecret(publicKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: ECDH failed: %w", err)
	}

	xBytes := sharedPoint.X.Bytes()
	if len(xBytes) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(xBytes):], xBytes)
		return padded, nil
	}
	return xBytes[:32], nil
}

func ageEncrypt(publicKey, data []byte) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(string(publicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parse recipient: %v", ErrCryptographic, err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: create encryptor: %v", ErrCryptographic, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrCryptographic, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize: %v", ErrCryptographic, err)
	}
	return buf.Bytes(), nil
}

func ageDecrypt(privateKey, data []byte) ([]byte, error) {
	identity, err := age.ParseX25519Identity(string(privateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parse identity: %v", ErrCryptographic, err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptographic, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrCryptographic, err)
	}
	return plaintext, nil
}
