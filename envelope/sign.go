package envelope

import (
	"crypto/sha256"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// AlgECDSASecp256k1 signs SHA-256(message) with secp256k1 ECDSA and stores
// the DER-encoded signature. Public key material is the 33-byte compressed
// point.
const AlgECDSASecp256k1 = "ecdsa-secp256k1-sha256"

// GenerateSigningKeyPair creates a secp256k1 signing key pair.
func GenerateSigningKeyPair() (*KeyPair, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: key generation: %v", ErrCryptographic, err)
	}
	return &KeyPair{Alg: AlgECDSASecp256k1, PublicKey: priv.PubKey().Compressed(), PrivateKey: priv.Serialize()}, nil
}

// Sign signs message with a serialized private key.
func Sign(privateKey []byte, alg string, message []byte) ([]byte, error) {
	if alg != AlgECDSASecp256k1 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if len(privateKey) != KeyLen {
		return nil, fmt.Errorf("%w: signing key must be %d bytes", ErrInvalidKey, KeyLen)
	}
	priv, _ := ec.PrivateKeyFromBytes(privateKey)
	if priv == nil {
		return nil, ErrInvalidKey
	}

	digest := sha256.Sum256(message)
	sig, err := priv.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrCryptographic, err)
	}
	return sig.Serialize(), nil
}

// Verify reports whether signature is a valid signature of message by the
// holder of publicKey.
func Verify(publicKey []byte, alg string, message, signature []byte) (bool, error) {
	if alg != AlgECDSASecp256k1 {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	pub, err := ec.PublicKeyFromBytes(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sig, err := ec.ParseDERSignature(signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub), nil
}
