package envelope

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/codec"
)

// RoleSecrets is the private half of a role: its signing and encryption
// keys. It is stored only sealed under the role's write key.
type RoleSecrets struct {
	SigningKey    []byte `cbor:"1,keyasint"`
	SigningAlg    string `cbor:"2,keyasint"`
	EncryptionKey []byte `cbor:"3,keyasint"`
	EncryptionAlg string `cbor:"4,keyasint"`
}

// NewRoleSecrets generates fresh signing and encryption key pairs for a
// role. It returns the secrets together with the public halves.
func NewRoleSecrets(encryptionAlg string) (*RoleSecrets, *KeyPair, *KeyPair, error) {
	signing, err := GenerateSigningKeyPair()
	if err != nil {
		return nil, nil, nil, err
	}
	encryption, err := GenerateEncryptionKeyPair(encryptionAlg)
	if err != nil {
		return nil, nil, nil, err
	}

	secrets := &RoleSecrets{
		SigningKey:    signing.PrivateKey,
		SigningAlg:    signing.Alg,
		EncryptionKey: encryption.PrivateKey,
		EncryptionAlg: encryption.Alg,
	}
	return secrets, signing, encryption, nil
}

// SealRoleSecrets encodes and encrypts secrets under the role's write key,
// bound to the role id.
func SealRoleSecrets(writeKey []byte, roleID uuid.UUID, secrets *RoleSecrets) ([]byte, error) {
	if secrets == nil {
		return nil, fmt.Errorf("%w: role secrets are nil", ErrInvalidKey)
	}
	raw, err := codec.Marshal(secrets)
	if err != nil {
		return nil, err
	}
	return Encrypt(writeKey, raw, roleBlobAAD(roleID))
}

// OpenRoleSecrets is the inverse of SealRoleSecrets.
func OpenRoleSecrets(writeKey, blob []byte, roleID uuid.UUID) (*RoleSecrets, error) {
	raw, err := Decrypt(writeKey, blob, roleBlobAAD(roleID))
	if err != nil {
		return nil, err
	}
	var secrets RoleSecrets
	if err := codec.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return &secrets, nil
}

func roleBlobAAD(roleID uuid.UUID) []byte {
	aad := make([]byte, 0, len("pdv-role-blob|")+16)
	aad = append(aad, "pdv-role-blob|"...)
	return append(aad, roleID[:]...)
}
