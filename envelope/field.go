package envelope

import (
	"strings"

	"github.com/google/uuid"
)

// fieldAAD binds a field ciphertext to its role and (normalized) field type.
func fieldAAD(roleID uuid.UUID, fieldType string) []byte {
	ft := strings.ToLower(strings.TrimSpace(fieldType))
	aad := make([]byte, 0, len("pdv-field|")+36+1+len(ft))
	aad = append(aad, "pdv-field|"...)
	aad = append(aad, roleID.String()...)
	aad = append(aad, '|')
	aad = append(aad, ft...)
	return aad
}

// EncryptFieldValue encrypts a field value under a data key. The ciphertext
// only opens for the same (roleID, fieldType) pair.
func EncryptFieldValue(dataKey []byte, plaintext string, roleID uuid.UUID, fieldType string) ([]byte, error) {
	return Encrypt(dataKey, []byte(plaintext), fieldAAD(roleID, fieldType))
}

// TryDecryptFieldValue is the inverse of EncryptFieldValue. It reports
// false, rather than an error, when the ciphertext does not authenticate
// under this key and binding: an unreadable field is an expected outcome.
func TryDecryptFieldValue(dataKey, ciphertext []byte, roleID uuid.UUID, fieldType string) (string, bool) {
	plaintext, err := Decrypt(dataKey, ciphertext, fieldAAD(roleID, fieldType))
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// EncryptDataKey wraps a 32-byte data key under a role's read key, bound to
// the data key's id.
func EncryptDataKey(wrappingKey, dataKey []byte, dataKeyID uuid.UUID) ([]byte, error) {
	if len(dataKey) != KeyLen {
		return nil, ErrInvalidKey
	}
	return Encrypt(wrappingKey, dataKey, dataKeyID[:])
}

// DecryptDataKey unwraps a data key produced by EncryptDataKey.
func DecryptDataKey(wrappingKey, ciphertext []byte, dataKeyID uuid.UUID) ([]byte, error) {
	dataKey, err := Decrypt(wrappingKey, ciphertext, dataKeyID[:])
	if err != nil {
		return nil, err
	}
	if len(dataKey) != KeyLen {
		return nil, ErrInvalidKey
	}
	return dataKey, nil
}

// WrapKeyCopy wraps a role's key under another role's key, bound to the id
// of the role whose key is being wrapped. Edge copies and accepted shares
// use it.
func WrapKeyCopy(wrappingKey, key []byte, keyOwner uuid.UUID) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, ErrInvalidKey
	}
	return Encrypt(wrappingKey, key, keyOwner[:])
}

// UnwrapKeyCopy is the inverse of WrapKeyCopy.
func UnwrapKeyCopy(wrappingKey, ciphertext []byte, keyOwner uuid.UUID) ([]byte, error) {
	key, err := Decrypt(wrappingKey, ciphertext, keyOwner[:])
	if err != nil {
		return nil, err
	}
	if len(key) != KeyLen {
		return nil, ErrInvalidKey
	}
	return key, nil
}
