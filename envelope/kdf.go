package envelope

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// HKDFReadInfo is the HKDF info string for a role's read key.
	HKDFReadInfo = "pdv-role-read-key"

	// HKDFWriteInfo is the HKDF info string for a role's write key.
	HKDFWriteInfo = "pdv-role-write-key"

	// HKDFTransferInfo is the HKDF info string for the ECIES wrap key.
	HKDFTransferInfo = "pdv-key-transfer"
)

// DeriveRoleKeys derives the read and write keys of a role from its
// 32-byte role key.
//
// The HKDF parameters are:
//   - IKM  = roleKey
//   - Salt = empty
//   - Info = "pdv-role-read-key" or "pdv-role-write-key"
//   - Len  = 32 (AES-256)
//
// The derivation is deterministic so the holder of a role key never needs
// the derived keys stored.
func DeriveRoleKeys(roleKey []byte) (readKey, writeKey []byte, err error) {
	if len(roleKey) != KeyLen {
		return nil, nil, fmt.Errorf("%w: role key must be %d bytes, got %d", ErrInvalidKey, KeyLen, len(roleKey))
	}

	readKey, err = DeriveKey(roleKey, nil, HKDFReadInfo)
	if err != nil {
		return nil, nil, err
	}
	writeKey, err = DeriveKey(roleKey, nil, HKDFWriteInfo)
	if err != nil {
		return nil, nil, err
	}
	return readKey, writeKey, nil
}

// DeriveKey derives a 32-byte key using HKDF-SHA256.
func DeriveKey(ikm, salt []byte, info string) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: input key material is empty", ErrHKDFFailure)
	}

	hkdfReader := hkdf.New(sha256.New, ikm, salt, []byte(info))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHKDFFailure, err)
	}
	return key, nil
}
