package account

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = fmt.Errorf("%w: account: invalid BIP39 mnemonic", model.ErrBadRequest)

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = fmt.Errorf("%w: account: entropy bits must be 128 or 256", model.ErrBadRequest)

	// ErrInvalidSecret indicates the master secret has the wrong length.
	ErrInvalidSecret = errors.New("account: master secret must be 32 bytes")

	// ErrDecryptionFailed indicates wrong password or corrupted sealed data.
	ErrDecryptionFailed = errors.New("account: master secret decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates the checksum verification failed after decryption.
	ErrChecksumMismatch = errors.New("account: master secret checksum mismatch")
)
