package sharing

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrMissingKeys indicates the caller's key ring lacks the keys the
	// operation needs (the source's keys on create, the target's read and
	// write keys on accept).
	ErrMissingKeys = fmt.Errorf("%w: sharing: caller does not hold the required role keys", model.ErrForbidden)

	// ErrNoEncryptionKey indicates the target role has no public encryption
	// key to wrap the shared keys under.
	ErrNoEncryptionKey = fmt.Errorf("%w: sharing: target role has no public encryption key", model.ErrBadRequest)

	// ErrUnwrapFailed indicates the asymmetric unwrap of a pending share
	// failed (wrong or rotated key pair, corrupt blob).
	ErrUnwrapFailed = fmt.Errorf("%w: sharing: cannot unwrap shared keys", model.ErrDecryptionFailed)

	// ErrInvalidShare indicates malformed share input.
	ErrInvalidShare = fmt.Errorf("%w: sharing: invalid share", model.ErrBadRequest)

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("sharing: nil parameter")
)
