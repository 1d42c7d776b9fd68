package recovery

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrMissingKeys indicates the caller's key ring does not hold the role
	// the operation acts as.
	ErrMissingKeys = fmt.Errorf("%w: recovery: caller does not hold the required role keys", model.ErrForbidden)

	// ErrNoEncryptionKey indicates the share holder has no public
	// encryption key to wrap the fragment under.
	ErrNoEncryptionKey = fmt.Errorf("%w: recovery: share holder has no public encryption key", model.ErrBadRequest)

	// ErrEmptyFragment indicates an empty share fragment or approval blob.
	ErrEmptyFragment = fmt.Errorf("%w: recovery: empty fragment", model.ErrBadRequest)

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("recovery: nil parameter")
)
