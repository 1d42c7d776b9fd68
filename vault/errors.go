package vault

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrMissingKeys indicates the caller's key ring lacks the keys the
	// operation needs.
	ErrMissingKeys = fmt.Errorf("%w: vault: caller does not hold the required role keys", model.ErrForbidden)

	// ErrReservedField indicates an attempt to delete a field type the
	// vault manages itself.
	ErrReservedField = fmt.Errorf("%w: vault: reserved field type", model.ErrBadRequest)

	// ErrEmptyFieldType indicates a blank field type.
	ErrEmptyFieldType = fmt.Errorf("%w: vault: field type is empty", model.ErrBadRequest)

	// ErrFieldUnreadable indicates a field whose value does not decrypt
	// with the caller's keys.
	ErrFieldUnreadable = fmt.Errorf("%w: vault: field is unreadable", model.ErrDecryptionFailed)

	// ErrMasterRole indicates an attempt to delete an account's master role.
	ErrMasterRole = fmt.Errorf("%w: vault: the master role cannot be deleted", model.ErrBadRequest)

	// ErrInvalidName indicates a blank account name or role type.
	ErrInvalidName = fmt.Errorf("%w: vault: name is empty", model.ErrBadRequest)

	// ErrWeakPassword indicates an empty password.
	ErrWeakPassword = fmt.Errorf("%w: vault: password is required", model.ErrBadRequest)

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("vault: nil parameter")
)
