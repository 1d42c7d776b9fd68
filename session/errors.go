package session

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrInvalidCredentials indicates the password does not open the
	// account's sealed master secret.
	ErrInvalidCredentials = fmt.Errorf("%w: session: invalid credentials", model.ErrForbidden)

	// ErrSessionNotFound indicates the session is unknown, closed or expired.
	// It wraps keyring.ErrKeyMaterialUnavailable so ring builds surface it as
	// a precondition failure.
	ErrSessionNotFound = fmt.Errorf("%w: session: not found or expired", keyring.ErrKeyMaterialUnavailable)

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("session: nil parameter")
)
