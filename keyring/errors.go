package keyring

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrKeyMaterialUnavailable indicates the session's bootstrap secret is
	// missing, expired or does not open the user's root keys. The user is
	// authenticated; the condition is retryable after re-establishing the
	// session. Distinct from an empty ring.
	ErrKeyMaterialUnavailable = fmt.Errorf("%w: keyring: key material unavailable", model.ErrPreconditionFailed)

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("keyring: required parameter is nil")
)
