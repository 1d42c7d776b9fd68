package model

import (
	"errors"
	"net/http"
)

// Error taxonomy shared by every layer. Package-level sentinels wrap one of
// these so callers can classify failures with errors.Is.
var (
	// ErrNotFound indicates the addressed record does not exist (or must not
	// be revealed to the caller).
	ErrNotFound = errors.New("pdv: not found")

	// ErrForbidden indicates the caller lacks the key material or graph
	// membership the operation requires.
	ErrForbidden = errors.New("pdv: forbidden")

	// ErrConflict indicates a uniqueness or state-machine conflict. No
	// mutation was made.
	ErrConflict = errors.New("pdv: conflict")

	// ErrBadRequest indicates malformed input.
	ErrBadRequest = errors.New("pdv: bad request")

	// ErrPreconditionFailed indicates the user is authenticated but key
	// material cannot be derived yet (missing or expired session secret).
	// Retryable after re-establishing the session.
	ErrPreconditionFailed = errors.New("pdv: precondition failed")

	// ErrDecryptionFailed indicates an explicit unwrap failed in a
	// single-target operation.
	ErrDecryptionFailed = errors.New("pdv: decryption failed")
)

// HTTPStatus maps an error to the status code the web binding returns.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionRequired
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrDecryptionFailed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
