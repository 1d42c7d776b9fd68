package ledger

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	// ErrEntryNotFound indicates the ledger entry does not exist.
	ErrEntryNotFound = fmt.Errorf("%w: ledger: entry not found", model.ErrNotFound)

	// ErrInvalidCategory indicates an unknown ledger category.
	ErrInvalidCategory = fmt.Errorf("%w: ledger: invalid category", model.ErrBadRequest)

	// ErrInvalidEntry indicates an entry that cannot be chained (missing
	// event type, empty hash, nil entry).
	ErrInvalidEntry = errors.New("ledger: invalid entry")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("ledger: required parameter is nil")
)
