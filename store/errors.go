package store

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libpdv-go/model"
)

var (
	ErrAccountNotFound = fmt.Errorf("%w: store: account not found", model.ErrNotFound)
	ErrAccountExists   = fmt.Errorf("%w: store: account already exists", model.ErrConflict)

	ErrRoleNotFound = fmt.Errorf("%w: store: role not found", model.ErrNotFound)
	ErrRoleExists   = fmt.Errorf("%w: store: role already exists", model.ErrConflict)

	ErrKeyNotFound = fmt.Errorf("%w: store: key entry not found", model.ErrNotFound)
	ErrKeyExists   = fmt.Errorf("%w: store: key entry already exists", model.ErrConflict)

	ErrFieldNotFound = fmt.Errorf("%w: store: field not found", model.ErrNotFound)

	ErrEdgeNotFound = fmt.Errorf("%w: store: edge not found", model.ErrNotFound)
	ErrEdgeExists   = fmt.Errorf("%w: store: edge already exists", model.ErrConflict)

	ErrMembershipNotFound = fmt.Errorf("%w: store: membership not found", model.ErrNotFound)
	ErrMembershipExists   = fmt.Errorf("%w: store: membership already exists", model.ErrConflict)

	ErrShareNotFound = fmt.Errorf("%w: store: share not found", model.ErrNotFound)

	// ErrShareNotPending is reported as not found: an accepted share is no
	// longer addressable by the accept path.
	ErrShareNotPending = fmt.Errorf("%w: store: share is not pending", model.ErrNotFound)

	ErrRecoveryShareNotFound = fmt.Errorf("%w: store: recovery share not found", model.ErrNotFound)
	ErrRequestNotFound       = fmt.Errorf("%w: store: recovery request not found", model.ErrNotFound)

	// ErrNoActiveShares indicates a recovery request cannot be created
	// because the target has no active recovery shares.
	ErrNoActiveShares = fmt.Errorf("%w: store: no active recovery shares", model.ErrConflict)

	// ErrInvalidTransition indicates the recovery state machine forbids the
	// requested status change.
	ErrInvalidTransition = fmt.Errorf("%w: store: invalid recovery status transition", model.ErrConflict)

	// ErrDuplicateApproval indicates the approver already voted on the request.
	ErrDuplicateApproval = fmt.Errorf("%w: store: duplicate approval", model.ErrConflict)

	// ErrApproverNotEligible indicates the approver holds no active recovery
	// share for the request's target.
	ErrApproverNotEligible = fmt.Errorf("%w: store: approver holds no active recovery share", model.ErrForbidden)

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("store: required parameter is nil")
)
