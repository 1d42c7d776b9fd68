package model

import (
	"fmt"
	"strings"
)

// KeyType tags a KeyEntry.
type KeyType uint8

const (
	// KeyTypeRoleKey is a role's root key (legacy path; read and write keys
	// are derived from it).
	KeyTypeRoleKey KeyType = iota + 1

	// KeyTypeDataKey is a per-field data key wrapped under the role's read key.
	KeyTypeDataKey
)

// String returns the string representation of a key type.
func (k KeyType) String() string {
	switch k {
	case KeyTypeRoleKey:
		return "RoleKey"
	case KeyTypeDataKey:
		return "DataKey"
	default:
		return "Unknown"
	}
}

// Valid reports whether k is a known key type.
func (k KeyType) Valid() bool {
	switch k {
	case KeyTypeRoleKey, KeyTypeDataKey:
		return true
	default:
		return false
	}
}

// RelationshipType is the privilege an edge or membership grants. Lower
// values are more privileged.
type RelationshipType uint8

const (
	RelationshipOwner RelationshipType = iota + 1
	RelationshipWrite
	RelationshipRead
)

// String returns the string representation of a relationship.
func (r RelationshipType) String() string {
	switch r {
	case RelationshipOwner:
		return "Owner"
	case RelationshipWrite:
		return "Write"
	case RelationshipRead:
		return "Read"
	default:
		return "Unknown"
	}
}

// Valid reports whether r is a known relationship.
func (r RelationshipType) Valid() bool {
	return r >= RelationshipOwner && r <= RelationshipRead
}

// CanWrite reports whether the relationship carries the write key.
func (r RelationshipType) CanWrite() bool {
	return r == RelationshipOwner || r == RelationshipWrite
}

// AtLeast reports whether r grants at least the privilege of other.
func (r RelationshipType) AtLeast(other RelationshipType) bool {
	return r.Valid() && other.Valid() && r <= other
}

// ParseRelationship parses "owner", "write" or "read" (case-insensitive).
func ParseRelationship(s string) (RelationshipType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner":
		return RelationshipOwner, nil
	case "write":
		return RelationshipWrite, nil
	case "read":
		return RelationshipRead, nil
	default:
		return 0, fmt.Errorf("%w: unknown relationship %q", ErrBadRequest, s)
	}
}

// ShareStatus is the state of a PendingRoleShare.
type ShareStatus uint8

const (
	SharePending ShareStatus = iota + 1
	ShareAccepted
)

// String returns the string representation of a share status.
func (s ShareStatus) String() string {
	switch s {
	case SharePending:
		return "Pending"
	case ShareAccepted:
		return "Accepted"
	default:
		return "Unknown"
	}
}

// RecoveryStatus is the state of a RoleRecoveryRequest.
//
//	Pending -> Ready -> Completed
//	Pending|Ready -> Canceled
type RecoveryStatus uint8

const (
	RecoveryPending RecoveryStatus = iota + 1
	RecoveryReady
	RecoveryCompleted
	RecoveryCanceled
)

// String returns the string representation of a recovery status.
func (s RecoveryStatus) String() string {
	switch s {
	case RecoveryPending:
		return "Pending"
	case RecoveryReady:
		return "Ready"
	case RecoveryCompleted:
		return "Completed"
	case RecoveryCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s RecoveryStatus) Terminal() bool {
	return s == RecoveryCompleted || s == RecoveryCanceled
}

// CanTransition reports whether the recovery state machine allows s -> to.
func (s RecoveryStatus) CanTransition(to RecoveryStatus) bool {
	switch s {
	case RecoveryPending:
		return to == RecoveryReady || to == RecoveryCanceled
	case RecoveryReady:
		return to == RecoveryCompleted || to == RecoveryCanceled
	default:
		return false
	}
}
