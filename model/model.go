// Package model defines the envelope key model of the personal data vault:
// roles, wrapped key entries, capability edges, memberships, pending shares
// and the social-recovery records.
//
// Nothing in this package holds plaintext key material. Every key field is
// ciphertext produced by the envelope package; whoever holds the matching
// wrapping key can recover it.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReservedFieldTypes lists field types the system manages itself. They cannot
// be removed through the generic field delete path.
var ReservedFieldTypes = map[string]bool{
	"nick": true,
}

// NormalizeFieldType returns the canonical (trimmed, lower-cased) form of a
// field type. Field types are unique per role in this form.
func NormalizeFieldType(fieldType string) string {
	return strings.ToLower(strings.TrimSpace(fieldType))
}

// IsReservedFieldType reports whether fieldType is system-reserved.
func IsReservedFieldType(fieldType string) bool {
	return ReservedFieldTypes[NormalizeFieldType(fieldType)]
}

// UserAccount is the authenticated user. The master secret is sealed under
// the user's password; the master role key is wrapped under the master secret.
type UserAccount struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	MasterRoleID           uuid.UUID `json:"master_role_id"`
	SealedMasterSecret     []byte    `json:"sealed_master_secret"`
	EncryptedMasterRoleKey []byte    `json:"encrypted_master_role_key"`
	CreatedUTC             time.Time `json:"created_utc"`
}

// Role is an encryptable subject (a person or any other grouping).
type Role struct {
	ID       uuid.UUID `json:"id"`
	RoleType string    `json:"role_type"`

	// EncryptedRoleBlob holds the role's private signing and encryption
	// keys, sealed under the role's own write key.
	EncryptedRoleBlob []byte `json:"encrypted_role_blob"`

	PublicSigningKey       []byte    `json:"public_signing_key,omitempty"`
	PublicSigningKeyAlg    string    `json:"public_signing_key_alg,omitempty"`
	PublicEncryptionKey    []byte    `json:"public_encryption_key,omitempty"`
	PublicEncryptionKeyAlg string    `json:"public_encryption_key_alg,omitempty"`
	CreatedUTC             time.Time `json:"created_utc"`
}

// Validate checks the structural invariants of a role.
func (r *Role) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: role is nil", ErrBadRequest)
	}
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: role id is empty", ErrBadRequest)
	}
	if (len(r.PublicEncryptionKey) == 0) != (r.PublicEncryptionKeyAlg == "") {
		return fmt.Errorf("%w: public encryption key and algorithm must be set together", ErrBadRequest)
	}
	if (len(r.PublicSigningKey) == 0) != (r.PublicSigningKeyAlg == "") {
		return fmt.Errorf("%w: public signing key and algorithm must be set together", ErrBadRequest)
	}
	return nil
}

// KeyEntry is a wrapped 32-byte key. Created once, never mutated, deleted
// only together with the field that owns it.
type KeyEntry struct {
	ID               uuid.UUID `json:"id"`
	KeyType          KeyType   `json:"key_type"`
	RoleID           uuid.UUID `json:"role_id"`
	Version          int       `json:"version"`
	EncryptedKeyBlob []byte    `json:"encrypted_key_blob"`
	Metadata         string    `json:"metadata,omitempty"`
	LedgerRefID      uuid.UUID `json:"ledger_ref_id"`
	CreatedUTC       time.Time `json:"created_utc"`
}

// RoleField is one encrypted attribute of a role. (RoleID, FieldType) is
// unique.
type RoleField struct {
	ID             uuid.UUID `json:"id"`
	RoleID         uuid.UUID `json:"role_id"`
	FieldType      string    `json:"field_type"`
	DataKeyID      uuid.UUID `json:"data_key_id"`
	EncryptedValue []byte    `json:"encrypted_value"`
	CreatedUTC     time.Time `json:"created_utc"`
	UpdatedUTC     time.Time `json:"updated_utc"`
}

// RoleEdge states that the parent role can reach the child role. The key
// copies are the child's keys wrapped under the parent's matching key.
type RoleEdge struct {
	ID                    uuid.UUID        `json:"id"`
	ParentRoleID          uuid.UUID        `json:"parent_role_id"`
	ChildRoleID           uuid.UUID        `json:"child_role_id"`
	Relationship          RelationshipType `json:"relationship"`
	EncryptedReadKeyCopy  []byte           `json:"encrypted_read_key_copy"`
	EncryptedWriteKeyCopy []byte           `json:"encrypted_write_key_copy,omitempty"`
	CreatedUTC            time.Time        `json:"created_utc"`
}

// Validate checks the edge invariants: a read copy is always present, a
// write copy is present exactly when the relationship grants write.
func (e *RoleEdge) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: edge is nil", ErrBadRequest)
	}
	if e.ParentRoleID == uuid.Nil || e.ChildRoleID == uuid.Nil {
		return fmt.Errorf("%w: edge endpoints must be set", ErrBadRequest)
	}
	if e.ParentRoleID == e.ChildRoleID {
		return fmt.Errorf("%w: edge cannot point to itself", ErrBadRequest)
	}
	if !e.Relationship.Valid() {
		return fmt.Errorf("%w: invalid relationship %d", ErrBadRequest, e.Relationship)
	}
	if len(e.EncryptedReadKeyCopy) == 0 {
		return fmt.Errorf("%w: edge must carry a read key copy", ErrBadRequest)
	}
	if e.Relationship.CanWrite() && len(e.EncryptedWriteKeyCopy) == 0 {
		return fmt.Errorf("%w: %s edge must carry a write key copy", ErrBadRequest, e.Relationship)
	}
	if !e.Relationship.CanWrite() && len(e.EncryptedWriteKeyCopy) != 0 {
		return fmt.Errorf("%w: read edge must not carry a write key copy", ErrBadRequest)
	}
	return nil
}

// Membership links a user account directly to a role. It carries the role
// key wrapped under the account's master secret.
type Membership struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	RoleID           uuid.UUID        `json:"role_id"`
	Relationship     RelationshipType `json:"relationship"`
	EncryptedRoleKey []byte           `json:"encrypted_role_key"`
	CreatedUTC       time.Time        `json:"created_utc"`
}

// PendingRoleShare is a capability transfer that the target has not yet
// accepted. The source keys are wrapped under the target role's public
// encryption key.
type PendingRoleShare struct {
	ID                    uuid.UUID        `json:"id"`
	SourceRoleID          uuid.UUID        `json:"source_role_id"`
	TargetRoleID          uuid.UUID        `json:"target_role_id"`
	Relationship          RelationshipType `json:"relationship"`
	EncryptedReadKeyBlob  []byte           `json:"encrypted_read_key_blob"`
	EncryptedWriteKeyBlob []byte           `json:"encrypted_write_key_blob,omitempty"`
	EncryptionAlg         string           `json:"encryption_alg"`
	Status                ShareStatus      `json:"status"`
	LedgerRefID           uuid.UUID        `json:"ledger_ref_id"`
	CreatedUTC            time.Time        `json:"created_utc"`
	AcceptedUTC           time.Time        `json:"accepted_utc"`
}

// RoleRecoveryShare records that SharedWithRoleID holds a recovery fragment
// for TargetRoleID. The fragment itself is opaque here.
type RoleRecoveryShare struct {
	ID                 uuid.UUID `json:"id"`
	TargetRoleID       uuid.UUID `json:"target_role_id"`
	SharedWithRoleID   uuid.UUID `json:"shared_with_role_id"`
	EncryptedShareBlob []byte    `json:"encrypted_share_blob"`
	CreatedUTC         time.Time `json:"created_utc"`
	UpdatedUTC         time.Time `json:"updated_utc"`
	RevokedUTC         time.Time `json:"revoked_utc"`
}

// Active reports whether the share has not been revoked.
func (s *RoleRecoveryShare) Active() bool {
	return s != nil && s.RevokedUTC.IsZero()
}

// RoleRecoveryRequest is one recovery attempt. RequiredApprovals is frozen
// at creation time.
type RoleRecoveryRequest struct {
	ID                uuid.UUID      `json:"id"`
	TargetRoleID      uuid.UUID      `json:"target_role_id"`
	InitiatorRoleID   uuid.UUID      `json:"initiator_role_id"`
	RequiredApprovals int            `json:"required_approvals"`
	Status            RecoveryStatus `json:"status"`
	CreatedUTC        time.Time      `json:"created_utc"`
	CanceledUTC       time.Time      `json:"canceled_utc"`
	CompletedUTC      time.Time      `json:"completed_utc"`
}

// RoleRecoveryApproval is one approver's vote. (RequestID, ApproverRoleID)
// is unique.
type RoleRecoveryApproval struct {
	ID                    uuid.UUID `json:"id"`
	RequestID             uuid.UUID `json:"request_id"`
	ApproverRoleID        uuid.UUID `json:"approver_role_id"`
	EncryptedApprovalBlob []byte    `json:"encrypted_approval_blob"`
	CreatedUTC            time.Time `json:"created_utc"`
}
