package vault

import (
	"context"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/model"
)

// IssueRecoveryShare gives holderRoleID a recovery share for targetRoleID.
func (v *Vault) IssueRecoveryShare(ctx context.Context, s Session, targetRoleID, holderRoleID uuid.UUID, fragment []byte) (*model.RoleRecoveryShare, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Recovery.IssueShare(ctx, ring, s.UserID.String(), targetRoleID, holderRoleID, fragment)
}

// RevokeRecoveryShare revokes the share holderRoleID holds for targetRoleID.
func (v *Vault) RevokeRecoveryShare(ctx context.Context, s Session, targetRoleID, holderRoleID uuid.UUID) (*model.RoleRecoveryShare, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Recovery.RevokeShare(ctx, ring, s.UserID.String(), targetRoleID, holderRoleID)
}

// RequestRecovery opens a recovery request for targetRoleID on behalf of
// the caller's initiatorRoleID.
func (v *Vault) RequestRecovery(ctx context.Context, s Session, targetRoleID, initiatorRoleID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Recovery.CreateRequest(ctx, ring, s.UserID.String(), targetRoleID, initiatorRoleID)
}

// ApproveRecovery votes on a request as the caller's approverRoleID.
func (v *Vault) ApproveRecovery(ctx context.Context, s Session, requestID, approverRoleID uuid.UUID, approval []byte) (*model.RoleRecoveryRequest, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Recovery.Approve(ctx, ring, s.UserID.String(), requestID, approverRoleID, approval)
}

// CompleteRecovery finishes a Ready request.
func (v *Vault) CompleteRecovery(ctx context.Context, s Session, requestID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Recovery.Complete(ctx, ring, s.UserID.String(), requestID)
}

// CancelRecovery abandons a Pending or Ready request.
func (v *Vault) CancelRecovery(ctx context.Context, s Session, requestID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Recovery.Cancel(ctx, ring, s.UserID.String(), requestID)
}
