package vault

import (
	"context"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/model"
)

// ShareOpts holds options for ShareRole.
type ShareOpts struct {
	SourceRoleID uuid.UUID // role being shared
	TargetRoleID uuid.UUID // recipient role
	Relationship model.RelationshipType
}

// ShareRole offers a role to another role as a pending share.
func (v *Vault) ShareRole(ctx context.Context, s Session, opts *ShareOpts) (*model.PendingRoleShare, error) {
	if opts == nil {
		return nil, ErrNilParam
	}
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Sharing.CreateShare(ctx, ring, s.UserID.String(), opts.SourceRoleID, opts.TargetRoleID, opts.Relationship)
}

// PendingShares lists the shares waiting for any of the caller's roles.
func (v *Vault) PendingShares(ctx context.Context, s Session) ([]*model.PendingRoleShare, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	return v.Sharing.ListPending(ctx, ring)
}

// AcceptShare accepts a pending share addressed to one of the caller's
// roles and drops the caller's cached rings so the new edge is visible.
func (v *Vault) AcceptShare(ctx context.Context, s Session, shareID uuid.UUID) (*model.RoleEdge, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	edge, err := v.Sharing.AcceptShare(ctx, ring, s.UserID.String(), shareID)
	if edge != nil {
		v.Rings.InvalidateUser(s.UserID)
	}
	return edge, err
}
