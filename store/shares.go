package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// ShareStore persists pending role shares.
type ShareStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// Create stores a new pending share.
func (s *ShareStore) Create(ctx context.Context, sh *model.PendingRoleShare) error {
	if sh == nil {
		return fmt.Errorf("%w: share", ErrNilParam)
	}
	if sh.Status != model.SharePending {
		return fmt.Errorf("%w: new share must be pending", model.ErrBadRequest)
	}
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		roles := tx.Bucket(bucketRoles)
		if roles.Get(idKey(sh.SourceRoleID)) == nil || roles.Get(idKey(sh.TargetRoleID)) == nil {
			return ErrRoleNotFound
		}
		b := tx.Bucket(bucketPendingShares)
		if b.Get(idKey(sh.ID)) != nil {
			return fmt.Errorf("%w: share %s already exists", model.ErrConflict, sh.ID)
		}
		return putRecord(b, idKey(sh.ID), sh)
	})
}

// Get retrieves a share by id, whatever its status.
func (s *ShareStore) Get(ctx context.Context, id uuid.UUID) (*model.PendingRoleShare, error) {
	var out *model.PendingRoleShare
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.PendingRoleShare](tx.Bucket(bucketPendingShares), idKey(id), ErrShareNotFound)
		return err
	})
	return out, err
}

// PendingForTargets returns every still-pending share addressed to one of
// the given target roles.
func (s *ShareStore) PendingForTargets(ctx context.Context, targets map[uuid.UUID]bool) ([]*model.PendingRoleShare, error) {
	var out []*model.PendingRoleShare
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		all, err := scanPrefix[model.PendingRoleShare](tx.Bucket(bucketPendingShares), nil)
		if err != nil {
			return err
		}
		for _, sh := range all {
			if sh.Status == model.SharePending && targets[sh.TargetRoleID] {
				out = append(out, sh)
			}
		}
		return nil
	})
	return out, err
}

// Accept consumes a pending share in one transaction: it creates edge
// unless the (parent, child) pair is already linked, then marks the share
// Accepted. It returns the accepted share and the edge now stored for the
// pair; that edge is the pre-existing one, not edge, when the pair was
// already linked. A share that is not pending yields ErrShareNotPending and
// nothing changes.
func (s *ShareStore) Accept(ctx context.Context, shareID uuid.UUID, edge *model.RoleEdge) (*model.PendingRoleShare, *model.RoleEdge, error) {
	if err := edge.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		accepted *model.PendingRoleShare
		stored   *model.RoleEdge
	)
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPendingShares)
		sh, err := getRecord[model.PendingRoleShare](b, idKey(shareID), ErrShareNotFound)
		if err != nil {
			return err
		}
		if sh.Status != model.SharePending {
			return ErrShareNotPending
		}
		if edge.ParentRoleID != sh.TargetRoleID || edge.ChildRoleID != sh.SourceRoleID {
			return fmt.Errorf("%w: edge does not match share", model.ErrBadRequest)
		}

		created, err := createEdge(tx, edge)
		if err != nil {
			return err
		}
		stored = edge
		if !created {
			stored, err = getRecord[model.RoleEdge](tx.Bucket(bucketRoleEdges),
				pairKey(edge.ParentRoleID, edge.ChildRoleID), ErrEdgeNotFound)
			if err != nil {
				return err
			}
		}

		sh.Status = model.ShareAccepted
		sh.AcceptedUTC = s.now().UTC()
		if err := putRecord(b, idKey(sh.ID), sh); err != nil {
			return err
		}
		accepted = sh
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return accepted, stored, nil
}
