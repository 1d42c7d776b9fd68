package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// RecoveryStore persists recovery shares, requests and approvals and
// enforces the recovery state machine inside write transactions.
//
// Layout: recovery_shares[target||sharedWith] = share,
// recovery_requests[requestID] = request,
// recovery_approvals[requestID||approver] = approval.
type RecoveryStore struct {
	db *bbolt.DB
}

// PutShare issues a recovery share, or re-issues an existing one by
// overwriting its blob and clearing its revocation.
func (s *RecoveryStore) PutShare(ctx context.Context, sh *model.RoleRecoveryShare) (*model.RoleRecoveryShare, error) {
	if sh == nil {
		return nil, fmt.Errorf("%w: recovery share", ErrNilParam)
	}
	if sh.TargetRoleID == sh.SharedWithRoleID {
		return nil, fmt.Errorf("%w: a role cannot hold its own recovery share", model.ErrBadRequest)
	}

	stored := *sh
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		roles := tx.Bucket(bucketRoles)
		if roles.Get(idKey(sh.TargetRoleID)) == nil || roles.Get(idKey(sh.SharedWithRoleID)) == nil {
			return ErrRoleNotFound
		}
		b := tx.Bucket(bucketRecoveryShares)
		key := pairKey(sh.TargetRoleID, sh.SharedWithRoleID)
		if existing, err := getRecord[model.RoleRecoveryShare](b, key, ErrRecoveryShareNotFound); err == nil {
			stored.ID = existing.ID
			stored.CreatedUTC = existing.CreatedUTC
		}
		stored.RevokedUTC = time.Time{}
		return putRecord(b, key, &stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Share retrieves the recovery share sharedWith holds for target.
func (s *RecoveryStore) Share(ctx context.Context, target, sharedWith uuid.UUID) (*model.RoleRecoveryShare, error) {
	var out *model.RoleRecoveryShare
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.RoleRecoveryShare](tx.Bucket(bucketRecoveryShares), pairKey(target, sharedWith), ErrRecoveryShareNotFound)
		return err
	})
	return out, err
}

// Shares returns every recovery share for target, revoked ones included.
func (s *RecoveryStore) Shares(ctx context.Context, target uuid.UUID) ([]*model.RoleRecoveryShare, error) {
	var out []*model.RoleRecoveryShare
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.RoleRecoveryShare](tx.Bucket(bucketRecoveryShares), idKey(target))
		return err
	})
	return out, err
}

// RevokeShare marks a share revoked. Revoking an already revoked share is
// a no-op.
func (s *RecoveryStore) RevokeShare(ctx context.Context, target, sharedWith uuid.UUID, now time.Time) (*model.RoleRecoveryShare, error) {
	var out *model.RoleRecoveryShare
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecoveryShares)
		key := pairKey(target, sharedWith)
		sh, err := getRecord[model.RoleRecoveryShare](b, key, ErrRecoveryShareNotFound)
		if err != nil {
			return err
		}
		if sh.Active() {
			sh.RevokedUTC = now.UTC()
			sh.UpdatedUTC = now.UTC()
			if err := putRecord(b, key, sh); err != nil {
				return err
			}
		}
		out = sh
		return nil
	})
	return out, err
}

func activeShares(tx *bbolt.Tx, target uuid.UUID) ([]*model.RoleRecoveryShare, error) {
	all, err := scanPrefix[model.RoleRecoveryShare](tx.Bucket(bucketRecoveryShares), idKey(target))
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, sh := range all {
		if sh.Active() {
			active = append(active, sh)
		}
	}
	return active, nil
}

// CreateRequest stores a new Pending request, freezing RequiredApprovals to
// the number of active shares for the target. It fails with
// ErrNoActiveShares when there are none.
func (s *RecoveryStore) CreateRequest(ctx context.Context, req *model.RoleRecoveryRequest) (*model.RoleRecoveryRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: recovery request", ErrNilParam)
	}

	stored := *req
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRoles).Get(idKey(req.TargetRoleID)) == nil {
			return ErrRoleNotFound
		}
		active, err := activeShares(tx, req.TargetRoleID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return ErrNoActiveShares
		}
		stored.RequiredApprovals = len(active)
		stored.Status = model.RecoveryPending
		return putRecord(tx.Bucket(bucketRecoveryRequests), idKey(stored.ID), &stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Request retrieves a recovery request by id.
func (s *RecoveryStore) Request(ctx context.Context, id uuid.UUID) (*model.RoleRecoveryRequest, error) {
	var out *model.RoleRecoveryRequest
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.RoleRecoveryRequest](tx.Bucket(bucketRecoveryRequests), idKey(id), ErrRequestNotFound)
		return err
	})
	return out, err
}

// Requests returns every request for target.
func (s *RecoveryStore) Requests(ctx context.Context, target uuid.UUID) ([]*model.RoleRecoveryRequest, error) {
	var out []*model.RoleRecoveryRequest
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		all, err := scanPrefix[model.RoleRecoveryRequest](tx.Bucket(bucketRecoveryRequests), nil)
		if err != nil {
			return err
		}
		for _, r := range all {
			if r.TargetRoleID == target {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

// Approvals returns every approval of a request.
func (s *RecoveryStore) Approvals(ctx context.Context, requestID uuid.UUID) ([]*model.RoleRecoveryApproval, error) {
	var out []*model.RoleRecoveryApproval
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.RoleRecoveryApproval](tx.Bucket(bucketRecoveryApprovals), idKey(requestID))
		return err
	})
	return out, err
}

// AddApproval records one vote. The approver must hold an active share for
// the request's target and must not have voted before. When the vote count
// reaches RequiredApprovals a Pending request becomes Ready; becameReady
// is true only for the vote that caused that transition.
func (s *RecoveryStore) AddApproval(ctx context.Context, a *model.RoleRecoveryApproval) (req *model.RoleRecoveryRequest, becameReady bool, err error) {
	if a == nil {
		return nil, false, fmt.Errorf("%w: approval", ErrNilParam)
	}

	err = update(ctx, s.db, func(tx *bbolt.Tx) error {
		requests := tx.Bucket(bucketRecoveryRequests)
		r, err := getRecord[model.RoleRecoveryRequest](requests, idKey(a.RequestID), ErrRequestNotFound)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, r.Status)
		}

		sh, err := getRecord[model.RoleRecoveryShare](tx.Bucket(bucketRecoveryShares), pairKey(r.TargetRoleID, a.ApproverRoleID), ErrApproverNotEligible)
		if err != nil {
			return err
		}
		if !sh.Active() {
			return ErrApproverNotEligible
		}

		approvals := tx.Bucket(bucketRecoveryApprovals)
		key := pairKey(a.RequestID, a.ApproverRoleID)
		if approvals.Get(key) != nil {
			return ErrDuplicateApproval
		}
		if err := putRecord(approvals, key, a); err != nil {
			return err
		}

		count := 0
		c := approvals.Cursor()
		prefix := idKey(a.RequestID)
		for k, _ := c.Seek(prefix); k != nil && len(k) == 32 && uuid.UUID(k[:16]) == a.RequestID; k, _ = c.Next() {
			count++
		}

		if r.Status == model.RecoveryPending && count >= r.RequiredApprovals {
			r.Status = model.RecoveryReady
			becameReady = true
			if err := putRecord(requests, idKey(r.ID), r); err != nil {
				return err
			}
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return req, becameReady, nil
}

// Complete moves a Ready request to Completed and revokes every active
// recovery share of the target. It returns the number of shares revoked.
func (s *RecoveryStore) Complete(ctx context.Context, requestID uuid.UUID, now time.Time) (*model.RoleRecoveryRequest, int, error) {
	var (
		out     *model.RoleRecoveryRequest
		revoked int
	)
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		requests := tx.Bucket(bucketRecoveryRequests)
		r, err := getRecord[model.RoleRecoveryRequest](requests, idKey(requestID), ErrRequestNotFound)
		if err != nil {
			return err
		}
		if !r.Status.CanTransition(model.RecoveryCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, model.RecoveryCompleted)
		}

		active, err := activeShares(tx, r.TargetRoleID)
		if err != nil {
			return err
		}
		shares := tx.Bucket(bucketRecoveryShares)
		for _, sh := range active {
			sh.RevokedUTC = now.UTC()
			sh.UpdatedUTC = now.UTC()
			if err := putRecord(shares, pairKey(sh.TargetRoleID, sh.SharedWithRoleID), sh); err != nil {
				return err
			}
		}
		revoked = len(active)

		r.Status = model.RecoveryCompleted
		r.CompletedUTC = now.UTC()
		if err := putRecord(requests, idKey(r.ID), r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, revoked, nil
}

// Cancel moves a Pending or Ready request to Canceled. Shares are kept.
func (s *RecoveryStore) Cancel(ctx context.Context, requestID uuid.UUID, now time.Time) (*model.RoleRecoveryRequest, error) {
	var out *model.RoleRecoveryRequest
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		requests := tx.Bucket(bucketRecoveryRequests)
		r, err := getRecord[model.RoleRecoveryRequest](requests, idKey(requestID), ErrRequestNotFound)
		if err != nil {
			return err
		}
		if !r.Status.CanTransition(model.RecoveryCanceled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, model.RecoveryCanceled)
		}
		r.Status = model.RecoveryCanceled
		r.CanceledUTC = now.UTC()
		if err := putRecord(requests, idKey(r.ID), r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}
