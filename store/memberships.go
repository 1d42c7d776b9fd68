package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// MembershipStore persists direct user-to-role links.
//
// Layout: memberships[userID||roleID] = membership.
type MembershipStore struct {
	db *bbolt.DB
}

// Create stores a new membership.
func (s *MembershipStore) Create(ctx context.Context, m *model.Membership) error {
	if m == nil {
		return fmt.Errorf("%w: membership", ErrNilParam)
	}
	if !m.Relationship.Valid() {
		return fmt.Errorf("%w: invalid relationship %d", model.ErrBadRequest, m.Relationship)
	}
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRoles).Get(idKey(m.RoleID)) == nil {
			return ErrRoleNotFound
		}
		b := tx.Bucket(bucketMemberships)
		key := pairKey(m.UserID, m.RoleID)
		if b.Get(key) != nil {
			return ErrMembershipExists
		}
		return putRecord(b, key, m)
	})
}

// Get retrieves the membership of userID in roleID.
func (s *MembershipStore) Get(ctx context.Context, userID, roleID uuid.UUID) (*model.Membership, error) {
	var out *model.Membership
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.Membership](tx.Bucket(bucketMemberships), pairKey(userID, roleID), ErrMembershipNotFound)
		return err
	})
	return out, err
}

// ForUser returns every membership of a user.
func (s *MembershipStore) ForUser(ctx context.Context, userID uuid.UUID) ([]*model.Membership, error) {
	var out []*model.Membership
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.Membership](tx.Bucket(bucketMemberships), idKey(userID))
		return err
	})
	return out, err
}

// Delete removes the membership of userID in roleID.
func (s *MembershipStore) Delete(ctx context.Context, userID, roleID uuid.UUID) error {
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMemberships)
		key := pairKey(userID, roleID)
		if b.Get(key) == nil {
			return ErrMembershipNotFound
		}
		return b.Delete(key)
	})
}

func deleteMembershipsForRole(tx *bbolt.Tx, roleID uuid.UUID) error {
	b := tx.Bucket(bucketMemberships)
	var doomed [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if len(k) == 32 && bytes.Equal(k[16:], roleID[:]) {
			doomed = append(doomed, bytes.Clone(k))
		}
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
