package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/model"
)

// RoleStore persists roles.
type RoleStore struct {
	db *bbolt.DB
}

var (
	_ ledger.RoleSource = (*RoleStore)(nil)
	_ ledger.SignerKeys = (*RoleStore)(nil)
)

// Create stores a new role.
func (s *RoleStore) Create(ctx context.Context, r *model.Role) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		if b.Get(idKey(r.ID)) != nil {
			return ErrRoleExists
		}
		return putRecord(b, idKey(r.ID), r)
	})
}

// Role retrieves a role by id.
func (s *RoleStore) Role(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var out *model.Role
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.Role](tx.Bucket(bucketRoles), idKey(id), ErrRoleNotFound)
		return err
	})
	return out, err
}

// List returns every role.
func (s *RoleStore) List(ctx context.Context) ([]*model.Role, error) {
	var out []*model.Role
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.Role](tx.Bucket(bucketRoles), nil)
		return err
	})
	return out, err
}

// retiredSigner is the public signing key of a deleted role, kept so its
// ledger signatures stay verifiable.
type retiredSigner struct {
	PublicKey []byte
	Alg       string
}

// SigningPublicKey returns the role's public signing key. Deleted roles
// resolve to the key they held when they were deleted.
func (s *RoleStore) SigningPublicKey(ctx context.Context, roleID uuid.UUID) ([]byte, string, error) {
	var pub []byte
	var alg string
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		r, err := getRecord[model.Role](tx.Bucket(bucketRoles), idKey(roleID), ErrRoleNotFound)
		if err == nil {
			pub, alg = r.PublicSigningKey, r.PublicSigningKeyAlg
			return nil
		}
		retired, rerr := getRecord[retiredSigner](tx.Bucket(bucketRetiredSigners), idKey(roleID), ErrRoleNotFound)
		if rerr != nil {
			return err
		}
		pub, alg = retired.PublicKey, retired.Alg
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if len(pub) == 0 {
		return nil, "", fmt.Errorf("%w: role has no signing key", ErrKeyNotFound)
	}
	return pub, alg, nil
}

// Delete removes a role together with everything that hangs off it: its
// fields and their data keys, its role key entry, its incoming and
// outgoing edges and its memberships. Ledger history is kept.
func (s *RoleStore) Delete(ctx context.Context, id uuid.UUID) error {
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		roles := tx.Bucket(bucketRoles)
		role, err := getRecord[model.Role](roles, idKey(id), ErrRoleNotFound)
		if err != nil {
			return err
		}
		if len(role.PublicSigningKey) > 0 {
			if err := putRecord(tx.Bucket(bucketRetiredSigners), idKey(id), &retiredSigner{
				PublicKey: role.PublicSigningKey,
				Alg:       role.PublicSigningKeyAlg,
			}); err != nil {
				return err
			}
		}

		fields, err := scanPrefix[model.RoleField](tx.Bucket(bucketRoleFields), idKey(id))
		if err != nil {
			return err
		}
		for _, f := range fields {
			if err := deleteField(tx, f); err != nil {
				return err
			}
		}

		if keyID := tx.Bucket(bucketRoleKeys).Get(idKey(id)); keyID != nil {
			if err := tx.Bucket(bucketKeyEntries).Delete(keyID); err != nil {
				return err
			}
			if err := tx.Bucket(bucketRoleKeys).Delete(idKey(id)); err != nil {
				return err
			}
		}

		out, err := scanPrefix[model.RoleEdge](tx.Bucket(bucketRoleEdges), idKey(id))
		if err != nil {
			return err
		}
		in, err := incomingEdges(tx, id)
		if err != nil {
			return err
		}
		for _, e := range append(out, in...) {
			if err := deleteEdge(tx, e.ParentRoleID, e.ChildRoleID); err != nil {
				return err
			}
		}

		if err := deleteMembershipsForRole(tx, id); err != nil {
			return err
		}
		return roles.Delete(idKey(id))
	})
}
