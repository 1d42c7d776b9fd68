package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// KeyStore persists wrapped key entries. Entries are create-once.
type KeyStore struct {
	db *bbolt.DB
}

// Create stores a new key entry. A RoleKey entry is also indexed by its
// role; a role has at most one.
func (s *KeyStore) Create(ctx context.Context, k *model.KeyEntry) error {
	if k == nil {
		return fmt.Errorf("%w: key entry", ErrNilParam)
	}
	if !k.KeyType.Valid() {
		return fmt.Errorf("%w: invalid key type %d", model.ErrBadRequest, k.KeyType)
	}
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		return createKey(tx, k)
	})
}

func createKey(tx *bbolt.Tx, k *model.KeyEntry) error {
	b := tx.Bucket(bucketKeyEntries)
	if b.Get(idKey(k.ID)) != nil {
		return ErrKeyExists
	}
	switch k.KeyType {
	case model.KeyTypeRoleKey:
		idx := tx.Bucket(bucketRoleKeys)
		if idx.Get(idKey(k.RoleID)) != nil {
			return ErrKeyExists
		}
		if err := idx.Put(idKey(k.RoleID), idKey(k.ID)); err != nil {
			return err
		}
	case model.KeyTypeDataKey:
	}
	return putRecord(b, idKey(k.ID), k)
}

// Get retrieves a key entry by id.
func (s *KeyStore) Get(ctx context.Context, id uuid.UUID) (*model.KeyEntry, error) {
	var out *model.KeyEntry
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.KeyEntry](tx.Bucket(bucketKeyEntries), idKey(id), ErrKeyNotFound)
		return err
	})
	return out, err
}

// RoleKey retrieves the RoleKey entry of a role.
func (s *KeyStore) RoleKey(ctx context.Context, roleID uuid.UUID) (*model.KeyEntry, error) {
	var out *model.KeyEntry
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRoleKeys).Get(idKey(roleID))
		if id == nil {
			return ErrKeyNotFound
		}
		var err error
		out, err = getRecord[model.KeyEntry](tx.Bucket(bucketKeyEntries), id, ErrKeyNotFound)
		return err
	})
	return out, err
}
