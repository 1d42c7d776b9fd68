package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// FieldStore persists encrypted role fields. (RoleID, FieldType) is unique;
// field types are stored normalized.
//
// Layout: role_fields[roleID||fieldID] = field,
// role_fields_idx[roleID||fieldType] = fieldID.
type FieldStore struct {
	db *bbolt.DB
}

func fieldIdxKey(roleID uuid.UUID, fieldType string) []byte {
	k := make([]byte, 0, 16+len(fieldType))
	k = append(k, roleID[:]...)
	return append(k, model.NormalizeFieldType(fieldType)...)
}

// Upsert stores f, replacing any existing field of the same type on the
// same role (the id and creation time of the existing field are kept).
// When dataKey is non-nil it is created in the same transaction and the
// replaced field's previous data key entry is deleted.
func (s *FieldStore) Upsert(ctx context.Context, f *model.RoleField, dataKey *model.KeyEntry) (*model.RoleField, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: field", ErrNilParam)
	}
	f.FieldType = model.NormalizeFieldType(f.FieldType)
	if f.FieldType == "" {
		return nil, fmt.Errorf("%w: field type is empty", model.ErrBadRequest)
	}

	stored := *f
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRoles).Get(idKey(f.RoleID)) == nil {
			return ErrRoleNotFound
		}

		idx := tx.Bucket(bucketRoleFieldsIdx)
		fields := tx.Bucket(bucketRoleFields)
		if existingID := idx.Get(fieldIdxKey(f.RoleID, f.FieldType)); existingID != nil {
			existing, err := getRecord[model.RoleField](fields, pairKey(f.RoleID, uuid.UUID(existingID)), ErrFieldNotFound)
			if err != nil {
				return err
			}
			stored.ID = existing.ID
			stored.CreatedUTC = existing.CreatedUTC
			if dataKey != nil && existing.DataKeyID != dataKey.ID {
				if err := tx.Bucket(bucketKeyEntries).Delete(idKey(existing.DataKeyID)); err != nil {
					return err
				}
			}
		}

		if dataKey != nil {
			if err := createKey(tx, dataKey); err != nil {
				return err
			}
		}
		if err := idx.Put(fieldIdxKey(f.RoleID, f.FieldType), idKey(stored.ID)); err != nil {
			return err
		}
		return putRecord(fields, pairKey(f.RoleID, stored.ID), &stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get retrieves the field of the given type on a role.
func (s *FieldStore) Get(ctx context.Context, roleID uuid.UUID, fieldType string) (*model.RoleField, error) {
	var out *model.RoleField
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRoleFieldsIdx).Get(fieldIdxKey(roleID, fieldType))
		if id == nil {
			return ErrFieldNotFound
		}
		var err error
		out, err = getRecord[model.RoleField](tx.Bucket(bucketRoleFields), pairKey(roleID, uuid.UUID(id)), ErrFieldNotFound)
		return err
	})
	return out, err
}

// List returns every field of a role.
func (s *FieldStore) List(ctx context.Context, roleID uuid.UUID) ([]*model.RoleField, error) {
	var out []*model.RoleField
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.RoleField](tx.Bucket(bucketRoleFields), idKey(roleID))
		return err
	})
	return out, err
}

// Delete removes a field and its data key entry.
func (s *FieldStore) Delete(ctx context.Context, roleID uuid.UUID, fieldType string) error {
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRoleFieldsIdx).Get(fieldIdxKey(roleID, fieldType))
		if id == nil {
			return ErrFieldNotFound
		}
		f, err := getRecord[model.RoleField](tx.Bucket(bucketRoleFields), pairKey(roleID, uuid.UUID(id)), ErrFieldNotFound)
		if err != nil {
			return err
		}
		return deleteField(tx, f)
	})
}

func deleteField(tx *bbolt.Tx, f *model.RoleField) error {
	if err := tx.Bucket(bucketKeyEntries).Delete(idKey(f.DataKeyID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketRoleFieldsIdx).Delete(fieldIdxKey(f.RoleID, f.FieldType)); err != nil {
		return err
	}
	return tx.Bucket(bucketRoleFields).Delete(pairKey(f.RoleID, f.ID))
}
