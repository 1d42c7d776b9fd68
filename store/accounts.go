package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// AccountStore persists user accounts. Names are unique, case-insensitive.
type AccountStore struct {
	db *bbolt.DB
}

func nameKey(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a *model.UserAccount) error {
	if a == nil {
		return fmt.Errorf("%w: account", ErrNilParam)
	}
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		accounts := tx.Bucket(bucketAccounts)
		names := tx.Bucket(bucketAccountNames)
		if accounts.Get(idKey(a.ID)) != nil || names.Get(nameKey(a.Name)) != nil {
			return ErrAccountExists
		}
		if err := putRecord(accounts, idKey(a.ID), a); err != nil {
			return err
		}
		return names.Put(nameKey(a.Name), idKey(a.ID))
	})
}

// Get retrieves an account by id.
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*model.UserAccount, error) {
	var out *model.UserAccount
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.UserAccount](tx.Bucket(bucketAccounts), idKey(id), ErrAccountNotFound)
		return err
	})
	return out, err
}

// ByName retrieves an account by name.
func (s *AccountStore) ByName(ctx context.Context, name string) (*model.UserAccount, error) {
	var out *model.UserAccount
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketAccountNames).Get(nameKey(name))
		if id == nil {
			return ErrAccountNotFound
		}
		var err error
		out, err = getRecord[model.UserAccount](tx.Bucket(bucketAccounts), id, ErrAccountNotFound)
		return err
	})
	return out, err
}

// List returns every account.
func (s *AccountStore) List(ctx context.Context) ([]*model.UserAccount, error) {
	var out []*model.UserAccount
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.UserAccount](tx.Bucket(bucketAccounts), nil)
		return err
	})
	return out, err
}
