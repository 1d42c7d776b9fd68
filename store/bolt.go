// Package store persists the vault in a single bbolt database: accounts,
// roles, key entries, fields, edges, memberships, pending shares, the
// recovery tables and the three ledger chains.
//
// Records are Core Deterministic CBOR. Composite operations that must be
// atomic (share acceptance, recovery transitions, ledger appends) run in a
// single bbolt write transaction; bbolt allows one writer per file and
// holds a file lock across processes.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/codec"
)

var (
	bucketAccounts          = []byte("accounts")
	bucketAccountNames      = []byte("accounts_name")
	bucketRoles             = []byte("roles")
	bucketRetiredSigners    = []byte("retired_signers")
	bucketKeyEntries        = []byte("key_entries")
	bucketRoleKeys          = []byte("role_keys_idx")
	bucketRoleFields        = []byte("role_fields")
	bucketRoleFieldsIdx     = []byte("role_fields_idx")
	bucketRoleEdges         = []byte("role_edges")
	bucketRoleEdgesIdx      = []byte("role_edges_idx")
	bucketRoleEdgesRev      = []byte("role_edges_rev")
	bucketMemberships       = []byte("memberships")
	bucketPendingShares     = []byte("pending_shares")
	bucketRecoveryShares    = []byte("recovery_shares")
	bucketRecoveryRequests  = []byte("recovery_requests")
	bucketRecoveryApprovals = []byte("recovery_approvals")
	bucketLedgerAuth        = []byte("ledger_auth")
	bucketLedgerKey         = []byte("ledger_key")
	bucketLedgerBusiness    = []byte("ledger_business")
)

var allBuckets = [][]byte{
	bucketAccounts, bucketAccountNames, bucketRoles, bucketRetiredSigners, bucketKeyEntries, bucketRoleKeys,
	bucketRoleFields, bucketRoleFieldsIdx, bucketRoleEdges, bucketRoleEdgesIdx, bucketRoleEdgesRev,
	bucketMemberships, bucketPendingShares, bucketRecoveryShares, bucketRecoveryRequests,
	bucketRecoveryApprovals, bucketLedgerAuth, bucketLedgerKey, bucketLedgerBusiness,
}

// BoltStore wraps a bbolt database holding the whole vault.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func Open(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("store: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.db.Path() }

// Accounts returns the account table.
func (s *BoltStore) Accounts() *AccountStore { return &AccountStore{db: s.db} }

// Roles returns the role table.
func (s *BoltStore) Roles() *RoleStore { return &RoleStore{db: s.db} }

// Keys returns the key entry table.
func (s *BoltStore) Keys() *KeyStore { return &KeyStore{db: s.db} }

// Fields returns the role field table.
func (s *BoltStore) Fields() *FieldStore { return &FieldStore{db: s.db} }

// Edges returns the role edge table.
func (s *BoltStore) Edges() *EdgeStore { return &EdgeStore{db: s.db} }

// Memberships returns the membership table.
func (s *BoltStore) Memberships() *MembershipStore { return &MembershipStore{db: s.db} }

// Shares returns the pending share table.
func (s *BoltStore) Shares() *ShareStore { return &ShareStore{db: s.db, now: s.now} }

// Recovery returns the recovery share, request and approval tables.
func (s *BoltStore) Recovery() *RecoveryStore { return &RecoveryStore{db: s.db} }

// Ledger returns the ledger chains.
func (s *BoltStore) Ledger() *LedgerStore { return &LedgerStore{db: s.db} }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// pairKey concatenates two ids into a 32-byte composite key.
func pairKey(a, b uuid.UUID) []byte {
	k := make([]byte, 0, 32)
	k = append(k, a[:]...)
	return append(k, b[:]...)
}

func idKey(id uuid.UUID) []byte {
	k := make([]byte, 16)
	copy(k, id[:])
	return k
}

func putRecord(b *bbolt.Bucket, key []byte, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("store: put record: %w", err)
	}
	return nil
}

// getRecord decodes the record at key, or returns notFound.
func getRecord[T any](b *bbolt.Bucket, key []byte, notFound error) (*T, error) {
	data := b.Get(key)
	if data == nil {
		return nil, notFound
	}
	var v T
	if err := codec.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// scanPrefix decodes every record whose key starts with prefix.
func scanPrefix[T any](b *bbolt.Bucket, prefix []byte) ([]*T, error) {
	var out []*T
	c := b.Cursor()
	for k, data := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, data = c.Next() {
		var v T
		if err := codec.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// view runs fn in a read transaction after checking ctx.
func view(ctx context.Context, db *bbolt.DB, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.View(fn)
}

// update runs fn in a write transaction. ctx is checked before the
// transaction starts and again before it commits.
func update(ctx context.Context, db *bbolt.DB, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return ctx.Err()
	})
}
