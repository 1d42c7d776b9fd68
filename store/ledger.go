package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/codec"
	"github.com/bitfsorg/libpdv-go/ledger"
)

// LedgerStore persists the three ledger chains, one bucket each, keyed by
// bigendian(unixNano)||id so cursor order is chain order.
type LedgerStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ ledger.Store = (*LedgerStore)(nil)

func ledgerBucket(cat ledger.Category) ([]byte, error) {
	switch cat {
	case ledger.CategoryAuth:
		return bucketLedgerAuth, nil
	case ledger.CategoryKey:
		return bucketLedgerKey, nil
	case ledger.CategoryBusiness:
		return bucketLedgerBusiness, nil
	default:
		return nil, ledger.ErrInvalidCategory
	}
}

// entryKey encodes the chain order key of an entry.
func entryKey(e *ledger.Entry) []byte {
	k := make([]byte, 8, 24)
	binary.BigEndian.PutUint64(k, uint64(e.Timestamp.UnixNano()))
	return append(k, e.ID[:]...)
}

// Append implements ledger.Store. The tail read, build and put share one
// write transaction.
func (s *LedgerStore) Append(ctx context.Context, cat ledger.Category, build func(tail *ledger.Entry) (*ledger.Entry, error)) (*ledger.Entry, error) {
	name, err := ledgerBucket(cat)
	if err != nil {
		return nil, err
	}

	var out *ledger.Entry
	err = update(ctx, s.db, func(tx *bbolt.Tx) error {
		b := tx.Bucket(name)

		var tail *ledger.Entry
		if _, data := b.Cursor().Last(); data != nil {
			tail = &ledger.Entry{}
			if err := codec.Unmarshal(data, tail); err != nil {
				return fmt.Errorf("store: decode ledger tail: %w", err)
			}
		}

		e, err := build(tail)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("%w: ledger entry", ErrNilParam)
		}
		if err := putRecord(b, entryKey(e), e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Entries implements ledger.Store.
func (s *LedgerStore) Entries(ctx context.Context, cat ledger.Category) ([]*ledger.Entry, error) {
	name, err := ledgerBucket(cat)
	if err != nil {
		return nil, err
	}
	var out []*ledger.Entry
	err = view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[ledger.Entry](tx.Bucket(name), nil)
		return err
	})
	return out, err
}

// Get implements ledger.Store.
func (s *LedgerStore) Get(ctx context.Context, cat ledger.Category, id uuid.UUID) (*ledger.Entry, error) {
	name, err := ledgerBucket(cat)
	if err != nil {
		return nil, err
	}
	var out *ledger.Entry
	err = view(ctx, s.db, func(tx *bbolt.Tx) error {
		c := tx.Bucket(name).Cursor()
		for k, data := c.Last(); k != nil; k, data = c.Prev() {
			if len(k) == 24 && bytes.Equal(k[8:], id[:]) {
				var e ledger.Entry
				if err := codec.Unmarshal(data, &e); err != nil {
					return err
				}
				out = &e
				return nil
			}
		}
		return ledger.ErrEntryNotFound
	})
	return out, err
}
