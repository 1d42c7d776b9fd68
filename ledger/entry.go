// Package ledger implements the three append-only hash chains (Auth, Key,
// Business) that record every key and authorization event, and the
// verification service that re-walks a chain and reports violations.
//
// Each entry commits to its predecessor:
//
//	Hash = SHA-256(CBOR[eventType, actor, payload, timestamp(ns), PreviousHash])
//
// The first entry of a chain links to GenesisHash. Chain order is
// (timestamp, id); appends force timestamps to be strictly increasing per
// chain so storage order and chain order always agree.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/codec"
)

// GenesisHash is the PreviousHash of the first entry in every chain.
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// Category selects one of the independent chains.
type Category uint8

const (
	CategoryAuth Category = iota + 1
	CategoryKey
	CategoryBusiness
)

// Categories lists every chain in a stable order.
var Categories = []Category{CategoryAuth, CategoryKey, CategoryBusiness}

// String returns the chain name.
func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "auth"
	case CategoryKey:
		return "key"
	case CategoryBusiness:
		return "business"
	default:
		return "unknown"
	}
}

// Valid reports whether c names a chain.
func (c Category) Valid() bool {
	return c >= CategoryAuth && c <= CategoryBusiness
}

// ParseCategory parses a chain name ("auth", "key", "business").
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Entry is one ledger record.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	Category     Category  `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	EventType    string    `json:"event_type"`
	Payload      string    `json:"payload"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash"`

	// Present only when the append carried a signing context.
	SignerRoleID uuid.UUID `json:"signer_role_id"`
	Signature    []byte    `json:"signature,omitempty"`
	SignatureAlg string    `json:"signature_alg,omitempty"`
}

// Signed reports whether the entry carries a signature.
func (e *Entry) Signed() bool {
	return len(e.Signature) > 0
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Signature != nil {
		c.Signature = bytes.Clone(e.Signature)
	}
	return &c
}

// Content returns the canonical byte encoding of the entry's hashed fields,
// linked to prevHash. It is also the message signed by the signer.
func Content(eventType, actor, payload string, ts time.Time, prevHash string) ([]byte, error) {
	return codec.Marshal([]any{eventType, actor, payload, ts.UnixNano(), prevHash})
}

// ComputeHash returns the hex SHA-256 of the entry content linked to prevHash.
func ComputeHash(eventType, actor, payload string, ts time.Time, prevHash string) (string, error) {
	content, err := Content(eventType, actor, payload, ts, prevHash)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// Less orders entries by (timestamp, id), the chain order key.
func Less(a, b *Entry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
