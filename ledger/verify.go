package ledger

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
)

// ViolationKind classifies one verification finding.
type ViolationKind uint8

const (
	// ViolationHash: the stored hash does not match the entry's content
	// linked to the predecessor's stored hash. The entry was altered.
	ViolationHash ViolationKind = iota + 1

	// ViolationPreviousHash: the declared predecessor link does not match
	// the predecessor's recomputed hash (or genesis for the first entry).
	ViolationPreviousHash

	// ViolationSignatureMissing: the entry is unsigned.
	ViolationSignatureMissing

	// ViolationSignatureInvalid: the signature does not verify, or its
	// signer's public key is unknown.
	ViolationSignatureInvalid
)

// String returns the string representation of a violation kind.
func (k ViolationKind) String() string {
	switch k {
	case ViolationHash:
		return "hash_mismatch"
	case ViolationPreviousHash:
		return "previous_hash_mismatch"
	case ViolationSignatureMissing:
		return "signature_missing"
	case ViolationSignatureInvalid:
		return "signature_invalid"
	default:
		return "unknown"
	}
}

// Violation is one finding, positioned in chain order.
type Violation struct {
	Index   int           `json:"index"`
	EntryID uuid.UUID     `json:"entry_id"`
	Kind    ViolationKind `json:"kind"`
}

// Report summarizes the verification of one chain.
type Report struct {
	Ledger                 string      `json:"ledger"`
	Entries                int         `json:"entries"`
	HashMismatches         int         `json:"hash_mismatches"`
	PreviousHashMismatches int         `json:"previous_hash_mismatches"`
	SignaturesMissing      int         `json:"signatures_missing"`
	SignaturesInvalid      int         `json:"signatures_invalid"`
	RoleSignedEntries      int         `json:"role_signed_entries"`
	Violations             []Violation `json:"violations,omitempty"`
}

// OK reports whether the chain is intact. Missing signatures do not count:
// ledger signing is optional.
func (r *Report) OK() bool {
	return r.HashMismatches == 0 && r.PreviousHashMismatches == 0 && r.SignaturesInvalid == 0
}

// SignerKeys resolves the public signing key of a role.
type SignerKeys interface {
	SigningPublicKey(ctx context.Context, roleID uuid.UUID) (publicKey []byte, alg string, err error)
}

// VerifyLedger re-walks entries in (timestamp, id) order and reports every
// violation. It never mutates entries; the only error it returns is a
// cancelled context.
//
// Each entry's expected hash is computed from its content and the
// predecessor's stored hash, so a single altered entry k yields exactly one
// hash mismatch (at k) and one previous-hash mismatch (at k+1).
//
// RoleSignedEntries counts entries carrying a valid signature by roleID. A
// nil keys resolver makes every signature count as invalid.
func VerifyLedger(ctx context.Context, name string, entries []*Entry, roleID uuid.UUID, keys SignerKeys) (*Report, error) {
	ordered := slices.Clone(entries)
	ordered = slices.DeleteFunc(ordered, func(e *Entry) bool { return e == nil })
	slices.SortStableFunc(ordered, func(a, b *Entry) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		default:
			return 0
		}
	})

	report := &Report{Ledger: name, Entries: len(ordered)}
	add := func(i int, e *Entry, kind ViolationKind) {
		report.Violations = append(report.Violations, Violation{Index: i, EntryID: e.ID, Kind: kind})
	}

	type signerKey struct {
		pub []byte
		alg string
		ok  bool
	}
	signers := make(map[uuid.UUID]signerKey)

	storedPrev := GenesisHash
	expectedPrev := GenesisHash
	for i, e := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		expected, err := ComputeHash(e.EventType, e.Actor, e.Payload, e.Timestamp, storedPrev)
		if err != nil || expected != e.Hash {
			report.HashMismatches++
			add(i, e, ViolationHash)
		}

		if e.PreviousHash != expectedPrev {
			report.PreviousHashMismatches++
			add(i, e, ViolationPreviousHash)
		}

		// Link for the next entry: its stored predecessor hash and this
		// entry's recomputed hash over its own declared link.
		storedPrev = e.Hash
		expectedPrev, err = ComputeHash(e.EventType, e.Actor, e.Payload, e.Timestamp, e.PreviousHash)
		if err != nil {
			expectedPrev = ""
		}

		if !e.Signed() {
			report.SignaturesMissing++
			add(i, e, ViolationSignatureMissing)
			continue
		}

		sk, seen := signers[e.SignerRoleID]
		if !seen {
			if keys != nil {
				pub, alg, err := keys.SigningPublicKey(ctx, e.SignerRoleID)
				sk = signerKey{pub: pub, alg: alg, ok: err == nil && len(pub) > 0}
			}
			signers[e.SignerRoleID] = sk
		}

		valid := false
		if sk.ok && sk.alg == e.SignatureAlg {
			content, err := Content(e.EventType, e.Actor, e.Payload, e.Timestamp, e.PreviousHash)
			if err == nil {
				valid, _ = envelope.Verify(sk.pub, sk.alg, content, e.Signature)
			}
		}
		if !valid {
			report.SignaturesInvalid++
			add(i, e, ViolationSignatureInvalid)
			continue
		}
		if roleID != uuid.Nil && e.SignerRoleID == roleID {
			report.RoleSignedEntries++
		}
	}
	return report, nil
}
