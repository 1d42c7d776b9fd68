// Package keyring derives and caches the per-session role key ring: the
// decrypted map of every role a user can reach to that role's keys.
//
// A ring is built by walking the capability graph from the user's roots
// (the master role and Owner memberships) and unwrapping each edge's key
// copies with the parent's key of matching strength. Edges that fail to
// unwrap are skipped. Rings are immutable once built and are cached per
// session until the session expires, the TTL elapses, or the graph changes.
package keyring

import (
	"bytes"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// RoleKeys are the decrypted keys of one role. Read is always present;
// Write is present when the holder may mutate the role; Role only for
// roots (the legacy role key path).
type RoleKeys struct {
	Read  []byte
	Write []byte
	Role  []byte
}

func (k RoleKeys) clone() RoleKeys {
	return RoleKeys{Read: bytes.Clone(k.Read), Write: bytes.Clone(k.Write), Role: bytes.Clone(k.Role)}
}

// RoleKeyRing is an immutable map of role id to decrypted keys.
type RoleKeyRing struct {
	keys map[uuid.UUID]RoleKeys
}

// NewRoleKeyRing builds a ring from keys. The map is copied.
func NewRoleKeyRing(keys map[uuid.UUID]RoleKeys) *RoleKeyRing {
	r := &RoleKeyRing{keys: make(map[uuid.UUID]RoleKeys, len(keys))}
	for id, k := range keys {
		r.keys[id] = k.clone()
	}
	return r
}

// TryGetReadKey returns the read key of roleID.
func (r *RoleKeyRing) TryGetReadKey(roleID uuid.UUID) ([]byte, bool) {
	return r.lookup(roleID, func(k RoleKeys) []byte { return k.Read })
}

// TryGetWriteKey returns the write key of roleID.
func (r *RoleKeyRing) TryGetWriteKey(roleID uuid.UUID) ([]byte, bool) {
	return r.lookup(roleID, func(k RoleKeys) []byte { return k.Write })
}

// TryGetRoleKey returns the role key of roleID. Only roots carry one.
func (r *RoleKeyRing) TryGetRoleKey(roleID uuid.UUID) ([]byte, bool) {
	return r.lookup(roleID, func(k RoleKeys) []byte { return k.Role })
}

func (r *RoleKeyRing) lookup(roleID uuid.UUID, pick func(RoleKeys) []byte) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	k, ok := r.keys[roleID]
	if !ok {
		return nil, false
	}
	key := pick(k)
	if len(key) == 0 {
		return nil, false
	}
	return bytes.Clone(key), true
}

// CanWrite reports whether the ring holds both keys of roleID.
func (r *RoleKeyRing) CanWrite(roleID uuid.UUID) bool {
	_, okR := r.TryGetReadKey(roleID)
	_, okW := r.TryGetWriteKey(roleID)
	return okR && okW
}

// Roles returns the reachable role ids in a stable order.
func (r *RoleKeyRing) Roles() []uuid.UUID {
	if r == nil {
		return nil
	}
	ids := slices.Collect(maps.Keys(r.keys))
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}

// Len returns the number of reachable roles.
func (r *RoleKeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}
