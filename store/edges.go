package store

import (
	"context"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpdv-go/model"
)

// EdgeStore persists role edges. At most one edge exists per ordered
// (parent, child) pair; edges are create-once.
//
// Layout: role_edges[parent||child] = edge, role_edges_rev[child||parent] = {},
// role_edges_idx[edgeID] = parent||child.
type EdgeStore struct {
	db *bbolt.DB
}

// Create stores a new edge. It fails with ErrEdgeExists when the pair is
// already linked.
func (s *EdgeStore) Create(ctx context.Context, e *model.RoleEdge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		created, err := createEdge(tx, e)
		if err != nil {
			return err
		}
		if !created {
			return ErrEdgeExists
		}
		return nil
	})
}

// CreateIfAbsent stores e unless the pair is already linked. It reports
// whether the edge was created; the first writer wins.
func (s *EdgeStore) CreateIfAbsent(ctx context.Context, e *model.RoleEdge) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	var created bool
	err := update(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		created, err = createEdge(tx, e)
		return err
	})
	return created, err
}

func createEdge(tx *bbolt.Tx, e *model.RoleEdge) (bool, error) {
	roles := tx.Bucket(bucketRoles)
	if roles.Get(idKey(e.ParentRoleID)) == nil || roles.Get(idKey(e.ChildRoleID)) == nil {
		return false, ErrRoleNotFound
	}

	edges := tx.Bucket(bucketRoleEdges)
	key := pairKey(e.ParentRoleID, e.ChildRoleID)
	if edges.Get(key) != nil {
		return false, nil
	}
	if err := putRecord(edges, key, e); err != nil {
		return false, err
	}
	if err := tx.Bucket(bucketRoleEdgesRev).Put(pairKey(e.ChildRoleID, e.ParentRoleID), []byte{}); err != nil {
		return false, err
	}
	if err := tx.Bucket(bucketRoleEdgesIdx).Put(idKey(e.ID), key); err != nil {
		return false, err
	}
	return true, nil
}

// Get retrieves the edge for a (parent, child) pair.
func (s *EdgeStore) Get(ctx context.Context, parentID, childID uuid.UUID) (*model.RoleEdge, error) {
	var out *model.RoleEdge
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = getRecord[model.RoleEdge](tx.Bucket(bucketRoleEdges), pairKey(parentID, childID), ErrEdgeNotFound)
		return err
	})
	return out, err
}

// ByID retrieves an edge by id.
func (s *EdgeStore) ByID(ctx context.Context, id uuid.UUID) (*model.RoleEdge, error) {
	var out *model.RoleEdge
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketRoleEdgesIdx).Get(idKey(id))
		if key == nil {
			return ErrEdgeNotFound
		}
		var err error
		out, err = getRecord[model.RoleEdge](tx.Bucket(bucketRoleEdges), key, ErrEdgeNotFound)
		return err
	})
	return out, err
}

// Children returns the outgoing edges of parentID.
func (s *EdgeStore) Children(ctx context.Context, parentID uuid.UUID) ([]*model.RoleEdge, error) {
	var out []*model.RoleEdge
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = scanPrefix[model.RoleEdge](tx.Bucket(bucketRoleEdges), idKey(parentID))
		return err
	})
	return out, err
}

// Parents returns the incoming edges of childID.
func (s *EdgeStore) Parents(ctx context.Context, childID uuid.UUID) ([]*model.RoleEdge, error) {
	var out []*model.RoleEdge
	err := view(ctx, s.db, func(tx *bbolt.Tx) error {
		var err error
		out, err = incomingEdges(tx, childID)
		return err
	})
	return out, err
}

func incomingEdges(tx *bbolt.Tx, childID uuid.UUID) ([]*model.RoleEdge, error) {
	var out []*model.RoleEdge
	edges := tx.Bucket(bucketRoleEdges)
	prefix := idKey(childID)
	c := tx.Bucket(bucketRoleEdgesRev).Cursor()
	for k, _ := c.Seek(prefix); k != nil && len(k) == 32 && uuid.UUID(k[:16]) == childID; k, _ = c.Next() {
		e, err := getRecord[model.RoleEdge](edges, pairKey(uuid.UUID(k[16:]), childID), ErrEdgeNotFound)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Delete removes the edge for a (parent, child) pair.
func (s *EdgeStore) Delete(ctx context.Context, parentID, childID uuid.UUID) error {
	return update(ctx, s.db, func(tx *bbolt.Tx) error {
		return deleteEdge(tx, parentID, childID)
	})
}

func deleteEdge(tx *bbolt.Tx, parentID, childID uuid.UUID) error {
	edges := tx.Bucket(bucketRoleEdges)
	key := pairKey(parentID, childID)
	e, err := getRecord[model.RoleEdge](edges, key, ErrEdgeNotFound)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketRoleEdgesIdx).Delete(idKey(e.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketRoleEdgesRev).Delete(pairKey(childID, parentID)); err != nil {
		return err
	}
	return edges.Delete(key)
}
