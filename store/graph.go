package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/model"
)

// Graph is the read side of the capability graph as the key ring builder
// consumes it.
type Graph struct {
	s *BoltStore
}

var _ keyring.Graph = (*Graph)(nil)

// Graph returns the capability graph view of the store.
func (s *BoltStore) Graph() *Graph { return &Graph{s: s} }

// Account returns the account with id userID.
func (g *Graph) Account(ctx context.Context, userID uuid.UUID) (*model.UserAccount, error) {
	return g.s.Accounts().Get(ctx, userID)
}

// Memberships returns every membership of userID.
func (g *Graph) Memberships(ctx context.Context, userID uuid.UUID) ([]*model.Membership, error) {
	return g.s.Memberships().ForUser(ctx, userID)
}

// Children returns the outgoing edges of parentID.
func (g *Graph) Children(ctx context.Context, parentID uuid.UUID) ([]*model.RoleEdge, error) {
	return g.s.Edges().Children(ctx, parentID)
}
