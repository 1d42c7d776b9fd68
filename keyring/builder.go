package keyring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/logging"
	"github.com/bitfsorg/libpdv-go/model"
)

// SecretProvider supplies the bootstrap secret of a session: the account's
// master secret, which wraps the user's root role keys.
type SecretProvider interface {
	// SessionSecret returns the secret and the instant the session expires.
	// A missing or expired session yields ErrKeyMaterialUnavailable.
	SessionSecret(ctx context.Context, userID, sessionID uuid.UUID) (secret []byte, expiresAt time.Time, err error)
}

// Graph is the read side of the capability graph.
type Graph interface {
	Account(ctx context.Context, userID uuid.UUID) (*model.UserAccount, error)
	Memberships(ctx context.Context, userID uuid.UUID) ([]*model.Membership, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]*model.RoleEdge, error)
}

// Builder walks the graph and produces rings.
type Builder struct {
	graph   Graph
	secrets SecretProvider
	logger  *slog.Logger
}

// NewBuilder creates a ring builder. A nil logger discards output.
func NewBuilder(graph Graph, secrets SecretProvider, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{graph: graph, secrets: secrets, logger: logger}
}

// WrapRootKey wraps a root role key under the master secret, bound to the
// role id. Account creation and Owner memberships use it.
func WrapRootKey(masterSecret, roleKey []byte, roleID uuid.UUID) ([]byte, error) {
	return envelope.WrapKeyCopy(masterSecret, roleKey, roleID)
}

// Build produces the ring of userID for sessionID, along with the session's
// expiry. It fails with ErrKeyMaterialUnavailable when the session secret
// cannot be obtained or does not open the master role key. Per-edge unwrap
// failures are skipped. A cancelled context aborts the walk and no ring is
// returned.
func (b *Builder) Build(ctx context.Context, userID, sessionID uuid.UUID) (*RoleKeyRing, time.Time, error) {
	secret, expiresAt, err := b.secrets.SessionSecret(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, ErrKeyMaterialUnavailable) || ctx.Err() != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrKeyMaterialUnavailable, err)
	}

	account, err := b.graph.Account(ctx, userID)
	if err != nil {
		return nil, time.Time{}, err
	}

	keys := make(map[uuid.UUID]RoleKeys)
	var frontier []uuid.UUID

	addRoot := func(roleID uuid.UUID, wrapped []byte) error {
		roleKey, err := envelope.UnwrapKeyCopy(secret, wrapped, roleID)
		if err != nil {
			return err
		}
		read, write, err := envelope.DeriveRoleKeys(roleKey)
		if err != nil {
			return err
		}
		keys[roleID] = RoleKeys{Read: read, Write: write, Role: roleKey}
		frontier = append(frontier, roleID)
		return nil
	}

	if err := addRoot(account.MasterRoleID, account.EncryptedMasterRoleKey); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: master role key: %v", ErrKeyMaterialUnavailable, err)
	}

	memberships, err := b.graph.Memberships(ctx, userID)
	if err != nil {
		return nil, time.Time{}, err
	}
	for _, m := range memberships {
		if m.Relationship != model.RelationshipOwner {
			continue
		}
		if _, seen := keys[m.RoleID]; seen {
			continue
		}
		if err := addRoot(m.RoleID, m.EncryptedRoleKey); err != nil {
			b.logger.Debug("keyring: membership root skipped", "role", m.RoleID, "error", err)
		}
	}

	// Walk to a fixed point. A role is revisited when it gains a write key
	// so write copies below it become reachable.
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, time.Time{}, err
		}

		parentID := frontier[0]
		frontier = frontier[1:]
		parent := keys[parentID]

		edges, err := b.graph.Children(ctx, parentID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, time.Time{}, ctx.Err()
			}
			b.logger.Debug("keyring: edges unavailable", "parent", parentID, "error", err)
			continue
		}

		for _, e := range edges {
			got, ok := unwrapEdge(parent, e)
			if !ok {
				b.logger.Debug("keyring: edge skipped", "parent", e.ParentRoleID, "child", e.ChildRoleID)
				continue
			}

			have, known := keys[e.ChildRoleID]
			switch {
			case !known:
				keys[e.ChildRoleID] = got
				frontier = append(frontier, e.ChildRoleID)
			case len(have.Write) == 0 && len(got.Write) > 0:
				have.Write = got.Write
				keys[e.ChildRoleID] = have
				frontier = append(frontier, e.ChildRoleID)
			}
		}
	}

	ring := &RoleKeyRing{keys: keys}
	b.logger.Debug("keyring: ring built", "user", userID, "session", sessionID, "roles", ring.Len())
	return ring, expiresAt, nil
}

// unwrapEdge recovers the child's keys from one edge. The read copy must
// open with the parent's read key; the write copy is attempted only when
// the parent holds a write key, and its failure only drops write access.
func unwrapEdge(parent RoleKeys, e *model.RoleEdge) (RoleKeys, bool) {
	if len(parent.Read) == 0 || len(e.EncryptedReadKeyCopy) == 0 {
		return RoleKeys{}, false
	}
	read, err := envelope.UnwrapKeyCopy(parent.Read, e.EncryptedReadKeyCopy, e.ChildRoleID)
	if err != nil {
		return RoleKeys{}, false
	}

	out := RoleKeys{Read: read}
	if len(parent.Write) > 0 && len(e.EncryptedWriteKeyCopy) > 0 && e.Relationship.CanWrite() {
		if write, err := envelope.UnwrapKeyCopy(parent.Write, e.EncryptedWriteKeyCopy, e.ChildRoleID); err == nil {
			out.Write = write
		}
	}
	return out, true
}
