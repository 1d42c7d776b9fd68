package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/model"
)

// roleMaterial is a freshly created role together with its keys.
type roleMaterial struct {
	role                 *model.Role
	roleKey, read, write []byte
}

// newRole generates a role key, derives its read and write keys, seals a
// fresh signing and encryption key pair under the write key and stores the
// role.
func (v *Vault) newRole(ctx context.Context, roleType string) (*roleMaterial, error) {
	roleType = strings.TrimSpace(roleType)
	if roleType == "" {
		return nil, ErrInvalidName
	}

	roleKey, err := envelope.GenerateKey()
	if err != nil {
		return nil, err
	}
	read, write, err := envelope.DeriveRoleKeys(roleKey)
	if err != nil {
		return nil, err
	}
	secrets, signing, encryption, err := envelope.NewRoleSecrets(v.encryptionAlg)
	if err != nil {
		return nil, err
	}

	role := &model.Role{
		ID:                     uuid.New(),
		RoleType:               roleType,
		PublicSigningKey:       signing.PublicKey,
		PublicSigningKeyAlg:    signing.Alg,
		PublicEncryptionKey:    encryption.PublicKey,
		PublicEncryptionKeyAlg: encryption.Alg,
		CreatedUTC:             time.Now().UTC(),
	}
	role.EncryptedRoleBlob, err = envelope.SealRoleSecrets(write, role.ID, secrets)
	if err != nil {
		return nil, err
	}
	if err := v.Store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	return &roleMaterial{role: role, roleKey: roleKey, read: read, write: write}, nil
}

// discardRole deletes a role stored by newRole whose linking step failed,
// so no unreachable role is left behind.
func (v *Vault) discardRole(ctx context.Context, roleID uuid.UUID) {
	if err := v.Store.Roles().Delete(context.WithoutCancel(ctx), roleID); err != nil {
		v.logger.Warn("vault: orphaned role", "role", roleID, "error", err)
	}
}

// recordRoleKey records the creation of a role on the Key chain and stores
// its wrapped role key entry referencing that ledger entry.
func (v *Vault) recordRoleKey(ctx context.Context, s Session, signer *ledger.SigningContext, m *roleMaterial, wrapped []byte) error {
	ref, err := v.record(ctx, ledger.CategoryKey, ledger.EventRoleCreated, s, signer, map[string]any{
		"role": m.role.ID, "type": m.role.RoleType,
	})
	if err != nil {
		return err
	}
	return v.Store.Keys().Create(ctx, &model.KeyEntry{
		ID:               uuid.New(),
		KeyType:          model.KeyTypeRoleKey,
		RoleID:           m.role.ID,
		Version:          1,
		EncryptedKeyBlob: wrapped,
		LedgerRefID:      ref,
		CreatedUTC:       time.Now().UTC(),
	})
}

// signerFromKey opens roleID's signing key with writeKey when ledger
// signing is on.
func (v *Vault) signerFromKey(ctx context.Context, roleID uuid.UUID, writeKey []byte) *ledger.SigningContext {
	if !v.signLedger {
		return nil
	}
	return ledger.TryGetSigningContext(ctx, v.Store.Roles(), roleID, writeKey)
}

// CreatePerson creates a person role owned directly by the caller through
// an Owner membership and sets its reserved nick field.
func (v *Vault) CreatePerson(ctx context.Context, s Session, nick string) (*model.Role, error) {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return nil, ErrInvalidName
	}
	secret, _, err := v.Sessions.SessionSecret(ctx, s.UserID, s.SessionID)
	if err != nil {
		return nil, err
	}
	defer clear(secret)

	m, err := v.newRole(ctx, "person")
	if err != nil {
		return nil, err
	}
	wrapped, err := keyring.WrapRootKey(secret, m.roleKey, m.role.ID)
	if err != nil {
		v.discardRole(ctx, m.role.ID)
		return nil, err
	}
	if err := v.Store.Memberships().Create(ctx, &model.Membership{
		ID:               uuid.New(),
		UserID:           s.UserID,
		RoleID:           m.role.ID,
		Relationship:     model.RelationshipOwner,
		EncryptedRoleKey: wrapped,
		CreatedUTC:       time.Now().UTC(),
	}); err != nil {
		v.discardRole(ctx, m.role.ID)
		return nil, err
	}

	signer := v.signerFromKey(ctx, m.role.ID, m.write)
	if err := v.recordRoleKey(ctx, s, signer, m, wrapped); err != nil {
		return nil, err
	}
	if _, err := v.putField(ctx, s, m.role.ID, m.read, signer, "nick", nick); err != nil {
		return nil, err
	}
	if _, err := v.record(ctx, ledger.CategoryBusiness, ledger.EventPersonCreated, s, signer, map[string]any{
		"role": m.role.ID,
	}); err != nil {
		return nil, err
	}

	v.Rings.InvalidateUser(s.UserID)
	return m.role, nil
}

// CreateRoleOpts holds options for CreateRole.
type CreateRoleOpts struct {
	ParentRoleID uuid.UUID
	RoleType     string
}

// CreateRole creates a role below ParentRoleID, linked by an Owner edge.
// The caller must hold the parent's write key. The new role's key entry is
// wrapped under the parent's write key.
func (v *Vault) CreateRole(ctx context.Context, s Session, opts *CreateRoleOpts) (*model.Role, error) {
	if opts == nil {
		return nil, ErrNilParam
	}
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	parentRead, okRead := ring.TryGetReadKey(opts.ParentRoleID)
	parentWrite, okWrite := ring.TryGetWriteKey(opts.ParentRoleID)
	if !okRead || !okWrite {
		return nil, ErrMissingKeys
	}

	m, err := v.newRole(ctx, opts.RoleType)
	if err != nil {
		return nil, err
	}
	edge, err := wrapEdge(opts.ParentRoleID, m.role.ID, model.RelationshipOwner, parentRead, parentWrite, m.read, m.write)
	if err != nil {
		v.discardRole(ctx, m.role.ID)
		return nil, err
	}
	if err := v.Store.Edges().Create(ctx, edge); err != nil {
		v.discardRole(ctx, m.role.ID)
		return nil, err
	}

	wrapped, err := envelope.WrapKeyCopy(parentWrite, m.roleKey, m.role.ID)
	if err != nil {
		return nil, err
	}
	signer := v.signer(ctx, ring, opts.ParentRoleID)
	if err := v.recordRoleKey(ctx, s, signer, m, wrapped); err != nil {
		return nil, err
	}
	if _, err := v.record(ctx, ledger.CategoryKey, ledger.EventEdgeCreated, s, signer, map[string]any{
		"parent": opts.ParentRoleID, "child": m.role.ID, "relationship": model.RelationshipOwner.String(),
	}); err != nil {
		return nil, err
	}

	v.Rings.InvalidateUser(s.UserID)
	return m.role, nil
}

// LinkOpts holds options for LinkRoles.
type LinkOpts struct {
	ParentRoleID uuid.UUID
	ChildRoleID  uuid.UUID
	Relationship model.RelationshipType
}

// LinkRoles adds an edge parent->child. The caller must hold the parent's
// write key and the child's read key, plus the child's write key for a
// write-capable relationship. Linking an already linked pair is a conflict.
func (v *Vault) LinkRoles(ctx context.Context, s Session, opts *LinkOpts) (*model.RoleEdge, error) {
	if opts == nil {
		return nil, ErrNilParam
	}
	if !opts.Relationship.Valid() {
		return nil, fmt.Errorf("%w: relationship %d", model.ErrBadRequest, opts.Relationship)
	}
	if opts.ParentRoleID == opts.ChildRoleID {
		return nil, fmt.Errorf("%w: a role cannot link to itself", model.ErrBadRequest)
	}

	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	parentRead, okPR := ring.TryGetReadKey(opts.ParentRoleID)
	parentWrite, okPW := ring.TryGetWriteKey(opts.ParentRoleID)
	childRead, okCR := ring.TryGetReadKey(opts.ChildRoleID)
	childWrite, okCW := ring.TryGetWriteKey(opts.ChildRoleID)
	if !okPR || !okPW || !okCR || (opts.Relationship.CanWrite() && !okCW) {
		return nil, ErrMissingKeys
	}
	if !opts.Relationship.CanWrite() {
		childWrite = nil
	}

	edge, err := wrapEdge(opts.ParentRoleID, opts.ChildRoleID, opts.Relationship, parentRead, parentWrite, childRead, childWrite)
	if err != nil {
		return nil, err
	}
	if err := v.Store.Edges().Create(ctx, edge); err != nil {
		return nil, err
	}
	if _, err := v.record(ctx, ledger.CategoryKey, ledger.EventEdgeCreated, s, v.signer(ctx, ring, opts.ParentRoleID), map[string]any{
		"parent": opts.ParentRoleID, "child": opts.ChildRoleID, "relationship": opts.Relationship.String(),
	}); err != nil {
		return nil, err
	}

	v.Rings.InvalidateUser(s.UserID)
	return edge, nil
}

// wrapEdge builds an edge carrying the child's keys wrapped under the
// parent's. A nil childWrite yields a read-only copy set.
func wrapEdge(parentID, childID uuid.UUID, rel model.RelationshipType, parentRead, parentWrite, childRead, childWrite []byte) (*model.RoleEdge, error) {
	edge := &model.RoleEdge{
		ID:           uuid.New(),
		ParentRoleID: parentID,
		ChildRoleID:  childID,
		Relationship: rel,
		CreatedUTC:   time.Now().UTC(),
	}
	var err error
	edge.EncryptedReadKeyCopy, err = envelope.WrapKeyCopy(parentRead, childRead, childID)
	if err != nil {
		return nil, err
	}
	if rel.CanWrite() && childWrite != nil {
		edge.EncryptedWriteKeyCopy, err = envelope.WrapKeyCopy(parentWrite, childWrite, childID)
		if err != nil {
			return nil, err
		}
	}
	return edge, edge.Validate()
}

// DeleteEdge removes the edge parent->child. The caller must hold the
// parent's write key. Revocation is forward only: key rings built from now
// on no longer reach the child through this edge, and ledger history is
// left untouched.
func (v *Vault) DeleteEdge(ctx context.Context, s Session, parentRoleID, childRoleID uuid.UUID) error {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return err
	}
	if !ring.CanWrite(parentRoleID) {
		return ErrMissingKeys
	}
	if err := v.Store.Edges().Delete(ctx, parentRoleID, childRoleID); err != nil {
		return err
	}
	v.Rings.InvalidateAll()

	_, err = v.record(ctx, ledger.CategoryKey, ledger.EventEdgeDeleted, s, v.signer(ctx, ring, parentRoleID), map[string]any{
		"parent": parentRoleID, "child": childRoleID,
	})
	return err
}

// DeleteRole removes a role with its fields, keys, edges and memberships.
// The caller must hold the role's write key. Master roles cannot be
// deleted.
func (v *Vault) DeleteRole(ctx context.Context, s Session, roleID uuid.UUID) error {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return err
	}
	if !ring.CanWrite(roleID) {
		return ErrMissingKeys
	}
	accounts, err := v.Store.Accounts().List(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.MasterRoleID == roleID {
			return ErrMasterRole
		}
	}

	// Sign before the role's secret blob is gone.
	signer := v.signer(ctx, ring, roleID)
	if err := v.Store.Roles().Delete(ctx, roleID); err != nil {
		return err
	}
	v.Rings.InvalidateAll()

	_, err = v.record(ctx, ledger.CategoryKey, ledger.EventRoleDeleted, s, signer, map[string]any{
		"role": roleID,
	})
	return err
}

// RoleAccess is one role reachable by the caller.
type RoleAccess struct {
	Role     *model.Role
	CanWrite bool
	Nick     string // empty when the role has no readable nick
}

// ListRoles returns every role in the caller's key ring. Roles that
// vanished since the ring was built are skipped.
func (v *Vault) ListRoles(ctx context.Context, s Session) ([]RoleAccess, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}

	var out []RoleAccess
	for _, id := range ring.Roles() {
		role, err := v.Store.Roles().Role(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		access := RoleAccess{Role: role, CanWrite: ring.CanWrite(id)}
		if read, ok := ring.TryGetReadKey(id); ok {
			if f, err := v.Store.Fields().Get(ctx, id, "nick"); err == nil {
				access.Nick, _ = v.decryptField(ctx, read, f)
			}
		}
		out = append(out, access)
	}
	return out, nil
}

// Role returns a role the caller can read.
func (v *Vault) Role(ctx context.Context, s Session, roleID uuid.UUID) (*model.Role, error) {
	ring, err := v.ring(ctx, s)
	if err != nil {
		return nil, err
	}
	if _, ok := ring.TryGetReadKey(roleID); !ok {
		return nil, ErrMissingKeys
	}
	return v.Store.Roles().Role(ctx, roleID)
}
