// Package sharing implements the two-phase pending-share protocol. The
// sharer wraps a role's read (and for write-capable shares, write) key
// under the recipient role's public encryption key. The recipient later
// accepts: it opens its own private key with its write key, unwraps the
// shared keys and re-wraps them symmetrically into a new graph edge.
//
//	Pending --accept--> Accepted
//
// An unaccepted share stays Pending.
package sharing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/logging"
	"github.com/bitfsorg/libpdv-go/model"
)

// ShareStore persists pending shares.
type ShareStore interface {
	Create(ctx context.Context, sh *model.PendingRoleShare) error
	Get(ctx context.Context, id uuid.UUID) (*model.PendingRoleShare, error)
	PendingForTargets(ctx context.Context, targets map[uuid.UUID]bool) ([]*model.PendingRoleShare, error)
	Accept(ctx context.Context, shareID uuid.UUID, edge *model.RoleEdge) (*model.PendingRoleShare, *model.RoleEdge, error)
}

// Service runs the sharing protocol.
type Service struct {
	roles  ledger.RoleSource
	shares ShareStore
	ledger *ledger.Service
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a sharing service. A nil logger discards output.
func NewService(roles ledger.RoleSource, shares ShareStore, l *ledger.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{roles: roles, shares: shares, ledger: l, now: time.Now, logger: logger}
}

// CreateShare offers sourceRoleID to targetRoleID with relationship rel.
// The ring must hold the source's read key, and its write key too when rel
// grants write access. The event is recorded on the Key chain, signed by
// the source role when its signing key is reachable.
//
// The Key chain entry is appended before the share is stored, since the
// share carries the entry id. If storing fails the entry stays on the chain
// and the error is logged with its id.
func (s *Service) CreateShare(ctx context.Context, ring *keyring.RoleKeyRing, actor string, sourceRoleID, targetRoleID uuid.UUID, rel model.RelationshipType) (*model.PendingRoleShare, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	if !rel.Valid() {
		return nil, fmt.Errorf("%w: relationship %d", ErrInvalidShare, rel)
	}
	if sourceRoleID == targetRoleID {
		return nil, fmt.Errorf("%w: a role cannot be shared with itself", ErrInvalidShare)
	}

	readKey, ok := ring.TryGetReadKey(sourceRoleID)
	if !ok {
		return nil, ErrMissingKeys
	}
	writeKey, hasWrite := ring.TryGetWriteKey(sourceRoleID)
	if rel.CanWrite() && !hasWrite {
		return nil, ErrMissingKeys
	}

	target, err := s.roles.Role(ctx, targetRoleID)
	if err != nil {
		return nil, err
	}
	if len(target.PublicEncryptionKey) == 0 {
		return nil, ErrNoEncryptionKey
	}

	sh := &model.PendingRoleShare{
		ID:            uuid.New(),
		SourceRoleID:  sourceRoleID,
		TargetRoleID:  targetRoleID,
		Relationship:  rel,
		EncryptionAlg: target.PublicEncryptionKeyAlg,
		Status:        model.SharePending,
		CreatedUTC:    s.now().UTC(),
	}
	sh.EncryptedReadKeyBlob, err = envelope.EncryptWithPublicKey(target.PublicEncryptionKey, target.PublicEncryptionKeyAlg, readKey)
	if err != nil {
		return nil, fmt.Errorf("sharing: wrap read key: %w", err)
	}
	if rel.CanWrite() {
		sh.EncryptedWriteKeyBlob, err = envelope.EncryptWithPublicKey(target.PublicEncryptionKey, target.PublicEncryptionKeyAlg, writeKey)
		if err != nil {
			return nil, fmt.Errorf("sharing: wrap write key: %w", err)
		}
	}

	payload, err := ledger.Payload(map[string]any{
		"share":        sh.ID,
		"source":       sourceRoleID,
		"target":       targetRoleID,
		"relationship": rel.String(),
	})
	if err != nil {
		return nil, err
	}
	var signer *ledger.SigningContext
	if hasWrite {
		signer = ledger.TryGetSigningContext(ctx, s.roles, sourceRoleID, writeKey)
	}
	entry, err := s.ledger.AppendKey(ctx, ledger.EventShareCreated, actor, payload, signer)
	if err != nil {
		return nil, fmt.Errorf("sharing: record share: %w", err)
	}
	sh.LedgerRefID = entry.ID

	if err := s.shares.Create(ctx, sh); err != nil {
		s.logger.Error("sharing: store share", "share", sh.ID, "ledger_entry", entry.ID, "error", err)
		return nil, err
	}

	s.logger.Info("sharing: share created",
		"share", sh.ID, "source", sourceRoleID, "target", targetRoleID, "relationship", rel.String())
	return sh, nil
}

// AcceptShare consumes a pending share on behalf of its target role and
// returns the edge target->source. It fails with a not-found error when the
// share is missing or no longer pending, ErrMissingKeys when the ring lacks
// the target's read and write keys, and ErrUnwrapFailed when the shared keys
// do not open. If the edge already existed the share is still accepted and
// the existing edge is kept and returned. The share is consumed before the Key chain
// entry is appended; if the append fails the edge is returned along with
// the error.
func (s *Service) AcceptShare(ctx context.Context, ring *keyring.RoleKeyRing, actor string, shareID uuid.UUID) (*model.RoleEdge, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	sh, err := s.shares.Get(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if sh.Status != model.SharePending {
		return nil, fmt.Errorf("%w: share %s", model.ErrNotFound, shareID)
	}

	targetRead, okRead := ring.TryGetReadKey(sh.TargetRoleID)
	targetWrite, okWrite := ring.TryGetWriteKey(sh.TargetRoleID)
	if !okRead || !okWrite {
		return nil, ErrMissingKeys
	}

	target, err := s.roles.Role(ctx, sh.TargetRoleID)
	if err != nil {
		return nil, err
	}
	secrets, err := envelope.OpenRoleSecrets(targetWrite, target.EncryptedRoleBlob, target.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: open target role secrets: %v", ErrUnwrapFailed, err)
	}

	sourceRead, err := envelope.DecryptWithPrivateKey(secrets.EncryptionKey, sh.EncryptionAlg, sh.EncryptedReadKeyBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: read key: %v", ErrUnwrapFailed, err)
	}

	edge := &model.RoleEdge{
		ID:           uuid.New(),
		ParentRoleID: sh.TargetRoleID,
		ChildRoleID:  sh.SourceRoleID,
		Relationship: sh.Relationship,
		CreatedUTC:   s.now().UTC(),
	}
	edge.EncryptedReadKeyCopy, err = envelope.WrapKeyCopy(targetRead, sourceRead, sh.SourceRoleID)
	if err != nil {
		return nil, fmt.Errorf("sharing: rewrap read key: %w", err)
	}
	if sh.Relationship.CanWrite() {
		sourceWrite, err := envelope.DecryptWithPrivateKey(secrets.EncryptionKey, sh.EncryptionAlg, sh.EncryptedWriteKeyBlob)
		if err != nil {
			return nil, fmt.Errorf("%w: write key: %v", ErrUnwrapFailed, err)
		}
		edge.EncryptedWriteKeyCopy, err = envelope.WrapKeyCopy(targetWrite, sourceWrite, sh.SourceRoleID)
		if err != nil {
			return nil, fmt.Errorf("sharing: rewrap write key: %w", err)
		}
	}

	_, stored, err := s.shares.Accept(ctx, sh.ID, edge)
	if err != nil {
		return nil, err
	}
	created := stored.ID == edge.ID
	edge = stored

	payload, err := ledger.Payload(map[string]any{
		"share":        sh.ID,
		"source":       sh.SourceRoleID,
		"target":       sh.TargetRoleID,
		"relationship": sh.Relationship.String(),
		"edgeCreated":  created,
	})
	if err != nil {
		return nil, err
	}
	signer := ledger.TryGetSigningContext(ctx, s.roles, sh.TargetRoleID, targetWrite)
	if _, err := s.ledger.AppendKey(ctx, ledger.EventShareAccepted, actor, payload, signer); err != nil {
		s.logger.Error("sharing: record acceptance", "share", sh.ID, "error", err)
		return edge, fmt.Errorf("sharing: record acceptance: %w", err)
	}

	s.logger.Info("sharing: share accepted",
		"share", sh.ID, "source", sh.SourceRoleID, "target", sh.TargetRoleID, "edge_created", created)
	return edge, nil
}

// ListPending returns the pending shares addressed to any role in ring.
func (s *Service) ListPending(ctx context.Context, ring *keyring.RoleKeyRing) ([]*model.PendingRoleShare, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	targets := make(map[uuid.UUID]bool, ring.Len())
	for _, id := range ring.Roles() {
		targets[id] = true
	}
	return s.shares.PendingForTargets(ctx, targets)
}
