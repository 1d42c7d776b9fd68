// Package recovery implements threshold social recovery of a role.
//
// Holders of a role's write key issue recovery shares to other roles. A
// recovery request freezes its threshold to the number of active shares
// when it is created; each share holder may approve once, and the request
// becomes Ready when the approvals reach the threshold:
//
//	Pending --threshold--> Ready --complete--> Completed
//	Pending|Ready --cancel--> Canceled
//
// Completion consumes every active share of the target. Fragment contents
// are opaque here; only their presence and count matter.
package recovery

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

// Store persists the recovery tables and enforces their transitions.
type Store interface {
	PutShare(ctx context.Context, sh *model.RoleRecoveryShare) (*model.RoleRecoveryShare, error)
	Shares(ctx context.Context, target uuid.UUID) ([]*model.RoleRecoveryShare, error)
	RevokeShare(ctx context.Context, target, sharedWith uuid.UUID, now time.Time) (*model.RoleRecoveryShare, error)
	CreateRequest(ctx context.Context, req *model.RoleRecoveryRequest) (*model.RoleRecoveryRequest, error)
	Request(ctx context.Context, id uuid.UUID) (*model.RoleRecoveryRequest, error)
	Requests(ctx context.Context, target uuid.UUID) ([]*model.RoleRecoveryRequest, error)
	Approvals(ctx context.Context, requestID uuid.UUID) ([]*model.RoleRecoveryApproval, error)
	AddApproval(ctx context.Context, a *model.RoleRecoveryApproval) (*model.RoleRecoveryRequest, bool, error)
	Complete(ctx context.Context, requestID uuid.UUID, now time.Time) (*model.RoleRecoveryRequest, int, error)
	Cancel(ctx context.Context, requestID uuid.UUID, now time.Time) (*model.RoleRecoveryRequest, error)
}

// Service runs the recovery protocol and records each step on the Auth
// chain.
type Service struct {
	roles  ledger.RoleSource
	store  Store
	ledger *ledger.Service
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a recovery service.
func NewService(roles ledger.RoleSource, store Store, l *ledger.Service, opts ...Option) *Service {
	s := &Service{roles: roles, store: store, ledger: l, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// IssueShare gives sharedWithRoleID a recovery share for targetRoleID. The
// fragment is wrapped under the holder's public encryption key. Issuing to
// a holder that already has a share re-issues it: the blob is replaced and
// any revocation cleared. The ring must hold the target's write key.
func (s *Service) IssueShare(ctx context.Context, ring *keyring.RoleKeyRing, actor string, targetRoleID, sharedWithRoleID uuid.UUID, fragment []byte) (*model.RoleRecoveryShare, error) {
	writeKey, err := requireWrite(ring, targetRoleID)
	if err != nil {
		return nil, err
	}
	if len(fragment) == 0 {
		return nil, ErrEmptyFragment
	}

	holder, err := s.roles.Role(ctx, sharedWithRoleID)
	if err != nil {
		return nil, err
	}
	if len(holder.PublicEncryptionKey) == 0 {
		return nil, ErrNoEncryptionKey
	}
	blob, err := envelope.EncryptWithPublicKey(holder.PublicEncryptionKey, holder.PublicEncryptionKeyAlg, fragment)
	if err != nil {
		return nil, fmt.Errorf("recovery: wrap fragment: %w", err)
	}

	now := s.now().UTC()
	sh, err := s.store.PutShare(ctx, &model.RoleRecoveryShare{
		ID:                 uuid.New(),
		TargetRoleID:       targetRoleID,
		SharedWithRoleID:   sharedWithRoleID,
		EncryptedShareBlob: blob,
		CreatedUTC:         now,
		UpdatedUTC:         now,
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, ledger.EventRecoveryShare, actor, targetRoleID, writeKey, map[string]any{
		"target": targetRoleID, "holder": sharedWithRoleID,
	})
	return sh, nil
}

// RevokeShare revokes the share sharedWithRoleID holds for targetRoleID.
// In-flight requests keep their frozen threshold; any that can no longer
// reach it are logged.
func (s *Service) RevokeShare(ctx context.Context, ring *keyring.RoleKeyRing, actor string, targetRoleID, sharedWithRoleID uuid.UUID) (*model.RoleRecoveryShare, error) {
	writeKey, err := requireWrite(ring, targetRoleID)
	if err != nil {
		return nil, err
	}
	sh, err := s.store.RevokeShare(ctx, targetRoleID, sharedWithRoleID, s.now())
	if err != nil {
		return nil, err
	}

	s.record(ctx, ledger.EventRecoveryRevoke, actor, targetRoleID, writeKey, map[string]any{
		"target": targetRoleID, "holder": sharedWithRoleID,
	})
	s.checkStranded(ctx, targetRoleID)
	return sh, nil
}

// Shares lists every recovery share of targetRoleID, revoked ones included.
func (s *Service) Shares(ctx context.Context, targetRoleID uuid.UUID) ([]*model.RoleRecoveryShare, error) {
	return s.store.Shares(ctx, targetRoleID)
}

// CreateRequest opens a recovery request for targetRoleID on behalf of
// initiatorRoleID, which the ring must hold. It fails with a conflict when
// the target has no active shares.
func (s *Service) CreateRequest(ctx context.Context, ring *keyring.RoleKeyRing, actor string, targetRoleID, initiatorRoleID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	if _, ok := ring.TryGetReadKey(initiatorRoleID); !ok {
		return nil, ErrMissingKeys
	}

	req, err := s.store.CreateRequest(ctx, &model.RoleRecoveryRequest{
		ID:              uuid.New(),
		TargetRoleID:    targetRoleID,
		InitiatorRoleID: initiatorRoleID,
		CreatedUTC:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	writeKey, _ := ring.TryGetWriteKey(initiatorRoleID)
	s.record(ctx, ledger.EventRecoveryRequest, actor, initiatorRoleID, writeKey, map[string]any{
		"request": req.ID, "target": targetRoleID, "initiator": initiatorRoleID,
		"required": req.RequiredApprovals,
	})
	s.logger.Info("recovery: request created",
		"request", req.ID, "target", targetRoleID, "required", req.RequiredApprovals)
	return req, nil
}

// Request returns a request by id.
func (s *Service) Request(ctx context.Context, requestID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	return s.store.Request(ctx, requestID)
}

// Requests lists every request for targetRoleID.
func (s *Service) Requests(ctx context.Context, targetRoleID uuid.UUID) ([]*model.RoleRecoveryRequest, error) {
	return s.store.Requests(ctx, targetRoleID)
}

// Approve records approverRoleID's vote on a request. The ring must hold
// the approver's write key and the approver must hold an active share for
// the target. Duplicate votes are conflicts. The request turns Ready on the
// vote that reaches the threshold.
func (s *Service) Approve(ctx context.Context, ring *keyring.RoleKeyRing, actor string, requestID, approverRoleID uuid.UUID, approvalBlob []byte) (*model.RoleRecoveryRequest, error) {
	writeKey, err := requireWrite(ring, approverRoleID)
	if err != nil {
		return nil, err
	}
	if len(approvalBlob) == 0 {
		return nil, ErrEmptyFragment
	}

	req, ready, err := s.store.AddApproval(ctx, &model.RoleRecoveryApproval{
		ID:                    uuid.New(),
		RequestID:             requestID,
		ApproverRoleID:        approverRoleID,
		EncryptedApprovalBlob: approvalBlob,
		CreatedUTC:            s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, ledger.EventRecoveryApproval, actor, approverRoleID, writeKey, map[string]any{
		"request": requestID, "approver": approverRoleID, "ready": ready,
	})
	if ready {
		s.logger.Info("recovery: threshold reached", "request", requestID, "target", req.TargetRoleID)
	}
	return req, nil
}

// Complete finishes a Ready request and revokes every active share of the
// target. The ring must hold the initiator.
func (s *Service) Complete(ctx context.Context, ring *keyring.RoleKeyRing, actor string, requestID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, ok := ring.TryGetReadKey(req.InitiatorRoleID); !ok {
		return nil, ErrMissingKeys
	}

	req, revoked, err := s.store.Complete(ctx, requestID, s.now())
	if err != nil {
		return nil, err
	}

	writeKey, _ := ring.TryGetWriteKey(req.InitiatorRoleID)
	s.record(ctx, ledger.EventRecoveryCompleted, actor, req.InitiatorRoleID, writeKey, map[string]any{
		"request": requestID, "target": req.TargetRoleID, "revoked": revoked,
	})
	s.logger.Info("recovery: request completed", "request", requestID, "target", req.TargetRoleID, "revoked", revoked)
	return req, nil
}

// Cancel abandons a Pending or Ready request. Shares stay active. Either
// the initiator or a writer of the target may cancel.
func (s *Service) Cancel(ctx context.Context, ring *keyring.RoleKeyRing, actor string, requestID uuid.UUID) (*model.RoleRecoveryRequest, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}

	signerRole := req.InitiatorRoleID
	if _, ok := ring.TryGetReadKey(req.InitiatorRoleID); !ok {
		if !ring.CanWrite(req.TargetRoleID) {
			return nil, ErrMissingKeys
		}
		signerRole = req.TargetRoleID
	}

	req, err = s.store.Cancel(ctx, requestID, s.now())
	if err != nil {
		return nil, err
	}

	writeKey, _ := ring.TryGetWriteKey(signerRole)
	s.record(ctx, ledger.EventRecoveryCanceled, actor, signerRole, writeKey, map[string]any{
		"request": requestID, "target": req.TargetRoleID,
	})
	s.logger.Info("recovery: request canceled", "request", requestID, "target", req.TargetRoleID)
	return req, nil
}

// Feasible reports whether a request can still become Ready: its current
// approvals plus the active shares whose holders have not voted yet must
// reach the frozen threshold. Ready and Completed requests are feasible;
// canceled ones are not.
func (s *Service) Feasible(ctx context.Context, requestID uuid.UUID) (bool, error) {
	req, err := s.store.Request(ctx, requestID)
	if err != nil {
		return false, err
	}
	return s.feasible(ctx, req)
}

func (s *Service) feasible(ctx context.Context, req *model.RoleRecoveryRequest) (bool, error) {
	switch req.Status {
	case model.RecoveryReady, model.RecoveryCompleted:
		return true, nil
	case model.RecoveryCanceled:
		return false, nil
	}

	approvals, err := s.store.Approvals(ctx, req.ID)
	if err != nil {
		return false, err
	}
	shares, err := s.store.Shares(ctx, req.TargetRoleID)
	if err != nil {
		return false, err
	}

	voted := make(map[uuid.UUID]bool, len(approvals))
	for _, a := range approvals {
		voted[a.ApproverRoleID] = true
	}
	possible := len(approvals)
	for _, sh := range shares {
		if sh.Active() && !voted[sh.SharedWithRoleID] {
			possible++
		}
	}
	return possible >= req.RequiredApprovals, nil
}

// checkStranded warns about pending requests for target that can no
// longer reach their threshold.
func (s *Service) checkStranded(ctx context.Context, target uuid.UUID) {
	reqs, err := s.store.Requests(ctx, target)
	if err != nil {
		s.logger.Debug("recovery: list requests", "target", target, "error", err)
		return
	}
	for _, r := range reqs {
		if r.Status != model.RecoveryPending {
			continue
		}
		ok, err := s.feasible(ctx, r)
		if err != nil || ok {
			continue
		}
		s.logger.Warn("recovery: request can no longer reach its threshold",
			"request", r.ID, "target", target, "required", r.RequiredApprovals)
	}
}

// record appends an Auth chain entry, signed by roleID when writeKey opens
// its signing key. The protocol step has already committed, so a failed
// append is logged rather than returned.
func (s *Service) record(ctx context.Context, eventType, actor string, roleID uuid.UUID, writeKey []byte, fields map[string]any) {
	payload, err := ledger.Payload(fields)
	if err != nil {
		s.logger.Error("recovery: encode ledger payload", "event", eventType, "error", err)
		return
	}
	signer := ledger.TryGetSigningContext(ctx, s.roles, roleID, writeKey)
	if _, err := s.ledger.AppendAuth(ctx, eventType, actor, payload, signer); err != nil {
		s.logger.Error("recovery: record ledger entry", "event", eventType, "error", err)
	}
}

func requireWrite(ring *keyring.RoleKeyRing, roleID uuid.UUID) ([]byte, error) {
	if ring == nil {
		return nil, ErrNilParam
	}
	key, ok := ring.TryGetWriteKey(roleID)
	if !ok {
		return nil, ErrMissingKeys
	}
	return key, nil
}
