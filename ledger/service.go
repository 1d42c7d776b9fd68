package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/logging"
)

// Service appends to and reads from the ledger chains. Appends to the same
// chain are serialized in process; the Store makes each append atomic.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	// One lock per chain; chains are independent of each other.
	locks [CategoryBusiness + 1]sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a ledger service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// AppendAuth appends to the Auth chain.
func (s *Service) AppendAuth(ctx context.Context, eventType, actor, payload string, signer *SigningContext) (*Entry, error) {
	return s.Append(ctx, CategoryAuth, eventType, actor, payload, signer)
}

// AppendKey appends to the Key chain.
func (s *Service) AppendKey(ctx context.Context, eventType, actor, payload string, signer *SigningContext) (*Entry, error) {
	return s.Append(ctx, CategoryKey, eventType, actor, payload, signer)
}

// AppendBusiness appends to the Business chain.
func (s *Service) AppendBusiness(ctx context.Context, eventType, actor, payload string, signer *SigningContext) (*Entry, error) {
	return s.Append(ctx, CategoryBusiness, eventType, actor, payload, signer)
}

// Append links a new entry to the tail of chain cat, signs it when signer is
// non-nil, and persists it. A cancelled context never persists.
func (s *Service) Append(ctx context.Context, cat Category, eventType, actor, payload string, signer *SigningContext) (*Entry, error) {
	if !cat.Valid() {
		return nil, ErrInvalidCategory
	}
	if eventType == "" {
		return nil, fmt.Errorf("%w: event type is empty", ErrInvalidEntry)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.locks[cat].Lock()
	defer s.locks[cat].Unlock()

	entry, err := s.store.Append(ctx, cat, func(tail *Entry) (*Entry, error) {
		prevHash := GenesisHash
		ts := s.now().Round(0).UTC()
		if tail != nil {
			prevHash = tail.Hash
			if !ts.After(tail.Timestamp) {
				ts = tail.Timestamp.Add(time.Nanosecond)
			}
		}

		e := &Entry{
			ID:           uuid.New(),
			Category:     cat,
			Timestamp:    ts,
			Actor:        actor,
			EventType:    eventType,
			Payload:      payload,
			PreviousHash: prevHash,
		}
		content, err := Content(eventType, actor, payload, ts, prevHash)
		if err != nil {
			return nil, err
		}
		e.Hash, err = ComputeHash(eventType, actor, payload, ts, prevHash)
		if err != nil {
			return nil, err
		}

		if signer != nil {
			sig, err := envelope.Sign(signer.SigningKey, signer.SigningAlg, content)
			if err != nil {
				return nil, fmt.Errorf("ledger: sign entry: %w", err)
			}
			e.SignerRoleID = signer.RoleID
			e.Signature = sig
			e.SignatureAlg = signer.SigningAlg
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ledger entry appended",
		"chain", cat.String(),
		"id", entry.ID,
		"event", eventType,
		"signed", entry.Signed(),
	)
	return entry, nil
}

// Entries returns the chain ordered by (timestamp, id).
func (s *Service) Entries(ctx context.Context, cat Category) ([]*Entry, error) {
	return s.store.Entries(ctx, cat)
}

// Get returns one entry of chain cat.
func (s *Service) Get(ctx context.Context, cat Category, id uuid.UUID) (*Entry, error) {
	return s.store.Get(ctx, cat, id)
}

// Verify loads chain cat and verifies it. See VerifyLedger.
func (s *Service) Verify(ctx context.Context, cat Category, roleID uuid.UUID, keys SignerKeys) (*Report, error) {
	entries, err := s.store.Entries(ctx, cat)
	if err != nil {
		return nil, err
	}
	report, err := VerifyLedger(ctx, cat.String(), entries, roleID, keys)
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		s.logger.Warn("ledger verification found violations",
			"chain", cat.String(),
			"hash_mismatches", report.HashMismatches,
			"previous_hash_mismatches", report.PreviousHashMismatches,
			"signatures_invalid", report.SignaturesInvalid,
		)
	}
	return report, nil
}
