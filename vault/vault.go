// Package vault is the business layer of the personal data vault. HTTP
// handlers, the CLI and tests call Vault methods; the Vault resolves the
// caller's key ring, enforces access, persists through the store and
// records every key and authorization event on the ledger.
package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/config"
	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/logging"
	"github.com/bitfsorg/libpdv-go/recovery"
	"github.com/bitfsorg/libpdv-go/session"
	"github.com/bitfsorg/libpdv-go/sharing"
	"github.com/bitfsorg/libpdv-go/store"
)

// Vault wires the services of the vault around one bbolt store.
type Vault struct {
	Store    *store.BoltStore
	Ledger   *ledger.Service
	Sessions *session.Manager
	Rings    *keyring.Service
	Sharing  *sharing.Service
	Recovery *recovery.Service
	DataDir  string

	encryptionAlg string
	signLedger    bool
	logger        *slog.Logger
}

// Session identifies the caller of an operation.
type Session struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

// New builds a Vault over st using the lifetimes and algorithms in cfg.
// A nil logger discards output.
func New(st *store.BoltStore, cfg config.Config, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = logging.Discard()
	}

	l := ledger.NewService(st.Ledger(), ledger.WithLogger(logger))

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if cfg.SessionTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithTTL(cfg.SessionTTL))
	}
	sessions := session.NewManager(st.Accounts(), sessionOpts...)

	ringOpts := []keyring.Option{keyring.WithLogger(logger)}
	if cfg.KeyRingTTL > 0 {
		ringOpts = append(ringOpts, keyring.WithTTL(cfg.KeyRingTTL))
	}
	rings := keyring.NewService(keyring.NewBuilder(st.Graph(), sessions, logger), ringOpts...)

	alg := cfg.EncryptionAlg
	if alg == "" {
		alg = envelope.AlgSecp256k1ECIES
	}

	return &Vault{
		Store:         st,
		Ledger:        l,
		Sessions:      sessions,
		Rings:         rings,
		Sharing:       sharing.NewService(st.Roles(), st.Shares(), l, logger),
		Recovery:      recovery.NewService(st.Roles(), st.Recovery(), l, recovery.WithLogger(logger)),
		DataDir:       cfg.DataDir,
		encryptionAlg: alg,
		signLedger:    cfg.SignLedger,
		logger:        logger,
	}
}

// Open validates cfg, opens the database in cfg.DataDir and builds a Vault.
func Open(cfg config.Config, logger *slog.Logger) (*Vault, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	st, err := store.Open(config.DatabasePath(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("vault: open store: %w", err)
	}
	return New(st, cfg, logger), nil
}

// Close releases the database.
func (v *Vault) Close() error {
	v.Rings.InvalidateAll()
	return v.Store.Close()
}

// ring returns the caller's key ring, building it on demand.
func (v *Vault) ring(ctx context.Context, s Session) (*keyring.RoleKeyRing, error) {
	return v.Rings.Get(ctx, s.UserID, s.SessionID)
}

// signer returns the signing context of roleID when ledger signing is on
// and the ring holds the role's write key.
func (v *Vault) signer(ctx context.Context, ring *keyring.RoleKeyRing, roleID uuid.UUID) *ledger.SigningContext {
	if !v.signLedger || ring == nil {
		return nil
	}
	writeKey, ok := ring.TryGetWriteKey(roleID)
	if !ok {
		return nil
	}
	return ledger.TryGetSigningContext(ctx, v.Store.Roles(), roleID, writeKey)
}

// record appends an entry to chain cat and returns its id.
func (v *Vault) record(ctx context.Context, cat ledger.Category, eventType string, s Session, signer *ledger.SigningContext, fields map[string]any) (uuid.UUID, error) {
	payload, err := ledger.Payload(fields)
	if err != nil {
		return uuid.Nil, err
	}
	e, err := v.Ledger.Append(ctx, cat, eventType, s.UserID.String(), payload, signer)
	if err != nil {
		return uuid.Nil, fmt.Errorf("vault: record %s: %w", eventType, err)
	}
	return e.ID, nil
}
