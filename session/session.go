// Package session holds the per-session bootstrap secret. Opening a session
// unseals the account master secret with the user's password; the key ring
// builder asks for it through SessionSecret.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpdv-go/account"
	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/logging"
	"github.com/bitfsorg/libpdv-go/model"
)

// DefaultTTL is the lifetime of a session.
const DefaultTTL = 12 * time.Hour

// AccountSource resolves accounts by id.
type AccountSource interface {
	Get(ctx context.Context, id uuid.UUID) (*model.UserAccount, error)
}

type session struct {
	userID    uuid.UUID
	secret    []byte
	expiresAt time.Time
}

// Manager tracks open sessions in memory.
type Manager struct {
	accounts AccountSource
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

var _ keyring.SecretProvider = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a session manager over accounts.
func NewManager(accounts AccountSource, opts ...Option) *Manager {
	m := &Manager{
		accounts: accounts,
		ttl:      DefaultTTL,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	return m
}

// Open unseals the master secret of userID with password and starts a new
// session. It returns the session id and its expiry.
func (m *Manager) Open(ctx context.Context, userID uuid.UUID, password string) (uuid.UUID, time.Time, error) {
	acct, err := m.accounts.Get(ctx, userID)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	secret, err := account.OpenMasterSecret(acct.SealedMasterSecret, password)
	if err != nil {
		if errors.Is(err, account.ErrDecryptionFailed) || errors.Is(err, account.ErrChecksumMismatch) {
			return uuid.Nil, time.Time{}, ErrInvalidCredentials
		}
		return uuid.Nil, time.Time{}, fmt.Errorf("session: open master secret: %w", err)
	}
	return m.start(ctx, userID, secret)
}

// OpenWithSecret starts a session from an already recovered master secret,
// for example one derived from the account's mnemonic.
func (m *Manager) OpenWithSecret(ctx context.Context, userID uuid.UUID, secret []byte) (uuid.UUID, time.Time, error) {
	if len(secret) == 0 {
		return uuid.Nil, time.Time{}, ErrNilParam
	}
	if _, err := m.accounts.Get(ctx, userID); err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return m.start(ctx, userID, append([]byte(nil), secret...))
}

func (m *Manager) start(ctx context.Context, userID uuid.UUID, secret []byte) (uuid.UUID, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, time.Time{}, err
	}

	id := uuid.New()
	expiresAt := m.now().Add(m.ttl)

	m.mu.Lock()
	m.sessions[id] = &session{userID: userID, secret: secret, expiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.Info("session: opened", "user", userID, "session", id, "expires", expiresAt)
	return id, expiresAt, nil
}

// SessionSecret returns the master secret bound to sessionID. Unknown,
// expired or foreign sessions yield ErrSessionNotFound.
func (m *Manager) SessionSecret(ctx context.Context, userID, sessionID uuid.UUID) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || subtle.ConstantTimeCompare(s.userID[:], userID[:]) != 1 {
		return nil, time.Time{}, ErrSessionNotFound
	}
	if !m.now().Before(s.expiresAt) {
		m.drop(sessionID, s)
		return nil, time.Time{}, ErrSessionNotFound
	}
	return append([]byte(nil), s.secret...), s.expiresAt, nil
}

// UserID returns the owner of a live session.
func (m *Manager) UserID(sessionID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !m.now().Before(s.expiresAt) {
		return uuid.Nil, false
	}
	return s.userID, true
}

// Close ends a session and wipes its secret. Closing an unknown session is
// not an error.
func (m *Manager) Close(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		m.drop(sessionID, s)
		m.logger.Info("session: closed", "user", s.userID, "session", sessionID)
	}
}

// Sweep drops every expired session and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if !now.Before(s.expiresAt) {
			m.drop(id, s)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("session: expired sessions swept", "count", n)
	}
	return n
}

// Len returns the number of tracked sessions, expired ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) drop(id uuid.UUID, s *session) {
	clear(s.secret)
	delete(m.sessions, id)
}
