package keyring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bitfsorg/libpdv-go/logging"
)

// DefaultTTL bounds how long a cached ring may be served even if its
// session lives longer.
const DefaultTTL = 15 * time.Minute

type cacheEntry struct {
	userID    uuid.UUID
	ring      *RoleKeyRing
	expiresAt time.Time
}

// Service caches rings per session. Cached rings are immutable; invalidation
// removes the map entry so readers holding the old ring are unaffected.
// Concurrent builds for the same session share one walk.
type Service struct {
	builder *Builder
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]*cacheEntry
	gen   uint64 // bumped by every invalidation

	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the maximum age of a cached ring.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a caching ring service over builder.
func NewService(builder *Builder, opts ...Option) *Service {
	s := &Service{
		builder: builder,
		ttl:     DefaultTTL,
		now:     time.Now,
		cache:   make(map[uuid.UUID]*cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// Get returns the ring of userID for sessionID, building it on a cache miss.
// A ring is installed in the cache only after a complete, successful build,
// and only if no invalidation happened while it was being built.
func (s *Service) Get(ctx context.Context, userID, sessionID uuid.UUID) (*RoleKeyRing, error) {
	if ring := s.cached(userID, sessionID); ring != nil {
		return ring, nil
	}

	for attempt := 0; ; attempt++ {
		// Builds started before an invalidation are never joined.
		s.mu.RLock()
		gen := s.gen
		s.mu.RUnlock()
		key := fmt.Sprintf("%s/%s/%d", userID, sessionID, gen)
		ch := s.group.DoChan(key, func() (any, error) {
			return s.build(ctx, userID, sessionID, gen)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The shared build belonged to a caller that gave up; ours
				// is still live, so build again.
				if res.Shared && attempt == 0 && ctx.Err() == nil &&
					(errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*RoleKeyRing), nil
		}
	}
}

func (s *Service) build(ctx context.Context, userID, sessionID uuid.UUID, gen uint64) (*RoleKeyRing, error) {
	ring, sessionExpires, err := s.builder.Build(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.ttl)
	if !sessionExpires.IsZero() && sessionExpires.Before(expiresAt) {
		expiresAt = sessionExpires
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cache[sessionID] = &cacheEntry{userID: userID, ring: ring, expiresAt: expiresAt}
	}
	s.mu.Unlock()
	return ring, nil
}

func (s *Service) cached(userID, sessionID uuid.UUID) *RoleKeyRing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[sessionID]
	if !ok || e.userID != userID || !s.now().Before(e.expiresAt) {
		return nil
	}
	return e.ring
}

// InvalidateRoleKeyRing drops the cached ring of one session.
func (s *Service) InvalidateRoleKeyRing(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, sessionID)
	s.gen++
	s.logger.Debug("keyring: ring invalidated", "session", sessionID)
}

// InvalidateUser drops the cached rings of every session of userID.
func (s *Service) InvalidateUser(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, e := range s.cache {
		if e.userID == userID {
			delete(s.cache, sid)
		}
	}
	s.gen++
	s.logger.Debug("keyring: user rings invalidated", "user", userID)
}

// InvalidateAll drops every cached ring. Capability removals use it since
// any user reaching the removed edge may hold a stale ring.
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cache)
	s.gen++
	s.logger.Debug("keyring: all rings invalidated")
}

// Cached reports whether a live ring is cached for sessionID.
func (s *Service) Cached(sessionID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[sessionID]
	return ok && s.now().Before(e.expiresAt)
}
