package keyring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/model"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type testRole struct {
	id                   uuid.UUID
	roleKey, read, write []byte
}

func newTestRole(t *testing.T) *testRole {
	t.Helper()
	roleKey, err := envelope.GenerateKey()
	require.NoError(t, err)
	read, write, err := envelope.DeriveRoleKeys(roleKey)
	require.NoError(t, err)
	return &testRole{id: uuid.New(), roleKey: roleKey, read: read, write: write}
}

type memGraph struct {
	mu          sync.Mutex
	account     *model.UserAccount
	memberships []*model.Membership
	edges       map[uuid.UUID][]*model.RoleEdge
	builds      atomic.Int32

	// afterChildren, when set, runs once after the next Children read.
	afterChildren func()
}

func (g *memGraph) Account(_ context.Context, userID uuid.UUID) (*model.UserAccount, error) {
	g.builds.Add(1)
	if g.account == nil || g.account.ID != userID {
		return nil, model.ErrNotFound
	}
	return g.account, nil
}

func (g *memGraph) Memberships(_ context.Context, userID uuid.UUID) ([]*model.Membership, error) {
	var out []*model.Membership
	for _, m := range g.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *memGraph) Children(_ context.Context, parentID uuid.UUID) ([]*model.RoleEdge, error) {
	g.mu.Lock()
	edges := g.edges[parentID]
	hook := g.afterChildren
	g.afterChildren = nil
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return edges, nil
}

func (g *memGraph) link(t *testing.T, parent, child *testRole, rel model.RelationshipType) *model.RoleEdge {
	t.Helper()
	readCopy, err := envelope.WrapKeyCopy(parent.read, child.read, child.id)
	require.NoError(t, err)
	e := &model.RoleEdge{
		ID:                   uuid.New(),
		ParentRoleID:         parent.id,
		ChildRoleID:          child.id,
		Relationship:         rel,
		EncryptedReadKeyCopy: readCopy,
	}
	if rel.CanWrite() {
		e.EncryptedWriteKeyCopy, err = envelope.WrapKeyCopy(parent.write, child.write, child.id)
		require.NoError(t, err)
	}
	g.mu.Lock()
	g.edges[parent.id] = append(g.edges[parent.id], e)
	g.mu.Unlock()
	return e
}

type staticSecrets struct {
	secret  []byte
	expires time.Time
	err     error
}

func (s *staticSecrets) SessionSecret(context.Context, uuid.UUID, uuid.UUID) ([]byte, time.Time, error) {
	return s.secret, s.expires, s.err
}

type fixture struct {
	userID, sessionID uuid.UUID
	master            *testRole
	graph             *memGraph
	secrets           *staticSecrets
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	secret, err := envelope.GenerateKey()
	require.NoError(t, err)

	master := newTestRole(t)
	wrapped, err := WrapRootKey(secret, master.roleKey, master.id)
	require.NoError(t, err)

	userID := uuid.New()
	return &fixture{
		userID:    userID,
		sessionID: uuid.New(),
		master:    master,
		graph: &memGraph{
			account: &model.UserAccount{ID: userID, MasterRoleID: master.id, EncryptedMasterRoleKey: wrapped},
			edges:   make(map[uuid.UUID][]*model.RoleEdge),
		},
		secrets: &staticSecrets{secret: secret, expires: time.Now().Add(time.Hour)},
	}
}

func (f *fixture) build(t *testing.T) *RoleKeyRing {
	t.Helper()
	ring, _, err := NewBuilder(f.graph, f.secrets, nil).Build(context.Background(), f.userID, f.sessionID)
	require.NoError(t, err)
	return ring
}

func assertKeys(t *testing.T, ring *RoleKeyRing, r *testRole, wantWrite bool) {
	t.Helper()
	read, ok := ring.TryGetReadKey(r.id)
	require.True(t, ok, "read key for %s", r.id)
	assert.Equal(t, r.read, read)

	write, ok := ring.TryGetWriteKey(r.id)
	assert.Equal(t, wantWrite, ok, "write key presence for %s", r.id)
	if wantWrite {
		assert.Equal(t, r.write, write)
	}
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuild_Reachability(t *testing.T) {
	f := newFixture(t)
	a, b := newTestRole(t), newTestRole(t)
	f.graph.link(t, f.master, a, model.RelationshipWrite)
	f.graph.link(t, a, b, model.RelationshipRead)

	ring := f.build(t)
	assert.Equal(t, 3, ring.Len())
	assertKeys(t, ring, f.master, true)
	assertKeys(t, ring, a, true)
	assertKeys(t, ring, b, false)

	roleKey, ok := ring.TryGetRoleKey(f.master.id)
	require.True(t, ok)
	assert.Equal(t, f.master.roleKey, roleKey)

	_, ok = ring.TryGetRoleKey(a.id)
	assert.False(t, ok, "only roots carry a role key")

	_, ok = ring.TryGetReadKey(uuid.New())
	assert.False(t, ok)
}

func TestBuild_ReadEdgeBlocksWriteBelow(t *testing.T) {
	f := newFixture(t)
	a, b := newTestRole(t), newTestRole(t)
	f.graph.link(t, f.master, a, model.RelationshipRead)
	f.graph.link(t, a, b, model.RelationshipWrite)

	ring := f.build(t)
	assertKeys(t, ring, a, false)
	assertKeys(t, ring, b, false)
}

func TestBuild_UpgradeToFixedPoint(t *testing.T) {
	f := newFixture(t)
	a, b, c := newTestRole(t), newTestRole(t), newTestRole(t)

	// a is first reached read-only, then with write through b; c hangs
	// off a with a write copy and must end up writable.
	f.graph.link(t, f.master, a, model.RelationshipRead)
	f.graph.link(t, f.master, b, model.RelationshipWrite)
	f.graph.link(t, b, a, model.RelationshipWrite)
	f.graph.link(t, a, c, model.RelationshipWrite)

	ring := f.build(t)
	assertKeys(t, ring, a, true)
	assertKeys(t, ring, b, true)
	assertKeys(t, ring, c, true)
}

func TestBuild_CycleTerminates(t *testing.T) {
	f := newFixture(t)
	a, b := newTestRole(t), newTestRole(t)
	f.graph.link(t, f.master, a, model.RelationshipOwner)
	f.graph.link(t, a, b, model.RelationshipOwner)
	f.graph.link(t, b, a, model.RelationshipOwner)
	f.graph.link(t, b, f.master, model.RelationshipRead)

	ring := f.build(t)
	assert.Equal(t, 3, ring.Len())
}

func TestBuild_SkipsBadEdges(t *testing.T) {
	f := newFixture(t)
	good, bad, writeBroken := newTestRole(t), newTestRole(t), newTestRole(t)
	f.graph.link(t, f.master, good, model.RelationshipWrite)

	e := f.graph.link(t, f.master, bad, model.RelationshipWrite)
	e.EncryptedReadKeyCopy[len(e.EncryptedReadKeyCopy)-1] ^= 0xff

	w := f.graph.link(t, f.master, writeBroken, model.RelationshipWrite)
	w.EncryptedWriteKeyCopy[len(w.EncryptedWriteKeyCopy)-1] ^= 0xff

	// A copy wrapped for a different child does not open either.
	foreign := newTestRole(t)
	fe := f.graph.link(t, f.master, foreign, model.RelationshipRead)
	fe.ChildRoleID = uuid.New()

	ring := f.build(t)
	assertKeys(t, ring, good, true)
	assertKeys(t, ring, writeBroken, false)
	_, ok := ring.TryGetReadKey(bad.id)
	assert.False(t, ok)
	_, ok = ring.TryGetReadKey(fe.ChildRoleID)
	assert.False(t, ok)
}

func TestBuild_OwnerMembershipsAreRoots(t *testing.T) {
	f := newFixture(t)
	owned, readOnly, child := newTestRole(t), newTestRole(t), newTestRole(t)

	wrapped, err := WrapRootKey(f.secrets.secret, owned.roleKey, owned.id)
	require.NoError(t, err)
	wrappedRead, err := WrapRootKey(f.secrets.secret, readOnly.roleKey, readOnly.id)
	require.NoError(t, err)

	f.graph.memberships = []*model.Membership{
		{ID: uuid.New(), UserID: f.userID, RoleID: owned.id, Relationship: model.RelationshipOwner, EncryptedRoleKey: wrapped},
		{ID: uuid.New(), UserID: f.userID, RoleID: readOnly.id, Relationship: model.RelationshipRead, EncryptedRoleKey: wrappedRead},
		{ID: uuid.New(), UserID: f.userID, RoleID: uuid.New(), Relationship: model.RelationshipOwner, EncryptedRoleKey: []byte("garbage")},
	}
	f.graph.link(t, owned, child, model.RelationshipRead)

	ring := f.build(t)
	assertKeys(t, ring, owned, true)
	assertKeys(t, ring, child, false)
	_, ok := ring.TryGetRoleKey(owned.id)
	assert.True(t, ok)
	_, ok = ring.TryGetReadKey(readOnly.id)
	assert.False(t, ok, "non-owner memberships are not roots")
	assert.Equal(t, 3, ring.Len())
}

func TestBuild_KeyMaterialUnavailable(t *testing.T) {
	t.Run("session missing", func(t *testing.T) {
		f := newFixture(t)
		f.secrets.err = errors.New("no session")
		_, _, err := NewBuilder(f.graph, f.secrets, nil).Build(context.Background(), f.userID, f.sessionID)
		assert.ErrorIs(t, err, ErrKeyMaterialUnavailable)
		assert.ErrorIs(t, err, model.ErrPreconditionFailed)
		assert.Equal(t, 428, model.HTTPStatus(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := newFixture(t)
		other, err := envelope.GenerateKey()
		require.NoError(t, err)
		f.secrets.secret = other
		_, _, err = NewBuilder(f.graph, f.secrets, nil).Build(context.Background(), f.userID, f.sessionID)
		assert.ErrorIs(t, err, ErrKeyMaterialUnavailable)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := NewBuilder(f.graph, f.secrets, nil).Build(context.Background(), uuid.New(), f.sessionID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestBuild_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.graph.link(t, f.master, newTestRole(t), model.RelationshipRead)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ring, _, err := NewBuilder(f.graph, f.secrets, nil).Build(ctx, f.userID, f.sessionID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ring)
}

func TestRoleKeyRing_ReturnsCopies(t *testing.T) {
	id := uuid.New()
	src := map[uuid.UUID]RoleKeys{id: {Read: []byte{1}, Write: []byte{2}}}
	ring := NewRoleKeyRing(src)
	src[id].Read[0] = 9

	read, ok := ring.TryGetReadKey(id)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, read)
	read[0] = 7

	again, _ := ring.TryGetReadKey(id)
	assert.Equal(t, []byte{1}, again)
	assert.True(t, ring.CanWrite(id))
	assert.Equal(t, []uuid.UUID{id}, ring.Roles())

	var nilRing *RoleKeyRing
	_, ok = nilRing.TryGetWriteKey(id)
	assert.False(t, ok)
	assert.Zero(t, nilRing.Len())
}

// ---------------------------------------------------------------------------
// Service (cache)
// ---------------------------------------------------------------------------

func TestService_CachesPerSession(t *testing.T) {
	f := newFixture(t)
	svc := NewService(NewBuilder(f.graph, f.secrets, nil))
	ctx := context.Background()

	r1, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	r2, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.EqualValues(t, 1, f.graph.builds.Load())
	assert.True(t, svc.Cached(f.sessionID))

	// A different session builds its own ring.
	_, err = svc.Get(ctx, f.userID, uuid.New())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.graph.builds.Load())
}

func TestService_InvalidateRebuilds(t *testing.T) {
	f := newFixture(t)
	svc := NewService(NewBuilder(f.graph, f.secrets, nil))
	ctx := context.Background()

	before, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)

	a := newTestRole(t)
	f.graph.link(t, f.master, a, model.RelationshipWrite)

	stale, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	_, ok := stale.TryGetReadKey(a.id)
	assert.False(t, ok, "cached ring reflects the graph at build time")

	svc.InvalidateRoleKeyRing(f.sessionID)
	assert.False(t, svc.Cached(f.sessionID))

	after, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	assertKeys(t, after, a, true)

	_, ok = before.TryGetReadKey(a.id)
	assert.False(t, ok, "previously handed out rings are unchanged")

	svc.InvalidateUser(f.userID)
	assert.False(t, svc.Cached(f.sessionID))

	_, err = svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	svc.InvalidateAll()
	assert.False(t, svc.Cached(f.sessionID))
}

func TestService_GetAfterInvalidateDoesNotJoinStaleBuild(t *testing.T) {
	f := newFixture(t)
	svc := NewService(NewBuilder(f.graph, f.secrets, nil))
	ctx := context.Background()

	reading := make(chan struct{})
	release := make(chan struct{})
	f.graph.afterChildren = func() {
		close(reading)
		<-release
	}

	type result struct {
		ring *RoleKeyRing
		err  error
	}
	first := make(chan result, 1)
	go func() {
		r, err := svc.Get(ctx, f.userID, f.sessionID)
		first <- result{r, err}
	}()
	<-reading

	// The first build has already read the master's children.
	a := newTestRole(t)
	f.graph.link(t, f.master, a, model.RelationshipWrite)
	svc.InvalidateRoleKeyRing(f.sessionID)

	second := make(chan result, 1)
	go func() {
		r, err := svc.Get(ctx, f.userID, f.sessionID)
		second <- result{r, err}
	}()

	// The second Get must run its own build; it completes while the first
	// is still parked.
	var fresh result
	select {
	case fresh = <-second:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("Get after invalidation waited on the earlier build")
	}
	close(release)

	require.NoError(t, fresh.err)
	assertKeys(t, fresh.ring, a, true)

	old := <-first
	require.NoError(t, old.err)
	_, ok := old.ring.TryGetReadKey(a.id)
	assert.False(t, ok)

	cached, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	assertKeys(t, cached, a, true)
}

func TestService_Expiry(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f.secrets.expires = now.Add(time.Hour)

	svc := NewService(NewBuilder(f.graph, f.secrets, nil), WithTTL(10*time.Minute), WithClock(clock))
	ctx := context.Background()

	_, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	assert.True(t, svc.Cached(f.sessionID))

	now = now.Add(2 * time.Minute)
	assert.False(t, svc.Cached(f.sessionID), "TTL elapsed")

	// Session expiry earlier than the TTL wins.
	f.secrets.expires = now.Add(time.Minute)
	_, err = svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)
	now = now.Add(90 * time.Second)
	assert.False(t, svc.Cached(f.sessionID), "session expired")
}

func TestService_FailuresAreNotCached(t *testing.T) {
	f := newFixture(t)
	f.secrets.err = ErrKeyMaterialUnavailable
	svc := NewService(NewBuilder(f.graph, f.secrets, nil))

	_, err := svc.Get(context.Background(), f.userID, f.sessionID)
	assert.ErrorIs(t, err, ErrKeyMaterialUnavailable)
	assert.False(t, svc.Cached(f.sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.secrets.err = nil
	_, err = svc.Get(ctx, f.userID, f.sessionID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, svc.Cached(f.sessionID))
}

func TestService_WrongUserMisses(t *testing.T) {
	f := newFixture(t)
	svc := NewService(NewBuilder(f.graph, f.secrets, nil))
	ctx := context.Background()

	_, err := svc.Get(ctx, f.userID, f.sessionID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, uuid.New(), f.sessionID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_ConcurrentGet(t *testing.T) {
	f := newFixture(t)
	a := newTestRole(t)
	f.graph.link(t, f.master, a, model.RelationshipRead)
	svc := NewService(NewBuilder(f.graph, f.secrets, nil))

	const workers = 32
	rings := make([]*RoleKeyRing, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Get(context.Background(), f.userID, f.sessionID)
			assert.NoError(t, err)
			rings[i] = r
		}(i)
		if i%8 == 0 {
			go svc.InvalidateRoleKeyRing(f.sessionID)
		}
	}
	wg.Wait()

	for _, r := range rings {
		require.NotNil(t, r)
		assertKeys(t, r, a, false)
	}
	assert.LessOrEqual(t, f.graph.builds.Load(), int32(workers))
}
