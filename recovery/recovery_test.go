package recovery

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/keyring"
	"github.com/bitfsorg/libpdv-go/ledger"
	"github.com/bitfsorg/libpdv-go/model"
	"github.com/bitfsorg/libpdv-go/store"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type testRole struct {
	id          uuid.UUID
	read, write []byte
	encPriv     []byte
	encAlg      string
}

type env struct {
	st     *store.BoltStore
	ledger *ledger.Service
	svc    *Service
	logs   *bytes.Buffer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := ledger.NewService(st.Ledger())
	return &env{
		st:     st,
		ledger: l,
		svc:    NewService(st.Roles(), st.Recovery(), l, WithLogger(logger)),
		logs:   logs,
	}
}

func (e *env) newRole(t *testing.T) *testRole {
	t.Helper()
	roleKey, err := envelope.GenerateKey()
	require.NoError(t, err)
	read, write, err := envelope.DeriveRoleKeys(roleKey)
	require.NoError(t, err)

	r := &testRole{id: uuid.New(), read: read, write: write}
	secrets, signing, encryption, err := envelope.NewRoleSecrets(envelope.AlgAgeX25519)
	require.NoError(t, err)
	blob, err := envelope.SealRoleSecrets(write, r.id, secrets)
	require.NoError(t, err)
	r.encPriv, r.encAlg = encryption.PrivateKey, encryption.Alg

	require.NoError(t, e.st.Roles().Create(context.Background(), &model.Role{
		ID:                     r.id,
		RoleType:               "person",
		EncryptedRoleBlob:      blob,
		PublicSigningKey:       signing.PublicKey,
		PublicSigningKeyAlg:    signing.Alg,
		PublicEncryptionKey:    encryption.PublicKey,
		PublicEncryptionKeyAlg: encryption.Alg,
	}))
	return r
}

func ringOf(roles ...*testRole) *keyring.RoleKeyRing {
	keys := make(map[uuid.UUID]keyring.RoleKeys, len(roles))
	for _, r := range roles {
		keys[r.id] = keyring.RoleKeys{Read: r.read, Write: r.write}
	}
	return keyring.NewRoleKeyRing(keys)
}

func readOnlyRing(r *testRole) *keyring.RoleKeyRing {
	return keyring.NewRoleKeyRing(map[uuid.UUID]keyring.RoleKeys{r.id: {Read: r.read}})
}

// issue creates target plus n holders, each with an active share.
func (e *env) issue(t *testing.T, n int) (*testRole, []*testRole) {
	t.Helper()
	target := e.newRole(t)
	holders := make([]*testRole, n)
	for i := range holders {
		holders[i] = e.newRole(t)
		_, err := e.svc.IssueShare(context.Background(), ringOf(target), "owner", target.id, holders[i].id, []byte{byte(i + 1)})
		require.NoError(t, err)
	}
	return target, holders
}

// ---------------------------------------------------------------------------
// Shares
// ---------------------------------------------------------------------------

func TestIssueShare_WrapsFragmentForHolder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holder := e.newRole(t), e.newRole(t)

	sh, err := e.svc.IssueShare(ctx, ringOf(target), "owner", target.id, holder.id, []byte("fragment"))
	require.NoError(t, err)
	assert.True(t, sh.Active())

	plain, err := envelope.DecryptWithPrivateKey(holder.encPriv, holder.encAlg, sh.EncryptedShareBlob)
	require.NoError(t, err)
	assert.Equal(t, []byte("fragment"), plain)

	entries, err := e.ledger.Entries(ctx, ledger.CategoryAuth)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventRecoveryShare, entries[0].EventType)
	assert.Equal(t, target.id, entries[0].SignerRoleID)
}

func TestIssueShare_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holder := e.newRole(t), e.newRole(t)

	_, err := e.svc.IssueShare(ctx, readOnlyRing(target), "owner", target.id, holder.id, []byte("f"))
	assert.ErrorIs(t, err, ErrMissingKeys)

	_, err = e.svc.IssueShare(ctx, ringOf(target), "owner", target.id, holder.id, nil)
	assert.ErrorIs(t, err, ErrEmptyFragment)

	_, err = e.svc.IssueShare(ctx, ringOf(target), "owner", target.id, uuid.New(), []byte("f"))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.svc.IssueShare(ctx, nil, "owner", target.id, holder.id, []byte("f"))
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestRevokeAndReissue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holders := e.issue(t, 2)

	sh, err := e.svc.RevokeShare(ctx, ringOf(target), "owner", target.id, holders[0].id)
	require.NoError(t, err)
	assert.False(t, sh.Active())

	_, err = e.svc.RevokeShare(ctx, readOnlyRing(target), "owner", target.id, holders[1].id)
	assert.ErrorIs(t, err, model.ErrForbidden)

	again, err := e.svc.IssueShare(ctx, ringOf(target), "owner", target.id, holders[0].id, []byte("new"))
	require.NoError(t, err)
	assert.True(t, again.Active())
	assert.Equal(t, sh.ID, again.ID)

	all, err := e.svc.Shares(ctx, target.id)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func TestRecovery_ThresholdOfThree(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holders := e.issue(t, 3)
	initiator := e.newRole(t)

	req, err := e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
	require.NoError(t, err)
	assert.Equal(t, 3, req.RequiredApprovals)
	assert.Equal(t, model.RecoveryPending, req.Status)

	for i, h := range holders[:2] {
		got, err := e.svc.Approve(ctx, ringOf(h), "holder", req.ID, h.id, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, model.RecoveryPending, got.Status)
	}

	_, err = e.svc.Approve(ctx, ringOf(holders[0]), "holder", req.ID, holders[0].id, []byte{9})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, 409, model.HTTPStatus(err))

	got, err := e.svc.Approve(ctx, ringOf(holders[2]), "holder", req.ID, holders[2].id, []byte{2})
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryReady, got.Status)
	assert.Contains(t, e.logs.String(), "threshold reached")

	done, err := e.svc.Complete(ctx, ringOf(initiator), "initiator", req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryCompleted, done.Status)
	assert.False(t, done.CompletedUTC.IsZero())

	shares, err := e.svc.Shares(ctx, target.id)
	require.NoError(t, err)
	for _, sh := range shares {
		assert.False(t, sh.Active(), "completion consumes every share")
	}

	_, err = e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
	assert.ErrorIs(t, err, store.ErrNoActiveShares)

	events := map[string]int{}
	entries, err := e.ledger.Entries(ctx, ledger.CategoryAuth)
	require.NoError(t, err)
	for _, entry := range entries {
		events[entry.EventType]++
	}
	assert.Equal(t, 3, events[ledger.EventRecoveryShare])
	assert.Equal(t, 1, events[ledger.EventRecoveryRequest])
	assert.Equal(t, 3, events[ledger.EventRecoveryApproval])
	assert.Equal(t, 1, events[ledger.EventRecoveryCompleted])

	report, err := e.ledger.Verify(ctx, ledger.CategoryAuth, uuid.Nil, e.st.Roles())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Zero(t, report.SignaturesInvalid)
}

func TestApprove_Eligibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holders := e.issue(t, 2)
	initiator, outsider := e.newRole(t), e.newRole(t)

	req, err := e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
	require.NoError(t, err)

	_, err = e.svc.Approve(ctx, ringOf(outsider), "outsider", req.ID, outsider.id, []byte{1})
	assert.ErrorIs(t, err, model.ErrForbidden, "no share")

	_, err = e.svc.Approve(ctx, ringOf(outsider), "outsider", req.ID, holders[0].id, []byte{1})
	assert.ErrorIs(t, err, ErrMissingKeys, "acting as a role not in the ring")

	_, err = e.svc.Approve(ctx, ringOf(holders[0]), "holder", req.ID, holders[0].id, nil)
	assert.ErrorIs(t, err, ErrEmptyFragment)

	_, err = e.svc.RevokeShare(ctx, ringOf(target), "owner", target.id, holders[1].id)
	require.NoError(t, err)
	_, err = e.svc.Approve(ctx, ringOf(holders[1]), "holder", req.ID, holders[1].id, []byte{1})
	assert.ErrorIs(t, err, model.ErrForbidden, "revoked share")
}

func TestCreateRequest_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, initiator := e.newRole(t), e.newRole(t)

	_, err := e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
	assert.ErrorIs(t, err, store.ErrNoActiveShares)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = e.svc.CreateRequest(ctx, ringOf(), "initiator", target.id, initiator.id)
	assert.ErrorIs(t, err, ErrMissingKeys)
}

func TestCompleteAndCancel_Transitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holders := e.issue(t, 1)
	initiator, outsider := e.newRole(t), e.newRole(t)

	req, err := e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, ringOf(initiator), "initiator", req.ID)
	assert.ErrorIs(t, err, model.ErrConflict, "complete from Pending")

	_, err = e.svc.Cancel(ctx, ringOf(outsider), "outsider", req.ID)
	assert.ErrorIs(t, err, ErrMissingKeys)

	_, err = e.svc.Approve(ctx, ringOf(holders[0]), "holder", req.ID, holders[0].id, []byte{1})
	require.NoError(t, err)

	_, err = e.svc.Complete(ctx, ringOf(outsider), "outsider", req.ID)
	assert.ErrorIs(t, err, ErrMissingKeys)

	// A writer of the target may cancel a Ready request.
	canceled, err := e.svc.Cancel(ctx, ringOf(target), "owner", req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryCanceled, canceled.Status)

	_, err = e.svc.Cancel(ctx, ringOf(initiator), "initiator", req.ID)
	assert.ErrorIs(t, err, model.ErrConflict)
	_, err = e.svc.Complete(ctx, ringOf(initiator), "initiator", req.ID)
	assert.ErrorIs(t, err, model.ErrConflict)

	shares, err := e.svc.Shares(ctx, target.id)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.True(t, shares[0].Active(), "cancel keeps shares")

	_, err = e.svc.Complete(ctx, ringOf(initiator), "initiator", uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFeasible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, holders := e.issue(t, 3)
	initiator := e.newRole(t)

	req, err := e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
	require.NoError(t, err)

	ok, err := e.svc.Feasible(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.svc.Approve(ctx, ringOf(holders[0]), "holder", req.ID, holders[0].id, []byte{1})
	require.NoError(t, err)

	// Revoking a holder that already voted keeps the request reachable.
	_, err = e.svc.RevokeShare(ctx, ringOf(target), "owner", target.id, holders[0].id)
	require.NoError(t, err)
	ok, err = e.svc.Feasible(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, e.logs.String(), "can no longer reach")

	// Revoking one that has not voted strands it.
	_, err = e.svc.RevokeShare(ctx, ringOf(target), "owner", target.id, holders[1].id)
	require.NoError(t, err)
	ok, err = e.svc.Feasible(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, e.logs.String(), "can no longer reach its threshold")

	got, err := e.svc.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequiredApprovals, "threshold stays frozen")

	_, err = e.svc.Feasible(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRequests_Listing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	e.svc = NewService(e.st.Roles(), e.st.Recovery(), e.ledger, WithClock(func() time.Time { return now }))

	target, _ := e.issue(t, 1)
	initiator := e.newRole(t)
	for i := 0; i < 2; i++ {
		_, err := e.svc.CreateRequest(ctx, ringOf(initiator), "initiator", target.id, initiator.id)
		require.NoError(t, err)
	}

	reqs, err := e.svc.Requests(ctx, target.id)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.True(t, now.Equal(r.CreatedUTC))
	}
}
