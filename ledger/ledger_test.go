package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpdv-go/envelope"
	"github.com/bitfsorg/libpdv-go/model"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// fixedClock always returns the same instant so monotonic bumping is
// exercised on every append.
func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

type keyMap map[uuid.UUID]*envelope.KeyPair

func (m keyMap) SigningPublicKey(_ context.Context, roleID uuid.UUID) ([]byte, string, error) {
	kp, ok := m[roleID]
	if !ok {
		return nil, "", model.ErrNotFound
	}
	return kp.PublicKey, kp.Alg, nil
}

type roleMap map[uuid.UUID]*model.Role

func (m roleMap) Role(_ context.Context, id uuid.UUID) (*model.Role, error) {
	r, ok := m[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return r, nil
}

func appendN(t *testing.T, svc *Service, cat Category, n int, signer *SigningContext) []*Entry {
	t.Helper()
	out := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := svc.Append(context.Background(), cat, "event", "actor", fmt.Sprintf(`{"n":%d}`, i), signer)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

// ---------------------------------------------------------------------------
// Append
// ---------------------------------------------------------------------------

func TestAppend_ChainsEntries(t *testing.T) {
	svc := NewService(NewMemStore())
	entries := appendN(t, svc, CategoryKey, 5, nil)

	assert.Equal(t, GenesisHash, entries[0].PreviousHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PreviousHash)
		assert.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}
	for _, e := range entries {
		assert.Len(t, e.Hash, 64)
		assert.Equal(t, CategoryKey, e.Category)
		assert.False(t, e.Signed())
	}
}

func TestAppend_MonotonicTimestamps(t *testing.T) {
	svc := NewService(NewMemStore(), WithClock(fixedClock))
	entries := appendN(t, svc, CategoryAuth, 3, nil)

	assert.Equal(t, fixedClock(), entries[0].Timestamp)
	assert.Equal(t, fixedClock().Add(time.Nanosecond), entries[1].Timestamp)
	assert.Equal(t, fixedClock().Add(2*time.Nanosecond), entries[2].Timestamp)
}

func TestAppend_ChainsAreIndependent(t *testing.T) {
	svc := NewService(NewMemStore())
	ctx := context.Background()

	a, err := svc.AppendAuth(ctx, "login", "u1", "{}", nil)
	require.NoError(t, err)
	k, err := svc.AppendKey(ctx, "role.created", "u1", "{}", nil)
	require.NoError(t, err)
	b, err := svc.AppendBusiness(ctx, "field.set", "u1", "{}", nil)
	require.NoError(t, err)

	assert.Equal(t, GenesisHash, a.PreviousHash)
	assert.Equal(t, GenesisHash, k.PreviousHash)
	assert.Equal(t, GenesisHash, b.PreviousHash)

	got, err := svc.Get(ctx, CategoryKey, k.ID)
	require.NoError(t, err)
	assert.Equal(t, k.Hash, got.Hash)

	_, err = svc.Get(ctx, CategoryAuth, k.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAppend_Validation(t *testing.T) {
	svc := NewService(NewMemStore())
	ctx := context.Background()

	_, err := svc.Append(ctx, Category(9), "e", "a", "", nil)
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = svc.Append(ctx, CategoryAuth, "", "a", "", nil)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestAppend_CancelledContextPersistsNothing(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.AppendKey(ctx, "event", "actor", "{}", nil)
	assert.True(t, errors.Is(err, context.Canceled))

	entries, err := store.Entries(context.Background(), CategoryKey)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppend_ConcurrentSameChain(t *testing.T) {
	svc := NewService(NewMemStore())
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := svc.AppendBusiness(ctx, "event", fmt.Sprintf("w%d", w), fmt.Sprint(i), nil)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := svc.Entries(ctx, CategoryBusiness)
	require.NoError(t, err)
	require.Len(t, entries, workers*perWorker)

	report, err := VerifyLedger(ctx, "business", entries, uuid.Nil, nil)
	require.NoError(t, err)
	assert.Zero(t, report.HashMismatches)
	assert.Zero(t, report.PreviousHashMismatches)
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerify_IntactChain(t *testing.T) {
	svc := NewService(NewMemStore())
	appendN(t, svc, CategoryKey, 10, nil)

	report, err := svc.Verify(context.Background(), CategoryKey, uuid.Nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Entries)
	assert.Zero(t, report.HashMismatches)
	assert.Zero(t, report.PreviousHashMismatches)
	assert.Equal(t, 10, report.SignaturesMissing)
	assert.Zero(t, report.SignaturesInvalid)
	assert.True(t, report.OK())
}

func TestVerify_EmptyChain(t *testing.T) {
	report, err := VerifyLedger(context.Background(), "auth", nil, uuid.Nil, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Entries)
	assert.True(t, report.OK())
}

func TestVerify_TamperedPayload(t *testing.T) {
	tests := []struct {
		name string
		k    int
	}{
		{"first", 0},
		{"middle", 4},
		{"last", 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(NewMemStore())
			entries := appendN(t, svc, CategoryKey, 10, nil)

			tampered := []byte(entries[tt.k].Payload)
			tampered[0] ^= 0x01
			entries[tt.k].Payload = string(tampered)

			report, err := VerifyLedger(context.Background(), "key", entries, uuid.Nil, nil)
			require.NoError(t, err)

			assert.Equal(t, 1, report.HashMismatches)
			wantPrev := 1
			if tt.k == len(entries)-1 {
				wantPrev = 0
			}
			assert.Equal(t, wantPrev, report.PreviousHashMismatches)

			for _, v := range report.Violations {
				switch v.Kind {
				case ViolationHash:
					assert.Equal(t, tt.k, v.Index)
					assert.Equal(t, entries[tt.k].ID, v.EntryID)
				case ViolationPreviousHash:
					assert.Equal(t, tt.k+1, v.Index)
				}
			}
			assert.False(t, report.OK())
		})
	}
}

func TestVerify_BrokenLink(t *testing.T) {
	svc := NewService(NewMemStore())
	entries := appendN(t, svc, CategoryAuth, 4, nil)

	// The stored hash still matches the content over the predecessor's
	// stored hash; only the declared links around entry 2 break.
	entries[2].PreviousHash = GenesisHash

	report, err := VerifyLedger(context.Background(), "auth", entries, uuid.Nil, nil)
	require.NoError(t, err)
	assert.Zero(t, report.HashMismatches)
	assert.Equal(t, 2, report.PreviousHashMismatches)
}

func TestVerify_UnorderedInput(t *testing.T) {
	svc := NewService(NewMemStore())
	entries := appendN(t, svc, CategoryAuth, 5, nil)

	shuffled := []*Entry{entries[3], entries[0], entries[4], entries[2], entries[1]}
	report, err := VerifyLedger(context.Background(), "auth", shuffled, uuid.Nil, nil)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, entries[3], shuffled[0], "input slice must not be reordered")
}

func TestVerify_Signatures(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemStore())

	signerID, otherID := uuid.New(), uuid.New()
	signerKP, err := envelope.GenerateSigningKeyPair()
	require.NoError(t, err)
	otherKP, err := envelope.GenerateSigningKeyPair()
	require.NoError(t, err)

	signer := &SigningContext{RoleID: signerID, SigningKey: signerKP.PrivateKey, SigningAlg: signerKP.Alg}
	other := &SigningContext{RoleID: otherID, SigningKey: otherKP.PrivateKey, SigningAlg: otherKP.Alg}

	appendN(t, svc, CategoryKey, 3, signer)
	appendN(t, svc, CategoryKey, 2, other)
	appendN(t, svc, CategoryKey, 1, nil)

	keys := keyMap{signerID: signerKP, otherID: otherKP}
	report, err := svc.Verify(ctx, CategoryKey, signerID, keys)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RoleSignedEntries)
	assert.Equal(t, 1, report.SignaturesMissing)
	assert.Zero(t, report.SignaturesInvalid)
	assert.True(t, report.OK())

	// Unknown signer key counts as invalid.
	report, err = svc.Verify(ctx, CategoryKey, signerID, keyMap{signerID: signerKP})
	require.NoError(t, err)
	assert.Equal(t, 2, report.SignaturesInvalid)
	assert.Equal(t, 3, report.RoleSignedEntries)

	// Swapped signature.
	entries, err := svc.Entries(ctx, CategoryKey)
	require.NoError(t, err)
	entries[0].Signature, entries[1].Signature = entries[1].Signature, entries[0].Signature
	report, err = VerifyLedger(ctx, "key", entries, signerID, keys)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SignaturesInvalid)
	assert.Equal(t, 1, report.RoleSignedEntries)
	assert.Zero(t, report.HashMismatches)
}

func TestVerify_CancelledContext(t *testing.T) {
	svc := NewService(NewMemStore())
	entries := appendN(t, svc, CategoryAuth, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := VerifyLedger(ctx, "auth", entries, uuid.Nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Signing context
// ---------------------------------------------------------------------------

func TestTryGetSigningContext(t *testing.T) {
	ctx := context.Background()
	roleID := uuid.New()
	writeKey, err := envelope.GenerateKey()
	require.NoError(t, err)

	secrets, _, _, err := envelope.NewRoleSecrets(envelope.AlgSecp256k1ECIES)
	require.NoError(t, err)
	blob, err := envelope.SealRoleSecrets(writeKey, roleID, secrets)
	require.NoError(t, err)

	roles := roleMap{roleID: {ID: roleID, EncryptedRoleBlob: blob}}

	sc := TryGetSigningContext(ctx, roles, roleID, writeKey)
	require.NotNil(t, sc)
	assert.Equal(t, roleID, sc.RoleID)
	assert.Equal(t, secrets.SigningKey, sc.SigningKey)

	wrongKey, err := envelope.GenerateKey()
	require.NoError(t, err)
	assert.Nil(t, TryGetSigningContext(ctx, roles, roleID, wrongKey))
	assert.Nil(t, TryGetSigningContext(ctx, roles, uuid.New(), writeKey))
	assert.Nil(t, TryGetSigningContext(ctx, roles, roleID, nil))
	assert.Nil(t, TryGetSigningContext(ctx, nil, roleID, writeKey))
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories {
		got, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	got, err := ParseCategory(" KEY ")
	require.NoError(t, err)
	assert.Equal(t, CategoryKey, got)

	_, err = ParseCategory("ledger")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}
