package envelope

import (
	"bytes"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper functions ---

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, KeyLen)
	return key
}

// --- Encrypt / Decrypt tests ---

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		aad  []byte
	}{
		{"empty data", []byte{}, nil},
		{"short", []byte("hello"), nil},
		{"with aad", []byte("hello"), []byte("role-1")},
		{"binary", []byte{0x00, 0xff, 0x10}, []byte{0x01}},
		{"large", bytes.Repeat([]byte("x"), 64*1024), []byte("big")},
	}

	key := mustKey(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := Encrypt(key, tt.data, tt.aad)
			require.NoError(t, err)
			assert.Len(t, ct, NonceLen+len(tt.data)+GCMTagLen)

			pt, err := Decrypt(key, ct, tt.aad)
			require.NoError(t, err)
			assert.Equal(t, tt.data, pt)
		})
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	key := mustKey(t)
	a, err := Encrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Failures(t *testing.T) {
	key := mustKey(t)
	ct, err := Encrypt(key, []byte("secret"), []byte("aad"))
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := Decrypt(mustKey(t), ct, []byte("aad"))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
	t.Run("wrong aad", func(t *testing.T) {
		_, err := Decrypt(key, ct, []byte("other"))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte(nil), ct...)
		bad[len(bad)-1] ^= 0x01
		_, err := Decrypt(key, bad, []byte("aad"))
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
	t.Run("too short", func(t *testing.T) {
		_, err := Decrypt(key, ct[:MinCiphertextLen-1], []byte("aad"))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})
	t.Run("bad key length", func(t *testing.T) {
		_, err := Decrypt(key[:16], ct, []byte("aad"))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

// --- DeriveRoleKeys tests ---

func TestDeriveRoleKeys(t *testing.T) {
	roleKey := mustKey(t)

	r1, w1, err := DeriveRoleKeys(roleKey)
	require.NoError(t, err)
	r2, w2, err := DeriveRoleKeys(roleKey)
	require.NoError(t, err)

	assert.Equal(t, r1, r2, "derivation must be deterministic")
	assert.Equal(t, w1, w2)
	assert.NotEqual(t, r1, w1, "read and write keys must differ")
	assert.NotEqual(t, roleKey, r1)

	_, _, err = DeriveRoleKeys(roleKey[:31])
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// --- Field encryption tests ---

func TestFieldValue_RoundTrip(t *testing.T) {
	dataKey := mustKey(t)
	roleID := uuid.New()

	for _, plaintext := range []string{"", "Alice", "Zoë 🚀", string(bytes.Repeat([]byte("a"), 4096))} {
		ct, err := EncryptFieldValue(dataKey, plaintext, roleID, "nick")
		require.NoError(t, err)

		got, ok := TryDecryptFieldValue(dataKey, ct, roleID, "nick")
		require.True(t, ok)
		assert.Equal(t, plaintext, got)
	}
}

func TestFieldValue_Binding(t *testing.T) {
	dataKey := mustKey(t)
	r1, r2 := uuid.New(), uuid.New()

	ct, err := EncryptFieldValue(dataKey, "x", r1, "nick")
	require.NoError(t, err)

	_, ok := TryDecryptFieldValue(dataKey, ct, r2, "nick")
	assert.False(t, ok, "different role must not decrypt")

	_, ok = TryDecryptFieldValue(dataKey, ct, r1, "name")
	assert.False(t, ok, "different field type must not decrypt")

	_, ok = TryDecryptFieldValue(mustKey(t), ct, r1, "nick")
	assert.False(t, ok, "wrong key must not decrypt")

	got, ok := TryDecryptFieldValue(dataKey, ct, r1, " NICK ")
	assert.True(t, ok, "field type binding is case-insensitive")
	assert.Equal(t, "x", got)
}

func TestDataKey_RoundTrip(t *testing.T) {
	readKey := mustKey(t)
	dataKey := mustKey(t)
	id := uuid.New()

	wrapped, err := EncryptDataKey(readKey, dataKey, id)
	require.NoError(t, err)

	got, err := DecryptDataKey(readKey, wrapped, id)
	require.NoError(t, err)
	assert.Equal(t, dataKey, got)

	_, err = DecryptDataKey(readKey, wrapped, uuid.New())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = EncryptDataKey(readKey, dataKey[:10], id)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyCopy_BoundToOwner(t *testing.T) {
	parentKey := mustKey(t)
	childKey := mustKey(t)
	child := uuid.New()

	wrapped, err := WrapKeyCopy(parentKey, childKey, child)
	require.NoError(t, err)

	got, err := UnwrapKeyCopy(parentKey, wrapped, child)
	require.NoError(t, err)
	assert.Equal(t, childKey, got)

	_, err = UnwrapKeyCopy(parentKey, wrapped, uuid.New())
	assert.Error(t, err)
}

// --- Asymmetric transfer tests ---

func TestPublicKeyTransfer(t *testing.T) {
	for _, alg := range []string{AlgSecp256k1ECIES, AlgAgeX25519} {
		t.Run(alg, func(t *testing.T) {
			kp, err := GenerateEncryptionKeyPair(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, kp.Alg)

			secret := mustKey(t)
			ct, err := EncryptWithPublicKey(kp.PublicKey, alg, secret)
			require.NoError(t, err)

			pt, err := DecryptWithPrivateKey(kp.PrivateKey, alg, ct)
			require.NoError(t, err)
			assert.Equal(t, secret, pt)

			other, err := GenerateEncryptionKeyPair(alg)
			require.NoError(t, err)
			_, err = DecryptWithPrivateKey(other.PrivateKey, alg, ct)
			assert.ErrorIs(t, err, ErrCryptographic)
		})
	}
}

func TestPublicKeyTransfer_UnsupportedAlgorithm(t *testing.T) {
	_, err := GenerateEncryptionKeyPair("rsa-oaep")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = EncryptWithPublicKey([]byte("k"), "rsa-oaep", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = DecryptWithPrivateKey([]byte("k"), "rsa-oaep", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestECIES_MalformedInput(t *testing.T) {
	kp, err := GenerateEncryptionKeyPair(AlgSecp256k1ECIES)
	require.NoError(t, err)

	_, err = EncryptWithPublicKey([]byte{0x02, 0x01}, AlgSecp256k1ECIES, []byte("x"))
	assert.ErrorIs(t, err, ErrCryptographic)

	_, err = DecryptWithPrivateKey(kp.PrivateKey, AlgSecp256k1ECIES, []byte("short"))
	assert.ErrorIs(t, err, ErrCryptographic)
}

func TestECDH_Symmetry(t *testing.T) {
	privA, err := ec.NewPrivateKey()
	require.NoError(t, err)
	privB, err := ec.NewPrivateKey()
	require.NoError(t, err)

	ab, err := ECDH(privA, privB.PubKey())
	require.NoError(t, err)
	ba, err := ECDH(privB, privA.PubKey())
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)

	_, err = ECDH(nil, privB.PubKey())
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// --- Signing tests ---

func TestSignVerify(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	msg := []byte("ledger entry content")
	sig, err := Sign(kp.PrivateKey, kp.Alg, msg)
	require.NoError(t, err)

	ok, err := Verify(kp.PublicKey, kp.Alg, msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(kp.PublicKey, kp.Alg, []byte("other content"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := GenerateSigningKeyPair()
	require.NoError(t, err)
	ok, err = Verify(other.PublicKey, kp.Alg, msg, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(kp.PublicKey, kp.Alg, msg, []byte{0x30, 0x01})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

// --- Role secrets tests ---

func TestRoleSecrets_SealOpen(t *testing.T) {
	writeKey := mustKey(t)
	roleID := uuid.New()

	secrets, signing, encryption, err := NewRoleSecrets(AlgSecp256k1ECIES)
	require.NoError(t, err)
	assert.Equal(t, AlgECDSASecp256k1, signing.Alg)
	assert.Equal(t, AlgSecp256k1ECIES, encryption.Alg)

	blob, err := SealRoleSecrets(writeKey, roleID, secrets)
	require.NoError(t, err)

	got, err := OpenRoleSecrets(writeKey, blob, roleID)
	require.NoError(t, err)
	assert.Equal(t, secrets, got)

	_, err = OpenRoleSecrets(writeKey, blob, uuid.New())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = OpenRoleSecrets(mustKey(t), blob, roleID)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
