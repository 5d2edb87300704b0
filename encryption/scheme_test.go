package encryption_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"phe-toolkit/encryption"
	"phe-toolkit/storage"
)

// Small keys keep the tests fast; nothing here depends on key strength.
const testKeyBits = 512

var (
	_ encryption.KeyStore = (*storage.MemoryKeyStore)(nil)
	_ encryption.KeyStore = (*storage.FileKeyStore)(nil)
)

func testOptions() encryption.Options {
	return encryption.Options{KeyBits: testKeyBits}
}

func newPaillier(t *testing.T, store encryption.KeyStore, keyID string) *encryption.Paillier {
	t.Helper()
	p, err := encryption.NewPaillier(store, encryption.KeyPaths("keys", encryption.PaillierName, keyID), testOptions())
	require.NoError(t, err)
	return p
}

func newElGamal(t *testing.T, store encryption.KeyStore, keyID string) *encryption.ElGamal {
	t.Helper()
	e, err := encryption.NewElGamal(store, encryption.KeyPaths("keys", encryption.ElGamalName, keyID), testOptions())
	require.NoError(t, err)
	return e
}

func encryptInt(t *testing.T, s encryption.Scheme, m int64) encryption.Value {
	t.Helper()
	ct, err := s.Encrypt(encryption.Int64Value(m))
	require.NoError(t, err)
	return ct
}

func decryptInt(t *testing.T, s encryption.Scheme, ct encryption.Value) int64 {
	t.Helper()
	pt, err := s.Decrypt(ct)
	require.NoError(t, err)
	m, err := pt.AsInteger()
	require.NoError(t, err)
	require.True(t, m.IsInt64(), "plaintext %s does not fit in int64", m)
	return m.Int64()
}

func pow2(bits int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(bits))
}

func TestProperty(t *testing.T) {
	for _, p := range []encryption.Property{
		encryption.PropertyNone, encryption.PropertyRND, encryption.PropertyDET,
		encryption.PropertyAHE, encryption.PropertyMHE, encryption.PropertyDMHE,
		encryption.PropertyOPE, encryption.PropertyOPESTR, encryption.PropertyXOR,
	} {
		parsed, err := encryption.ParseProperty(p.String())
		require.NoError(t, err)
		require.Equal(t, p, parsed)
	}

	p, err := encryption.ParseProperty("ahe")
	require.NoError(t, err)
	require.Equal(t, encryption.PropertyAHE, p)

	_, err = encryption.ParseProperty("FHE")
	require.ErrorIs(t, err, encryption.ErrUnsupportedOperation)
}

func TestReEncrypt(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	paillier := newPaillier(t, store, "re")
	aes, err := encryption.NewAES(store, encryption.KeyPaths("keys", encryption.AESName, "re"), false, encryption.Options{})
	require.NoError(t, err)

	ct := encryptInt(t, paillier, 42)
	det, err := encryption.ReEncrypt(paillier, aes, ct)
	require.NoError(t, err)

	want, err := aes.Encrypt(encryption.TextValue("42"))
	require.NoError(t, err)
	require.Equal(t, want.String(), det.String())

	back, err := encryption.ReEncrypt(aes, paillier, det)
	require.NoError(t, err)
	require.EqualValues(t, 42, decryptInt(t, paillier, back))

	_, err = encryption.ReEncrypt(paillier, aes, encryption.TextValue("not a number"))
	require.ErrorIs(t, err, encryption.ErrMalformedCiphertext)
}

func TestEncryptAny(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	p := newPaillier(t, store, "any")

	for _, x := range []any{int8(5), uint16(5), int64(5), 5.9, "5", big.NewInt(5)} {
		ct, err := encryption.EncryptAny(p, x)
		require.NoError(t, err, "%T", x)
		require.EqualValues(t, 5, decryptInt(t, p, ct), "%T", x)
	}

	_, err := encryption.EncryptAny(p, struct{}{})
	require.ErrorIs(t, err, encryption.ErrTypeCoercion)
	_, err = encryption.EncryptAny(p, "five")
	require.ErrorIs(t, err, encryption.ErrTypeCoercion)
}
