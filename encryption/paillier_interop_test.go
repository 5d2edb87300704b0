package encryption_test

import (
	"math/big"
	"testing"

	"github.com/roasbeef/go-go-gadget-paillier"
	"github.com/stretchr/testify/require"

	"phe-toolkit/encryption"
	"phe-toolkit/storage"
)

func TestPaillierGadgetInterop(t *testing.T) {
	p := newPaillier(t, storage.NewMemoryKeyStore(), "0")
	pub := p.ExportPublicKey()

	n, nsquared, _ := p.PublicKey()
	require.Equal(t, n, pub.N)
	require.Equal(t, nsquared, pub.NSquared)
	require.EqualValues(t, 2, pub.G.Int64())

	rawInt := func(v encryption.Value) []byte {
		c, err := v.AsInteger()
		require.NoError(t, err)
		return c.Bytes()
	}
	fromRaw := func(b []byte) encryption.Value {
		return encryption.IntegerValue(new(big.Int).SetBytes(b))
	}

	a := encryptInt(t, p, 1000)
	b := encryptInt(t, p, -24)

	t.Run("AddCipher", func(t *testing.T) {
		sum := paillier.AddCipher(pub, rawInt(a), rawInt(b))
		require.EqualValues(t, 976, decryptInt(t, p, fromRaw(sum)))

		ours, err := p.Evaluate(a, b)
		require.NoError(t, err)
		require.Equal(t, sum, rawInt(ours))
	})

	t.Run("Mul", func(t *testing.T) {
		prod := paillier.Mul(pub, rawInt(b), big.NewInt(3).Bytes())
		require.EqualValues(t, -72, decryptInt(t, p, fromRaw(prod)))

		ours, err := p.EvaluateScalar(b, big.NewInt(3))
		require.NoError(t, err)
		require.Equal(t, prod, rawInt(ours))
	})

	t.Run("NegativeScalar", func(t *testing.T) {
		ours, err := p.EvaluateScalar(a, big.NewInt(-2))
		require.NoError(t, err)
		require.EqualValues(t, -2000, decryptInt(t, p, ours))

		zero, err := p.EvaluateScalar(a, big.NewInt(0))
		require.NoError(t, err)
		require.EqualValues(t, 0, decryptInt(t, p, zero))
	})
}
