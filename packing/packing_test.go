package packing_test

import (
	"math"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"phe-toolkit/encryption"
	"phe-toolkit/packing"
	"phe-toolkit/storage"
)

const testKeyBits = 512

var bigIntComparer = cmp.Comparer(func(a, b *big.Int) bool {
	return a.Cmp(b) == 0
})

func bigs(xs ...int64) []*big.Int {
	out := make([]*big.Int, len(xs))
	for i, x := range xs {
		out[i] = big.NewInt(x)
	}
	return out
}

func requireItems(t *testing.T, want []*big.Int, got []*big.Int) {
	t.Helper()
	if diff := cmp.Diff(want, got, bigIntComparer); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
}

func TestCodec(t *testing.T) {
	t.Run("Layout", func(t *testing.T) {
		ahe, err := packing.New(encryption.PropertyAHE, 256)
		require.NoError(t, err)
		require.Equal(t, packing.AHEDefaultPadding, ahe.DefaultPadding())
		n, err := ahe.ItemsPerBlock(ahe.DefaultPadding())
		require.NoError(t, err)
		require.Equal(t, 2, n)

		mhe, err := packing.New(encryption.PropertyMHE, 256)
		require.NoError(t, err)
		require.Equal(t, 64, mhe.DefaultPadding())

		odd, err := packing.New(encryption.PropertyMHE, 300)
		require.NoError(t, err)
		require.Equal(t, 80, odd.DefaultPadding())
	})

	t.Run("RoundTrip", func(t *testing.T) {
		c, err := packing.New(encryption.PropertyAHE, 256)
		require.NoError(t, err)

		blocks, err := c.PackDefault([]int64{1, 2, 3}, false)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		require.Len(t, blocks[0], 22)
		require.Len(t, blocks[1], 11)

		items, err := c.UnpackDefault(blocks, false)
		require.NoError(t, err)
		requireItems(t, bigs(1, 2, 3), items)
	})

	t.Run("ItemOrder", func(t *testing.T) {
		c, err := packing.New(encryption.PropertyAHE, 256)
		require.NoError(t, err)
		blocks, err := c.Pack([]int64{1, 2}, 0, false)
		require.NoError(t, err)

		want := make([]byte, 16)
		want[7], want[15] = 1, 2
		require.Equal(t, [][]byte{want}, blocks)
	})

	t.Run("Negative", func(t *testing.T) {
		c, err := packing.New(encryption.PropertyAHE, 256)
		require.NoError(t, err)

		blocks, err := c.Pack([]int64{-1, math.MinInt64}, 0, false)
		require.NoError(t, err)
		items, err := c.Unpack(blocks, 0, false)
		require.NoError(t, err)
		requireItems(t, bigs(-1, math.MinInt64), items)

		// With padding the sign bit is buried under zero bytes.
		blocks, err = c.PackDefault([]int64{-1}, false)
		require.NoError(t, err)
		items, err = c.UnpackDefault(blocks, false)
		require.NoError(t, err)
		requireItems(t, []*big.Int{new(big.Int).SetUint64(math.MaxUint64)}, items)
	})

	t.Run("MHEFill", func(t *testing.T) {
		c, err := packing.New(encryption.PropertyMHE, 256)
		require.NoError(t, err)

		blocks, err := c.PackDefault([]int64{5, 6, 7}, false)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		items, err := c.UnpackDefault(blocks, false)
		require.NoError(t, err)
		requireItems(t, bigs(5, 6, 7, 1), items)

		blocks, err = c.PackDefault([]int64{5, 6, 7}, true)
		require.NoError(t, err)
		items, err = c.UnpackDefault(blocks, true)
		require.NoError(t, err)
		requireItems(t, bigs(5, 6, 7), items)
	})

	t.Run("AlignBlock", func(t *testing.T) {
		c, err := packing.New(encryption.PropertyAHE, 256)
		require.NoError(t, err)

		aligned := c.AlignBlock([]byte{9}, 2, 0)
		require.Len(t, aligned, 16)
		items, err := c.UnpackBlock(aligned, 0, false)
		require.NoError(t, err)
		requireItems(t, bigs(0, 9), items)

		full := make([]byte, 16)
		require.Equal(t, full, c.AlignBlock(full, 2, 0))
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := packing.New(encryption.PropertyDET, 256)
		require.ErrorIs(t, err, encryption.ErrUnsupportedOperation)
		_, err = packing.New(encryption.PropertyAHE, 0)
		require.ErrorIs(t, err, encryption.ErrConfiguration)

		small, err := packing.New(encryption.PropertyAHE, 128)
		require.NoError(t, err)
		_, err = small.PackDefault([]int64{1, 2, 3}, false)
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
		_, err = small.UnpackDefault([][]byte{{1}}, false)
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)

		c, err := packing.New(encryption.PropertyAHE, 256)
		require.NoError(t, err)
		_, err = c.Pack([]int64{1}, 12, false)
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
		_, err = c.UnpackProducts([][]byte{{1}}, 0)
		require.ErrorIs(t, err, encryption.ErrUnsupportedOperation)

		// Four items per block only work for constant multiplication.
		wide, err := packing.New(encryption.PropertyMHE, 512)
		require.NoError(t, err)
		_, err = wide.Pack([]int64{1, 2}, 64, false)
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
		_, err = wide.Pack([]int64{1, 2}, 64, true)
		require.NoError(t, err)
	})
}

func TestPackedPaillier(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	p, err := encryption.NewPaillier(store, encryption.KeyPaths("keys", encryption.PaillierName, "0"), encryption.Options{KeyBits: testKeyBits})
	require.NoError(t, err)

	c, err := packing.ForScheme(p)
	require.NoError(t, err)
	require.Equal(t, testKeyBits/2, c.Space())

	encrypt := func(numbers ...int64) []encryption.Value {
		blocks, err := c.PackDefault(numbers, false)
		require.NoError(t, err)
		cts, err := packing.EncryptBlocks(p, blocks, encryption.RandomnessFresh)
		require.NoError(t, err)
		return cts
	}

	sum, err := packing.EvaluateBlocks(p, encrypt(1, 2, 3), encrypt(10, 20, 30))
	require.NoError(t, err)
	blocks, err := packing.DecryptBlocks(p, sum)
	require.NoError(t, err)
	items, err := c.UnpackDefault(blocks, false)
	require.NoError(t, err)
	requireItems(t, bigs(11, 22, 33), items)

	_, err = packing.EvaluateBlocks(p, encrypt(1, 2, 3), encrypt(1))
	require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
}

func TestPackedElGamal(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	e, err := encryption.NewElGamal(store, encryption.KeyPaths("keys", encryption.ElGamalName, "0"), encryption.Options{KeyBits: testKeyBits})
	require.NoError(t, err)

	c, err := packing.ForScheme(e)
	require.NoError(t, err)
	require.Equal(t, 64, c.DefaultPadding())

	encrypt := func(constant bool, numbers ...int64) []encryption.Value {
		blocks, err := c.PackDefault(numbers, constant)
		require.NoError(t, err)
		cts, err := packing.EncryptBlocks(e, blocks, encryption.RandomnessFresh)
		require.NoError(t, err)
		return cts
	}

	t.Run("Pairwise", func(t *testing.T) {
		prod, err := packing.EvaluateBlocks(e, encrypt(false, 10, 20), encrypt(false, 3, 7))
		require.NoError(t, err)
		blocks, err := packing.DecryptBlocks(e, prod)
		require.NoError(t, err)
		items, err := c.UnpackProducts(blocks, c.DefaultPadding())
		require.NoError(t, err)
		requireItems(t, bigs(30, 140), items)
	})

	t.Run("PairwiseLeadingZero", func(t *testing.T) {
		prod, err := packing.EvaluateBlocks(e, encrypt(false, 0, 20), encrypt(false, 3, 7))
		require.NoError(t, err)
		blocks, err := packing.DecryptBlocks(e, prod)
		require.NoError(t, err)
		require.Less(t, len(blocks[0]), 3*(packing.ItemBits+c.DefaultPadding())/8)

		items, err := c.UnpackProducts(blocks, c.DefaultPadding())
		require.NoError(t, err)
		requireItems(t, bigs(0, 140), items)
	})

	t.Run("Constant", func(t *testing.T) {
		k, err := e.Encrypt(encryption.Int64Value(5))
		require.NoError(t, err)

		packed := encrypt(true, 2, 3, 4)
		constants := make([]encryption.Value, len(packed))
		for i := range constants {
			constants[i] = k
		}
		prod, err := packing.EvaluateBlocks(e, packed, constants)
		require.NoError(t, err)
		blocks, err := packing.DecryptBlocks(e, prod)
		require.NoError(t, err)
		items, err := c.UnpackDefault(blocks, true)
		require.NoError(t, err)
		requireItems(t, bigs(10, 15, 20), items)
	})
}

func TestPackingUnsupportedScheme(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	a, err := encryption.NewAES(store, encryption.KeyPaths("keys", encryption.AESName, "0"), false, encryption.Options{})
	require.NoError(t, err)

	_, err = packing.ForScheme(a)
	require.ErrorIs(t, err, encryption.ErrUnsupportedOperation)
	_, err = packing.DecryptBlocks(a, []encryption.Value{encryption.TextValue("x")})
	require.ErrorIs(t, err, encryption.ErrUnsupportedOperation)
}
