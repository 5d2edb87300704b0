package service

import (
	"math/big"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"phe-toolkit/encryption"
	"phe-toolkit/storage"
)

const testKeyBits = 512

func newTestPaillier(t *testing.T, store encryption.KeyStore) *encryption.Paillier {
	t.Helper()
	p, err := encryption.NewPaillier(store, encryption.KeyPaths("keys", encryption.PaillierName, "0"), encryption.Options{KeyBits: testKeyBits})
	require.NoError(t, err)
	return p
}

func counts(xs ...int64) []*big.Int {
	out := make([]*big.Int, len(xs))
	for i, x := range xs {
		out[i] = big.NewInt(x)
	}
	return out
}

func requireCounts(t *testing.T, want []*big.Int, got []*big.Int) {
	t.Helper()
	diff := cmp.Diff(want, got, cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 }))
	require.Empty(t, diff)
}

func TestVoteCounting(t *testing.T) {
	p := newTestPaillier(t, storage.NewMemoryKeyStore())

	vcs, err := NewVoteCountingService(p, 5, nil)
	require.NoError(t, err)
	require.Equal(t, 3, vcs.Blocks())

	t.Run("Empty", func(t *testing.T) {
		res, err := vcs.CountVotes()
		require.NoError(t, err)
		require.Zero(t, res.TotalBallots)
		requireCounts(t, counts(0, 0, 0, 0, 0), res.Counts)
	})

	choices := []int{1, 2, 2, 4, 2, 1}
	for _, c := range choices {
		b, err := vcs.CastBallot(c)
		require.NoError(t, err)
		require.Len(t, b.Blocks, 3)
		require.NoError(t, vcs.AddBallot(b))
	}

	res, err := vcs.CountVotes()
	require.NoError(t, err)
	require.Equal(t, len(choices), res.TotalBallots)
	require.Equal(t, len(choices), vcs.TotalBallots())
	// The first block decrypts without its leading zero item.
	requireCounts(t, counts(0, 2, 3, 0, 1), res.Counts)
}

func TestVoteCountingBallots(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	p := newTestPaillier(t, store)
	vcs, err := NewVoteCountingService(p, 3, nil)
	require.NoError(t, err)

	t.Run("Duplicate", func(t *testing.T) {
		b, err := vcs.CastBallot(1)
		require.NoError(t, err)
		require.NoError(t, vcs.AddBallot(b))
		require.ErrorIs(t, vcs.AddBallot(b), ErrDuplicateBallot)
		require.Equal(t, 1, vcs.TotalBallots())
	})

	t.Run("Weighted", func(t *testing.T) {
		b, err := vcs.EncryptCounts([]int64{10, 0, 5})
		require.NoError(t, err)
		require.NoError(t, vcs.AddBallot(b))

		res, err := vcs.CountVotes()
		require.NoError(t, err)
		requireCounts(t, counts(10, 1, 5), res.Counts)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := vcs.CastBallot(3)
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
		_, err = vcs.CastBallot(-1)
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
		_, err = vcs.EncryptCounts([]int64{1, 2})
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)
		_, err = vcs.EncryptCounts([]int64{1, -2, 0})
		require.ErrorIs(t, err, encryption.ErrValueOutOfRange)

		require.ErrorIs(t, vcs.AddBallot(nil), encryption.ErrMalformedCiphertext)

		b, err := vcs.CastBallot(0)
		require.NoError(t, err)
		b.Blocks = b.Blocks[:1]
		require.ErrorIs(t, vcs.AddBallot(b), encryption.ErrMalformedCiphertext)

		b, err = vcs.CastBallot(0)
		require.NoError(t, err)
		b.Blocks[0] = "garbage"
		require.ErrorIs(t, vcs.AddBallot(b), encryption.ErrMalformedCiphertext)
	})

	t.Run("PublicOnlyCounter", func(t *testing.T) {
		handles := encryption.KeyPaths("keys", encryption.PaillierName, "0").PublicOnly()
		public, err := encryption.NewPaillier(store, handles, encryption.Options{})
		require.NoError(t, err)
		collector, err := NewVoteCountingService(public, 3, nil)
		require.NoError(t, err)

		b, err := vcs.CastBallot(2)
		require.NoError(t, err)
		require.NoError(t, collector.AddBallot(b))
		_, err = collector.CountVotes()
		require.ErrorIs(t, err, encryption.ErrConfiguration)
	})
}

func TestVoteCountingConcurrent(t *testing.T) {
	p := newTestPaillier(t, storage.NewMemoryKeyStore())
	vcs, err := NewVoteCountingService(p, 2, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := vcs.CastBallot(i % 2)
			if err != nil {
				t.Error(err)
				return
			}
			if err := vcs.AddBallot(b); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	res, err := vcs.CountVotes()
	require.NoError(t, err)
	requireCounts(t, counts(5, 5), res.Counts)
}

func TestVoteCountingNeedsAdditiveScheme(t *testing.T) {
	store := storage.NewMemoryKeyStore()
	e, err := encryption.NewElGamal(store, encryption.KeyPaths("keys", encryption.ElGamalName, "0"), encryption.Options{KeyBits: testKeyBits})
	require.NoError(t, err)

	_, err = NewVoteCountingService(e, 3, nil)
	require.ErrorIs(t, err, encryption.ErrConfiguration)
	_, err = NewVoteCountingService(nil, 3, nil)
	require.ErrorIs(t, err, encryption.ErrConfiguration)
	_, err = NewVoteCountingService(newTestPaillier(t, store), 0, nil)
	require.ErrorIs(t, err, encryption.ErrConfiguration)
}
