package storage

import (
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"phe-toolkit/models"
)

func testRecord() *models.KeyRecord {
	return models.NewKeyRecord("Paillier", models.PublicKey, 512, uuid.New()).
		SetInt("n", big.NewInt(3233)).
		Seal()
}

type keyStore interface {
	Exists(handle string) (bool, error)
	Read(handle string) (*models.KeyRecord, error)
	Write(handle string, record *models.KeyRecord) error
	Lock(handle string) (func() error, error)
}

func TestKeyStores(t *testing.T) {
	stores := map[string]func(t *testing.T) (keyStore, string){
		"Memory": func(t *testing.T) (keyStore, string) {
			return NewMemoryKeyStore(), "keys"
		},
		"File": func(t *testing.T) (keyStore, string) {
			return NewFileKeyStore(log.Root()), t.TempDir()
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store, dir := open(t)
			handle := filepath.Join(dir, "nested", "Paillier0.pk")

			ok, err := store.Exists(handle)
			require.NoError(t, err)
			require.False(t, ok)

			_, err = store.Read(handle)
			require.ErrorIs(t, err, ErrNotFound)

			require.Error(t, store.Write(handle, nil))

			rec := testRecord()
			require.NoError(t, store.Write(handle, rec))

			ok, err = store.Exists(handle)
			require.NoError(t, err)
			require.True(t, ok)

			got, err := store.Read(handle)
			require.NoError(t, err)
			require.NoError(t, got.Verify())
			require.Equal(t, rec.PairID, got.PairID)
			n, err := got.Int("n")
			require.NoError(t, err)
			require.EqualValues(t, 3233, n.Int64())

			// The store keeps its own copy.
			got.Scheme = "tampered"
			again, err := store.Read(handle)
			require.NoError(t, err)
			require.Equal(t, "Paillier", again.Scheme)
		})
	}
}

func TestFileKeyStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewFileKeyStore(nil)
	handle := filepath.Join(dir, "ElGamal0.sk")

	require.NoError(t, store.Write(handle, testRecord()))
	require.NoError(t, store.Write(handle, testRecord()))

	info, err := os.Stat(handle)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// No temporary files survive a write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, os.WriteFile(handle, []byte("{not json"), 0o600))
	_, err = store.Read(handle)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestLockExclusive(t *testing.T) {
	stores := map[string]keyStore{
		"Memory": NewMemoryKeyStore(),
		"File":   NewFileKeyStore(log.Root()),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			handle := filepath.Join(t.TempDir(), "AES0")

			var (
				mu      sync.Mutex
				holders int
				peak    int
				wg      sync.WaitGroup
			)
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := store.Lock(handle)
					if err != nil {
						t.Error(err)
						return
					}
					mu.Lock()
					holders++
					peak = max(peak, holders)
					mu.Unlock()

					time.Sleep(5 * time.Millisecond)

					mu.Lock()
					holders--
					mu.Unlock()
					if err := unlock(); err != nil {
						t.Error(err)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, 1, peak)
		})
	}

	t.Run("LockFile", func(t *testing.T) {
		handle := filepath.Join(t.TempDir(), "sub", "OPE0")
		unlock, err := NewFileKeyStore(nil).Lock(handle)
		require.NoError(t, err)
		require.FileExists(t, handle+LockExtension)
		require.NoError(t, unlock())
	})
}

func TestMemoryKeyStoreHandles(t *testing.T) {
	store := NewMemoryKeyStore()
	require.NoError(t, store.Write("b", testRecord()))
	require.NoError(t, store.Write("a", testRecord()))
	require.Equal(t, []string{"a", "b"}, store.Handles())
}
