package encryption

import (
	"fmt"
	"math/big"
	"path/filepath"

	"phe-toolkit/models"
)

const (
	// PublicExtension is appended to key handles holding a public key.
	PublicExtension = ".pk"
	// PrivateExtension is appended to key handles holding a private key.
	PrivateExtension = ".sk"
)

// KeyStore persists key records. Implementations must make Lock exclusive
// across goroutines and, for shared storage, across processes.
type KeyStore interface {
	Exists(handle string) (bool, error)
	Read(handle string) (*models.KeyRecord, error)
	Write(handle string, record *models.KeyRecord) error

	// Lock serializes provisioning of one key pair. The returned function
	// releases the lock.
	Lock(handle string) (unlock func() error, err error)
}

// KeyHandles names where the two halves of a key pair live. An empty
// handle means the half is absent.
type KeyHandles struct {
	Base    string
	Public  string
	Private string
}

// KeyPaths builds the handles "<dir><scheme><keyID>.pk" and ".sk".
func KeyPaths(dir, scheme, keyID string) KeyHandles {
	base := filepath.Join(dir, scheme+keyID)
	return KeyHandles{
		Base:    base,
		Public:  base + PublicExtension,
		Private: base + PrivateExtension,
	}
}

// PublicOnly drops the private handle, for evaluation-only deployments.
func (h KeyHandles) PublicOnly() KeyHandles {
	h.Private = ""
	return h
}

// keyGenerator creates a fresh pair of the given size.
type keyGenerator func(opts Options, bits int) (*KeyPair, error)

// provisionKeys loads the pair named by handles, generating and persisting
// it first when it is missing. Symmetric schemes use the private half only.
func provisionKeys(store KeyStore, handles KeyHandles, scheme string, symmetric bool, bits int, generate keyGenerator, opts Options) (*KeyPair, error) {
	logger := opts.logger().With("scheme", scheme, "handle", handles.Base)

	if store == nil {
		return nil, fmt.Errorf("%w: %s needs a key store", ErrConfiguration, scheme)
	}
	if symmetric && handles.Private == "" {
		return nil, fmt.Errorf("%w: private key handle cannot be empty in symmetric schemes", ErrConfiguration)
	}
	if !symmetric && handles.Public == "" {
		return nil, fmt.Errorf("%w: public key handle cannot be empty", ErrConfiguration)
	}

	lockHandle := handles.Base
	if lockHandle == "" {
		lockHandle = handles.Private
		if !symmetric {
			lockHandle = handles.Public
		}
	}
	unlock, err := store.Lock(lockHandle)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock %s keys: %v", ErrConfiguration, scheme, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Warn("Failed to release key lock", "err", err)
		}
	}()

	exists, err := keysExist(store, handles, symmetric)
	if err != nil {
		return nil, err
	}

	if !exists {
		// Without the private half a new pair would be useless to its owner.
		if !symmetric && handles.Private == "" {
			return nil, fmt.Errorf("%w: could not find %s public key %s", ErrConfiguration, scheme, handles.Public)
		}
		pair, err := generate(opts, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s keys: %w", scheme, err)
		}
		if !symmetric {
			if err := store.Write(handles.Public, pair.Public); err != nil {
				return nil, fmt.Errorf("%w: failed to save %s public key: %v", ErrConfiguration, scheme, err)
			}
		}
		if err := store.Write(handles.Private, pair.Private); err != nil {
			return nil, fmt.Errorf("%w: failed to save %s private key: %v", ErrConfiguration, scheme, err)
		}
		logger.Info("Generated new key pair", "bits", bits, "pair", pair.Private.PairID)
	}

	pair := &KeyPair{}
	if !symmetric {
		if pair.Public, err = readRecord(store, handles.Public, scheme, models.PublicKey); err != nil {
			return nil, err
		}
	}
	if handles.Private != "" {
		if pair.Private, err = readRecord(store, handles.Private, scheme, models.PrivateKey); err != nil {
			return nil, err
		}
	}
	if pair.Public != nil && pair.Private != nil && pair.Public.PairID != pair.Private.PairID {
		return nil, fmt.Errorf("%w: %s public and private keys belong to different pairs", ErrConfiguration, scheme)
	}

	logger.Debug("Loaded keys", "private", pair.Private != nil)
	return pair, nil
}

func keysExist(store KeyStore, handles KeyHandles, symmetric bool) (bool, error) {
	if !symmetric {
		ok, err := store.Exists(handles.Public)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if !ok {
			return false, nil
		}
	}
	if handles.Private != "" {
		ok, err := store.Exists(handles.Private)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func readRecord(store KeyStore, handle, scheme string, kind models.KeyKind) (*models.KeyRecord, error) {
	rec, err := store.Read(handle)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfiguration, handle, err)
	}
	if err := checkRecord(rec, scheme, kind); err != nil {
		return nil, err
	}
	return rec, nil
}

// checkRecord validates a record before any field is used.
func checkRecord(rec *models.KeyRecord, scheme string, kind models.KeyKind) error {
	if rec == nil {
		return fmt.Errorf("%w: %s %s key is missing", ErrConfiguration, scheme, kind)
	}
	if err := rec.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if rec.Scheme != scheme {
		return fmt.Errorf("%w: expected a %s key, found %s", ErrConfiguration, scheme, rec.Scheme)
	}
	if rec.Kind != kind {
		return fmt.Errorf("%w: expected a %s key, found %s", ErrConfiguration, kind, rec.Kind)
	}
	if rec.Bits <= 0 {
		return fmt.Errorf("%w: %s key has no size", ErrConfiguration, scheme)
	}
	return nil
}

// recordInt reads a numeric field, mapping absence to a configuration error.
func recordInt(rec *models.KeyRecord, name string) (*big.Int, error) {
	x, err := rec.Int(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return x, nil
}
