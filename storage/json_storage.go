package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"phe-toolkit/models"
)

// LockExtension is appended to a key pair's base path to name its lock file.
const LockExtension = ".lock"

// FileKeyStore keeps each record in its own JSON file. Handles are file
// paths; parent directories are created on write.
type FileKeyStore struct {
	locks  handleLocks
	logger log.Logger
}

func NewFileKeyStore(logger log.Logger) *FileKeyStore {
	if logger == nil {
		logger = log.Root()
	}
	return &FileKeyStore{logger: logger.With("component", "keystore")}
}

func (s *FileKeyStore) Exists(handle string) (bool, error) {
	_, err := os.Stat(handle)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %v", handle, err)
}

func (s *FileKeyStore) Read(handle string) (*models.KeyRecord, error) {
	data, err := os.ReadFile(handle)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("failed to read key file %s: %v", handle, err)
	}

	var rec models.KeyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key file %s: %v", handle, err)
	}
	return &rec, nil
}

// Write replaces the file atomically: the record goes to a uniquely named
// temporary file in the same directory which is then renamed over handle.
func (s *FileKeyStore) Write(handle string, record *models.KeyRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save empty key record")
	}
	if err := os.MkdirAll(filepath.Dir(handle), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %v", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key record: %v", err)
	}

	tempPath := fmt.Sprintf("%s.%s.tmp", handle, uuid.NewString())
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %v", err)
	}
	if err := os.Rename(tempPath, handle); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save key file: %v", err)
	}

	s.logger.Debug("Saved key record", "path", handle, "scheme", record.Scheme, "kind", record.Kind)
	return nil
}

// Lock takes an in-process mutex and an exclusive OS lock on handle+".lock".
// The lock file is left in place after release.
func (s *FileKeyStore) Lock(handle string) (func() error, error) {
	release := s.locks.lock(handle)

	path := handle + LockExtension
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		release()
		return nil, fmt.Errorf("failed to create key directory: %v", err)
	}
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		release()
		return nil, fmt.Errorf("failed to lock %s: %v", path, err)
	}

	return func() error {
		defer release()
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("failed to unlock %s: %v", path, err)
		}
		return nil
	}, nil
}
