// File: models/key_record.go
package models

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// KeyRecordVersion is the only record layout this build reads and writes.
const KeyRecordVersion = 1

type KeyKind string

const (
	PublicKey  KeyKind = "public"
	PrivateKey KeyKind = "private"
)

var (
	ErrUnknownVersion   = errors.New("unknown key record version")
	ErrChecksumMismatch = errors.New("key record checksum mismatch")
	ErrMissingField     = errors.New("key record field missing")
)

// KeyRecord is one persisted half of a key pair. Numeric fields are stored as
// big-endian bytes under a scheme-specific name ("n", "lambda", "p", ...).
// Both halves of a pair carry the same PairID.
type KeyRecord struct {
	Version   int                      `json:"version"`
	Scheme    string                   `json:"scheme"`
	Kind      KeyKind                  `json:"kind"`
	Bits      int                      `json:"bits"`
	PairID    uuid.UUID                `json:"pair_id"`
	Fields    map[string]hexutil.Bytes `json:"fields,omitempty"`
	Secret    hexutil.Bytes            `json:"secret,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	Checksum  hexutil.Bytes            `json:"checksum"`
}

func NewKeyRecord(scheme string, kind KeyKind, bits int, pairID uuid.UUID) *KeyRecord {
	return &KeyRecord{
		Version:   KeyRecordVersion,
		Scheme:    scheme,
		Kind:      kind,
		Bits:      bits,
		PairID:    pairID,
		Fields:    make(map[string]hexutil.Bytes),
		CreatedAt: time.Now().UTC(),
	}
}

// SetInt stores a non-negative integer field.
func (r *KeyRecord) SetInt(name string, x *big.Int) *KeyRecord {
	if r.Fields == nil {
		r.Fields = make(map[string]hexutil.Bytes)
	}
	r.Fields[name] = x.Bytes()
	return r
}

// Int returns a copy of a stored integer field.
func (r *KeyRecord) Int(name string) (*big.Int, error) {
	b, ok := r.Fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s key has no %q", ErrMissingField, r.Scheme, r.Kind, name)
	}
	return new(big.Int).SetBytes(b), nil
}

// Seal computes and stores the checksum. Call it after the last mutation.
func (r *KeyRecord) Seal() *KeyRecord {
	r.Checksum = r.digest()
	return r
}

// Verify checks the version and the checksum.
func (r *KeyRecord) Verify() error {
	if r.Version != KeyRecordVersion {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, r.Version)
	}
	if !bytes.Equal(r.Checksum, r.digest()) {
		return fmt.Errorf("%w: %s %s key", ErrChecksumMismatch, r.Scheme, r.Kind)
	}
	return nil
}

// digest is Keccak-256 over the length-prefixed content. CreatedAt is not
// covered.
func (r *KeyRecord) digest() []byte {
	h := sha3.NewLegacyKeccak256()
	writeChunk := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}

	var header [16]byte
	binary.BigEndian.PutUint64(header[:8], uint64(r.Version))
	binary.BigEndian.PutUint64(header[8:], uint64(r.Bits))
	h.Write(header[:])
	writeChunk([]byte(r.Scheme))
	writeChunk([]byte(r.Kind))
	writeChunk(r.PairID[:])

	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeChunk([]byte(name))
		writeChunk(r.Fields[name])
	}
	writeChunk(r.Secret)
	return h.Sum(nil)
}
