package packing

import (
	"fmt"
	"math/big"

	"phe-toolkit/encryption"
)

// EncryptBlocks encrypts each block, read as a non-negative big-endian
// integer, under s.
func EncryptBlocks(s encryption.Scheme, blocks [][]byte, policy encryption.RandomnessPolicy) ([]encryption.Value, error) {
	out := make([]encryption.Value, len(blocks))
	for i, block := range blocks {
		ct, err := s.EncryptWith(encryption.IntegerValue(new(big.Int).SetBytes(block)), policy)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt block %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}

// DecryptBlocks decrypts packed ciphertexts back into blocks. It reads the
// raw residue, since a block that grew under evaluation can cross the
// scheme's negative-number threshold.
func DecryptBlocks(s encryption.Scheme, ciphertexts []encryption.Value) ([][]byte, error) {
	dec, ok := s.(encryption.ResidueDecrypter)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot decrypt packed blocks", encryption.ErrUnsupportedOperation, s.Name())
	}
	out := make([][]byte, len(ciphertexts))
	for i, ct := range ciphertexts {
		m, err := dec.DecryptResidue(ct)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt block %d: %w", i, err)
		}
		out[i] = m.Bytes()
	}
	return out, nil
}

// EvaluateBlocks combines two equally long vectors of packed ciphertexts
// pairwise with s.Evaluate.
func EvaluateBlocks(s encryption.Scheme, a, b []encryption.Value) ([]encryption.Value, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: cannot combine %d blocks with %d", encryption.ErrValueOutOfRange, len(a), len(b))
	}
	out := make([]encryption.Value, len(a))
	for i := range a {
		ct, err := s.Evaluate(a[i], b[i])
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate block %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}
