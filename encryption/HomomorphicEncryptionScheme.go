package encryption

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"phe-toolkit/models"
)

// Property names the algebraic capability a scheme offers.
type Property int

const (
	PropertyNone Property = iota
	PropertyRND
	PropertyDET
	PropertyAHE // additive
	PropertyMHE // multiplicative
	PropertyDMHE
	PropertyOPE
	PropertyOPESTR
	PropertyXOR
)

var propertyNames = [...]string{
	PropertyNone:   "NONE",
	PropertyRND:    "RND",
	PropertyDET:    "DET",
	PropertyAHE:    "AHE",
	PropertyMHE:    "MHE",
	PropertyDMHE:   "DMHE",
	PropertyOPE:    "OPE",
	PropertyOPESTR: "OPESTR",
	PropertyXOR:    "XOR",
}

func (p Property) String() string {
	if p < 0 || int(p) >= len(propertyNames) {
		return fmt.Sprintf("Property(%d)", int(p))
	}
	return propertyNames[p]
}

// ParseProperty maps a canonical name (case-insensitive) back to a Property.
func ParseProperty(s string) (Property, error) {
	for i, name := range propertyNames {
		if strings.EqualFold(name, s) {
			return Property(i), nil
		}
	}
	return PropertyNone, fmt.Errorf("%w: unknown homomorphic property %q", ErrUnsupportedOperation, s)
}

// RandomnessPolicy selects where an encryption draws its randomness from.
type RandomnessPolicy int

const (
	// RandomnessFresh draws new randomness from the scheme's CSPRNG on every
	// call. This is the only policy that gives semantic security.
	RandomnessFresh RandomnessPolicy = iota

	// RandomnessFixed reuses the randomizer fixed when the scheme was
	// constructed. For benchmarking only: ciphertexts of equal plaintexts are
	// equal.
	RandomnessFixed
)

func (p RandomnessPolicy) String() string {
	switch p {
	case RandomnessFresh:
		return "fresh"
	case RandomnessFixed:
		return "fixed"
	default:
		return fmt.Sprintf("RandomnessPolicy(%d)", int(p))
	}
}

// Scheme is the capability contract every encryption scheme implements.
// Inputs are coerced into the declared representations before use.
// Implementations are immutable after construction and safe for concurrent
// use.
type Scheme interface {
	// Identity information
	Name() string
	Property() Property
	KeyBits() int
	PlaintextType() Representation
	CiphertextType() Representation

	// Core operations
	Encrypt(plaintext Value) (Value, error)
	EncryptWith(plaintext Value, policy RandomnessPolicy) (Value, error)
	Decrypt(ciphertext Value) (Value, error)
	Evaluate(a, b Value) (Value, error)

	// GenerateKeys draws a fresh key pair of the same size. The pair is not
	// installed in the receiver nor persisted.
	GenerateKeys() (*KeyPair, error)
}

// ScalarEvaluator combines a ciphertext with a public integer.
type ScalarEvaluator interface {
	EvaluateScalar(ciphertext Value, k *big.Int) (Value, error)
}

// ResidueDecrypter returns the decrypted residue in [0, modulus) without
// mapping the upper half to negative numbers.
type ResidueDecrypter interface {
	DecryptResidue(ciphertext Value) (*big.Int, error)
}

// PlaintextSpacer reports the bit width of plaintexts a scheme encrypts
// correctly.
type PlaintextSpacer interface {
	PlaintextSpace() int
}

var (
	_ Scheme           = (*Paillier)(nil)
	_ ScalarEvaluator  = (*Paillier)(nil)
	_ ResidueDecrypter = (*Paillier)(nil)
	_ PlaintextSpacer  = (*Paillier)(nil)
	_ Scheme           = (*ElGamal)(nil)
	_ ScalarEvaluator  = (*ElGamal)(nil)
	_ ResidueDecrypter = (*ElGamal)(nil)
	_ PlaintextSpacer  = (*ElGamal)(nil)
	_ Scheme           = (*AES)(nil)
	_ Scheme           = (*OPE)(nil)
	_ Scheme           = (*OPEString)(nil)
)

// KeyPair holds both persisted halves of a key. Public is nil for symmetric
// schemes.
type KeyPair struct {
	Public  *models.KeyRecord
	Private *models.KeyRecord
}

// Options tunes scheme construction. The zero value is usable.
type Options struct {
	// KeyBits overrides the scheme's default key size for newly generated
	// keys. Loaded keys keep the size they were generated with.
	KeyBits int

	// Random is the CSPRNG used for key generation and encryption.
	Random io.Reader

	Logger log.Logger
}

func (o Options) random() io.Reader {
	if o.Random == nil {
		return rand.Reader
	}
	return o.Random
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.Root()
	}
	return o.Logger
}

func (o Options) keyBits(def int) int {
	if o.KeyBits > 0 {
		return o.KeyBits
	}
	return def
}

// EncryptAny coerces x into a Value and encrypts it.
func EncryptAny(s Scheme, x any) (Value, error) {
	v, err := ValueOf(x)
	if err != nil {
		return Value{}, err
	}
	return s.Encrypt(v)
}

// ReEncrypt decrypts under one scheme and encrypts the result under another.
// The plaintext is exposed to whoever runs it.
func ReEncrypt(from, to Scheme, ciphertext Value) (Value, error) {
	plaintext, err := from.Decrypt(ciphertext)
	if err != nil {
		return Value{}, fmt.Errorf("re-encrypt %s -> %s: %w", from.Name(), to.Name(), err)
	}
	out, err := to.Encrypt(plaintext)
	if err != nil {
		return Value{}, fmt.Errorf("re-encrypt %s -> %s: %w", from.Name(), to.Name(), err)
	}
	return out, nil
}

func unsupported(s Scheme, op string) error {
	return fmt.Errorf("%w: %s does not support %s", ErrUnsupportedOperation, s.Name(), op)
}

// modExp computes x^y mod m, inverting x when y is negative.
func modExp(x, y, m *big.Int) (*big.Int, error) {
	if y.Sign() >= 0 {
		return new(big.Int).Exp(x, y, m), nil
	}
	inv := new(big.Int).ModInverse(x, m)
	if inv == nil {
		return nil, fmt.Errorf("%w: operand is not invertible modulo the key", ErrMalformedCiphertext)
	}
	return new(big.Int).Exp(inv, new(big.Int).Neg(y), m), nil
}

// randomBelowPow2 draws a uniform integer in [1, 2^bits).
func randomBelowPow2(r io.Reader, bits int) (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	for {
		x, err := rand.Int(r, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to draw randomness: %w", err)
		}
		if x.Sign() > 0 {
			return x, nil
		}
	}
}
