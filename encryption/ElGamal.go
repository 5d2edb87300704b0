package encryption

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"phe-toolkit/models"
)

const (
	ElGamalName = "ElGamal"

	// DefaultElGamalKeyBits is the bit length of p for newly generated keys.
	DefaultElGamalKeyBits = 1024
)

// ElGamalCiphertext is the pair (c1, c2), both reduced modulo p.
type ElGamalCiphertext struct {
	C1 *big.Int
	C2 *big.Int
}

// String renders the wire form "c1:c2".
func (c ElGamalCiphertext) String() string {
	return c.C1.String() + ":" + c.C2.String()
}

// ParseElGamalCiphertext reads the wire form "c1:c2".
func ParseElGamalCiphertext(s string) (ElGamalCiphertext, error) {
	left, right, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ElGamalCiphertext{}, fmt.Errorf("%w: ElGamal ciphertext %q is not of the form c1:c2", ErrMalformedCiphertext, s)
	}
	c1, ok := new(big.Int).SetString(left, 10)
	if !ok {
		return ElGamalCiphertext{}, fmt.Errorf("%w: ElGamal c1 %q is not a decimal integer", ErrMalformedCiphertext, left)
	}
	c2, ok := new(big.Int).SetString(right, 10)
	if !ok {
		return ElGamalCiphertext{}, fmt.Errorf("%w: ElGamal c2 %q is not a decimal integer", ErrMalformedCiphertext, right)
	}
	return ElGamalCiphertext{C1: c1, C2: c2}, nil
}

// ElGamal is the multiplicative homomorphic scheme over Z*_p. Plaintexts are
// integers; ciphertexts are text pairs "c1:c2".
type ElGamal struct {
	keyBits int
	opts    Options

	p *big.Int
	g *big.Int
	h *big.Int

	threshold *big.Int
	halfBits  int

	sk *big.Int // nil for evaluation-only instances

	// drawn once for RandomnessFixed
	fixedC1     *big.Int
	fixedShared *big.Int
}

// NewElGamal loads the key pair named by keys from store, generating and
// persisting it first when it does not exist.
func NewElGamal(store KeyStore, keys KeyHandles, opts Options) (*ElGamal, error) {
	pair, err := provisionKeys(store, keys, ElGamalName, false, opts.keyBits(DefaultElGamalKeyBits), generateElGamalKeys, opts)
	if err != nil {
		return nil, err
	}
	return ElGamalFromKeys(pair, opts)
}

// ElGamalFromKeys opens a scheme from records already in memory.
// pair.Private may be nil.
func ElGamalFromKeys(pair *KeyPair, opts Options) (*ElGamal, error) {
	if pair == nil {
		return nil, fmt.Errorf("%w: ElGamal needs a public key", ErrConfiguration)
	}
	if err := checkRecord(pair.Public, ElGamalName, models.PublicKey); err != nil {
		return nil, err
	}

	e := &ElGamal{keyBits: pair.Public.Bits, opts: opts}
	var err error
	if e.p, err = recordInt(pair.Public, "p"); err != nil {
		return nil, err
	}
	if e.g, err = recordInt(pair.Public, "g"); err != nil {
		return nil, err
	}
	if e.h, err = recordInt(pair.Public, "h"); err != nil {
		return nil, err
	}
	if e.p.Cmp(two) <= 0 {
		return nil, fmt.Errorf("%w: ElGamal modulus too small", ErrConfiguration)
	}
	e.threshold = new(big.Int).Lsh(one, uint(e.keyBits/2))
	e.halfBits = e.p.BitLen() / 2

	if pair.Private != nil {
		if err := checkRecord(pair.Private, ElGamalName, models.PrivateKey); err != nil {
			return nil, err
		}
		if pair.Private.PairID != pair.Public.PairID {
			return nil, fmt.Errorf("%w: ElGamal public and private keys belong to different pairs", ErrConfiguration)
		}
		if e.sk, err = recordInt(pair.Private, "sk"); err != nil {
			return nil, err
		}
		if new(big.Int).Exp(e.g, e.sk, e.p).Cmp(e.h) != 0 {
			return nil, fmt.Errorf("%w: ElGamal private key does not match the public key", ErrConfiguration)
		}
	}

	r, err := randomBelowPow2(opts.random(), e.keyBits)
	if err != nil {
		return nil, err
	}
	e.fixedC1 = new(big.Int).Exp(e.g, r, e.p)
	e.fixedShared = new(big.Int).Exp(e.h, r, e.p)

	return e, nil
}

// generateElGamalKeys draws p, g and sk as independent primes of the key
// size. g is not checked to generate the whole group.
func generateElGamalKeys(opts Options, bits int) (*KeyPair, error) {
	if bits < 16 {
		return nil, fmt.Errorf("%w: ElGamal key size must be at least 16 bits, got %d", ErrConfiguration, bits)
	}
	random := opts.random()

	p, err := rand.Prime(random, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate prime: %w", err)
	}
	g, err := rand.Prime(random, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate generator: %w", err)
	}

	var sk *big.Int
	for {
		sk, err = rand.Prime(random, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret exponent: %w", err)
		}
		if new(big.Int).GCD(nil, nil, sk, p).Cmp(one) == 0 {
			break
		}
	}
	h := new(big.Int).Exp(g, sk, p)

	pairID := uuid.New()
	pub := models.NewKeyRecord(ElGamalName, models.PublicKey, bits, pairID).
		SetInt("p", p).
		SetInt("g", g).
		SetInt("h", h).
		Seal()
	priv := models.NewKeyRecord(ElGamalName, models.PrivateKey, bits, pairID).
		SetInt("sk", sk).
		Seal()
	return &KeyPair{Public: pub, Private: priv}, nil
}

func (e *ElGamal) Name() string {
	return ElGamalName
}

func (e *ElGamal) Property() Property {
	return PropertyMHE
}

// KeyBits returns the bit length of p.
func (e *ElGamal) KeyBits() int {
	return e.keyBits
}

func (e *ElGamal) PlaintextSpace() int {
	return e.keyBits / 2
}

func (e *ElGamal) PlaintextType() Representation  { return Integer }
func (e *ElGamal) CiphertextType() Representation { return Text }

// HasPrivateKey reports whether the instance can decrypt.
func (e *ElGamal) HasPrivateKey() bool {
	return e.sk != nil
}

func (e *ElGamal) Encrypt(plaintext Value) (Value, error) {
	return e.EncryptWith(plaintext, RandomnessFresh)
}

// EncryptWith computes (g^r, m*h^r) mod p.
func (e *ElGamal) EncryptWith(plaintext Value, policy RandomnessPolicy) (Value, error) {
	m, err := plaintext.AsInteger()
	if err != nil {
		return Value{}, err
	}
	ct, err := e.EncryptInt(m, policy)
	if err != nil {
		return Value{}, err
	}
	return TextValue(ct.String()), nil
}

// EncryptInt is EncryptWith on a raw integer.
func (e *ElGamal) EncryptInt(m *big.Int, policy RandomnessPolicy) (ElGamalCiphertext, error) {
	if m.BitLen() >= e.halfBits {
		return ElGamalCiphertext{}, fmt.Errorf("%w: plaintext of %d bits exceeds the %d-bit plaintext space", ErrValueOutOfRange, m.BitLen(), e.halfBits)
	}

	var c1, shared *big.Int
	switch policy {
	case RandomnessFresh:
		r, err := randomBelowPow2(e.opts.random(), e.keyBits)
		if err != nil {
			return ElGamalCiphertext{}, err
		}
		c1 = new(big.Int).Exp(e.g, r, e.p)
		shared = new(big.Int).Exp(e.h, r, e.p)
	case RandomnessFixed:
		c1 = new(big.Int).Set(e.fixedC1)
		shared = e.fixedShared
	default:
		return ElGamalCiphertext{}, fmt.Errorf("%w: randomness policy %v", ErrUnsupportedOperation, policy)
	}

	c2 := new(big.Int).Mul(m, shared)
	c2.Mod(c2, e.p)
	return ElGamalCiphertext{C1: c1, C2: c2}, nil
}

// Decrypt recovers m = c2 * (c1^sk)^-1 mod p, mapping the upper range to
// negative numbers.
func (e *ElGamal) Decrypt(ciphertext Value) (Value, error) {
	m, err := e.DecryptResidue(ciphertext)
	if err != nil {
		return Value{}, err
	}
	if m.Cmp(e.threshold) >= 0 {
		m.Sub(m, e.p)
	}
	return IntegerValue(m), nil
}

// DecryptResidue returns c2 * (c1^sk)^-1 mod p.
func (e *ElGamal) DecryptResidue(ciphertext Value) (*big.Int, error) {
	if e.sk == nil {
		return nil, fmt.Errorf("%w: ElGamal private key not loaded", ErrConfiguration)
	}
	ct, err := e.parseCiphertext(ciphertext)
	if err != nil {
		return nil, err
	}
	shared := new(big.Int).Exp(ct.C1, e.sk, e.p)
	inv := new(big.Int).ModInverse(shared, e.p)
	if inv == nil {
		return nil, fmt.Errorf("%w: ElGamal c1 is not invertible", ErrMalformedCiphertext)
	}
	m := inv.Mul(inv, ct.C2)
	return m.Mod(m, e.p), nil
}

// Evaluate multiplies the components pairwise, multiplying the plaintexts.
func (e *ElGamal) Evaluate(a, b Value) (Value, error) {
	ca, err := e.parseCiphertext(a)
	if err != nil {
		return Value{}, err
	}
	cb, err := e.parseCiphertext(b)
	if err != nil {
		return Value{}, err
	}
	c1 := new(big.Int).Mul(ca.C1, cb.C1)
	c1.Mod(c1, e.p)
	c2 := new(big.Int).Mul(ca.C2, cb.C2)
	c2.Mod(c2, e.p)
	return TextValue(ElGamalCiphertext{C1: c1, C2: c2}.String()), nil
}

// EvaluateScalar raises both components to k, giving an encryption of m^k.
func (e *ElGamal) EvaluateScalar(ciphertext Value, k *big.Int) (Value, error) {
	ct, err := e.parseCiphertext(ciphertext)
	if err != nil {
		return Value{}, err
	}
	c1, err := modExp(ct.C1, k, e.p)
	if err != nil {
		return Value{}, err
	}
	c2, err := modExp(ct.C2, k, e.p)
	if err != nil {
		return Value{}, err
	}
	return TextValue(ElGamalCiphertext{C1: c1, C2: c2}.String()), nil
}

func (e *ElGamal) GenerateKeys() (*KeyPair, error) {
	return generateElGamalKeys(e.opts, e.keyBits)
}

func (e *ElGamal) parseCiphertext(v Value) (ElGamalCiphertext, error) {
	s, err := v.AsText()
	if err != nil {
		return ElGamalCiphertext{}, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	ct, err := ParseElGamalCiphertext(s)
	if err != nil {
		return ElGamalCiphertext{}, err
	}
	for _, c := range []*big.Int{ct.C1, ct.C2} {
		if c.Sign() < 0 || c.Cmp(e.p) >= 0 {
			return ElGamalCiphertext{}, fmt.Errorf("%w: ElGamal component outside [0, p)", ErrMalformedCiphertext)
		}
	}
	return ct, nil
}
