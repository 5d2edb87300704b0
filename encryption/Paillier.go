package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/roasbeef/go-go-gadget-paillier"

	"phe-toolkit/models"
)

const (
	PaillierName = "Paillier"

	// DefaultPaillierKeyBits is the bit length of n for newly generated keys.
	DefaultPaillierKeyBits = 1024

	// paillierKeygenAttempts bounds the retries when the generator check
	// fails for a pair of primes.
	paillierKeygenAttempts = 64
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)

	errBadGenerator = errors.New("generator fails gcd(L(g^lambda mod n^2), n) = 1")
)

// Paillier is the additive homomorphic scheme over Z*_{n^2}. Plaintexts and
// ciphertexts are integers. An instance opened without a private key can
// encrypt and evaluate but not decrypt.
type Paillier struct {
	keyBits int
	opts    Options

	n        *big.Int
	nsquared *big.Int
	g        *big.Int

	// gadget carries the same key for the go-go-gadget-paillier ciphertext
	// operations.
	gadget *paillier.PublicKey

	// threshold separates positive from negative plaintexts.
	threshold *big.Int

	lambda *big.Int // nil for evaluation-only instances
	u      *big.Int

	// fixed randomizer r^n mod n^2, drawn once for RandomnessFixed.
	fixedRandRaised *big.Int
}

// NewPaillier loads the key pair named by keys from store, generating and
// persisting it first when it does not exist.
func NewPaillier(store KeyStore, keys KeyHandles, opts Options) (*Paillier, error) {
	pair, err := provisionKeys(store, keys, PaillierName, false, opts.keyBits(DefaultPaillierKeyBits), generatePaillierKeys, opts)
	if err != nil {
		return nil, err
	}
	return PaillierFromKeys(pair, opts)
}

// PaillierFromKeys opens a scheme from records already in memory.
// pair.Private may be nil.
func PaillierFromKeys(pair *KeyPair, opts Options) (*Paillier, error) {
	if pair == nil {
		return nil, fmt.Errorf("%w: Paillier needs a public key", ErrConfiguration)
	}
	if err := checkRecord(pair.Public, PaillierName, models.PublicKey); err != nil {
		return nil, err
	}

	p := &Paillier{keyBits: pair.Public.Bits, opts: opts}
	var err error
	if p.n, err = recordInt(pair.Public, "n"); err != nil {
		return nil, err
	}
	if p.nsquared, err = recordInt(pair.Public, "nsquared"); err != nil {
		return nil, err
	}
	if p.g, err = recordInt(pair.Public, "g"); err != nil {
		return nil, err
	}
	if p.n.Sign() <= 0 || new(big.Int).Mul(p.n, p.n).Cmp(p.nsquared) != 0 {
		return nil, fmt.Errorf("%w: inconsistent Paillier public key", ErrConfiguration)
	}
	p.threshold = new(big.Int).Lsh(one, uint(p.keyBits/2))
	p.gadget = &paillier.PublicKey{N: p.n, G: p.g, NSquared: p.nsquared}

	if pair.Private != nil {
		if err := checkRecord(pair.Private, PaillierName, models.PrivateKey); err != nil {
			return nil, err
		}
		if pair.Private.PairID != pair.Public.PairID {
			return nil, fmt.Errorf("%w: Paillier public and private keys belong to different pairs", ErrConfiguration)
		}
		if p.lambda, err = recordInt(pair.Private, "lambda"); err != nil {
			return nil, err
		}
		l := paillierL(new(big.Int).Exp(p.g, p.lambda, p.nsquared), p.n)
		p.u = new(big.Int).ModInverse(l, p.n)
		if p.u == nil {
			return nil, fmt.Errorf("%w: Paillier private key does not match the public key", ErrConfiguration)
		}
	}

	r, err := p.drawRandomizer()
	if err != nil {
		return nil, err
	}
	p.fixedRandRaised = new(big.Int).Exp(r, p.n, p.nsquared)

	return p, nil
}

// generatePaillierKeys draws p and q until the generator g = 2 passes the
// validity check.
func generatePaillierKeys(opts Options, bits int) (*KeyPair, error) {
	if bits < 16 || bits%2 != 0 {
		return nil, fmt.Errorf("%w: Paillier key size must be an even number of bits >= 16, got %d", ErrConfiguration, bits)
	}

	for attempt := 1; attempt <= paillierKeygenAttempts; attempt++ {
		pair, err := tryPaillierKeys(opts, bits)
		if errors.Is(err, errBadGenerator) {
			opts.logger().Debug("Paillier generator rejected, drawing new primes", "attempt", attempt)
			continue
		}
		return pair, err
	}
	return nil, fmt.Errorf("no valid Paillier key after %d attempts: %w", paillierKeygenAttempts, errBadGenerator)
}

func tryPaillierKeys(opts Options, bits int) (*KeyPair, error) {
	random := opts.random()

	p, err := rand.Prime(random, bits/2)
	if err != nil {
		return nil, fmt.Errorf("failed to generate prime: %w", err)
	}
	q, err := rand.Prime(random, bits/2)
	if err != nil {
		return nil, fmt.Errorf("failed to generate prime: %w", err)
	}
	if p.Cmp(q) == 0 {
		return nil, errBadGenerator
	}

	n := new(big.Int).Mul(p, q)
	nsquared := new(big.Int).Mul(n, n)
	g := big.NewInt(2)

	// lambda = lcm(p-1, q-1) = (p-1)(q-1) / gcd(p-1, q-1)
	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	gcd := new(big.Int).GCD(nil, nil, pm1, qm1)
	lambda := new(big.Int).Mul(pm1, qm1)
	lambda.Div(lambda, gcd)

	l := paillierL(new(big.Int).Exp(g, lambda, nsquared), n)
	if new(big.Int).GCD(nil, nil, l, n).Cmp(one) != 0 {
		return nil, errBadGenerator
	}

	pairID := uuid.New()
	pub := models.NewKeyRecord(PaillierName, models.PublicKey, bits, pairID).
		SetInt("n", n).
		SetInt("nsquared", nsquared).
		SetInt("g", g).
		Seal()
	priv := models.NewKeyRecord(PaillierName, models.PrivateKey, bits, pairID).
		SetInt("lambda", lambda).
		Seal()
	return &KeyPair{Public: pub, Private: priv}, nil
}

// paillierL is L(x) = (x - 1) / n.
func paillierL(x, n *big.Int) *big.Int {
	t := new(big.Int).Sub(x, one)
	return t.Div(t, n)
}

// drawRandomizer draws r in [1, 2^keyBits) coprime to n.
func (p *Paillier) drawRandomizer() (*big.Int, error) {
	for {
		r, err := randomBelowPow2(p.opts.random(), p.keyBits)
		if err != nil {
			return nil, err
		}
		if new(big.Int).GCD(nil, nil, r, p.n).Cmp(one) == 0 {
			return r, nil
		}
	}
}

// Name returns the name of the encryption scheme
func (p *Paillier) Name() string {
	return PaillierName
}

func (p *Paillier) Property() Property {
	return PropertyAHE
}

// KeyBits returns the bit length of n.
func (p *Paillier) KeyBits() int {
	return p.keyBits
}

// PlaintextSpace is half the key size: the upper half of Z_n encodes
// negative numbers.
func (p *Paillier) PlaintextSpace() int {
	return p.keyBits / 2
}

func (p *Paillier) PlaintextType() Representation  { return Integer }
func (p *Paillier) CiphertextType() Representation { return Integer }

// HasPrivateKey reports whether the instance can decrypt.
func (p *Paillier) HasPrivateKey() bool {
	return p.lambda != nil
}

// PublicKey returns copies of (n, n^2, g).
func (p *Paillier) PublicKey() (n, nsquared, g *big.Int) {
	return new(big.Int).Set(p.n), new(big.Int).Set(p.nsquared), new(big.Int).Set(p.g)
}

// ExportPublicKey returns the public key in go-go-gadget-paillier form.
// That library's AddCipher and Mul work on ciphertexts produced here. Its
// Encrypt assumes g = n+1, so its ciphertexts do not decrypt under this key.
func (p *Paillier) ExportPublicKey() *paillier.PublicKey {
	n, nsquared, g := p.PublicKey()
	return &paillier.PublicKey{N: n, G: g, NSquared: nsquared}
}

func (p *Paillier) Encrypt(plaintext Value) (Value, error) {
	return p.EncryptWith(plaintext, RandomnessFresh)
}

// EncryptWith computes g^m * r^n mod n^2.
func (p *Paillier) EncryptWith(plaintext Value, policy RandomnessPolicy) (Value, error) {
	m, err := plaintext.AsInteger()
	if err != nil {
		return Value{}, err
	}
	c, err := p.EncryptInt(m, policy)
	if err != nil {
		return Value{}, err
	}
	return IntegerValue(c), nil
}

// EncryptInt is EncryptWith on a raw integer.
func (p *Paillier) EncryptInt(m *big.Int, policy RandomnessPolicy) (*big.Int, error) {
	if m.BitLen() >= p.PlaintextSpace() {
		return nil, fmt.Errorf("%w: plaintext of %d bits exceeds the %d-bit plaintext space", ErrValueOutOfRange, m.BitLen(), p.PlaintextSpace())
	}

	var randRaised *big.Int
	switch policy {
	case RandomnessFresh:
		r, err := p.drawRandomizer()
		if err != nil {
			return nil, err
		}
		randRaised = new(big.Int).Exp(r, p.n, p.nsquared)
	case RandomnessFixed:
		randRaised = p.fixedRandRaised
	default:
		return nil, fmt.Errorf("%w: randomness policy %v", ErrUnsupportedOperation, policy)
	}

	gRaised, err := modExp(p.g, m, p.nsquared)
	if err != nil {
		return nil, err
	}
	c := gRaised.Mul(gRaised, randRaised)
	return c.Mod(c, p.nsquared), nil
}

// Decrypt recovers the signed plaintext in [-(n - 2^(k/2)), 2^(k/2)).
func (p *Paillier) Decrypt(ciphertext Value) (Value, error) {
	m, err := p.DecryptResidue(ciphertext)
	if err != nil {
		return Value{}, err
	}
	if m.Cmp(p.threshold) >= 0 {
		m.Sub(m, p.n)
	}
	return IntegerValue(m), nil
}

// DecryptResidue computes L(c^lambda mod n^2) * u mod n.
func (p *Paillier) DecryptResidue(ciphertext Value) (*big.Int, error) {
	if p.lambda == nil {
		return nil, fmt.Errorf("%w: Paillier private key not loaded", ErrConfiguration)
	}
	c, err := p.parseCiphertext(ciphertext)
	if err != nil {
		return nil, err
	}
	m := paillierL(new(big.Int).Exp(c, p.lambda, p.nsquared), p.n)
	m.Mul(m, p.u)
	return m.Mod(m, p.n), nil
}

// Evaluate multiplies two ciphertexts, adding their plaintexts.
func (p *Paillier) Evaluate(a, b Value) (Value, error) {
	ca, err := p.parseCiphertext(a)
	if err != nil {
		return Value{}, err
	}
	cb, err := p.parseCiphertext(b)
	if err != nil {
		return Value{}, err
	}
	sum := paillier.AddCipher(p.gadget, ca.Bytes(), cb.Bytes())
	return IntegerValue(new(big.Int).SetBytes(sum)), nil
}

// EvaluateScalar raises the ciphertext to k, multiplying its plaintext by k.
// A negative k raises the inverse ciphertext to |k|.
func (p *Paillier) EvaluateScalar(ciphertext Value, k *big.Int) (Value, error) {
	c, err := p.parseCiphertext(ciphertext)
	if err != nil {
		return Value{}, err
	}
	exp := k
	if k.Sign() < 0 {
		if c = new(big.Int).ModInverse(c, p.nsquared); c == nil {
			return Value{}, fmt.Errorf("%w: Paillier ciphertext not invertible mod n^2", ErrMalformedCiphertext)
		}
		exp = new(big.Int).Neg(k)
	}
	out := paillier.Mul(p.gadget, c.Bytes(), exp.Bytes())
	return IntegerValue(new(big.Int).SetBytes(out)), nil
}

// Negate returns an encryption of the negated plaintext.
func (p *Paillier) Negate(ciphertext Value) (Value, error) {
	return p.EvaluateScalar(ciphertext, big.NewInt(-1))
}

// Subtract returns an encryption of m1 - m2.
func (p *Paillier) Subtract(c1, c2 Value) (Value, error) {
	neg, err := p.Negate(c2)
	if err != nil {
		return Value{}, err
	}
	return p.Evaluate(c1, neg)
}

func (p *Paillier) GenerateKeys() (*KeyPair, error) {
	return generatePaillierKeys(p.opts, p.keyBits)
}

func (p *Paillier) parseCiphertext(v Value) (*big.Int, error) {
	c, err := v.AsInteger()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if c.Sign() <= 0 || c.Cmp(p.nsquared) >= 0 {
		return nil, fmt.Errorf("%w: Paillier ciphertext outside [1, n^2)", ErrMalformedCiphertext)
	}
	return c, nil
}
