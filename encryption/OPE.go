package encryption

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"phe-toolkit/models"
)

const (
	OPEName       = "OPE"
	OPEStringName = "OPESTR"

	// OPEKeyBits is the size of the random secret handed to the cipher.
	OPEKeyBits = 128

	opePlaintextBits  = 64
	opeCiphertextBits = 96

	// Characters allowed in OPESTR plaintexts, in increasing order. Digit 0
	// of the numeric encoding marks an empty position.
	opeCharset     = " 0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	opeCharsetBase = len(opeCharset) + 1
	opeBitsPerChar = 6 // ceil(log2(opeCharsetBase + 1))
	opeStringSlack = 16
)

var (
	// opeLimit is 2^63; OPE accepts [-2^63, 2^63 - 1].
	opeLimit   = new(big.Int).Lsh(one, opePlaintextBits-1)
	opeMin     = new(big.Int).Neg(opeLimit)
	opeMax     = new(big.Int).Sub(opeLimit, one)
	opeBaseBig = big.NewInt(int64(opeCharsetBase))
)

// OrderPreservingCipher is an external order-preserving encryption
// primitive over non-negative decimal strings: for plaintexts a < b of at
// most ptxtBits bits, Encrypt(a) < Encrypt(b) as integers of at most
// ctxtBits bits.
type OrderPreservingCipher interface {
	Encrypt(key, plaintext string, ptxtBits, ctxtBits int) (string, error)
	Decrypt(key, ciphertext string, ptxtBits, ctxtBits int) (string, error)
}

// OPE maps signed 64-bit integers onto an OrderPreservingCipher by shifting
// them into [0, 2^64).
type OPE struct {
	cipher OrderPreservingCipher
	key    string
	opts   Options
}

// NewOPE loads the key named by keys.Private, generating it first when it
// does not exist.
func NewOPE(store KeyStore, keys KeyHandles, c OrderPreservingCipher, opts Options) (*OPE, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: OPE needs an order-preserving cipher", ErrConfiguration)
	}
	pair, err := provisionKeys(store, keys, OPEName, true, OPEKeyBits, opeKeyGenerator(OPEName), opts)
	if err != nil {
		return nil, err
	}
	key, err := opeSecret(pair.Private, OPEName)
	if err != nil {
		return nil, err
	}
	return &OPE{cipher: c, key: key, opts: opts}, nil
}

func opeKeyGenerator(scheme string) keyGenerator {
	return func(opts Options, bits int) (*KeyPair, error) {
		secret := make([]byte, bits/8)
		if _, err := io.ReadFull(opts.random(), secret); err != nil {
			return nil, fmt.Errorf("failed to generate %s key: %w", scheme, err)
		}
		rec := models.NewKeyRecord(scheme, models.PrivateKey, bits, uuid.New())
		rec.Secret = secret
		return &KeyPair{Private: rec.Seal()}, nil
	}
}

// opeSecret renders the stored secret in base 32, the password form the
// cipher receives.
func opeSecret(rec *models.KeyRecord, scheme string) (string, error) {
	if err := checkRecord(rec, scheme, models.PrivateKey); err != nil {
		return "", err
	}
	if len(rec.Secret) == 0 {
		return "", fmt.Errorf("%w: %s key has no secret", ErrConfiguration, scheme)
	}
	return new(big.Int).SetBytes(rec.Secret).Text(32), nil
}

func (o *OPE) Name() string                   { return OPEName }
func (o *OPE) Property() Property             { return PropertyOPE }
func (o *OPE) KeyBits() int                   { return OPEKeyBits }
func (o *OPE) PlaintextType() Representation  { return Integer }
func (o *OPE) CiphertextType() Representation { return Text }

func (o *OPE) Encrypt(plaintext Value) (Value, error) {
	m, err := plaintext.AsInteger()
	if err != nil {
		return Value{}, err
	}
	if m.Cmp(opeMin) < 0 || m.Cmp(opeMax) > 0 {
		return Value{}, fmt.Errorf("%w: OPE plaintext %s outside [%s, %s]", ErrValueOutOfRange, m, opeMin, opeMax)
	}
	shifted := m.Add(m, opeLimit)
	ct, err := o.cipher.Encrypt(o.key, shifted.String(), opePlaintextBits, opeCiphertextBits)
	if err != nil {
		return Value{}, fmt.Errorf("OPE encryption failed: %w", err)
	}
	return TextValue(ct), nil
}

// EncryptWith ignores the policy: OPE is deterministic.
func (o *OPE) EncryptWith(plaintext Value, _ RandomnessPolicy) (Value, error) {
	return o.Encrypt(plaintext)
}

func (o *OPE) Decrypt(ciphertext Value) (Value, error) {
	ct, err := numericCiphertext(ciphertext, OPEName)
	if err != nil {
		return Value{}, err
	}
	pt, err := o.cipher.Decrypt(o.key, ct, opePlaintextBits, opeCiphertextBits)
	if err != nil {
		return Value{}, fmt.Errorf("OPE decryption failed: %w", err)
	}
	m, ok := new(big.Int).SetString(pt, 10)
	if !ok {
		return Value{}, fmt.Errorf("%w: OPE cipher returned %q", ErrMalformedCiphertext, pt)
	}
	return IntegerValue(m.Sub(m, opeLimit)), nil
}

func (o *OPE) Evaluate(_, _ Value) (Value, error) {
	return Value{}, unsupported(o, "evaluation")
}

func (o *OPE) GenerateKeys() (*KeyPair, error) {
	return opeKeyGenerator(OPEName)(o.opts, OPEKeyBits)
}

// OPEString is order-preserving encryption over upper-case strings of at
// most FullLength characters drawn from " 0-9A-Z". Lower-case input is
// upper-cased and NUL characters are dropped.
type OPEString struct {
	cipher         OrderPreservingCipher
	key            string
	fullLength     int
	plaintextBits  int
	ciphertextBits int
	opts           Options
}

// NewOPEString loads the key named by keys.Private, generating it first when
// it does not exist. fullLength must be positive.
func NewOPEString(store KeyStore, keys KeyHandles, c OrderPreservingCipher, fullLength int, opts Options) (*OPEString, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: OPESTR needs an order-preserving cipher", ErrConfiguration)
	}
	if fullLength <= 0 {
		return nil, fmt.Errorf("%w: OPESTR needs a positive full length, got %d", ErrConfiguration, fullLength)
	}
	pair, err := provisionKeys(store, keys, OPEStringName, true, OPEKeyBits, opeKeyGenerator(OPEStringName), opts)
	if err != nil {
		return nil, err
	}
	key, err := opeSecret(pair.Private, OPEStringName)
	if err != nil {
		return nil, err
	}
	bits := fullLength * opeBitsPerChar
	return &OPEString{
		cipher:         c,
		key:            key,
		fullLength:     fullLength,
		plaintextBits:  bits,
		ciphertextBits: bits + opeStringSlack,
		opts:           opts,
	}, nil
}

func (o *OPEString) Name() string                   { return OPEStringName }
func (o *OPEString) Property() Property             { return PropertyOPESTR }
func (o *OPEString) KeyBits() int                   { return OPEKeyBits }
func (o *OPEString) PlaintextType() Representation  { return Text }
func (o *OPEString) CiphertextType() Representation { return Text }

// FullLength is the longest plaintext accepted.
func (o *OPEString) FullLength() int {
	return o.fullLength
}

func (o *OPEString) Encrypt(plaintext Value) (Value, error) {
	s, err := plaintext.AsText()
	if err != nil {
		return Value{}, err
	}
	numeric, err := o.encodeString(s)
	if err != nil {
		return Value{}, err
	}
	ct, err := o.cipher.Encrypt(o.key, numeric.String(), o.plaintextBits, o.ciphertextBits)
	if err != nil {
		return Value{}, fmt.Errorf("OPESTR encryption failed: %w", err)
	}
	return TextValue(ct), nil
}

func (o *OPEString) EncryptWith(plaintext Value, _ RandomnessPolicy) (Value, error) {
	return o.Encrypt(plaintext)
}

func (o *OPEString) Decrypt(ciphertext Value) (Value, error) {
	ct, err := numericCiphertext(ciphertext, OPEStringName)
	if err != nil {
		return Value{}, err
	}
	pt, err := o.cipher.Decrypt(o.key, ct, o.plaintextBits, o.ciphertextBits)
	if err != nil {
		return Value{}, fmt.Errorf("OPESTR decryption failed: %w", err)
	}
	x, ok := new(big.Int).SetString(pt, 10)
	if !ok || x.Sign() < 0 {
		return Value{}, fmt.Errorf("%w: OPESTR cipher returned %q", ErrMalformedCiphertext, pt)
	}
	return TextValue(decodeString(x)), nil
}

func (o *OPEString) Evaluate(_, _ Value) (Value, error) {
	return Value{}, unsupported(o, "evaluation")
}

func (o *OPEString) GenerateKeys() (*KeyPair, error) {
	return opeKeyGenerator(OPEStringName)(o.opts, OPEKeyBits)
}

// encodeString maps s to sum((index(c_i)+1) * base^(fullLength-i-1)). Shorter
// strings end in zero digits, so "ABC" sorts before "ABCD".
func (o *OPEString) encodeString(s string) (*big.Int, error) {
	s = strings.ToUpper(strings.ReplaceAll(s, "\x00", ""))
	if len(s) > o.fullLength {
		return nil, fmt.Errorf("%w: string of %d characters exceeds OPESTR length %d", ErrValueOutOfRange, len(s), o.fullLength)
	}

	result := new(big.Int)
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(opeCharset, s[i])
		if idx < 0 {
			return nil, fmt.Errorf("%w: character %q not allowed in OPESTR", ErrTypeCoercion, s[i])
		}
		pow := new(big.Int).Exp(opeBaseBig, big.NewInt(int64(o.fullLength-i-1)), nil)
		result.Add(result, pow.Mul(pow, big.NewInt(int64(idx+1))))
	}
	return result, nil
}

// decodeString reads digits from the most significant non-zero position down
// and stops at the first empty position.
func decodeString(x *big.Int) string {
	x = new(big.Int).Set(x)

	power := 0
	for pow := new(big.Int).Set(opeBaseBig); new(big.Int).Quo(x, pow).Sign() > 0; pow.Mul(pow, opeBaseBig) {
		power++
	}

	var out strings.Builder
	digit := new(big.Int)
	for i := power; i >= 0; i-- {
		basePow := new(big.Int).Exp(opeBaseBig, big.NewInt(int64(i)), nil)
		digit.QuoRem(x, basePow, x)
		idx := int(digit.Int64()) - 1
		if idx < 0 || idx >= len(opeCharset) {
			break
		}
		out.WriteByte(opeCharset[idx])
	}
	return out.String()
}

func numericCiphertext(v Value, scheme string) (string, error) {
	s, err := v.AsText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	s = strings.TrimSpace(s)
	if _, ok := new(big.Int).SetString(s, 10); !ok {
		return "", fmt.Errorf("%w: invalid %s ciphertext %q", ErrMalformedCiphertext, scheme, s)
	}
	return s, nil
}
