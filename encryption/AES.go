package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"phe-toolkit/models"
)

const (
	AESName = "AES"

	// AESKeyBits is the only supported AES key size.
	AESKeyBits = 128

	sentenceDelimiter = " "
)

// AES is the deterministic scheme: AES-128 in ECB mode with PKCS#7 padding,
// ciphertexts encoded as standard base64. Equal plaintexts give equal
// ciphertexts.
//
// In sentence mode the plaintext is split on spaces and every non-empty word
// is encrypted on its own; the base64 outputs are concatenated. Sentence
// ciphertexts cannot be decrypted.
type AES struct {
	block    cipher.Block
	sentence bool
	opts     Options
}

// NewAES loads the key named by keys.Private, generating it first when it
// does not exist.
func NewAES(store KeyStore, keys KeyHandles, sentence bool, opts Options) (*AES, error) {
	pair, err := provisionKeys(store, keys, AESName, true, AESKeyBits, generateAESKey, opts)
	if err != nil {
		return nil, err
	}
	return AESFromKey(pair.Private, sentence, opts)
}

// AESFromKey opens the scheme from an in-memory private record.
func AESFromKey(key *models.KeyRecord, sentence bool, opts Options) (*AES, error) {
	if err := checkRecord(key, AESName, models.PrivateKey); err != nil {
		return nil, err
	}
	if len(key.Secret) != AESKeyBits/8 {
		return nil, fmt.Errorf("%w: AES key must be %d bytes, found %d", ErrConfiguration, AESKeyBits/8, len(key.Secret))
	}
	block, err := aes.NewCipher(key.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize AES cipher: %v", ErrConfiguration, err)
	}
	return &AES{block: block, sentence: sentence, opts: opts}, nil
}

func generateAESKey(opts Options, bits int) (*KeyPair, error) {
	secret := make([]byte, bits/8)
	if _, err := io.ReadFull(opts.random(), secret); err != nil {
		return nil, fmt.Errorf("failed to generate AES key: %w", err)
	}
	rec := models.NewKeyRecord(AESName, models.PrivateKey, bits, uuid.New())
	rec.Secret = secret
	return &KeyPair{Private: rec.Seal()}, nil
}

func (a *AES) Name() string                   { return AESName }
func (a *AES) Property() Property             { return PropertyDET }
func (a *AES) KeyBits() int                   { return AESKeyBits }
func (a *AES) PlaintextType() Representation  { return Text }
func (a *AES) CiphertextType() Representation { return Text }

// Sentence reports whether the instance encrypts word by word.
func (a *AES) Sentence() bool {
	return a.sentence
}

// Encrypt is deterministic; EncryptWith ignores the policy.
func (a *AES) Encrypt(plaintext Value) (Value, error) {
	s, err := plaintext.AsText()
	if err != nil {
		return Value{}, err
	}
	if !a.sentence {
		return TextValue(a.encryptText(s)), nil
	}

	var out strings.Builder
	for _, word := range strings.Split(s, sentenceDelimiter) {
		if word == "" {
			continue
		}
		out.WriteString(a.encryptText(word))
	}
	return TextValue(out.String()), nil
}

func (a *AES) EncryptWith(plaintext Value, _ RandomnessPolicy) (Value, error) {
	return a.Encrypt(plaintext)
}

func (a *AES) Decrypt(ciphertext Value) (Value, error) {
	if a.sentence {
		return Value{}, unsupported(a, "decryption in sentence mode")
	}
	s, err := ciphertext.AsText()
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Value{}, fmt.Errorf("%w: AES ciphertext is not base64: %v", ErrMalformedCiphertext, err)
	}
	plain, err := a.decryptBlocks(raw)
	if err != nil {
		return Value{}, err
	}
	return TextValue(string(plain)), nil
}

func (a *AES) Evaluate(_, _ Value) (Value, error) {
	return Value{}, unsupported(a, "evaluation")
}

func (a *AES) GenerateKeys() (*KeyPair, error) {
	return generateAESKey(a.opts, AESKeyBits)
}

func (a *AES) encryptText(s string) string {
	size := a.block.BlockSize()
	pad := size - len(s)%size
	buf := make([]byte, len(s)+pad)
	copy(buf, s)
	copy(buf[len(s):], bytes.Repeat([]byte{byte(pad)}, pad))

	for i := 0; i < len(buf); i += size {
		a.block.Encrypt(buf[i:i+size], buf[i:i+size])
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func (a *AES) decryptBlocks(raw []byte) ([]byte, error) {
	size := a.block.BlockSize()
	if len(raw) == 0 || len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: AES ciphertext length %d is not a positive multiple of %d", ErrMalformedCiphertext, len(raw), size)
	}
	buf := make([]byte, len(raw))
	for i := 0; i < len(raw); i += size {
		a.block.Decrypt(buf[i:i+size], raw[i:i+size])
	}

	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > size {
		return nil, fmt.Errorf("%w: bad AES padding", ErrMalformedCiphertext)
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad AES padding", ErrMalformedCiphertext)
		}
	}
	return buf[:len(buf)-pad], nil
}
