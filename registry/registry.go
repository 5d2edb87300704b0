// Package registry selects and caches encryption schemes by homomorphic
// property.
package registry

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"phe-toolkit/encryption"
)

// Scheme names understood by SchemeByName. The ones without an
// implementation fail with ErrUnsupportedOperation.
const (
	AESRandomName        = "AESRND"
	RSAName              = "RSA"
	GoldwasserMicaliName = "GoldwasserMicali"
)

// propertySchemes maps each property to the scheme that provides it.
var propertySchemes = map[encryption.Property]string{
	encryption.PropertyRND:    AESRandomName,
	encryption.PropertyDET:    encryption.AESName,
	encryption.PropertyAHE:    encryption.PaillierName,
	encryption.PropertyMHE:    encryption.ElGamalName,
	encryption.PropertyDMHE:   RSAName,
	encryption.PropertyOPE:    encryption.OPEName,
	encryption.PropertyOPESTR: encryption.OPEStringName,
	encryption.PropertyXOR:    GoldwasserMicaliName,
}

type builder func(r *Registry, keys encryption.KeyHandles, opts encryption.Options) (encryption.Scheme, error)

// builders holds a constructor per scheme name; nil marks a known scheme
// that is not implemented.
var builders = map[string]builder{
	AESRandomName: nil,
	encryption.AESName: func(r *Registry, keys encryption.KeyHandles, opts encryption.Options) (encryption.Scheme, error) {
		return encryption.NewAES(r.config.Store, keys, r.config.Sentence, opts)
	},
	encryption.PaillierName: func(r *Registry, keys encryption.KeyHandles, opts encryption.Options) (encryption.Scheme, error) {
		return encryption.NewPaillier(r.config.Store, r.asymmetric(keys), opts)
	},
	encryption.ElGamalName: func(r *Registry, keys encryption.KeyHandles, opts encryption.Options) (encryption.Scheme, error) {
		return encryption.NewElGamal(r.config.Store, r.asymmetric(keys), opts)
	},
	RSAName: nil,
	encryption.OPEName: func(r *Registry, keys encryption.KeyHandles, opts encryption.Options) (encryption.Scheme, error) {
		return encryption.NewOPE(r.config.Store, keys, r.config.OPECipher, opts)
	},
	encryption.OPEStringName: func(r *Registry, keys encryption.KeyHandles, opts encryption.Options) (encryption.Scheme, error) {
		return encryption.NewOPEString(r.config.Store, keys, r.config.OPECipher, r.config.FullLength, opts)
	},
	GoldwasserMicaliName: nil,
}

// Config controls how schemes are opened.
type Config struct {
	// KeyDir and KeyID name key files "<KeyDir>/<scheme><KeyID>.pk|.sk".
	KeyDir string `yaml:"key_dir"`
	KeyID  string `yaml:"key_id"`

	// Sentence switches AES to word-by-word encryption.
	Sentence bool `yaml:"sentence"`

	// FullLength is the longest string OPESTR accepts.
	FullLength int `yaml:"full_length"`

	// KeyBits overrides the key size of newly generated Paillier and
	// ElGamal keys.
	KeyBits int `yaml:"key_bits"`

	// PublicOnly opens Paillier and ElGamal without their private keys.
	PublicOnly bool `yaml:"public_only"`

	Store     encryption.KeyStore              `yaml:"-"`
	OPECipher encryption.OrderPreservingCipher `yaml:"-"`
	Random    io.Reader                        `yaml:"-"`
	Logger    log.Logger                       `yaml:"-"`
}

// Registry hands out one scheme instance per (name, key id, mode).
type Registry struct {
	config Config
	logger log.Logger

	mu        sync.Mutex
	instances map[string]encryption.Scheme
}

func New(config Config) (*Registry, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("%w: registry needs a key store", encryption.ErrConfiguration)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Root()
	}
	return &Registry{
		config:    config,
		logger:    logger.With("component", "registry"),
		instances: make(map[string]encryption.Scheme),
	}, nil
}

// SchemeName returns the scheme registered for property.
func SchemeName(property encryption.Property) (string, error) {
	name, ok := propertySchemes[property]
	if !ok {
		return "", fmt.Errorf("%w: no scheme for property %v", encryption.ErrUnsupportedOperation, property)
	}
	return name, nil
}

// Scheme returns the scheme for property. PropertyNone yields a nil scheme
// and no error: values pass through unencrypted.
func (r *Registry) Scheme(property encryption.Property) (encryption.Scheme, error) {
	if property == encryption.PropertyNone {
		return nil, nil
	}
	name, err := SchemeName(property)
	if err != nil {
		return nil, err
	}
	return r.SchemeByName(name)
}

// SchemeByName opens the named scheme, reusing a cached instance.
func (r *Registry) SchemeByName(name string) (encryption.Scheme, error) {
	build, known := builders[name]
	if !known {
		return nil, fmt.Errorf("%w: unknown scheme %q", encryption.ErrUnsupportedOperation, name)
	}
	if build == nil {
		return nil, fmt.Errorf("%w: scheme %s is not implemented", encryption.ErrUnsupportedOperation, name)
	}

	key := r.cacheKey(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.instances[key]; ok {
		return s, nil
	}

	opts := encryption.Options{
		KeyBits: r.config.KeyBits,
		Random:  r.config.Random,
		Logger:  r.logger,
	}
	s, err := build(r, encryption.KeyPaths(r.config.KeyDir, name, r.config.KeyID), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	r.instances[key] = s
	r.logger.Debug("Opened scheme", "scheme", name, "id", r.config.KeyID)
	return s, nil
}

func (r *Registry) asymmetric(keys encryption.KeyHandles) encryption.KeyHandles {
	if r.config.PublicOnly {
		return keys.PublicOnly()
	}
	return keys
}

// cacheKey distinguishes instances whose behavior depends on the config.
func (r *Registry) cacheKey(name string) string {
	mode := ""
	switch name {
	case encryption.AESName:
		mode = strconv.FormatBool(r.config.Sentence)
	case encryption.OPEStringName:
		mode = strconv.Itoa(r.config.FullLength)
	}
	return name + "\x00" + r.config.KeyID + "\x00" + mode
}
