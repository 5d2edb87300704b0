package service

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"

	"phe-toolkit/encryption"
)

// Benchmarked operations.
const (
	OpEncrypt  = "encrypt"
	OpDecrypt  = "decrypt"
	OpEvaluate = "evaluate"
	OpKeyGen   = "keygen"
)

// BenchmarkResult stores the performance metrics for a scheme under one
// randomness policy.
type BenchmarkResult struct {
	SchemeName     string                      `json:"scheme" yaml:"scheme"`
	KeySize        int                         `json:"key_size" yaml:"key_size"`
	Policy         string                      `json:"policy" yaml:"policy"`
	Iterations     int                         `json:"iterations" yaml:"iterations"`
	CiphertextSize int                         `json:"ciphertext_size" yaml:"ciphertext_size"`
	Operations     map[string]OperationMetrics `json:"operations" yaml:"operations"`
}

// BenchmarkConfig tunes RunBenchmark.
type BenchmarkConfig struct {
	Iterations int
	Policies   []encryption.RandomnessPolicy

	// KeyGen also times GenerateKeys, once per policy run.
	KeyGen bool

	Logger log.Logger
}

// RunBenchmark times encryption, decryption and evaluation of s once per
// policy. A round trip that does not return its input fails the run.
func RunBenchmark(s encryption.Scheme, cfg BenchmarkConfig) ([]*BenchmarkResult, error) {
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", encryption.ErrConfiguration, cfg.Iterations)
	}
	policies := cfg.Policies
	if len(policies) == 0 {
		policies = []encryption.RandomnessPolicy{encryption.RandomnessFresh, encryption.RandomnessFixed}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root()
	}

	var results []*BenchmarkResult
	for _, policy := range policies {
		res, err := benchmarkPolicy(s, cfg, policy)
		if err != nil {
			return nil, fmt.Errorf("benchmark %s (%v): %w", s.Name(), policy, err)
		}
		logger.Info("Benchmark finished", "scheme", s.Name(), "policy", policy,
			"iterations", cfg.Iterations, "encrypt_us", res.Operations[OpEncrypt].Mean)
		results = append(results, res)
	}
	return results, nil
}

func benchmarkPolicy(s encryption.Scheme, cfg BenchmarkConfig, policy encryption.RandomnessPolicy) (*BenchmarkResult, error) {
	mc := NewMetricsCollector()
	result := &BenchmarkResult{
		SchemeName: s.Name(),
		KeySize:    s.KeyBits(),
		Policy:     policy.String(),
		Iterations: cfg.Iterations,
	}

	if cfg.KeyGen {
		if err := mc.Time(OpKeyGen, func() error {
			_, err := s.GenerateKeys()
			return err
		}); err != nil {
			return nil, err
		}
	}

	evaluate := s.Property() == encryption.PropertyAHE || s.Property() == encryption.PropertyMHE
	for i := 0; i < cfg.Iterations; i++ {
		m := benchmarkPlaintext(s, i)

		var ct encryption.Value
		if err := mc.Time(OpEncrypt, func() (err error) {
			ct, err = s.EncryptWith(m, policy)
			return err
		}); err != nil {
			return nil, err
		}
		result.CiphertextSize = max(result.CiphertextSize, len(ct.String()))

		var pt encryption.Value
		if err := mc.Time(OpDecrypt, func() (err error) {
			pt, err = s.Decrypt(ct)
			return err
		}); err != nil {
			return nil, err
		}
		if pt.String() != m.String() {
			return nil, fmt.Errorf("round trip of %s returned %s", m, pt)
		}

		if evaluate {
			if err := mc.Time(OpEvaluate, func() error {
				_, err := s.Evaluate(ct, ct)
				return err
			}); err != nil {
				return nil, err
			}
		}
	}

	result.Operations = make(map[string]OperationMetrics)
	for _, op := range mc.Operations() {
		result.Operations[op] = mc.GetMetrics(op)
	}
	return result, nil
}

// benchmarkPlaintext picks a small value in the scheme's plaintext type.
func benchmarkPlaintext(s encryption.Scheme, i int) encryption.Value {
	if s.PlaintextType() == encryption.Text {
		return encryption.TextValue(fmt.Sprintf("V%d", i%10))
	}
	return encryption.IntegerValue(big.NewInt(int64(12345 + i)))
}
