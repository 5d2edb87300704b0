// Command phe is a small front end to the toolkit: it provisions keys,
// encrypts, evaluates and decrypts values, and packs integer vectors.
package main

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"phe-toolkit/encryption"
	"phe-toolkit/packing"
	"phe-toolkit/registry"
	"phe-toolkit/service"
	"phe-toolkit/storage"
)

var (
	configPath string
	config     *Config

	flagKeyDir     string
	flagKeyID      string
	flagProperty   string
	flagKeyBits    int
	flagSentence   bool
	flagFullLength int
	flagVerbosity  int
	flagPadding    int
	flagConstant   bool
	flagEncrypt    bool
	flagDecrypt    bool
	flagProduct    bool
	flagIterations int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "phe",
	Short: "Partial homomorphic encryption toolkit",
	Long: `phe encrypts integers and strings under Paillier (AHE), ElGamal (MHE)
and AES (DET), evaluates ciphertexts without decrypting them, and packs
several 64-bit integers into one plaintext.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		applyFlags(cmd)
		setupLogging(config.Verbosity)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "phe.yaml", "YAML configuration file")
	pf.StringVar(&flagKeyDir, "keys", "keys", "Directory for key files")
	pf.StringVar(&flagKeyID, "key-id", "0", "Key identifier")
	pf.StringVarP(&flagProperty, "property", "p", "AHE", "Homomorphic property (DET, AHE, MHE)")
	pf.IntVar(&flagKeyBits, "bits", 0, "Key size for newly generated Paillier and ElGamal keys")
	pf.BoolVar(&flagSentence, "sentence", false, "Encrypt DET input word by word")
	pf.IntVar(&flagFullLength, "full-length", 0, "Maximum OPESTR string length")
	pf.IntVar(&flagVerbosity, "verbosity", 3, "Log level (0-5)")

	packCmd.Flags().IntVar(&flagPadding, "padding", -1, "Padding bits per item (default depends on the property)")
	packCmd.Flags().BoolVar(&flagConstant, "constant", false, "Pack for multiplication by a constant (MHE)")
	packCmd.Flags().BoolVar(&flagEncrypt, "encrypt", false, "Encrypt the packed blocks")
	unpackCmd.Flags().IntVar(&flagPadding, "padding", -1, "Padding bits per item (default depends on the property)")
	unpackCmd.Flags().BoolVar(&flagConstant, "constant", false, "Blocks were packed for multiplication by a constant (MHE)")
	unpackCmd.Flags().BoolVar(&flagDecrypt, "decrypt", false, "Arguments are ciphertexts rather than hex blocks")
	unpackCmd.Flags().BoolVar(&flagProduct, "product", false, "Blocks are products of two pairwise packed blocks (MHE)")
	benchCmd.Flags().IntVar(&flagIterations, "iterations", 20, "Operations per randomness policy")

	rootCmd.AddCommand(keygenCmd, encryptCmd, decryptCmd, evaluateCmd, packCmd, unpackCmd, benchCmd)
}

// applyFlags lets explicitly set flags override the config file.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("keys") {
		config.Registry.KeyDir = flagKeyDir
	}
	if flags.Changed("key-id") {
		config.Registry.KeyID = flagKeyID
	}
	if flags.Changed("bits") {
		config.Registry.KeyBits = flagKeyBits
	}
	if flags.Changed("sentence") {
		config.Registry.Sentence = flagSentence
	}
	if flags.Changed("full-length") {
		config.Registry.FullLength = flagFullLength
	}
	if flags.Changed("verbosity") {
		config.Verbosity = flagVerbosity
	}
	if flags.Changed("iterations") {
		config.Iterations = flagIterations
	}
}

func setupLogging(verbosity int) {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), false)
	log.SetDefault(log.NewLogger(handler))
}

// openScheme resolves --property through the registry.
func openScheme() (encryption.Scheme, error) {
	property, err := encryption.ParseProperty(flagProperty)
	if err != nil {
		return nil, err
	}
	if property == encryption.PropertyNone {
		return nil, fmt.Errorf("%w: property NONE does not encrypt", encryption.ErrUnsupportedOperation)
	}
	if err := setupKeyDirectory(config.Registry.KeyDir); err != nil {
		return nil, fmt.Errorf("failed to setup key directory: %v", err)
	}

	rc := config.Registry
	rc.Store = storage.NewFileKeyStore(log.Root())
	rc.Logger = log.Root()
	reg, err := registry.New(rc)
	if err != nil {
		return nil, err
	}
	return reg.Scheme(property)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the key pair for a property unless it already exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		handles := encryption.KeyPaths(config.Registry.KeyDir, s.Name(), config.Registry.KeyID)
		fmt.Printf("Scheme: %s (%d bits)\n", s.Name(), s.KeyBits())
		fmt.Printf("  Private key: %s\n", handles.Private)
		if s.Property() == encryption.PropertyAHE || s.Property() == encryption.PropertyMHE {
			fmt.Printf("  Public key:  %s\n", handles.Public)
		}
		return nil
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt VALUE...",
	Short: "Encrypt values, one ciphertext per line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		for _, arg := range args {
			ct, err := s.Encrypt(encryption.TextValue(arg))
			if err != nil {
				return fmt.Errorf("failed to encrypt %q: %w", arg, err)
			}
			fmt.Println(ct)
		}
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt CIPHERTEXT...",
	Short: "Decrypt ciphertexts, one plaintext per line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		for _, arg := range args {
			pt, err := s.Decrypt(encryption.TextValue(arg))
			if err != nil {
				return fmt.Errorf("failed to decrypt: %w", err)
			}
			fmt.Println(pt)
		}
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate CIPHERTEXT CIPHERTEXT...",
	Short: "Combine ciphertexts homomorphically (sum for AHE, product for MHE)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		acc := encryption.TextValue(args[0])
		for _, arg := range args[1:] {
			if acc, err = s.Evaluate(acc, encryption.TextValue(arg)); err != nil {
				return err
			}
		}
		fmt.Println(acc)
		return nil
	},
}

var packCmd = &cobra.Command{
	Use:   "pack NUMBER...",
	Short: "Pack 64-bit integers into hex blocks, or ciphertexts with --encrypt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		codec, err := packing.ForScheme(s)
		if err != nil {
			return err
		}
		numbers := make([]int64, len(args))
		for i, arg := range args {
			if numbers[i], err = strconv.ParseInt(arg, 10, 64); err != nil {
				return fmt.Errorf("%w: %q is not a 64-bit integer", encryption.ErrTypeCoercion, arg)
			}
		}
		blocks, err := codec.Pack(numbers, padding(codec), flagConstant)
		if err != nil {
			return err
		}

		if !flagEncrypt {
			for _, b := range blocks {
				fmt.Println(hexutil.Encode(b))
			}
			return nil
		}
		cts, err := packing.EncryptBlocks(s, blocks, encryption.RandomnessFresh)
		if err != nil {
			return err
		}
		for _, ct := range cts {
			fmt.Println(ct)
		}
		return nil
	},
}

var unpackCmd = &cobra.Command{
	Use:   "unpack BLOCK...",
	Short: "Unpack hex blocks, or ciphertexts with --decrypt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		codec, err := packing.ForScheme(s)
		if err != nil {
			return err
		}

		var blocks [][]byte
		if flagDecrypt {
			cts := make([]encryption.Value, len(args))
			for i, arg := range args {
				cts[i] = encryption.TextValue(arg)
			}
			if blocks, err = packing.DecryptBlocks(s, cts); err != nil {
				return err
			}
		} else {
			for _, arg := range args {
				b, err := hexutil.Decode(arg)
				if err != nil {
					return fmt.Errorf("%w: block %q: %v", encryption.ErrTypeCoercion, arg, err)
				}
				blocks = append(blocks, b)
			}
		}

		var items []*big.Int
		if flagProduct {
			items, err = codec.UnpackProducts(blocks, padding(codec))
		} else {
			items, err = codec.Unpack(blocks, padding(codec), flagConstant)
		}
		if err != nil {
			return err
		}
		for _, x := range items {
			fmt.Println(x)
		}
		return nil
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Time a scheme under fresh and fixed randomness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScheme()
		if err != nil {
			return err
		}
		results, err := service.RunBenchmark(s, service.BenchmarkConfig{
			Iterations: config.Iterations,
			Logger:     log.Root(),
		})
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(results)
	},
}

func padding(codec *packing.Codec) int {
	if flagPadding < 0 {
		return codec.DefaultPadding()
	}
	return flagPadding
}
