// Package packing batches several 64-bit integers into one plaintext so a
// single ciphertext carries a vector of values.
//
// A block is the concatenation of its items, most significant first. Every
// item is written as paddingBits/8 zero bytes followed by its 8-byte
// big-endian two's-complement form. The zero bytes absorb carries from
// homomorphic sums (AHE) or hold the cross terms of a product (MHE).
// Signed items only survive a round trip with zero padding; with padding a
// negative item unpacks as its unsigned 64-bit value.
//
// Decrypted products of two pairwise MHE blocks must go through
// UnpackProducts, which restores the three-slot width that decryption trims
// when the leading product is zero.
package packing

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"phe-toolkit/encryption"
)

const (
	// ItemBits is the width of one packed item.
	ItemBits = 64

	// AHEDefaultPadding leaves room for carries when summing many operands.
	AHEDefaultPadding = 3 * 8

	// mheItemsPerBlock is the only layout supported for products of two
	// packed ciphertexts.
	mheItemsPerBlock = 2
)

// Codec packs for one homomorphic property and plaintext space.
type Codec struct {
	property encryption.Property
	space    int
}

// New returns a codec for AHE or MHE over a plaintext space of space bits.
func New(property encryption.Property, space int) (*Codec, error) {
	if property != encryption.PropertyAHE && property != encryption.PropertyMHE {
		return nil, fmt.Errorf("%w: unsupported property for packing: %v", encryption.ErrUnsupportedOperation, property)
	}
	if space <= 0 {
		return nil, fmt.Errorf("%w: plaintext space must be positive, got %d", encryption.ErrConfiguration, space)
	}
	return &Codec{property: property, space: space}, nil
}

// ForScheme builds a codec from the scheme's property and plaintext space.
func ForScheme(s encryption.Scheme) (*Codec, error) {
	spacer, ok := s.(encryption.PlaintextSpacer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme for packing: %s", encryption.ErrUnsupportedOperation, s.Name())
	}
	return New(s.Property(), spacer.PlaintextSpace())
}

func (c *Codec) Property() encryption.Property { return c.property }

// Space returns the plaintext space in bits.
func (c *Codec) Space() int { return c.space }

// DefaultPadding is 24 bits for AHE. For MHE it is half the space minus the
// item width, rounded down to whole bytes, so that two items fill a block.
func (c *Codec) DefaultPadding() int {
	if c.property == encryption.PropertyAHE {
		return AHEDefaultPadding
	}
	pad := c.space/mheItemsPerBlock - ItemBits
	return pad - pad%8
}

// ItemsPerBlock returns how many items of the given padding fit in one block.
func (c *Codec) ItemsPerBlock(paddingBits int) (int, error) {
	if err := c.checkPadding(paddingBits); err != nil {
		return 0, err
	}
	return c.space / (ItemBits + paddingBits), nil
}

func (c *Codec) checkPadding(paddingBits int) error {
	if paddingBits < 0 || paddingBits%8 != 0 {
		return fmt.Errorf("%w: padding of %d bits is not a whole number of bytes", encryption.ErrValueOutOfRange, paddingBits)
	}
	if 2*(ItemBits+paddingBits) > c.space {
		return fmt.Errorf("%w: cannot pack two %d-bit items with %d padding bits into %d bits",
			encryption.ErrValueOutOfRange, ItemBits, paddingBits, c.space)
	}
	return nil
}

// Pack splits numbers into blocks. In MHE non-constant mode every block holds
// exactly two items and a trailing single item is completed with 1.
func (c *Codec) Pack(numbers []int64, paddingBits int, constant bool) ([][]byte, error) {
	perBlock, err := c.ItemsPerBlock(paddingBits)
	if err != nil {
		return nil, err
	}
	pairwise := c.property == encryption.PropertyMHE && !constant
	if pairwise && perBlock != mheItemsPerBlock {
		return nil, fmt.Errorf("%w: MHE packing supports exactly %d items per block, padding of %d bits gives %d",
			encryption.ErrValueOutOfRange, mheItemsPerBlock, paddingBits, perBlock)
	}

	itemBytes := (ItemBits + paddingBits) / 8
	var blocks [][]byte
	for start := 0; start < len(numbers); start += perBlock {
		end := min(start+perBlock, len(numbers))
		count := end - start
		if pairwise {
			count = perBlock
		}

		block := make([]byte, count*itemBytes)
		for i, n := range numbers[start:end] {
			putItem(block[i*itemBytes:(i+1)*itemBytes], n)
		}
		for i := end - start; i < count; i++ {
			putItem(block[i*itemBytes:(i+1)*itemBytes], 1)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// putItem writes n into the last eight bytes of dst. The leading bytes stay
// zero.
func putItem(dst []byte, n int64) {
	binary.BigEndian.PutUint64(dst[len(dst)-8:], uint64(n))
}

// PackDefault is Pack with DefaultPadding.
func (c *Codec) PackDefault(numbers []int64, constant bool) ([][]byte, error) {
	return c.Pack(numbers, c.DefaultPadding(), constant)
}

// Unpack reverses Pack over every block and concatenates the items.
func (c *Codec) Unpack(blocks [][]byte, paddingBits int, constant bool) ([]*big.Int, error) {
	var out []*big.Int
	for _, block := range blocks {
		items, err := c.UnpackBlock(block, paddingBits, constant)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// UnpackDefault is Unpack with DefaultPadding.
func (c *Codec) UnpackDefault(blocks [][]byte, constant bool) ([]*big.Int, error) {
	return c.Unpack(blocks, c.DefaultPadding(), constant)
}

// UnpackBlock slices the block into item-sized chunks from the end backward;
// leading zero bytes may have been trimmed, so the first chunk can be short.
// Each chunk is read as a signed integer. In MHE non-constant mode only the
// first and last chunks are kept: the product of two packed pairs
// (a1, a2) x (b1, b2) surfaces as (a1*b1, a1*b2 + a2*b1, a2*b2).
//
// A negative item comes back as its unsigned 64-bit residue unless the
// padding is zero.
func (c *Codec) UnpackBlock(block []byte, paddingBits int, constant bool) ([]*big.Int, error) {
	if err := c.checkPadding(paddingBits); err != nil {
		return nil, err
	}
	itemBytes := (ItemBits + paddingBits) / 8

	var reversed []*big.Int
	for end := len(block); end > 0; {
		start := max(end-itemBytes, 0)
		reversed = append(reversed, signedFromBytes(block[start:end]))
		end = start
	}

	if c.property == encryption.PropertyMHE && !constant && len(reversed) > 2 {
		reversed = []*big.Int{reversed[0], reversed[len(reversed)-1]}
	}

	items := make([]*big.Int, len(reversed))
	for i, x := range reversed {
		items[len(items)-1-i] = x
	}
	return items, nil
}

// UnpackProducts unpacks decrypted products of two pairwise MHE blocks.
// Each block is aligned to the (a1*b1, cross, a2*b2) width before the first
// and last slots are read, so a zero a1*b1 is not mistaken for a trimmed
// pair.
func (c *Codec) UnpackProducts(blocks [][]byte, paddingBits int) ([]*big.Int, error) {
	if c.property != encryption.PropertyMHE {
		return nil, fmt.Errorf("%w: product unpacking needs an MHE codec, got %v", encryption.ErrUnsupportedOperation, c.property)
	}
	if err := c.checkPadding(paddingBits); err != nil {
		return nil, err
	}
	var out []*big.Int
	for _, block := range blocks {
		aligned := c.AlignBlock(block, 2*mheItemsPerBlock-1, paddingBits)
		items, err := c.UnpackBlock(aligned, paddingBits, false)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// AlignBlock left-pads a decrypted block back to the width of items items.
// Decryption returns the minimal big-endian form, which drops leading zero
// items.
func (c *Codec) AlignBlock(block []byte, items, paddingBits int) []byte {
	width := items * ((ItemBits + paddingBits) / 8)
	if len(block) >= width {
		return block
	}
	out := make([]byte, width)
	copy(out[width-len(block):], block)
	return out
}

// signedFromBytes parses big-endian two's complement.
func signedFromBytes(b []byte) *big.Int {
	x := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		x.Sub(x, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return x
}
