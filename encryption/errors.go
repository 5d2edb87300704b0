package encryption

import "errors"

// Error kinds surfaced by every scheme. Callers match them with errors.Is;
// the concrete errors wrap one of these with the detail of what failed.
var (
	// ErrConfiguration indicates missing, unreadable or inconsistent key
	// material, or a collaborator that was not supplied.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedOperation indicates a capability the scheme (or the
	// packing codec) does not implement.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrValueOutOfRange indicates a plaintext outside the scheme's plaintext
	// space, or a packing layout that does not fit.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrMalformedCiphertext indicates a ciphertext that does not parse into
	// its expected structure or lies outside its modulus.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrTypeCoercion indicates an input that cannot be represented in the
	// scheme's declared representation.
	ErrTypeCoercion = errors.New("type coercion error")
)
