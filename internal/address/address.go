// Package address implements the Address, PublicKey, and Signature
// value types of spec.md §3: polymorphic over a small scheme set,
// serialized as prefixed plain base58 strings (no checksum is written
// or verified), compared by raw bytes.
package address

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// Kind distinguishes the two Address variants of spec.md §3.
type Kind byte

const (
	KindUser Kind = iota
	KindSmartFunction
)

// prefix is the 3-character string baked into the base58 encoding so a
// reader (and a signature check) can tell the two variants apart
// without decoding further.
func (k Kind) prefix() string {
	switch k {
	case KindUser:
		return "tz1"
	case KindSmartFunction:
		return "KT1"
	default:
		return "???"
	}
}

const hashLen = 20

// Hash is the raw digest an Address wraps: a blake2b-256 output
// truncated to 20 bytes, the same length for both variants.
type Hash [hashLen]byte

// Address is either a User (public-key hash) or a SmartFunction
// (content-addressed hash of deployer, code hash, and deployer nonce
// at deploy time).
type Address struct {
	kind Kind
	hash Hash
}

// Equal compares two addresses by kind and raw bytes (spec.md §3:
// "equality is by bytes").
func (a Address) Equal(other Address) bool {
	return a.kind == other.kind && a.hash == other.hash
}

// Less orders two addresses lexicographically on bytes (spec.md §3),
// kind first so the two variants never interleave.
func (a Address) Less(other Address) bool {
	if a.kind != other.kind {
		return a.kind < other.kind
	}

	return bytes.Compare(a.hash[:], other.hash[:]) < 0
}

// Kind reports which Address variant this is.
func (a Address) Kind() Kind { return a.kind }

// Hash returns the raw 20-byte digest underlying this address.
func (a Address) Hash() Hash { return a.hash }

// IsZero reports whether a is the unset Address value.
func (a Address) IsZero() bool { return a.kind == KindUser && a.hash == Hash{} }

// String renders the prefixed base58 form used everywhere an Address
// crosses a wire or storage-path boundary: the 3-character prefix
// followed by the plain base58 of the 20-byte hash, with no checksum.
func (a Address) String() string {
	return a.kind.prefix() + base58.Encode(a.hash[:])
}

// MarshalJSON encodes an Address as its prefixed base58 string form, so
// it can be embedded directly in a JSON document (account records,
// receipts) without a wrapper type.
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses the prefixed base58 string form back into a.
func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return jstzerr.New(jstzerr.KindMalformed, "address must be a JSON string")
	}

	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// NewUserAddress derives a User address from an account public key: the
// blake2b-256 hash of its scheme byte followed by its raw key bytes,
// truncated to 20 bytes.
func NewUserAddress(pk PublicKey) Address {
	return Address{kind: KindUser, hash: hashOf(pk.raw, pk.scheme)}
}

// NewSmartFunctionAddress derives a SmartFunction address from the
// deployer address, the deployed code's hash, and the deployer's
// account nonce at deploy time, per spec.md §3 invariant 3: the
// derivation is a pure function of these three inputs, so deploying
// the same code from the same account nonce always yields the same
// address (idempotent deployment).
func NewSmartFunctionAddress(deployer Address, codeHash Hash, deployerNonce uint64) Address {
	buf := make([]byte, 0, hashLen+1+hashLen+8)
	buf = append(buf, byte(deployer.kind))
	buf = append(buf, deployer.hash[:]...)
	buf = append(buf, codeHash[:]...)
	buf = appendUint64(buf, deployerNonce)

	sum := blake2b.Sum256(buf)

	var h Hash
	copy(h[:], sum[:hashLen])

	return Address{kind: KindSmartFunction, hash: h}
}

// NewAddressFromHash reconstructs an Address from an already-known
// kind and hash, used when decoding an operation envelope's source
// field off the wire (the hash travels raw; only String() base58s it).
func NewAddressFromHash(kind Kind, hash Hash) Address {
	return Address{kind: kind, hash: hash}
}

// Parse decodes a prefixed base58 address string back into an Address,
// validating its prefix and decoded length; there is no checksum to
// verify.
func Parse(s string) (Address, error) {
	if len(s) < 3 {
		return Address{}, jstzerr.New(jstzerr.KindInvalidAddress, "address %q too short", s)
	}

	var kind Kind
	switch s[:3] {
	case "tz1":
		kind = KindUser
	case "KT1":
		kind = KindSmartFunction
	default:
		return Address{}, jstzerr.New(jstzerr.KindInvalidAddress, "address %q has unknown prefix %q", s, s[:3])
	}

	raw, err := base58.Decode(s[3:])
	if err != nil {
		return Address{}, jstzerr.Wrap(jstzerr.KindInvalidAddress, err, "address %q is not valid base58", s)
	}

	if len(raw) != hashLen {
		return Address{}, jstzerr.New(jstzerr.KindInvalidAddress, "address %q decodes to %d bytes, want %d", s, len(raw), hashLen)
	}

	var h Hash
	copy(h[:], raw)

	return Address{kind: kind, hash: h}, nil
}

// HashBytes returns the blake2b-256 digest of data truncated to 20
// bytes, the same construction the code blob hash (spec.md §3) uses.
func HashBytes(data []byte) Hash {
	sum := blake2b.Sum256(data)

	var h Hash
	copy(h[:], sum[:hashLen])

	return h
}

func hashOf(raw []byte, scheme Scheme) Hash {
	buf := make([]byte, 0, len(raw)+1)
	buf = append(buf, byte(scheme))
	buf = append(buf, raw...)

	return HashBytes(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}

	return buf
}

func (h Hash) String() string { return base58.Encode(h[:]) }

// MarshalJSON/UnmarshalJSON encode a Hash as its base58 string form,
// the same convention Address uses, so code hashes embed cleanly in
// account records and operation envelopes.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return jstzerr.New(jstzerr.KindMalformed, "hash must be a JSON string")
	}

	raw, err := base58.Decode(string(data[1 : len(data)-1]))
	if err != nil {
		return jstzerr.Wrap(jstzerr.KindMalformed, err, "hash is not valid base58")
	}

	if len(raw) != hashLen {
		return jstzerr.New(jstzerr.KindMalformed, "hash decodes to %d bytes, want %d", len(raw), hashLen)
	}

	copy(h[:], raw)

	return nil
}

var _ fmt.Stringer = Hash{}
