package address

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// Scheme is the signature-scheme tag PublicKey and Signature carry,
// per spec.md §3's "1-byte scheme tag".
type Scheme byte

const (
	SchemeEd25519 Scheme = iota
	SchemeSecp256r1
	SchemeSecp256k1
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeSecp256r1:
		return "secp256r1"
	case SchemeSecp256k1:
		return "secp256k1"
	default:
		return "unknown"
	}
}

// PublicKey is polymorphic over the three schemes: it stores the raw
// key bytes for whichever scheme it was constructed with, tagged so
// verification can dispatch correctly.
type PublicKey struct {
	scheme Scheme
	raw    []byte
}

func NewPublicKey(scheme Scheme, raw []byte) PublicKey {
	cp := make([]byte, len(raw))
	copy(cp, raw)

	return PublicKey{scheme: scheme, raw: cp}
}

func (pk PublicKey) Scheme() Scheme { return pk.scheme }
func (pk PublicKey) Bytes() []byte  { cp := make([]byte, len(pk.raw)); copy(cp, pk.raw); return cp }

// Signature is polymorphic over the same scheme set.
type Signature struct {
	scheme Scheme
	raw    []byte
}

func NewSignature(scheme Scheme, raw []byte) Signature {
	cp := make([]byte, len(raw))
	copy(cp, raw)

	return Signature{scheme: scheme, raw: cp}
}

func (sig Signature) Scheme() Scheme { return sig.scheme }
func (sig Signature) Bytes() []byte  { cp := make([]byte, len(sig.raw)); copy(cp, sig.raw); return cp }

// Verify checks sig against message under pk, dispatching on scheme.
// A scheme mismatch between pk and sig is a hard BadSignature error
// (spec.md §3: "a mismatched scheme is a hard error"), never a
// fallback to another verifier.
func Verify(pk PublicKey, message []byte, sig Signature) error {
	if pk.scheme != sig.scheme {
		return jstzerr.New(jstzerr.KindBadSignature, "public key scheme %s does not match signature scheme %s", pk.scheme, sig.scheme)
	}

	switch pk.scheme {
	case SchemeEd25519:
		return verifyEd25519(pk.raw, message, sig.raw)
	case SchemeSecp256r1:
		return verifySecp256r1(pk.raw, message, sig.raw)
	case SchemeSecp256k1:
		return verifySecp256k1(pk.raw, message, sig.raw)
	default:
		return jstzerr.New(jstzerr.KindBadSignature, "unknown signature scheme %d", pk.scheme)
	}
}

func verifyEd25519(rawKey, message, rawSig []byte) error {
	if len(rawKey) != ed25519.PublicKeySize {
		return jstzerr.New(jstzerr.KindBadSignature, "ed25519 public key has wrong length %d", len(rawKey))
	}

	if !ed25519.Verify(ed25519.PublicKey(rawKey), message, rawSig) {
		return jstzerr.New(jstzerr.KindBadSignature, "ed25519 signature verification failed")
	}

	return nil
}

func verifySecp256r1(rawKey, message, rawSig []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), rawKey)
	if x == nil {
		return jstzerr.New(jstzerr.KindBadSignature, "secp256r1 public key is not a valid point")
	}

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	digest := sha256.Sum256(message)

	if !ecdsa.VerifyASN1(pub, digest[:], rawSig) {
		return jstzerr.New(jstzerr.KindBadSignature, "secp256r1 signature verification failed")
	}

	return nil
}

func verifySecp256k1(rawKey, message, rawSig []byte) error {
	pub, err := btcec.ParsePubKey(rawKey)
	if err != nil {
		return jstzerr.Wrap(jstzerr.KindBadSignature, err, "secp256k1 public key is not a valid point")
	}

	sig, err := btcecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return jstzerr.Wrap(jstzerr.KindBadSignature, err, "secp256k1 signature is malformed")
	}

	digest := sha256.Sum256(message)

	if !sig.Verify(digest[:], pub) {
		return jstzerr.New(jstzerr.KindBadSignature, "secp256k1 signature verification failed")
	}

	return nil
}
