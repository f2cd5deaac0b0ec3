// Package operation implements the operation envelope of spec.md §3/§6:
// its canonical binary encoding, operation hash, signature/nonce
// verification inputs, and the Receipt type the executor emits.
package operation

import (
	"encoding/binary"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// ContentTag distinguishes the two operation content variants.
type ContentTag byte

const (
	TagDeployFunction ContentTag = iota
	TagRunFunction
)

// DeployFunction is one of the two Operation content variants.
type DeployFunction struct {
	Code           string
	InitialBalance uint64
}

// RunFunction is the other Operation content variant: an HTTP-shaped
// call against a jstz:// URI.
type RunFunction struct {
	URI      string
	Method   string
	Headers  map[string]string
	Body     []byte
	GasLimit uint64
}

// Content is implemented by DeployFunction and RunFunction.
type Content interface {
	isContent()
}

func (DeployFunction) isContent() {}
func (RunFunction) isContent()    {}

// Envelope is the operation envelope of spec.md §3: source, nonce,
// content, plus the outer signature and public key. The operation
// hash is computed over every field except Signature.
type Envelope struct {
	Source    address.Address
	Nonce     uint64
	Content   Content
	PublicKey *address.PublicKey // present only when revealing
	Signature address.Signature
}

const envelopeSchemaVersion byte = 1

// Encode produces the wire form of e that follows the inbox tag byte
// (spec.md §6: "Operation envelope: [tag=0x01][canonical-encoded
// Operation][PublicKey][Signature]"). The tag itself is not included:
// the output starts with the envelope schema version, and the 0x01 tag
// is prepended by whoever frames the inbox message.
func Encode(e *Envelope) []byte {
	buf := encodeFields(e)
	buf = appendByte(buf, byte(e.Signature.Scheme()))
	buf = appendBytes(buf, e.Signature.Bytes())

	return buf
}

// EncodeSigned produces the canonical binary form of every operation
// field except Signature — the hash preimage and the message actually
// signed (spec.md §3).
func EncodeSigned(e *Envelope) []byte {
	return encodeFields(e)
}

func encodeFields(e *Envelope) []byte {
	buf := []byte{envelopeSchemaVersion}

	buf = appendByte(buf, byte(e.Source.Kind()))
	h := e.Source.Hash()
	buf = append(buf, h[:]...)
	buf = appendUint64(buf, e.Nonce)

	switch c := e.Content.(type) {
	case DeployFunction:
		buf = appendByte(buf, byte(TagDeployFunction))
		buf = appendBytes(buf, []byte(c.Code))
		buf = appendUint64(buf, c.InitialBalance)
	case RunFunction:
		buf = appendByte(buf, byte(TagRunFunction))
		buf = appendBytes(buf, []byte(c.URI))
		buf = appendBytes(buf, []byte(c.Method))
		buf = appendUint32(buf, uint32(len(c.Headers)))

		for _, k := range sortedKeys(c.Headers) {
			buf = appendBytes(buf, []byte(k))
			buf = appendBytes(buf, []byte(c.Headers[k]))
		}

		buf = appendBytes(buf, c.Body)
		buf = appendUint64(buf, c.GasLimit)
	}

	if e.PublicKey != nil {
		buf = appendByte(buf, 1)
		buf = appendByte(buf, byte(e.PublicKey.Scheme()))
		buf = appendBytes(buf, e.PublicKey.Bytes())
	} else {
		buf = appendByte(buf, 0)
	}

	return buf
}

// Hash is the first 20 bytes of the Blake2b-256 digest of the canonical
// encoding (address.HashBytes), not the full 32-byte digest. It is the
// operation hash used as the signed message and as the identity under
// which a receipt is indexed in logs/tests.
func Hash(e *Envelope) address.Hash {
	return address.HashBytes(EncodeSigned(e))
}

// Verify checks e.Signature against e's operation hash using pk,
// dispatching on scheme as address.Verify does.
func Verify(e *Envelope, pk address.PublicKey) error {
	h := Hash(e)
	return address.Verify(pk, h[:], e.Signature)
}

func appendByte(buf []byte, b byte) []byte { return append(buf, b) }

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)

	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)

	return append(buf, tmp[:]...)
}

func appendBytes(buf, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}

	return out
}

// decodeFatal maps a parse failure to the Malformed kind spec.md
// §4.7 step 1 requires.
func decodeFatal(err error) error {
	return jstzerr.Wrap(jstzerr.KindMalformed, err, "decode operation envelope")
}

// reader walks a byte slice, failing closed (by setting err) the moment
// it runs past the end rather than panicking on a truncated envelope.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) byte() byte {
	if r.err != nil || r.pos >= len(r.buf) {
		r.fail()
		return 0
	}

	b := r.buf[r.pos]
	r.pos++

	return b
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.pos+n > len(r.buf) {
		r.fail()
		return nil
	}

	out := r.buf[r.pos : r.pos+n]
	r.pos += n

	return out
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}

	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if r.err != nil {
		return 0
	}

	return binary.BigEndian.Uint64(b)
}

func (r *reader) lenPrefixed() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}

	return r.bytes(int(n))
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = errEnvelopeTruncated
	}
}

var errEnvelopeTruncated = jstzerr.New(jstzerr.KindMalformed, "operation envelope truncated")

// Decode parses the full wire form Encode produces back into an
// Envelope. Any structural failure is reported as KindMalformed, per
// spec.md §4.7 step 1: "Malformed -> Malformed receipt, no state
// change, no nonce consumption."
func Decode(raw []byte) (*Envelope, error) {
	r := &reader{buf: raw}

	version := r.byte()
	if r.err == nil && version != envelopeSchemaVersion {
		r.err = jstzerr.New(jstzerr.KindMalformed, "operation envelope has unknown schema version %d", version)
	}

	kind := address.Kind(r.byte())
	hashBytes := r.bytes(20)
	nonce := r.uint64()
	contentTag := ContentTag(r.byte())

	var content Content
	switch contentTag {
	case TagDeployFunction:
		code := r.lenPrefixed()
		initial := r.uint64()
		content = DeployFunction{Code: string(code), InitialBalance: initial}
	case TagRunFunction:
		uri := r.lenPrefixed()
		method := r.lenPrefixed()
		headerCount := r.uint32()

		headers := make(map[string]string, headerCount)
		for i := uint32(0); i < headerCount && r.err == nil; i++ {
			k := r.lenPrefixed()
			v := r.lenPrefixed()
			headers[string(k)] = string(v)
		}

		body := r.lenPrefixed()
		gas := r.uint64()
		content = RunFunction{URI: string(uri), Method: string(method), Headers: headers, Body: body, GasLimit: gas}
	default:
		if r.err == nil {
			r.err = jstzerr.New(jstzerr.KindMalformed, "operation envelope has unknown content tag %d", contentTag)
		}
	}

	hasPK := r.byte()

	var pk *address.PublicKey
	if r.err == nil && hasPK == 1 {
		scheme := address.Scheme(r.byte())
		raw := r.lenPrefixed()

		if r.err == nil {
			v := address.NewPublicKey(scheme, raw)
			pk = &v
		}
	}

	sigScheme := address.Scheme(r.byte())
	sigRaw := r.lenPrefixed()

	if r.err != nil {
		return nil, decodeFatal(r.err)
	}

	if r.pos != len(r.buf) {
		return nil, decodeFatal(jstzerr.New(jstzerr.KindMalformed, "operation envelope has %d trailing bytes", len(r.buf)-r.pos))
	}

	var h address.Hash
	copy(h[:], hashBytes)

	source := address.NewAddressFromHash(kind, h)

	return &Envelope{
		Source:    source,
		Nonce:     nonce,
		Content:   content,
		PublicKey: pk,
		Signature: address.NewSignature(sigScheme, sigRaw),
	}, nil
}
