// Package oracle implements the out-of-band suspension bookkeeping of
// spec.md §5/§9. A pending record, stored by Register at
// /jstz_pending/<op_hash>, is completed by the kernel when a signed
// oracle response for it arrives on the inbox, or expires after a fixed
// number of levels. Nothing in the runtime calls Register: a smart
// function's fetch to an http(s):// URI fails inline instead of
// suspending the operation.
package oracle

import (
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// TTLLevels is how many rollup levels a pending oracle request stays
// resumable before the kernel garbage-collects it and emits a failure
// receipt for the suspended operation.
const TTLLevels = 20

// MaxRequestBytes caps the serialized size of an externalized request.
const MaxRequestBytes = 10 << 20

// RequestIDLen is the wire size of a request identifier (spec.md §6:
// "[tag=0x02][request_id: 32 bytes][signed Response]").
const RequestIDLen = 32

// RequestID identifies one externalized oracle request. The first 16
// bytes are a UUID minted at suspension time, the rest is zero padding
// kept for wire compatibility with the 32-byte inbox field.
type RequestID [RequestIDLen]byte

// NewRequestID mints a fresh RequestID.
func NewRequestID() RequestID {
	var id RequestID
	u := uuid.New()
	copy(id[:], u[:])

	return id
}

func (id RequestID) String() string { return hex.EncodeToString(id[:16]) }

// Pending is the resume state persisted for one suspended operation.
type Pending struct {
	RequestID RequestID       `json:"request_id"`
	OpHash    address.Hash    `json:"op_hash"`
	Caller    address.Address `json:"caller"`
	URI       string          `json:"uri"`
	Method    string          `json:"method"`
	// IssuedLevel is the rollup level the request was externalized at;
	// the record is dead once the current level exceeds
	// IssuedLevel+TTLLevels.
	IssuedLevel uint32 `json:"issued_level"`
}

// Expired reports whether p is past its TTL at level.
func (p Pending) Expired(level uint32) bool {
	return level > p.IssuedLevel+TTLLevels
}

const pendingPrefix = "jstz_pending"

func pendingPath(opHash address.Hash) string {
	return storage.JoinPath(pendingPrefix, opHash.String())
}

// Register persists p so a later inbox level can resume it. Requests
// larger than MaxRequestBytes are refused outright rather than
// externalized.
func Register(ctx context.Context, s *storage.Store, p Pending) error {
	if len(p.URI)+len(p.Method) > MaxRequestBytes {
		return jstzerr.New(jstzerr.KindJsException, "oracle request exceeds %d bytes", MaxRequestBytes)
	}

	return storage.Write(ctx, s, pendingPath(p.OpHash), p)
}

// Find scans the pending set for the record matching id. The pending
// set is small (one entry per suspended operation, bounded by the TTL
// sweep), so a scan over immediate subkeys is sufficient.
func Find(ctx context.Context, s *storage.Store, id RequestID) (Pending, bool, error) {
	hashes, err := s.ListSubkeys(ctx, storage.JoinPath(pendingPrefix))
	if err != nil {
		return Pending{}, false, err
	}

	for _, h := range hashes {
		p, ok, err := storage.Read[Pending](ctx, s, storage.JoinPath(pendingPrefix, h))
		if err != nil {
			return Pending{}, false, err
		}

		if ok && p.RequestID == id {
			return p, true, nil
		}
	}

	return Pending{}, false, nil
}

// Remove deletes the pending record for opHash. Removing an absent
// record is not an error.
func Remove(ctx context.Context, s *storage.Store, opHash address.Hash) error {
	return s.Delete(ctx, pendingPath(opHash))
}

// ExpireBefore removes every pending record whose TTL has elapsed at
// level and returns the expired records so the kernel can emit failure
// receipts for them.
func ExpireBefore(ctx context.Context, s *storage.Store, level uint32) ([]Pending, error) {
	hashes, err := s.ListSubkeys(ctx, storage.JoinPath(pendingPrefix))
	if err != nil {
		return nil, err
	}

	var expired []Pending

	for _, h := range hashes {
		path := storage.JoinPath(pendingPrefix, h)

		p, ok, err := storage.Read[Pending](ctx, s, path)
		if err != nil {
			return nil, err
		}

		if !ok || !p.Expired(level) {
			continue
		}

		if err := s.Delete(ctx, path); err != nil {
			return nil, err
		}

		expired = append(expired, p)
	}

	return expired, nil
}

// Response is the payload of an oracle response inbox message: the
// off-chain node's answer to an externalized fetch.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// DecodeResponse parses the bytes following the request id in a
// tag-0x02 inbox message: [status u32][header count u32]([key][value])*
// [body], all strings length-prefixed, followed by the oracle node's
// scheme-tagged signature over everything before it.
func DecodeResponse(raw []byte) (Response, address.Signature, error) {
	r := &respReader{buf: raw}

	status := r.uint32()
	headerCount := r.uint32()

	headers := make(map[string]string, headerCount)
	for i := uint32(0); i < headerCount && r.err == nil; i++ {
		k := r.lenPrefixed()
		v := r.lenPrefixed()
		headers[string(k)] = string(v)
	}

	body := r.lenPrefixed()

	sigScheme := address.Scheme(r.byte())
	sigRaw := r.lenPrefixed()

	if r.err != nil {
		return Response{}, address.Signature{}, jstzerr.Wrap(jstzerr.KindMalformed, r.err, "decode oracle response")
	}

	if r.pos != len(raw) {
		return Response{}, address.Signature{}, jstzerr.New(jstzerr.KindMalformed, "oracle response has %d trailing bytes", len(raw)-r.pos)
	}

	return Response{Status: int(status), Headers: headers, Body: body},
		address.NewSignature(sigScheme, sigRaw), nil
}

// EncodeResponse is DecodeResponse's inverse, used by tests and by the
// off-chain node's injector.
func EncodeResponse(resp Response, sig address.Signature) []byte {
	buf := SignedBytes(resp)
	buf = append(buf, byte(sig.Scheme()))
	buf = appendLenPrefixed(buf, sig.Bytes())

	return buf
}

// SignedBytes returns the exact byte range an oracle response signature
// covers: everything up to but excluding the signature itself.
func SignedBytes(resp Response) []byte {
	var buf []byte

	buf = appendUint32(buf, uint32(resp.Status))
	buf = appendUint32(buf, uint32(len(resp.Headers)))

	for _, k := range sortedKeys(resp.Headers) {
		buf = appendLenPrefixed(buf, []byte(k))
		buf = appendLenPrefixed(buf, []byte(resp.Headers[k]))
	}

	buf = appendLenPrefixed(buf, resp.Body)

	return buf
}

// Verify checks the oracle node's signature on resp against its
// configured public key.
func Verify(resp Response, sig address.Signature, oracleKey address.PublicKey) error {
	h := address.HashBytes(SignedBytes(resp))
	return address.Verify(oracleKey, h[:], sig)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)

	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf, v []byte) []byte {
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

type respReader struct {
	buf []byte
	pos int
	err error
}

func (r *respReader) byte() byte {
	if r.err != nil || r.pos >= len(r.buf) {
		r.fail()
		return 0
	}

	b := r.buf[r.pos]
	r.pos++

	return b
}

func (r *respReader) bytes(n int) []byte {
	if r.err != nil || n < 0 || r.pos+n > len(r.buf) {
		r.fail()
		return nil
	}

	out := r.buf[r.pos : r.pos+n]
	r.pos += n

	return out
}

func (r *respReader) uint32() uint32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}

	return binary.BigEndian.Uint32(b)
}

func (r *respReader) lenPrefixed() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}

	return r.bytes(int(n))
}

func (r *respReader) fail() {
	if r.err == nil {
		r.err = jstzerr.New(jstzerr.KindMalformed, "oracle response truncated")
	}
}
