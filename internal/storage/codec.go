package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// schemaVersion is bumped whenever the on-disk encoding of a stored type
// changes in a way that is not forward compatible. Decoding a value
// written with a different version is a hard error (StorageCodec),
// exactly as spec.md §4.1 requires.
const schemaVersion byte = 1

// encode wraps value's JSON representation with a one-byte schema tag and
// a length prefix, giving Storage.Read a cheap way to detect a version
// mismatch before attempting to unmarshal.
func encode(value any) ([]byte, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, jstzerr.Wrap(jstzerr.KindStorageCodec, err, "encode")
	}

	buf := make([]byte, 1+4+len(body))
	buf[0] = schemaVersion
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(body)))
	copy(buf[5:], body)

	return buf, nil
}

// decode is the inverse of encode. It fails with KindStorageCodec if the
// schema tag doesn't match, the length prefix is inconsistent, or the
// JSON body doesn't unmarshal into dst.
func decode(raw []byte, dst any) error {
	if len(raw) < 5 {
		return jstzerr.New(jstzerr.KindStorageCodec, "truncated value: %d bytes", len(raw))
	}

	if raw[0] != schemaVersion {
		return jstzerr.New(jstzerr.KindStorageCodec, "schema version mismatch: got %d want %d", raw[0], schemaVersion)
	}

	n := binary.BigEndian.Uint32(raw[1:5])
	body := raw[5:]

	if uint32(len(body)) != n {
		return jstzerr.New(jstzerr.KindStorageCodec, "length prefix mismatch: got %d want %d", len(body), n)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return jstzerr.Wrap(jstzerr.KindStorageCodec, err, "decode")
	}

	return nil
}
