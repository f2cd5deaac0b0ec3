package host

import (
	"context"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// bucketTree is the single top-level bucket every path lives under. One
// bucket (rather than one bucket per path segment) keeps ListSubkeys a
// cursor-prefix-seek instead of a recursive bucket walk, since jstz paths
// are shallow (/jstz_account/<addr>, /jstz_kv/<sf>/<key>, ...).
var bucketTree = []byte("jstz_tree")

// Bolt is the production Host backend: a single-file embedded BoltDB
// database, bucketed the way cuemby-warren's BoltStore buckets its
// entities, except here there is exactly one bucket holding every
// slash-path key directly — the byte-tree the Host contract (spec.md §6)
// describes.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a BoltDB file at path and ensures
// the tree bucket exists.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTree)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Close closes the underlying BoltDB file.
func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) Read(_ context.Context, path string) ([]byte, bool, error) {
	var (
		out   []byte
		found bool
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTree).Get([]byte(path))
		if v == nil {
			return nil
		}

		found = true
		out = make([]byte, len(v))
		copy(out, v)

		return nil
	})

	return out, found, err
}

func (b *Bolt) Write(_ context.Context, path string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTree).Put([]byte(path), value)
	})
}

func (b *Bolt) Delete(_ context.Context, path string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTree).Delete([]byte(path))
	})
}

func (b *Bolt) Has(_ context.Context, path string) (bool, error) {
	found := false

	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketTree).Get([]byte(path)) != nil
		return nil
	})

	return found, err
}

func (b *Bolt) ListSubkeys(_ context.Context, path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]struct{})

	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTree).Cursor()

		pb := []byte(prefix)
		for k, _ := c.Seek(pb); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			rest := string(k)[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}

			if rest != "" {
				seen[rest] = struct{}{}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}

	sort.Strings(out)

	return out, nil
}

// ApplyBatch applies writes and deletes within a single BoltDB
// transaction, giving the transaction manager's top-level commit the
// all-or-nothing durability spec.md §4.2 requires.
func (b *Bolt) ApplyBatch(_ context.Context, writes map[string][]byte, deletes map[string]struct{}) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketTree)

		for k := range deletes {
			if err := bk.Delete([]byte(k)); err != nil {
				return err
			}
		}

		for k, v := range writes {
			if err := bk.Put([]byte(k), v); err != nil {
				return err
			}
		}

		return nil
	})
}
