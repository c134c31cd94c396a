/*
Package kv implements the ordered key-value substrate the rest of the DWN
storage core is built on: an async-friendly, ordered key→bytes store with
open/close, get/put/delete, prefix iteration, atomic batches, cheap
sub-partitioning ("sublevels"), and cooperative cancellation via
context.Context.

A single Store is backed by one bbolt.DB holding one root bucket. Every
key actually written to bbolt is prefixed by the owning partition's path,
so a partition ("sublevel") is nothing more than a key prefix plus a
shared *bbolt.DB handle — cheap to create, and range scans over a
partition are a contiguous bbolt cursor range, which is exactly the
ordering guarantee IndexLevel needs.

# Key layout

Partition("a").Partition("b") prefixes every key with "a\x00b\x00". The
separator is the single byte 0x00; Partition rejects it inside partition
names. Keys passed to Put/Get/Delete/Batch are not checked and may
contain it (pkg/indexlevel's secondary keys do), so a key written
through a parent can land inside a child partition's key range.
*/
package kv

import (
	"bytes"
	"context"

	"go.etcd.io/bbolt"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/metrics"
)

const sep = byte(0)

var rootBucket = []byte("kv")

// Op is one write in a Batch: either a Put (Value != nil) or a Delete
// (Value == nil).
type Op struct {
	Key   []byte
	Value []byte
}

// PutOp builds an Op that writes key/value.
func PutOp(key, value []byte) Op { return Op{Key: key, Value: value} }

// DeleteOp builds an Op that deletes key.
func DeleteOp(key []byte) Op { return Op{Key: key, Value: nil} }

// RangeOptions bounds an iteration. GTE and LTE are inclusive bounds over
// the partition-local (unprefixed) key space; a nil bound is unbounded on
// that side. Limit <= 0 means unlimited.
type RangeOptions struct {
	GTE     []byte
	LTE     []byte
	Reverse bool
	Limit   int
}

// Entry is one (key, value) pair yielded by an iteration, with the
// partition-local key (prefix already stripped).
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is a handle onto one partition of the KV substrate. The zero
// value is not usable; construct one with Open.
type Store struct {
	db     *bbolt.DB
	owned  bool // true if this Store opened db and must close it
	prefix []byte
}

// Open initializes the KV substrate backed by the bbolt file at path.
// Every call opens a new handle; Open does not detect a path that is
// already open, and bbolt's exclusive file lock makes a second Open of
// the same path wait until the first handle is closed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, dwnerr.Wrap("kv.Open", dwnerr.Cancelled, err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, dwnerr.Wrap("kv.Open", dwnerr.IO, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, dwnerr.Wrap("kv.Open", dwnerr.IO, err)
	}
	return &Store{db: db, owned: true}, nil
}

// Close releases the underlying bbolt handle. Closing a Store obtained
// from Partition is a no-op: only the Store returned by Open owns the
// handle. Closing twice is a no-op.
func (s *Store) Close() error {
	if !s.owned || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return dwnerr.Wrap("kv.Close", dwnerr.IO, err)
	}
	return nil
}

// Partition returns a sublevel of s whose keys are automatically prefixed
// by name + 0x00 in the parent. Nested partitioning is allowed and cheap:
// no bbolt call is made until the first read/write.
func (s *Store) Partition(name string) (*Store, error) {
	if len(name) == 0 {
		return nil, dwnerr.New("kv.Partition", dwnerr.BadIndexValue)
	}
	if bytes.IndexByte([]byte(name), sep) >= 0 {
		return nil, dwnerr.New("kv.Partition", dwnerr.BadIndexValue)
	}
	child := make([]byte, 0, len(s.prefix)+len(name)+1)
	child = append(child, s.prefix...)
	child = append(child, name...)
	child = append(child, sep)
	return &Store{db: s.db, owned: false, prefix: child}, nil
}

func (s *Store) fullKey(key []byte) []byte {
	full := make([]byte, 0, len(s.prefix)+len(key))
	full = append(full, s.prefix...)
	full = append(full, key...)
	return full
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Get returns the value stored at key, or (nil, false) if absent. The
// returned slice is a copy; it remains valid after Get returns.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, dwnerr.New("kv.Get", dwnerr.NotOpen)
	}
	if err := checkCtx(ctx); err != nil {
		return nil, false, dwnerr.Wrap("kv.Get", dwnerr.Cancelled, err)
	}
	var out []byte
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		v := b.Get(s.fullKey(key))
		if v == nil {
			return nil
		}
		found = true
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, dwnerr.Wrap("kv.Get", dwnerr.IO, err)
	}
	return out, found, nil
}

// Put writes key=value, overwriting any existing value (last-writer-wins).
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	return s.Batch(ctx, []Op{PutOp(key, value)})
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.Batch(ctx, []Op{DeleteOp(key)})
}

// Batch applies ops atomically: either every op becomes visible or none
// does. A cancelled context aborts before any state changes; cancellation
// observed mid-batch rolls the transaction back, so none of ops is applied.
func (s *Store) Batch(ctx context.Context, ops []Op) error {
	if s.db == nil {
		return dwnerr.New("kv.Batch", dwnerr.NotOpen)
	}
	if err := checkCtx(ctx); err != nil {
		return dwnerr.Wrap("kv.Batch", dwnerr.Cancelled, err)
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.KVBatchDuration)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		for _, op := range ops {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			full := s.fullKey(op.Key)
			if op.Value == nil {
				if err := b.Delete(full); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(full, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return dwnerr.Wrap("kv.Batch", dwnerr.Cancelled, err)
		}
		return dwnerr.Wrap("kv.Batch", dwnerr.IO, err)
	}
	return nil
}

// Iterate calls visit for every entry in [opts.GTE, opts.LTE] within this
// partition, in ascending key order unless opts.Reverse is set. Iteration
// stops early, without error, once opts.Limit entries have been visited
// (Limit <= 0 means unlimited). visit returning an error stops iteration
// and that error is returned from Iterate.
func (s *Store) Iterate(ctx context.Context, opts RangeOptions, visit func(Entry) error) error {
	if s.db == nil {
		return dwnerr.New("kv.Iterate", dwnerr.NotOpen)
	}
	if err := checkCtx(ctx); err != nil {
		return dwnerr.Wrap("kv.Iterate", dwnerr.Cancelled, err)
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		c := b.Cursor()

		lo := s.fullKey(opts.GTE)
		var hi []byte
		if opts.LTE != nil {
			hi = s.fullKey(opts.LTE)
		}
		// The partition ceiling bounds every scan regardless of caller
		// bounds, so a partition never leaks into its sibling's keys.
		ceiling := partitionCeiling(s.prefix)

		count := 0
		step := func(k, v []byte) ([]byte, []byte) {
			if opts.Reverse {
				return c.Prev()
			}
			return c.Next()
		}

		var k, v []byte
		if opts.Reverse {
			if hi != nil {
				k, v = c.Seek(hi)
				if k == nil || bytes.Compare(k, hi) > 0 {
					k, v = c.Prev()
				}
			} else if ceiling != nil {
				k, v = c.Seek(ceiling)
				k, v = c.Prev()
			} else {
				k, v = c.Last()
			}
		} else {
			k, v = c.Seek(lo)
		}

		for k != nil {
			if err := checkCtx(ctx); err != nil {
				return err
			}
			if !bytes.HasPrefix(k, s.prefix) {
				break
			}
			if !opts.Reverse && hi != nil && bytes.Compare(k, hi) > 0 {
				break
			}
			if opts.Reverse && bytes.Compare(k, lo) < 0 {
				break
			}
			if ceiling != nil && !opts.Reverse && bytes.Compare(k, ceiling) >= 0 {
				break
			}
			entry := Entry{Key: append([]byte(nil), k[len(s.prefix):]...), Value: append([]byte(nil), v...)}
			if err := visit(entry); err != nil {
				return err
			}
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				break
			}
			k, v = step(k, v)
		}
		return nil
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return dwnerr.Wrap("kv.Iterate", dwnerr.Cancelled, err)
		}
		return dwnerr.Wrap("kv.Iterate", dwnerr.IO, err)
	}
	return nil
}

// partitionCeiling returns the smallest key strictly greater than every
// key with the given prefix, or nil if prefix is empty (root partition
// has no sibling to avoid).
func partitionCeiling(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	ceiling := append([]byte(nil), prefix...)
	for i := len(ceiling) - 1; i >= 0; i-- {
		if ceiling[i] < 0xff {
			ceiling[i]++
			return ceiling[:i+1]
		}
	}
	return nil // prefix was all 0xff, unbounded above
}

// Clear deletes every key in this partition (and its descendants).
func (s *Store) Clear(ctx context.Context) error {
	if s.db == nil {
		return dwnerr.New("kv.Clear", dwnerr.NotOpen)
	}
	if err := checkCtx(ctx); err != nil {
		return dwnerr.Wrap("kv.Clear", dwnerr.Cancelled, err)
	}
	var toDelete [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		c := b.Cursor()
		for k, _ := c.Seek(s.prefix); k != nil && bytes.HasPrefix(k, s.prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return dwnerr.Wrap("kv.Clear", dwnerr.IO, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dwnerr.Wrap("kv.Clear", dwnerr.IO, err)
	}
	return nil
}
