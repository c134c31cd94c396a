/*
Package blobstore implements a content-addressed byte-stream store:
blobs are partitioned by (tenant, recordId, dataCid) rather than by
dataCid alone, so two records in the same tenant that happen to hold
identical bytes stay independent on delete. Each triple stores its own
copy of the bytes; no reference count is kept.

Blobs are chunked at a fixed 1 MiB boundary. Chunk i of a blob lives at
key "chunk\x00<8-byte-BE i>" inside the blob's own kv partition; a
sibling "size" key records the total byte length so Get can report
dataSize without reading the whole blob, and Put can detect an existing
blob without re-streaming it.
*/
package blobstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/ipfs/go-cid"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/kv"
	"github.com/dwn-core/dwn/pkg/metrics"
)

// ChunkSize is the fixed chunk boundary blobs are split at on write.
const ChunkSize = 1 << 20 // 1 MiB

const sizeKey = "size"
const chunkPartition = "chunk"

// Store is a content-addressed blob store backed by its own kv.Store
// handle, independent of MessageStore's, so the two can be backed up
// and restored on separate schedules.
type Store struct {
	kv *kv.Store
}

// Open wraps a kv.Store as a blob store. The caller owns the kv.Store's
// lifecycle (Close).
func Open(store *kv.Store) *Store {
	return &Store{kv: store}
}

func (s *Store) blobPartition(tenant, recordID string, dataCID cid.Cid) (*kv.Store, error) {
	t, err := s.kv.Partition(tenant)
	if err != nil {
		return nil, err
	}
	r, err := t.Partition(recordID)
	if err != nil {
		return nil, err
	}
	return r.Partition(dataCID.String())
}

func (s *Store) recordPartition(tenant, recordID string) (*kv.Store, error) {
	t, err := s.kv.Partition(tenant)
	if err != nil {
		return nil, err
	}
	return t.Partition(recordID)
}

// Put streams r into the blob partition for (tenant, recordId, dataCid)
// and returns the total number of bytes consumed. The caller is expected
// to have derived dataCid from the same bytes; Put does not re-verify.
// If the blob already exists under this (tenant, recordId, dataCid), Put
// returns its previously recorded size without reading r again.
//
// If r errors mid-read, the partially written blob partition is cleared
// before the error is returned to the caller.
func (s *Store) Put(ctx context.Context, tenant, recordID string, dataCID cid.Cid, r io.Reader) (int64, error) {
	blob, err := s.blobPartition(tenant, recordID, dataCID)
	if err != nil {
		return 0, err
	}

	if existing, found, err := s.existingSize(ctx, blob); err != nil {
		return 0, err
	} else if found {
		return existing, nil
	}

	var total int64
	buf := make([]byte, ChunkSize)
	chunkIdx := uint64(0)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := blob.Put(ctx, chunkKey(chunkIdx), append([]byte(nil), buf[:n]...)); err != nil {
				_ = blob.Clear(ctx)
				return 0, err
			}
			total += int64(n)
			chunkIdx++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			_ = blob.Clear(ctx)
			return 0, dwnerr.Wrap("blobstore.Put", dwnerr.IO, readErr)
		}
	}

	sizeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBytes, uint64(total))
	if err := blob.Put(ctx, []byte(sizeKey), sizeBytes); err != nil {
		_ = blob.Clear(ctx)
		return 0, err
	}
	return total, nil
}

func (s *Store) existingSize(ctx context.Context, blob *kv.Store) (int64, bool, error) {
	raw, found, err := blob.Get(ctx, []byte(sizeKey))
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

// Result is what Get returns: the total size and a restartable-from-the-
// beginning reader over the blob's chunks.
type Result struct {
	DataSize int64
	Stream   io.ReadCloser
}

// Get returns the blob stored under (tenant, recordId, dataCid), or
// (nil, false, nil) if absent. The returned stream reads chunks in
// order as they were written; it is restartable from the beginning but
// not mid-stream.
func (s *Store) Get(ctx context.Context, tenant, recordID string, dataCID cid.Cid) (*Result, bool, error) {
	blob, err := s.blobPartition(tenant, recordID, dataCID)
	if err != nil {
		return nil, false, err
	}
	size, found, err := s.existingSize(ctx, blob)
	if err != nil || !found {
		return nil, found, err
	}
	return &Result{
		DataSize: size,
		Stream:   newChunkReader(ctx, blob, size),
	}, true, nil
}

// Delete removes the blob at (tenant, recordId, dataCid). If the
// enclosing recordId partition becomes empty as a result, it is cleared
// too so no empty partition lingers.
func (s *Store) Delete(ctx context.Context, tenant, recordID string, dataCID cid.Cid) error {
	blob, err := s.blobPartition(tenant, recordID, dataCID)
	if err != nil {
		return err
	}
	if err := blob.Clear(ctx); err != nil {
		return err
	}

	record, err := s.recordPartition(tenant, recordID)
	if err != nil {
		return err
	}
	empty := true
	err = record.Iterate(ctx, kv.RangeOptions{Limit: 1}, func(kv.Entry) error {
		empty = false
		return nil
	})
	if err != nil {
		return err
	}
	if empty {
		return record.Clear(ctx)
	}
	return nil
}

// Clear wipes every blob in the store, across every tenant.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Clear(ctx)
}

// ClearTenant wipes every blob belonging to tenant, leaving other
// tenants' blobs untouched.
func (s *Store) ClearTenant(ctx context.Context, tenant string) error {
	t, err := s.kv.Partition(tenant)
	if err != nil {
		return err
	}
	return t.Clear(ctx)
}

func chunkKey(idx uint64) []byte {
	key := make([]byte, len(chunkPartition)+1+8)
	n := copy(key, chunkPartition)
	key[n] = 0
	binary.BigEndian.PutUint64(key[n+1:], idx)
	return key
}

// chunkReader lazily reads chunks back in order, buffering one chunk at
// a time so Get never materializes the whole blob in memory.
type chunkReader struct {
	ctx     context.Context
	blob    *kv.Store
	size    int64
	read    int64
	nextIdx uint64
	buf     *bytes.Reader
}

func newChunkReader(ctx context.Context, blob *kv.Store, size int64) *chunkReader {
	return &chunkReader{ctx: ctx, blob: blob, size: size}
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.read >= c.size {
		return 0, io.EOF
	}
	if c.buf == nil || c.buf.Len() == 0 {
		raw, found, err := c.blob.Get(c.ctx, chunkKey(c.nextIdx))
		if err != nil {
			return 0, dwnerr.Wrap("blobstore.Get", dwnerr.IO, err)
		}
		if !found {
			return 0, dwnerr.New("blobstore.Get", dwnerr.Corrupted)
		}
		c.buf = bytes.NewReader(raw)
		c.nextIdx++
	}
	n, err := c.buf.Read(p)
	c.read += int64(n)
	metrics.BlobBytesReadTotal.Add(float64(n))
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (c *chunkReader) Close() error { return nil }
