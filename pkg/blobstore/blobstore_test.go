package blobstore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwn-core/dwn/pkg/contentaddr"
	"github.com/dwn-core/dwn/pkg/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	backing, err := kv.Open(context.Background(), filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })
	return Open(backing)
}

func cidOf(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	c, err := contentaddr.DataCid(data)
	require.NoError(t, err)
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := []byte("hello, decentralized world")
	c := cidOf(t, data)

	size, err := s.Put(ctx, "tenant1", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	res, found, err := s.Get(ctx, "tenant1", "record1", c)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(len(data)), res.DataSize)

	got, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := cidOf(t, []byte("nope"))

	_, found, err := s.Get(ctx, "tenant1", "record1", c)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := []byte("repeat me")
	c := cidOf(t, data)

	size1, err := s.Put(ctx, "tenant1", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	size2, err := s.Put(ctx, "tenant1", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, size1, size2)
}

func TestChunkedLargeBlob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := bytes.Repeat([]byte{0xAB}, 3*ChunkSize+17)
	c := cidOf(t, data)

	size, err := s.Put(ctx, "tenant1", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	res, found, err := s.Get(ctx, "tenant1", "record1", c)
	require.NoError(t, err)
	require.True(t, found)

	got, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDeleteClearsBlobAndEmptyRecordPartition(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := []byte("payload")
	c := cidOf(t, data)

	_, err := s.Put(ctx, "tenant1", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "tenant1", "record1", c))

	_, found, err := s.Get(ctx, "tenant1", "record1", c)
	require.NoError(t, err)
	assert.False(t, found)

	record, err := s.recordPartition("tenant1", "record1")
	require.NoError(t, err)
	var leftover int
	require.NoError(t, record.Iterate(ctx, kv.RangeOptions{}, func(kv.Entry) error {
		leftover++
		return nil
	}))
	assert.Equal(t, 0, leftover)
}

func TestDeleteDoesNotAffectOtherRecordWithSameBytes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := []byte("shared bytes")
	c := cidOf(t, data)

	_, err := s.Put(ctx, "tenantA", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	_, err = s.Put(ctx, "tenantA", "record2", c, bytes.NewReader(data))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "tenantA", "record1", c))

	_, found, err := s.Get(ctx, "tenantA", "record1", c)
	require.NoError(t, err)
	assert.False(t, found)

	res, found, err := s.Get(ctx, "tenantA", "record2", c)
	require.NoError(t, err)
	require.True(t, found)
	got, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDeleteThenDeleteAgainIsNoop(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := []byte("x")
	c := cidOf(t, data)

	_, err := s.Put(ctx, "t", "r", c, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "t", "r", c))
	require.NoError(t, s.Delete(ctx, "t", "r", c))
}

func TestRecordPartitionKeepsOtherDataCidAlive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	dataA := []byte("alpha")
	dataB := []byte("beta")
	cA := cidOf(t, dataA)
	cB := cidOf(t, dataB)

	_, err := s.Put(ctx, "t", "r", cA, bytes.NewReader(dataA))
	require.NoError(t, err)
	_, err = s.Put(ctx, "t", "r", cB, bytes.NewReader(dataB))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "t", "r", cA))

	_, found, err := s.Get(ctx, "t", "r", cB)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestClearTenantLeavesOtherTenantsIntact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	dataA := []byte("tenantA blob")
	dataB := []byte("tenantB blob")
	cA := cidOf(t, dataA)
	cB := cidOf(t, dataB)

	_, err := s.Put(ctx, "tenantA", "record1", cA, bytes.NewReader(dataA))
	require.NoError(t, err)
	_, err = s.Put(ctx, "tenantB", "record1", cB, bytes.NewReader(dataB))
	require.NoError(t, err)

	require.NoError(t, s.ClearTenant(ctx, "tenantA"))

	_, found, err := s.Get(ctx, "tenantA", "record1", cA)
	require.NoError(t, err)
	assert.False(t, found)

	res, found, err := s.Get(ctx, "tenantB", "record1", cB)
	require.NoError(t, err)
	require.True(t, found)
	got, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, dataB, got)
}

func TestClearWipesEveryTenant(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := []byte("x")
	c := cidOf(t, data)

	_, err := s.Put(ctx, "tenantA", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)
	_, err = s.Put(ctx, "tenantB", "record1", c, bytes.NewReader(data))
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	_, found, err := s.Get(ctx, "tenantA", "record1", c)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = s.Get(ctx, "tenantB", "record1", c)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStreamIsRestartableFromBeginning(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	data := bytes.Repeat([]byte{0x42}, ChunkSize+5)
	c := cidOf(t, data)

	_, err := s.Put(ctx, "t", "r", c, bytes.NewReader(data))
	require.NoError(t, err)

	res1, _, err := s.Get(ctx, "t", "r", c)
	require.NoError(t, err)
	got1, err := io.ReadAll(res1.Stream)
	require.NoError(t, err)

	res2, _, err := s.Get(ctx, "t", "r", c)
	require.NoError(t, err)
	got2, err := io.ReadAll(res2.Stream)
	require.NoError(t, err)

	assert.Equal(t, got1, got2)
}
