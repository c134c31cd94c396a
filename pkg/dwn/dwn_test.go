package dwn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwn-core/dwn/pkg/config"
	"github.com/dwn-core/dwn/pkg/contentaddr"
	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/events"
	"github.com/dwn-core/dwn/pkg/indexlevel"
	"github.com/dwn-core/dwn/pkg/message"
	"github.com/dwn-core/dwn/pkg/query"
)

func openTestNode(t *testing.T) *Node {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.BlobstoreRoot = filepath.Join(dir, "blobs")
	cfg.IndexstoreRoot = filepath.Join(dir, "messages")
	require.NoError(t, os.MkdirAll(cfg.BlobstoreRoot, 0755))
	require.NoError(t, os.MkdirAll(cfg.IndexstoreRoot, 0755))

	node, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func testMessage(recordID, timestamp string) message.Message {
	return message.Message{
		"descriptor": map[string]any{
			"interface":        "Records",
			"method":           "Write",
			"messageTimestamp": timestamp,
		},
		"recordId": recordID,
	}
}

// TestEndToEndPutGetQueryDelete models the concrete single-tenant
// write/read/query/delete scenario.
func TestEndToEndPutGetQueryDelete(t *testing.T) {
	ctx := context.Background()
	node := openTestNode(t)

	msg := testMessage("r1", "2024-01-01T00:00:00Z")
	id, err := node.Put(ctx, "tenant1", msg, indexlevel.Indexes{
		"schema":           indexlevel.StringValue("https://example.com/schema"),
		"messageTimestamp": indexlevel.StringValue("2024-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	got, found, err := node.Get(ctx, "tenant1", id.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r1", got["recordId"])

	res, err := node.Query(ctx, "tenant1",
		query.Filters{{"schema": query.Equal(indexlevel.StringValue("https://example.com/schema"))}},
		query.Sort{}, nil, "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	require.NoError(t, node.Delete(ctx, "tenant1", id.String()))
	_, found, err = node.Get(ctx, "tenant1", id.String())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBlobPutGetDelete(t *testing.T) {
	ctx := context.Background()
	node := openTestNode(t)

	data := []byte("blob contents")
	dataCid, err := contentaddr.DataCid(data)
	require.NoError(t, err)

	n, err := node.PutBlob(ctx, "tenant1", "record1", dataCid, data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	res, found, err := node.GetBlob(ctx, "tenant1", "record1", dataCid)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(len(data)), res.DataSize)

	require.NoError(t, node.DeleteBlob(ctx, "tenant1", "record1", dataCid))
	_, found, err = node.GetBlob(ctx, "tenant1", "record1", dataCid)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryDefaultLimitAppliedWhenPageLimitOmitted(t *testing.T) {
	ctx := context.Background()
	node := openTestNode(t)
	node.cfg.QueryDefaultLimit = 2

	for i := 0; i < 5; i++ {
		ts := fmt.Sprintf("2024-01-%02dT00:00:00Z", i+1)
		_, err := node.Put(ctx, "tenant1", testMessage(fmt.Sprintf("r%d", i), ts), indexlevel.Indexes{
			"schema":           indexlevel.StringValue("s"),
			"messageTimestamp": indexlevel.StringValue(ts),
		})
		require.NoError(t, err)
	}

	res, err := node.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("s"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2)
	require.NotNil(t, res.PaginationMessageCid)
}

// TestQueryPaginationRoundTripsThroughPaginationMessageCid verifies
// pagination is actually resumable through the only handle Node.Query
// ever hands back: PaginationMessageCid. A caller with nothing but that
// string must still land on the next page, not restart from the top.
func TestQueryPaginationRoundTripsThroughPaginationMessageCid(t *testing.T) {
	ctx := context.Background()
	node := openTestNode(t)

	for i := 0; i < 6; i++ {
		ts := fmt.Sprintf("2024-01-%02dT00:00:00Z", i+1)
		_, err := node.Put(ctx, "tenant1", testMessage(fmt.Sprintf("r%d", i), ts), indexlevel.Indexes{
			"schema":           indexlevel.StringValue("s"),
			"messageTimestamp": indexlevel.StringValue(ts),
		})
		require.NoError(t, err)
	}

	limit := 4
	page1, err := node.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("s"))}}, query.Sort{}, &limit, "")
	require.NoError(t, err)
	require.Len(t, page1.Messages, 4)
	require.NotNil(t, page1.PaginationMessageCid)

	page2, err := node.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("s"))}}, query.Sort{}, &limit, *page1.PaginationMessageCid)
	require.NoError(t, err)
	require.Len(t, page2.Messages, 2)
	assert.Equal(t, "r4", page2.Messages[0]["recordId"])
	assert.Equal(t, "r5", page2.Messages[1]["recordId"])
}

func TestClearWipesTenant(t *testing.T) {
	ctx := context.Background()
	node := openTestNode(t)

	_, err := node.Put(ctx, "tenant1", testMessage("r1", "t"), indexlevel.Indexes{
		"schema": indexlevel.StringValue("s"), "messageTimestamp": indexlevel.StringValue("t"),
	})
	require.NoError(t, err)

	data := []byte("tenant1 blob")
	dataCid, err := contentaddr.DataCid(data)
	require.NoError(t, err)
	_, err = node.PutBlob(ctx, "tenant1", "record1", dataCid, data)
	require.NoError(t, err)

	other := []byte("tenant2 blob")
	otherCid, err := contentaddr.DataCid(other)
	require.NoError(t, err)
	_, err = node.PutBlob(ctx, "tenant2", "record1", otherCid, other)
	require.NoError(t, err)

	require.NoError(t, node.Clear(ctx, "tenant1"))

	res, err := node.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("s"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	_, found, err := node.GetBlob(ctx, "tenant1", "record1", dataCid)
	require.NoError(t, err)
	assert.False(t, found)

	// Clearing tenant1 must not touch tenant2's blobs.
	res2, found, err := node.GetBlob(ctx, "tenant2", "record1", otherCid)
	require.NoError(t, err)
	require.True(t, found)
	defer res2.Stream.Close()
}

func TestEventSubscriberSeesSuccessfulPut(t *testing.T) {
	ctx := context.Background()
	node := openTestNode(t)

	var received []events.Event
	sub := node.Events.Subscribe("tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("s"))}}, func(e events.Event) {
		received = append(received, e)
	})
	defer sub.Close()

	_, err := node.Put(ctx, "tenant1", testMessage("r1", "t"), indexlevel.Indexes{
		"schema": indexlevel.StringValue("s"), "messageTimestamp": indexlevel.StringValue("t"),
	})
	require.NoError(t, err)
	require.Len(t, received, 1)
}

func TestGetMissingMessageReturnsNotFound(t *testing.T) {
	node := openTestNode(t)
	_, found, err := node.Get(context.Background(), "tenant1", "bafybogus")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteMissingMessageIsIdempotent(t *testing.T) {
	node := openTestNode(t)
	err := node.Delete(context.Background(), "tenant1", "bafybogus")
	assert.NoError(t, err)
}

func TestCancelledContextFailsPut(t *testing.T) {
	node := openTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := node.Put(ctx, "tenant1", testMessage("r1", "t"), indexlevel.Indexes{})
	require.Error(t, err)
	assert.True(t, dwnerr.OfKind(err, dwnerr.Cancelled))
}
