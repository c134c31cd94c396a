package messagestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/events"
	"github.com/dwn-core/dwn/pkg/indexlevel"
	"github.com/dwn-core/dwn/pkg/kv"
	"github.com/dwn-core/dwn/pkg/message"
	"github.com/dwn-core/dwn/pkg/query"
)

func openTestStore(t *testing.T, bus *events.Bus) *Store {
	t.Helper()
	store, err := kv.Open(context.Background(), filepath.Join(t.TempDir(), "messagestore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return Open(store, bus)
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

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	msg := testMessage("r1", "2023-01-01T00:00:00Z")
	id, err := s.Put(ctx, "tenant1", msg, indexlevel.Indexes{
		"schema":           indexlevel.StringValue("https://example.com/schema"),
		"messageTimestamp": indexlevel.StringValue("2023-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	got, found, err := s.Get(ctx, "tenant1", id.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r1", got["recordId"])
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t, nil)
	_, found, err := s.Get(context.Background(), "tenant1", "bafybogus")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutIsContentAddressedAndDeterministic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	msg := testMessage("r1", "2023-01-01T00:00:00Z")

	id1, err := s.Put(ctx, "tenant1", msg, indexlevel.Indexes{"messageTimestamp": indexlevel.StringValue("2023-01-01T00:00:00Z")})
	require.NoError(t, err)
	id2, err := s.Put(ctx, "tenant1", msg.Clone(), indexlevel.Indexes{"messageTimestamp": indexlevel.StringValue("2023-01-01T00:00:00Z")})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestPutRepublishRewritesSecondaryKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	msg := testMessage("r1", "2023-01-01T00:00:00Z")

	id, err := s.Put(ctx, "tenant1", msg, indexlevel.Indexes{
		"schema":           indexlevel.StringValue("old"),
		"messageTimestamp": indexlevel.StringValue("2023-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	_, err = s.Put(ctx, "tenant1", msg, indexlevel.Indexes{
		"schema":           indexlevel.StringValue("new"),
		"messageTimestamp": indexlevel.StringValue("2023-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	res, err := s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("old"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	res, err = s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("new"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	_ = id
}

func TestDeleteRemovesMessageAndIndexes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	msg := testMessage("r1", "2023-01-01T00:00:00Z")
	id, err := s.Put(ctx, "tenant1", msg, indexlevel.Indexes{
		"schema":           indexlevel.StringValue("a"),
		"messageTimestamp": indexlevel.StringValue("2023-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "tenant1", id.String()))

	_, found, err := s.Get(ctx, "tenant1", id.String())
	require.NoError(t, err)
	assert.False(t, found)

	res, err := s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := openTestStore(t, nil)
	err := s.Delete(context.Background(), "tenant1", "bafybogus")
	assert.NoError(t, err)
}

func TestQueryDefaultsToMessageTimestampSort(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	for i := 0; i < 5; i++ {
		ts := fmt.Sprintf("2023-01-%02dT00:00:00Z", i+1)
		_, err := s.Put(ctx, "tenant1", testMessage(fmt.Sprintf("r%d", i), ts), indexlevel.Indexes{
			"schema":           indexlevel.StringValue("a"),
			"messageTimestamp": indexlevel.StringValue(ts),
		})
		require.NoError(t, err)
	}

	res, err := s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 5)
	assert.Equal(t, "r0", res.Messages[0]["recordId"])
	assert.Equal(t, "r4", res.Messages[4]["recordId"])
}

func TestQueryPaginationCursor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	for i := 0; i < 12; i++ {
		ts := fmt.Sprintf("2023-01-%02dT00:00:00Z", i+1)
		_, err := s.Put(ctx, "tenant1", testMessage(fmt.Sprintf("r%d", i), ts), indexlevel.Indexes{
			"schema":           indexlevel.StringValue("a"),
			"messageTimestamp": indexlevel.StringValue(ts),
		})
		require.NoError(t, err)
	}

	limit := 5
	res, err := s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, query.Sort{}, &limit, "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 5)
	require.NotNil(t, res.PaginationMessageCid)

	// Resuming from the exact messageCid Query handed back must continue
	// where the first page left off, not restart from the beginning.
	res2, err := s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, query.Sort{}, &limit, *res.PaginationMessageCid)
	require.NoError(t, err)
	require.Len(t, res2.Messages, 5)
	assert.Equal(t, "r5", res2.Messages[0]["recordId"])
	assert.Equal(t, "r9", res2.Messages[4]["recordId"])

	for _, first := range res.Messages {
		for _, second := range res2.Messages {
			assert.NotEqual(t, first["recordId"], second["recordId"])
		}
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	_, err := s.Put(ctx, "tenantA", testMessage("r1", "t"), indexlevel.Indexes{"schema": indexlevel.StringValue("a"), "messageTimestamp": indexlevel.StringValue("t")})
	require.NoError(t, err)

	res, err := s.Query(ctx, "tenantB", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, query.Sort{}, nil, "")
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestPutPublishesToSubscribedEventBus(t *testing.T) {
	ctx := context.Background()
	bus := events.New(nil)
	s := openTestStore(t, bus)

	var received []events.Event
	sub := bus.Subscribe("tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, func(e events.Event) {
		received = append(received, e)
	})
	defer sub.Close()

	_, err := s.Put(ctx, "tenant1", testMessage("r1", "t"), indexlevel.Indexes{
		"schema":           indexlevel.StringValue("a"),
		"messageTimestamp": indexlevel.StringValue("t"),
	})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "tenant1", received[0].Tenant)
}

func TestPutSucceedsEvenIfSubscriberPanics(t *testing.T) {
	ctx := context.Background()
	var recovered any
	bus := events.New(func(r any) { recovered = r })
	s := openTestStore(t, bus)

	sub := bus.Subscribe("tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, func(e events.Event) {
		panic("subscriber exploded")
	})
	defer sub.Close()

	_, err := s.Put(ctx, "tenant1", testMessage("r1", "t"), indexlevel.Indexes{
		"schema":           indexlevel.StringValue("a"),
		"messageTimestamp": indexlevel.StringValue("t"),
	})
	require.NoError(t, err)
	assert.Equal(t, "subscriber exploded", recovered)
}

func TestQueryCorruptedIndexWithoutMessageIsReportedNotCrashed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	level, err := s.indexLevel("tenant1")
	require.NoError(t, err)
	require.NoError(t, level.Put(ctx, "ghost-cid", indexlevel.Indexes{
		"schema":           indexlevel.StringValue("a"),
		"messageTimestamp": indexlevel.StringValue("t"),
	}))

	_, err = s.Query(ctx, "tenant1", query.Filters{{"schema": query.Equal(indexlevel.StringValue("a"))}}, query.Sort{}, nil, "")
	require.Error(t, err)
	assert.True(t, dwnerr.OfKind(err, dwnerr.Corrupted))
}
