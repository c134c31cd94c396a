/*
Package messagestore implements the per-tenant message store: a
content-addressed message value store layered over pkg/kv, kept
atomically in sync with its pkg/indexlevel secondary index, and wired
to pkg/events for synchronous post-commit fan-out.

Message bytes live directly in the KV substrate under
"messages\x00<messageCid>" rather than behind pkg/blobstore — messages
are small, self-contained records, unlike the arbitrarily large byte
streams pkg/blobstore exists for. The two stores nonetheless share the
"one kv.Store handle per concern" shape described on blobstore.Store:
MessageStore owns its own kv.Store handle, distinct from
any BlobStore instance a caller layers alongside it.
*/
package messagestore

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"github.com/dwn-core/dwn/pkg/contentaddr"
	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/events"
	"github.com/dwn-core/dwn/pkg/indexlevel"
	"github.com/dwn-core/dwn/pkg/kv"
	"github.com/dwn-core/dwn/pkg/message"
	"github.com/dwn-core/dwn/pkg/query"
)

const messagesPartition = "messages"
const indexPartition = "idx"

// defaultSortProperty is the canonical messageTimestamp property used
// when a query does not name a sort property.
const defaultSortProperty = "messageTimestamp"

// idxKeyPrefix is indexPartition's prefix as seen from the tenant-level
// kv.Store, used to fold indexlevel.Level's partition-local ops into
// the same kv.Store.Batch call as the message-bytes write.
var idxKeyPrefix = append([]byte(indexPartition), 0)

// Store is a tenant-partitioned message store backed by its own
// kv.Store handle.
type Store struct {
	kv  *kv.Store
	bus *events.Bus
}

// Open wraps store as a message store. bus, if non-nil, receives a
// synchronous Publish after every successful Put; a nil bus means no
// event fan-out. The caller owns store's lifecycle (Close).
func Open(store *kv.Store, bus *events.Bus) *Store {
	return &Store{kv: store, bus: bus}
}

func (s *Store) tenantStore(tenant string) (*kv.Store, error) {
	return s.kv.Partition(tenant)
}

func (s *Store) messagesStore(tenant string) (*kv.Store, error) {
	t, err := s.tenantStore(tenant)
	if err != nil {
		return nil, err
	}
	return t.Partition(messagesPartition)
}

func (s *Store) indexLevel(tenant string) (*indexlevel.Level, error) {
	t, err := s.tenantStore(tenant)
	if err != nil {
		return nil, err
	}
	idx, err := t.Partition(indexPartition)
	if err != nil {
		return nil, err
	}
	return indexlevel.Open(idx), nil
}

func messageKey(messageCid string) []byte {
	key := make([]byte, 0, len(messagesPartition)+1+len(messageCid))
	key = append(key, messagesPartition...)
	key = append(key, 0)
	key = append(key, messageCid...)
	return key
}

// prefixOps rewrites ops computed relative to a child partition into
// keys relative to that partition's parent, so they can be folded into
// the parent's own Batch call and commit atomically alongside it.
func prefixOps(prefix []byte, ops []kv.Op) []kv.Op {
	out := make([]kv.Op, len(ops))
	for i, op := range ops {
		key := make([]byte, 0, len(prefix)+len(op.Key))
		key = append(key, prefix...)
		key = append(key, op.Key...)
		out[i] = kv.Op{Key: key, Value: op.Value}
	}
	return out
}

// Clear wipes every message and index entry for tenant.
func (s *Store) Clear(ctx context.Context, tenant string) error {
	t, err := s.tenantStore(tenant)
	if err != nil {
		return err
	}
	return t.Clear(ctx)
}

// Put computes message's content address, persists it alongside
// indexes atomically, and — on success — synchronously publishes the
// put to any subscribed event-bus handlers. A handler's panic never
// fails the Put (events.Bus.Publish already recovers it).
func (s *Store) Put(ctx context.Context, tenant string, msg message.Message, indexes indexlevel.Indexes) (cid.Cid, error) {
	messageCid, err := contentaddr.MessageCid(msg)
	if err != nil {
		return cid.Undef, err
	}
	canonical, err := contentaddr.CanonicalBytes(msg)
	if err != nil {
		return cid.Undef, err
	}

	tenantStore, err := s.tenantStore(tenant)
	if err != nil {
		return cid.Undef, err
	}
	level, err := s.indexLevel(tenant)
	if err != nil {
		return cid.Undef, err
	}

	idxOps, err := level.PutOps(ctx, messageCid.String(), indexes)
	if err != nil {
		return cid.Undef, err
	}

	ops := make([]kv.Op, 0, len(idxOps)+1)
	ops = append(ops, kv.PutOp(messageKey(messageCid.String()), canonical))
	ops = append(ops, prefixOps(idxKeyPrefix, idxOps)...)

	if err := tenantStore.Batch(ctx, ops); err != nil {
		return cid.Undef, err
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{Tenant: tenant, Message: msg, Indexes: indexes})
	}
	return messageCid, nil
}

// Get returns the message stored at (tenant, messageCid), or
// (nil, false, nil) if absent.
func (s *Store) Get(ctx context.Context, tenant, messageCid string) (message.Message, bool, error) {
	msgStore, err := s.messagesStore(tenant)
	if err != nil {
		return nil, false, err
	}
	raw, found, err := msgStore.Get(ctx, []byte(messageCid))
	if err != nil || !found {
		return nil, found, err
	}
	var msg message.Message
	if err := cbor.Unmarshal(raw, &msg); err != nil {
		return nil, false, dwnerr.Wrap("messagestore.Get", dwnerr.Corrupted, err)
	}
	return msg, true, nil
}

// Delete atomically removes the message bytes and index entries for
// (tenant, messageCid). Deleting an absent messageCid is a no-op.
func (s *Store) Delete(ctx context.Context, tenant, messageCid string) error {
	tenantStore, err := s.tenantStore(tenant)
	if err != nil {
		return err
	}
	level, err := s.indexLevel(tenant)
	if err != nil {
		return err
	}
	idxOps, err := level.DeleteOps(ctx, messageCid)
	if err != nil {
		return err
	}

	ops := make([]kv.Op, 0, len(idxOps)+1)
	ops = append(ops, kv.DeleteOp(messageKey(messageCid)))
	ops = append(ops, prefixOps(idxKeyPrefix, idxOps)...)
	return tenantStore.Batch(ctx, ops)
}

// Result is what Query returns: the matching messages in sort order,
// plus a continuation cursor when more results exist beyond the page.
type Result struct {
	Messages             []message.Message
	PaginationMessageCid *string
}

// Query delegates to pkg/query against tenant's index level and fetches
// message bytes for every surviving messageCid, in sort order. A
// missing message for a messageCid the index surfaced indicates
// corruption and fails the whole query rather than returning a
// partial, silently-wrong page.
//
// paginationMessageCid resumes from the page after the message it
// names — the exact value a previous call returned as
// Result.PaginationMessageCid. Callers never construct a query.Cursor
// themselves: its sortValue half can only be recovered by looking the
// messageCid back up in the index, which Query does here before
// delegating to pkg/query.
func (s *Store) Query(ctx context.Context, tenant string, filters query.Filters, srt query.Sort, limit *int, paginationMessageCid string) (Result, error) {
	if srt.Property == "" {
		srt.Property = defaultSortProperty
	}

	level, err := s.indexLevel(tenant)
	if err != nil {
		return Result{}, err
	}

	page := query.Page{Limit: limit}
	if paginationMessageCid != "" {
		cursor, cerr := s.cursorForMessageCid(ctx, level, srt.Property, paginationMessageCid)
		if cerr != nil {
			return Result{}, cerr
		}
		page.Cursor = cursor
	}

	res, err := query.Query(ctx, level, filters, srt, page)
	if err != nil {
		return Result{}, err
	}

	msgStore, err := s.messagesStore(tenant)
	if err != nil {
		return Result{}, err
	}

	messages := make([]message.Message, 0, len(res.ItemIDs))
	for _, id := range res.ItemIDs {
		raw, found, err := msgStore.Get(ctx, []byte(id))
		if err != nil {
			return Result{}, err
		}
		if !found {
			return Result{}, dwnerr.New("messagestore.Query", dwnerr.Corrupted)
		}
		var msg message.Message
		if err := cbor.Unmarshal(raw, &msg); err != nil {
			return Result{}, dwnerr.Wrap("messagestore.Query", dwnerr.Corrupted, err)
		}
		messages = append(messages, msg)
	}

	var pagCid *string
	if res.NextCursor != nil {
		id := res.NextCursor.ItemID
		pagCid = &id
	}
	return Result{Messages: messages, PaginationMessageCid: pagCid}, nil
}

// cursorForMessageCid rebuilds the internal (sortValue, itemID) cursor
// for resuming after messageCid, by looking up its indexes record and
// reading the sortProperty value back out of it.
func (s *Store) cursorForMessageCid(ctx context.Context, level *indexlevel.Level, sortProperty, messageCid string) (*query.Cursor, error) {
	indexes, found, err := level.Get(ctx, messageCid)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dwnerr.New("messagestore.Query", dwnerr.Corrupted)
	}
	sortValue, hasSort := indexes[sortProperty]
	if !hasSort {
		return nil, dwnerr.New("messagestore.Query", dwnerr.Corrupted)
	}
	return &query.Cursor{SortValue: sortValue, ItemID: messageCid}, nil
}
