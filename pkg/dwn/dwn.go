/*
Package dwn is the thin facade gluing the storage core together: a
MessageStore, a BlobStore, an event Bus, structured logging, and
metrics, opened and closed as one unit from a single Config. Threading
tracing/metrics around the core operations is explicitly "thin glue"
outside the core's own scope — it exists only so cmd/dwn (and any
future transport-layer handler) has one object to drive end-to-end.
*/
package dwn

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"

	"github.com/dwn-core/dwn/pkg/blobstore"
	"github.com/dwn-core/dwn/pkg/config"
	"github.com/dwn-core/dwn/pkg/events"
	"github.com/dwn-core/dwn/pkg/indexlevel"
	"github.com/dwn-core/dwn/pkg/kv"
	dwnlog "github.com/dwn-core/dwn/pkg/log"
	"github.com/dwn-core/dwn/pkg/message"
	"github.com/dwn-core/dwn/pkg/messagestore"
	"github.com/dwn-core/dwn/pkg/metrics"
	"github.com/dwn-core/dwn/pkg/query"
)

// Node ties together the storage core components opened from one
// Config. The zero value is not usable; construct one with Open.
type Node struct {
	cfg config.Config
	log zerolog.Logger

	messageKV *kv.Store
	blobKV    *kv.Store

	Messages *messagestore.Store
	Blobs    *blobstore.Store
	Events   *events.Bus
}

// Open opens the KV substrates named by cfg — BlobStore gets its own
// handle, independent of MessageStore's — and wires them into a
// ready-to-use Node.
func Open(ctx context.Context, cfg config.Config) (*Node, error) {
	logger := dwnlog.WithComponent("dwn")

	messageKV, err := kv.Open(ctx, filepath.Join(cfg.IndexstoreRoot, "messages.db"))
	if err != nil {
		return nil, err
	}
	blobKV, err := kv.Open(ctx, filepath.Join(cfg.BlobstoreRoot, "blobs.db"))
	if err != nil {
		_ = messageKV.Close()
		return nil, err
	}

	bus := events.New(func(recovered any) {
		metrics.EventHandlerPanicsTotal.Inc()
		logger.Error().Interface("recovered", recovered).Msg("event subscriber panicked")
	})

	return &Node{
		cfg:       cfg,
		log:       logger,
		messageKV: messageKV,
		blobKV:    blobKV,
		Messages:  messagestore.Open(messageKV, bus),
		Blobs:     blobstore.Open(blobKV),
		Events:    bus,
	}, nil
}

// Close releases both KV handles. Closing a Node whose Open failed
// partway is not supported; Open itself unwinds on its own errors.
func (n *Node) Close() error {
	err1 := n.messageKV.Close()
	err2 := n.blobKV.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Clear wipes every message, index entry, and blob for tenant.
func (n *Node) Clear(ctx context.Context, tenant string) error {
	if err := n.Messages.Clear(ctx, tenant); err != nil {
		return err
	}
	return n.Blobs.ClearTenant(ctx, tenant)
}

// Put writes msg under tenant with indexes, instrumenting the call
// with metrics.PutDuration and metrics.MessagesPutTotal.
func (n *Node) Put(ctx context.Context, tenant string, msg message.Message, indexes indexlevel.Indexes) (cid.Cid, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PutDuration)

	id, err := n.Messages.Put(ctx, tenant, msg, indexes)
	if err != nil {
		n.log.Error().Err(err).Str("tenant", tenant).Msg("put failed")
		return cid.Undef, err
	}
	metrics.MessagesPutTotal.WithLabelValues(tenant).Inc()
	return id, nil
}

// Get returns the message stored at (tenant, messageCid).
func (n *Node) Get(ctx context.Context, tenant, messageCid string) (message.Message, bool, error) {
	return n.Messages.Get(ctx, tenant, messageCid)
}

// Query delegates to the message store's query engine, instrumenting
// the call with metrics.QueryDuration and metrics.QueryResultSize.
// paginationMessageCid, if non-empty, resumes from the page after that
// message; pass the exact value a previous call returned as
// messagestore.Result.PaginationMessageCid.
func (n *Node) Query(ctx context.Context, tenant string, filters query.Filters, srt query.Sort, limit *int, paginationMessageCid string) (messagestore.Result, error) {
	if limit == nil && n.cfg.QueryDefaultLimit > 0 {
		defaultLimit := n.cfg.QueryDefaultLimit
		limit = &defaultLimit
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.QueryDuration)

	res, err := n.Messages.Query(ctx, tenant, filters, srt, limit, paginationMessageCid)
	if err != nil {
		n.log.Error().Err(err).Str("tenant", tenant).Msg("query failed")
		return messagestore.Result{}, err
	}
	metrics.QueriesTotal.WithLabelValues(tenant).Inc()
	metrics.QueryResultSize.Observe(float64(len(res.Messages)))
	return res, nil
}

// Delete removes the message at (tenant, messageCid).
func (n *Node) Delete(ctx context.Context, tenant, messageCid string) error {
	if err := n.Messages.Delete(ctx, tenant, messageCid); err != nil {
		return err
	}
	metrics.MessagesDeletedTotal.WithLabelValues(tenant).Inc()
	return nil
}

// PutBlob streams data into the blob store under (tenant, recordId,
// dataCid), instrumenting BlobBytesWrittenTotal.
func (n *Node) PutBlob(ctx context.Context, tenant, recordID string, dataCID cid.Cid, data []byte) (int64, error) {
	n64, err := n.Blobs.Put(ctx, tenant, recordID, dataCID, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	metrics.BlobBytesWrittenTotal.Add(float64(n64))
	return n64, nil
}

// GetBlob returns the blob at (tenant, recordId, dataCid).
func (n *Node) GetBlob(ctx context.Context, tenant, recordID string, dataCID cid.Cid) (*blobstore.Result, bool, error) {
	return n.Blobs.Get(ctx, tenant, recordID, dataCID)
}

// DeleteBlob removes the blob at (tenant, recordId, dataCid).
func (n *Node) DeleteBlob(ctx context.Context, tenant, recordID string, dataCID cid.Cid) error {
	if err := n.Blobs.Delete(ctx, tenant, recordID, dataCID); err != nil {
		return err
	}
	metrics.BlobsDeletedTotal.Inc()
	return nil
}
