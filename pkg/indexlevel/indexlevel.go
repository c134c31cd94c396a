/*
Package indexlevel implements a secondary-index layer: for each
(tenant, itemId) it stores a small indexes record
plus one ordered secondary key per indexed property, so the query engine
in pkg/query can scan candidates by any indexed property without
touching message bytes.

# Key layout

Everything lives under one pkg/kv partition per tenant:

	__indexes\x00<itemId>                      -> JSON of the indexes map
	<property>\x00<encoded-value>\x00<itemId>  -> itemId

<encoded-value> is the sortable binary encoding from scalar.go, chosen so
that byte-lexicographic key order equals the scalar's natural order
within a property — the property on its own forms a contiguous,
correctly-ordered range that ScanProperty's callers scan directly.
*/
package indexlevel

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/kv"
)

const indexesRecordPartition = "__indexes"

// Level is one tenant's index namespace, backed by a kv.Store partition
// already scoped to that tenant.
type Level struct {
	store *kv.Store
}

// Open wraps a tenant-scoped kv.Store as an index level.
func Open(store *kv.Store) *Level {
	return &Level{store: store}
}

// Indexes is the flat property->scalar map attached to an item at write
// time.
type Indexes map[string]Value

// record is the on-disk JSON shape of an indexes record: Value's exported
// fields round-trip through encoding/json directly.
type record map[string]Value

// Put writes the indexes record for itemId and one secondary key per
// (property, value) pair, atomically. If itemId already had an indexes
// record, its previous secondary keys are removed first so no stale
// entry survives a re-put.
func (l *Level) Put(ctx context.Context, itemID string, indexes Indexes) error {
	ops, err := l.PutOps(ctx, itemID, indexes)
	if err != nil {
		return err
	}
	return l.store.Batch(ctx, ops)
}

// PutOps computes the batch of kv.Op values Put would apply, without
// executing them. Keys are relative to this Level's own kv.Store
// partition. Callers that need Put's effect combined atomically with
// writes outside this level (pkg/messagestore writing message bytes
// alongside indexes) prefix these keys with this level's partition tag
// and fold them into their own kv.Store.Batch call.
func (l *Level) PutOps(ctx context.Context, itemID string, indexes Indexes) ([]kv.Op, error) {
	for prop := range indexes {
		if err := validatePropertyName(prop); err != nil {
			return nil, err
		}
	}
	var ops []kv.Op

	prev, found, err := l.readRecord(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if found {
		for prop, val := range prev {
			key, err := secondaryKey(prop, val, itemID)
			if err != nil {
				return nil, err
			}
			ops = append(ops, kv.DeleteOp(key))
		}
	}

	newRecord := record(indexes)
	recBytes, err := json.Marshal(newRecord)
	if err != nil {
		return nil, dwnerr.Wrap("indexlevel.Put", dwnerr.IO, err)
	}
	ops = append(ops, kv.PutOp(indexesRecordKey(itemID), recBytes))

	for prop, val := range indexes {
		if _, err := Encode(val); err != nil {
			return nil, dwnerr.Wrap("indexlevel.Put", dwnerr.BadIndexValue, err)
		}
		key, err := secondaryKey(prop, val, itemID)
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.PutOp(key, []byte(itemID)))
	}
	return ops, nil
}

// Delete removes itemId's indexes record and every secondary key it
// produced. Deleting an item with no indexes record is a no-op.
func (l *Level) Delete(ctx context.Context, itemID string) error {
	ops, err := l.DeleteOps(ctx, itemID)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return l.store.Batch(ctx, ops)
}

// DeleteOps computes the batch Delete would apply, without executing it;
// see PutOps for why pkg/messagestore needs this. An empty, nil-error
// result means itemId had no indexes record.
func (l *Level) DeleteOps(ctx context.Context, itemID string) ([]kv.Op, error) {
	rec, found, err := l.readRecord(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	ops := []kv.Op{kv.DeleteOp(indexesRecordKey(itemID))}
	for prop, val := range rec {
		key, err := secondaryKey(prop, val, itemID)
		if err != nil {
			return nil, err
		}
		ops = append(ops, kv.DeleteOp(key))
	}
	return ops, nil
}

// Get returns the indexes record for itemId, if one exists.
func (l *Level) Get(ctx context.Context, itemID string) (Indexes, bool, error) {
	rec, found, err := l.readRecord(ctx, itemID)
	if err != nil || !found {
		return nil, found, err
	}
	return Indexes(rec), true, nil
}

func (l *Level) readRecord(ctx context.Context, itemID string) (record, bool, error) {
	raw, found, err := l.store.Get(ctx, indexesRecordKey(itemID))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, dwnerr.Wrap("indexlevel.readRecord", dwnerr.Corrupted, err)
	}
	return rec, true, nil
}

// Clear wipes every indexes record and secondary key under this level.
func (l *Level) Clear(ctx context.Context) error {
	return l.store.Clear(ctx)
}

// ScanProperty iterates the secondary keys for property within [gte, lte]
// (encoded-value bounds, both optional), yielding itemIDs in ascending
// encoded-value order (then itemId order as tie-breaker), unless reverse
// is set. It is the single entry point pkg/query's drivers use.
func (l *Level) ScanProperty(ctx context.Context, property string, gte, lte []byte, reverse bool, limit int, visit func(value []byte, itemID string) error) error {
	propStore, err := l.store.Partition(property)
	if err != nil {
		return err
	}
	// A secondary key is "<encoded-value>\x00<itemId>", which sorts after
	// the bare encoded value; extending lte by one 0x01 byte keeps every
	// key of the lte value itself inside kv's inclusive upper bound.
	var hi []byte
	if lte != nil {
		hi = append(append(make([]byte, 0, len(lte)+1), lte...), 1)
	}
	return propStore.Iterate(ctx, kv.RangeOptions{GTE: gte, LTE: hi, Reverse: reverse, Limit: limit}, func(e kv.Entry) error {
		value, itemID, err := splitPropertyKey(e.Key)
		if err != nil {
			return err
		}
		return visit(value, itemID)
	})
}

func indexesRecordKey(itemID string) []byte {
	key := make([]byte, 0, len(indexesRecordPartition)+1+len(itemID))
	key = append(key, indexesRecordPartition...)
	key = append(key, 0)
	key = append(key, itemID...)
	return key
}

func secondaryKey(property string, val Value, itemID string) ([]byte, error) {
	encoded, err := Encode(val)
	if err != nil {
		return nil, dwnerr.Wrap("indexlevel.secondaryKey", dwnerr.BadIndexValue, err)
	}
	key := make([]byte, 0, len(property)+1+len(encoded)+1+len(itemID))
	key = append(key, property...)
	key = append(key, 0)
	key = append(key, encoded...)
	key = append(key, 0)
	key = append(key, itemID...)
	return key, nil
}

// splitPropertyKey splits a key relative to a property partition
// ("<encoded-value>\x00<itemId>") into its two parts.
func splitPropertyKey(key []byte) (value []byte, itemID string, err error) {
	idx := -1
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, "", dwnerr.New("indexlevel.splitPropertyKey", dwnerr.Corrupted)
	}
	return key[:idx], string(key[idx+1:]), nil
}

func validatePropertyName(name string) error {
	if len(name) == 0 {
		return dwnerr.New("indexlevel.Put", dwnerr.BadIndexValue)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return dwnerr.New("indexlevel.Put", dwnerr.BadIndexValue)
		}
	}
	return nil
}

// SortedProperties returns the properties present in indexes, in the
// canonical (sorted) order the driver-selection policy in pkg/query
// iterates conjuncts' map entries by.
func SortedProperties(indexes Indexes) []string {
	props := make([]string, 0, len(indexes))
	for p := range indexes {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}
