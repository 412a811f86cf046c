package fetch

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/store"
)

// Find loads one record by id. rec is the placeholder the store handed out
// for (tc, id). If the adapter fails, rec is marked not found and, when it
// never had data, unloaded; the adapter's error is returned unchanged.
func Find(ctx context.Context, adapter Adapter, st *store.Store, tc *models.TypeClass, id string, rec *store.Record) *async.Future[*store.Record] {
	snapshot := rec.CreateSnapshot()
	op := begin(ctx, models.RequestFind, fmt.Sprintf("DS: Handle Adapter#find of %s with id: %s", tc, id))

	pending := adapter.Find(ctx, st, tc, id, snapshot)
	if pending == nil {
		pending = async.Resolve[models.AdapterPayload](nil)
	}
	ser := serializerFor(adapter, tc, nil)
	pending = async.Guard(pending, st)

	result := async.Then(pending, func(payload models.AdapterPayload) (*store.Record, error) {
		if isEmptyPayload(payload) {
			return nil, &AdapterContractError{
				Kind:   models.RequestFind,
				Type:   tc.Name,
				ID:     id,
				Reason: "the adapter's response did not have any data",
			}
		}
		records, err := extractAndMerge(st, ser, models.RequestFind, tc, payload, id, nil)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &MalformedPayloadError{
				Kind:   models.RequestFind,
				Type:   tc.Name,
				Reason: fmt.Sprintf("payload for id %s holds no %s", id, tc),
			}
		}
		return records[0], nil
	}, func(err error) (*store.Record, error) {
		rec.NotFound()
		if rec.IsEmpty() {
			st.UnloadRecord(rec)
		}
		return nil, err
	})
	return track(op, result)
}

// FindMany loads several records of one type in a single adapter call.
func FindMany(ctx context.Context, adapter Adapter, st *store.Store, tc *models.TypeClass, ids []string, records []*store.Record) *async.Future[[]*store.Record] {
	snapshots := make([]*models.Snapshot, len(records))
	for i, rec := range records {
		snapshots[i] = rec.CreateSnapshot()
	}
	op := begin(ctx, models.RequestFindMany, fmt.Sprintf("DS: Handle Adapter#findMany of %s", tc))

	pending := adapter.FindMany(ctx, st, tc, ids, snapshots)
	if pending == nil {
		return track(op, async.Reject[[]*store.Record](&AdapterContractError{
			Kind:   models.RequestFindMany,
			Type:   tc.Name,
			Reason: "adapter returned no future, this was very likely a mistake",
		}))
	}
	ser := serializerFor(adapter, tc, nil)
	pending = async.Guard(pending, st)

	result := async.Then(pending, func(payload models.AdapterPayload) ([]*store.Record, error) {
		return extractAndMerge(st, ser, models.RequestFindMany, tc, payload, "", requireMany(models.RequestFindMany, tc))
	}, nil)
	return track(op, result)
}

// FindHasMany loads the records of a to-many relationship of rec. The
// result is dropped if either the store or rec is torn down first.
func FindHasMany(ctx context.Context, adapter Adapter, st *store.Store, rec *store.Record, link string, rel *models.Relationship) *async.Future[[]*store.Record] {
	snapshot := rec.CreateSnapshot()
	target := rel.TargetType()
	op := begin(ctx, models.RequestFindHasMany, fmt.Sprintf("DS: Handle Adapter#findHasMany of %s : %s", rec, rel.Type))

	pending := adapter.FindHasMany(ctx, st, snapshot, link, rel)
	if pending == nil {
		pending = async.Resolve[models.AdapterPayload](nil)
	}
	ser := serializerFor(adapter, target, nil)
	pending = async.Guard(async.Guard(pending, st), rec)

	result := async.Then(pending, func(payload models.AdapterPayload) ([]*store.Record, error) {
		return extractAndMerge(st, ser, models.RequestFindHasMany, target, payload, "", requireMany(models.RequestFindHasMany, target))
	}, nil)
	return track(op, result)
}

// FindBelongsTo loads the record of a to-one relationship of rec. It
// resolves to nil when the payload holds no data.
func FindBelongsTo(ctx context.Context, adapter Adapter, st *store.Store, rec *store.Record, link string, rel *models.Relationship) *async.Future[*store.Record] {
	snapshot := rec.CreateSnapshot()
	target := rel.TargetType()
	op := begin(ctx, models.RequestFindBelongsTo, fmt.Sprintf("DS: Handle Adapter#findBelongsTo of %s : %s", rec, rel.Type))

	pending := adapter.FindBelongsTo(ctx, st, snapshot, link, rel)
	if pending == nil {
		pending = async.Resolve[models.AdapterPayload](nil)
	}
	ser := serializerFor(adapter, target, nil)
	pending = async.Guard(async.Guard(pending, st), rec)

	result := async.Then(pending, func(payload models.AdapterPayload) (*store.Record, error) {
		records, err := extractAndMerge(st, ser, models.RequestFindBelongsTo, target, payload, "", skipWithoutData)
		if err != nil || len(records) == 0 {
			return nil, err
		}
		return records[0], nil
	}, nil)
	return track(op, result)
}

// FindAll loads every record of a type and resolves to the store's live
// array for it. sinceToken is passed through to the adapter.
func FindAll(ctx context.Context, adapter Adapter, st *store.Store, tc *models.TypeClass, sinceToken string) *async.Future[*store.RecordArray] {
	op := begin(ctx, models.RequestFindAll, fmt.Sprintf("DS: Handle Adapter#findAll of %s", tc))

	pending := adapter.FindAll(ctx, st, tc, sinceToken)
	if pending == nil {
		pending = async.Resolve[models.AdapterPayload](nil)
	}
	ser := serializerFor(adapter, tc, nil)
	pending = async.Guard(pending, st)

	result := async.Then(pending, func(payload models.AdapterPayload) (*store.RecordArray, error) {
		if _, err := extractAndMerge(st, ser, models.RequestFindAll, tc, payload, "", requireMany(models.RequestFindAll, tc)); err != nil {
			return nil, err
		}
		st.DidUpdateAll(tc.Name)
		return st.All(tc.Name), nil
	}, nil)
	return track(op, result)
}

// FindQuery runs a query and loads the matching records into arr, which
// the future resolves to.
func FindQuery(ctx context.Context, adapter Adapter, st *store.Store, tc *models.TypeClass, query map[string]interface{}, arr *store.RecordArray) *async.Future[*store.RecordArray] {
	op := begin(ctx, models.RequestFindQuery, fmt.Sprintf("DS: Handle Adapter#findQuery of %s", tc))

	pending := adapter.FindQuery(ctx, st, tc, query, arr)
	if pending == nil {
		pending = async.Resolve[models.AdapterPayload](nil)
	}
	ser := serializerFor(adapter, tc, nil)
	pending = async.Guard(pending, st)

	result := async.Then(pending, func(payload models.AdapterPayload) (*store.RecordArray, error) {
		records, err := extractAndMerge(st, ser, models.RequestFindQuery, tc, payload, "", requireMany(models.RequestFindQuery, tc))
		if err != nil {
			return nil, err
		}
		arr.LoadRecords(records)
		return arr, nil
	}, nil)
	return track(op, result)
}
