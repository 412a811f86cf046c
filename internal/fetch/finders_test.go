package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/serializer"
	"github.com/kilupskalvis/recordfetch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await[T any](t *testing.T, f *async.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future never settled")
	return v, err
}

type eventLog struct {
	mu     sync.Mutex
	events []store.Event
}

func watch(st *store.Store) *eventLog {
	l := &eventLog{}
	st.Subscribe(func(e store.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) count(kind store.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) all() []store.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.Event(nil), l.events...)
}

type fixture struct {
	registry *models.Registry
	adapter  *MockAdapter
	ser      *MockSerializer
	store    *store.Store
	events   *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := testRegistry(t)
	adapter := NewMockAdapter()
	adapter.Serializer = &MockSerializer{Inner: serializer.NewJSON(registry)}
	st := store.New()
	return &fixture{
		registry: registry,
		adapter:  adapter,
		ser:      adapter.Serializer,
		store:    st,
		events:   watch(st),
	}
}

func (f *fixture) typeClass(t *testing.T, name string) *models.TypeClass {
	t.Helper()
	tc, err := f.registry.Lookup(name)
	require.NoError(t, err)
	return tc
}

// loaded pushes a record so relationship fetches have an owner.
func (f *fixture) loaded(t *testing.T, typeName, id string) *store.Record {
	t.Helper()
	p := models.NewNormalizedPayload(typeName)
	p.Add(&models.Resource{ID: id, Type: typeName, Attributes: map[string]interface{}{}, Relationships: map[string]interface{}{}})
	recs, err := f.store.PushNormalized(p)
	require.NoError(t, err)
	return recs[0]
}

// ==================== Find Tests ====================

func TestFind_MergesPayload(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFind, []byte(`{"post":{"id":"1","title":"hello"},"people":[{"id":"7","name":"ann"}]}`))

	rec := f.store.RecordFor("post", "1")
	rec.LoadingStarted()
	got, err := await(t, Find(context.Background(), f.adapter, f.store, tc, "1", rec))
	require.NoError(t, err)

	assert.Same(t, rec, got)
	assert.True(t, got.IsLoaded())
	title, _ := got.Attr("title")
	assert.Equal(t, "hello", title)
	assert.True(t, f.store.HasRecord("person", "7"))
	assert.Equal(t, "1", f.adapter.LastCall().Snapshots[0].ID())
}

func TestFind_RejectionMarksNotFoundAndUnloadsEmpty(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	adapterErr := errors.New("404 not found")
	f.adapter.Fail(models.RequestFind, adapterErr)

	rec := f.store.RecordFor("post", "1")
	rec.LoadingStarted()
	_, err := await(t, Find(context.Background(), f.adapter, f.store, tc, "1", rec))

	assert.Same(t, adapterErr, err)
	assert.True(t, rec.WasNotFound())
	assert.Equal(t, store.StateUnloaded, rec.State())
	assert.Equal(t, 1, f.events.count(store.EventUnloaded))
	assert.Nil(t, f.store.Peek("post", "1"))
	assert.Equal(t, 0, f.ser.Calls())
}

func TestFind_RejectionKeepsLoadedRecord(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	rec := f.loaded(t, "post", "1")
	adapterErr := errors.New("timeout")
	f.adapter.Fail(models.RequestFind, adapterErr)

	_, err := await(t, Find(context.Background(), f.adapter, f.store, tc, "1", rec))

	assert.Same(t, adapterErr, err)
	assert.True(t, rec.WasNotFound())
	assert.True(t, rec.IsLoaded())
	assert.Equal(t, 0, f.events.count(store.EventUnloaded))
}

func TestFind_EmptyPayloadIsContractViolation(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFind, nil)

	rec := f.store.RecordFor("post", "1")
	_, err := await(t, Find(context.Background(), f.adapter, f.store, tc, "1", rec))

	require.ErrorIs(t, err, ErrAdapterContractViolation)
	var ace *AdapterContractError
	require.True(t, errors.As(err, &ace))
	assert.Equal(t, "1", ace.ID)
	assert.Equal(t, 0, f.ser.Calls())
}

func TestFind_StoreDestroyedBeforeResponse(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	gate := make(chan struct{})
	f.adapter.Gate = gate
	f.adapter.Respond(models.RequestFind, map[string]interface{}{"id": "1"})

	rec := f.store.RecordFor("post", "1")
	pending := Find(context.Background(), f.adapter, f.store, tc, "1", rec)
	f.store.Destroy()
	close(gate)

	got, err := await(t, pending)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, pending.Suppressed())
	assert.Equal(t, 0, f.ser.Calls())
	assert.Empty(t, f.events.all())
}

// destroyOnExtract tears the store down after the liveness guard has passed
// but before the merge pushes anything.
type destroyOnExtract struct {
	inner serializer.Serializer
	st    *store.Store
}

func (d *destroyOnExtract) Extract(tc *models.TypeClass, payload models.AdapterPayload, id string, kind models.RequestKind) (interface{}, error) {
	d.st.Destroy()
	return d.inner.Extract(tc, payload, id, kind)
}

func TestFind_StoreDestroyedDuringMerge(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.ser.Inner = &destroyOnExtract{inner: serializer.NewJSON(f.registry), st: f.store}
	f.adapter.Respond(models.RequestFind, map[string]interface{}{"id": "1"})

	rec := f.store.RecordFor("post", "1")
	pending := Find(context.Background(), f.adapter, f.store, tc, "1", rec)

	got, err := await(t, pending)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, pending.Suppressed())
	assert.Equal(t, 1, f.ser.Calls())
	assert.Empty(t, f.events.all())
}

func TestFindAll_StoreDestroyedDuringMerge(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.ser.Inner = &destroyOnExtract{inner: serializer.NewJSON(f.registry), st: f.store}
	f.adapter.Respond(models.RequestFindAll, []interface{}{map[string]interface{}{"id": "1"}})

	pending := FindAll(context.Background(), f.adapter, f.store, tc, "")

	_, err := await(t, pending)
	assert.NoError(t, err)
	assert.True(t, pending.Suppressed())
	assert.Equal(t, 0, f.events.count(store.EventDidUpdateAll))
}

func TestFind_RejectionAfterDestroyStillPropagates(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	gate := make(chan struct{})
	f.adapter.Gate = gate
	adapterErr := errors.New("boom")
	f.adapter.Fail(models.RequestFind, adapterErr)

	rec := f.store.RecordFor("post", "1")
	rec.LoadingStarted()
	pending := Find(context.Background(), f.adapter, f.store, tc, "1", rec)
	f.store.Destroy()
	close(gate)

	_, err := await(t, pending)
	assert.Same(t, adapterErr, err)
	assert.True(t, rec.WasNotFound())
}

// ==================== FindMany Tests ====================

func TestFindMany_MergesInOrder(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFindMany, []interface{}{
		map[string]interface{}{"id": "2"},
		map[string]interface{}{"id": "1"},
	})

	recs := []*store.Record{f.store.RecordFor("post", "1"), f.store.RecordFor("post", "2")}
	got, err := await(t, FindMany(context.Background(), f.adapter, f.store, tc, []string{"1", "2"}, recs))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID())
	assert.Same(t, recs[0], got[1])
	assert.Len(t, f.adapter.LastCall().Snapshots, 2)
}

func TestFindMany_NilFutureIsContractViolation(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.NilFuture[models.RequestFindMany] = true

	pending := FindMany(context.Background(), f.adapter, f.store, tc, []string{"1"}, []*store.Record{f.store.RecordFor("post", "1")})
	require.True(t, pending.Settled())

	_, err := await(t, pending)
	assert.ErrorIs(t, err, ErrAdapterContractViolation)
	assert.Equal(t, 0, f.ser.Calls())
}

func TestFindMany_RejectsSingleResource(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFindMany, map[string]interface{}{"id": "1"})

	_, err := await(t, FindMany(context.Background(), f.adapter, f.store, tc, []string{"1"}, nil))
	assert.ErrorIs(t, err, ErrMalformedPayloadShape)
	assert.False(t, f.store.HasRecord("post", "1"))
	assert.Empty(t, f.events.all())
}

func TestFindMany_AdapterErrorPassesThrough(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	adapterErr := errors.New("unavailable")
	f.adapter.Fail(models.RequestFindMany, adapterErr)

	rec := f.store.RecordFor("post", "1")
	_, err := await(t, FindMany(context.Background(), f.adapter, f.store, tc, []string{"1"}, []*store.Record{rec}))
	assert.Same(t, adapterErr, err)
	assert.False(t, rec.WasNotFound())
}

// ==================== Relationship Tests ====================

func TestFindHasMany_MergesTargetType(t *testing.T) {
	f := newFixture(t)
	owner := f.loaded(t, "post", "1")
	rel := f.typeClass(t, "post").Relationship("comments")
	f.adapter.Respond(models.RequestFindHasMany, map[string]interface{}{
		"comments": []interface{}{map[string]interface{}{"id": "3", "post": "1"}},
	})

	got, err := await(t, FindHasMany(context.Background(), f.adapter, f.store, owner, "/posts/1/comments", rel))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "comment", got[0].Type())
	ref, _ := got[0].Relationship("post")
	assert.Equal(t, "1", ref)
	assert.Equal(t, "/posts/1/comments", f.adapter.LastCall().Link)
}

func TestFindHasMany_RecordUnloadedBeforeResponse(t *testing.T) {
	f := newFixture(t)
	owner := f.loaded(t, "post", "1")
	rel := f.typeClass(t, "post").Relationship("comments")
	gate := make(chan struct{})
	f.adapter.Gate = gate
	f.adapter.Respond(models.RequestFindHasMany, []interface{}{map[string]interface{}{"id": "3"}})

	pending := FindHasMany(context.Background(), f.adapter, f.store, owner, "/c", rel)
	f.store.UnloadRecord(owner)
	close(gate)

	got, err := await(t, pending)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, pending.Suppressed())
	assert.False(t, f.store.HasRecord("comment", "3"))
	assert.Equal(t, 0, f.ser.Calls())
}

func TestFindHasMany_RejectsSingleResource(t *testing.T) {
	f := newFixture(t)
	owner := f.loaded(t, "post", "1")
	rel := f.typeClass(t, "post").Relationship("comments")
	f.adapter.Respond(models.RequestFindHasMany, map[string]interface{}{"id": "3"})

	_, err := await(t, FindHasMany(context.Background(), f.adapter, f.store, owner, "/c", rel))
	assert.ErrorIs(t, err, ErrMalformedPayloadShape)
}

func TestFindBelongsTo_MergesRecord(t *testing.T) {
	f := newFixture(t)
	owner := f.loaded(t, "post", "1")
	rel := f.typeClass(t, "post").Relationship("author")
	f.adapter.Respond(models.RequestFindBelongsTo, map[string]interface{}{
		"data": map[string]interface{}{"id": "7", "name": "ann"},
	})

	got, err := await(t, FindBelongsTo(context.Background(), f.adapter, f.store, owner, "/posts/1/author", rel))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "person", got.Type())
	assert.Equal(t, "7", got.ID())
}

func TestFindBelongsTo_NoDataResolvesNil(t *testing.T) {
	payloads := map[string]models.AdapterPayload{
		"nil":       nil,
		"null data": map[string]interface{}{"data": nil},
		"meta only": map[string]interface{}{"meta": map[string]interface{}{"count": 0}},
		"blank raw": []byte("null"),
		"bare list": []interface{}{
			map[string]interface{}{"id": "7"},
			map[string]interface{}{"id": "8"},
		},
		"raw list": []byte(`[{"id":"7"},{"id":"8"}]`),
	}

	for name, payload := range payloads {
		f := newFixture(t)
		owner := f.loaded(t, "post", "1")
		rel := f.typeClass(t, "post").Relationship("author")
		before := len(f.events.all())
		f.adapter.Respond(models.RequestFindBelongsTo, payload)

		got, err := await(t, FindBelongsTo(context.Background(), f.adapter, f.store, owner, "/a", rel))
		require.NoError(t, err, name)
		assert.Nil(t, got, name)
		assert.Len(t, f.events.all(), before, name)
		assert.Equal(t, 1, f.ser.Calls(), name)
		assert.False(t, f.store.HasRecord("person", "7"), name)
		assert.False(t, f.store.HasRecord("person", "8"), name)
	}
}

func TestFindBelongsTo_StoreDestroyed(t *testing.T) {
	f := newFixture(t)
	owner := f.loaded(t, "post", "1")
	rel := f.typeClass(t, "post").Relationship("author")
	gate := make(chan struct{})
	f.adapter.Gate = gate
	f.adapter.Respond(models.RequestFindBelongsTo, map[string]interface{}{"id": "7"})

	pending := FindBelongsTo(context.Background(), f.adapter, f.store, owner, "/a", rel)
	f.store.Destroy()
	close(gate)

	_, err := await(t, pending)
	assert.NoError(t, err)
	assert.True(t, pending.Suppressed())
	assert.Equal(t, 0, f.ser.Calls())
}

// ==================== FindAll Tests ====================

func TestFindAll_ReturnsLiveArray(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFindAll, map[string]interface{}{
		"data": []interface{}{map[string]interface{}{"id": "1"}, map[string]interface{}{"id": "2"}},
		"meta": map[string]interface{}{"since": "t9"},
	})

	arr, err := await(t, FindAll(context.Background(), f.adapter, f.store, tc, "t1"))
	require.NoError(t, err)

	assert.Same(t, f.store.All("post"), arr)
	assert.Equal(t, []string{"1", "2"}, arr.IDs())
	assert.True(t, arr.IsLoaded())
	assert.Equal(t, "t1", f.adapter.LastCall().SinceToken)
	assert.Equal(t, "t9", f.store.SinceToken("post"))

	events := f.events.all()
	require.NotEmpty(t, events)
	assert.Equal(t, store.EventDidUpdateAll, events[len(events)-1].Kind)
	assert.Equal(t, 1, f.events.count(store.EventDidUpdateAll))

	f.loaded(t, "post", "3")
	assert.Equal(t, 3, arr.Len())
}

func TestFindAll_MalformedSkipsDidUpdateAll(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFindAll, map[string]interface{}{"id": "1"})

	_, err := await(t, FindAll(context.Background(), f.adapter, f.store, tc, ""))
	assert.ErrorIs(t, err, ErrMalformedPayloadShape)
	assert.Equal(t, 0, f.events.count(store.EventDidUpdateAll))
}

func TestFindAll_ConcurrentMergesLastWins(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	first := NewMockAdapter()
	first.Respond(models.RequestFindAll, []interface{}{map[string]interface{}{"id": "1", "title": "old"}})
	second := NewMockAdapter()
	second.Respond(models.RequestFindAll, []interface{}{
		map[string]interface{}{"id": "1", "title": "new"},
		map[string]interface{}{"id": "2", "title": "x"},
	})

	a, err := await(t, FindAll(context.Background(), first, f.store, tc, ""))
	require.NoError(t, err)
	b, err := await(t, FindAll(context.Background(), second, f.store, tc, ""))
	require.NoError(t, err)

	assert.Same(t, a, b)
	title, _ := f.store.Peek("post", "1").Attr("title")
	assert.Equal(t, "new", title)
	assert.Equal(t, 2, b.Len())
}

// ==================== FindQuery Tests ====================

func TestFindQuery_LoadsIntoGivenArray(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	f.adapter.Respond(models.RequestFindQuery, []interface{}{map[string]interface{}{"id": "5", "title": "q"}})

	query := map[string]interface{}{"title": "q"}
	arr := store.NewQueryArray("post", query)
	got, err := await(t, FindQuery(context.Background(), f.adapter, f.store, tc, query, arr))
	require.NoError(t, err)

	assert.Same(t, arr, got)
	assert.Equal(t, []string{"5"}, got.IDs())
	assert.True(t, got.IsLoaded())
	assert.Equal(t, query, f.adapter.LastCall().Query)
	assert.Equal(t, 1, f.store.All("post").Len())
}

func TestFindQuery_StoreDestroyed(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	gate := make(chan struct{})
	f.adapter.Gate = gate
	f.adapter.Respond(models.RequestFindQuery, []interface{}{map[string]interface{}{"id": "5"}})

	arr := store.NewQueryArray("post", nil)
	pending := FindQuery(context.Background(), f.adapter, f.store, tc, nil, arr)
	f.store.Destroy()
	close(gate)

	_, err := await(t, pending)
	assert.NoError(t, err)
	assert.True(t, pending.Suppressed())
	assert.Equal(t, 0, arr.Len())
	assert.False(t, arr.IsLoaded())
}

// ==================== Async Adapter Tests ====================

type blockingStub struct {
	payload models.AdapterPayload
}

func (b *blockingStub) Find(context.Context, *models.TypeClass, string, *models.Snapshot) (models.AdapterPayload, error) {
	return b.payload, nil
}

func (b *blockingStub) FindMany(context.Context, *models.TypeClass, []string, []*models.Snapshot) (models.AdapterPayload, error) {
	return b.payload, nil
}

func (b *blockingStub) FindHasMany(context.Context, *models.Snapshot, string, *models.Relationship) (models.AdapterPayload, error) {
	return b.payload, nil
}

func (b *blockingStub) FindBelongsTo(context.Context, *models.Snapshot, string, *models.Relationship) (models.AdapterPayload, error) {
	return b.payload, nil
}

func (b *blockingStub) FindAll(context.Context, *models.TypeClass, string) (models.AdapterPayload, error) {
	return b.payload, nil
}

func (b *blockingStub) FindQuery(context.Context, *models.TypeClass, map[string]interface{}) (models.AdapterPayload, error) {
	return nil, errors.New("query unsupported")
}

func TestAsync_WrapsBlockingAdapter(t *testing.T) {
	f := newFixture(t)
	tc := f.typeClass(t, "post")
	adapter := Async(&blockingStub{payload: `{"posts":[{"id":"1"},{"id":"2"}]}`})

	arr, err := await(t, FindAll(context.Background(), adapter, f.store, tc, ""))
	require.NoError(t, err)
	assert.Equal(t, 2, arr.Len())

	_, err = await(t, FindQuery(context.Background(), adapter, f.store, tc, nil, store.NewQueryArray("post", nil)))
	assert.EqualError(t, err, "query unsupported")
}
