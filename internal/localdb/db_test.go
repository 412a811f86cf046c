package localdb

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtures = `{
	"posts": [
		{"id": "1", "title": "hello", "author": "7", "comments": ["3", "4"]},
		{"id": "2", "title": "world", "author": "8"}
	],
	"people": [{"id": "7", "name": "ann"}, {"id": "8", "name": "bo"}],
	"comments": [
		{"id": "3", "body": "first", "post": "1"},
		{"id": "4", "body": "second", "post": "1"}
	]
}`

func testRegistry(t *testing.T) *models.Registry {
	t.Helper()
	registry, err := models.NewRegistry(
		&models.TypeClass{
			Name: "post",
			Relationships: []*models.Relationship{
				{Name: "author", Kind: models.BelongsTo, Type: "person"},
				{Name: "comments", Kind: models.HasMany, Type: "comment"},
			},
		},
		&models.TypeClass{Name: "person", Plural: "people"},
		&models.TypeClass{
			Name:          "comment",
			Relationships: []*models.Relationship{{Name: "post", Kind: models.BelongsTo, Type: "post"}},
		},
	)
	require.NoError(t, err)
	return registry
}

// newTestDB opens a database in a temp directory and loads the fixtures.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "resources.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n, err := db.Import(context.Background(), strings.NewReader(fixtures), testRegistry(t))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	return db
}

// ==================== DB Tests ====================

func TestDB_GetAndNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	doc, err := db.Get(ctx, "post", "1")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc["title"])
	assert.Equal(t, "post", doc["type"])

	_, err = db.Get(ctx, "post", "99")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDB_GetManyKeepsOrder(t *testing.T) {
	db := newTestDB(t)

	docs, err := db.GetMany(context.Background(), "comment", []string{"4", "missing", "3"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "4", docs[0]["id"])
	assert.Equal(t, "3", docs[1]["id"])
}

func TestDB_ListSinceRevision(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	docs, rev, err := db.List(ctx, "post", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, int64(1), rev)

	require.NoError(t, db.Put(ctx, &models.Resource{ID: "2", Type: "post", Attributes: map[string]interface{}{"title": "changed"}}))

	docs, rev2, err := db.List(ctx, "post", rev)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "changed", docs[0]["title"])
	assert.Equal(t, int64(2), rev2)
}

func TestDB_Query(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	docs, err := db.Query(ctx, "comment", map[string]interface{}{"post": "1"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = db.Query(ctx, "comment", map[string]interface{}{"post": "1", "body": "second"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "4", docs[0]["id"])

	_, err = db.Query(ctx, "comment", map[string]interface{}{"x'); DROP TABLE resources; --": "1"})
	assert.Error(t, err)
}

func TestDB_DeleteAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Delete(ctx, "comment", "3"))
	assert.ErrorIs(t, db.Delete(ctx, "comment", "3"), ErrNotFound)

	counts, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"post": 2, "person": 2, "comment": 1}, counts)
}

func TestDB_ImportRejectsMissingID(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Import(context.Background(), strings.NewReader(`{"posts":[{"title":"x"}]}`), nil)
	assert.Error(t, err)
}

// ==================== Adapter Tests ====================

func newTestFetcher(t *testing.T) *fetch.Fetcher {
	t.Helper()
	registry := testRegistry(t)
	return fetch.NewFetcher(registry, fetch.Async(NewAdapter(newTestDB(t), registry)), store.New())
}

func TestAdapter_FindRecordAndRelated(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()

	post, err := f.FindRecord(ctx, "post", "1")
	require.NoError(t, err)
	title, _ := post.Attr("title")
	assert.Equal(t, "hello", title)

	comments, err := f.FindRelated(ctx, post, "comments")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "3", comments[0].ID())

	author, err := f.FindRelated(ctx, post, "author")
	require.NoError(t, err)
	require.Len(t, author, 1)
	name, _ := author[0].Attr("name")
	assert.Equal(t, "ann", name)
}

func TestAdapter_FindRecordMissing(t *testing.T) {
	f := newTestFetcher(t)

	_, err := f.FindRecord(context.Background(), "post", "404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, f.Store().Peek("post", "404"))
}

func TestAdapter_FindAllUsesRevisions(t *testing.T) {
	f := newTestFetcher(t)

	arr, err := f.FindAll(context.Background(), "person")
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8"}, arr.IDs())
	assert.Equal(t, "1", f.Store().SinceToken("person"))
}

func TestAdapter_Query(t *testing.T) {
	f := newTestFetcher(t)

	arr, err := f.Query(context.Background(), "post", map[string]interface{}{"author": "8"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, arr.IDs())
}

func TestAdapter_FollowLink(t *testing.T) {
	registry := testRegistry(t)
	a := NewAdapter(newTestDB(t), registry)
	rel := registry.ForName("post").Relationship("comments")

	payload, err := a.FindHasMany(context.Background(), models.NewSnapshot("post", "1", nil, nil), "/api/comments?post=1", rel)
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"body":"first"`)
	assert.Contains(t, string(raw), `"body":"second"`)
}

func TestAdapter_BelongsToMissingTarget(t *testing.T) {
	registry := testRegistry(t)
	a := NewAdapter(newTestDB(t), registry)
	rel := registry.ForName("post").Relationship("author")

	payload, err := a.FindBelongsTo(context.Background(),
		models.NewSnapshot("post", "9", nil, map[string]interface{}{"author": "404"}), "", rel)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"data": nil}, payload)
}

func TestTextValue(t *testing.T) {
	assert.Equal(t, "1", textValue(true))
	assert.Equal(t, "0", textValue(false))
	assert.Equal(t, "", textValue(nil))
	assert.Equal(t, "7", textValue(int64(7)))
	assert.Equal(t, "ann", textValue("ann"))
}
