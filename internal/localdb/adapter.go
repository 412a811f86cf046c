package localdb

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/models"
)

// Adapter answers fetch requests from a DB. Relationship links are read as
// "<type or plural>?field=value" queries, e.g. "/comments?post=1".
type Adapter struct {
	db       *DB
	registry *models.Registry
}

var _ fetch.BlockingAdapter = (*Adapter)(nil)

// NewAdapter creates an adapter over db.
func NewAdapter(db *DB, registry *models.Registry) *Adapter {
	return &Adapter{db: db, registry: registry}
}

// Find returns one document.
func (a *Adapter) Find(ctx context.Context, tc *models.TypeClass, id string, _ *models.Snapshot) (models.AdapterPayload, error) {
	return a.db.Get(ctx, tc.Name, id)
}

// FindMany returns the documents that exist for ids.
func (a *Adapter) FindMany(ctx context.Context, tc *models.TypeClass, ids []string, _ []*models.Snapshot) (models.AdapterPayload, error) {
	docs, err := a.db.GetMany(ctx, tc.Name, ids)
	if err != nil {
		return nil, err
	}
	return envelope(docs, nil), nil
}

// FindHasMany follows link, or loads the ids the owner references.
func (a *Adapter) FindHasMany(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	if link != "" {
		docs, err := a.followLink(ctx, link)
		if err != nil {
			return nil, err
		}
		return envelope(docs, nil), nil
	}
	ref, _ := snapshot.Relationship(rel.Name)
	docs, err := a.db.GetMany(ctx, rel.Type, models.RelatedIDs(ref))
	if err != nil {
		return nil, err
	}
	return envelope(docs, nil), nil
}

// FindBelongsTo follows link, or loads the id the owner references. A
// missing target yields an envelope with null data.
func (a *Adapter) FindBelongsTo(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	var docs []map[string]interface{}
	var err error
	if link != "" {
		docs, err = a.followLink(ctx, link)
	} else {
		ref, _ := snapshot.Relationship(rel.Name)
		ids := models.RelatedIDs(ref)
		if len(ids) > 0 {
			docs, err = a.db.GetMany(ctx, rel.Type, ids[:1])
		}
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return map[string]interface{}{"data": nil}, nil
	}
	return map[string]interface{}{"data": docs[0]}, nil
}

// FindAll returns documents written after sinceToken, a revision number,
// with the current revision as meta.since.
func (a *Adapter) FindAll(ctx context.Context, tc *models.TypeClass, sinceToken string) (models.AdapterPayload, error) {
	var since int64
	if sinceToken != "" {
		v, err := strconv.ParseInt(sinceToken, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid since token %q: %w", sinceToken, err)
		}
		since = v
	}

	docs, rev, err := a.db.List(ctx, tc.Name, since)
	if err != nil {
		return nil, err
	}
	return envelope(docs, map[string]interface{}{"since": strconv.FormatInt(rev, 10)}), nil
}

// FindQuery returns documents matching every field of query.
func (a *Adapter) FindQuery(ctx context.Context, tc *models.TypeClass, query map[string]interface{}) (models.AdapterPayload, error) {
	docs, err := a.db.Query(ctx, tc.Name, query)
	if err != nil {
		return nil, err
	}
	return envelope(docs, nil), nil
}

func (a *Adapter) followLink(ctx context.Context, link string) ([]map[string]interface{}, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link %q: %w", link, err)
	}
	key := path.Base(strings.TrimSuffix(u.Path, "/"))
	if key == "" || key == "." || key == "/" {
		return nil, fmt.Errorf("link %q names no type", link)
	}
	tc := typeForKey(a.registry, key)

	filter := make(map[string]interface{})
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			filter[k] = vs[0]
		}
	}
	return a.db.Query(ctx, tc.Name, filter)
}

func envelope(docs []map[string]interface{}, meta map[string]interface{}) map[string]interface{} {
	data := make([]interface{}, len(docs))
	for i, d := range docs {
		data[i] = d
	}
	out := map[string]interface{}{"data": data}
	if meta != nil {
		out["meta"] = meta
	}
	return out
}
