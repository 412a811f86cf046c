package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"golang.org/x/sync/errgroup"
)

// AdapterOptions tunes an Adapter.
type AdapterOptions struct {
	// Concurrency bounds parallel object reads in FindMany. Default 8.
	Concurrency int
	// UseCursor pages find-all with WithAfter. Set false for servers
	// older than 1.18.
	UseCursor bool
}

// Adapter answers fetch requests from Weaviate. Since tokens are the
// largest lastUpdateTimeUnix seen, in milliseconds.
type Adapter struct {
	client   ClientInterface
	registry *models.Registry
	opts     AdapterOptions
}

var _ fetch.BlockingAdapter = (*Adapter)(nil)

// NewAdapter creates an adapter over client.
func NewAdapter(client ClientInterface, registry *models.Registry, opts AdapterOptions) *Adapter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Adapter{client: client, registry: registry, opts: opts}
}

// ClassName maps a type name to its Weaviate class: "blog_post" becomes
// "Blog_post", "post" becomes "Post".
func ClassName(typeName string) string {
	if typeName == "" {
		return ""
	}
	r := []rune(typeName)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Find returns one resource.
func (a *Adapter) Find(ctx context.Context, tc *models.TypeClass, id string, _ *models.Snapshot) (models.AdapterPayload, error) {
	obj, err := a.client.GetObject(ctx, ClassName(tc.Name), id)
	if err != nil {
		return nil, err
	}
	return a.toResource(tc, obj), nil
}

// FindMany reads ids in parallel, skipping ones that do not exist.
func (a *Adapter) FindMany(ctx context.Context, tc *models.TypeClass, ids []string, _ []*models.Snapshot) (models.AdapterPayload, error) {
	docs, err := a.getMany(ctx, tc, ids)
	if err != nil {
		return nil, err
	}
	return envelope(docs, nil), nil
}

func (a *Adapter) getMany(ctx context.Context, tc *models.TypeClass, ids []string) ([]map[string]interface{}, error) {
	results := make([]*models.WeaviateObject, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			obj, err := a.client.GetObject(ctx, ClassName(tc.Name), id)
			if errors.Is(err, ErrObjectNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]map[string]interface{}, 0, len(ids))
	for _, obj := range results {
		if obj != nil {
			docs = append(docs, a.toResource(tc, obj))
		}
	}
	return docs, nil
}

// FindHasMany follows link, or reads the ids the owner references.
func (a *Adapter) FindHasMany(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	if link != "" {
		docs, err := a.followLink(ctx, link)
		if err != nil {
			return nil, err
		}
		return envelope(docs, nil), nil
	}
	ref, _ := snapshot.Relationship(rel.Name)
	docs, err := a.getMany(ctx, rel.TargetType(), models.RelatedIDs(ref))
	if err != nil {
		return nil, err
	}
	return envelope(docs, nil), nil
}

// FindBelongsTo follows link, or reads the id the owner references. A
// missing target yields an envelope with null data.
func (a *Adapter) FindBelongsTo(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	var docs []map[string]interface{}
	var err error
	if link != "" {
		docs, err = a.followLink(ctx, link)
	} else {
		ref, _ := snapshot.Relationship(rel.Name)
		if ids := models.RelatedIDs(ref); len(ids) > 0 {
			docs, err = a.getMany(ctx, rel.TargetType(), ids[:1])
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

// FindAll returns objects updated after sinceToken, with the newest update
// time as meta.since.
func (a *Adapter) FindAll(ctx context.Context, tc *models.TypeClass, sinceToken string) (models.AdapterPayload, error) {
	var since int64
	if sinceToken != "" {
		v, err := strconv.ParseInt(sinceToken, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid since token %q: %w", sinceToken, err)
		}
		since = v
	}

	objs, err := a.client.GetAllObjects(ctx, ClassName(tc.Name), a.opts.UseCursor)
	if err != nil {
		return nil, err
	}

	latest := since
	docs := make([]map[string]interface{}, 0, len(objs))
	for _, obj := range objs {
		if obj.LastUpdateTimeUnix > latest {
			latest = obj.LastUpdateTimeUnix
		}
		if since > 0 && obj.LastUpdateTimeUnix <= since {
			continue
		}
		docs = append(docs, a.toResource(tc, obj))
	}
	return envelope(docs, map[string]interface{}{"since": strconv.FormatInt(latest, 10)}), nil
}

// FindQuery returns objects matching every field of query.
func (a *Adapter) FindQuery(ctx context.Context, tc *models.TypeClass, query map[string]interface{}) (models.AdapterPayload, error) {
	objs, err := a.client.QueryObjects(ctx, ClassName(tc.Name), properties(tc), query)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]interface{}, len(objs))
	for i, obj := range objs {
		docs[i] = a.toResource(tc, obj)
	}
	return envelope(docs, nil), nil
}

// followLink reads "<type or plural>?field=value" as a query.
func (a *Adapter) followLink(ctx context.Context, link string) ([]map[string]interface{}, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link %q: %w", link, err)
	}
	key := path.Base(strings.TrimSuffix(u.Path, "/"))
	if key == "" || key == "." || key == "/" {
		return nil, fmt.Errorf("link %q names no type", link)
	}
	tc := a.typeForKey(key)

	where := make(map[string]interface{})
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			where[k] = vs[0]
		}
	}
	objs, err := a.client.QueryObjects(ctx, ClassName(tc.Name), properties(tc), where)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]interface{}, len(objs))
	for i, obj := range objs {
		docs[i] = a.toResource(tc, obj)
	}
	return docs, nil
}

func (a *Adapter) typeForKey(key string) *models.TypeClass {
	if a.registry != nil {
		for _, name := range a.registry.Names() {
			tc := a.registry.ForName(name)
			if key == tc.Name || key == tc.PluralName() {
				return tc
			}
		}
	}
	return a.registry.ForName(key)
}

// toResource flattens an object into a resource map with its type.
// Cross-reference beacons become target ids.
func (a *Adapter) toResource(tc *models.TypeClass, obj *models.WeaviateObject) map[string]interface{} {
	doc := make(map[string]interface{}, len(obj.Properties)+2)
	for k, v := range obj.Properties {
		if tc.HasRelationship(k) {
			doc[k] = beaconIDs(v, tc.Relationship(k).Kind)
			continue
		}
		doc[k] = v
	}
	doc["id"] = obj.ID
	doc["type"] = tc.Name
	return doc
}

// beaconIDs turns [{"beacon": "weaviate://localhost/Person/<id>"}] into ids.
// Plain ids pass through.
func beaconIDs(v interface{}, kind models.RelationshipKind) interface{} {
	refs, ok := v.([]interface{})
	if !ok {
		return v
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		switch ref := r.(type) {
		case map[string]interface{}:
			if beacon, ok := ref["beacon"].(string); ok {
				ids = append(ids, path.Base(beacon))
			}
		case string:
			ids = append(ids, ref)
		}
	}
	if kind == models.BelongsTo {
		if len(ids) == 0 {
			return nil
		}
		return ids[0]
	}
	return ids
}

// properties lists the fields a GraphQL Get asks for. Cross-references
// need nested selections, so only plain-id relationships are requested.
func properties(tc *models.TypeClass) []string {
	props := append([]string(nil), tc.Attributes...)
	for _, rel := range tc.Relationships {
		props = append(props, rel.Name)
	}
	return props
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
