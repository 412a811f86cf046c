package fetch

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// payloadShape is an extracted payload decoded into one of the shapes the
// normalizer accepts. The set is closed: sequenceShape, singleShape,
// envelopeShape and idMapShape.
type payloadShape interface {
	normalizeInto(n *normalizer, p *models.NormalizedPayload) error
}

// sequenceShape is a bare array of resources.
type sequenceShape []map[string]interface{}

// singleShape is one resource object carrying its own id.
type singleShape map[string]interface{}

// envelopeShape is {"data": ..., "included": [...], "meta": {...}}.
type envelopeShape struct {
	data     payloadShape
	included []map[string]interface{}
	meta     map[string]interface{}
}

// idMapShape is an object keyed by resource id.
type idMapShape struct {
	ids   []string
	items map[string]map[string]interface{}
}

type normalizer struct {
	kind models.RequestKind
	tc   *models.TypeClass
}

// Normalize converts an extracted payload into canonical form grouped by
// type. The result is built completely before it is returned; on error
// nothing is returned.
func Normalize(kind models.RequestKind, tc *models.TypeClass, extracted interface{}) (*models.NormalizedPayload, error) {
	n := &normalizer{kind: kind, tc: tc}

	shape, err := n.classify(extracted)
	if err != nil {
		return nil, err
	}

	p := models.NewNormalizedPayload(tc.Name)
	if err := shape.normalizeInto(n, p); err != nil {
		return nil, err
	}
	return p, nil
}

// validateMany checks that an extracted payload can hold multiple records:
// an array, or an envelope without a top-level id whose data is set.
func validateMany(kind models.RequestKind, tc *models.TypeClass, extracted interface{}) error {
	switch x := extracted.(type) {
	case []interface{}, []map[string]interface{}:
		return nil
	case map[string]interface{}:
		if _, hasID := x["id"]; hasID {
			return malformed(kind, tc, extracted, "expected multiple records but got a single resource")
		}
		if !truthy(x["data"]) {
			return malformed(kind, tc, extracted, "expected multiple records but data is missing")
		}
		return nil
	default:
		return malformed(kind, tc, extracted, "expected an array or an envelope with data")
	}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}

func (n *normalizer) classify(v interface{}) (payloadShape, error) {
	switch x := v.(type) {
	case []interface{}:
		items, err := n.objects(x)
		if err != nil {
			return nil, err
		}
		return sequenceShape(items), nil
	case []map[string]interface{}:
		return sequenceShape(x), nil
	case map[string]interface{}:
		if data, ok := x["data"]; ok {
			return n.envelope(x, data)
		}
		if _, ok := x["id"]; ok {
			return singleShape(x), nil
		}
		return n.idMap(x)
	default:
		return nil, malformed(n.kind, n.tc, v, "expected an array, a resource, an envelope or an id-keyed object")
	}
}

func (n *normalizer) objects(items []interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, malformed(n.kind, n.tc, item, "element %d is not an object", i)
		}
		out = append(out, m)
	}
	return out, nil
}

func (n *normalizer) envelope(doc map[string]interface{}, data interface{}) (payloadShape, error) {
	if _, ok := doc["id"]; ok {
		return nil, malformed(n.kind, n.tc, doc, "envelope carries a top-level id")
	}

	env := envelopeShape{}
	switch d := data.(type) {
	case []interface{}:
		items, err := n.objects(d)
		if err != nil {
			return nil, err
		}
		env.data = sequenceShape(items)
	case map[string]interface{}:
		if _, ok := d["id"]; !ok {
			return nil, malformed(n.kind, n.tc, d, "envelope data is an object without id")
		}
		env.data = singleShape(d)
	case nil:
		return nil, malformed(n.kind, n.tc, doc, "envelope data is null")
	default:
		return nil, malformed(n.kind, n.tc, d, "envelope data must be an object or an array")
	}

	if inc, ok := doc["included"]; ok && inc != nil {
		list, ok := inc.([]interface{})
		if !ok {
			return nil, malformed(n.kind, n.tc, inc, "included must be an array")
		}
		items, err := n.objects(list)
		if err != nil {
			return nil, err
		}
		env.included = items
	}

	if meta, ok := doc["meta"]; ok && meta != nil {
		m, ok := meta.(map[string]interface{})
		if !ok {
			return nil, malformed(n.kind, n.tc, meta, "meta must be an object")
		}
		env.meta = m
	}
	return env, nil
}

func (n *normalizer) idMap(doc map[string]interface{}) (payloadShape, error) {
	if len(doc) == 0 {
		return nil, malformed(n.kind, n.tc, doc, "empty object")
	}

	shape := idMapShape{items: make(map[string]map[string]interface{}, len(doc))}
	for key, v := range doc {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, malformed(n.kind, n.tc, doc, "value for key %q is not an object", key)
		}
		shape.ids = append(shape.ids, key)
		shape.items[key] = m
	}
	sortIDs(shape.ids)
	return shape, nil
}

func (s sequenceShape) normalizeInto(n *normalizer, p *models.NormalizedPayload) error {
	for _, m := range s {
		res, err := n.resource(m, "", true)
		if err != nil {
			return err
		}
		p.Add(res)
	}
	return nil
}

func (s singleShape) normalizeInto(n *normalizer, p *models.NormalizedPayload) error {
	res, err := n.resource(s, "", true)
	if err != nil {
		return err
	}
	p.Add(res)
	return nil
}

func (s envelopeShape) normalizeInto(n *normalizer, p *models.NormalizedPayload) error {
	if err := s.data.normalizeInto(n, p); err != nil {
		return err
	}
	for _, m := range s.included {
		res, err := n.resource(m, "", false)
		if err != nil {
			return err
		}
		p.Add(res)
	}
	for k, v := range s.meta {
		p.Meta[k] = v
	}
	return nil
}

func (s idMapShape) normalizeInto(n *normalizer, p *models.NormalizedPayload) error {
	for _, id := range s.ids {
		res, err := n.resource(s.items[id], id, true)
		if err != nil {
			return err
		}
		p.Add(res)
	}
	return nil
}

// resource converts one resource object. keyID is the id taken from an
// id-keyed object, if any. Primary resources default to the requested type;
// included ones must name theirs.
func (n *normalizer) resource(m map[string]interface{}, keyID string, primary bool) (*models.Resource, error) {
	id, hasID := idString(m["id"])
	if _, present := m["id"]; present && !hasID && m["id"] != nil {
		return nil, malformed(n.kind, n.tc, m, "id must be a string or a number")
	}
	switch {
	case keyID != "":
		if hasID && id != keyID {
			return nil, malformed(n.kind, n.tc, m, "id %q does not match key %q", id, keyID)
		}
		id = keyID
	case !hasID:
		return nil, malformed(n.kind, n.tc, m, "resource without id")
	}

	typeName := n.tc.Name
	if raw, ok := m["type"]; ok && raw != nil {
		t, ok := raw.(string)
		if !ok {
			return nil, malformed(n.kind, n.tc, m, "type must be a string")
		}
		if t != "" {
			typeName = t
		}
	} else if !primary {
		return nil, malformed(n.kind, n.tc, m, "included resource %s has no type", id)
	}
	if primary && typeName != n.tc.Name {
		return nil, malformed(n.kind, n.tc, m, "resource type %q does not match %q", typeName, n.tc.Name)
	}

	target := n.typeFor(typeName)
	res := &models.Resource{
		ID:            id,
		Type:          typeName,
		Attributes:    make(map[string]interface{}),
		Relationships: make(map[string]interface{}),
	}

	if rawAttrs, ok := m["attributes"]; ok {
		attrs, ok := rawAttrs.(map[string]interface{})
		if !ok {
			return nil, malformed(n.kind, n.tc, m, "attributes must be an object")
		}
		for k, v := range attrs {
			res.Attributes[k] = v
		}
		if rawRels, ok := m["relationships"]; ok && rawRels != nil {
			rels, ok := rawRels.(map[string]interface{})
			if !ok {
				return nil, malformed(n.kind, n.tc, m, "relationships must be an object")
			}
			for k, v := range rels {
				ref, err := n.relationshipValue(v)
				if err != nil {
					return nil, err
				}
				res.Relationships[k] = ref
			}
		}
		return res, nil
	}

	var links map[string]interface{}
	for k, v := range m {
		switch k {
		case "id", "type":
			continue
		case "links":
			if lm, ok := v.(map[string]interface{}); ok {
				links = lm
				continue
			}
		}
		if target.HasRelationship(k) {
			ref, err := n.relationshipValue(v)
			if err != nil {
				return nil, err
			}
			res.Relationships[k] = ref
			continue
		}
		res.Attributes[k] = v
	}

	for name, url := range links {
		link, ok := url.(string)
		if !ok || !target.HasRelationship(name) {
			continue
		}
		ref := map[string]interface{}{"links": map[string]interface{}{"related": link}}
		if data, ok := res.Relationships[name]; ok {
			ref["data"] = data
		}
		res.Relationships[name] = ref
	}
	return res, nil
}

// typeFor resolves a type name through the requested type's relationships so
// included resources get their declared relationships split out.
func (n *normalizer) typeFor(name string) *models.TypeClass {
	if name == n.tc.Name {
		return n.tc
	}
	for _, rel := range n.tc.Relationships {
		if rel.Type == name {
			return rel.TargetType()
		}
	}
	return &models.TypeClass{Name: name}
}

// relationshipValue canonicalizes a relationship reference: nil, an id
// string, a slice of id strings, or an object carrying "data" and
// "links.related".
func (n *normalizer) relationshipValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		ids := make([]string, 0, len(x))
		for _, item := range x {
			ref, err := n.relationshipValue(item)
			if err != nil {
				return nil, err
			}
			id, ok := ref.(string)
			if !ok {
				return nil, malformed(n.kind, n.tc, item, "to-many reference must hold ids")
			}
			ids = append(ids, id)
		}
		return ids, nil
	case []string:
		return append([]string(nil), x...), nil
	case map[string]interface{}:
		if raw, ok := x["id"]; ok {
			id, ok := idString(raw)
			if !ok {
				return nil, malformed(n.kind, n.tc, x, "reference id must be a string or a number")
			}
			return id, nil
		}
		data, hasData := x["data"]
		links, _ := x["links"].(map[string]interface{})
		related, _ := links["related"].(string)
		if !hasData && related == "" {
			return nil, malformed(n.kind, n.tc, x, "reference has neither data nor a related link")
		}
		var ref interface{}
		if hasData {
			var err error
			if ref, err = n.relationshipValue(data); err != nil {
				return nil, err
			}
		}
		if related == "" {
			return ref, nil
		}
		out := map[string]interface{}{"links": map[string]interface{}{"related": related}}
		if hasData {
			out["data"] = ref
		}
		return out, nil
	default:
		id, ok := idString(v)
		if !ok {
			return nil, malformed(n.kind, n.tc, v, "unsupported reference")
		}
		return id, nil
	}
}

// idString renders string and numeric ids as strings.
func idString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case json.Number:
		return x.String(), x != ""
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	default:
		return "", false
	}
}

// sortIDs orders numeric ids numerically ahead of the rest, which sort
// lexically.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
