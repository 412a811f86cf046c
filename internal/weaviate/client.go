// Package weaviate fetches records from a Weaviate instance. Each type class
// maps to a Weaviate class of the same name, capitalized; relationship
// properties hold target ids, either as plain text or as cross-reference
// beacons.
package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

const pageSize = 100

// ServerVersion holds parsed Weaviate version info
type ServerVersion struct {
	Version string // e.g., "1.25.0"
	Major   int
	Minor   int
	Patch   int
}

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)

// parseVersion parses a version string like "1.25.0" into ServerVersion
func parseVersion(version string) (*ServerVersion, error) {
	matches := versionPattern.FindStringSubmatch(version)
	if len(matches) < 4 {
		return nil, fmt.Errorf("invalid version format: %s", version)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	patch, _ := strconv.Atoi(matches[3])

	return &ServerVersion{
		Version: version,
		Major:   major,
		Minor:   minor,
		Patch:   patch,
	}, nil
}

// SupportsCursor reports whether the server pages with WithAfter (1.18+).
func (v *ServerVersion) SupportsCursor() bool {
	return v.Major > 1 || (v.Major == 1 && v.Minor >= 18)
}

// Client wraps the Weaviate client with the reads the adapter needs.
type Client struct {
	client *weaviate.Client
	url    string
}

// NewClient creates a new Weaviate client. apiKey may be empty.
func NewClient(url, apiKey string) (*Client, error) {
	cfg := weaviate.Config{
		Host:   url,
		Scheme: "http",
	}

	switch {
	case strings.HasPrefix(url, "http://"):
		cfg.Host = strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		cfg.Host = strings.TrimPrefix(url, "https://")
		cfg.Scheme = "https"
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	return &Client{
		client: client,
		url:    url,
	}, nil
}

// Ping checks if Weaviate is reachable
func (c *Client) Ping(ctx context.Context) error {
	live, err := c.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Weaviate: %w", err)
	}
	if !live {
		return fmt.Errorf("weaviate is not live")
	}
	return nil
}

// GetServerVersion fetches and parses the Weaviate server version
func (c *Client) GetServerVersion(ctx context.Context) (*ServerVersion, error) {
	meta, err := c.client.Misc().MetaGetter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server metadata: %w", err)
	}
	return parseVersion(meta.Version)
}

// GetObject fetches a single object by class and ID
func (c *Client) GetObject(ctx context.Context, className, objectID string) (*models.WeaviateObject, error) {
	objs, err := c.client.Data().ObjectsGetter().
		WithClassName(className).
		WithID(objectID).
		Do(ctx)
	if err != nil {
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s %s: %w", className, objectID, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", className, objectID, err)
	}

	if len(objs) == 0 {
		return nil, fmt.Errorf("%s %s: %w", className, objectID, ErrObjectNotFound)
	}

	return convertObject(objs[0]), nil
}

// GetAllObjects fetches all objects from a class with pagination method based on useCursor flag
func (c *Client) GetAllObjects(ctx context.Context, className string, useCursor bool) ([]*models.WeaviateObject, error) {
	var all []*models.WeaviateObject
	afterCursor := ""
	offset := 0

	for {
		getter := c.client.Data().ObjectsGetter().
			WithClassName(className).
			WithLimit(pageSize)
		if useCursor {
			if afterCursor != "" {
				getter = getter.WithAfter(afterCursor)
			}
		} else {
			getter = getter.WithOffset(offset)
		}

		objs, err := getter.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch objects from %s: %w", className, err)
		}

		for _, obj := range objs {
			if o := convertObject(obj); o != nil {
				all = append(all, o)
			}
		}

		if len(objs) < pageSize {
			break
		}
		afterCursor = objs[len(objs)-1].ID.String()
		offset += pageSize
	}

	return all, nil
}

// QueryObjects runs a GraphQL Get with an equality where-filter per key.
func (c *Client) QueryObjects(ctx context.Context, className string, properties []string, where map[string]interface{}) ([]*models.WeaviateObject, error) {
	fields := make([]graphql.Field, 0, len(properties)+1)
	for _, p := range properties {
		fields = append(fields, graphql.Field{Name: p})
	}
	fields = append(fields, graphql.Field{
		Name: "_additional",
		Fields: []graphql.Field{
			{Name: "id"},
			{Name: "creationTimeUnix"},
			{Name: "lastUpdateTimeUnix"},
		},
	})

	get := c.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...)
	if filter := whereFilter(where); filter != nil {
		get = get.WithWhere(filter)
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", className, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("failed to query %s: %s", className, strings.Join(msgs, "; "))
	}

	data, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected Get response format")
	}
	rows, _ := data[className].([]interface{})

	out := make([]*models.WeaviateObject, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		obj := &models.WeaviateObject{Class: className, Properties: make(map[string]interface{})}
		for k, v := range m {
			if k == "_additional" {
				extra, _ := v.(map[string]interface{})
				obj.ID, _ = extra["id"].(string)
				obj.CreationTimeUnix = unixField(extra["creationTimeUnix"])
				obj.LastUpdateTimeUnix = unixField(extra["lastUpdateTimeUnix"])
				continue
			}
			obj.Properties[k] = v
		}
		out = append(out, obj)
	}
	return out, nil
}

// whereFilter builds an And of Equal operands, sorted by path.
func whereFilter(where map[string]interface{}) *filters.WhereBuilder {
	if len(where) == 0 {
		return nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, equal(k, where[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func equal(path string, value interface{}) *filters.WhereBuilder {
	w := filters.Where().WithPath([]string{path}).WithOperator(filters.Equal)
	switch v := value.(type) {
	case bool:
		return w.WithValueBoolean(v)
	case int:
		return w.WithValueInt(int64(v))
	case int64:
		return w.WithValueInt(v)
	case float64:
		return w.WithValueNumber(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return w.WithValueInt(i)
		}
		f, _ := v.Float64()
		return w.WithValueNumber(f)
	default:
		return w.WithValueText(fmt.Sprint(v))
	}
}

// unixField reads a timestamp GraphQL returns as a string of milliseconds.
func unixField(v interface{}) int64 {
	switch t := v.(type) {
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// convertObject converts a Weaviate API object to our internal model
func convertObject(obj interface{}) *models.WeaviateObject {
	// JSON round trip handles the interface{} property values in v5.
	data, err := json.Marshal(obj)
	if err != nil {
		return nil
	}

	var raw struct {
		ID                 string                 `json:"id"`
		Class              string                 `json:"class"`
		Properties         map[string]interface{} `json:"properties"`
		CreationTimeUnix   int64                  `json:"creationTimeUnix"`
		LastUpdateTimeUnix int64                  `json:"lastUpdateTimeUnix"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	return &models.WeaviateObject{
		ID:                 raw.ID,
		Class:              raw.Class,
		Properties:         raw.Properties,
		CreationTimeUnix:   raw.CreationTimeUnix,
		LastUpdateTimeUnix: raw.LastUpdateTimeUnix,
	}
}
