package remote

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"golang.org/x/time/rate"
)

// Options configures an HTTPAdapter.
type Options struct {
	BaseURL   string
	Namespace string // path prefix, e.g. "api/v1"
	Token     string

	// RequestsPerSecond limits outgoing requests; zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPAdapter fetches resources from a REST server.
type HTTPAdapter struct {
	baseURL    string
	namespace  string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ fetch.BlockingAdapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates an HTTP-based adapter.
func NewHTTPAdapter(opts Options) *HTTPAdapter {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &HTTPAdapter{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		namespace:  strings.Trim(opts.Namespace, "/"),
		token:      opts.Token,
		httpClient: client,
		limiter:    limiter,
	}
}

func (c *HTTPAdapter) typeURL(tc *models.TypeClass) string {
	if c.namespace == "" {
		return fmt.Sprintf("%s/%s", c.baseURL, tc.PluralName())
	}
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.namespace, tc.PluralName())
}

func (c *HTTPAdapter) recordURL(tc *models.TypeClass, id string) string {
	return c.typeURL(tc) + "/" + url.PathEscape(id)
}

// resolveLink turns a relationship link into an absolute URL. Absolute
// links are used as is; others resolve against the base URL and gain the
// namespace prefix unless they already carry it.
func (c *HTTPAdapter) resolveLink(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", link, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	p := strings.TrimPrefix(ref.Path, "/")
	if c.namespace != "" && !strings.HasPrefix(p, c.namespace+"/") {
		p = c.namespace + "/" + p
	}
	ref.Path = p
	return base.ResolveReference(ref).String(), nil
}

func (c *HTTPAdapter) do(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// get fetches url and returns the raw JSON body, decompressing gzip.
func (c *HTTPAdapter) get(ctx context.Context, url string) (json.RawMessage, error) {
	headers := map[string]string{
		"Accept":          "application/json",
		"Accept-Encoding": "gzip",
	}

	resp, err := c.do(ctx, http.MethodGet, url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decompress response: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return json.RawMessage(body), nil
}

// Find fetches GET /<plural>/<id>.
func (c *HTTPAdapter) Find(ctx context.Context, tc *models.TypeClass, id string, _ *models.Snapshot) (models.AdapterPayload, error) {
	body, err := c.get(ctx, c.recordURL(tc, id))
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", tc, id, err)
	}
	return body, nil
}

// FindMany fetches GET /<plural>?ids[]=...
func (c *HTTPAdapter) FindMany(ctx context.Context, tc *models.TypeClass, ids []string, _ []*models.Snapshot) (models.AdapterPayload, error) {
	u := c.typeURL(tc) + "?" + EncodeQuery(map[string]interface{}{ParamIDs: ids})
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("find many %s: %w", tc, err)
	}
	return body, nil
}

// FindHasMany fetches the relationship link.
func (c *HTTPAdapter) FindHasMany(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	return c.follow(ctx, snapshot, link, rel)
}

// FindBelongsTo fetches the relationship link.
func (c *HTTPAdapter) FindBelongsTo(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	return c.follow(ctx, snapshot, link, rel)
}

func (c *HTTPAdapter) follow(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error) {
	if link == "" {
		return nil, fmt.Errorf("find %s of %s/%s: relationship has no link", rel.Name, snapshot.Type(), snapshot.ID())
	}
	u, err := c.resolveLink(link)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("find %s of %s/%s: %w", rel.Name, snapshot.Type(), snapshot.ID(), err)
	}
	return body, nil
}

// FindAll fetches GET /<plural>, passing the since token when set.
func (c *HTTPAdapter) FindAll(ctx context.Context, tc *models.TypeClass, sinceToken string) (models.AdapterPayload, error) {
	u := c.typeURL(tc)
	if sinceToken != "" {
		u += "?" + EncodeQuery(map[string]interface{}{ParamSince: sinceToken})
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("find all %s: %w", tc, err)
	}
	return body, nil
}

// FindQuery fetches GET /<plural>?<query>.
func (c *HTTPAdapter) FindQuery(ctx context.Context, tc *models.TypeClass, query map[string]interface{}) (models.AdapterPayload, error) {
	u := c.typeURL(tc)
	if q := EncodeQuery(query); q != "" {
		u += "?" + q
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tc, err)
	}
	return body, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// NotFound reports whether the server answered 404.
func (e *RemoteError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
