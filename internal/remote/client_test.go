package remote

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingServer answers every request with body and remembers what it saw.
type recordingServer struct {
	mu       sync.Mutex
	requests []*http.Request
	status   int
	body     string
	gzip     bool
}

func (s *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(context.Background()))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if s.gzip {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(s.status)
		gz := gzip.NewWriter(w)
		gz.Write([]byte(s.body))
		gz.Close()
		return
	}
	w.WriteHeader(s.status)
	w.Write([]byte(s.body))
}

func (s *recordingServer) last() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestAdapter(t *testing.T, rs *recordingServer, opts Options) *HTTPAdapter {
	t.Helper()
	if rs.status == 0 {
		rs.status = http.StatusOK
	}
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	return NewHTTPAdapter(opts)
}

var (
	postType   = &models.TypeClass{Name: "post"}
	personType = &models.TypeClass{Name: "person", Plural: "people"}
)

func TestHTTPAdapter_FindURLAndAuth(t *testing.T) {
	rs := &recordingServer{body: `{"post":{"id":"1"}}`}
	a := newTestAdapter(t, rs, Options{Namespace: "/api/v1/", Token: "tok"})

	payload, err := a.Find(context.Background(), postType, "1", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"post":{"id":"1"}}`, string(payload.(json.RawMessage)))

	req := rs.last()
	assert.Equal(t, "/api/v1/posts/1", req.URL.Path)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
}

func TestHTTPAdapter_FindEscapesID(t *testing.T) {
	rs := &recordingServer{body: `{}`}
	a := newTestAdapter(t, rs, Options{})

	_, err := a.Find(context.Background(), personType, "a/b", nil)
	require.NoError(t, err)
	assert.Equal(t, "/people/a%2Fb", rs.last().URL.EscapedPath())
}

func TestHTTPAdapter_FindManyAndQuery(t *testing.T) {
	rs := &recordingServer{body: `{"posts":[]}`}
	a := newTestAdapter(t, rs, Options{Namespace: "api"})
	ctx := context.Background()

	_, err := a.FindMany(ctx, postType, []string{"1", "2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, rs.last().URL.Query()[ParamIDs])

	_, err = a.FindQuery(ctx, postType, map[string]interface{}{"author": "7", "page": 2})
	require.NoError(t, err)
	assert.Equal(t, "author=7&page=2", rs.last().URL.RawQuery)

	_, err = a.FindQuery(ctx, postType, nil)
	require.NoError(t, err)
	assert.Empty(t, rs.last().URL.RawQuery)
}

func TestHTTPAdapter_FindAllSince(t *testing.T) {
	rs := &recordingServer{body: `{"posts":[]}`}
	a := newTestAdapter(t, rs, Options{})
	ctx := context.Background()

	_, err := a.FindAll(ctx, postType, "")
	require.NoError(t, err)
	assert.Empty(t, rs.last().URL.RawQuery)

	_, err = a.FindAll(ctx, postType, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", rs.last().URL.Query().Get(ParamSince))
}

func TestHTTPAdapter_FollowLinks(t *testing.T) {
	rs := &recordingServer{body: `{"comments":[]}`}
	a := newTestAdapter(t, rs, Options{Namespace: "api/v1"})
	snap := models.NewSnapshot("post", "1", nil, nil)
	rel := &models.Relationship{Name: "comments", Kind: models.HasMany, Type: "comment"}
	ctx := context.Background()

	_, err := a.FindHasMany(ctx, snap, "/posts/1/comments?page=2", rel)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/posts/1/comments", rs.last().URL.Path)
	assert.Equal(t, "2", rs.last().URL.Query().Get("page"))

	_, err = a.FindBelongsTo(ctx, snap, "/api/v1/people/7", rel)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/people/7", rs.last().URL.Path)

	_, err = a.FindHasMany(ctx, snap, "", rel)
	assert.Error(t, err)
}

func TestHTTPAdapter_Gzip(t *testing.T) {
	rs := &recordingServer{body: `{"post":{"id":"1","title":"zipped"}}`, gzip: true}
	a := newTestAdapter(t, rs, Options{})

	payload, err := a.Find(context.Background(), postType, "1", nil)
	require.NoError(t, err)
	assert.Contains(t, string(payload.(json.RawMessage)), "zipped")
}

func TestHTTPAdapter_StructuredError(t *testing.T) {
	rs := &recordingServer{status: http.StatusNotFound, body: `{"error":"not_found","message":"post '9' not found"}`}
	a := newTestAdapter(t, rs, Options{})

	_, err := a.Find(context.Background(), postType, "9", nil)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.NotFound())
	assert.Equal(t, "not_found", re.Code)
	assert.Contains(t, err.Error(), "find post 9")
}

func TestHTTPAdapter_UnstructuredError(t *testing.T) {
	rs := &recordingServer{status: http.StatusBadGateway, body: `<html>bad gateway</html>`}
	a := newTestAdapter(t, rs, Options{})

	_, err := a.FindAll(context.Background(), postType, "")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "unknown", re.Code)
	assert.Equal(t, http.StatusBadGateway, re.Status)
	assert.True(t, isTransient(err))
}

func TestHTTPAdapter_RateLimitHonorsContext(t *testing.T) {
	rs := &recordingServer{body: `{}`}
	a := newTestAdapter(t, rs, Options{RequestsPerSecond: 0.001, Burst: 1})

	_, err := a.Find(context.Background(), postType, "1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Find(ctx, postType, "2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Len(t, rs.requests, 1)
}

func TestEncodeDecodeQuery(t *testing.T) {
	q := EncodeQuery(map[string]interface{}{
		"b":      "2",
		"a":      1,
		ParamIDs: []string{"x", "y"},
		"tags":   []interface{}{"go", 3},
	})
	assert.Equal(t, "a=1&b=2&ids%5B%5D=x&ids%5B%5D=y&tags=go&tags=3", q)
	assert.Empty(t, EncodeQuery(nil))
}
