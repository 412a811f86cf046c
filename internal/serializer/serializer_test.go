package serializer

import (
	"encoding/json"
	"testing"

	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postType = &models.TypeClass{Name: "post"}

func TestJSON_Extract_RawEnvelopePassesThrough(t *testing.T) {
	s := NewJSON(nil)

	out, err := s.Extract(postType, []byte(`{"data":[{"id":1,"type":"post"}]}`), "", models.RequestFindAll)
	require.NoError(t, err)

	doc, ok := out.(map[string]interface{})
	require.True(t, ok)
	items := doc["data"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, json.Number("1"), items[0].(map[string]interface{})["id"])
}

func TestJSON_Extract_BareArray(t *testing.T) {
	s := NewJSON(nil)

	out, err := s.Extract(postType, json.RawMessage(`[{"id":"1"},{"id":"2"}]`), "", models.RequestFindMany)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestJSON_Extract_UnwrapsSingularRootKey(t *testing.T) {
	s := NewJSON(nil)

	out, err := s.Extract(postType, `{"post":{"id":"1","title":"hi"}}`, "1", models.RequestFind)
	require.NoError(t, err)

	doc := out.(map[string]interface{})
	data := doc["data"].(map[string]interface{})
	assert.Equal(t, "1", data["id"])
	assert.NotContains(t, doc, "included")
}

func TestJSON_Extract_UnwrapsPluralRootKeyWithSideloads(t *testing.T) {
	registry, err := models.NewRegistry(postType, &models.TypeClass{Name: "person", Plural: "people"})
	require.NoError(t, err)
	s := NewJSON(registry)

	raw := `{
		"posts": [{"id":"1","author":"7"}],
		"people": [{"id":"7","name":"ann"}],
		"comments": {"id":"3"},
		"meta": {"since":"t1"}
	}`
	out, err := s.Extract(postType, raw, "", models.RequestFindAll)
	require.NoError(t, err)

	doc := out.(map[string]interface{})
	assert.Len(t, doc["data"], 1)
	assert.Equal(t, map[string]interface{}{"since": "t1"}, doc["meta"])

	included := doc["included"].([]interface{})
	require.Len(t, included, 2)
	types := map[string]bool{}
	for _, inc := range included {
		types[inc.(map[string]interface{})["type"].(string)] = true
	}
	assert.True(t, types["person"])
	assert.True(t, types["comment"])
}

func TestJSON_Extract_SingleResourceUntouched(t *testing.T) {
	s := NewJSON(nil)

	in := map[string]interface{}{"id": "1", "post": "not a root key"}
	out, err := s.Extract(postType, in, "1", models.RequestFind)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSON_Extract_Resources(t *testing.T) {
	s := NewJSON(nil)

	out, err := s.Extract(postType, []*models.Resource{
		{ID: "1", Type: "post", Attributes: map[string]interface{}{"title": "a"}},
	}, "", models.RequestFindQuery)
	require.NoError(t, err)

	items := out.([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, "post", item["type"])
	assert.Equal(t, map[string]interface{}{"title": "a"}, item["attributes"])
}

func TestJSON_Extract_EmptyAndNil(t *testing.T) {
	s := NewJSON(nil)

	out, err := s.Extract(postType, nil, "", models.RequestFindBelongsTo)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = s.Extract(postType, []byte("  "), "", models.RequestFindBelongsTo)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJSON_Extract_InvalidJSON(t *testing.T) {
	s := NewJSON(nil)

	_, err := s.Extract(postType, []byte(`{"data":`), "", models.RequestFind)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode payload")
}

func TestJSON_Extract_StructsRoundTrip(t *testing.T) {
	s := NewJSON(nil)

	type row struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	out, err := s.Extract(postType, []row{{ID: "1", Title: "a"}}, "", models.RequestFindMany)
	require.NoError(t, err)

	items := out.([]interface{})
	assert.Equal(t, "a", items[0].(map[string]interface{})["title"])
}
