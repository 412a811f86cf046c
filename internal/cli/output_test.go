package cli

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	q, err := parseQuery([]string{"author=7", "draft=true", "title=Go", "slug=a=b", "score=1.5"})
	require.NoError(t, err)

	assert.Equal(t, int64(7), q["author"])
	assert.Equal(t, true, q["draft"])
	assert.Equal(t, "Go", q["title"])
	assert.Equal(t, "a=b", q["slug"])
	assert.Equal(t, "1.5", q["score"])
}

func TestParseQuery_Invalid(t *testing.T) {
	for _, arg := range []string{"author", "=7"} {
		_, err := parseQuery([]string{arg})
		assert.Error(t, err, arg)
	}
}

func TestParseValue_BoolSpelling(t *testing.T) {
	// "1" is an int and "T" stays text
	assert.Equal(t, int64(1), parseValue("1"))
	assert.Equal(t, "T", parseValue("T"))
	assert.Equal(t, false, parseValue("false"))
}

func TestFormatRelationship(t *testing.T) {
	assert.Equal(t, "7", formatRelationship("7"))
	assert.Equal(t, "3, 4", formatRelationship([]interface{}{"3", "4"}))
	assert.Equal(t, "(/posts/1/comments)", formatRelationship(map[string]interface{}{
		"links": map[string]interface{}{"related": "/posts/1/comments"},
	}))
	assert.Equal(t, "none", formatRelationship(nil))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "hello", formatValue("hello"))
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, `{"a":1}`, formatValue(map[string]interface{}{"a": 1}))
	assert.Equal(t, `["x","y"]`, formatValue([]interface{}{"x", "y"}))
}

func TestWriteRecord(t *testing.T) {
	color.NoColor = true

	st := store.New()
	p := models.NewNormalizedPayload("post")
	p.Add(&models.Resource{
		ID:            "1",
		Type:          "post",
		Attributes:    map[string]interface{}{"title": "Hello", "body": "World"},
		Relationships: map[string]interface{}{"author": "7"},
	})
	records, err := st.PushNormalized(p)
	require.NoError(t, err)
	require.Len(t, records, 1)

	var buf bytes.Buffer
	writeRecord(&buf, records[0])

	assert.Equal(t, "post 1\n  body: World\n  title: Hello\n  author -> 7\n", buf.String())
}

func TestRecordJSON(t *testing.T) {
	st := store.New()
	p := models.NewNormalizedPayload("person")
	p.Add(&models.Resource{ID: "7", Type: "person", Attributes: map[string]interface{}{"name": "Ann"}})
	records, err := st.PushNormalized(p)
	require.NoError(t, err)

	out := recordJSON(records[0])
	assert.Equal(t, "7", out["id"])
	assert.Equal(t, "person", out["type"])
	assert.Equal(t, map[string]interface{}{"name": "Ann"}, out["attributes"])
	assert.NotContains(t, out, "relationships")
}
