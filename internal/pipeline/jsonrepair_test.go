package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectDirect(t *testing.T) {
	obj, err := ParseObject(`{"a": 1, "b": "two"}`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj["a"])
	assert.Equal(t, "two", obj["b"])
}

func TestParseObjectTrailingCommentary(t *testing.T) {
	raw := "Here is the JSON you asked for:\n" +
		`{"schema_list": [{"op": "Encode"}]}` +
		"\nLet me know if you need anything else."
	obj, err := ParseObject(raw)
	require.NoError(t, err)
	assert.Contains(t, obj, "schema_list")
}

func TestParseObjectCodeFenceAndComments(t *testing.T) {
	raw := "```json\n" +
		"{\n" +
		"  // primary result\n" +
		"  \"count\": 3, /* inline */\n" +
		"  \"tags\": [\"a\", \"b\"]\n" +
		"}\n" +
		"```"
	obj, err := ParseObject(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(3), obj["count"])
}

func TestParseObjectTrailingCommas(t *testing.T) {
	obj, err := ParseObject(`{"items": [1, 2, 3,], "name": "x",}`)
	require.NoError(t, err)
	assert.Equal(t, "x", obj["name"])
	assert.Len(t, obj["items"], 3)
}

func TestParseObjectTruncatedResponse(t *testing.T) {
	// model ran out of tokens mid-object
	obj, err := ParseObject(`{"assertions": [{"name": "row exists", "expect": {"op": "==", "value": 1`)
	require.NoError(t, err)
	arr, ok := obj["assertions"].([]any)
	require.True(t, ok)
	require.Len(t, arr, 1)
}

func TestParseObjectUnterminatedString(t *testing.T) {
	obj, err := ParseObject(`{"note": "cut off mid sent`)
	require.NoError(t, err)
	assert.Contains(t, obj, "note")
}

func TestParseObjectMissingBraceBeforeArrayClose(t *testing.T) {
	// a nested object lost one closing brace right before the array end
	raw := `{"schema_list": [{"op": "Encode", "args": {"payload": {"text": "hi"}}],` +
		` "prerequisites": []}`
	obj, err := ParseObject(raw)
	require.NoError(t, err)
	assert.Contains(t, obj, "schema_list")
	assert.Contains(t, obj, "prerequisites")
}

func TestParseObjectAdjacentObjects(t *testing.T) {
	obj, err := ParseObject(`{"rows": [{"id": 1} {"id": 2}]}`)
	require.NoError(t, err)
	rows, ok := obj["rows"].([]any)
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestParseObjectGarbage(t *testing.T) {
	_, err := ParseObject("no json anywhere in this sentence")
	assert.Error(t, err)
}

func TestParseObjectBracesInsideStrings(t *testing.T) {
	obj, err := ParseObject(`{"text": "a } inside { a string"} trailing`)
	require.NoError(t, err)
	assert.Equal(t, "a } inside { a string", obj["text"])
}

func TestDecodeInto(t *testing.T) {
	var dst struct {
		Count int      `json:"count"`
		Tags  []string `json:"tags"`
	}
	err := DecodeInto(`Sure! {"count": 2, "tags": ["x", "y"],}`, &dst)
	require.NoError(t, err)
	assert.Equal(t, 2, dst.Count)
	assert.Equal(t, []string{"x", "y"}, dst.Tags)
}

func TestRemoveTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a": [1,2]}`, removeTrailingCommas(`{"a": [1,2,]}`))
	assert.Equal(t, `{"a": 1}`, removeTrailingCommas(`{"a": 1,}`))
}

func TestCountOutsideStrings(t *testing.T) {
	assert.Equal(t, 1, countOutsideStrings(`{"a": "}"}`, '{'))
	assert.Equal(t, 1, countOutsideStrings(`{"a": "}"}`, '}'))
}
