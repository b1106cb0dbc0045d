package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidwall/gjson"
)

func TestExtractDottedPath(t *testing.T) {
	doc := gjson.Parse(`{"choices":[{"delta":{"content":"Hi"}},{"delta":{"content":"there"}}]}`)

	v, ok := ExtractString(doc, "choices.0.delta.content")
	require.True(t, ok)
	assert.Equal(t, "Hi", v)
}

func TestExtractNegativeOneIsLastElement(t *testing.T) {
	doc := gjson.Parse(`{"choices":[{"delta":{"content":"Hi"}},{"delta":{"content":"there"}}]}`)

	v, ok := ExtractString(doc, "choices.-1.delta.content")
	require.True(t, ok)
	assert.Equal(t, "there", v)
}

func TestExtractMissingSegmentYieldsNotFound(t *testing.T) {
	doc := gjson.Parse(`{"a":{"b":1}}`)

	_, ok := Extract(doc, "a.c.d")
	assert.False(t, ok)
}

func TestExtractOutOfBoundsIndex(t *testing.T) {
	doc := gjson.Parse(`{"items":[1,2,3]}`)

	_, ok := Extract(doc, "items.5")
	assert.False(t, ok)
}

func TestExtractNumberCoercesNumericString(t *testing.T) {
	doc := gjson.Parse(`{"usage":{"total_tokens":"42"}}`)

	n, ok := ExtractNumber(doc, "usage.total_tokens")
	require.True(t, ok)
	assert.Equal(t, float64(42), n)
}

func TestExtractStringRejectsTypeMismatch(t *testing.T) {
	doc := gjson.Parse(`{"usage":{"total_tokens":42}}`)

	_, ok := ExtractString(doc, "usage.total_tokens")
	assert.False(t, ok, "number type should not satisfy ExtractString")
}

func TestExtractInt64Truncates(t *testing.T) {
	doc := gjson.Parse(`{"n":42.9}`)

	n, ok := ExtractInt64(doc, "n")
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
}
