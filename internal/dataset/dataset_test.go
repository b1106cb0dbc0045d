package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidJSONL(t *testing.T) {
	in := strings.Join([]string{
		`{"id":"a","prompt":"hello"}`,
		`{"prompt":"world"}`,
	}, "\n")

	records, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "hello", records[0].Prompt)
	assert.Equal(t, "2", records[1].ID, "missing id should default to the 1-indexed line number")
}

func TestParseSkipsBlankLines(t *testing.T) {
	in := "{\"prompt\":\"a\"}\n\n{\"prompt\":\"b\"}\n"
	records, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParseFailsWholeDatasetOnOneBadLine(t *testing.T) {
	in := strings.Join([]string{
		`{"prompt":"good"}`,
		`{not json`,
	}, "\n")

	records, err := Parse(strings.NewReader(in))
	assert.Nil(t, records)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Line)
}

func TestParseFailsOnMissingPrompt(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"id":"x"}`))
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Line)
}

func TestParseFailsOnEmptyDataset(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	assert.Error(t, err)
}
