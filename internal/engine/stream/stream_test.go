package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

func fieldMap() task.FieldMap {
	return task.FieldMap{
		LinePrefix:    "data: ",
		EndLinePrefix: "data: ",
		StopToken:     "[DONE]",
		DataFormat:    "json",
	}
}

func TestParserYieldsDataThenEnd(t *testing.T) {
	body := "data: {\"content\":\"Hi\"}\n\ndata: [DONE]\n"
	p := New(strings.NewReader(body), fieldMap())

	f1, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, Data, f1.Kind)
	assert.Equal(t, `{"content":"Hi"}`, f1.Payload)

	f2, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, Ignored, f2.Kind)

	f3, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, End, f3.Kind)
}

func TestParserIgnoresCommentLines(t *testing.T) {
	body := ": keepalive\ndata: {\"content\":\"x\"}\n"
	p := New(strings.NewReader(body), fieldMap())

	f1, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, Ignored, f1.Kind)

	f2, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, Data, f2.Kind)
}

func TestParserEndViaFieldPath(t *testing.T) {
	fm := fieldMap()
	fm.StopToken = "stop"
	fm.EndFieldPath = "finish_reason"

	body := "data: {\"finish_reason\":\"stop\"}\n"
	p := New(strings.NewReader(body), fm)

	f, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, End, f.Kind)
}

func TestParserPrematureEOFReturnsIOEOF(t *testing.T) {
	body := "data: {\"content\":\"partial\"}\n"
	p := New(strings.NewReader(body), fieldMap())

	f1, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, Data, f1.Kind)

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeJSONRejectsInvalidPayload(t *testing.T) {
	_, err := DecodeJSON("not json")
	assert.Error(t, err)
}
