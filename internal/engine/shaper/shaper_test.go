package shaper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

func TestShapeWritesPromptAndStreamFlag(t *testing.T) {
	desc := &task.Descriptor{
		APIKind:         task.APIKindOpenAIChat,
		RequestTemplate: `{"model":"none","stream":false,"messages":[{"role":"user","content":""}]}`,
		StreamMode:      true,
		FieldMap: task.FieldMap{
			PromptPath: "messages.-1.content",
		},
	}
	s := New(desc)
	require.NoError(t, s.Validate())

	body, err := s.Shape(task.Record{Prompt: "hello world"})
	require.NoError(t, err)

	parsed := gjson.Parse(body)
	assert.Equal(t, "hello world", parsed.Get("messages.0.content").String())
	assert.True(t, parsed.Get("stream").Bool())
}

func TestShapeWritesImageWhenPresent(t *testing.T) {
	desc := &task.Descriptor{
		APIKind:         task.APIKindGenericHTTP,
		RequestTemplate: `{"prompt":"","image":""}`,
		FieldMap: task.FieldMap{
			PromptPath: "prompt",
			ImagePath:  "image",
		},
	}
	s := New(desc)
	require.NoError(t, s.Validate())

	body, err := s.Shape(task.Record{Prompt: "p", Image: "base64data"})
	require.NoError(t, err)

	parsed := gjson.Parse(body)
	assert.Equal(t, "base64data", parsed.Get("image").String())
}

func TestShapeSkipsImageWhenRecordHasNone(t *testing.T) {
	desc := &task.Descriptor{
		APIKind:         task.APIKindGenericHTTP,
		RequestTemplate: `{"prompt":"","image":"untouched"}`,
		FieldMap: task.FieldMap{
			PromptPath: "prompt",
			ImagePath:  "image",
		},
	}
	s := New(desc)

	body, err := s.Shape(task.Record{Prompt: "p"})
	require.NoError(t, err)

	parsed := gjson.Parse(body)
	assert.Equal(t, "untouched", parsed.Get("image").String())
}

func TestValidateRejectsMalformedTemplate(t *testing.T) {
	desc := &task.Descriptor{
		APIKind:         task.APIKindGenericHTTP,
		RequestTemplate: `{not json`,
	}
	s := New(desc)
	assert.ErrorIs(t, s.Validate(), ErrMalformedTemplate)
}
