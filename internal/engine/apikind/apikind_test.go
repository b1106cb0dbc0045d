package apikind

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

func TestForOpenAIChatDefaults(t *testing.T) {
	d := For(task.APIKindOpenAIChat)
	assert.Equal(t, "/v1/chat/completions", d.APIPath)
	assert.Equal(t, "choices.0.delta.content", d.FieldMap.ContentPath)
	assert.Equal(t, "[DONE]", d.FieldMap.StopToken)
}

func TestForClaudeChatUsesFieldPathEndMarker(t *testing.T) {
	d := For(task.APIKindClaudeChat)
	assert.Equal(t, "type", d.FieldMap.EndFieldPath)
	assert.Equal(t, "message_stop", d.FieldMap.StopToken)
}

func TestMergeOnlyFillsBlankFields(t *testing.T) {
	desc := &task.Descriptor{
		APIKind: task.APIKindOpenAIChat,
		FieldMap: task.FieldMap{
			ContentPath: "custom.path",
		},
	}

	For(task.APIKindOpenAIChat).Merge(desc)

	assert.Equal(t, "custom.path", desc.FieldMap.ContentPath, "explicit override must survive merge")
	assert.Equal(t, "/v1/chat/completions", desc.APIPath, "blank api_path should take the kind default")
	assert.Equal(t, "[DONE]", desc.FieldMap.StopToken)
}

func TestForCustomChatLeavesPathsBlank(t *testing.T) {
	d := For(task.APIKindCustomChat)
	assert.Empty(t, d.FieldMap.PromptPath)
	assert.Empty(t, d.FieldMap.ContentPath)
	assert.Equal(t, "POST", d.HTTPMethod)
}
