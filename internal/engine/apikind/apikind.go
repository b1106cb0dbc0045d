// Package apikind supplies the per-kind defaults (request template and
// field map) used when a descriptor omits them. It is the one place
// that knows about concrete provider wire shapes; everything
// downstream of the payload shaper stays kind-agnostic.
package apikind

import "github.com/evanreyes/promptloom/internal/engine/task"

// Defaults is a pure factory output: a template and field map pairing
// for one API kind. Descriptor-level overrides win over these.
type Defaults struct {
	RequestTemplate string
	HTTPMethod      string
	APIPath         string
	FieldMap        task.FieldMap
}

// For returns the built-in defaults for kind. It never returns an
// error; unknown kinds are rejected earlier by Descriptor.Validate.
func For(kind task.APIKind) Defaults {
	switch kind {
	case task.APIKindOpenAIChat:
		return Defaults{
			RequestTemplate: `{"model":"none","stream":true,"messages":[{"role":"user","content":""}]}`,
			HTTPMethod:      "POST",
			APIPath:         "/v1/chat/completions",
			FieldMap: task.FieldMap{
				PromptPath:           "messages.-1.content",
				LinePrefix:           "data: ",
				DataFormat:           "json",
				ContentPath:          "choices.0.delta.content",
				PromptTokensPath:     "usage.prompt_tokens",
				CompletionTokensPath: "usage.completion_tokens",
				TotalTokensPath:      "usage.total_tokens",
				EndLinePrefix:        "data: ",
				StopToken:            "[DONE]",
			},
		}
	case task.APIKindClaudeChat:
		return Defaults{
			RequestTemplate: `{"model":"none","stream":true,"max_tokens":1024,"messages":[{"role":"user","content":""}]}`,
			HTTPMethod:      "POST",
			APIPath:         "/v1/messages",
			FieldMap: task.FieldMap{
				PromptPath:           "messages.-1.content",
				LinePrefix:           "data: ",
				DataFormat:           "json",
				ContentPath:          "delta.text",
				ReasoningContentPath: "delta.thinking",
				PromptTokensPath:     "usage.input_tokens",
				CompletionTokensPath: "usage.output_tokens",
				EndLinePrefix:        "data: ",
				EndFieldPath:         "type",
				StopToken:            "message_stop",
			},
		}
	case task.APIKindEmbeddings:
		return Defaults{
			RequestTemplate: `{"model":"none","input":""}`,
			HTTPMethod:      "POST",
			APIPath:         "/v1/embeddings",
			FieldMap: task.FieldMap{
				PromptPath:      "input",
				DataFormat:      "json",
				TotalTokensPath: "usage.total_tokens",
			},
		}
	case task.APIKindCustomChat:
		// Descriptor.Validate requires prompt_path and content_path to
		// be set explicitly; only the HTTP verb has a sane default.
		return Defaults{HTTPMethod: "POST"}
	default: // generic-http
		return Defaults{HTTPMethod: "GET"}
	}
}

// Merge layers a descriptor's explicit fields over the kind defaults:
// anything the descriptor leaves blank is filled from d.
func (d Defaults) Merge(desc *task.Descriptor) {
	if desc.RequestTemplate == "" {
		desc.RequestTemplate = d.RequestTemplate
	}
	if desc.HTTPMethod == "" {
		desc.HTTPMethod = d.HTTPMethod
	}
	if desc.APIPath == "" {
		desc.APIPath = d.APIPath
	}

	fm := &desc.FieldMap
	mergeString(&fm.PromptPath, d.FieldMap.PromptPath)
	mergeString(&fm.ImagePath, d.FieldMap.ImagePath)
	mergeString(&fm.LinePrefix, d.FieldMap.LinePrefix)
	mergeString(&fm.DataFormat, d.FieldMap.DataFormat)
	mergeString(&fm.ContentPath, d.FieldMap.ContentPath)
	mergeString(&fm.ReasoningContentPath, d.FieldMap.ReasoningContentPath)
	mergeString(&fm.PromptTokensPath, d.FieldMap.PromptTokensPath)
	mergeString(&fm.CompletionTokensPath, d.FieldMap.CompletionTokensPath)
	mergeString(&fm.TotalTokensPath, d.FieldMap.TotalTokensPath)
	mergeString(&fm.EndLinePrefix, d.FieldMap.EndLinePrefix)
	mergeString(&fm.EndFieldPath, d.FieldMap.EndFieldPath)
	mergeString(&fm.StopToken, d.FieldMap.StopToken)
}

func mergeString(dst *string, fallback string) {
	if *dst == "" {
		*dst = fallback
	}
}
