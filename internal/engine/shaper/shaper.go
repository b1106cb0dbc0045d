// Package shaper implements the payload shaper: it takes a
// task's request template and a dataset record and produces the
// concrete request body for one call.
package shaper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformedTemplate is returned by Validate and Shape when the
// configured request_template is not valid JSON.
var ErrMalformedTemplate = fmt.Errorf("shaper: request_template is not valid JSON")

// Shaper holds the immutable pieces of a task needed to produce
// per-record request bodies: the template, the field map, and the
// kind (for the stream-flag write location).
type Shaper struct {
	template   string
	fieldMap   task.FieldMap
	kind       task.APIKind
	streamMode bool
}

// New constructs a Shaper. Callers should call Validate once before
// starting any virtual user.
func New(descriptor *task.Descriptor) *Shaper {
	return &Shaper{
		template:   descriptor.RequestTemplate,
		fieldMap:   descriptor.FieldMap,
		kind:       descriptor.APIKind,
		streamMode: descriptor.StreamMode,
	}
}

// Validate rejects a malformed template so the task fails before any
// user runs.
func (s *Shaper) Validate() error {
	if !json.Valid([]byte(s.template)) {
		return ErrMalformedTemplate
	}
	return nil
}

// Shape writes record's prompt (when non-empty) and image (when
// configured) into the template at the paths named by the field map,
// and sets the stream flag for kinds that carry one. It returns the
// finished request body.
func (s *Shaper) Shape(record task.Record) (string, error) {
	body := s.template

	if s.fieldMap.PromptPath != "" && record.Prompt != "" {
		next, err := sjson.Set(body, sjsonPath(body, s.fieldMap.PromptPath), record.Prompt)
		if err != nil {
			return "", fmt.Errorf("shaper: set prompt_path: %w", err)
		}
		body = next
	}

	if s.fieldMap.ImagePath != "" && record.Image != "" {
		next, err := sjson.Set(body, sjsonPath(body, s.fieldMap.ImagePath), record.Image)
		if err != nil {
			return "", fmt.Errorf("shaper: set image_path: %w", err)
		}
		body = next
	}

	if streamFlagPath, ok := streamFieldFor(s.kind); ok {
		next, err := sjson.Set(body, streamFlagPath, s.streamMode)
		if err != nil {
			return "", fmt.Errorf("shaper: set stream flag: %w", err)
		}
		body = next
	}

	return body, nil
}

// sjsonPath translates a FieldExtractor dotted path (which uses -1 for
// "last element") into sjson's path syntax, where "-1" appends a new
// element instead. Each -1 segment is resolved against body to the
// index of the array's current last element; on an empty or missing
// array it is left as -1, so sjson appends.
func sjsonPath(body, path string) string {
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		if seg != "-1" {
			continue
		}
		parent := gjson.Parse(body)
		if i > 0 {
			parent = gjson.Get(body, strings.Join(segs[:i], "."))
		}
		if n := len(parent.Array()); parent.IsArray() && n > 0 {
			segs[i] = strconv.Itoa(n - 1)
		}
	}
	return strings.Join(segs, ".")
}

// streamFieldFor reports the JSON path the stream flag lives at for
// kinds that have a server-side streaming switch.
func streamFieldFor(kind task.APIKind) (string, bool) {
	switch kind {
	case task.APIKindOpenAIChat, task.APIKindClaudeChat:
		return "stream", true
	default:
		return "", false
	}
}
