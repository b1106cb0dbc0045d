// Package sampler implements the dataset sampler: an infinite, lazily
// cycling sequence over a dataset, shared by every virtual user in a
// task with atomic cursor advance.
package sampler

import (
	"fmt"
	"sync/atomic"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/evanreyes/promptloom/internal/dataset"
	"github.com/evanreyes/promptloom/internal/engine/task"
)

// noneRecord is the sentinel returned for DatasetNone: its prompt is
// empty, and the PayloadShaper writes no empty prompt, so the
// template's prompt field goes out as configured.
var noneRecord = task.Record{ID: "none"}

// Sampler hands out dataset records to virtual users. Next is safe for
// concurrent use by many users sharing one task.
type Sampler struct {
	records []task.Record
	cursor  atomic.Uint64
	filter  *vm.Program
}

// New builds a Sampler for descriptor's configured dataset. For
// DatasetNone it holds a single sentinel record; for JSONL datasets it
// parses eagerly so malformed data fails before any user starts. A
// non-empty DatasetFilter is compiled once here so a malformed
// expression fails task start rather than every call to Next.
func New(descriptor *task.Descriptor) (*Sampler, error) {
	filter, err := compileFilter(descriptor.DatasetFilter)
	if err != nil {
		return nil, err
	}

	switch descriptor.Dataset {
	case task.DatasetNone, "":
		return &Sampler{records: []task.Record{noneRecord}, filter: filter}, nil
	case task.DatasetDefaultText:
		return &Sampler{records: builtinText, filter: filter}, nil
	case task.DatasetDefaultVision:
		return &Sampler{records: builtinVision, filter: filter}, nil
	case task.DatasetDefaultShareGPT:
		return &Sampler{records: builtinShareGPT, filter: filter}, nil
	case task.DatasetInlineJSONL:
		records, err := dataset.ParseString(descriptor.DatasetInline)
		if err != nil {
			return nil, fmt.Errorf("sampler: inline dataset: %w", err)
		}
		return &Sampler{records: records, filter: filter}, nil
	case task.DatasetUploadedJSONL:
		// The uploaded file's bytes are resolved by the caller and
		// passed through DatasetInline once read from the configured
		// dataset_dir; parsing is identical.
		records, err := dataset.ParseString(descriptor.DatasetInline)
		if err != nil {
			return nil, fmt.Errorf("sampler: uploaded dataset: %w", err)
		}
		return &Sampler{records: records, filter: filter}, nil
	default:
		return nil, fmt.Errorf("sampler: unknown dataset kind %q", descriptor.Dataset)
	}
}

// compileFilter compiles expression into a boolean predicate over a
// task.Record. An empty expression means every record passes.
func compileFilter(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(task.Record{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("sampler: dataset_filter: %w", err)
	}
	return program, nil
}

// Next returns the next record in cyclic order. The cursor advances
// atomically so concurrent virtual users never observe the same
// advance twice, and iteration order is deterministic for a given
// task id because the underlying slice and start position never
// change across a task's lifetime. When a filter is configured, Next
// skips non-matching records; if none match within one full cycle it
// falls back to the next record regardless, so a too-strict filter
// never wedges a virtual user forever.
func (s *Sampler) Next() task.Record {
	n := uint64(len(s.records))
	for attempt := uint64(0); attempt < n; attempt++ {
		i := s.cursor.Add(1) - 1
		r := s.records[int(i%n)]
		if s.matches(r) {
			return r
		}
	}
	i := s.cursor.Add(1) - 1
	return s.records[int(i%n)]
}

func (s *Sampler) matches(r task.Record) bool {
	if s.filter == nil {
		return true
	}
	out, err := expr.Run(s.filter, r)
	if err != nil {
		return true
	}
	matched, _ := out.(bool)
	return matched
}

// Len reports the dataset size, primarily for tests and diagnostics.
func (s *Sampler) Len() int {
	return len(s.records)
}
