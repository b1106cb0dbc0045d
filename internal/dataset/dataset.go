// Package dataset implements the strict JSONL dataset validator used
// at task-start time, when the Sampler parses an inline or uploaded
// dataset. A dataset is a newline-delimited sequence of JSON objects,
// each describing one prompt record.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

// line is the on-wire shape of one JSONL record.
type line struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Image  string `json:"image"`
}

// ParseError reports the 1-indexed line that failed to parse, so
// operators can fix the exact offending row.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dataset: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads r as JSONL and returns every record. A single malformed
// line fails the whole dataset before any task runs; partial results
// are never returned alongside an error.
func Parse(r io.Reader) ([]task.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []task.Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, &ParseError{Line: lineNo, Err: err}
		}
		if l.Prompt == "" {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("missing required field %q", "prompt")}
		}
		if l.ID == "" {
			l.ID = strconv.Itoa(lineNo)
		}

		records = append(records, task.Record{ID: l.ID, Prompt: l.Prompt, Image: l.Image})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset: no records found")
	}
	return records, nil
}

// ParseString is a convenience wrapper for inline datasets stored as a
// descriptor field rather than an uploaded file.
func ParseString(s string) ([]task.Record, error) {
	return Parse(strings.NewReader(s))
}
