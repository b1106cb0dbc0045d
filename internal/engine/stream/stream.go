// Package stream implements the line-framing protocol parser that
// turns a chunked HTTP response body into a lazy sequence of frames.
// Framing is pull-based: the parser classifies a line only when
// Next() is called.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"

	"github.com/evanreyes/promptloom/internal/engine/field"
	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/tidwall/gjson"
)

// Kind classifies a parsed Frame.
type Kind int

const (
	// Ignored lines carry no payload (SSE comments, blank keepalives).
	Ignored Kind = iota
	// Data frames carry a payload string, still raw at this layer.
	Data
	// End signals the stream terminated normally.
	End
)

// Frame is one classified line. Payload is only meaningful for Data.
type Frame struct {
	Kind    Kind
	Payload string
}

// Parser wraps a chunked byte source and yields frames one at a time
// via Next. Reads go through a bufio.Reader, which may hold more of
// the body than the line being returned.
type Parser struct {
	r   *bufio.Reader
	fm  task.FieldMap
	eof bool
}

// New constructs a Parser over r using the framing rules in fm.
func New(r io.Reader, fm task.FieldMap) *Parser {
	return &Parser{r: bufio.NewReader(r), fm: fm}
}

// Next reads and classifies the next line. It returns io.EOF once the
// underlying reader is exhausted with no further frame to yield.
func (p *Parser) Next() (Frame, error) {
	if p.eof {
		return Frame{}, io.EOF
	}

	line, err := p.r.ReadString('\n')
	if len(line) == 0 {
		if err != nil {
			p.eof = true
			return Frame{}, io.EOF
		}
	}
	if err != nil && err != io.EOF {
		return Frame{}, err
	}
	if err == io.EOF {
		p.eof = true
	}

	line = trimCR(line)
	if line == "" {
		return Frame{Kind: Ignored}, nil
	}

	if p.fm.EndLinePrefix != "" && hasPrefix(line, p.fm.EndLinePrefix) {
		remainder := line[len(p.fm.EndLinePrefix):]
		if p.isEnd(remainder) {
			return Frame{Kind: End}, nil
		}
	}

	if p.fm.LinePrefix != "" && hasPrefix(line, p.fm.LinePrefix) {
		return Frame{Kind: Data, Payload: line[len(p.fm.LinePrefix):]}, nil
	}

	return Frame{Kind: Ignored}, nil
}

// isEnd evaluates the two alternative end-of-stream conditions: an
// exact stop-token match, or a field-path lookup on the parsed
// remainder equal to the stop token.
func (p *Parser) isEnd(remainder string) bool {
	if p.fm.StopToken != "" && remainder == p.fm.StopToken {
		return true
	}
	if p.fm.EndFieldPath != "" {
		parsed := gjson.Parse(remainder)
		if v, ok := field.ExtractString(parsed, p.fm.EndFieldPath); ok && v == p.fm.StopToken {
			return true
		}
	}
	return false
}

func trimCR(line string) string {
	line = stripSuffix(line, "\n")
	line = stripSuffix(line, "\r")
	return line
}

func stripSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// DecodeJSON parses a Data frame's payload as JSON when the field map
// requests data_format=json. Callers using data_format=text should
// skip this and treat Payload as the literal token.
func DecodeJSON(payload string) (gjson.Result, error) {
	if !json.Valid([]byte(payload)) {
		return gjson.Result{}, errors.New("stream: invalid json payload")
	}
	return gjson.Parse(payload), nil
}
