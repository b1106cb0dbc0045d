// Package requester implements the request executor and its response
// accountant: it drives one HTTP call, classifies its outcome, and
// produces a Measurement, handling both streaming and non-streaming
// response shapes.
package requester

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/engine/field"
	"github.com/evanreyes/promptloom/internal/engine/stream"
	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/tracing"
)

// maxDiagnosticBody bounds how much of an error response is read for
// diagnostics.
const maxDiagnosticBody = 64 * 1024

// estimateDivisor is the "4 bytes ≈ 1 token" fallback heuristic used
// when a provider never reports token counts.
const estimateDivisor = 4

// Requester issues shaped requests against one task's target and
// turns each into a Measurement.
type Requester struct {
	client   *http.Client
	fieldMap task.FieldMap
	baseURL  string
	apiPath  string
	method   string
	headers  []task.HeaderEntry
	cookies  map[string]string
	stream   bool
	timeouts task.Timeouts
	logger   *zap.Logger
	apiKind  string
	tracer   *tracing.TaskTracer
}

// New builds a Requester. It constructs its own *http.Client so every
// virtual user sharing this Requester shares one connection pool, per
// the one-client-per-task design note.
func New(descriptor *task.Descriptor, logger *zap.Logger) (*Requester, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout(descriptor.Timeouts),
		}).DialContext,
	}

	if descriptor.TLSIdentity != nil && descriptor.TLSIdentity.CertPEM != "" {
		cert, err := tls.X509KeyPair([]byte(descriptor.TLSIdentity.CertPEM), []byte(descriptor.TLSIdentity.KeyPEM))
		if err != nil {
			return nil, fmt.Errorf("requester: tls_client_identity: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &Requester{
		client:   &http.Client{Transport: transport},
		fieldMap: descriptor.FieldMap,
		baseURL:  descriptor.TargetBaseURL,
		apiPath:  descriptor.APIPath,
		method:   descriptor.HTTPMethod,
		headers:  descriptor.Headers,
		cookies:  descriptor.Cookies,
		stream:   descriptor.StreamMode,
		timeouts: descriptor.Timeouts,
		logger:   logger,
		apiKind:  string(descriptor.APIKind),
		tracer:   tracing.NewTaskTracer(),
	}, nil
}

func connectTimeout(t task.Timeouts) time.Duration {
	if t.ConnectTimeout > 0 {
		return t.ConnectTimeout
	}
	return 10 * time.Second
}

// readTimeout guards against a descriptor that skipped runtime
// materialization; the runtime normally derives the default from the
// task duration before constructing a Requester.
func readTimeout(t task.Timeouts) time.Duration {
	if t.ReadTimeout > 0 {
		return t.ReadTimeout
	}
	return 600 * time.Second
}

// Do performs one call with the given shaped body and returns its
// Measurement. It never returns an error: every failure mode is
// encoded into the Measurement's Outcome, per the "Requester returns
// a Measurement that encodes outcome" design note.
func (r *Requester) Do(ctx context.Context, userID int, body string) task.Measurement {
	spanCtx, span := r.tracer.StartRequest(ctx, r.apiKind)
	defer span.End()

	m := task.Measurement{
		UserID:  userID,
		StartTS: time.Now(),
		APIPath: r.apiPath,
	}

	rt := readTimeout(r.timeouts)
	reqCtx, cancel := context.WithTimeout(spanCtx, rt)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, r.method, r.baseURL+r.apiPath, bytes.NewReader([]byte(body)))
	if err != nil {
		r.tracer.RecordOutcome(span, string(task.OutcomeHTTPError), err)
		m.Outcome = task.OutcomeHTTPError
		m.EndTS = time.Now()
		return m
	}
	r.applyHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		m.EndTS = time.Now()
		switch {
		case errors.Is(err, context.Canceled):
			m.Outcome = task.OutcomeCanceled
		case errors.Is(err, context.DeadlineExceeded):
			m.Outcome = task.OutcomeTimeout
		default:
			m.Outcome = task.OutcomeHTTPError
		}
		r.tracer.RecordOutcome(span, string(m.Outcome), err)
		return m
	}
	defer resp.Body.Close()
	m.HTTPStatus = resp.StatusCode
	r.tracer.RecordHTTPRequest(span, r.method, r.baseURL+r.apiPath, resp.StatusCode, 0)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiagnosticBody))
		m.Outcome = task.OutcomeHTTPError
		m.EndTS = time.Now()
		r.tracer.RecordOutcome(span, string(m.Outcome), nil)
		return m
	}

	if r.stream {
		r.accountStreaming(reqCtx, resp.Body, rt, &m)
	} else {
		r.accountNonStreaming(resp.Body, &m)
	}

	r.estimateTokensIfMissing(body, &m)
	enforceOrdering(&m)
	r.tracer.RecordOutcome(span, string(m.Outcome), nil)
	if m.PromptTokens != nil && m.CompletionTokens != nil {
		r.tracer.RecordTokenCounts(span, *m.PromptTokens, *m.CompletionTokens)
	}
	return m
}

func (r *Requester) applyHeaders(req *http.Request) {
	for _, h := range r.headers {
		req.Header.Set(h.Key, h.Value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range r.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// accountNonStreaming reads the whole bounded body, extracts content
// and token counts, and stamps first-output/completion at read end.
func (r *Requester) accountNonStreaming(body io.Reader, m *task.Measurement) {
	data, err := io.ReadAll(io.LimitReader(body, 16*1024*1024))
	now := time.Now()
	if err != nil {
		m.Outcome = task.OutcomeParseError
		m.EndTS = now
		return
	}
	if !gjson.ValidBytes(data) {
		m.Outcome = task.OutcomeParseError
		m.EndTS = now
		return
	}

	parsed := gjson.ParseBytes(data)
	r.extractContentFields(parsed, m)
	if m.ContentLengthBytes == 0 {
		// No extractable content field; fall back to the body size so
		// the accumulator still reflects bytes transferred.
		m.ContentLengthBytes = int64(len(data))
	}

	m.FirstOutputTS = &now
	m.CompletionTS = &now
	m.Outcome = task.OutcomeOK
	m.EndTS = now
}

// accountStreaming drives the stream parser, stamping reasoning and
// output timestamps per data frame and enforcing the read budget from
// the request's start.
func (r *Requester) accountStreaming(ctx context.Context, body io.Reader, budget time.Duration, m *task.Measurement) {
	parser := stream.New(body, r.fieldMap)
	sawOutput := false

	for {
		if errors.Is(ctx.Err(), context.Canceled) {
			m.Outcome = task.OutcomeCanceled
			m.EndTS = time.Now()
			return
		}
		if time.Since(m.StartTS) > budget {
			m.Outcome = task.OutcomeTimeout
			m.EndTS = time.Now()
			return
		}

		frame, err := parser.Next()
		if err != nil {
			now := time.Now()
			m.EndTS = now
			switch {
			case errors.Is(ctx.Err(), context.Canceled):
				m.Outcome = task.OutcomeCanceled
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				m.Outcome = task.OutcomeTimeout
			case sawOutput:
				m.Outcome = task.OutcomeOK
			default:
				m.Outcome = task.OutcomeParseError
			}
			return
		}

		switch frame.Kind {
		case stream.End:
			m.EndTS = time.Now()
			m.Outcome = task.OutcomeOK
			return
		case stream.Data:
			r.accountDataFrame(frame.Payload, m, &sawOutput)
		}
	}
}

func (r *Requester) accountDataFrame(payload string, m *task.Measurement, sawOutput *bool) {
	var parsed gjson.Result
	if r.fieldMap.DataFormat == "text" {
		parsed = gjson.Result{Type: gjson.String, Str: payload}
	} else {
		decoded, err := stream.DecodeJSON(payload)
		if err != nil {
			return
		}
		parsed = decoded
	}

	now := time.Now()

	if r.fieldMap.ReasoningContentPath != "" {
		if tok, ok := field.ExtractString(parsed, r.fieldMap.ReasoningContentPath); ok && tok != "" && m.FirstReasoningTS == nil {
			m.FirstReasoningTS = &now
		}
	}

	if r.fieldMap.ContentPath != "" {
		if tok, ok := field.ExtractString(parsed, r.fieldMap.ContentPath); ok && tok != "" {
			if m.FirstOutputTS == nil {
				m.FirstOutputTS = &now
			}
			m.CompletionTS = &now
			m.ContentLengthBytes += int64(len(tok))
			*sawOutput = true
		}
	}

	r.extractTokenCounts(parsed, m)
}

func (r *Requester) extractContentFields(parsed gjson.Result, m *task.Measurement) {
	if r.fieldMap.ContentPath != "" {
		if tok, ok := field.ExtractString(parsed, r.fieldMap.ContentPath); ok {
			m.ContentLengthBytes = int64(len(tok))
		}
	}
	r.extractTokenCounts(parsed, m)
}

// extractTokenCounts updates token counts "last seen wins" — the
// engine treats every observed value as the cumulative total, per the
// chosen resolution of the ambiguous last-value-wins semantics.
func (r *Requester) extractTokenCounts(parsed gjson.Result, m *task.Measurement) {
	if r.fieldMap.PromptTokensPath != "" {
		if v, ok := field.ExtractInt64(parsed, r.fieldMap.PromptTokensPath); ok {
			m.PromptTokens = &v
		}
	}
	if r.fieldMap.CompletionTokensPath != "" {
		if v, ok := field.ExtractInt64(parsed, r.fieldMap.CompletionTokensPath); ok {
			m.CompletionTokens = &v
		}
	}
	if r.fieldMap.TotalTokensPath != "" {
		if v, ok := field.ExtractInt64(parsed, r.fieldMap.TotalTokensPath); ok {
			m.TotalTokens = &v
		}
	}
}

// estimateTokensIfMissing fills in heuristic counts for providers that
// never report usage, flagging the Measurement as estimated. Prompt
// tokens come from the shaped request's own prompt field, completion
// tokens from the accumulated content bytes.
func (r *Requester) estimateTokensIfMissing(body string, m *task.Measurement) {
	if m.Outcome != task.OutcomeOK {
		return
	}
	if m.PromptTokens != nil || m.CompletionTokens != nil || m.TotalTokens != nil {
		return
	}
	if r.fieldMap.PromptPath != "" {
		if prompt, ok := field.ExtractString(gjson.Parse(body), r.fieldMap.PromptPath); ok {
			promptTokens := int64(len(prompt)) / estimateDivisor
			m.PromptTokens = &promptTokens
		}
	}
	completion := m.ContentLengthBytes / estimateDivisor
	m.CompletionTokens = &completion
	m.TokensEstimated = true
}

// enforceOrdering drops a reasoning stamp that was observed after the
// first output token rather than report timestamps out of order.
func enforceOrdering(m *task.Measurement) {
	if m.FirstOutputTS != nil && m.FirstReasoningTS != nil && m.FirstOutputTS.Before(*m.FirstReasoningTS) {
		m.FirstReasoningTS = nil
	}
}
