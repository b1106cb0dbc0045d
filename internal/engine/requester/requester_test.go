package requester

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

func descriptorFor(baseURL string, stream bool) *task.Descriptor {
	return &task.Descriptor{
		TargetBaseURL: baseURL,
		APIPath:       "/v1/chat/completions",
		HTTPMethod:    "POST",
		StreamMode:    stream,
		FieldMap: task.FieldMap{
			PromptPath:      "messages.0.content",
			LinePrefix:      "data: ",
			DataFormat:      "json",
			ContentPath:     "choices.0.delta.content",
			TotalTokensPath: "usage.total_tokens",
			EndLinePrefix:   "data: ",
			StopToken:       "[DONE]",
		},
		Timeouts: task.Timeouts{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second},
	}
}

func TestDoStreamingHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n",
			`data: {"choices":[{"delta":{"content":" there"}}]}` + "\n",
			`data: {"usage":{"total_tokens":9}}` + "\n",
			"data: [DONE]\n",
		} {
			w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	r, err := New(descriptorFor(srv.URL, true), zap.NewNop())
	require.NoError(t, err)

	m := r.Do(context.Background(), 1, `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, task.OutcomeOK, m.Outcome)
	require.NotNil(t, m.FirstOutputTS)
	require.NotNil(t, m.TotalTokens)
	assert.Equal(t, int64(9), *m.TotalTokens)
	assert.False(t, m.TokensEstimated)
}

func TestDoNonStreamingHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"delta":{"content":"hello"}}],"usage":{"total_tokens":3}}`))
	}))
	defer srv.Close()

	desc := descriptorFor(srv.URL, false)
	r, err := New(desc, zap.NewNop())
	require.NoError(t, err)

	m := r.Do(context.Background(), 1, `{}`)

	assert.Equal(t, task.OutcomeOK, m.Outcome)
	require.NotNil(t, m.FirstOutputTS)
	require.NotNil(t, m.CompletionTS)
	assert.True(t, m.FirstOutputTS.Equal(*m.CompletionTS), "non-streaming must treat completion as instantaneous")
}

func TestDoHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	r, err := New(descriptorFor(srv.URL, false), zap.NewNop())
	require.NoError(t, err)

	m := r.Do(context.Background(), 1, `{}`)
	assert.Equal(t, task.OutcomeHTTPError, m.Outcome)
	assert.Equal(t, http.StatusInternalServerError, m.HTTPStatus)
}

func TestDoEstimatesTokensWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"choices":[{"delta":{"content":"12345678"}}]}`))
	}))
	defer srv.Close()

	r, err := New(descriptorFor(srv.URL, false), zap.NewNop())
	require.NoError(t, err)

	// 12-char prompt and 8-byte content, both divided by the 4-bytes-
	// per-token heuristic.
	m := r.Do(context.Background(), 1, `{"messages":[{"role":"user","content":"twelve chars"}]}`)
	require.NotNil(t, m.CompletionTokens)
	assert.Equal(t, int64(2), *m.CompletionTokens)
	require.NotNil(t, m.PromptTokens)
	assert.Equal(t, int64(3), *m.PromptTokens)
	assert.True(t, m.TokensEstimated)
}

func TestDoTimesOutOnSlowKeepaliveOnlyStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 50; i++ {
			w.Write([]byte(": keepalive\n"))
			flusher.Flush()
			time.Sleep(30 * time.Millisecond)
		}
	}))
	defer srv.Close()

	desc := descriptorFor(srv.URL, true)
	desc.Timeouts.ReadTimeout = 100 * time.Millisecond
	r, err := New(desc, zap.NewNop())
	require.NoError(t, err)

	m := r.Do(context.Background(), 1, `{}`)
	assert.Equal(t, task.OutcomeTimeout, m.Outcome)
}
