package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

type recordingTerminalSink struct {
	summary task.Summary
	written bool
}

func (s *recordingTerminalSink) WriteSummary(ctx context.Context, summary task.Summary) error {
	s.summary = summary
	s.written = true
	return nil
}

type recordingRealtimeSink struct {
	points []task.RealtimePoint
}

func (s *recordingRealtimeSink) WriteRealtimePoint(ctx context.Context, taskID uuid.UUID, point task.RealtimePoint) error {
	s.points = append(s.points, point)
	return nil
}

func fixedDescriptor(baseURL string) *task.Descriptor {
	return &task.Descriptor{
		TaskID:        uuid.New(),
		Name:          "smoke",
		APIKind:       task.APIKindOpenAIChat,
		TargetBaseURL: baseURL,
		StreamMode:    true,
		Dataset:       task.DatasetDefaultText,
		LoadProfile: task.LoadProfile{
			Mode:      task.LoadModeFixed,
			Users:     2,
			SpawnPerS: 2,
			DurationS: 1,
		},
		Timeouts: task.Timeouts{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second},
	}
}

func TestStartAwaitHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hi"}}]}` + "\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	rt := New(Config{StopGracePeriod: 500 * time.Millisecond}, zap.NewNop())
	terminal := &recordingTerminalSink{}
	realtime := &recordingRealtimeSink{}

	h, err := rt.Start(context.Background(), fixedDescriptor(srv.URL), terminal, realtime)
	require.NoError(t, err)

	summary, err := h.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, task.StateStopped, summary.State)
	assert.True(t, terminal.written)
	assert.Greater(t, summary.Stages[task.StageTotalTime].RequestCount, int64(0))
}

func TestDefaultReadTimeoutIsHalfTaskDurationCapped(t *testing.T) {
	short := task.LoadProfile{Mode: task.LoadModeFixed, Users: 1, SpawnPerS: 1, DurationS: 1}
	assert.Equal(t, 500*time.Millisecond, defaultReadTimeout(short, 600*time.Second))

	long := task.LoadProfile{Mode: task.LoadModeFixed, Users: 1, SpawnPerS: 1, DurationS: 172800}
	assert.Equal(t, 600*time.Second, defaultReadTimeout(long, 600*time.Second))

	stepped := task.LoadProfile{
		Mode:             task.LoadModeStepped,
		StartUsers:       1,
		StepIncrement:    1,
		StepDurationS:    10,
		SustainDurationS: 20,
		MaxUsers:         3,
	}
	// two 10s steps plus a 20s sustain, halved
	assert.Equal(t, 20*time.Second, defaultReadTimeout(stepped, 600*time.Second))
}

func TestStartRejectsInvalidDescriptor(t *testing.T) {
	rt := New(Config{}, zap.NewNop())
	_, err := rt.Start(context.Background(), &task.Descriptor{}, nil, nil)
	require.Error(t, err)
	var descErr *DescriptorError
	assert.ErrorAs(t, err, &descErr)
}

func TestStartRejectsUnreachableHost(t *testing.T) {
	rt := New(Config{ConnectTimeout: 200 * time.Millisecond}, zap.NewNop())
	desc := fixedDescriptor("http://127.0.0.1:1")
	_, err := rt.Start(context.Background(), desc, nil, nil)
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestStartRejectsMalformedInlineDataset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rt := New(Config{}, zap.NewNop())
	desc := fixedDescriptor(srv.URL)
	desc.Dataset = task.DatasetInlineJSONL
	desc.DatasetInline = "not jsonl"

	_, err := rt.Start(context.Background(), desc, nil, nil)
	require.Error(t, err)
	var datasetErr *DatasetError
	assert.ErrorAs(t, err, &datasetErr)
}

func TestStopIsIdempotentAndMetricsStreamFiltersBySince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 20; i++ {
			w.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n"))
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
		w.Write([]byte("data: [DONE]\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	rt := New(Config{TickInterval: 20 * time.Millisecond, StopGracePeriod: time.Second}, zap.NewNop())
	desc := fixedDescriptor(srv.URL)
	desc.LoadProfile.DurationS = 60

	h, err := rt.Start(context.Background(), desc, nil, nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	h.Stop()
	h.Stop() // second call must be a no-op, not a panic or block

	summary, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []task.TerminalState{task.StateStopped, task.StateStoppedSinkDegraded}, summary.State)

	all := h.MetricsStream(-1)
	if len(all) > 1 {
		filtered := h.MetricsStream(all[0].TimestampS)
		assert.Less(t, len(filtered), len(all))
	}
}
