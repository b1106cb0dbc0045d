package aggregate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

func TestSubmitAccumulatesStageAndPathBuckets(t *testing.T) {
	agg := New(uuid.New(), Config{TickInterval: time.Hour})
	defer agg.Stop()

	agg.Submit(task.StageSample{Stage: task.StageTotalTime, Path: "/v1/chat/completions", ValueMs: 100})
	agg.Submit(task.StageSample{Stage: task.StageTotalTime, Path: "/v1/chat/completions", ValueMs: 200})
	agg.Submit(task.StageSample{Stage: task.StageFailure, IsFailure: true})

	summary := agg.Summary()
	require.Contains(t, summary.Stages, task.StageTotalTime)
	assert.Equal(t, int64(2), summary.Stages[task.StageTotalTime].RequestCount)
	assert.Equal(t, float64(150), summary.Stages[task.StageTotalTime].AvgResponseTime)

	require.Contains(t, summary.Paths, "/v1/chat/completions")
	assert.Equal(t, int64(2), summary.Paths["/v1/chat/completions"].RequestCount)

	assert.Equal(t, int64(1), summary.Stages[task.StageFailure].FailureCount)
}

func TestFailureStageCountMatchesNonOKOutcomes(t *testing.T) {
	agg := New(uuid.New(), Config{TickInterval: time.Hour})
	defer agg.Stop()

	for i := 0; i < 3; i++ {
		agg.Submit(task.StageSample{Stage: task.StageTotalTime, ValueMs: 10})
	}
	agg.Submit(task.StageSample{Stage: task.StageTotalTime, IsFailure: true})

	summary := agg.Summary()
	assert.Equal(t, int64(4), summary.Stages[task.StageTotalTime].RequestCount)
	assert.Equal(t, int64(1), summary.Stages[task.StageTotalTime].FailureCount)
}

func TestRecordTokensComputesThroughput(t *testing.T) {
	agg := New(uuid.New(), Config{TickInterval: time.Hour})
	defer agg.Stop()

	total := int64(100)
	completion := int64(60)
	agg.RecordTokens(task.Measurement{Outcome: task.OutcomeOK, TotalTokens: &total, CompletionTokens: &completion})
	agg.RecordTokens(task.Measurement{Outcome: task.OutcomeHTTPError, TotalTokens: &total})

	summary := agg.Summary()
	assert.Equal(t, float64(100), summary.Tokens.AvgTotalTokensPerRequest)
	assert.Equal(t, float64(60), summary.Tokens.AvgCompletionTokensPerReq)
}

func TestRealtimeTickEmitsPoint(t *testing.T) {
	agg := New(uuid.New(), Config{TickInterval: 20 * time.Millisecond})
	defer agg.Stop()

	agg.SetCurrentUsers(3)
	agg.Submit(task.StageSample{Stage: task.StageTotalTime, ValueMs: 50})

	select {
	case point := <-agg.Realtime():
		assert.Equal(t, 3, point.CurrentUsers)
	case <-time.After(time.Second):
		t.Fatal("expected a realtime point within 1s")
	}
}

func TestPercentilesAreMonotonic(t *testing.T) {
	agg := New(uuid.New(), Config{TickInterval: time.Hour, ReservoirCapacity: 1000})
	defer agg.Stop()

	for i := 1; i <= 100; i++ {
		agg.Submit(task.StageSample{Stage: task.StageTotalTime, ValueMs: float64(i)})
	}

	summary := agg.Summary()
	s := summary.Stages[task.StageTotalTime]
	assert.LessOrEqual(t, s.Percentile50, s.Percentile90)
	assert.LessOrEqual(t, s.Percentile90, s.Percentile95)
}
