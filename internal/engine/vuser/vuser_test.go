package vuser

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

type fakeSampler struct{}

func (fakeSampler) Next() task.Record { return task.Record{Prompt: "hi"} }

type fakeShaper struct{ failAfter int }

func (f *fakeShaper) Shape(record task.Record) (string, error) {
	return `{}`, nil
}

type fakeRequester struct {
	calls atomic.Int64
}

func (f *fakeRequester) Do(ctx context.Context, userID int, body string) task.Measurement {
	f.calls.Add(1)
	now := time.Now()
	return task.Measurement{
		UserID:        userID,
		StartTS:       now,
		FirstOutputTS: &now,
		CompletionTS:  &now,
		EndTS:         now,
		Outcome:       task.OutcomeOK,
	}
}

type fakeAggregator struct {
	mu      sync.Mutex
	samples []task.StageSample
	tokens  []task.Measurement
}

func (f *fakeAggregator) Submit(s task.StageSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
}

func (f *fakeAggregator) RecordTokens(m task.Measurement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, m)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	req := &fakeRequester{}
	agg := &fakeAggregator{}
	u := New(1, fakeSampler{}, &fakeShaper{}, req, agg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		u.Run(ctx, make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Greater(t, req.calls.Load(), int64(0))
}

func TestRunStopsWhenStopChannelCloses(t *testing.T) {
	req := &fakeRequester{}
	agg := &fakeAggregator{}
	u := New(1, fakeSampler{}, &fakeShaper{}, req, agg)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		u.Run(context.Background(), stop)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stop channel closed")
	}

	assert.Greater(t, req.calls.Load(), int64(0))
}

func TestReportEmitsStageSamplesForSuccess(t *testing.T) {
	agg := &fakeAggregator{}
	u := &VirtualUser{id: 1, aggregator: agg}

	now := time.Now()
	later := now.Add(10 * time.Millisecond)
	u.report(task.Measurement{
		StartTS:       now,
		FirstOutputTS: &now,
		CompletionTS:  &later,
		EndTS:         later,
		Outcome:       task.OutcomeOK,
	})

	assert.NotEmpty(t, agg.samples)
	assert.Len(t, agg.tokens, 1)

	hasTotalTime := false
	for _, s := range agg.samples {
		if s.Stage == task.StageTotalTime {
			hasTotalTime = true
			assert.False(t, s.IsFailure)
		}
	}
	assert.True(t, hasTotalTime)
}

func TestReportEmitsFailureStageForNonOK(t *testing.T) {
	agg := &fakeAggregator{}
	u := &VirtualUser{id: 1, aggregator: agg}

	now := time.Now()
	u.report(task.Measurement{StartTS: now, EndTS: now, Outcome: task.OutcomeTimeout})

	failureCount := 0
	for _, s := range agg.samples {
		if s.Stage == task.StageFailure {
			failureCount++
		}
	}
	assert.Equal(t, 1, failureCount)
	assert.Empty(t, agg.tokens, "failed measurements should not be folded into token throughput")
}
