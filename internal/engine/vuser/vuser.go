// Package vuser implements the virtual user: a looping actor
// that repeatedly samples a record, shapes a request, issues it, and
// reports the outcome to the Aggregator until told to stop.
package vuser

import (
	"context"
	"time"

	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/tracing"
)

// Sampler hands out dataset records; satisfied by *sampler.Sampler.
type Sampler interface {
	Next() task.Record
}

// Shaper turns a record into a request body; satisfied by *shaper.Shaper.
type Shaper interface {
	Shape(record task.Record) (string, error)
}

// Requester issues one call and returns its Measurement; satisfied by
// *requester.Requester.
type Requester interface {
	Do(ctx context.Context, userID int, body string) task.Measurement
}

// Aggregator receives StageSamples and token records; satisfied by
// *aggregate.Aggregator.
type Aggregator interface {
	Submit(sample task.StageSample)
	RecordTokens(m task.Measurement)
}

// VirtualUser is one closed-loop actor: no pacing between requests,
// so its throughput is bounded only by the target server's latency.
type VirtualUser struct {
	id         int
	sampler    Sampler
	shaper     Shaper
	requester  Requester
	aggregator Aggregator
	tracer     *tracing.TaskTracer
}

// New constructs a VirtualUser sharing the task-wide Sampler, Shaper,
// Requester, and Aggregator with every other user in the task.
func New(id int, s Sampler, sh Shaper, req Requester, agg Aggregator) *VirtualUser {
	return &VirtualUser{id: id, sampler: s, shaper: sh, requester: req, aggregator: agg, tracer: tracing.NewTaskTracer()}
}

// Run loops until stop is closed or ctx is canceled. Closing stop lets
// the in-flight request finish and the user exit at the next loop
// boundary; canceling ctx aborts the in-flight request too. A
// malformed shaped request (which should never happen once the Shaper
// has been validated) is reported as a parse_error measurement rather
// than aborting the user, per the "user loops catch-all and convert to
// parse_error" propagation policy.
func (u *VirtualUser) Run(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		iterCtx, span := u.tracer.StartVUserIteration(ctx, u.id)

		record := u.sampler.Next()
		body, err := u.shaper.Shape(record)
		if err != nil {
			span.End()
			u.report(task.Measurement{
				UserID:  u.id,
				StartTS: time.Now(),
				EndTS:   time.Now(),
				Outcome: task.OutcomeParseError,
			})
			continue
		}

		m := u.requester.Do(iterCtx, u.id, body)
		span.End()
		u.report(m)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}
	}
}

// report converts one Measurement into its constituent StageSamples
// and submits them, plus the token record, to the Aggregator.
func (u *VirtualUser) report(m task.Measurement) {
	totalMs := durationMs(m.StartTS, m.EndTS)
	isFailure := m.Outcome != task.OutcomeOK

	u.aggregator.Submit(task.StageSample{
		Stage:      task.StageTotalTime,
		Path:       m.APIPath,
		ValueMs:    totalMs,
		ContentLen: m.ContentLengthBytes,
		WallClock:  m.EndTS,
		IsFailure:  isFailure,
	})

	if isFailure {
		u.aggregator.Submit(task.StageSample{
			Stage:     task.StageFailure,
			WallClock: m.EndTS,
			IsFailure: true,
		})
		return
	}

	if m.FirstReasoningTS != nil {
		u.aggregator.Submit(task.StageSample{
			Stage:     task.StageFirstReasoningToken,
			ValueMs:   durationMs(m.StartTS, *m.FirstReasoningTS),
			WallClock: m.EndTS,
		})
	}
	if m.FirstOutputTS != nil {
		u.aggregator.Submit(task.StageSample{
			Stage:     task.StageFirstOutputToken,
			ValueMs:   durationMs(m.StartTS, *m.FirstOutputTS),
			WallClock: m.EndTS,
		})
		if m.CompletionTS != nil {
			u.aggregator.Submit(task.StageSample{
				Stage:     task.StageOutputCompletion,
				ValueMs:   durationMs(*m.FirstOutputTS, *m.CompletionTS),
				WallClock: m.EndTS,
			})
		}
	}

	u.aggregator.RecordTokens(m)
}

func durationMs(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}
