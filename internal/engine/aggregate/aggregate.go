// Package aggregate implements the Aggregator: it accepts
// StageSample submissions from every virtual user, rolls them into
// per-stage and per-path buckets, and emits RealtimePoints at a fixed
// tick plus a terminal Summary at task end.
package aggregate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

// Config tunes the Aggregator's tick cadence and reservoir size; both
// come from the engine-wide defaults unless a task overrides them.
type Config struct {
	TickInterval      time.Duration
	ReservoirCapacity int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.ReservoirCapacity <= 0 {
		c.ReservoirCapacity = 100000
	}
	return c
}

type bucket struct {
	mu            sync.Mutex
	count         int64
	failures      int64
	sum           float64
	min           float64
	max           float64
	contentLenSum int64
	res           *reservoir
}

func newBucket(cap int) *bucket {
	return &bucket{res: newReservoir(cap)}
}

func (b *bucket) add(valueMs float64, contentLen int64, isFailure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	if isFailure {
		b.failures++
		return
	}
	b.sum += valueMs
	b.contentLenSum += contentLen
	if b.count == b.failures+1 || valueMs < b.min {
		b.min = valueMs
	}
	if valueMs > b.max {
		b.max = valueMs
	}
	b.res.add(valueMs)
}

func (b *bucket) snapshot(startedAt time.Time) task.AggregateBucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	successCount := b.count - b.failures
	var avgLen float64
	if successCount > 0 {
		avgLen = float64(b.contentLenSum) / float64(successCount)
	}
	elapsed := time.Since(startedAt).Seconds()
	var rps float64
	if elapsed > 0 {
		rps = float64(b.count) / elapsed
	}
	return task.AggregateBucket{
		Count:         b.count,
		Failures:      b.failures,
		Sum:           b.sum,
		Min:           b.min,
		Max:           b.max,
		P50:           b.res.percentile(50),
		P90:           b.res.percentile(90),
		P95:           b.res.percentile(95),
		RunningRPS:    rps,
		AvgContentLen: avgLen,
	}
}

// Aggregator is constructed once per task and shared by every virtual
// user and the Scheduler.
type Aggregator struct {
	taskID       uuid.UUID
	cfg          Config
	startedAt    time.Time
	mu           sync.Mutex
	stages       map[task.StageName]*bucket
	paths        map[string]*bucket
	currentUsers atomic.Int64
	tickCount    atomic.Int64
	tickFailures atomic.Int64

	totalTokens            atomic.Int64
	completionTokens       atomic.Int64
	tokenRequests          atomic.Int64
	estimatedTokenRequests atomic.Int64

	realtimeCh chan task.RealtimePoint
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New constructs an Aggregator for taskID and starts its realtime tick
// loop. Callers must call Stop to release the ticker goroutine.
func New(taskID uuid.UUID, cfg Config) *Aggregator {
	cfg = cfg.withDefaults()
	a := &Aggregator{
		taskID:     taskID,
		cfg:        cfg,
		startedAt:  time.Now(),
		stages:     make(map[task.StageName]*bucket),
		paths:      make(map[string]*bucket),
		realtimeCh: make(chan task.RealtimePoint, 64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go a.tickLoop()
	return a
}

// Realtime returns the channel RealtimePoints are published on.
func (a *Aggregator) Realtime() <-chan task.RealtimePoint {
	return a.realtimeCh
}

// SetCurrentUsers is called by the Scheduler as users are admitted or
// retired so RealtimePoints report a live gauge.
func (a *Aggregator) SetCurrentUsers(n int) {
	a.currentUsers.Store(int64(n))
}

// Submit records one StageSample into its stage bucket and, when the
// sample carries a path, into that path's bucket too. Every completed
// request contributes a total-time sample and may also contribute a
// per-path sample.
func (a *Aggregator) Submit(sample task.StageSample) {
	a.bucketFor(sample.Stage).add(sample.ValueMs, sample.ContentLen, sample.IsFailure)
	if sample.Path != "" {
		a.pathBucketFor(sample.Path).add(sample.ValueMs, sample.ContentLen, sample.IsFailure)
	}
	if sample.Stage == task.StageTotalTime {
		a.tickCount.Add(1)
		if sample.IsFailure {
			a.tickFailures.Add(1)
		}
	}
}

// RecordTokens folds one request's token counts into the whole-task
// throughput record; it is separate from Submit because token counts
// live on the Measurement, not on any one StageSample.
func (a *Aggregator) RecordTokens(m task.Measurement) {
	if m.Outcome != task.OutcomeOK {
		return
	}
	a.tokenRequests.Add(1)
	if m.TokensEstimated {
		a.estimatedTokenRequests.Add(1)
	}
	if m.TotalTokens != nil {
		a.totalTokens.Add(*m.TotalTokens)
	}
	if m.CompletionTokens != nil {
		a.completionTokens.Add(*m.CompletionTokens)
	}
}

func (a *Aggregator) bucketFor(name task.StageName) *bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.stages[name]
	if !ok {
		b = newBucket(a.cfg.ReservoirCapacity)
		a.stages[name] = b
	}
	return b
}

func (a *Aggregator) pathBucketFor(path string) *bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.paths[path]
	if !ok {
		b = newBucket(a.cfg.ReservoirCapacity)
		a.paths[path] = b
	}
	return b
}

func (a *Aggregator) tickLoop() {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	defer close(a.doneCh)

	for {
		select {
		case <-ticker.C:
			a.emitTick()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Aggregator) emitTick() {
	count := a.tickCount.Swap(0)
	failures := a.tickFailures.Swap(0)
	seconds := a.cfg.TickInterval.Seconds()

	totalBucket := a.bucketFor(task.StageTotalTime)
	snap := totalBucket.snapshot(a.startedAt)

	point := task.RealtimePoint{
		TimestampS:        int64(time.Since(a.startedAt).Seconds()),
		CurrentUsers:      int(a.currentUsers.Load()),
		CurrentRPS:        float64(count) / seconds,
		CurrentFailPerSec: float64(failures) / seconds,
		AvgResponseTimeMs: avgFromSnapshot(snap),
		P95ResponseTimeMs: snap.P95,
	}

	select {
	case a.realtimeCh <- point:
	default:
		// A slow realtime consumer must never block the hot path;
		// the terminal summary remains exact regardless.
	}
}

func avgFromSnapshot(b task.AggregateBucket) float64 {
	successes := b.Count - b.Failures
	if successes == 0 {
		return 0
	}
	return b.Sum / float64(successes)
}

// Stop halts the tick loop and closes the realtime channel once the
// loop goroutine has exited.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	<-a.doneCh
	close(a.realtimeCh)
}

// Summary produces the terminal rollup: per-stage and per-path
// StageSummary records plus whole-task TokenMetrics.
func (a *Aggregator) Summary() task.Summary {
	a.mu.Lock()
	stageNames := make([]task.StageName, 0, len(a.stages))
	for name := range a.stages {
		stageNames = append(stageNames, name)
	}
	pathNames := make([]string, 0, len(a.paths))
	for name := range a.paths {
		pathNames = append(pathNames, name)
	}
	a.mu.Unlock()

	stages := make(map[task.StageName]task.StageSummary, len(stageNames))
	for _, name := range stageNames {
		stages[name] = a.stageSummary(string(name), a.bucketFor(name))
	}
	paths := make(map[string]task.StageSummary, len(pathNames))
	for _, name := range pathNames {
		paths[name] = a.stageSummary(name, a.pathBucketFor(name))
	}

	return task.Summary{
		TaskID: a.taskID,
		Stages: stages,
		Paths:  paths,
		Tokens: a.tokenMetrics(),
	}
}

func (a *Aggregator) tokenMetrics() task.TokenMetrics {
	elapsed := time.Since(a.startedAt).Seconds()
	requests := a.tokenRequests.Load()
	total := a.totalTokens.Load()
	completion := a.completionTokens.Load()

	var totalTPS, completionTPS, avgTotal, avgCompletion float64
	if elapsed > 0 {
		totalTPS = float64(total) / elapsed
		completionTPS = float64(completion) / elapsed
	}
	if requests > 0 {
		avgTotal = float64(total) / float64(requests)
		avgCompletion = float64(completion) / float64(requests)
	}

	return task.TokenMetrics{
		TaskID:                    a.taskID,
		TotalTPS:                  totalTPS,
		CompletionTPS:             completionTPS,
		AvgTotalTokensPerRequest:  avgTotal,
		AvgCompletionTokensPerReq: avgCompletion,
		EstimatedTokenRequests:    a.estimatedTokenRequests.Load(),
	}
}

func (a *Aggregator) stageSummary(metricType string, b *bucket) task.StageSummary {
	snap := b.snapshot(a.startedAt)
	return task.StageSummary{
		TaskID:           a.taskID,
		MetricType:       metricType,
		RequestCount:     snap.Count,
		FailureCount:     snap.Failures,
		AvgResponseTime:  avgFromSnapshot(snap),
		MinResponseTime:  snap.Min,
		MaxResponseTime:  snap.Max,
		Percentile50:     snap.P50,
		Percentile90:     snap.P90,
		Percentile95:     snap.P95,
		RPS:              snap.RunningRPS,
		AvgContentLength: snap.AvgContentLen,
	}
}
