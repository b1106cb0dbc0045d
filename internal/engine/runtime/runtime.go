// Package runtime implements the TaskRuntime: it wires Sampler,
// PayloadShaper, Requester, Aggregator, and Scheduler into one task,
// exposing the start/stop/await/metrics_stream contract external
// callers (the HTTP surface, the CLI) use without ever reaching into
// the engine's internals directly.
package runtime

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/engine/aggregate"
	"github.com/evanreyes/promptloom/internal/engine/apikind"
	"github.com/evanreyes/promptloom/internal/engine/ramp"
	"github.com/evanreyes/promptloom/internal/engine/requester"
	"github.com/evanreyes/promptloom/internal/engine/sampler"
	"github.com/evanreyes/promptloom/internal/engine/shaper"
	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/engine/vuser"
	"github.com/evanreyes/promptloom/internal/tracing"
)

// Config tunes the defaults TaskRuntime applies when a descriptor
// leaves a field unset. Values come from the engine section of
// shared/config.
type Config struct {
	ConnectTimeout     time.Duration
	DefaultReadTimeout time.Duration
	TickInterval       time.Duration
	ReservoirCapacity  int
	StopGracePeriod    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.DefaultReadTimeout <= 0 {
		c.DefaultReadTimeout = 600 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.ReservoirCapacity <= 0 {
		c.ReservoirCapacity = 100000
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = 5 * time.Second
	}
	return c
}

// TerminalSink persists one task's finished Summary. The engine treats
// it as a black box; callers implement it on top of
// repository.TaskRepository and wire it in, so this package never
// imports persistence directly.
type TerminalSink interface {
	WriteSummary(ctx context.Context, summary task.Summary) error
}

// RealtimeSink receives each RealtimePoint as the Aggregator produces
// it, for callers that want to fan points out (e.g. the WebSocket hub)
// beyond the in-process MetricsStream buffer.
type RealtimeSink interface {
	WriteRealtimePoint(ctx context.Context, taskID uuid.UUID, point task.RealtimePoint) error
}

// sinkMaxAttempts bounds the retry policy for both sink kinds: after
// this many failed attempts the write is abandoned and logged.
const sinkMaxAttempts = 3

// Runtime constructs Handles. One Runtime is shared by every task a
// process runs; it holds no per-task state itself, per the "TaskRuntime
// owns and outlives all components" design note — per-task state lives
// entirely on the Handle.
type Runtime struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runtime.
func New(cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cfg: cfg.withDefaults(), logger: logger}
}

// Start validates descriptor, materializes its defaults, resolves the
// dataset, probes the target host, and builds the HTTP client before
// admitting a single virtual user. Start either returns a running
// Handle or a setup error; on error no task is created and nothing
// needs to be torn down.
func (rt *Runtime) Start(ctx context.Context, descriptor *task.Descriptor, terminalSink TerminalSink, realtimeSink RealtimeSink) (*Handle, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, &DescriptorError{Err: err}
	}

	materialized := *descriptor
	apikind.For(materialized.APIKind).Merge(&materialized)
	if materialized.Timeouts.ConnectTimeout <= 0 {
		materialized.Timeouts.ConnectTimeout = rt.cfg.ConnectTimeout
	}
	if materialized.Timeouts.ReadTimeout <= 0 {
		materialized.Timeouts.ReadTimeout = defaultReadTimeout(materialized.LoadProfile, rt.cfg.DefaultReadTimeout)
	}

	smp, err := sampler.New(&materialized)
	if err != nil {
		return nil, &DatasetError{Err: err}
	}

	shp := shaper.New(&materialized)
	if err := shp.Validate(); err != nil {
		return nil, &DescriptorError{Err: err}
	}

	if err := probeReachable(ctx, materialized.TargetBaseURL, materialized.Timeouts.ConnectTimeout); err != nil {
		return nil, &TransportError{Err: err}
	}

	req, err := requester.New(&materialized, rt.logger)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	logger := rt.logger.With(zap.String("task_id", materialized.TaskID.String()), zap.String("task_name", materialized.Name))

	agg := aggregate.New(materialized.TaskID, aggregate.Config{
		TickInterval:      rt.cfg.TickInterval,
		ReservoirCapacity: rt.cfg.ReservoirCapacity,
	})

	h := &Handle{
		descriptor:   &materialized,
		logger:       logger,
		agg:          agg,
		startedAt:    time.Now(),
		done:         make(chan struct{}),
		terminalSink: terminalSink,
		realtimeSink: realtimeSink,
	}

	spawn := func(spawnCtx context.Context, stopAdmitting <-chan struct{}, userID int) {
		vu := vuser.New(userID, smp, shp, req, agg)
		vu.Run(spawnCtx, stopAdmitting)
	}
	// The grace window must cover a full in-flight request: read
	// timeout plus the configured slack.
	grace := materialized.Timeouts.ReadTimeout + rt.cfg.StopGracePeriod
	h.sched = ramp.New(materialized.LoadProfile, spawn, agg, grace)

	baseCtx, taskSpan := tracing.NewTaskTracer().StartTask(context.Background(), materialized.TaskID.String(), materialized.Name)
	h.taskSpan = taskSpan

	runCtx, cancel := context.WithCancel(baseCtx)
	h.cancel = cancel

	go h.drainRealtime(runCtx)
	go h.run(runCtx)

	return h, nil
}

// defaultReadTimeout derives the per-request read budget when the
// descriptor leaves it unset: half the task's configured duration,
// capped at upper. A short task must not let a hung server pin a
// request (and therefore the task) far past its own window.
func defaultReadTimeout(profile task.LoadProfile, upper time.Duration) time.Duration {
	half := profile.TotalDuration() / 2
	if half <= 0 || half > upper {
		return upper
	}
	return half
}

// probeReachable performs a single TCP dial against the target host so
// an unreachable endpoint fails the task before any user is admitted.
func probeReachable(ctx context.Context, baseURL string, connectTimeout time.Duration) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("target_base_url: %w", err)
	}
	host := u.Host
	if host == "" {
		return fmt.Errorf("target_base_url: missing host")
	}
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return fmt.Errorf("warm-up probe: %w", err)
	}
	conn.Close()
	return nil
}

// Handle is the only thing callers outside this package touch once a
// task is running.
type Handle struct {
	descriptor *task.Descriptor
	logger     *zap.Logger

	agg    *aggregate.Aggregator
	sched  *ramp.Scheduler
	cancel context.CancelFunc

	startedAt time.Time

	stopOnce sync.Once

	mu       sync.RWMutex
	points   []task.RealtimePoint
	summary  task.Summary
	finished bool

	done chan struct{}

	taskSpan trace.Span

	terminalSink TerminalSink
	realtimeSink RealtimeSink
}

// TaskID returns the id of the descriptor this Handle was started from.
func (h *Handle) TaskID() uuid.UUID { return h.descriptor.TaskID }

// State reports the Scheduler's current lifecycle state, for operators
// polling a task that has not yet reached its terminal state.
func (h *Handle) State() ramp.State { return h.sched.State() }

// Stop requests graceful drain. Idempotent: subsequent calls are
// no-ops. It blocks up to the configured grace period while in-flight
// users finish, matching the Scheduler's own Stop contract.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.sched.Stop()
	})
}

// Await blocks until the task reaches its terminal state and returns
// the terminal summary.
func (h *Handle) Await(ctx context.Context) (task.Summary, error) {
	select {
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.summary, nil
	case <-ctx.Done():
		return task.Summary{}, ctx.Err()
	}
}

// MetricsStream returns RealtimePoints with timestamps strictly greater
// than sinceTS, for incremental polling by the external API.
func (h *Handle) MetricsStream(sinceTS int64) []task.RealtimePoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]task.RealtimePoint, 0, len(h.points))
	for _, p := range h.points {
		if p.TimestampS > sinceTS {
			out = append(out, p)
		}
	}
	return out
}

// run drives the task from ramping through its terminal state. It is
// the only writer of h.summary/h.finished, and closes h.done exactly
// once.
func (h *Handle) run(ctx context.Context) {
	h.sched.Run(ctx)
	h.agg.Stop()

	summary := h.agg.Summary()
	summary.State = task.StateStopped
	summary.StartedAt = h.startedAt
	summary.FinishedAt = time.Now()

	if h.terminalSink != nil {
		writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ok := withRetry(writeCtx, h.logger, "terminal summary", func() error {
			return h.terminalSink.WriteSummary(writeCtx, summary)
		})
		cancel()
		if !ok {
			summary.State = task.StateStoppedSinkDegraded
			summary.Diagnostic = "terminal summary sink unavailable after retries"
		}
	}

	h.mu.Lock()
	h.summary = summary
	h.finished = true
	h.mu.Unlock()

	if h.taskSpan != nil {
		h.taskSpan.End()
	}
	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
}

// drainRealtime forwards every RealtimePoint the Aggregator produces
// into the in-process buffer MetricsStream reads from, and best-effort
// into the external realtime sink.
func (h *Handle) drainRealtime(ctx context.Context) {
	for point := range h.agg.Realtime() {
		h.mu.Lock()
		h.points = append(h.points, point)
		h.mu.Unlock()

		if h.realtimeSink == nil {
			continue
		}
		p := point
		withRetry(ctx, h.logger, "realtime point", func() error {
			return h.realtimeSink.WriteRealtimePoint(ctx, h.descriptor.TaskID, p)
		})
	}
}

// withRetry applies bounded exponential backoff to a sink write. It
// never fails the task; it logs and returns false once attempts are
// exhausted so the caller can degrade a terminal summary write while
// treating realtime writes as best-effort.
func withRetry(ctx context.Context, logger *zap.Logger, what string, fn func() error) bool {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= sinkMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return true
		}
		if attempt == sinkMaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = sinkMaxAttempts
		}
	}
	logger.Warn("sink write failed after retries", zap.String("sink", what), zap.Error(lastErr))
	return false
}
