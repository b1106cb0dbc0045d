// Package ramp implements the Scheduler: it admits virtual
// users according to a LoadProfile, tracks the created → ramping →
// running → stopping → stopped|failed state machine, and coordinates
// graceful cancellation.
package ramp

import (
	"context"
	"sync"
	"time"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

// State is one point in the Scheduler's lifecycle.
type State string

const (
	StateCreated  State = "created"
	StateRamping  State = "ramping"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// UserGauge receives live admitted-user counts, satisfied by
// *aggregate.Aggregator.
type UserGauge interface {
	SetCurrentUsers(n int)
}

// SpawnFunc starts one virtual user. It must return once ctx is done
// and stopAdmitting is closed and the user's own loop has exited.
type SpawnFunc func(ctx context.Context, stopAdmitting <-chan struct{}, userID int)

// Scheduler drives admission for one task.
type Scheduler struct {
	profile task.LoadProfile
	spawn   SpawnFunc
	gauge   UserGauge
	grace   time.Duration

	mu    sync.Mutex
	state State

	stopOnce      sync.Once
	stopAdmitting chan struct{}
	hardCancel    context.CancelFunc
	wg            sync.WaitGroup
}

// New constructs a Scheduler. Callers derive grace from the request
// read timeout plus slack; a zero grace falls back to 5s.
func New(profile task.LoadProfile, spawn SpawnFunc, gauge UserGauge, grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Scheduler{
		profile:       profile,
		spawn:         spawn,
		gauge:         gauge,
		grace:         grace,
		state:         StateCreated,
		stopAdmitting: make(chan struct{}),
	}
}

// State returns the Scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run admits users per the configured profile and blocks until the
// task's natural window elapses or Stop is called, then drains. It
// never reaches StateFailed itself; setup failures are the caller's
// responsibility to report before Run is invoked — a Scheduler that
// runs has already passed every start precondition.
func (s *Scheduler) Run(parent context.Context) {
	hardCtx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.hardCancel = cancel
	if s.state != StateCreated {
		// Stop arrived before Run; nothing to admit.
		s.mu.Unlock()
		cancel()
		return
	}
	s.state = StateRamping
	s.mu.Unlock()

	var admitted int
	switch s.profile.Mode {
	case task.LoadModeFixed:
		admitted = s.runFixed(hardCtx)
	case task.LoadModeStepped:
		admitted = s.runStepped(hardCtx)
	}

	s.gauge.SetCurrentUsers(admitted)
	s.advance(StateRamping, StateRunning)

	<-hardCtx.Done()
}

// advance moves from one expected state to the next; it is a no-op if
// Stop has already moved the machine past from.
func (s *Scheduler) advance(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

// runFixed admits floor(spawn_per_s) users each second with
// fractional carry until the target count is active. The duration
// countdown starts the moment the first user is admitted; at expiry
// the countdown goroutine raises the stop signal.
func (s *Scheduler) runFixed(ctx context.Context) int {
	total := s.profile.Users
	perSecond := s.profile.SpawnPerS
	if perSecond <= 0 {
		perSecond = float64(total)
	}

	admitted := 0
	var carry float64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	firstAdmitted := false

	for admitted < total {
		select {
		case <-s.stopAdmitting:
			return admitted
		case <-ctx.Done():
			return admitted
		default:
		}

		carry += perSecond
		batch := int(carry)
		carry -= float64(batch)
		if batch <= 0 {
			batch = 1
		}
		for i := 0; i < batch && admitted < total; i++ {
			admitted++
			s.admit(ctx, admitted)
			if !firstAdmitted {
				firstAdmitted = true
				s.startCountdown(ctx, time.Duration(s.profile.DurationS)*time.Second)
			}
		}
		s.gauge.SetCurrentUsers(admitted)

		if admitted >= total {
			break
		}

		select {
		case <-ticker.C:
		case <-s.stopAdmitting:
			return admitted
		case <-ctx.Done():
			return admitted
		}
	}

	return admitted
}

// startCountdown raises the stop signal after d unless the task is
// torn down first.
func (s *Scheduler) startCountdown(ctx context.Context, d time.Duration) {
	go func() {
		select {
		case <-time.After(d):
			s.Stop()
		case <-ctx.Done():
		}
	}()
}

// runStepped begins at start_users, adds step_increment users every
// step_duration until max_users is reached, holds for the sustain
// window, then stops.
func (s *Scheduler) runStepped(ctx context.Context) int {
	admitted := 0
	for i := 0; i < s.profile.StartUsers; i++ {
		admitted++
		s.admit(ctx, admitted)
	}
	s.gauge.SetCurrentUsers(admitted)

	stepInterval := time.Duration(s.profile.StepDurationS) * time.Second
	ticker := time.NewTicker(stepInterval)
	defer ticker.Stop()

	for admitted < s.profile.MaxUsers {
		select {
		case <-s.stopAdmitting:
			return admitted
		case <-ctx.Done():
			return admitted
		case <-ticker.C:
		}
		for i := 0; i < s.profile.StepIncrement && admitted < s.profile.MaxUsers; i++ {
			admitted++
			s.admit(ctx, admitted)
		}
		s.gauge.SetCurrentUsers(admitted)
	}

	go func() {
		sustain := time.Duration(s.profile.SustainDurationS) * time.Second
		select {
		case <-time.After(sustain):
			s.Stop()
		case <-ctx.Done():
		}
	}()

	return admitted
}

func (s *Scheduler) admit(ctx context.Context, userID int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.spawn(ctx, s.stopAdmitting, userID)
	}()
}

// Stop requests graceful drain: no new users are admitted, in-flight
// requests are given up to the grace window to finish, and any still
// running past that window are force-canceled.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.setState(StateStopping)
		close(s.stopAdmitting)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.grace):
		}

		s.mu.Lock()
		cancel := s.hardCancel
		s.state = StateStopped
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Wait blocks until every admitted user's goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
