package ramp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

type gaugeRecorder struct{ last atomic.Int64 }

func (g *gaugeRecorder) SetCurrentUsers(n int) { g.last.Store(int64(n)) }

// loopingSpawn mimics a virtual user: it stays alive until stop or ctx,
// recording each admission.
func loopingSpawn(admitted *atomic.Int64, admitTimes *sync.Map) SpawnFunc {
	return func(ctx context.Context, stop <-chan struct{}, userID int) {
		admitted.Add(1)
		if admitTimes != nil {
			admitTimes.Store(userID, time.Now())
		}
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}
}

func TestFixedModeAdmitsUsersAndStopsAtDuration(t *testing.T) {
	var admitted atomic.Int64
	gauge := &gaugeRecorder{}
	profile := task.LoadProfile{Mode: task.LoadModeFixed, Users: 2, SpawnPerS: 2, DurationS: 1}

	s := New(profile, loopingSpawn(&admitted, nil), gauge, 200*time.Millisecond)
	assert.Equal(t, StateCreated, s.State())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after duration expiry")
	}

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, int64(2), admitted.Load())
	assert.Equal(t, int64(2), gauge.last.Load())
}

func TestFixedModeSpawnRateSpacesAdmissions(t *testing.T) {
	var admitted atomic.Int64
	var admitTimes sync.Map
	gauge := &gaugeRecorder{}
	profile := task.LoadProfile{Mode: task.LoadModeFixed, Users: 3, SpawnPerS: 1, DurationS: 10}

	s := New(profile, loopingSpawn(&admitted, &admitTimes), gauge, 100*time.Millisecond)
	go s.Run(context.Background())

	// One user per second: after ~2.5s the third user should just have
	// been admitted, each roughly a second apart.
	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(3), admitted.Load())
	t1, ok1 := admitTimes.Load(1)
	t3, ok3 := admitTimes.Load(3)
	if assert.True(t, ok1 && ok3) {
		gap := t3.(time.Time).Sub(t1.(time.Time))
		assert.Greater(t, gap, 1500*time.Millisecond)
	}
}

func TestSteppedModeReachesMaxUsers(t *testing.T) {
	var admitted atomic.Int64
	gauge := &gaugeRecorder{}
	profile := task.LoadProfile{
		Mode:             task.LoadModeStepped,
		StartUsers:       1,
		StepIncrement:    1,
		StepDurationS:    1,
		SustainDurationS: 1,
		MaxUsers:         2,
	}

	s := New(profile, loopingSpawn(&admitted, nil), gauge, 200*time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stepped scheduler did not stop after sustain window")
	}

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, int64(2), admitted.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	var admitted atomic.Int64
	gauge := &gaugeRecorder{}
	profile := task.LoadProfile{Mode: task.LoadModeFixed, Users: 1, SpawnPerS: 1, DurationS: 60}

	s := New(profile, loopingSpawn(&admitted, nil), gauge, 100*time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	s.Stop()
	s.Stop() // must not panic or block

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after Stop")
	}
	assert.Equal(t, StateStopped, s.State())
}

func TestStopBeforeFirstAdmissionStillTerminates(t *testing.T) {
	var admitted atomic.Int64
	gauge := &gaugeRecorder{}
	profile := task.LoadProfile{Mode: task.LoadModeFixed, Users: 100, SpawnPerS: 1, DurationS: 60}

	s := New(profile, loopingSpawn(&admitted, nil), gauge, 100*time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.LessOrEqual(t, admitted.Load(), int64(2))
}
