package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
	"github.com/nerrad567/gray-logic-runtime/internal/transition"
)

// sink implements every sink interface and records what it was given.
type sink struct {
	mu         sync.Mutex
	published  map[string]bool // topic -> retained
	points     []influxdb.TransitionPoint
	statuses   []string
	broadcasts []string
	recorded   []string
	recordErr  error
}

func newSink() *sink {
	return &sink{published: make(map[string]bool)}
}

func (s *sink) PublishJSON(topic string, _ any, retained bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[topic] = retained
	return nil
}

func (s *sink) WriteTransition(p influxdb.TransitionPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
}

func (s *sink) WriteDeviceStatus(deviceID, _, status string, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, deviceID+"="+status)
}

func (s *sink) Broadcast(channel string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, channel)
}

func (s *sink) Record(_ context.Context, r *transition.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, r.ID)
	return s.recordErr
}

func (s *sink) broadcastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.broadcasts)
}

func allSinks(s *sink) []Option {
	return []Option{WithPublisher(s), WithPointWriter(s), WithRecorder(s), WithBroadcaster(s)}
}

// runDispatcher runs d until the test ends.
func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testReport() *transition.Report {
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return &transition.Report{
		ID:         "t-1",
		RecipeID:   "evening",
		PreviousID: "default",
		StartedAt:  start,
		FinishedAt: start.Add(250 * time.Millisecond),
		Devices: []transition.DeviceResult{
			{Outcome: transition.OutcomeStarted},
			{Outcome: transition.OutcomeStarted},
			{Outcome: transition.OutcomeStopped},
		},
		Committed: true,
		Persisted: true,
	}
}

func TestDispatcher_TransitionReachesEverySink(t *testing.T) {
	s := newSink()
	d := New(allSinks(s)...)
	runDispatcher(t, d)

	d.TransitionApplied(context.Background(), testReport())
	waitFor(t, func() bool { return s.broadcastCount() == 1 })

	s.mu.Lock()
	defer s.mu.Unlock()
	if diff := cmp.Diff([]string{"t-1"}, s.recorded); diff != "" {
		t.Errorf("recorded mismatch (-want +got):\n%s", diff)
	}
	if retained, ok := s.published["graylogic/runtime/transition"]; !ok || !retained {
		t.Errorf("published = %v, want retained transition topic", s.published)
	}
	want := influxdb.TransitionPoint{
		RecipeID:  "evening",
		Committed: true,
		Persisted: true,
		Outcomes:  map[string]int{"started": 2, "restarted": 0, "stopped": 1, "failed": 0, "unchanged": 0},
		Duration:  250 * time.Millisecond,
		At:        time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff([]influxdb.TransitionPoint{want}, s.points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{TypeTransitionApplied}, s.broadcasts); diff != "" {
		t.Errorf("broadcasts mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_RecorderErrorDoesNotStopDelivery(t *testing.T) {
	s := newSink()
	s.recordErr = errors.New("disk full")
	d := New(allSinks(s)...)
	runDispatcher(t, d)

	d.TransitionApplied(context.Background(), testReport())
	waitFor(t, func() bool { return s.broadcastCount() == 1 })
}

func TestDispatcher_DeviceStatus(t *testing.T) {
	s := newSink()
	d := New(allSinks(s)...)
	runDispatcher(t, d)

	id := device.MustParseID("0b6e2c1e-6f0a-4c3b-9a53-2f1b4a6c7d8e")
	d.StatusChanged(actor.StatusChange{
		ID:         id,
		Name:       "clock",
		DeviceType: "timer_tick",
		Status:     actor.StatusFailed,
		Err:        errors.New("boom"),
		At:         time.Now(),
	})
	waitFor(t, func() bool { return s.broadcastCount() == 1 })

	s.mu.Lock()
	defer s.mu.Unlock()
	topic := "graylogic/runtime/device/" + id.String() + "/status"
	if retained, ok := s.published[topic]; !ok || !retained {
		t.Errorf("published = %v, want retained %s", s.published, topic)
	}
	if diff := cmp.Diff([]string{id.String() + "=failed"}, s.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if len(s.recorded) != 0 {
		t.Errorf("device status was recorded as a transition: %v", s.recorded)
	}
}

func TestDispatcher_FileChangeIsNotRetained(t *testing.T) {
	s := newSink()
	d := New(allSinks(s)...)
	runDispatcher(t, d)

	d.RecipeFileChanged(recipe.ExternalChange{Path: "/data/recipes.json"})
	waitFor(t, func() bool { return s.broadcastCount() == 1 })

	s.mu.Lock()
	defer s.mu.Unlock()
	if retained, ok := s.published["graylogic/runtime/events/recipe_file_changed"]; !ok || retained {
		t.Errorf("published = %v, want non-retained file change event", s.published)
	}
}

func TestDispatcher_LateBroadcaster(t *testing.T) {
	s := newSink()
	d := New()
	runDispatcher(t, d)

	d.StatusChanged(actor.StatusChange{Status: actor.StatusRunning})
	d.SetBroadcaster(s)
	d.StatusChanged(actor.StatusChange{Status: actor.StatusStopped})
	waitFor(t, func() bool { return s.broadcastCount() >= 1 })
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	d := New(WithQueueSize(1))
	d.StatusChanged(actor.StatusChange{Status: actor.StatusRunning})
	d.StatusChanged(actor.StatusChange{Status: actor.StatusStopped})
	d.TransitionApplied(context.Background(), nil)

	if got := d.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestDispatcher_RunDrainsOnCancel(t *testing.T) {
	s := newSink()
	d := New(allSinks(s)...)
	d.TransitionApplied(context.Background(), testReport())
	d.StatusChanged(actor.StatusChange{Status: actor.StatusRunning})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := s.broadcastCount(); got != 2 {
		t.Errorf("broadcasts after drain = %d, want 2", got)
	}
}
