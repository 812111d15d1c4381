package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
	"github.com/nerrad567/gray-logic-runtime/internal/transition"
)

// DefaultQueueSize bounds the events waiting for delivery.
const DefaultQueueSize = 256

// Publisher publishes to MQTT. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// PointWriter writes time-series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteTransition(p influxdb.TransitionPoint)
	WriteDeviceStatus(deviceID, deviceType, status string, at time.Time)
}

// Broadcaster pushes to WebSocket clients subscribed to a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Recorder stores transition reports. *history.SQLiteRepository satisfies it.
type Recorder interface {
	Record(ctx context.Context, report *transition.Report) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type event struct {
	kind    string
	payload any
}

// Dispatcher queues events and delivers them to the configured sinks.
// Sinks are optional; a missing sink is skipped.
type Dispatcher struct {
	queue   chan event
	logger  Logger
	dropped atomic.Uint64

	mu          sync.RWMutex
	publisher   Publisher
	points      PointWriter
	broadcaster Broadcaster
	recorder    Recorder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher sets the MQTT sink.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithPointWriter sets the time-series sink.
func WithPointWriter(w PointWriter) Option {
	return func(d *Dispatcher) { d.points = w }
}

// WithRecorder sets the transition history sink.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithBroadcaster sets the WebSocket sink.
func WithBroadcaster(b Broadcaster) Option {
	return func(d *Dispatcher) { d.broadcaster = b }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan event, n)
		}
	}
}

// New creates a Dispatcher. Nothing is delivered until Run is called.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:  make(chan event, DefaultQueueSize),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetBroadcaster replaces the WebSocket sink. The API server is built after
// the dispatcher, so main wires it late.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.mu.Lock()
	d.broadcaster = b
	d.mu.Unlock()
}

// TransitionApplied queues a finished transition.
func (d *Dispatcher) TransitionApplied(_ context.Context, report *transition.Report) {
	if report != nil {
		d.enqueue(event{kind: TypeTransitionApplied, payload: report})
	}
}

// StatusChanged queues a device lifecycle change. Its signature matches
// actor.WithStatusHook.
func (d *Dispatcher) StatusChanged(c actor.StatusChange) {
	d.enqueue(event{kind: TypeDeviceStatusChanged, payload: NewDeviceStatus(c)})
}

// RecipeFileChanged queues an out-of-band edit of the recipe file.
func (d *Dispatcher) RecipeFileChanged(c recipe.ExternalChange) {
	d.enqueue(event{kind: TypeRecipeFileChanged, payload: NewFileChange(c, time.Now())})
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) enqueue(ev event) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping event", "type", ev.kind)
	}
}

// Run delivers queued events until ctx is cancelled, then delivers what is
// still queued and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) sinks() (Publisher, PointWriter, Broadcaster, Recorder) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.publisher, d.points, d.broadcaster, d.recorder
}

func (d *Dispatcher) deliver(ctx context.Context, ev event) {
	switch p := ev.payload.(type) {
	case *transition.Report:
		d.deliverTransition(ctx, p)
	case DeviceStatus:
		d.deliverDeviceStatus(p)
	case FileChange:
		d.deliverFileChange(p)
	}
}

func (d *Dispatcher) deliverTransition(ctx context.Context, report *transition.Report) {
	publisher, points, broadcaster, recorder := d.sinks()

	if recorder != nil {
		if err := recorder.Record(ctx, report); err != nil {
			d.logger.Error("recording transition failed", "transition_id", report.ID, "error", err)
		}
	}
	if publisher != nil {
		if err := publisher.PublishJSON(mqtt.Topics{}.Transition(), report, true); err != nil {
			d.logger.Warn("publishing transition failed", "transition_id", report.ID, "error", err)
		}
	}
	if points != nil {
		points.WriteTransition(transitionPoint(report))
	}
	if broadcaster != nil {
		broadcaster.Broadcast(TypeTransitionApplied, report)
	}
}

func (d *Dispatcher) deliverDeviceStatus(s DeviceStatus) {
	publisher, points, broadcaster, _ := d.sinks()

	if publisher != nil {
		if err := publisher.PublishJSON(mqtt.Topics{}.DeviceStatus(s.ID), s, true); err != nil {
			d.logger.Warn("publishing device status failed", "device_id", s.ID, "error", err)
		}
	}
	if points != nil {
		points.WriteDeviceStatus(s.ID, s.DeviceType, string(s.Status), s.At)
	}
	if broadcaster != nil {
		broadcaster.Broadcast(TypeDeviceStatusChanged, s)
	}
}

func (d *Dispatcher) deliverFileChange(fc FileChange) {
	publisher, _, broadcaster, _ := d.sinks()

	if publisher != nil {
		if err := publisher.PublishJSON(mqtt.Topics{}.Event("recipe_file_changed"), fc, false); err != nil {
			d.logger.Warn("publishing recipe file change failed", "error", err)
		}
	}
	if broadcaster != nil {
		broadcaster.Broadcast(TypeRecipeFileChanged, fc)
	}
}

var outcomes = []transition.Outcome{
	transition.OutcomeStarted,
	transition.OutcomeRestarted,
	transition.OutcomeStopped,
	transition.OutcomeFailed,
	transition.OutcomeUnchanged,
}

func transitionPoint(r *transition.Report) influxdb.TransitionPoint {
	counts := make(map[string]int, len(outcomes))
	for _, o := range outcomes {
		counts[string(o)] = r.Count(o)
	}
	return influxdb.TransitionPoint{
		RecipeID:  r.RecipeID,
		Committed: r.Committed,
		Persisted: r.Persisted,
		Outcomes:  counts,
		Duration:  r.Duration(),
		At:        r.StartedAt,
	}
}
