// Package ticker provides two counting device types: timer_tick, which
// counts on a fixed interval, and manual_tick, which counts when told to.
package ticker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// Device type keys.
const (
	TimerType  = "timer_tick"
	ManualType = "manual_tick"
)

// DefaultStep is the timer interval when none is configured.
const DefaultStep = 100 * time.Millisecond

// GetTick asks a ticker for its current count.
type GetTick struct {
	actor.Returns[uint32]
}

// Increment advances a manual ticker by one and returns the new count.
type Increment struct {
	actor.Returns[uint32]
}

// step is sent by the timer goroutine to its own actor.
type step struct {
	actor.Returns[struct{}]
}

// TimerParams configures timer_tick.
type TimerParams struct {
	MilliSecondsPerStep uint64 `json:"milli_seconds_per_step"`
}

// Interval returns the configured step as a duration.
func (p TimerParams) Interval() time.Duration {
	return time.Duration(p.MilliSecondsPerStep) * time.Millisecond
}

// ManualParams configures manual_tick.
type ManualParams struct {
	InitialCount uint32 `json:"initial_count"`
}

// Types returns both ticker device types.
func Types() []actor.Type {
	return []actor.Type{
		actor.NewType(TimerType, ValidateTimer, runTimer),
		actor.NewType(ManualType, ValidateManual, runManual),
	}
}

// ValidateTimer decodes timer_tick params. Absent params mean the default
// step; an explicit zero is rejected.
func ValidateTimer(raw json.RawMessage) (TimerParams, error) {
	p := TimerParams{MilliSecondsPerStep: uint64(DefaultStep / time.Millisecond)}
	if err := device.DecodeParams(TimerType, raw, &p); err != nil {
		return TimerParams{}, err
	}
	if p.MilliSecondsPerStep == 0 {
		return TimerParams{}, device.NewValidationError(TimerType, "milli_seconds_per_step", "must be greater than zero")
	}
	return p, nil
}

// ValidateManual decodes manual_tick params.
func ValidateManual(raw json.RawMessage) (ManualParams, error) {
	var p ManualParams
	if err := device.DecodeParams(ManualType, raw, &p); err != nil {
		return ManualParams{}, err
	}
	return p, nil
}

type timerState struct {
	count  uint32
	ticker *time.Ticker
}

func runTimer(ctx context.Context, dev *actor.Device, p TimerParams) error {
	st := &timerState{ticker: time.NewTicker(p.Interval())}
	defer st.ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-st.ticker.C:
				// A full mailbox just drops this step.
				if err := actor.Tell(ctx, dev.System(), dev.Self(), step{}); err != nil && ctx.Err() == nil {
					dev.Logger().Debug("tick dropped", "error", err)
				}
			}
		}
	}()

	a := actor.New[timerState](dev)
	actor.On(a, func(_ context.Context, s *timerState, _ step) (struct{}, error) {
		s.count++
		return struct{}{}, nil
	})
	actor.On(a, func(_ context.Context, s *timerState, _ GetTick) (uint32, error) {
		return s.count, nil
	})
	actor.On(a, func(_ context.Context, s *timerState, m actor.UpdateParams) (struct{}, error) {
		s.ticker.Reset(m.Config.(TimerParams).Interval())
		return struct{}{}, nil
	})
	return a.Execute(ctx, st)
}

type manualState struct {
	count uint32
}

func runManual(ctx context.Context, dev *actor.Device, p ManualParams) error {
	a := actor.New[manualState](dev)
	actor.On(a, func(_ context.Context, s *manualState, _ Increment) (uint32, error) {
		s.count++
		return s.count, nil
	})
	actor.On(a, func(_ context.Context, s *manualState, _ GetTick) (uint32, error) {
		return s.count, nil
	})
	// The running count survives a params change; initial_count only
	// applies at start.
	actor.On(a, func(_ context.Context, _ *manualState, _ actor.UpdateParams) (struct{}, error) {
		return struct{}{}, nil
	})
	return a.Execute(ctx, &manualState{count: p.InitialCount})
}
