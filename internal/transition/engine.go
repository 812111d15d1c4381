package transition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
)

// Observer is told about every finished transition. It is called with the
// engine lock released.
type Observer interface {
	TransitionApplied(ctx context.Context, report *Report)
}

// Engine moves the running device set from one recipe to another.
//
// It is the only code that starts or stops devices on behalf of recipes,
// and the only caller of recipe.Store.Commit. Transitions are serialised.
type Engine struct {
	mu      sync.Mutex
	store   *recipe.Store
	sup     *actor.Supervisor
	running map[device.ID]*actor.Handle
	last    *Report

	logger   actor.Logger
	observer Observer
	metrics  *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l actor.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the observer told about finished transitions.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine with nothing running.
func NewEngine(store *recipe.Store, sup *actor.Supervisor, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		sup:     sup,
		running: make(map[device.ID]*actor.Handle),
		logger:  sup.System().Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply makes recipe recipeID the running configuration.
//
// Devices only in the current set are drained, devices only in the target
// are validated and started, devices whose descriptor changed are
// restarted, and the rest are left alone: the same actor keeps running.
// Stops run in parallel and all finish before any start.
//
// If every device reached its target state the recipe is committed as
// active. Otherwise the report lists the failures, the returned error is a
// *PartialFailureError, and the committed active recipe is unchanged. There
// is no rollback.
func (e *Engine) Apply(ctx context.Context, recipeID string) (*Report, error) {
	e.mu.Lock()
	report, err := e.applyLocked(ctx, recipeID)
	e.mu.Unlock()

	if report != nil && e.observer != nil {
		e.observer.TransitionApplied(ctx, report)
	}
	return report, err
}

func (e *Engine) applyLocked(ctx context.Context, recipeID string) (*Report, error) {
	applied, target, err := e.store.Resolved(recipeID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:         uuid.NewString(),
		RecipeID:   recipeID,
		PreviousID: e.store.ActiveID(),
		StartedAt:  time.Now().UTC(),
	}
	plan := Diff(e.currentLocked(), target)

	e.logger.Info("applying recipe",
		"transition_id", report.ID,
		"recipe_id", recipeID,
		"stop", len(plan.Stop),
		"start", len(plan.Start),
		"restart", len(plan.Restart),
		"unchanged", len(plan.Unchanged),
	)

	results := newResultSet()

	// Stop phase: removed devices and the stop half of every restart.
	stopFailed := e.stopAll(ctx, plan, results)

	// Start phase: new devices and the start half of every restart whose
	// stop succeeded.
	e.startAll(ctx, plan, target, stopFailed, results)

	for _, id := range plan.Unchanged {
		h := e.running[id]
		results.set(DeviceResult{ID: id, Name: h.Name(), DeviceType: h.Type(), Outcome: OutcomeUnchanged})
	}

	report.Devices = results.sorted()
	if len(report.Failed()) == 0 {
		report.Committed = true
		err := e.store.Commit(ctx, recipeID, applied)
		report.Persisted = err == nil
		report.FinishedAt = time.Now().UTC()
		e.last = report
		e.metrics.observe(report)
		if err != nil {
			e.logger.Error("recipe applied but not persisted",
				"transition_id", report.ID,
				"recipe_id", recipeID,
				"error", err,
			)
			return report, err
		}
		e.logger.Info("recipe applied",
			"transition_id", report.ID,
			"recipe_id", recipeID,
			"duration_ms", report.Duration().Milliseconds(),
		)
		return report, nil
	}

	report.FinishedAt = time.Now().UTC()
	e.last = report
	e.metrics.observe(report)
	perr := report.Err()
	e.logger.Warn("recipe partially applied",
		"transition_id", report.ID,
		"recipe_id", recipeID,
		"failed", len(report.Failed()),
		"error", perr,
	)
	return report, perr
}

// stopAll drains every device the plan stops or restarts, in parallel.
// It returns the restart ids whose stop failed.
func (e *Engine) stopAll(ctx context.Context, plan Plan, results *resultSet) map[device.ID]bool {
	var (
		g          errgroup.Group
		mu         sync.Mutex
		stopFailed = make(map[device.ID]bool)
	)

	stop := func(id device.ID, restart bool) {
		h := e.running[id]
		g.Go(func() error {
			err := e.sup.Stop(ctx, h)
			if err == nil {
				if !restart {
					results.set(DeviceResult{ID: id, Name: h.Name(), DeviceType: h.Type(), Outcome: OutcomeStopped})
				}
				return nil
			}
			results.set(failure(id, h.Descriptor(), "stop", err))
			if restart {
				mu.Lock()
				stopFailed[id] = true
				mu.Unlock()
			}
			return nil
		})
	}
	for _, id := range plan.Stop {
		stop(id, false)
	}
	for _, id := range plan.Restart {
		stop(id, true)
	}
	_ = g.Wait()

	// Whatever happened, none of these handles is ours any more.
	for _, id := range plan.Stop {
		delete(e.running, id)
	}
	for _, id := range plan.Restart {
		delete(e.running, id)
	}
	return stopFailed
}

// startAll validates and starts every device the plan starts or restarts,
// in parallel.
func (e *Engine) startAll(ctx context.Context, plan Plan, target map[device.ID]device.Descriptor, stopFailed map[device.ID]bool, results *resultSet) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)

	start := func(id device.ID, outcome Outcome) {
		desc := target[id]
		g.Go(func() error {
			h, err := e.sup.Start(ctx, id, desc)
			if err != nil {
				results.set(failure(id, desc, "start", err))
				return nil
			}
			mu.Lock()
			e.running[id] = h
			mu.Unlock()
			results.set(DeviceResult{ID: id, Name: desc.Name, DeviceType: desc.Type, Outcome: outcome})
			return nil
		})
	}
	for _, id := range plan.Start {
		start(id, OutcomeStarted)
	}
	for _, id := range plan.Restart {
		if !stopFailed[id] {
			start(id, OutcomeRestarted)
		}
	}
	_ = g.Wait()
}

// currentLocked returns the descriptors of the live devices the engine
// started. Handles whose actor exited on its own are forgotten, so the
// next transition starts them again.
func (e *Engine) currentLocked() map[device.ID]device.Descriptor {
	current := make(map[device.ID]device.Descriptor, len(e.running))
	for id, h := range e.running {
		if !h.Live() {
			delete(e.running, id)
			continue
		}
		current[id] = h.Descriptor()
	}
	return current
}

// UpdateParams changes one device's params in the active recipe and
// applies them to the live device.
//
// The device must be in the active recipe and running under the engine
// with that recipe's device type; a device that a failed transition or
// its own exit took out of the running set is ErrDeviceUnavailable and is
// not started here. The params are validated first. A running actor that
// handles actor.UpdateParams is updated in place; any other is restarted.
// The recipe edit is left uncommitted.
func (e *Engine) UpdateParams(ctx context.Context, id device.ID, params json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	activeID := e.store.ActiveID()
	active, err := e.store.Get(activeID)
	if err != nil {
		return err
	}
	stored, ok := active.Devices[id]
	if !ok {
		return fmt.Errorf("%w: %s in %q", recipe.ErrDeviceNotInRecipe, id, activeID)
	}
	h, running := e.running[id]
	if !running || !h.Live() {
		return fmt.Errorf("%w: %s is not running", actor.ErrDeviceUnavailable, id)
	}
	if h.Type() != stored.Type {
		return fmt.Errorf("%w: %s is running as %s, not as in %q",
			actor.ErrDeviceUnavailable, id, h.Type(), activeID)
	}

	resolvedParams, err := e.store.Variables().Resolve(params)
	if err != nil {
		return err
	}
	desc := stored.WithParams(resolvedParams)
	if _, _, err := e.sup.Validate(desc); err != nil {
		return err
	}

	if err := e.applyParamsLocked(ctx, h, desc); err != nil {
		return err
	}
	return e.store.UpdateDeviceParams(ctx, activeID, id, params)
}

func (e *Engine) applyParamsLocked(ctx context.Context, h *actor.Handle, desc device.Descriptor) error {
	id := h.ID()
	err := e.sup.Reconfigure(ctx, h, desc)
	if err == nil {
		e.logger.Info("device reconfigured in place", "device_id", id.String())
		return nil
	}
	if !errors.Is(err, actor.ErrUnknownMessage) {
		return err
	}
	if err := e.sup.Stop(ctx, h); err != nil {
		return fmt.Errorf("stopping %s for restart: %w", id, err)
	}
	delete(e.running, id)

	h, err = e.sup.Start(ctx, id, desc)
	if err != nil {
		return err
	}
	e.running[id] = h
	e.logger.Info("device restarted with new params", "device_id", id.String())
	return nil
}

// RestoreCommitted discards uncommitted edits to the active recipe and
// re-applies it.
func (e *Engine) RestoreCommitted(ctx context.Context) (*Report, error) {
	if err := e.store.RestoreCommitted(ctx); err != nil {
		return nil, err
	}
	return e.Apply(ctx, e.store.ActiveID())
}

// Last returns the most recent report, or nil.
func (e *Engine) Last() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Running returns the handles the engine currently owns.
func (e *Engine) Running() map[device.ID]*actor.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[device.ID]*actor.Handle, len(e.running))
	for id, h := range e.running {
		out[id] = h
	}
	return out
}

// Shutdown drains every running device in parallel.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	for id, h := range e.running {
		g.Go(func() error {
			if err := e.sup.Stop(ctx, h); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	e.running = make(map[device.ID]*actor.Handle)

	if errs != nil {
		e.logger.Warn("devices did not stop cleanly", "error", errs)
	}
	return errs
}

// failure builds a failed result for desc.
func failure(id device.ID, desc device.Descriptor, phase string, err error) DeviceResult {
	return DeviceResult{
		ID:         id,
		Name:       desc.Name,
		DeviceType: desc.Type,
		Outcome:    OutcomeFailed,
		Phase:      phase,
		Error:      err.Error(),
		err:        err,
	}
}

// resultSet collects per-device results from concurrent workers.
type resultSet struct {
	mu      sync.Mutex
	results map[device.ID]DeviceResult
}

func newResultSet() *resultSet {
	return &resultSet{results: make(map[device.ID]DeviceResult)}
}

func (s *resultSet) set(r DeviceResult) {
	s.mu.Lock()
	s.results[r.ID] = r
	s.mu.Unlock()
}

func (s *resultSet) sorted() []DeviceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]device.ID, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sortIDs(ids)
	out := make([]DeviceResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.results[id])
	}
	return out
}
