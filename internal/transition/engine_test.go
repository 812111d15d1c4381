package transition

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
)

type echoConfig struct {
	Value  string `json:"value"`
	Reject bool   `json:"reject"`
}

type getValue struct {
	actor.Returns[string]
}

var reflectUpdateParams = reflect.TypeFor[actor.UpdateParams]()

func validateEcho(raw json.RawMessage) (echoConfig, error) {
	var cfg echoConfig
	if err := device.DecodeParams("echo", raw, &cfg); err != nil {
		return echoConfig{}, err
	}
	if cfg.Reject {
		return echoConfig{}, device.NewValidationError("echo", "reject", "rejected on request")
	}
	return cfg, nil
}

func runEcho(ctx context.Context, dev *actor.Device, cfg echoConfig) error {
	a := actor.New[echoConfig](dev)
	actor.On(a, func(_ context.Context, s *echoConfig, _ getValue) (string, error) {
		return s.Value, nil
	})
	return a.Execute(ctx, &cfg)
}

func runLive(ctx context.Context, dev *actor.Device, cfg echoConfig) error {
	a := actor.New[echoConfig](dev)
	actor.On(a, func(_ context.Context, s *echoConfig, _ getValue) (string, error) {
		return s.Value, nil
	})
	actor.On(a, func(_ context.Context, s *echoConfig, m actor.UpdateParams) (struct{}, error) {
		*s = m.Config.(echoConfig)
		return struct{}{}, nil
	})
	return a.Execute(ctx, &cfg)
}

type recordingObserver struct {
	reports chan *Report
}

func (o *recordingObserver) TransitionApplied(_ context.Context, r *Report) {
	o.reports <- r
}

type fixture struct {
	store    *recipe.Store
	sys      *actor.System
	engine   *Engine
	observer *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	types := actor.NewTypes(
		actor.NewType("echo", validateEcho, runEcho),
		actor.NewType("live", validateEcho, runLive),
	)
	sys := actor.NewSystem()
	sup := actor.NewSupervisor(sys, types, actor.WithDrainTimeout(time.Second))

	store, err := recipe.Open(ctx, filepath.Join(t.TempDir(), "recipes.json"), types)
	if err != nil {
		t.Fatalf("recipe.Open() error = %v", err)
	}
	obs := &recordingObserver{reports: make(chan *Report, 16)}
	eng := NewEngine(store, sup, WithObserver(obs))
	t.Cleanup(func() {
		_ = eng.Shutdown(context.Background())
		sup.Wait()
	})
	return &fixture{store: store, sys: sys, engine: eng, observer: obs}
}

func (f *fixture) addDevice(t *testing.T, typ, name, params string) device.ID {
	t.Helper()
	id, err := f.store.AddDevice(context.Background(), recipe.DefaultID,
		device.Descriptor{Type: typ, Name: name, Params: json.RawMessage(params)})
	if err != nil {
		t.Fatalf("AddDevice(%s) error = %v", name, err)
	}
	return id
}

func outcomes(r *Report) map[device.ID]Outcome {
	out := make(map[device.ID]Outcome, len(r.Devices))
	for _, d := range r.Devices {
		out[d.ID] = d.Outcome
	}
	return out
}

func TestApply_StopsStartsAndKeeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addDevice(t, "echo", "a", `{"value":"A"}`)
	c := f.addDevice(t, "echo", "c", `{"value":"C"}`)

	report, err := f.engine.Apply(ctx, recipe.DefaultID)
	if err != nil {
		t.Fatalf("first Apply() error = %v", err)
	}
	if got := outcomes(report); got[a] != OutcomeStarted || got[c] != OutcomeStarted {
		t.Fatalf("first outcomes = %v, want both started", got)
	}
	handleA := f.engine.Running()[a]
	handleC := f.engine.Running()[c]

	if err := f.store.RemoveDevice(ctx, recipe.DefaultID, a); err != nil {
		t.Fatal(err)
	}
	b := f.addDevice(t, "echo", "b", `{"value":"B"}`)

	report, err = f.engine.Apply(ctx, recipe.DefaultID)
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	got := outcomes(report)
	if got[a] != OutcomeStopped || got[b] != OutcomeStarted || got[c] != OutcomeUnchanged {
		t.Errorf("second outcomes = %v, want a stopped, b started, c unchanged", got)
	}

	if !handleA.Mailbox().IsClosed() {
		t.Error("stopped device's mailbox is still open")
	}
	if _, err := actor.Ask[string](ctx, f.sys, actor.ID(a), getValue{}); !errors.Is(err, actor.ErrDeviceNotFound) {
		t.Errorf("Ask(a) error = %v, want ErrDeviceNotFound", err)
	}
	if f.engine.Running()[c] != handleC {
		t.Error("unchanged device was replaced")
	}
	if v, err := actor.Ask[string](ctx, f.sys, actor.ID(b), getValue{}); err != nil || v != "B" {
		t.Errorf("Ask(b) = %q, %v; want B, nil", v, err)
	}

	if !report.Committed || !report.Persisted {
		t.Errorf("Committed = %v, Persisted = %v; want both true", report.Committed, report.Persisted)
	}
	if f.store.HasUncommittedChanges() {
		t.Error("store has uncommitted changes after a clean apply")
	}
	<-f.observer.reports
	if r := <-f.observer.reports; r.ID != report.ID {
		t.Errorf("observer got report %s, want %s", r.ID, report.ID)
	}
}

func TestApply_RestartsChangedDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.addDevice(t, "echo", "x", `{"value":"1"}`)
	if _, err := f.engine.Apply(ctx, recipe.DefaultID); err != nil {
		t.Fatal(err)
	}
	before := f.engine.Running()[id]

	if err := f.store.UpdateDeviceParams(ctx, recipe.DefaultID, id, json.RawMessage(`{"value":"2"}`)); err != nil {
		t.Fatal(err)
	}
	report, err := f.engine.Apply(ctx, recipe.DefaultID)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := outcomes(report)[id]; got != OutcomeRestarted {
		t.Errorf("outcome = %s, want restarted", got)
	}
	after := f.engine.Running()[id]
	if after == before {
		t.Error("restarted device kept its old handle")
	}
	if before.Status() != actor.StatusStopped {
		t.Errorf("old handle status = %s, want stopped", before.Status())
	}
	if v, _ := actor.Ask[string](ctx, f.sys, actor.ID(id), getValue{}); v != "2" {
		t.Errorf("value = %q, want 2", v)
	}
}

func TestApply_PartialFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := f.addDevice(t, "echo", "good", `{"value":"ok"}`)
	if _, err := f.engine.Apply(ctx, recipe.DefaultID); err != nil {
		t.Fatal(err)
	}
	committed := f.store.Snapshot().ActiveBackup

	bad := f.addDevice(t, "echo", "bad", `{"reject":true}`)
	other := f.addDevice(t, "echo", "other", `{"value":"fine"}`)

	report, err := f.engine.Apply(ctx, recipe.DefaultID)
	if !errors.Is(err, ErrTransitionPartialFailure) {
		t.Fatalf("Apply() error = %v, want ErrTransitionPartialFailure", err)
	}
	var pfe *PartialFailureError
	if !errors.As(err, &pfe) || len(pfe.Failed) != 1 || pfe.Failed[0].ID != bad {
		t.Fatalf("PartialFailureError = %+v, want only %s", pfe, bad)
	}
	if !errors.Is(err, device.ErrInvalidParams) {
		t.Errorf("error does not unwrap to the validation failure: %v", err)
	}

	got := outcomes(report)
	if got[good] != OutcomeUnchanged || got[other] != OutcomeStarted || got[bad] != OutcomeFailed {
		t.Errorf("outcomes = %v", got)
	}
	if report.Committed {
		t.Error("partial transition was committed")
	}
	if !f.store.Snapshot().ActiveBackup.Equal(committed) {
		t.Error("active_backup changed after a partial failure")
	}
	if _, err := actor.Ask[string](ctx, f.sys, actor.ID(other), getValue{}); err != nil {
		t.Errorf("Ask(other) error = %v", err)
	}
}

func TestApply_UnknownRecipe(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Apply(context.Background(), "missing"); !errors.Is(err, recipe.ErrRecipeNotFound) {
		t.Errorf("Apply() error = %v, want ErrRecipeNotFound", err)
	}
}

func TestUpdateParams_InPlaceAndRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live := f.addDevice(t, "live", "live", `{"value":"a"}`)
	frozen := f.addDevice(t, "echo", "frozen", `{"value":"a"}`)
	if _, err := f.engine.Apply(ctx, recipe.DefaultID); err != nil {
		t.Fatal(err)
	}
	liveBefore := f.engine.Running()[live]
	frozenBefore := f.engine.Running()[frozen]

	if !liveBefore.Handles(reflectUpdateParams) {
		t.Fatal("handler set not known after Apply")
	}

	if err := f.engine.UpdateParams(ctx, live, json.RawMessage(`{"value":"b"}`)); err != nil {
		t.Fatalf("UpdateParams(live) error = %v", err)
	}
	if f.engine.Running()[live] != liveBefore {
		t.Error("live-updatable device was restarted")
	}
	if v, _ := actor.Ask[string](ctx, f.sys, actor.ID(live), getValue{}); v != "b" {
		t.Errorf("live value = %q, want b", v)
	}

	if err := f.engine.UpdateParams(ctx, frozen, json.RawMessage(`{"value":"c"}`)); err != nil {
		t.Fatalf("UpdateParams(frozen) error = %v", err)
	}
	if f.engine.Running()[frozen] == frozenBefore {
		t.Error("device without live updates was not restarted")
	}
	if v, _ := actor.Ask[string](ctx, f.sys, actor.ID(frozen), getValue{}); v != "c" {
		t.Errorf("frozen value = %q, want c", v)
	}

	if err := f.engine.UpdateParams(ctx, live, json.RawMessage(`{"reject":true}`)); !errors.Is(err, device.ErrInvalidParams) {
		t.Errorf("UpdateParams(invalid) error = %v, want ErrInvalidParams", err)
	}
	if !f.store.HasUncommittedChanges() {
		t.Error("params edit should leave the recipe uncommitted")
	}

	report, err := f.engine.RestoreCommitted(ctx)
	if err != nil {
		t.Fatalf("RestoreCommitted() error = %v", err)
	}
	if got := outcomes(report)[frozen]; got != OutcomeRestarted {
		t.Errorf("restore outcome for frozen = %s, want restarted", got)
	}
	if v, _ := actor.Ask[string](ctx, f.sys, actor.ID(frozen), getValue{}); v != "a" {
		t.Errorf("frozen value after restore = %q, want a", v)
	}
}

func TestUpdateParams_DeviceOutsideRunningSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := f.addDevice(t, "live", "x", `{"value":"a"}`)
	if _, err := f.engine.Apply(ctx, recipe.DefaultID); err != nil {
		t.Fatal(err)
	}

	other, err := f.store.AddRecipe(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, desc := range []device.Descriptor{
		{Type: "echo", Name: "y", Params: json.RawMessage(`{"value":"y"}`)},
		{Type: "echo", Name: "z", Params: json.RawMessage(`{"reject":true}`)},
	} {
		if _, err := f.store.AddDevice(ctx, other, desc); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.engine.Apply(ctx, other); !errors.Is(err, ErrTransitionPartialFailure) {
		t.Fatalf("Apply(%s) error = %v, want ErrTransitionPartialFailure", other, err)
	}
	if f.store.ActiveID() != recipe.DefaultID {
		t.Fatalf("ActiveID() = %q, want %q", f.store.ActiveID(), recipe.DefaultID)
	}
	runningBefore := len(f.engine.Running())

	err = f.engine.UpdateParams(ctx, x, json.RawMessage(`{"value":"b"}`))
	if !errors.Is(err, actor.ErrDeviceUnavailable) {
		t.Fatalf("UpdateParams() error = %v, want ErrDeviceUnavailable", err)
	}
	if _, ok := f.sys.Lookup(x); ok {
		t.Error("device outside the running set was started")
	}
	if n := len(f.engine.Running()); n != runningBefore {
		t.Errorf("Running() has %d devices, want %d", n, runningBefore)
	}
	stored, err := f.store.Get(recipe.DefaultID)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(stored.Devices[x].Params); got != `{"value":"a"}` {
		t.Errorf("stored params = %s, want the original", got)
	}
}

func TestShutdown_DrainsEveryDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addDevice(t, "echo", "a", `{"value":"A"}`)
	f.addDevice(t, "live", "b", `{"value":"B"}`)
	if _, err := f.engine.Apply(ctx, recipe.DefaultID); err != nil {
		t.Fatal(err)
	}
	handles := f.engine.Running()

	if err := f.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for id, h := range handles {
		if !h.Mailbox().IsClosed() {
			t.Errorf("device %s mailbox still open", id)
		}
	}
	if n := len(f.engine.Running()); n != 0 {
		t.Errorf("Running() has %d devices after Shutdown", n)
	}
	if n := f.sys.Len(); n != 0 {
		t.Errorf("registry has %d handles after Shutdown", n)
	}
	if f.engine.Last() == nil {
		t.Error("Last() forgot the applied transition")
	}
}

func TestDiff(t *testing.T) {
	a, b, c := device.NewID(), device.NewID(), device.NewID()
	cur := map[device.ID]device.Descriptor{
		a: {Type: "echo", Name: "a"},
		b: {Type: "echo", Name: "b", Params: json.RawMessage(`{"value":"1"}`)},
		c: {Type: "echo", Name: "c", Params: json.RawMessage(`{"x":1,"y":2}`)},
	}
	tgt := map[device.ID]device.Descriptor{
		b: {Type: "echo", Name: "b", Params: json.RawMessage(`{"value":"2"}`)},
		c: {Type: "echo", Name: "c", Params: json.RawMessage(`{ "y": 2, "x": 1 }`)},
	}
	d := device.NewID()
	tgt[d] = device.Descriptor{Type: "echo", Name: "d"}

	p := Diff(cur, tgt)
	if len(p.Stop) != 1 || p.Stop[0] != a {
		t.Errorf("Stop = %v, want [%s]", p.Stop, a)
	}
	if len(p.Restart) != 1 || p.Restart[0] != b {
		t.Errorf("Restart = %v, want [%s]", p.Restart, b)
	}
	if len(p.Unchanged) != 1 || p.Unchanged[0] != c {
		t.Errorf("Unchanged = %v, want [%s]", p.Unchanged, c)
	}
	if len(p.Start) != 1 || p.Start[0] != d {
		t.Errorf("Start = %v, want [%s]", p.Start, d)
	}
	if p.Empty() {
		t.Error("Empty() = true")
	}
}
