// Package command provides the process device type, which keeps one
// external command running for as long as the device runs.
//
// The device ends when the command exits: a clean exit stops it, a non-zero
// exit fails it. It has no UpdateParams handler, so a params change
// restarts the command.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/process"
)

// Type is the device type key.
const Type = "process"

// DefaultGracefulTimeoutMS applies when graceful_timeout_ms is absent.
const DefaultGracefulTimeoutMS = 5000

// Params configures a process device.
type Params struct {
	Binary            string            `json:"binary"`
	Args              []string          `json:"args,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	WorkDir           string            `json:"work_dir,omitempty"`
	GracefulTimeoutMS uint64            `json:"graceful_timeout_ms,omitempty"`
}

// GracefulTimeout returns the SIGTERM grace period.
func (p Params) GracefulTimeout() time.Duration {
	return time.Duration(p.GracefulTimeoutMS) * time.Millisecond
}

// environ renders Env as sorted key=value pairs.
func (p Params) environ() []string {
	if len(p.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.Env))
	for k, v := range p.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Status asks for the command's process statistics.
type Status struct {
	actor.Returns[process.Stats]
}

// Output asks for the retained stdout/stderr tail.
type Output struct {
	actor.Returns[[]string]
}

// New returns the process device type.
func New() actor.Type {
	return actor.NewType(Type, Validate, run)
}

// Validate decodes process params. The binary must be an absolute path.
func Validate(raw json.RawMessage) (Params, error) {
	p := Params{GracefulTimeoutMS: DefaultGracefulTimeoutMS}
	if err := device.DecodeParams(Type, raw, &p); err != nil {
		return Params{}, err
	}
	switch {
	case p.Binary == "":
		return Params{}, device.NewValidationError(Type, "binary", "is required")
	case !filepath.IsAbs(p.Binary):
		return Params{}, device.NewValidationError(Type, "binary", fmt.Sprintf("%q is not an absolute path", p.Binary))
	case p.GracefulTimeoutMS == 0:
		return Params{}, device.NewValidationError(Type, "graceful_timeout_ms", "must be greater than zero")
	}
	for k := range p.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return Params{}, device.NewValidationError(Type, "env", fmt.Sprintf("invalid variable name %q", k))
		}
	}
	return p, nil
}

type state struct {
	mgr *process.Manager
}

func run(ctx context.Context, dev *actor.Device, p Params) error {
	mgr := process.NewManager(process.Config{
		Name:            dev.Name(),
		Binary:          p.Binary,
		Args:            p.Args,
		Env:             p.environ(),
		WorkDir:         p.WorkDir,
		GracefulTimeout: p.GracefulTimeout(),
	})
	mgr.SetLogger(dev.Logger())

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Stop(context.Background()); err != nil {
			dev.Logger().Warn("stopping command", "error", err)
		}
	}()

	a := actor.New[state](dev)
	actor.On(a, func(_ context.Context, s *state, _ Status) (process.Stats, error) {
		return s.mgr.Stats(), nil
	})
	actor.On(a, func(_ context.Context, s *state, _ Output) ([]string, error) {
		return s.mgr.Output(), nil
	})
	a.Watch(exited(mgr))
	return a.Execute(ctx, &state{mgr: mgr})
}

// exited yields the command's exit error once it terminates.
func exited(mgr *process.Manager) <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-mgr.Done()
		if err := mgr.Err(); err != nil {
			ch <- fmt.Errorf("command exited: %w", err)
			return
		}
		ch <- nil
	}()
	return ch
}
