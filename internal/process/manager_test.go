package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{
		Name:   "test-proc",
		Binary: "/usr/bin/test",
		Args:   []string{"--flag"},
	})

	if m.config.Name != "test-proc" {
		t.Errorf("Name = %q, want %q", m.config.Name, "test-proc")
	}
	if m.config.GracefulTimeout != DefaultGracefulTimeout {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, DefaultGracefulTimeout)
	}
	if m.config.OutputLines != DefaultOutputLines {
		t.Errorf("OutputLines = %d, want %d", m.config.OutputLines, DefaultOutputLines)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil", m.Err())
	}
	stats := m.Stats()
	if stats.PID != 0 || stats.Uptime != 0 || stats.LastError != "" {
		t.Errorf("Stats() = %+v, want zero pid, uptime and error", stats)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/sleep", Args: []string{"10"}})
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop(ctx) //nolint:errcheck

	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.Stats().PID == 0 {
		t.Error("Stats().PID = 0 after Start()")
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	waitDone(t, m)

	if got := m.Status(); got != StatusStopped {
		t.Errorf("Status() = %q, want %q", got, StatusStopped)
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil after requested stop", m.Err())
	}
}

func TestManager_KillsAfterGracefulTimeout(t *testing.T) {
	m := NewManager(Config{
		Name:            "stubborn",
		Binary:          "/bin/sh",
		Args:            []string{"-c", "trap '' TERM; echo ready; while true; do sleep 1; done"},
		GracefulTimeout: 200 * time.Millisecond,
	})
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(m.Output()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Stop() returned after %v, before the graceful timeout", elapsed)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestManager_ExitIsReportedNotRestarted(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantStatus Status
		wantCode   int
		wantErr    bool
	}{
		{name: "clean exit", script: "exit 0", wantStatus: StatusExited},
		{name: "failure", script: "exit 3", wantStatus: StatusFailed, wantCode: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{Name: "exit", Binary: "/bin/sh", Args: []string{"-c", tt.script}})
			if err := m.Start(context.Background()); err != nil {
				t.Fatalf("Start() error: %v", err)
			}
			waitDone(t, m)

			if got := m.Status(); got != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", got, tt.wantStatus)
			}
			if got := m.Stats().ExitCode; got != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", got, tt.wantCode)
			}
			if (m.Err() != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", m.Err(), tt.wantErr)
			}
		})
	}
}

func TestManager_CapturesOutputTail(t *testing.T) {
	m := NewManager(Config{
		Name:        "echo",
		Binary:      "/bin/sh",
		Args:        []string{"-c", "echo one; echo two; echo three; echo four"},
		OutputLines: 3,
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, m)

	want := []string{"stdout: two", "stdout: three", "stdout: four"}
	if diff := cmp.Diff(want, m.Output()); diff != "" {
		t.Errorf("Output() mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_CapturesStderr(t *testing.T) {
	m := NewManager(Config{Name: "stderr", Binary: "/bin/sh", Args: []string{"-c", "echo oops >&2"}})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitDone(t, m)

	if diff := cmp.Diff([]string{"stderr: oops"}, m.Output()); diff != "" {
		t.Errorf("Output() mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done() not closed after failed start")
	}
}

func TestTail_Wraps(t *testing.T) {
	tl := newTail(2)
	if got := tl.lines(); len(got) != 0 {
		t.Errorf("lines() = %q, want empty", got)
	}
	for _, s := range strings.Fields("a b c") {
		tl.add(s)
	}
	if diff := cmp.Diff([]string{"b", "c"}, tl.lines()); diff != "" {
		t.Errorf("lines() mismatch (-want +got):\n%s", diff)
	}
}
