package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/command"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/greeter"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/ticker"
	"github.com/nerrad567/gray-logic-runtime/internal/history"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
	"github.com/nerrad567/gray-logic-runtime/internal/transition"
	_ "github.com/nerrad567/gray-logic-runtime/migrations"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer wires a real runtime: every device type, a recipe store in a
// temp dir, an engine, and a history repository on in-memory SQLite.
func testServer(t *testing.T, mutate ...func(*Deps)) *Server {
	t.Helper()
	ctx := context.Background()

	types := actor.NewTypes(append(ticker.Types(), greeter.New(), command.New())...)
	sys := actor.NewSystem(actor.WithAskTimeout(2 * time.Second))
	sup := actor.NewSupervisor(sys, types, actor.WithDrainTimeout(time.Second))

	store, err := recipe.Open(ctx, filepath.Join(t.TempDir(), "recipes.json"), types)
	if err != nil {
		t.Fatalf("recipe.Open() error = %v", err)
	}
	engine := transition.NewEngine(store, sup)
	t.Cleanup(func() {
		_ = engine.Shutdown(context.Background())
		sup.Wait()
	})

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:       config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   testLogger(),
		Store:    store,
		Engine:   engine,
		System:   sys,
		History:  history.NewSQLiteRepository(db.DB),
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	}
	for _, m := range mutate {
		m(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(hubCtx)
	return srv
}

// do sends a request through the router and decodes a JSON response into out.
func do(t *testing.T, srv *Server, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) succeeded, want error")
	}
}

// ─── Health, metrics and middleware ────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{"database": checkFunc(func(context.Context) error { return nil })}
	})

	var resp map[string]any
	w := do(t, srv, http.MethodGet, "/api/v1/health", "", &resp)
	wantStatus(t, w, http.StatusOK)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if resp["status"] != "ok" || resp["version"] != "test" || resp["active_recipe"] != "default" {
		t.Errorf("health = %v", resp)
	}
	if diff := cmp.Diff(map[string]any{"database": "ok"}, resp["checks"]); diff != "" {
		t.Errorf("checks mismatch (-want +got):\n%s", diff)
	}
}

func TestHealth_DegradedWhenACheckFails(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
			"mqtt":     checkFunc(func(context.Context) error { return errors.New("mqtt: client not connected") }),
		}
	})

	var resp map[string]any
	w := do(t, srv, http.MethodGet, "/api/v1/health", "", &resp)
	wantStatus(t, w, http.StatusServiceUnavailable)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "graylogic_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	srv := testServer(t, func(d *Deps) { d.Gatherer = reg })

	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "", nil)
	wantStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "graylogic_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", w.Body.String())
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = []string{"http://localhost:3000"} })

	for origin, want := range map[string]string{
		"http://localhost:3000": "http://localhost:3000",
		"http://evil.example":   "",
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/recipes", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(w, req)

		wantStatus(t, w, http.StatusNoContent)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: ACAO = %q, want %q", origin, got, want)
		}
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "", nil)
	wantStatus(t, w, http.StatusNotFound)
}

// ─── Recipes ───────────────────────────────────────────────────────

func TestRecipes_Lifecycle(t *testing.T) {
	srv := testServer(t)

	var created RecipeResponse
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes", `{"tags":["night","night","calm"]}`, &created), http.StatusCreated)
	if created.ID != "default_1" || created.Active {
		t.Fatalf("created = %+v, want inactive default_1", created)
	}
	if diff := cmp.Diff([]string{"calm", "night"}, created.Recipe.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	var renamed RecipeResponse
	wantStatus(t, do(t, srv, http.MethodPatch, "/api/v1/recipes/default_1", `{"id":"evening","tags":["calm"]}`, &renamed), http.StatusOK)
	if renamed.ID != "evening" {
		t.Errorf("renamed id = %q, want evening", renamed.ID)
	}

	var list struct {
		ActiveID string          `json:"active_id"`
		Recipes  []RecipeSummary `json:"recipes"`
	}
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/recipes", "", &list), http.StatusOK)
	var ids []string
	for _, r := range list.Recipes {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"default", "evening"}, ids); diff != "" {
		t.Errorf("recipe ids mismatch (-want +got):\n%s", diff)
	}

	wantStatus(t, do(t, srv, http.MethodDelete, "/api/v1/recipes/evening", "", nil), http.StatusNoContent)
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/recipes/evening", "", nil), http.StatusNotFound)
}

func TestRecipes_Errors(t *testing.T) {
	srv := testServer(t)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes", "", nil), http.StatusCreated)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		code   string
	}{
		{"delete active", http.MethodDelete, "/api/v1/recipes/default", "", http.StatusConflict, ErrCodeConflict},
		{"rename onto existing", http.MethodPatch, "/api/v1/recipes/default_1", `{"id":"default"}`, http.StatusConflict, ErrCodeConflict},
		{"rename invalid id", http.MethodPatch, "/api/v1/recipes/default_1", `{"id":"no spaces"}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown field", http.MethodPatch, "/api/v1/recipes/default_1", `{"name":"x"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"apply missing", http.MethodPost, "/api/v1/recipes/missing/apply", "", http.StatusNotFound, ErrCodeNotFound},
		{"unknown device type", http.MethodPost, "/api/v1/recipes/default/devices", `{"device_type":"toaster","device_name":"t","params":null}`, http.StatusBadRequest, ErrCodeValidation},
		{"remove bad device id", http.MethodDelete, "/api/v1/recipes/default/devices/not-a-uuid", "", http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Error
			w := do(t, srv, tt.method, tt.path, tt.body, &resp)
			wantStatus(t, w, tt.want)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestRecipes_Duplicate(t *testing.T) {
	srv := testServer(t)
	var added struct {
		ID string `json:"id"`
	}
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"manual_tick","device_name":"counter","params":{"initial_count":1}}`, &added), http.StatusCreated)

	var dup struct {
		ID      string            `json:"id"`
		Devices map[string]string `json:"devices"`
	}
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/duplicate", "", &dup), http.StatusCreated)
	if dup.ID != "default_1" {
		t.Errorf("duplicate id = %q, want default_1", dup.ID)
	}
	if copied, ok := dup.Devices[added.ID]; !ok || copied == added.ID {
		t.Errorf("device mapping = %v, want a fresh id for %s", dup.Devices, added.ID)
	}
}

func TestVariables(t *testing.T) {
	srv := testServer(t)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"manual_tick","device_name":"counter","params":{"initial_count":{"__var":"start"}}}`, nil), http.StatusBadRequest)

	var patched struct {
		Variables map[string]any `json:"variables"`
		Affected  []string       `json:"affected"`
	}
	wantStatus(t, do(t, srv, http.MethodPut, "/api/v1/variables", `{"start":3}`, &patched), http.StatusOK)
	if patched.Variables["start"] != float64(3) || len(patched.Affected) != 0 {
		t.Errorf("patched = %+v", patched)
	}

	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"manual_tick","device_name":"counter","params":{"initial_count":{"__var":"start"}}}`, nil), http.StatusCreated)
	wantStatus(t, do(t, srv, http.MethodPut, "/api/v1/variables", `{"start":4}`, &patched), http.StatusOK)
	if diff := cmp.Diff([]string{"default"}, patched.Affected); diff != "" {
		t.Errorf("affected mismatch (-want +got):\n%s", diff)
	}
}

// ─── Transitions and devices ───────────────────────────────────────

func TestApply_RunsDevicesAndAnswersMessages(t *testing.T) {
	srv := testServer(t)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"manual_tick","device_name":"counter","params":{"initial_count":5}}`, nil), http.StatusCreated)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"greeter","device_name":"hello","params":{"lang":"German"}}`, nil), http.StatusCreated)

	var report transition.Report
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/apply", "", &report), http.StatusOK)
	if !report.Committed || report.Count(transition.OutcomeStarted) != 2 {
		t.Fatalf("report = %+v, want two started devices, committed", report)
	}

	var devices struct {
		Devices []actor.HandleInfo `json:"devices"`
		Count   int                `json:"count"`
	}
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/devices", "", &devices), http.StatusOK)
	if devices.Count != 2 {
		t.Errorf("device count = %d, want 2", devices.Count)
	}
	var names []string
	for _, d := range devices.Devices {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"counter", "hello"}, names); diff != "" {
		t.Errorf("device order mismatch (-want +got):\n%s", diff)
	}

	var tick struct {
		Tick uint32 `json:"tick"`
	}
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/devices/counter/tick", "", &tick), http.StatusOK)
	if tick.Tick != 6 {
		t.Errorf("tick after increment = %d, want 6", tick.Tick)
	}

	var greeting struct {
		Greeting string `json:"greeting"`
	}
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/devices/hello/greet/Bob", "", &greeting), http.StatusOK)
	if greeting.Greeting != "Hallo Bob (generation: 6)" {
		t.Errorf("greeting = %q", greeting.Greeting)
	}

	var resp Error
	w := do(t, srv, http.MethodGet, "/api/v1/devices/hello/tick", "", &resp)
	wantStatus(t, w, http.StatusUnprocessableEntity)
	if resp.Code != ErrCodeUnsupported {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeUnsupported)
	}
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/devices/nobody/tick", "", nil), http.StatusNotFound)

	var last transition.Report
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/transitions/last", "", &last), http.StatusOK)
	if last.ID != report.ID {
		t.Errorf("last transition = %s, want %s", last.ID, report.ID)
	}
}

func TestApply_PartialFailure(t *testing.T) {
	srv := testServer(t)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"timer_tick","device_name":"broken","params":{"milli_seconds_per_step":0}}`, nil), http.StatusCreated)

	var resp transitionFailure
	w := do(t, srv, http.MethodPost, "/api/v1/recipes/default/apply", "", &resp)
	wantStatus(t, w, http.StatusUnprocessableEntity)
	if resp.Code != ErrCodeTransitionFailed || resp.Report == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Report.Committed || resp.Report.Count(transition.OutcomeFailed) != 1 {
		t.Errorf("report = %+v, want one failure, not committed", resp.Report)
	}
}

func TestUpdateDeviceParams(t *testing.T) {
	srv := testServer(t)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"greeter","device_name":"hello","params":{"lang":"English"}}`, nil), http.StatusCreated)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/devices",
		`{"device_type":"manual_tick","device_name":"counter","params":{}}`, nil), http.StatusCreated)
	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/default/apply", "", nil), http.StatusOK)

	wantStatus(t, do(t, srv, http.MethodPut, "/api/v1/devices/hello/params", `{"lang":"Klingon"}`, nil), http.StatusBadRequest)
	wantStatus(t, do(t, srv, http.MethodPut, "/api/v1/devices/hello/params", `{"lang":"German"}`, nil), http.StatusOK)

	var greeting struct {
		Greeting string `json:"greeting"`
	}
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/devices/hello/greet/Ana", "", &greeting), http.StatusOK)
	if greeting.Greeting != "Hallo Ana (generation: 0)" {
		t.Errorf("greeting = %q", greeting.Greeting)
	}

	var health map[string]any
	do(t, srv, http.MethodGet, "/api/v1/health", "", &health)
	if health["uncommitted"] != true {
		t.Errorf("uncommitted = %v, want true after a live params change", health["uncommitted"])
	}

	wantStatus(t, do(t, srv, http.MethodPost, "/api/v1/recipes/active/restore", "", nil), http.StatusOK)
	do(t, srv, http.MethodGet, "/api/v1/devices/hello/greet/Ana", "", &greeting)
	if greeting.Greeting != "Hello Ana (generation: 0)" {
		t.Errorf("greeting after restore = %q", greeting.Greeting)
	}
}

func TestTransitions_History(t *testing.T) {
	srv := testServer(t)
	report := &transition.Report{
		ID:         "t-1",
		RecipeID:   "default",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Committed:  true,
	}
	if err := srv.history.Record(context.Background(), report); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	var result history.ListResult
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/transitions?recipe_id=default&committed=true&limit=10", "", &result), http.StatusOK)
	if result.Total != 1 || len(result.Transitions) != 1 || result.Transitions[0].ID != "t-1" {
		t.Errorf("result = %+v", result)
	}

	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/transitions?committed=maybe", "", nil), http.StatusBadRequest)
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/transitions?limit=-1", "", nil), http.StatusBadRequest)
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/transitions/last", "", nil), http.StatusNotFound)
}

func TestTransitions_NoHistory(t *testing.T) {
	srv := testServer(t, func(d *Deps) { d.History = nil })
	wantStatus(t, do(t, srv, http.MethodGet, "/api/v1/transitions", "", nil), http.StatusServiceUnavailable)
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastOnlyToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"transition.applied": {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"device.status_changed": {}}}
	hub.Register(subscribed)
	hub.Register(other)
	if hub.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d, want 2", hub.ClientCount())
	}

	hub.Broadcast("transition.applied", map[string]any{"recipe_id": "default"})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != "transition.applied" {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	select {
	case <-other.send:
		t.Error("unsubscribed client received the event")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(other)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"device.status_changed"}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	srv.Hub().Broadcast("device.status_changed", map[string]string{"status": "running"})

	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.EventType != "device.status_changed" {
		t.Errorf("event = %+v", ev)
	}
}
