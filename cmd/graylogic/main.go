// Gray Logic Runtime - recipe-driven actor host
//
// This is the main entry point for the Gray Logic runtime. The runtime
// hosts device actors, each with its own mailbox, and moves the set of
// running devices between recipes stored in a single JSON file:
//   - Recipes are edited over the HTTP API and applied as transitions
//   - Device and transition events go out over MQTT, InfluxDB and WebSocket
//   - Every transition is recorded in SQLite
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-runtime/migrations"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/api"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/command"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/greeter"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/ticker"
	"github.com/nerrad567/gray-logic-runtime/internal/events"
	"github.com/nerrad567/gray-logic-runtime/internal/history"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
	"github.com/nerrad567/gray-logic-runtime/internal/transition"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the runtime together, blocks until ctx is cancelled, then
// tears everything down in reverse order. A recipe file that cannot be
// loaded is fatal.
func run(ctx context.Context) (err error) {
	log := logging.Default()
	log.Info("starting Gray Logic runtime",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"runtime_id", cfg.Runtime.ID,
		"level", cfg.Logging.Level,
	)

	stack := &shutdownStack{log: log}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, stack.run(shutdownCtx))
	}()

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	stack.push("database", func(context.Context) error { return db.Close() })
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	transitions := history.NewSQLiteRepository(db.DB)
	checks := map[string]api.HealthChecker{"database": db}
	sinks := []events.Option{
		events.WithRecorder(transitions),
		events.WithLogger(log.With("component", "events")),
	}

	mqttClient, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		stack.push("mqtt", func(context.Context) error { return mqttClient.Close() })
		checks["mqtt"] = mqttClient
		sinks = append(sinks, events.WithPublisher(mqttClient))
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		stack.push("influxdb", func(context.Context) error { return influxClient.Close() })
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influxClient
		sinks = append(sinks, events.WithPointWriter(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Background workers stop after the engine has drained, so the final
	// status changes still reach every sink.
	dispatcher := events.New(sinks...)
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	var background errgroup.Group
	background.Go(func() error { return dispatcher.Run(bgCtx) })
	stack.push("background workers", func(context.Context) error {
		stopBackground()
		err := background.Wait()
		if n := dispatcher.Dropped(); n > 0 {
			log.Warn("events dropped while the queue was full", "count", n)
		}
		return err
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	types := actor.NewTypes(append(ticker.Types(), greeter.New(), command.New())...)
	system := actor.NewSystem(
		actor.WithMailboxCapacity(cfg.Actors.MailboxCapacity),
		actor.WithAskTimeout(cfg.Actors.AskTimeout()),
		actor.WithEnqueueTimeout(cfg.Actors.EnqueueTimeout()),
		actor.WithLogger(log.With("component", "actor")),
		actor.WithMetrics(actor.NewMetrics(registry)),
	)
	supervisor := actor.NewSupervisor(system, types,
		actor.WithDrainTimeout(cfg.Actors.DrainTimeout()),
		actor.WithStatusHook(dispatcher.StatusChanged),
	)
	log.Info("device types registered", "types", types.Names())

	store, err := recipe.Open(ctx, cfg.Recipes.Path, types, recipe.WithLogger(log.With("component", "recipe")))
	if err != nil {
		return fmt.Errorf("loading recipes: %w", err)
	}

	if cfg.Recipes.Watch {
		watcher, err := recipe.NewWatcher(store, dispatcher.RecipeFileChanged)
		if err != nil {
			log.Warn("recipe file watcher unavailable", "error", err)
		} else {
			background.Go(func() error { return watcher.Run(bgCtx) })
		}
	}

	engine := transition.NewEngine(store, supervisor,
		transition.WithLogger(log.With("component", "transition")),
		transition.WithObserver(dispatcher),
		transition.WithMetrics(transition.NewMetrics(registry)),
	)
	stack.push("devices", func(ctx context.Context) error {
		err := multierr.Append(engine.Shutdown(ctx), supervisor.Shutdown(ctx))
		supervisor.Wait()
		return err
	})

	if err := applyActive(ctx, engine, store, log); err != nil {
		return err
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Store:    store,
		Engine:   engine,
		System:   system,
		History:  transitions,
		Gatherer: registry,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	dispatcher.SetBroadcaster(server.Hub())
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	stack.push("api", func(context.Context) error { return server.Close() })

	if mqttClient != nil {
		commands := events.NewCommands(ctx, engine, log.With("component", "commands"))
		if err := commands.Subscribe(mqttClient); err != nil {
			return err
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"active_recipe", store.ActiveID(),
		"devices", system.Len(),
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// connectMQTT connects when MQTT is enabled and returns nil otherwise.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// applyActive starts the devices of the active recipe. Devices that fail
// to start are logged and left to the operator; only errors that prevent
// the transition from running at all stop the runtime.
func applyActive(ctx context.Context, engine *transition.Engine, store *recipe.Store, log *logging.Logger) error {
	report, err := engine.Apply(ctx, store.ActiveID())
	switch {
	case report == nil && err != nil:
		return fmt.Errorf("applying active recipe: %w", err)
	case errors.Is(err, transition.ErrTransitionPartialFailure):
		log.Warn("active recipe started with failures",
			"recipe_id", report.RecipeID,
			"failed", report.Count(transition.OutcomeFailed),
			"error", err,
		)
	case err != nil:
		log.Warn("active recipe started but not persisted", "recipe_id", report.RecipeID, "error", err)
	default:
		log.Info("active recipe started",
			"recipe_id", report.RecipeID,
			"devices", report.Count(transition.OutcomeStarted),
		)
	}
	return nil
}

// shutdownStack runs cleanup steps in reverse registration order and
// collects every failure.
type shutdownStack struct {
	log   *logging.Logger
	steps []shutdownStep
}

type shutdownStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *shutdownStack) push(name string, fn func(ctx context.Context) error) {
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

func (s *shutdownStack) run(ctx context.Context) error {
	var errs error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		s.log.Info("stopping", "component", step.name)
		if err := step.fn(ctx); err != nil {
			s.log.Error("error stopping", "component", step.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("stopping %s: %w", step.name, err))
		}
	}
	s.steps = nil
	if errs == nil {
		s.log.Info("Gray Logic runtime stopped")
	}
	return errs
}
