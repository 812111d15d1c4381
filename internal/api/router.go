package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", s.handleListRecipes)
			r.Post("/", s.handleCreateRecipe)
			r.Post("/active/restore", s.handleRestoreActive)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRecipe)
				r.Patch("/", s.handleUpdateRecipe)
				r.Delete("/", s.handleDeleteRecipe)
				r.Post("/duplicate", s.handleDuplicateRecipe)
				r.Post("/apply", s.handleApplyRecipe)
				r.Post("/devices", s.handleAddRecipeDevice)
				r.Delete("/devices/{deviceID}", s.handleRemoveRecipeDevice)
			})
		})

		r.Get("/variables", s.handleGetVariables)
		r.Put("/variables", s.handlePatchVariables)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{ref}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/params", s.handleUpdateDeviceParams)
				r.Get("/tick", s.handleGetTick)
				r.Post("/tick", s.handleIncrementTick)
				r.Get("/greet/{name}", s.handleGreet)
				r.Get("/process", s.handleProcessStatus)
				r.Get("/output", s.handleProcessOutput)
			})
		})

		r.Get("/transitions", s.handleListTransitions)
		r.Get("/transitions/last", s.handleLastTransition)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth runs every dependency check. Any failure turns the
// response into a 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"active_recipe":  s.store.ActiveID(),
		"uncommitted":    s.store.HasUncommittedChanges(),
		"devices":        s.system.Len(),
		"checks":         checks,
	})
}
