package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/command"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/greeter"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/ticker"
	"github.com/nerrad567/gray-logic-runtime/internal/process"
)

// handleListDevices lists the live actors, sorted by name then id.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	infos := s.system.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": infos,
		"count":   len(infos),
	})
}

// handleGetDevice resolves {ref} as a device id or, failing that, a name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	h, err := s.system.Resolve(target(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Info())
}

// handleUpdateDeviceParams changes a running device's params in the
// active recipe. The edit is left uncommitted.
func (s *Server) handleUpdateDeviceParams(w http.ResponseWriter, r *http.Request) {
	h, err := s.system.Resolve(target(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var params json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.engine.UpdateParams(r.Context(), h.ID(), params); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeDeviceInfo(w, h.ID())
}

func (s *Server) writeDeviceInfo(w http.ResponseWriter, id device.ID) {
	h, ok := s.system.Lookup(id)
	if !ok {
		s.writeDomainError(w, actor.ErrDeviceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.Info())
}

func (s *Server) handleGetTick(w http.ResponseWriter, r *http.Request) {
	tick, err := actor.Ask[uint32](r.Context(), s.system, target(r), ticker.GetTick{})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": tick})
}

func (s *Server) handleIncrementTick(w http.ResponseWriter, r *http.Request) {
	tick, err := actor.Ask[uint32](r.Context(), s.system, target(r), ticker.Increment{})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": tick})
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	greeting, err := actor.Ask[string](r.Context(), s.system, target(r), greeter.Greet{Name: chi.URLParam(r, "name")})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"greeting": greeting})
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := actor.Ask[process.Stats](r.Context(), s.system, target(r), command.Status{})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleProcessOutput(w http.ResponseWriter, r *http.Request) {
	lines, err := actor.Ask[[]string](r.Context(), s.system, target(r), command.Output{})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func target(r *http.Request) actor.Target {
	return actor.ParseTarget(chi.URLParam(r, "ref"))
}
