package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
)

// RecipeSummary is one entry of the recipe list.
type RecipeSummary struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Tags    []string  `json:"tags"`
	Devices int       `json:"devices"`
	Active  bool      `json:"active"`
}

// RecipeResponse is a single recipe with its id.
type RecipeResponse struct {
	ID     string        `json:"id"`
	Active bool          `json:"active"`
	Recipe recipe.Recipe `json:"recipe"`
}

type createRecipeRequest struct {
	Tags []string `json:"tags"`
}

// updateRecipeRequest renames and/or retags a recipe. Absent fields are
// left alone.
type updateRecipeRequest struct {
	ID   *string   `json:"id"`
	Tags *[]string `json:"tags"`
}

func (s *Server) handleListRecipes(w http.ResponseWriter, _ *http.Request) {
	state := s.store.Snapshot()
	summaries := make([]RecipeSummary, 0, len(state.All))
	for _, id := range state.RecipeIDs() {
		r := state.All[id]
		summaries = append(summaries, RecipeSummary{
			ID:      id,
			Created: r.Created,
			Tags:    r.Tags,
			Devices: len(r.Devices),
			Active:  id == state.ActiveID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_id":   state.ActiveID,
		"uncommitted": state.HasUncommittedChanges(),
		"recipes":     summaries,
		"count":       len(summaries),
	})
}

func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req createRecipeRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	id, err := s.store.AddRecipe(r.Context(), req.Tags)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRecipe(w, http.StatusCreated, id)
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	s.writeRecipe(w, http.StatusOK, chi.URLParam(r, "id"))
}

func (s *Server) handleUpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRecipeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	if req.ID != nil && *req.ID != id {
		if err := s.store.Rename(r.Context(), id, *req.ID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		id = *req.ID
	}
	if req.Tags != nil {
		if err := s.store.SetTags(r.Context(), id, *req.Tags); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	s.writeRecipe(w, http.StatusOK, id)
}

func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicateRecipe(w http.ResponseWriter, r *http.Request) {
	id, mapping, err := s.store.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"devices": mapping,
	})
}

func (s *Server) handleApplyRecipe(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Apply(r.Context(), chi.URLParam(r, "id"))
	s.writeTransition(w, report, err)
}

// handleRestoreActive throws away uncommitted edits of the active recipe
// and re-applies the committed configuration.
func (s *Server) handleRestoreActive(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RestoreCommitted(r.Context())
	s.writeTransition(w, report, err)
}

func (s *Server) handleAddRecipeDevice(w http.ResponseWriter, r *http.Request) {
	var desc device.Descriptor
	if err := decodeBody(r, &desc); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	id, err := s.store.AddDevice(r.Context(), chi.URLParam(r, "id"), desc)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleRemoveRecipeDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := device.ParseID(chi.URLParam(r, "deviceID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.store.RemoveDevice(r.Context(), chi.URLParam(r, "id"), deviceID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRecipe(w http.ResponseWriter, status int, id string) {
	rec, err := s.store.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, RecipeResponse{ID: id, Active: id == s.store.ActiveID(), Recipe: rec})
}

func (s *Server) handleGetVariables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"variables": s.store.Variables()})
}

// handlePatchVariables merges the body into the variables and reports
// which recipes use the patched ones.
func (s *Server) handlePatchVariables(w http.ResponseWriter, r *http.Request) {
	var patch recipe.Variables
	if err := decodeBody(r, &patch); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	affected, err := s.store.SetVariables(r.Context(), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if affected == nil {
		affected = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variables": s.store.Variables(),
		"affected":  affected,
	})
}
