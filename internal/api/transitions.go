package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/history"
)

// handleListTransitions pages through recorded transitions, newest first.
//
// Query parameters: recipe_id, committed (true/false), since (RFC3339),
// limit, offset.
func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "transition history is not configured")
		return
	}

	q := r.URL.Query()
	filter := history.Filter{RecipeID: q.Get("recipe_id")}

	if v := q.Get("committed"); v != "" {
		committed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "committed must be true or false")
			return
		}
		filter.Committed = &committed
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing transitions failed", "error", err)
		writeInternalError(w, "failed to list transitions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLastTransition returns the engine's most recent report, recorded
// or not.
func (s *Server) handleLastTransition(w http.ResponseWriter, _ *http.Request) {
	report := s.engine.Last()
	if report == nil {
		writeNotFound(w, "no transition has run yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
