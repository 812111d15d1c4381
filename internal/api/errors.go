package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
	"github.com/nerrad567/gray-logic-runtime/internal/transition"
)

// Error is the structured error response body.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnsupported      = "unsupported_message"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeTimeout          = "timeout"
	ErrCodeTransitionFailed = "transition_failed"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps runtime errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		recipeValidation *recipe.ValidationError
		persistence      *recipe.PersistenceError
	)
	switch {
	case errors.Is(err, actor.ErrDeviceNotFound),
		errors.Is(err, recipe.ErrRecipeNotFound),
		errors.Is(err, recipe.ErrDeviceNotInRecipe):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, actor.ErrAmbiguousName),
		errors.Is(err, actor.ErrAmbiguousHandler),
		errors.Is(err, recipe.ErrRecipeExists),
		errors.Is(err, recipe.ErrActiveRecipe):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.As(err, &recipeValidation),
		errors.Is(err, device.ErrInvalidParams),
		errors.Is(err, device.ErrInvalidID),
		errors.Is(err, device.ErrInvalidDescriptor),
		errors.Is(err, recipe.ErrInvalidRecipeID),
		errors.Is(err, recipe.ErrInvalidVariable),
		errors.Is(err, recipe.ErrUnknownVariable),
		errors.Is(err, recipe.ErrUnknownDeviceType),
		errors.Is(err, actor.ErrUnknownType):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, actor.ErrUnknownMessage):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, actor.ErrMailboxFull),
		errors.Is(err, actor.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, actor.ErrAskTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.As(err, &persistence):
		s.logger.Error("recipe file write failed", "error", err)
		writeInternalError(w, "recipe file could not be written")
	default:
		s.logger.Error("request failed", "error", err)
		writeInternalError(w, err.Error())
	}
}

// transitionFailure is returned when some devices did not reach their
// target state.
type transitionFailure struct {
	Error
	Report *transition.Report `json:"report"`
}

// writeTransition answers an Apply or RestoreCommitted call. A committed
// transition is a success even if the recipe file could not be written;
// the report says so.
func (s *Server) writeTransition(w http.ResponseWriter, report *transition.Report, err error) {
	switch {
	case report != nil && report.Committed:
		if err != nil {
			s.logger.Warn("transition committed but not persisted", "transition_id", report.ID, "error", err)
		}
		writeJSON(w, http.StatusOK, report)
	case report != nil && errors.Is(err, transition.ErrTransitionPartialFailure):
		writeJSON(w, http.StatusUnprocessableEntity, transitionFailure{
			Error: Error{
				Status:  http.StatusUnprocessableEntity,
				Code:    ErrCodeTransitionFailed,
				Message: err.Error(),
			},
			Report: report,
		})
	case err != nil:
		s.writeDomainError(w, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
