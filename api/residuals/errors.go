package residualsapi

import (
	"errors"
	"net/http"

	"IsoHubResiduals/api"
	"IsoHubResiduals/internal/residuals"
)

// respondEngineError maps engine errors onto the HTTP taxonomy: bad input is
// 400, assignment conflicts are 409, unknown records are 404, and anything
// else is a retryable 500 (every stage is idempotent).
func respondEngineError(w http.ResponseWriter, err error) {
	var splitErr *residuals.SplitTotalError
	switch {
	case errors.As(err, &splitErr):
		api.RespondWithError(w, http.StatusBadRequest, splitErr.Error())
	case errors.Is(err, residuals.ErrInvalidMonth), errors.Is(err, residuals.ErrUnknownAction):
		api.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, residuals.ErrAlreadyAssigned):
		api.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, residuals.ErrNotFound):
		api.RespondWithError(w, http.StatusNotFound, err.Error())
	default:
		api.RespondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
