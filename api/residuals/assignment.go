package residualsapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"IsoHubResiduals/api"
	"IsoHubResiduals/internal/residuals"
)

// AutoPopulateAssignments carries prior-month assignments forward, then runs
// the split validator.
func AutoPopulateAssignments(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		res, err := engine.AutoPopulate(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"carried":    res.Carried,
			"newMids":    res.NewMIDs,
			"validation": res.Validation,
		})
	}
}

// ValidateSplits runs the split validator sweep alone.
func ValidateSplits(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		summary, err := engine.ValidateSplits(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"validation": summary,
		})
	}
}

// UnassignedMIDs partitions the month's unassigned MIDs.
func UnassignedMIDs(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		res, err := engine.UnassignedMIDs(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":            true,
			"newUnassigned":      res.NewUnassigned,
			"previouslyAssigned": res.PreviouslyAssigned,
		})
	}
}

// CompletedMIDs lists MIDs whose assignment totals 100%.
func CompletedMIDs(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		completed, err := engine.CompletedMIDs(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"completed": completed,
		})
	}
}

// AssignRoles creates a manual assignment. 400 when percentages miss 100,
// 409 when the MID is already assigned for the month.
func AssignRoles(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MID         string                `json:"mid"`
			Month       string                `json:"month"`
			Assignments []residuals.RoleInput `json:"assignments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := engine.AssignRoles(r.Context(), req.MID, req.Month, req.Assignments); err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"mid":     req.MID,
			"month":   req.Month,
		})
	}
}
