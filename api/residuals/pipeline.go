package residualsapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"IsoHubResiduals/api"
	"IsoHubResiduals/internal/residuals"
)

// CrossReference rebuilds the master dataset for the month.
func CrossReference(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		res, err := engine.CompileMonth(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":          true,
			"matchedRecords":   res.MatchedRecords,
			"unmatchedRecords": res.UnmatchedRecords,
			"branchBackfills":  res.BranchBackfills,
			"errors":           res.Errors,
		})
	}
}

// CleanupDuplicates collapses duplicate rows and installs the uniqueness
// constraint.
func CleanupDuplicates(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		report, err := engine.CleanupDuplicates(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"report":  report,
		})
	}
}

// DuplicateReport lists MIDs still carrying same-processor duplicates.
func DuplicateReport(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		groups, err := engine.DuplicateReport(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		if groups == nil {
			groups = []residuals.DuplicateGroup{}
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"duplicates": groups,
		})
	}
}

// MasterDataQC bulk-approves or bulk-rejects the month.
func MasterDataQC(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		flipped, err := engine.QCMonth(r.Context(), month, req.Action)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"action":  req.Action,
			"flipped": flipped,
		})
	}
}
