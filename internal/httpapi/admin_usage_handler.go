package httpapi

import (
	"net/http"
	"strconv"

	"saas_template/internal/usage"
	"saas_template/internal/utils"
)

var adminLogger = utils.NewLogger("admin")

// handleUsageLogs lists the most recent usage logs, at most
// usage.MaxRecentLimit of them
func (d *Dependencies) handleUsageLogs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	limit, ok := intParam(w, r, "limit", usage.DefaultRecentLimit)
	if !ok {
		return
	}
	if limit > usage.MaxRecentLimit {
		limit = usage.MaxRecentLimit
	}

	logs, err := d.Usage.Recent(r.Context(), limit)
	if err != nil {
		adminLogger.Error("Failed to list usage logs", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch usage logs")
		return
	}
	utils.RespondWithData(w, http.StatusOK, logs)
}

// handleUsageSummary aggregates usage over ?days= (default 7)
func (d *Dependencies) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	days, ok := intParam(w, r, "days", usage.DefaultSummaryDays)
	if !ok {
		return
	}

	summary, err := d.Usage.Summarize(r.Context(), days)
	if err != nil {
		adminLogger.Error("Failed to summarize usage", "days", days, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch usage summary")
		return
	}
	utils.RespondWithData(w, http.StatusOK, summary)
}

// intParam reads a positive integer query parameter
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}
