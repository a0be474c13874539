package handlers

import (
	"net/http"
	"strconv"

	"github.com/jason-s-yu/clickrace/internal/models"
)

// Total handles GET /api/total.
func (a *API) Total(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"total": a.Store.TotalClicks()})
}

type resultsPage struct {
	Results []models.RaceResult `json:"results"`
}

// RecentResults handles GET /api/race/results?limit=N.
func (a *API) RecentResults(w http.ResponseWriter, r *http.Request) {
	if a.Results == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Type: "error", Code: "unavailable", Message: "results archive disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := a.Results.Recent(r.Context(), limit)
	if err != nil {
		a.log().WithError(err).Error("load recent results")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsPage{Results: results})
}
