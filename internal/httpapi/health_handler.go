package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"

	"saas_template/internal/utils"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Usage  interface{}       `json:"usage,omitempty"`
}

// handleHealth runs every health check; any failure answers 503
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(d.Health))
	for name := range d.Health {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := d.Health[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if d.RecorderStats != nil {
		resp.Usage = d.RecorderStats()
	}

	utils.RespondWithData(w, status, resp)
}
