package gateway

import (
	"net/http"
)

// healthHandler implements GET /health, returning the HealthChecker's
// report.
func (gw *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.Health.GetHealthReport())
}

// adminEnableHandler implements POST /admin/nodes/{id}/enable.
func (gw *Gateway) adminEnableHandler(w http.ResponseWriter, r *http.Request) {
	gw.setNodeHealth(w, r, true)
}

// adminDisableHandler implements POST /admin/nodes/{id}/disable.
func (gw *Gateway) adminDisableHandler(w http.ResponseWriter, r *http.Request) {
	gw.setNodeHealth(w, r, false)
}

func (gw *Gateway) setNodeHealth(w http.ResponseWriter, r *http.Request, healthy bool) {
	id := r.PathValue("id")
	if gw.Registry.Get(id) == nil {
		writePlain(w, http.StatusNotFound, "unknown node")
		return
	}
	gw.Health.ForceUpdateHealth(id, healthy)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "healthy": healthy})
}
