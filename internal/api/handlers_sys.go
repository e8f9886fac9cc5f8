package api

import "net/http"

// HealthHandler handles GET /v1/sys/health and refreshes the population
// gauges as a side effect.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if tenants, err := s.store.CountTenants(r.Context()); err == nil {
		tenantsTotal.Set(float64(tenants))
	}
	if events, err := s.store.CountEvents(r.Context()); err == nil {
		eventsStoredTotal.Set(float64(events))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
