package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/originaryx/trace/internal/bundle"
	"github.com/originaryx/trace/pkg/models"
	"github.com/rs/zerolog/log"
)

// JWKSHandler handles GET /.well-known/jwks.json.
func (s *Server) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, s.keys)
}

// VerifyHandler handles POST /v1/verify. Verification failures are a
// negative result, not an HTTP error: the request itself succeeded.
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SignedBundle
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	header, err := s.verifier.Verify(&req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": verifyFailure(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "header": header})
}

func verifyFailure(err error) string {
	switch {
	case errors.Is(err, bundle.ErrUnknownKid):
		return "unknown_kid"
	case errors.Is(err, bundle.ErrMalformedBundle):
		return "malformed_bundle"
	default:
		return "bad_signature"
	}
}

// BundleHandler handles POST /v1/compliance/bundle/{year}/{month}.
// Signing reads stored facts only, so a failed request has no side
// effects to undo.
func (s *Server) BundleHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	year, errY := strconv.Atoi(chi.URLParam(r, "year"))
	month, errM := strconv.Atoi(chi.URLParam(r, "month"))
	if errY != nil || errM != nil {
		writeError(w, http.StatusBadRequest, "invalid_period")
		return
	}

	signed, err := s.signer.Sign(r.Context(), tenantID, year, month)
	if err != nil {
		if errors.Is(err, bundle.ErrInvalidPeriod) {
			writeError(w, http.StatusBadRequest, "invalid_period")
			return
		}
		log.Error().Err(err).Str("tenant", tenantID).Int("year", year).Int("month", month).
			Msg("bundle signing failed")
		writeError(w, http.StatusInternalServerError, "bundle_failed")
		return
	}
	bundlesSignedTotal.Inc()

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("trace-bundle-%s-%04d-%02d.json", tenantID, year, month)))
	writeJSON(w, http.StatusOK, signed)
}

// BundleMonthsHandler handles GET /v1/compliance/bundle: the months for
// which the tenant has event data.
func (s *Server) BundleMonthsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	months, err := s.store.ListEventMonths(r.Context(), tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("month listing failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if months == nil {
		months = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months})
}
