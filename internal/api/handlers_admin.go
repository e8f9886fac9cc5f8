package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/originaryx/trace/internal/secrets"
	"github.com/originaryx/trace/internal/storage"
	"github.com/originaryx/trace/pkg/models"
	"github.com/rs/zerolog/log"
)

const defaultRetentionDays = 395 // 13 months, one full reporting year

// TenantCreateHandler handles POST /v1/admin/tenants. The plaintext API
// secret appears in this response and nowhere else.
func (s *Server) TenantCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain        string `json:"domain"`
		RetentionDays int    `json:"retention_days"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "missing_domain")
		return
	}
	if req.RetentionDays <= 0 {
		req.RetentionDays = defaultRetentionDays
	}

	tenant, keyID, secret, err := s.secrets.CreateTenant(r.Context(), req.Domain, req.RetentionDays)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "domain_exists")
			return
		}
		log.Error().Err(err).Str("domain", req.Domain).Msg("tenant creation failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant":  tenant,
		"key_id":  keyID,
		"secret":  secret,
		"warning": "store the secret now, it is not retrievable later",
	})
}

// TenantDeleteHandler handles DELETE /v1/admin/tenants/{id}.
func (s *Server) TenantDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.secrets.DeleteTenant(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown_tenant")
			return
		}
		log.Error().Err(err).Str("tenant", id).Msg("tenant deletion failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KeyRotateHandler handles POST /v1/admin/keys/{id}/rotate. Rotation is
// immediate: batches signed with the old secret fail from here on.
func (s *Server) KeyRotateHandler(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	secret, err := s.secrets.RotateKey(r.Context(), keyID)
	if err != nil {
		if errors.Is(err, secrets.ErrUnknownKey) {
			writeError(w, http.StatusNotFound, "invalid_api_key")
			return
		}
		log.Error().Err(err).Str("key_id", keyID).Msg("key rotation failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key_id": keyID, "secret": secret})
}

// PolicyAppendHandler handles POST /v1/admin/policy: appends a new policy
// version to the tenant's audit trail. Versions are immutable once
// written; a changed text gets the next version number.
func (s *Server) PolicyAppendHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID   string `json:"tenant_id"`
		PolicyText string `json:"policy_text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TenantID == "" || req.PolicyText == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	sum := sha256.Sum256([]byte(req.PolicyText))
	version := &models.PolicyVersion{
		TenantID:    req.TenantID,
		ContentHash: hex.EncodeToString(sum[:]),
		PolicyText:  req.PolicyText,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AppendPolicyVersion(r.Context(), version); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown_tenant")
			return
		}
		log.Error().Err(err).Str("tenant", req.TenantID).Msg("policy append failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version":      version.Version,
		"content_hash": version.ContentHash,
	})
}
