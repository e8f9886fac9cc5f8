package api

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/originaryx/trace/internal/admission"
	"github.com/originaryx/trace/internal/auth"
	"github.com/originaryx/trace/internal/ingest"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 10 << 20

// authenticate reads the raw body and validates the signed request
// headers. On failure it writes the error response and returns ok=false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (tenantID string, body []byte, ok bool) {
	keyID := r.Header.Get("X-Peac-Key")
	tsRaw := r.Header.Get("X-Peac-Timestamp")
	signature := r.Header.Get("X-Peac-Signature")
	if keyID == "" || tsRaw == "" || signature == "" {
		authFailuresTotal.WithLabelValues("missing_auth_headers").Inc()
		writeError(w, http.StatusUnauthorized, "missing_auth_headers")
		return "", nil, false
	}
	timestampMS, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		authFailuresTotal.WithLabelValues("missing_auth_headers").Inc()
		writeError(w, http.StatusUnauthorized, "missing_auth_headers")
		return "", nil, false
	}

	body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large")
		return "", nil, false
	}

	tenantID, err = s.authn.Authenticate(r.Context(), keyID, signature, timestampMS, body)
	if err != nil {
		code, errCode := authFailure(err)
		authFailuresTotal.WithLabelValues(errCode).Inc()
		writeError(w, code, errCode)
		return "", nil, false
	}
	return tenantID, body, true
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnknownKey):
		return http.StatusUnauthorized, "invalid_api_key"
	case errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, auth.ErrTimestampSkew):
		return http.StatusUnauthorized, "timestamp_skew"
	case errors.Is(err, auth.ErrReplayDetected):
		return http.StatusUnauthorized, "replay_detected"
	default:
		// Nonce store failure: fail closed, the replay check could not run.
		return http.StatusInternalServerError, "internal_error"
	}
}

// admit runs the admission check. A counter backend failure admits the
// request: losing rate limiting briefly beats dropping tenant telemetry.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, limiter *admission.Limiter, channel, tenantID string) bool {
	ok, retryAfter, err := limiter.Allow(r.Context(), tenantID)
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("admission counter unavailable, admitting request")
		return true
	}
	if !ok {
		rateLimitedTotal.WithLabelValues(channel).Inc()
		secs := int(math.Ceil(retryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		return false
	}
	return true
}

// EventsHandler handles POST /v1/events (signed ingestion).
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !s.admit(w, r, s.signedLimiter, "signed", tenantID) {
		return
	}
	s.ingestBatch(w, r, tenantID, body, "signed")
}

// BrowserEventsHandler handles POST /v1/events/browser: the unsigned
// browser-collector path. The key id alone identifies the tenant; the
// looser trust level is offset by a separate admission profile.
func (s *Server) BrowserEventsHandler(w http.ResponseWriter, r *http.Request) {
	keyID := r.Header.Get("X-Peac-Key")
	if keyID == "" {
		writeError(w, http.StatusUnauthorized, "missing_auth_headers")
		return
	}
	tenantID, _, err := s.secrets.LookupSecret(r.Context(), keyID)
	if err != nil {
		authFailuresTotal.WithLabelValues("invalid_api_key").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_api_key")
		return
	}
	if !s.admit(w, r, s.browserLimiter, "browser", tenantID) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}
	s.ingestBatch(w, r, tenantID, body, "browser")
}

// ingestBatch normalizes, persists, and acknowledges one event batch,
// then hands the events to the resource tracker. Tracking is fire and
// forget: its failures never reach this response.
func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request, tenantID string, body []byte, channel string) {
	events, rejected, err := ingest.Normalize(tenantID, body, r.Header.Get("Content-Type"), time.Now())
	if rejected > 0 {
		eventsRejectedTotal.WithLabelValues(channel).Add(float64(rejected))
	}
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidJSON):
			writeError(w, http.StatusBadRequest, "invalid_json")
		case errors.Is(err, ingest.ErrNoValidEvents):
			writeError(w, http.StatusBadRequest, "no_valid_events")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	inserted, err := s.store.InsertEvents(r.Context(), events)
	if err != nil {
		log.Error().Err(err).
			Str("request_id", requestIDFromCtx(r.Context())).
			Str("tenant", tenantID).
			Msg("event insert failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	eventsIngestedTotal.WithLabelValues(channel).Add(float64(inserted))
	if rejected > 0 {
		log.Debug().
			Str("request_id", requestIDFromCtx(r.Context())).
			Str("tenant", tenantID).
			Int("rejected", rejected).
			Msg("dropped batch items")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "inserted": inserted})
	s.tracker.Track(events)
}
