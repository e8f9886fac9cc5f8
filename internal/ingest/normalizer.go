// Package ingest parses and validates raw event batches into canonical
// crawl event records.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/originaryx/trace/pkg/models"
)

// Batch-level failures. Individual malformed items are dropped and
// counted, never surfaced as errors.
var (
	ErrInvalidJSON   = errors.New("invalid_json")
	ErrNoValidEvents = errors.New("no_valid_events")
)

const maxBatchItems = 10000

var validate = validator.New()

// rawEvent is the recognized wire schema. Fields outside it are silently
// dropped by the decoder; "ts" is the collector's clock and is stored as
// advisory client_ts only.
type rawEvent struct {
	Timestamp     int64  `json:"ts" validate:"min=0"`
	Host          string `json:"host" validate:"required,max=253"`
	Path          string `json:"path" validate:"required,max=2048"`
	Method        string `json:"method" validate:"required,max=16"`
	Status        *int   `json:"status" validate:"omitempty,min=0,max=599"`
	UserAgent     string `json:"ua" validate:"max=1024"`
	IPPrefix      string `json:"ip_prefix" validate:"max=64"`
	IsBot         *bool  `json:"is_bot"`
	CrawlerFamily string `json:"crawler_family" validate:"max=64"`
	Source        string `json:"source" validate:"max=32"`
	ResponseBytes int64  `json:"bytes" validate:"min=0,max=1099511627776"`
	ContentType   string `json:"content_type" validate:"max=255"`
	ResourceHash  string `json:"content_hash" validate:"max=128"`
}

// Normalize parses a request body (single JSON object, JSON array, or
// newline-delimited JSON) into validated crawl events for the tenant.
// Malformed items, and items beyond the batch cap, are dropped and
// counted in rejected; the batch only fails when nothing survives.
// server_ts is always taken from now, regardless of any caller-supplied
// timestamp.
func Normalize(tenantID string, body []byte, contentType string, now time.Time) ([]*models.CrawlEvent, int, error) {
	items, truncated, err := splitBatch(body, contentType)
	if err != nil {
		return nil, 0, err
	}

	events := make([]*models.CrawlEvent, 0, len(items))
	rejected := truncated
	for _, item := range items {
		var raw rawEvent
		if err := json.Unmarshal(item, &raw); err != nil {
			rejected++
			continue
		}
		if err := validate.Struct(&raw); err != nil {
			rejected++
			continue
		}
		events = append(events, canonicalize(tenantID, &raw, now))
	}

	if len(events) == 0 {
		return nil, rejected, ErrNoValidEvents
	}
	return events, rejected, nil
}

// splitBatch returns the individual JSON items of a batch plus the count
// of items discarded past the batch cap, so oversize batches surface in
// the caller's rejected count instead of vanishing. Only a body that
// cannot be interpreted at all is a batch-level error.
func splitBatch(body []byte, contentType string) ([]json.RawMessage, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, 0, ErrInvalidJSON
	}

	if strings.Contains(contentType, "x-ndjson") {
		return splitLines(trimmed)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, ErrInvalidJSON
		}
		if len(items) > maxBatchItems {
			return items[:maxBatchItems], len(items) - maxBatchItems, nil
		}
		return items, 0, nil
	case '{':
		if json.Valid(trimmed) {
			return []json.RawMessage{trimmed}, 0, nil
		}
		// Several objects separated by newlines without the ndjson
		// content type: collectors do this, take it line by line.
		return splitLines(trimmed)
	default:
		return nil, 0, ErrInvalidJSON
	}
}

func splitLines(body []byte) ([]json.RawMessage, int, error) {
	var items []json.RawMessage
	truncated := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if len(items) >= maxBatchItems {
			truncated++
			continue
		}
		items = append(items, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, ErrInvalidJSON
	}
	if len(items) == 0 {
		return nil, 0, ErrInvalidJSON
	}
	return items, truncated, nil
}

func canonicalize(tenantID string, raw *rawEvent, now time.Time) *models.CrawlEvent {
	isBot, family := Classify(raw.UserAgent, raw.CrawlerFamily, raw.IsBot)

	var clientTS *time.Time
	if raw.Timestamp > 0 {
		t := time.UnixMilli(raw.Timestamp).UTC()
		clientTS = &t
	}

	return &models.CrawlEvent{
		TenantID:      tenantID,
		ServerTS:      now.UTC(),
		ClientTS:      clientTS,
		Host:          strings.ToLower(raw.Host),
		Path:          raw.Path,
		Method:        strings.ToUpper(raw.Method),
		Status:        raw.Status,
		UserAgent:     raw.UserAgent,
		IPPrefix:      raw.IPPrefix,
		IsBot:         isBot,
		CrawlerFamily: family,
		Source:        raw.Source,
		ResponseBytes: raw.ResponseBytes,
		ContentType:   raw.ContentType,
		ResourceHash:  raw.ResourceHash,
	}
}
