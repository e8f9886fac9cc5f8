package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/originaryx/trace/internal/crypto"
)

// Client is an HTTP client for the Trace API. Tenant requests are signed
// with the configured API key; admin requests carry the operator token.
type Client struct {
	addr       string
	keyID      string
	secret     []byte
	adminToken string
	http       *http.Client
}

// newClient creates a Client from the current config.
func newClient() (*Client, error) {
	addr := cfg.Address
	if v := os.Getenv("TRACE_ADDR"); v != "" {
		addr = v
	}
	keyID := cfg.KeyID
	if v := os.Getenv("TRACE_KEY_ID"); v != "" {
		keyID = v
	}
	secretB64 := cfg.Secret
	if v := os.Getenv("TRACE_SECRET"); v != "" {
		secretB64 = v
	}
	adminToken := cfg.AdminToken
	if v := os.Getenv("TRACE_ADMIN_TOKEN"); v != "" {
		adminToken = v
	}

	var secret []byte
	if secretB64 != "" {
		var err error
		secret, err = base64.RawURLEncoding.DecodeString(secretB64)
		if err != nil {
			return nil, fmt.Errorf("configured secret is not valid base64url: %w", err)
		}
	}

	return &Client{
		addr:       addr,
		keyID:      keyID,
		secret:     secret,
		adminToken: adminToken,
		http:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// signedDo sends a request carrying the signed ingestion headers and
// returns the raw response body.
func (c *Client) signedDo(method, path, contentType string, body []byte) (int, []byte, error) {
	if c.keyID == "" || len(c.secret) == 0 {
		return 0, nil, fmt.Errorf("no API key configured, run 'trace configure' first")
	}
	req, err := http.NewRequest(method, c.addr+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Peac-Key", c.keyID)
	req.Header.Set("X-Peac-Timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.Header.Set("X-Peac-Signature", crypto.SignHMAC(c.secret, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// signedJSON is signedDo with the response decoded into the API's JSON
// envelope.
func (c *Client) signedJSON(method, path, contentType string, body []byte) (map[string]any, error) {
	status, data, err := c.signedDo(method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	return parseResponse(status, data)
}

func (c *Client) adminDo(method, path string, body any) (map[string]any, error) {
	if c.adminToken == "" {
		return nil, fmt.Errorf("no admin token configured")
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.addr+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-Admin-Token", c.adminToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{"ok": true}, nil
	}
	return parseResponse(resp.StatusCode, data)
}

func (c *Client) getJSON(path string) (map[string]any, error) {
	resp, err := c.http.Get(c.addr + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp.StatusCode, data)
}

func parseResponse(status int, data []byte) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", status, data)
	}
	if status >= 400 {
		if code, ok := result["error"].(string); ok {
			return nil, fmt.Errorf("%s (HTTP %d)", code, status)
		}
		return nil, fmt.Errorf("HTTP %d", status)
	}
	return result, nil
}
