// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the orchestrator's
// HTTP RPC transport. It gives external tooling — not
// just assistants calling back over stdio — a first-class way to drive
// the same Tool Surface both transports expose.
//
// # Getting started
//
//	c := client.New("http://localhost:8765")
//	inst, err := c.Spawn(ctx, client.SpawnRequest{Name: "worker-1", Kind: "claude"})
//
// Every method accepts a context.Context and returns an *APIError when
// the orchestrator reports a Tool Surface error, so callers can
// branch on Kind without string-matching messages.
//
// The whole surface is a single POST /rpc/{operation} call shape,
// since every Tool Surface operation shares one request/response
// envelope.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an orchestrator API client, safe for concurrent use by
// multiple goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// New creates a Client pointed at baseURL (e.g. "http://localhost:8765").
// Any trailing slash is removed. The default HTTP client has a 30 second
// timeout; override it with WithTimeout or WithHTTPClient.
func New(baseURL string, opts...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient sets a custom HTTP client, e.g. for custom TLS trust.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout for all requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// apiResponse mirrors httptransport's envelope{Data, Error}.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError represents a Tool Surface error. Kind is one of
// the sentinel kinds in overseer.Kind ("not_found", "spawn_failed", …);
// Hint enumerates acceptable values when Kind is "invalid_argument".
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// Call invokes the named Tool Surface operation with input and decodes
// its result into out (pass nil to discard the result). Every typed
// helper in this package (Spawn, Send, Terminate, …) is a thin wrapper
// around Call.
func (c *Client) Call(ctx context.Context, operation string, input interface{}, out interface{}) error {
	var body io.Reader
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+operation, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := c.parseResponse(resp)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(raw))
		}
		return raw, nil
	}

	if env.Error != nil {
		return nil, env.Error
	}
	return env.Data, nil
}

// Operations returns every operation name the server's Tool Surface
// registry exposes, via GET /rpc; callers can assert this set matches
// what the stdio transport's list_operations reports.
func (c *Client) Operations(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rpc", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := c.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode operation list: %w", err)
	}
	return names, nil
}
