// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/canonical/license-service/internal/identity"
)

// apiClient talks to the HTTP API on behalf of the CLI user.
type apiClient struct {
	endpoint string
	client   *http.Client
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Status  int             `json:"status"`
	Kind    string          `json:"kind"`
}

func newAPIClient(ctx context.Context) *apiClient {
	endpoint := httpEndpoint
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}

	c := new(apiClient)
	c.endpoint = strings.TrimSuffix(endpoint, "/")
	c.client = &http.Client{Timeout: 30 * time.Second}

	if accessToken != "" {
		c.client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
		c.client.Timeout = 30 * time.Second
	}

	return c
}

// do sends body as JSON and returns the data field of the response envelope.
func (c *apiClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(identity.HeaderName, userID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, string(raw))
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error (status %d, %s): %s", resp.StatusCode, env.Kind, env.Message)
	}

	return env.Data, nil
}

func printJSON(out io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')

	_, err := buf.WriteTo(out)
	return err
}

// call runs one request and prints its result.
func call(ctx context.Context, out io.Writer, method, path string, body any) error {
	data, err := newAPIClient(ctx).do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return printJSON(out, data)
}
