package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// pathURL builds the REST URL for a store path.
func (c *Client) pathURL(path string) string {
	u := fmt.Sprintf("%s/%s.json", c.cfg.DatabaseURL, strings.Trim(path, "/"))
	if token := c.token(); token != "" {
		u += "?auth=" + url.QueryEscape(token)
	}
	return u
}

// Get reads the value at path, or JSON null if absent.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pathURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build get request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "get", Path: path, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := storeError("get", path, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "get", Path: path, Code: CodeNetwork, Err: err}
	}
	return json.RawMessage(body), nil
}

// Push appends a new child under path and returns the generated key.
func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode push value: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pathURL(path), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Op: "push", Path: path, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := storeError("push", path, resp); err != nil {
		return "", err
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode push response: %w", err)
	}
	if result.Name == "" {
		return "", &Error{Op: "push", Path: path, Code: CodeWriteConflict, Err: fmt.Errorf("store returned no generated key")}
	}

	return result.Name, nil
}

// Update merges the given fields into the value at path. Fields not named
// in the map are left untouched, which keeps concurrent writers racing at
// field granularity rather than record granularity.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode update fields: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.pathURL(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "update", Path: path, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	return storeError("update", path, resp)
}

// Delete removes the value at path. Removal is terminal; the store keeps
// no tombstone. Deleting an absent path is not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.pathURL(path), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "delete", Path: path, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	return storeError("delete", path, resp)
}

// storeError maps a failed database response to a platform Error.
func storeError(op, path string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Op: op, Path: path, Code: CodePermissionDenied, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Op: op, Path: path, Code: CodeNotFound, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return &Error{Op: op, Path: path, Code: CodeWriteConflict, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return &Error{Op: op, Path: path, Code: CodeNetwork, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}
