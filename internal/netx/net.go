// Package netx holds the small HTTP helpers shared by the outbound API clients.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 2048

// StatusError is returned when the remote side answers with an unexpected status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// NewJSONRequest builds a request whose body is body encoded as JSON.
// A nil body sends no payload.
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends req and returns the response body. Any status outside accepted
// (any 2xx when accepted is empty) yields a *StatusError.
func Do(client *http.Client, req *http.Request, accepted ...int) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !statusAccepted(resp.StatusCode, accepted) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Status: resp.StatusCode, Body: string(b)}
	}

	return io.ReadAll(resp.Body)
}

// DoJSON is Do followed by decoding the body into out (skipped when out is nil).
func DoJSON(client *http.Client, req *http.Request, out any, accepted ...int) error {
	b, err := Do(client, req, accepted...)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusAccepted(code int, accepted []int) bool {
	if len(accepted) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accepted {
		if a == code {
			return true
		}
	}
	return false
}
