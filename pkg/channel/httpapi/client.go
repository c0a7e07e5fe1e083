package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"metricbridge/pkg/bus"
)

const maxEventBytes = 8 << 20

// Client talks to a running HTTP channel.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL, for example http://127.0.0.1:18791.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
}

// Call sends one action. Typed bridge failures come back in the result's
// Error field; the returned error covers transport problems only.
func (c *Client) Call(ctx context.Context, call bus.MethodCall) (bus.MethodResult, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return bus.MethodResult{}, fmt.Errorf("encode call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+CallPath, bytes.NewReader(body))
	if err != nil {
		return bus.MethodResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return bus.MethodResult{}, fmt.Errorf("send call: %w", err)
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return bus.MethodResult{}, fmt.Errorf("unexpected response: %s", resp.Status)
	}

	var result bus.MethodResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return bus.MethodResult{}, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}

// Events attaches to the event stream and calls fn with each envelope
// until ctx ends or the server closes the stream.
func (c *Client) Events(ctx context.Context, fn func(string)) error {
	if fn == nil {
		return errors.New("event callback is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+EventsPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open event stream: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventBytes)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				fn(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
