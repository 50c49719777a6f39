package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// clientTimeout is the default timeout for requests against the daemon.
// Prevents hung connections from blocking CLI commands indefinitely.
const clientTimeout = 30 * time.Second

// daemonClient issues requests against a running daemon's control surface.
type daemonClient struct {
	base string
	http *http.Client
}

// newDaemonClient targets the daemon at the configured listen address.
func newDaemonClient(listen string) *daemonClient {
	return &daemonClient{
		base: "http://" + listen,
		http: &http.Client{Timeout: clientTimeout},
	}
}

// get issues a GET with optional query parameters and decodes the JSON
// response into out.
func (c *daemonClient) get(path string, params url.Values, out any) error {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	resp, err := c.http.Get(u)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}

	return c.decode(resp, out)
}

// post issues a POST with a JSON body and decodes the JSON response into out.
func (c *daemonClient) post(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}

	return c.decode(resp, out)
}

func (c *daemonClient) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}

		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("daemon: %s", errBody.Error)
		}

		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
