// Package agent is a Go client for the binding protocol. It drives the
// browser leg of a ceremony, performs the companion leg of a file transfer
// and calls the operator endpoints.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"oobind/internal/protoerr"
)

// Client talks to one binding service.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New returns a client for the service at baseURL. A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// WithToken returns a copy of c that sends token as the admin bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// BaseURL is the service root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// errorBody is the shape of every non-2xx response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// postJSON sends body to path and decodes a 2xx response into out. Failures
// reported by the service come back as *protoerr.Error with the service's
// code; failures to reach it are network_error.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return protoerr.Wrap(protoerr.CodeInvalidRequest, "encode request", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return protoerr.Wrap(protoerr.CodeInvalidRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return protoerr.Wrap(protoerr.CodeInvalidRequest, "build request", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(req.Context(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return protoerr.Wrap(protoerr.CodeNetworkError, "decode response", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		return protoerr.New(protoerr.CodeNetworkError, fmt.Sprintf("unexpected response %s", resp.Status))
	}
	return protoerr.New(protoerr.Code(body.Error), body.Detail)
}

// transportError reports a failed round trip. A cancelled caller is
// aborted rather than a network failure.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return protoerr.Wrap(protoerr.CodeAborted, "request cancelled", ctx.Err())
	}
	return protoerr.Wrap(protoerr.CodeNetworkError, "service unreachable", err)
}
