// Package client is a Go client for the discovery service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/discovery"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dpp"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

type ErrFailedResponse struct {
	StatusCode int
	Body       string
}

func errFromResponse(res *http.Response) ErrFailedResponse {
	err := ErrFailedResponse{StatusCode: res.StatusCode}

	message, merr := io.ReadAll(res.Body)
	if merr != nil {
		err.Body = merr.Error()
	} else {
		err.Body = string(message)
	}
	return err
}

func (e ErrFailedResponse) Error() string {
	return fmt.Sprintf("http request failed, status: %d %s, message: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client talks to a running discovery service.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client against the given service URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverRegistries lists the DTRs of a business partner.
func (c *Client) DiscoverRegistries(ctx context.Context, bpn types.BPN) ([]types.DTR, error) {
	var out struct {
		DTRs []types.DTR `json:"dtrs"`
	}
	err := c.post(ctx, "/discover/registries", map[string]any{"counterPartyId": bpn}, &out)
	return out.DTRs, err
}

// DiscoverShells runs the asset-link shell lookup.
func (c *Client) DiscoverShells(ctx context.Context, bpn types.BPN, querySpec types.QuerySpec, limit *int, cursor string) (*discovery.ShellsResult, error) {
	body := map[string]any{"counterPartyId": bpn, "querySpec": querySpec}
	if limit != nil {
		body["limit"] = *limit
	}
	if cursor != "" {
		body["cursor"] = cursor
	}
	var out discovery.ShellsResult
	if err := c.post(ctx, "/discover/shells", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DiscoverShell fetches one shell descriptor.
func (c *Client) DiscoverShell(ctx context.Context, bpn types.BPN, shellID string) (*discovery.ShellResult, error) {
	var out discovery.ShellResult
	if err := c.post(ctx, "/discover/shell", map[string]any{"counterPartyId": bpn, "id": shellID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartDPPDiscovery starts an asynchronous DPP discovery and returns the task
// id.
func (c *Client) StartDPPDiscovery(ctx context.Context, req dpp.Request) (string, error) {
	var out struct {
		TaskID string `json:"taskId"`
	}
	if err := c.post(ctx, "/addons/ecopass/discover/", req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// TaskStatus fetches a task snapshot.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*dpp.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/addons/ecopass/discover/"+taskID+"/status", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errFromResponse(res)
	}
	var snapshot dpp.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decoding task status: %w", err)
	}
	return &snapshot, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return errFromResponse(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
