// Package bpndiscovery resolves product identifiers to business partner
// numbers via the dataspace's Discovery Finder and BPN Discovery services,
// and business partners to their connector endpoints.
package bpndiscovery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

var log = logging.Logger("bpndiscovery")

// DefaultIdentifierType is the identifier type searched when none is
// configured.
const DefaultIdentifierType = "manufacturerPartId"

const (
	finderPath = "/api/v1.0/administration/connection/discovery"
	searchPath = "/api/v1.0/administration/connection/bpn-discovery/search"
)

// TokenSource supplies a bearer token for the discovery services. A nil
// source means unauthenticated calls.
type TokenSource func(ctx context.Context) (string, error)

// Client resolves identifiers to BPNs.
type Client interface {
	// DiscoverBPNs searches the BPN discovery endpoints registered for the
	// identifier type and returns the distinct BPNs owning the keys.
	DiscoverBPNs(ctx context.Context, identifierType string, keys []string) ([]types.BPN, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// WithTokenSource installs bearer authentication.
func WithTokenSource(ts TokenSource) Option {
	return func(c *client) {
		c.token = ts
	}
}

type client struct {
	finderURL string
	http      *http.Client
	token     TokenSource
}

var _ Client = (*client)(nil)

// New creates a client against the given Discovery Finder.
func New(finderURL string, opts ...Option) Client {
	c := &client{
		finderURL: strings.TrimSuffix(finderURL, "/"),
		http:      telemetry.GetInstrumentedHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type finderResponse struct {
	Endpoints []struct {
		Type            string `json:"type"`
		ResourceAddress string `json:"resourceAddress"`
	} `json:"endpoints"`
}

type searchResponse struct {
	BPNs []struct {
		Type  string `json:"type"`
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"bpns"`
}

func (c *client) DiscoverBPNs(ctx context.Context, identifierType string, keys []string) ([]types.BPN, error) {
	ctx, span := telemetry.StartSpan(ctx, "bpndiscovery.DiscoverBPNs")
	defer span.End()

	if identifierType == "" {
		identifierType = DefaultIdentifierType
	}

	var finder finderResponse
	if err := c.postJSON(ctx, c.finderURL+finderPath, map[string]any{"types": []string{identifierType}}, &finder); err != nil {
		telemetry.Error(span, err, "discovery finder request failed")
		return nil, err
	}

	var addresses []string
	for _, endpoint := range finder.Endpoints {
		if endpoint.Type == identifierType && endpoint.ResourceAddress != "" {
			addresses = append(addresses, endpoint.ResourceAddress)
		}
	}
	if len(addresses) == 0 {
		return nil, types.NewFailure(types.FailureNotFound, "no BPN discovery endpoint registered for type %s", identifierType)
	}

	body := map[string]any{
		"searchFilter": []map[string]any{{"type": identifierType, "keys": keys}},
	}

	seen := map[types.BPN]bool{}
	var bpns []types.BPN
	var lastErr error
	for _, address := range addresses {
		var search searchResponse
		if err := c.postJSON(ctx, strings.TrimSuffix(address, "/")+searchPath, body, &search); err != nil {
			log.Warnf("BPN discovery search at %s failed: %s", address, err)
			lastErr = err
			continue
		}
		for _, entry := range search.BPNs {
			if entry.Value != "" && !seen[entry.Value] {
				seen[entry.Value] = true
				bpns = append(bpns, entry.Value)
			}
		}
	}

	if len(bpns) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, types.NewFailure(types.FailureNotFound, "no BPN found for %s %v", identifierType, keys)
	}
	return bpns, nil
}

func (c *client) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return types.WrapFailure(types.FailureInternal, err, "encoding request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return types.WrapFailure(types.FailureInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return types.WrapFailure(types.FailurePermissionDenied, err, "obtaining discovery token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		f := types.WrapFailure(types.FailureUnavailable, err, "discovery service unreachable: %s", err)
		f.Endpoint = url
		return f
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		f := types.NewFailure(types.FailureExternalAPI, "discovery service responded %d: %s", res.StatusCode, string(snippet))
		f.Endpoint = url
		return f
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		f := types.WrapFailure(types.FailureExternalAPI, err, "decoding discovery response")
		f.Endpoint = url
		return f
	}
	return nil
}
