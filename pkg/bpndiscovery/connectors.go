package bpndiscovery

import (
	"context"
	"net/http"
	"strings"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/dtrcache"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

const connectorDiscoveryPath = "/api/administration/connectors/discovery"

// ConnectorDiscovery resolves a business partner to its registered connector
// endpoints via the portal's connector discovery API. It backs the DTR
// cache's catalog re-discovery.
type ConnectorDiscovery struct {
	portalURL string
	http      *http.Client
	token     TokenSource
}

var _ dtrcache.ConnectorResolver = (*ConnectorDiscovery)(nil)

// ConnectorDiscoveryOption configures the resolver.
type ConnectorDiscoveryOption func(*ConnectorDiscovery)

// WithConnectorHTTPClient overrides the HTTP client.
func WithConnectorHTTPClient(hc *http.Client) ConnectorDiscoveryOption {
	return func(c *ConnectorDiscovery) {
		c.http = hc
	}
}

// WithConnectorTokenSource installs bearer authentication.
func WithConnectorTokenSource(ts TokenSource) ConnectorDiscoveryOption {
	return func(c *ConnectorDiscovery) {
		c.token = ts
	}
}

// NewConnectorDiscovery creates a resolver against the given portal.
func NewConnectorDiscovery(portalURL string, opts ...ConnectorDiscoveryOption) *ConnectorDiscovery {
	c := &ConnectorDiscovery{
		portalURL: strings.TrimSuffix(portalURL, "/"),
		http:      telemetry.GetInstrumentedHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type connectorDiscoveryEntry struct {
	BPN               string   `json:"bpn"`
	ConnectorEndpoint []string `json:"connectorEndpoint"`
}

// ConnectorEndpoints returns the connector URLs registered for the BPN.
func (c *ConnectorDiscovery) ConnectorEndpoints(ctx context.Context, bpn types.BPN) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "bpndiscovery.ConnectorEndpoints")
	defer span.End()

	helper := &client{http: c.http, token: c.token}
	var entries []connectorDiscoveryEntry
	if err := helper.postJSON(ctx, c.portalURL+connectorDiscoveryPath, []string{bpn}, &entries); err != nil {
		telemetry.Error(span, err, "connector discovery failed")
		return nil, err
	}

	var endpoints []string
	for _, entry := range entries {
		if entry.BPN != bpn {
			continue
		}
		for _, endpoint := range entry.ConnectorEndpoint {
			if endpoint != "" {
				endpoints = append(endpoints, endpoint)
			}
		}
	}
	return endpoints, nil
}
