// Package connector implements the consumer-side EDC client: catalog
// requests, contract negotiation, token caching and purging. All dataspace
// traffic of the engine funnels through here.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/singleflight"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/internal/workpool"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/telemetry"
	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

var log = logging.Logger("connector")

const (
	edcNamespace    = "https://w3id.org/edc/v0.0.1/ns/"
	odrlNamespace   = "http://www.w3.org/ns/odrl/2/"
	defaultProtocol = "dataspace-protocol-http"

	defaultNegotiationTimeout = time.Minute
	defaultCatalogTimeout     = 30 * time.Second
	defaultPollInterval       = time.Second

	catalogConcurrency = 10
)

// Client talks to the consumer connector's management API and caches the
// tokens it negotiates.
type Client interface {
	// GetCatalog requests a counterparty's catalog, optionally narrowed by a
	// filter expression.
	GetCatalog(ctx context.Context, counterPartyID types.BPN, counterPartyAddress string, filter []FilterExpression) (Catalog, error)
	// GetCatalogs requests the catalogs of several counterparties in parallel.
	// Individual failures are reported per counterparty, never collectively.
	GetCatalogs(ctx context.Context, counterParties map[types.BPN]string, filter []FilterExpression) map[types.BPN]CatalogResult
	// Negotiate returns a usable EDR for the connection identified by the
	// counterparty, filter and accepted policies, negotiating one if the cache
	// has none. Concurrent calls for the same connection share a single
	// negotiation.
	Negotiate(ctx context.Context, counterPartyID types.BPN, counterPartyAddress string, policies []types.Policy, filter []FilterExpression) (EDR, error)
	// NegotiateByAssetID is Negotiate with a filter addressing a single asset.
	NegotiateByAssetID(ctx context.Context, counterPartyID types.BPN, counterPartyAddress, assetID string, policies []types.Policy) (EDR, error)
	// DeleteConnection evicts one cached connection. It reports whether any
	// state was removed.
	DeleteConnection(ctx context.Context, counterPartyID types.BPN, counterPartyAddress, queryChecksum, policyChecksum string) bool
	// ForcePurge removes every cached token that could serve the given asset,
	// including persisted rows. It reports whether any state was removed.
	ForcePurge(ctx context.Context, counterPartyID types.BPN, assetID, counterPartyAddress string, policies []types.Policy) bool
}

// Option configures the connector client.
type Option func(*client)

// WithHTTPClient overrides the HTTP client used for management API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// WithEDRStore installs persistence for negotiated tokens.
func WithEDRStore(store EDRStore) Option {
	return func(c *client) {
		c.edrs = store
	}
}

// WithNegotiationTimeout bounds how long a single negotiation may take,
// polling included.
func WithNegotiationTimeout(d time.Duration) Option {
	return func(c *client) {
		c.negotiationTimeout = d
	}
}

// WithCatalogTimeout bounds how long a single catalog request may take.
func WithCatalogTimeout(d time.Duration) Option {
	return func(c *client) {
		c.catalogTimeout = d
	}
}

// WithPollInterval sets the EDR polling cadence. Tests shorten it.
func WithPollInterval(d time.Duration) Option {
	return func(c *client) {
		c.pollInterval = d
	}
}

type client struct {
	managementURL string
	apiKey        string
	apiKeyHeader  string
	protocol      string

	http               *http.Client
	edrs               EDRStore
	negotiationTimeout time.Duration
	catalogTimeout     time.Duration
	pollInterval       time.Duration

	mu          sync.RWMutex
	connections map[ConnectionKey]EDR
	group       singleflight.Group
}

var _ Client = (*client)(nil)

// New creates a connector client against the given management API.
func New(managementURL, apiKey string, opts ...Option) Client {
	c := &client{
		managementURL:      managementURL,
		apiKey:             apiKey,
		apiKeyHeader:       "X-Api-Key",
		protocol:           defaultProtocol,
		http:               telemetry.GetInstrumentedHTTPClient(),
		negotiationTimeout: defaultNegotiationTimeout,
		catalogTimeout:     defaultCatalogTimeout,
		pollInterval:       defaultPollInterval,
		connections:        map[ConnectionKey]EDR{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) GetCatalog(ctx context.Context, counterPartyID types.BPN, counterPartyAddress string, filter []FilterExpression) (Catalog, error) {
	ctx, span := telemetry.StartSpan(ctx, "connector.GetCatalog")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.catalogTimeout)
	defer cancel()

	body := map[string]any{
		"@context":            map[string]any{"@vocab": edcNamespace},
		"@type":               "CatalogRequest",
		"counterPartyAddress": counterPartyAddress,
		"counterPartyId":      counterPartyID,
		"protocol":            c.protocol,
	}
	if len(filter) > 0 {
		body["querySpec"] = map[string]any{"filterExpression": filter}
	}

	var catalog Catalog
	if err := c.postJSON(ctx, c.managementURL+"/v3/catalog/request", body, &catalog); err != nil {
		telemetry.Error(span, err, "catalog request failed")
		return nil, err
	}
	return catalog, nil
}

type catalogJob struct {
	bpn     types.BPN
	address string
}

func (c *client) GetCatalogs(ctx context.Context, counterParties map[types.BPN]string, filter []FilterExpression) map[types.BPN]CatalogResult {
	jobs := make([]catalogJob, 0, len(counterParties))
	for bpn, address := range counterParties {
		jobs = append(jobs, catalogJob{bpn: bpn, address: address})
	}

	results := workpool.Map(ctx, catalogConcurrency, jobs, func(ctx context.Context, job catalogJob) (Catalog, error) {
		return c.GetCatalog(ctx, job.bpn, job.address, filter)
	})

	out := make(map[types.BPN]CatalogResult, len(results))
	for _, r := range results {
		out[r.Job.bpn] = CatalogResult{Catalog: r.Out, Err: r.Err}
	}
	return out
}

// Negotiate returns a cached token when one exists, otherwise runs the full
// negotiation. The singleflight group guarantees that concurrent callers of
// the same connection trigger at most one negotiation.
func (c *client) Negotiate(ctx context.Context, counterPartyID types.BPN, counterPartyAddress string, policies []types.Policy, filter []FilterExpression) (EDR, error) {
	key := ConnectionKey{
		CounterPartyID:      counterPartyID,
		CounterPartyAddress: counterPartyAddress,
		QueryChecksum:       QueryChecksum(filter),
		PolicyChecksum:      PolicyChecksum(policies),
	}

	if edr, ok := c.cached(key); ok {
		return edr, nil
	}

	flightKey := key.CounterPartyID + "|" + key.CounterPartyAddress + "|" + key.QueryChecksum + "|" + key.PolicyChecksum
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		if edr, ok := c.cached(key); ok {
			return edr, nil
		}
		if c.edrs != nil {
			if edr, err := c.edrs.Get(ctx, key); err == nil && !edr.Expired(time.Now()) {
				c.remember(key, edr)
				return edr, nil
			}
		}
		edr, err := c.negotiate(ctx, counterPartyID, counterPartyAddress, policies, filter)
		if err != nil {
			return EDR{}, err
		}
		c.remember(key, edr)
		if c.edrs != nil {
			if err := c.edrs.Put(ctx, key, edr); err != nil {
				log.Warnf("persisting EDR for %s failed: %s", counterPartyID, err)
			}
		}
		return edr, nil
	})
	if err != nil {
		return EDR{}, err
	}
	return v.(EDR), nil
}

func (c *client) NegotiateByAssetID(ctx context.Context, counterPartyID types.BPN, counterPartyAddress, assetID string, policies []types.Policy) (EDR, error) {
	return c.Negotiate(ctx, counterPartyID, counterPartyAddress, policies, AssetFilter(assetID))
}

func (c *client) DeleteConnection(ctx context.Context, counterPartyID types.BPN, counterPartyAddress, queryChecksum, policyChecksum string) bool {
	key := ConnectionKey{
		CounterPartyID:      counterPartyID,
		CounterPartyAddress: counterPartyAddress,
		QueryChecksum:       queryChecksum,
		PolicyChecksum:      policyChecksum,
	}

	c.mu.Lock()
	_, existed := c.connections[key]
	delete(c.connections, key)
	c.mu.Unlock()

	if c.edrs != nil {
		if err := c.edrs.Delete(ctx, key); err != nil {
			log.Warnf("deleting persisted EDR for %s failed: %s", counterPartyID, err)
		}
	}
	return existed
}

// ForcePurge evicts by checksum first, then sweeps the token map for entries
// negotiated for the asset under a different filter, then drops persisted
// rows. Deliberately thorough: a poisoned token must not survive anywhere.
func (c *client) ForcePurge(ctx context.Context, counterPartyID types.BPN, assetID, counterPartyAddress string, policies []types.Policy) bool {
	purged := c.DeleteConnection(ctx, counterPartyID, counterPartyAddress,
		QueryChecksum(AssetFilter(assetID)), PolicyChecksum(policies))

	c.mu.Lock()
	for key, edr := range c.connections {
		if key.CounterPartyID == counterPartyID && edr.AssetID == assetID {
			delete(c.connections, key)
			purged = true
		}
	}
	c.mu.Unlock()

	if c.edrs != nil {
		n, err := c.edrs.DeleteByAssetID(ctx, counterPartyID, assetID)
		if err != nil {
			log.Warnf("purging persisted EDRs for %s/%s failed: %s", counterPartyID, assetID, err)
		} else if n > 0 {
			purged = true
		}
	}

	log.Debugf("force purge for %s asset %s: purged=%t", counterPartyID, assetID, purged)
	return purged
}

func (c *client) cached(key ConnectionKey) (EDR, bool) {
	c.mu.RLock()
	edr, ok := c.connections[key]
	c.mu.RUnlock()
	if !ok || edr.Expired(time.Now()) {
		return EDR{}, false
	}
	return edr, true
}

func (c *client) remember(key ConnectionKey, edr EDR) {
	c.mu.Lock()
	c.connections[key] = edr
	c.mu.Unlock()
}

// negotiate runs one full negotiation: catalog request, offer selection,
// contract request, then polling the management API for the data address.
func (c *client) negotiate(ctx context.Context, counterPartyID types.BPN, counterPartyAddress string, policies []types.Policy, filter []FilterExpression) (EDR, error) {
	ctx, span := telemetry.StartSpan(ctx, "connector.Negotiate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.negotiationTimeout)
	defer cancel()

	catalog, err := c.GetCatalog(ctx, counterPartyID, counterPartyAddress, filter)
	if err != nil {
		return EDR{}, err
	}

	assetID, offer, err := selectOffer(catalog, policies)
	if err != nil {
		telemetry.Error(span, err, "no acceptable offer")
		return EDR{}, err
	}

	negotiationID, err := c.startNegotiation(ctx, counterPartyID, counterPartyAddress, assetID, offer)
	if err != nil {
		telemetry.Error(span, err, "contract request failed")
		return EDR{}, err
	}

	edr, err := c.awaitEDR(ctx, negotiationID)
	if err != nil {
		telemetry.Error(span, err, "awaiting EDR failed")
		return EDR{}, err
	}
	edr.AssetID = assetID

	log.Infof("negotiated access to asset %s of %s", assetID, counterPartyID)
	return edr, nil
}

// selectOffer picks the first dataset whose cleaned policy matches one of the
// accepted policies. An empty accepted list takes the first offer as-is.
func selectOffer(catalog Catalog, policies []types.Policy) (string, map[string]any, error) {
	datasets := Datasets(catalog)
	if len(datasets) == 0 {
		return "", nil, types.NewFailure(types.FailureNotFound, "no dataset found in catalog")
	}

	accepted := make(map[string]bool, len(policies))
	for _, p := range policies {
		accepted[checksum(p)] = true
	}

	for _, dataset := range datasets {
		assetID := DatasetID(dataset)
		if assetID == "" {
			continue
		}
		for _, offer := range rawPolicies(dataset) {
			if len(accepted) == 0 {
				return assetID, offer, nil
			}
			clean := make(map[string]any, len(offer))
			for k, v := range offer {
				if k == jsonLDIDKey || k == jsonLDTypeKey {
					continue
				}
				clean[k] = v
			}
			if accepted[checksum(clean)] {
				return assetID, offer, nil
			}
		}
	}
	return "", nil, types.NewFailure(types.FailurePermissionDenied, "No valid asset and policy allowed")
}

func (c *client) startNegotiation(ctx context.Context, counterPartyID types.BPN, counterPartyAddress, assetID string, offer map[string]any) (string, error) {
	policy := make(map[string]any, len(offer)+2)
	for k, v := range offer {
		policy[k] = v
	}
	policy["assigner"] = counterPartyID
	policy["target"] = assetID

	body := map[string]any{
		"@context": map[string]any{
			"@vocab": edcNamespace,
			"odrl":   odrlNamespace,
		},
		"@type":               "ContractRequest",
		"counterPartyAddress": counterPartyAddress,
		"protocol":            c.protocol,
		"policy":              policy,
	}

	var resp map[string]any
	if err := c.postJSON(ctx, c.managementURL+"/v3/edrs", body, &resp); err != nil {
		return "", err
	}
	negotiationID := stringProp(resp, "@id", "id")
	if negotiationID == "" {
		return "", types.NewFailure(types.FailureExternalAPI, "contract request returned no negotiation id")
	}
	return negotiationID, nil
}

// awaitEDR polls the management API until the negotiation produced a
// transfer process, then resolves its data address.
func (c *client) awaitEDR(ctx context.Context, negotiationID string) (EDR, error) {
	query := map[string]any{
		"@context": map[string]any{"@vocab": edcNamespace},
		"@type":    "QuerySpec",
		"filterExpression": []FilterExpression{
			{OperandLeft: "contractNegotiationId", Operator: "=", OperandRight: negotiationID},
		},
	}

	var transferProcessID string
	operation := func() error {
		var entries []map[string]any
		if err := c.postJSON(ctx, c.managementURL+"/v3/edrs/request", query, &entries); err != nil {
			return backoff.Permanent(err)
		}
		if len(entries) == 0 {
			return errors.New("EDR not yet available")
		}
		transferProcessID = stringProp(entries[0], "transferProcessId", "@id")
		if transferProcessID == "" {
			return backoff.Permanent(types.NewFailure(types.FailureExternalAPI, "EDR entry has no transfer process id"))
		}
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || err.Error() == "EDR not yet available" {
			return EDR{}, types.WrapFailure(types.FailureTimeout, err, "negotiation %s timed out waiting for EDR", negotiationID)
		}
		return EDR{}, err
	}

	var address map[string]any
	if err := c.getJSON(ctx, c.managementURL+"/v3/edrs/"+transferProcessID+"/dataaddress", &address); err != nil {
		return EDR{}, err
	}

	edr := EDR{
		DataplaneURL: stringProp(address, "endpoint", edcNamespace+"endpoint"),
		AccessToken:  stringProp(address, "authorization", edcNamespace+"authorization"),
	}
	if edr.DataplaneURL == "" || edr.AccessToken == "" {
		return EDR{}, types.NewFailure(types.FailureExternalAPI, "data address for negotiation %s is incomplete", negotiationID)
	}
	if expiresIn := numberProp(address, "tx-auth:expiresIn", "expiresIn"); expiresIn > 0 {
		edr.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return edr, nil
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
	return c.do(req, out)
}

func (c *client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.WrapFailure(types.FailureInternal, err, "building request")
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	res, err := c.http.Do(req)
	if err != nil {
		f := types.WrapFailure(types.FailureUnavailable, err, "management API unreachable: %s", err)
		f.Endpoint = req.URL.String()
		return f
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		f := types.NewFailure(types.FailureExternalAPI, "management API responded %d: %s", res.StatusCode, string(snippet))
		f.Endpoint = req.URL.String()
		return f
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		f := types.WrapFailure(types.FailureExternalAPI, err, "decoding management API response")
		f.Endpoint = req.URL.String()
		return f
	}
	return nil
}

func stringProp(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberProp(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v
		case string:
			var n float64
			if _, err := fmt.Sscanf(v, "%f", &n); err == nil {
				return n
			}
		}
	}
	return 0
}
